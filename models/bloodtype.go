package models

// The eight ABO/Rh blood types used across the alert and donor collections.
const (
	BloodAPos  = "A+"
	BloodANeg  = "A-"
	BloodBPos  = "B+"
	BloodBNeg  = "B-"
	BloodABPos = "AB+"
	BloodABNeg = "AB-"
	BloodOPos  = "O+"
	BloodONeg  = "O-"
)

// BloodTypes lists every valid blood type, used for request validation
// and inventory iteration.
var BloodTypes = []string{
	BloodAPos, BloodANeg,
	BloodBPos, BloodBNeg,
	BloodABPos, BloodABNeg,
	BloodOPos, BloodONeg,
}

// donorsForRecipient maps a recipient (alert) blood type to the donor types
// whose blood can be transfused to them. Standard transfusion chart: O- is
// the universal donor, AB+ the universal recipient.
var donorsForRecipient = map[string][]string{
	BloodONeg:  {BloodONeg},
	BloodOPos:  {BloodONeg, BloodOPos},
	BloodANeg:  {BloodONeg, BloodANeg},
	BloodAPos:  {BloodONeg, BloodOPos, BloodANeg, BloodAPos},
	BloodBNeg:  {BloodONeg, BloodBNeg},
	BloodBPos:  {BloodONeg, BloodOPos, BloodBNeg, BloodBPos},
	BloodABNeg: {BloodONeg, BloodANeg, BloodBNeg, BloodABNeg},
	BloodABPos: {BloodONeg, BloodOPos, BloodANeg, BloodAPos, BloodBNeg, BloodBPos, BloodABNeg, BloodABPos},
}

// recipientsForDonor is the inverse of donorsForRecipient, built once at
// package init so the two directions can never drift apart.
var recipientsForDonor = func() map[string][]string {
	inv := make(map[string][]string, len(BloodTypes))
	for _, recipient := range BloodTypes {
		for _, donor := range donorsForRecipient[recipient] {
			inv[donor] = append(inv[donor], recipient)
		}
	}
	return inv
}()

// ValidBloodType reports whether bloodType is one of the eight ABO/Rh types.
func ValidBloodType(bloodType string) bool {
	_, ok := donorsForRecipient[bloodType]
	return ok
}

// CompatibleDonorTypes returns the donor blood types that may donate to a
// patient needing the given type. Unknown types return an empty slice.
func CompatibleDonorTypes(bloodType string) []string {
	types := donorsForRecipient[bloodType]
	out := make([]string, len(types))
	copy(out, types)
	return out
}

// CompatibleAlertTypesForDonor returns the alert blood types a donor with the
// given type can help fulfill. Unknown types return an empty slice.
func CompatibleAlertTypesForDonor(bloodType string) []string {
	types := recipientsForDonor[bloodType]
	out := make([]string, len(types))
	copy(out, types)
	return out
}
