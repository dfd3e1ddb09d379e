package models_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/openblood/bloodlink-api/models"
)

func TestCompatibleDonorTypes_FullTable(t *testing.T) {
	expected := map[string][]string{
		models.BloodAPos:  {"A+", "A-", "O+", "O-"},
		models.BloodANeg:  {"A-", "O-"},
		models.BloodBPos:  {"B+", "B-", "O+", "O-"},
		models.BloodBNeg:  {"B-", "O-"},
		models.BloodABPos: {"A+", "A-", "B+", "B-", "AB+", "AB-", "O+", "O-"},
		models.BloodABNeg: {"A-", "B-", "AB-", "O-"},
		models.BloodOPos:  {"O+", "O-"},
		models.BloodONeg:  {"O-"},
	}
	for recipient, donors := range expected {
		assert.ElementsMatch(t, donors, models.CompatibleDonorTypes(recipient), "recipient %s", recipient)
	}
}

func TestCompatibleAlertTypesForDonor_IsInverseOfDonorTable(t *testing.T) {
	for _, donor := range models.BloodTypes {
		for _, recipient := range models.BloodTypes {
			donorCanGive := contains(models.CompatibleAlertTypesForDonor(donor), recipient)
			recipientAccepts := contains(models.CompatibleDonorTypes(recipient), donor)
			assert.Equal(t, recipientAccepts, donorCanGive,
				"donor %s -> recipient %s disagrees between the two tables", donor, recipient)
		}
	}
}

func TestCompatibility_UniversalDonorAndRecipient(t *testing.T) {
	// O- donates to everyone, AB+ receives from everyone
	assert.Len(t, models.CompatibleAlertTypesForDonor(models.BloodONeg), 8)
	assert.Len(t, models.CompatibleDonorTypes(models.BloodABPos), 8)

	// O- only receives from itself
	assert.Equal(t, []string{models.BloodONeg}, models.CompatibleDonorTypes(models.BloodONeg))
	// AB+ only donates to itself
	assert.Equal(t, []string{models.BloodABPos}, models.CompatibleAlertTypesForDonor(models.BloodABPos))
}

func TestCompatibility_UnknownTypeIsEmpty(t *testing.T) {
	assert.Empty(t, models.CompatibleDonorTypes("C+"))
	assert.Empty(t, models.CompatibleAlertTypesForDonor(""))
	assert.False(t, models.ValidBloodType("AB"))
	assert.True(t, models.ValidBloodType("AB-"))
}

func TestCompatibility_ReturnsCopies(t *testing.T) {
	first := models.CompatibleDonorTypes(models.BloodAPos)
	first[0] = "mutated"
	second := models.CompatibleDonorTypes(models.BloodAPos)
	assert.NotContains(t, second, "mutated")
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
