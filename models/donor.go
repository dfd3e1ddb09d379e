package models

import (
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Donation rule constants mandated by the medical guidelines the service
// enforces at matching time.
const (
	MinDonorAge                = 18
	MaxDonorAge                = 65
	MinDonorWeightKg           = 45.0
	MinDonationIntervalDays    = 56
	VerificationStatusVerified = "verified"
)

// Donor holds the structure for the donor collection in mongo
type Donor struct {
	ID      string       `json:"_id" bson:"_id"`
	Details DonorDetails `json:"donor" bson:"donor"`
	Version int32        `json:"__v" bson:"__v"`
}

// DonorDetails holds the structure for the inner donor structure as
// defined in the donor collection in mongo
type DonorDetails struct {
	Name               string              `json:"name" bson:"name"`
	Email              string              `json:"email" bson:"email"`
	Phone              string              `json:"phone" bson:"phone"`
	BloodGroup         string              `json:"bloodGroup" bson:"bloodGroup"`
	DateOfBirth        primitive.DateTime  `json:"dateOfBirth" bson:"dateOfBirth"`
	Weight             float64             `json:"weight" bson:"weight"`
	Location           GeoPoint            `json:"location" bson:"location"`
	Eligibility        DonorEligibility    `json:"eligibility" bson:"eligibility"`
	Medical            DonorMedical        `json:"medical" bson:"medical"`
	Preferences        DonorPreferences    `json:"preferences" bson:"preferences"`
	VerificationStatus string              `json:"verificationStatus" bson:"verificationStatus"`
	Active             bool                `json:"active" bson:"active"`
	CreatedAt          primitive.DateTime  `json:"createdAt" bson:"createdAt"`
	UpdatedAt          primitive.DateTime  `json:"updatedAt" bson:"updatedAt"`
}

// GeoPoint is a GeoJSON point stored with a 2dsphere index. Coordinates are
// [longitude, latitude].
type GeoPoint struct {
	Type        string    `json:"type" bson:"type"`
	Coordinates []float64 `json:"coordinates" bson:"coordinates"`
}

// DonorEligibility tracks the temporal side of a donor's fitness to donate.
// The isEligible flag is a cached projection for cheap querying; the
// evaluator below is the source of truth and is re-run at matching time.
type DonorEligibility struct {
	IsEligible        bool                `json:"isEligible" bson:"isEligible"`
	LastDonationDate  *primitive.DateTime `json:"lastDonationDate" bson:"lastDonationDate"`
	NextEligibleDate  *primitive.DateTime `json:"nextEligibleDate" bson:"nextEligibleDate"`
	TemporaryDeferral *TemporaryDeferral  `json:"temporaryDeferral" bson:"temporaryDeferral"`
}

// TemporaryDeferral marks a donor as unavailable until a given date
type TemporaryDeferral struct {
	Reason string              `json:"reason" bson:"reason"`
	Until  *primitive.DateTime `json:"until" bson:"until"`
}

// DonorMedical holds the medical flags checked during eligibility evaluation
type DonorMedical struct {
	HasInfectiousDisease bool     `json:"hasInfectiousDisease" bson:"hasInfectiousDisease"`
	Conditions           []string `json:"conditions" bson:"conditions"`
	Medications          []string `json:"medications" bson:"medications"`
}

// DonorPreferences holds the donor's notification and travel preferences
type DonorPreferences struct {
	NotificationMethods NotificationMethods `json:"notificationMethods" bson:"notificationMethods"`
	MaxTravelDistance   float64             `json:"maxTravelDistance" bson:"maxTravelDistance"`
	EmergencyOnly       bool                `json:"emergencyOnly" bson:"emergencyOnly"`
}

// NotificationMethods flags which channels a donor has enabled
type NotificationMethods struct {
	Email bool `json:"email" bson:"email"`
	SMS   bool `json:"sms" bson:"sms"`
	Push  bool `json:"push" bson:"push"`
}

// EligibilityResult is the outcome of evaluating a donor's fitness to donate
type EligibilityResult struct {
	Eligible bool   `json:"eligible"`
	Reason   string `json:"reason"`
}

// EvaluateEligibility derives a donor's current fitness to donate from their
// medical and temporal state. Rules are checked in order and the first
// failure wins. The function has no side effects and is deterministic for a
// given donor and now.
func EvaluateEligibility(d DonorDetails, now time.Time) EligibilityResult {
	age := ageInYears(d.DateOfBirth.Time(), now)
	if age < MinDonorAge || age > MaxDonorAge {
		return EligibilityResult{Eligible: false, Reason: fmt.Sprintf("age %d is outside the %d-%d range", age, MinDonorAge, MaxDonorAge)}
	}

	if d.Weight < MinDonorWeightKg {
		return EligibilityResult{Eligible: false, Reason: fmt.Sprintf("weight must be at least %.0f kg", MinDonorWeightKg)}
	}

	if d.Eligibility.LastDonationDate != nil {
		daysSince := int(now.Sub(d.Eligibility.LastDonationDate.Time()).Hours() / 24)
		if daysSince < MinDonationIntervalDays {
			return EligibilityResult{Eligible: false, Reason: fmt.Sprintf("eligible to donate again in %d days", MinDonationIntervalDays-daysSince)}
		}
	}

	if deferral := d.Eligibility.TemporaryDeferral; deferral != nil && deferral.Until != nil && deferral.Until.Time().After(now) {
		reason := deferral.Reason
		if reason == "" {
			reason = "temporarily deferred"
		}
		return EligibilityResult{Eligible: false, Reason: reason}
	}

	if d.Medical.HasInfectiousDisease {
		return EligibilityResult{Eligible: false, Reason: "medical history prevents donation"}
	}

	return EligibilityResult{Eligible: true, Reason: "eligible"}
}

// ageInYears returns whole calendar years between dob and now, accounting
// for whether the birthday anniversary has passed this year.
func ageInYears(dob, now time.Time) int {
	years := now.Year() - dob.Year()
	if dob.AddDate(years, 0, 0).After(now) {
		years--
	}
	return years
}
