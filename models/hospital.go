package models

import (
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Partnership types and statuses. Only active blood_sharing and
// emergency_backup partnerships allow alert sharing.
const (
	PartnershipBloodSharing    = "blood_sharing"
	PartnershipEmergencyBackup = "emergency_backup"
	PartnershipReferral        = "referral"

	PartnershipStatusActive  = "active"
	PartnershipStatusPending = "pending"
	PartnershipStatusEnded   = "ended"
)

// Hospital holds the structure for the hospital collection in mongo
type Hospital struct {
	ID      string          `json:"_id" bson:"_id"`
	Details HospitalDetails `json:"hospital" bson:"hospital"`
	Version int32           `json:"__v" bson:"__v"`
}

// HospitalDetails holds the structure for the inner hospital structure as
// defined in the hospital collection in mongo
type HospitalDetails struct {
	Name          string                    `json:"name" bson:"name"`
	Email         string                    `json:"email" bson:"email"`
	Phone         string                    `json:"phone" bson:"phone"`
	Password      string                    `json:"password,omitempty" bson:"password"`
	Location      GeoPoint                  `json:"location" bson:"location"`
	Address       string                    `json:"address" bson:"address"`
	Inventory     map[string]InventoryEntry `json:"inventory" bson:"inventory"`
	Partnerships  []Partnership             `json:"partnerships" bson:"partnerships"`
	AlertSettings AlertSettings             `json:"alertSettings" bson:"alertSettings"`
	Verified      bool                      `json:"verified" bson:"verified"`
	CreatedAt     primitive.DateTime        `json:"createdAt" bson:"createdAt"`
	UpdatedAt     primitive.DateTime        `json:"updatedAt" bson:"updatedAt"`
}

// InventoryEntry tracks stock for one blood type
type InventoryEntry struct {
	Available   int                `json:"available" bson:"available"`
	Reserved    int                `json:"reserved" bson:"reserved"`
	Critical    int                `json:"critical" bson:"critical"`
	LastUpdated primitive.DateTime `json:"lastUpdated" bson:"lastUpdated"`
}

// Partnership records one inter-hospital relationship. Creation is
// symmetric: both hospitals carry a matching record.
type Partnership struct {
	HospitalID string             `json:"hospitalId" bson:"hospitalId"`
	Type       string             `json:"type" bson:"type"`
	Status     string             `json:"status" bson:"status"`
	CreatedAt  primitive.DateTime `json:"createdAt" bson:"createdAt"`
}

// AlertSettings controls inventory-triggered alert creation
type AlertSettings struct {
	AutoAlertEnabled          bool `json:"autoAlertEnabled" bson:"autoAlertEnabled"`
	CriticalShortageThreshold int  `json:"criticalShortageThreshold" bson:"criticalShortageThreshold"`
}

// HasActivePartnership reports whether this hospital has an active
// partnership with the given hospital that permits alert sharing.
func (h HospitalDetails) HasActivePartnership(hospitalID string) bool {
	for _, p := range h.Partnerships {
		if p.HospitalID != hospitalID || p.Status != PartnershipStatusActive {
			continue
		}
		if p.Type == PartnershipBloodSharing || p.Type == PartnershipEmergencyBackup {
			return true
		}
	}
	return false
}

// CriticalThreshold returns the shortage threshold for a blood type,
// preferring the per-type critical level over the hospital-wide setting.
func (h HospitalDetails) CriticalThreshold(bloodType string) int {
	if entry, ok := h.Inventory[bloodType]; ok && entry.Critical > 0 {
		return entry.Critical
	}
	return h.AlertSettings.CriticalShortageThreshold
}
