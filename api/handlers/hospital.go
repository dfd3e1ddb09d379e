package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/openblood/bloodlink-api/api"
	"github.com/openblood/bloodlink-api/config"
	"github.com/openblood/bloodlink-api/databases"
	"github.com/openblood/bloodlink-api/models"
)

// Hospital exported for testing purposes
type Hospital struct {
	DB     databases.HospitalDatabase
	Alerts Alert
}

// CreateHospitalHandler creates a hospital account
func (h Hospital) CreateHospitalHandler(w http.ResponseWriter, r *http.Request) {
	var hospital models.Hospital
	if err := json.NewDecoder(r.Body).Decode(&hospital.Details); err != nil {
		config.ErrorStatus("failed to decode request body", http.StatusBadRequest, w, err)
		return
	}
	if hospital.Details.Email == "" || hospital.Details.Password == "" {
		config.ErrorStatus("email and password are required", http.StatusBadRequest, w, nil)
		return
	}

	// Use request context with timeout for proper trace tracking and timeout handling
	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	count, err := h.DB.CountDocuments(ctx, bson.M{"hospital.email": hospital.Details.Email})
	if err != nil {
		config.ErrorStatus("failed to check for existing hospital", http.StatusInternalServerError, w, err)
		return
	}
	if count > 0 {
		config.ErrorStatus("hospital with this email already exists", http.StatusConflict, w, nil)
		return
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(hospital.Details.Password), bcrypt.DefaultCost)
	if err != nil {
		config.ErrorStatus("failed to hash password", http.StatusInternalServerError, w, err)
		return
	}
	hospital.Details.Password = string(hashed)

	now := primitive.NewDateTimeFromTime(time.Now())
	hospital.ID = primitive.NewObjectID().Hex()
	hospital.Details.CreatedAt = now
	hospital.Details.UpdatedAt = now
	if hospital.Details.Inventory == nil {
		hospital.Details.Inventory = map[string]models.InventoryEntry{}
	}
	if hospital.Details.Partnerships == nil {
		hospital.Details.Partnerships = []models.Partnership{}
	}

	_, err = h.DB.InsertOne(ctx, bson.M{
		"_id":      hospital.ID,
		"hospital": hospital.Details,
		"__v":      0,
	})
	if err != nil {
		config.ErrorStatus("failed to create hospital", http.StatusInternalServerError, w, err)
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"message": "Hospital created successfully",
		"id":      hospital.ID,
	})
}

// HospitalByIDHandler returns a hospital by ID. The password hash is never
// serialized.
func (h Hospital) HospitalByIDHandler(w http.ResponseWriter, r *http.Request) {
	hospitalID := mux.Vars(r)["hospital_id"]

	zap.S().Debugf("hospital_id: %v", hospitalID)

	// Use request context with timeout for proper trace tracking and timeout handling
	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	dbResp, err := h.DB.FindOne(ctx, bson.M{"_id": hospitalID})
	if err != nil {
		config.ErrorStatus("failed to get hospital by ID", http.StatusNotFound, w, err)
		return
	}
	dbResp.Details.Password = ""

	b, err := json.Marshal(dbResp)
	if err != nil {
		config.ErrorStatus("failed to marshal response", http.StatusInternalServerError, w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write(b)
}

// UpdateHospitalHandler updates a hospital's details. The password and
// partnership fields have their own paths and are rejected here.
func (h Hospital) UpdateHospitalHandler(w http.ResponseWriter, r *http.Request) {
	hospitalID := mux.Vars(r)["hospital_id"]

	var updatedFields map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&updatedFields); err != nil {
		config.ErrorStatus("failed to decode request body", http.StatusBadRequest, w, err)
		return
	}
	delete(updatedFields, "password")
	delete(updatedFields, "partnerships")

	update := bson.M{}
	for key, value := range updatedFields {
		update["hospital."+key] = value
	}
	update["hospital.updatedAt"] = primitive.NewDateTimeFromTime(time.Now())

	// Use request context with timeout for proper trace tracking and timeout handling
	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	res, err := h.DB.UpdateOne(ctx, bson.M{"_id": hospitalID}, bson.M{"$set": update})
	if err != nil {
		config.ErrorStatus("failed to update hospital", http.StatusInternalServerError, w, err)
		return
	}
	if res.MatchedCount == 0 {
		config.ErrorStatus("failed to get hospital by ID", http.StatusNotFound, w, nil)
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"message": "Hospital updated successfully",
	})
}

// HospitalInventoryHandler returns a hospital's blood inventory
func (h Hospital) HospitalInventoryHandler(w http.ResponseWriter, r *http.Request) {
	hospitalID := mux.Vars(r)["hospital_id"]

	// Use request context with timeout for proper trace tracking and timeout handling
	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	dbResp, err := h.DB.FindOne(ctx, bson.M{"_id": hospitalID})
	if err != nil {
		config.ErrorStatus("failed to get hospital by ID", http.StatusNotFound, w, err)
		return
	}
	inventory := dbResp.Details.Inventory
	if inventory == nil {
		inventory = map[string]models.InventoryEntry{}
	}

	b, err := json.Marshal(inventory)
	if err != nil {
		config.ErrorStatus("failed to marshal response", http.StatusInternalServerError, w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write(b)
}

// UpdateInventoryHandler updates the stock counts for one blood type. An
// update that drops available units below the critical threshold raises an
// automatic shortage alert on the spot, with the same uniqueness guard the
// periodic check uses.
func (h Hospital) UpdateInventoryHandler(w http.ResponseWriter, r *http.Request) {
	hospitalID := mux.Vars(r)["hospital_id"]
	bloodType := mux.Vars(r)["blood_type"]

	if !models.ValidBloodType(bloodType) {
		config.ErrorStatus("invalid blood type", http.StatusBadRequest, w, fmt.Errorf("%q is not a valid blood type", bloodType))
		return
	}

	var req struct {
		Available int  `json:"available"`
		Reserved  int  `json:"reserved"`
		Critical  *int `json:"critical"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		config.ErrorStatus("failed to decode request body", http.StatusBadRequest, w, err)
		return
	}
	if req.Available < 0 || req.Reserved < 0 {
		config.ErrorStatus("inventory counts must not be negative", http.StatusBadRequest, w, nil)
		return
	}

	// Use request context with timeout for proper trace tracking and timeout handling
	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	hospital, err := h.DB.FindOne(ctx, bson.M{"_id": hospitalID})
	if err != nil {
		config.ErrorStatus("failed to get hospital by ID", http.StatusNotFound, w, err)
		return
	}

	entry := hospital.Details.Inventory[bloodType]
	entry.Available = req.Available
	entry.Reserved = req.Reserved
	if req.Critical != nil {
		entry.Critical = *req.Critical
	}
	entry.LastUpdated = primitive.NewDateTimeFromTime(time.Now())

	_, err = h.DB.UpdateOne(ctx, bson.M{"_id": hospitalID}, bson.M{
		"$set": bson.M{
			"hospital.inventory." + bloodType: entry,
			"hospital.updatedAt":              entry.LastUpdated,
		},
	})
	if err != nil {
		config.ErrorStatus("failed to update inventory", http.StatusInternalServerError, w, err)
		return
	}

	alertRaised := false
	if hospital.Details.AlertSettings.AutoAlertEnabled {
		if hospital.Details.Inventory == nil {
			hospital.Details.Inventory = map[string]models.InventoryEntry{}
		}
		hospital.Details.Inventory[bloodType] = entry
		threshold := hospital.Details.CriticalThreshold(bloodType)
		if threshold > 0 && entry.Available < threshold {
			alertRaised = h.triggerAutoAlert(ctx, hospital, bloodType, entry.Available, threshold)
		}
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"message":     "Inventory updated successfully",
		"alertRaised": alertRaised,
	})
}

// triggerAutoAlert raises a shortage alert for the hospital and blood type
// unless an open one already exists
func (h Hospital) triggerAutoAlert(ctx context.Context, hospital *models.Hospital, bloodType string, available, threshold int) bool {
	count, err := h.Alerts.DB.CountDocuments(ctx, bson.M{
		"alert.hospitalId": hospital.ID,
		"alert.bloodType":  bloodType,
		"alert.status":     bson.M{"$in": []string{models.AlertStatusActive, models.AlertStatusPartiallyFulfilled}},
	})
	if err != nil {
		zap.S().Errorw("failed to check for existing alert", "error", err, "hospitalId", hospital.ID, "bloodType", bloodType)
		return false
	}
	if count > 0 {
		return false
	}

	alert := models.Alert{
		ID: primitive.NewObjectID().Hex(),
		Details: models.NewAlertDetails(models.AlertDetails{
			HospitalID:   hospital.ID,
			BloodType:    bloodType,
			UrgencyLevel: models.UrgencyHigh,
			UnitsNeeded:  threshold - available,
			Reason:       fmt.Sprintf("Automatic alert: %s inventory (%d units) below critical threshold (%d)", bloodType, available, threshold),
			Location:     hospital.Details.Location,
			SearchRadius: DefaultSearchRadiusKm,
			CreatedBy:    "system",
		}, time.Now()),
	}

	_, err = h.Alerts.DB.InsertOne(ctx, bson.M{
		"_id":   alert.ID,
		"alert": alert.Details,
		"__v":   0,
	})
	if err != nil {
		zap.S().Errorw("failed to create auto alert", "error", err, "hospitalId", hospital.ID, "bloodType", bloodType)
		return false
	}

	_, notified := h.Alerts.matchAndNotify(ctx, &alert)
	h.Alerts.Hub.BroadcastAlertEvent("alert_created", map[string]interface{}{
		"alertId":    alert.ID,
		"hospitalId": alert.Details.HospitalID,
		"bloodType":  alert.Details.BloodType,
		"urgency":    alert.Details.UrgencyLevel,
	})

	zap.S().Infow("Raised automatic shortage alert from inventory update",
		"alertId", alert.ID,
		"hospitalId", hospital.ID,
		"bloodType", bloodType,
		"donorsNotified", notified,
	)
	return true
}

// CreatePartnershipHandler records a partnership between two hospitals.
// Creation is symmetric: both hospitals carry a matching record.
func (h Hospital) CreatePartnershipHandler(w http.ResponseWriter, r *http.Request) {
	hospitalID := mux.Vars(r)["hospital_id"]

	var req struct {
		PartnerID string `json:"partnerId"`
		Type      string `json:"type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		config.ErrorStatus("failed to decode request body", http.StatusBadRequest, w, err)
		return
	}
	switch req.Type {
	case models.PartnershipBloodSharing, models.PartnershipEmergencyBackup, models.PartnershipReferral:
	default:
		config.ErrorStatus("invalid partnership type", http.StatusBadRequest, w, fmt.Errorf("%q is not a valid partnership type", req.Type))
		return
	}
	if req.PartnerID == hospitalID {
		config.ErrorStatus("cannot partner with self", http.StatusBadRequest, w, nil)
		return
	}

	// Use request context with timeout for proper trace tracking and timeout handling
	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	hospital, err := h.DB.FindOne(ctx, bson.M{"_id": hospitalID})
	if err != nil {
		config.ErrorStatus("failed to get hospital by ID", http.StatusNotFound, w, err)
		return
	}
	if _, err := h.DB.FindOne(ctx, bson.M{"_id": req.PartnerID}); err != nil {
		config.ErrorStatus("failed to get partner hospital by ID", http.StatusNotFound, w, err)
		return
	}

	for _, p := range hospital.Details.Partnerships {
		if p.HospitalID == req.PartnerID && p.Status != models.PartnershipStatusEnded {
			config.ErrorStatus("partnership already exists", http.StatusConflict, w, nil)
			return
		}
	}

	now := primitive.NewDateTimeFromTime(time.Now())
	// Guard against a concurrent symmetric request creating the same pair
	res, err := h.DB.UpdateOne(ctx,
		bson.M{
			"_id": hospitalID,
			"hospital.partnerships": bson.M{
				"$not": bson.M{"$elemMatch": bson.M{
					"hospitalId": req.PartnerID,
					"status":     bson.M{"$ne": models.PartnershipStatusEnded},
				}},
			},
		},
		bson.M{
			"$push": bson.M{"hospital.partnerships": models.Partnership{
				HospitalID: req.PartnerID,
				Type:       req.Type,
				Status:     models.PartnershipStatusActive,
				CreatedAt:  now,
			}},
			"$set": bson.M{"hospital.updatedAt": now},
		},
	)
	if err != nil {
		config.ErrorStatus("failed to create partnership", http.StatusInternalServerError, w, err)
		return
	}
	if res.ModifiedCount == 0 {
		config.ErrorStatus("partnership already exists", http.StatusConflict, w, nil)
		return
	}

	_, err = h.DB.UpdateOne(ctx,
		bson.M{
			"_id": req.PartnerID,
			"hospital.partnerships": bson.M{
				"$not": bson.M{"$elemMatch": bson.M{
					"hospitalId": hospitalID,
					"status":     bson.M{"$ne": models.PartnershipStatusEnded},
				}},
			},
		},
		bson.M{
			"$push": bson.M{"hospital.partnerships": models.Partnership{
				HospitalID: hospitalID,
				Type:       req.Type,
				Status:     models.PartnershipStatusActive,
				CreatedAt:  now,
			}},
			"$set": bson.M{"hospital.updatedAt": now},
		},
	)
	if err != nil {
		config.ErrorStatus("failed to create reciprocal partnership", http.StatusInternalServerError, w, err)
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"message": "Partnership created successfully",
	})
}
