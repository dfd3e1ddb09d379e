package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/openblood/bloodlink-api/api"
	"github.com/openblood/bloodlink-api/config"
	"github.com/openblood/bloodlink-api/databases"
	"github.com/openblood/bloodlink-api/models"
)

// Donor exported for testing purposes
type Donor struct {
	DB      databases.DonorDatabase
	TokenDB databases.PushTokenDatabase
}

// CreateDonorHandler creates a donor
func (d Donor) CreateDonorHandler(w http.ResponseWriter, r *http.Request) {
	var donor models.Donor
	if err := json.NewDecoder(r.Body).Decode(&donor.Details); err != nil {
		config.ErrorStatus("failed to decode request body", http.StatusBadRequest, w, err)
		return
	}
	if !models.ValidBloodType(donor.Details.BloodGroup) {
		config.ErrorStatus("invalid blood group", http.StatusBadRequest, w, nil)
		return
	}

	now := time.Now()
	donor.ID = primitive.NewObjectID().Hex()
	donor.Details.CreatedAt = primitive.NewDateTimeFromTime(now)
	donor.Details.UpdatedAt = donor.Details.CreatedAt
	// Cache the evaluator's verdict so the geo query can filter on it. The
	// matcher re-runs the evaluator before notifying.
	donor.Details.Eligibility.IsEligible = models.EvaluateEligibility(donor.Details, now).Eligible

	// Use request context with timeout for proper trace tracking and timeout handling
	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	_, err := d.DB.InsertOne(ctx, bson.M{
		"_id":   donor.ID,
		"donor": donor.Details,
		"__v":   0,
	})
	if err != nil {
		config.ErrorStatus("failed to create donor", http.StatusInternalServerError, w, err)
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"message": "Donor created successfully",
		"id":      donor.ID,
	})
}

// DonorByIDHandler returns a donor by ID
func (d Donor) DonorByIDHandler(w http.ResponseWriter, r *http.Request) {
	donorID := mux.Vars(r)["donor_id"]

	zap.S().Debugf("donor_id: %v", donorID)

	// Use request context with timeout for proper trace tracking and timeout handling
	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	dbResp, err := d.DB.FindOne(ctx, bson.M{"_id": donorID})
	if err != nil {
		config.ErrorStatus("failed to get donor by ID", http.StatusNotFound, w, err)
		return
	}

	b, err := json.Marshal(dbResp)
	if err != nil {
		config.ErrorStatus("failed to marshal response", http.StatusInternalServerError, w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write(b)
}

// UpdateDonorHandler updates a donor's details
func (d Donor) UpdateDonorHandler(w http.ResponseWriter, r *http.Request) {
	donorID := mux.Vars(r)["donor_id"]

	var updatedFields map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&updatedFields); err != nil {
		config.ErrorStatus("failed to decode request body", http.StatusBadRequest, w, err)
		return
	}
	if bg, ok := updatedFields["bloodGroup"].(string); ok && !models.ValidBloodType(bg) {
		config.ErrorStatus("invalid blood group", http.StatusBadRequest, w, nil)
		return
	}

	update := bson.M{}
	for key, value := range updatedFields {
		update["donor."+key] = value
	}
	update["donor.updatedAt"] = primitive.NewDateTimeFromTime(time.Now())

	// Use request context with timeout for proper trace tracking and timeout handling
	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	res, err := d.DB.UpdateOne(ctx, bson.M{"_id": donorID}, bson.M{"$set": update})
	if err != nil {
		config.ErrorStatus("failed to update donor", http.StatusInternalServerError, w, err)
		return
	}
	if res.MatchedCount == 0 {
		config.ErrorStatus("failed to get donor by ID", http.StatusNotFound, w, nil)
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"message": "Donor updated successfully",
	})
}

// DonorEligibilityHandler evaluates and returns a donor's current fitness to
// donate, refreshing the cached flag when it drifted.
func (d Donor) DonorEligibilityHandler(w http.ResponseWriter, r *http.Request) {
	donorID := mux.Vars(r)["donor_id"]

	// Use request context with timeout for proper trace tracking and timeout handling
	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	donor, err := d.DB.FindOne(ctx, bson.M{"_id": donorID})
	if err != nil {
		config.ErrorStatus("failed to get donor by ID", http.StatusNotFound, w, err)
		return
	}

	result := models.EvaluateEligibility(donor.Details, time.Now())
	if result.Eligible != donor.Details.Eligibility.IsEligible {
		_, err = d.DB.UpdateOne(ctx, bson.M{"_id": donorID}, bson.M{
			"$set": bson.M{"donor.eligibility.isEligible": result.Eligible},
		})
		if err != nil {
			zap.S().Warnw("failed to refresh cached eligibility flag", "donorId", donorID, "error", err)
		}
	}

	b, err := json.Marshal(result)
	if err != nil {
		config.ErrorStatus("failed to marshal response", http.StatusInternalServerError, w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write(b)
}

// RegisterPushTokenHandler registers an Expo push token for a donor's device.
// Re-registering the same token refreshes it rather than duplicating it.
func (d Donor) RegisterPushTokenHandler(w http.ResponseWriter, r *http.Request) {
	donorID := mux.Vars(r)["donor_id"]

	var req struct {
		Token    string `json:"token"`
		Platform string `json:"platform"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		config.ErrorStatus("failed to decode request body", http.StatusBadRequest, w, err)
		return
	}
	if req.Token == "" {
		config.ErrorStatus("token is required", http.StatusBadRequest, w, nil)
		return
	}

	// Use request context with timeout for proper trace tracking and timeout handling
	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	if _, err := d.DB.FindOne(ctx, bson.M{"_id": donorID}); err != nil {
		config.ErrorStatus("failed to get donor by ID", http.StatusNotFound, w, err)
		return
	}

	now := primitive.NewDateTimeFromTime(time.Now())
	upsert := true
	_, err := d.TokenDB.UpdateOne(ctx, bson.M{"donorId": donorID, "token": req.Token}, bson.M{
		"$set": bson.M{
			"donorId":   donorID,
			"token":     req.Token,
			"platform":  req.Platform,
			"updatedAt": now,
		},
		"$setOnInsert": bson.M{"createdAt": now},
	}, &options.UpdateOptions{Upsert: &upsert})
	if err != nil {
		config.ErrorStatus("failed to register push token", http.StatusInternalServerError, w, err)
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"message": "Push token registered successfully",
	})
}
