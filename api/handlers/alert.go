package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"github.com/openblood/bloodlink-api/api"
	"github.com/openblood/bloodlink-api/config"
	"github.com/openblood/bloodlink-api/databases"
	"github.com/openblood/bloodlink-api/matching"
	"github.com/openblood/bloodlink-api/models"
	"github.com/openblood/bloodlink-api/notifications"
)

var (
	// Page denotes the starting Page for pagination results
	Page = 0
)

// DefaultSearchRadiusKm is applied when a create request omits the radius
const DefaultSearchRadiusKm = 50.0

// casAttempts bounds the optimistic-concurrency retry loop for alert updates
const casAttempts = 3

// Alert exported for testing purposes
type Alert struct {
	DB         databases.AlertDatabase
	HDB        databases.HospitalDatabase
	DDB        databases.DonorDatabase
	Matcher    *matching.Service
	Dispatcher *notifications.Dispatcher
	Hub        *AlertHub
}

// CreateAlertHandler creates a shortage alert, matches eligible donors and
// dispatches notifications before returning. Zero matched donors is a valid
// outcome, not an error.
func (a Alert) CreateAlertHandler(w http.ResponseWriter, r *http.Request) {
	var req models.AlertDetails
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		config.ErrorStatus("failed to decode request body", http.StatusBadRequest, w, err)
		return
	}
	if req.SearchRadius == 0 {
		req.SearchRadius = DefaultSearchRadiusKm
	}
	if problems := req.ValidateNew(); len(problems) > 0 {
		b, _ := json.Marshal(map[string]interface{}{"errors": problems})
		w.WriteHeader(http.StatusBadRequest)
		w.Write(b)
		return
	}

	// Use request context with timeout for proper trace tracking and timeout handling
	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	hospital, err := a.HDB.FindOne(ctx, bson.M{"_id": req.HospitalID})
	if err != nil {
		config.ErrorStatus("failed to get hospital by ID", http.StatusNotFound, w, err)
		return
	}
	if len(req.Location.Coordinates) == 0 {
		req.Location = hospital.Details.Location
	}

	alert := models.Alert{
		ID:      primitive.NewObjectID().Hex(),
		Details: models.NewAlertDetails(req, time.Now()),
	}

	_, err = a.DB.InsertOne(ctx, bson.M{
		"_id":   alert.ID,
		"alert": alert.Details,
		"__v":   0,
	})
	if err != nil {
		config.ErrorStatus("failed to create alert", http.StatusInternalServerError, w, err)
		return
	}

	summary, notified := a.matchAndNotify(ctx, &alert)

	a.Hub.BroadcastAlertEvent("alert_created", map[string]interface{}{
		"alertId":    alert.ID,
		"hospitalId": alert.Details.HospitalID,
		"bloodType":  alert.Details.BloodType,
		"urgency":    alert.Details.UrgencyLevel,
	})

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"alert":          alert,
		"donorsNotified": notified,
		"dispatch":       summary,
	})
}

// matchAndNotify resolves the eligible donors for a fresh alert, fans out
// notifications and persists the delivery records. The sent counter tracks
// notified donors, not individual channel messages.
func (a Alert) matchAndNotify(ctx context.Context, alert *models.Alert) (notifications.DispatchSummary, int) {
	donors, err := a.Matcher.FindEligibleDonors(ctx, alert)
	if err != nil {
		zap.S().Errorw("failed to match donors for alert", "alertId", alert.ID, "error", err)
		return notifications.DispatchSummary{}, 0
	}
	if len(donors) == 0 {
		return notifications.DispatchSummary{}, 0
	}

	summary, records := a.Dispatcher.Dispatch(ctx, alert, donors)
	alert.Details.Notifications.Records = append(alert.Details.Notifications.Records, records...)
	alert.Details.Notifications.Sent += len(donors)
	alert.Version++

	// Every alert write bumps __v so a concurrent version-guarded update
	// cannot match a stale version and overwrite these records.
	_, err = a.DB.UpdateOne(ctx, bson.M{"_id": alert.ID}, bson.M{
		"$push": bson.M{"alert.notifications.records": bson.M{"$each": records}},
		"$inc":  bson.M{"alert.notifications.sent": len(donors), "__v": 1},
		"$set":  bson.M{"alert.updatedAt": primitive.NewDateTimeFromTime(time.Now())},
	})
	if err != nil {
		zap.S().Errorw("failed to persist notification records", "alertId", alert.ID, "error", err)
	}
	return summary, len(donors)
}

// AlertsHandler returns alerts filtered by hospitalId, status, bloodType
// and urgency, paginated
func (a Alert) AlertsHandler(w http.ResponseWriter, r *http.Request) {
	Limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil {
		zap.S().Warnf(fmt.Sprintf("limit not set, using default of %v, err: %v", Limit|10, err))
		Limit = 10
	}
	Page = getPage(Page, r)

	now := time.Now()
	filter := bson.M{}
	if hospitalID := r.URL.Query().Get("hospitalId"); hospitalID != "" {
		filter["alert.hospitalId"] = hospitalID
	}
	if bloodType := r.URL.Query().Get("bloodType"); bloodType != "" {
		filter["alert.bloodType"] = bloodType
	}
	if urgency := r.URL.Query().Get("urgency"); urgency != "" {
		filter["alert.urgencyLevel"] = urgency
	}
	if status := r.URL.Query().Get("status"); status != "" {
		// Expiry is derived from time, so filtering on the stored status
		// alone would leak alerts the sweep has not visited yet.
		switch status {
		case models.AlertStatusActive, models.AlertStatusPartiallyFulfilled:
			filter["alert.status"] = status
			filter["alert.expiresAt"] = bson.M{"$gt": primitive.NewDateTimeFromTime(now)}
		case models.AlertStatusExpired:
			filter["$or"] = []bson.M{
				{"alert.status": models.AlertStatusExpired},
				{
					"alert.status":    bson.M{"$in": []string{models.AlertStatusActive, models.AlertStatusPartiallyFulfilled}},
					"alert.expiresAt": bson.M{"$lte": primitive.NewDateTimeFromTime(now)},
				},
			}
		default:
			filter["alert.status"] = status
		}
	}

	// Use request context with timeout for proper trace tracking and timeout handling
	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	dbResp, err := a.DB.FindPage(ctx, filter, Limit, Page)
	if err != nil {
		config.ErrorStatus("failed to get alerts", http.StatusNotFound, w, err)
		return
	}
	if len(dbResp) == 0 {
		dbResp = []models.Alert{}
	}
	for i := range dbResp {
		dbResp[i].Details.Status = dbResp[i].Details.EffectiveStatus(now)
	}
	b, err := json.Marshal(dbResp)
	if err != nil {
		config.ErrorStatus("failed to marshal response", http.StatusInternalServerError, w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write(b)
}

// AlertByIDHandler returns an alert by ID. The returned status is the
// effective one, so an alert past its expiry boundary reads as expired even
// before the sweep persists it.
func (a Alert) AlertByIDHandler(w http.ResponseWriter, r *http.Request) {
	alertID := mux.Vars(r)["alert_id"]

	zap.S().Debugf("alert_id: %v", alertID)

	// Use request context with timeout for proper trace tracking and timeout handling
	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	dbResp, err := a.DB.FindOne(ctx, bson.M{"_id": alertID})
	if err != nil {
		config.ErrorStatus("failed to get alert by ID", http.StatusNotFound, w, err)
		return
	}
	dbResp.Details.Status = dbResp.Details.EffectiveStatus(time.Now())

	b, err := json.Marshal(dbResp)
	if err != nil {
		config.ErrorStatus("failed to marshal response", http.StatusInternalServerError, w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write(b)
}

// UpdateAlertStatusHandler applies a validated state-machine transition
func (a Alert) UpdateAlertStatusHandler(w http.ResponseWriter, r *http.Request) {
	alertID := mux.Vars(r)["alert_id"]

	var req struct {
		Status string `json:"status"`
		Reason string `json:"reason"`
		By     string `json:"by"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		config.ErrorStatus("failed to decode request body", http.StatusBadRequest, w, err)
		return
	}

	// Use request context with timeout for proper trace tracking and timeout handling
	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	now := time.Now()
	updated, err := a.updateAlertDoc(ctx, alertID, func(d *models.AlertDetails) error {
		d.Status = d.EffectiveStatus(now)
		if !d.ValidTransition(req.Status) {
			return models.ErrInvalidTransition
		}
		d.Status = req.Status
		d.LastModifiedBy = req.By
		if req.Reason != "" {
			d.InternalNotes = append(d.InternalNotes, models.InternalNote{
				Note: req.Reason,
				By:   req.By,
				At:   primitive.NewDateTimeFromTime(now),
			})
		}
		d.UpdatedAt = primitive.NewDateTimeFromTime(now)
		return nil
	})
	if err != nil {
		alertErrorStatus("failed to update alert status", w, err)
		return
	}

	a.Hub.BroadcastAlertEvent("alert_updated", map[string]interface{}{
		"alertId": updated.ID,
		"status":  updated.Details.Status,
	})

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(updated)
}

// ExtendAlertHandler pushes an alert's expiry boundary forward by the
// requested number of hours
func (a Alert) ExtendAlertHandler(w http.ResponseWriter, r *http.Request) {
	alertID := mux.Vars(r)["alert_id"]

	var req struct {
		Hours int    `json:"hours"`
		By    string `json:"by"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		config.ErrorStatus("failed to decode request body", http.StatusBadRequest, w, err)
		return
	}

	// Use request context with timeout for proper trace tracking and timeout handling
	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	now := time.Now()
	updated, err := a.updateAlertDoc(ctx, alertID, func(d *models.AlertDetails) error {
		if err := d.ExtendExpiry(req.Hours, now); err != nil {
			return err
		}
		d.LastModifiedBy = req.By
		return nil
	})
	if err != nil {
		alertErrorStatus("failed to extend alert", w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(updated)
}

// AlertMetricsHandler returns the derived metrics for an alert
func (a Alert) AlertMetricsHandler(w http.ResponseWriter, r *http.Request) {
	alertID := mux.Vars(r)["alert_id"]

	// Use request context with timeout for proper trace tracking and timeout handling
	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	dbResp, err := a.DB.FindOne(ctx, bson.M{"_id": alertID})
	if err != nil {
		config.ErrorStatus("failed to get alert by ID", http.StatusNotFound, w, err)
		return
	}

	b, err := json.Marshal(dbResp.Details.Metrics(time.Now()))
	if err != nil {
		config.ErrorStatus("failed to marshal response", http.StatusInternalServerError, w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write(b)
}

// RespondToAlertHandler records a donor's response to an alert. At most one
// response per donor; a duplicate or a closed alert is a conflict.
func (a Alert) RespondToAlertHandler(w http.ResponseWriter, r *http.Request) {
	alertID := mux.Vars(r)["alert_id"]

	var resp models.DonorResponse
	if err := json.NewDecoder(r.Body).Decode(&resp); err != nil {
		config.ErrorStatus("failed to decode request body", http.StatusBadRequest, w, err)
		return
	}
	if resp.DonorID == "" {
		config.ErrorStatus("donorId is required", http.StatusBadRequest, w, nil)
		return
	}
	if !models.ValidResponseType(resp.ResponseType) {
		config.ErrorStatus("invalid response type", http.StatusBadRequest, w, fmt.Errorf("%q is not a valid response type", resp.ResponseType))
		return
	}

	// Use request context with timeout for proper trace tracking and timeout handling
	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	now := time.Now()
	updated, err := a.updateAlertDoc(ctx, alertID, func(d *models.AlertDetails) error {
		return d.AddResponse(resp, now)
	})
	if err != nil {
		alertErrorStatus("failed to record donor response", w, err)
		return
	}

	a.Hub.SendAlertEventToHospital(updated.Details.HospitalID, "donor_response", map[string]interface{}{
		"alertId":      updated.ID,
		"donorId":      resp.DonorID,
		"responseType": resp.ResponseType,
		"status":       updated.Details.Status,
	})
	if updated.Details.Status == models.AlertStatusFulfilled {
		a.Hub.BroadcastAlertEvent("alert_updated", map[string]interface{}{
			"alertId": updated.ID,
			"status":  updated.Details.Status,
		})
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(updated)
}

// ShareAlertHandler propagates an alert to partner hospitals. Each target is
// evaluated independently and reported with its own outcome.
func (a Alert) ShareAlertHandler(w http.ResponseWriter, r *http.Request) {
	alertID := mux.Vars(r)["alert_id"]

	var req struct {
		HospitalIDs []string `json:"hospitalIds"`
		Message     string   `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		config.ErrorStatus("failed to decode request body", http.StatusBadRequest, w, err)
		return
	}
	if len(req.HospitalIDs) == 0 {
		config.ErrorStatus("hospitalIds is required", http.StatusBadRequest, w, nil)
		return
	}

	// Use request context with timeout for proper trace tracking and timeout handling
	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	alert, err := a.DB.FindOne(ctx, bson.M{"_id": alertID})
	if err != nil {
		config.ErrorStatus("failed to get alert by ID", http.StatusNotFound, w, err)
		return
	}
	owner, err := a.HDB.FindOne(ctx, bson.M{"_id": alert.Details.HospitalID})
	if err != nil {
		config.ErrorStatus("failed to get hospital by ID", http.StatusNotFound, w, err)
		return
	}

	type shareResult struct {
		HospitalID string `json:"hospitalId"`
		Shared     bool   `json:"shared"`
		Reason     string `json:"reason,omitempty"`
	}

	now := time.Now()
	results := make([]shareResult, 0, len(req.HospitalIDs))
	for _, targetID := range req.HospitalIDs {
		target, err := a.HDB.FindOne(ctx, bson.M{"_id": targetID})
		if err != nil {
			results = append(results, shareResult{HospitalID: targetID, Shared: false, Reason: "Hospital not found"})
			continue
		}
		if !owner.Details.HasActivePartnership(targetID) {
			results = append(results, shareResult{HospitalID: targetID, Shared: false, Reason: models.ErrNotPartner.Error()})
			continue
		}

		_, err = a.updateAlertDoc(ctx, alertID, func(d *models.AlertDetails) error {
			return d.ShareWith(targetID, now)
		})
		if err != nil {
			results = append(results, shareResult{HospitalID: targetID, Shared: false, Reason: err.Error()})
			continue
		}
		results = append(results, shareResult{HospitalID: targetID, Shared: true})

		a.Hub.SendAlertEventToHospital(targetID, "alert_shared", map[string]interface{}{
			"alertId":    alert.ID,
			"hospitalId": alert.Details.HospitalID,
			"bloodType":  alert.Details.BloodType,
			"urgency":    alert.Details.UrgencyLevel,
			"message":    req.Message,
		})
		a.sendShareEmail(ctx, alert, owner, target, req.Message)
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{"results": results})
}

// sendShareEmail notifies a partner hospital of a shared alert by email.
// Delivery failures are logged, never surfaced to the sharing hospital.
func (a Alert) sendShareEmail(ctx context.Context, alert *models.Alert, owner, target *models.Hospital, message string) {
	if a.Dispatcher == nil || a.Dispatcher.Email == nil || target.Details.Email == "" {
		return
	}
	subject := fmt.Sprintf("Shared alert: %s blood needed at %s", alert.Details.BloodType, owner.Details.Name)
	body := fmt.Sprintf("%s has shared a shortage alert with you: %d unit(s) of %s blood (%s urgency).",
		owner.Details.Name, alert.Details.UnitsNeeded, alert.Details.BloodType, alert.Details.UrgencyLevel)
	if message != "" {
		body += "\n\n" + message
	}
	if err := a.Dispatcher.Email.Send(ctx, target.Details.Email, target.Details.Name, subject, "", body); err != nil {
		zap.S().Warnw("failed to send share email", "alertId", alert.ID, "hospitalId", target.ID, "error", err)
	}
}

// ShareResponseHandler records a partner hospital's answer to a shared alert
func (a Alert) ShareResponseHandler(w http.ResponseWriter, r *http.Request) {
	alertID := mux.Vars(r)["alert_id"]

	var req struct {
		HospitalID    string `json:"hospitalId"`
		Response      string `json:"response"`
		UnitsPromised int    `json:"unitsPromised"`
		Notes         string `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		config.ErrorStatus("failed to decode request body", http.StatusBadRequest, w, err)
		return
	}
	if req.HospitalID == "" {
		config.ErrorStatus("hospitalId is required", http.StatusBadRequest, w, nil)
		return
	}

	// Use request context with timeout for proper trace tracking and timeout handling
	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	now := time.Now()
	updated, err := a.updateAlertDoc(ctx, alertID, func(d *models.AlertDetails) error {
		return d.RespondToShare(req.HospitalID, req.Response, req.UnitsPromised, req.Notes, now)
	})
	if err != nil {
		alertErrorStatus("failed to record share response", w, err)
		return
	}

	a.Hub.SendAlertEventToHospital(updated.Details.HospitalID, "alert_shared", map[string]interface{}{
		"alertId":    updated.ID,
		"hospitalId": req.HospitalID,
		"response":   req.Response,
	})

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(updated)
}

// NotificationOpenedHandler marks a donor's notification record as opened
func (a Alert) NotificationOpenedHandler(w http.ResponseWriter, r *http.Request) {
	alertID := mux.Vars(r)["alert_id"]
	donorID := mux.Vars(r)["donor_id"]

	// Use request context with timeout for proper trace tracking and timeout handling
	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	now := time.Now()
	_, err := a.updateAlertDoc(ctx, alertID, func(d *models.AlertDetails) error {
		if !d.MarkNotificationOpened(donorID, now) {
			return errNoNotificationRecord
		}
		return nil
	})
	if err != nil {
		alertErrorStatus("failed to mark notification opened", w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"message": "Notification marked as opened",
	})
}

// AlertsForDonorHandler returns the open alerts a donor's blood type can
// help with
func (a Alert) AlertsForDonorHandler(w http.ResponseWriter, r *http.Request) {
	donorID := mux.Vars(r)["donor_id"]

	// Use request context with timeout for proper trace tracking and timeout handling
	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	donor, err := a.DDB.FindOne(ctx, bson.M{"_id": donorID})
	if err != nil {
		config.ErrorStatus("failed to get donor by ID", http.StatusNotFound, w, err)
		return
	}

	now := time.Now()
	alertTypes := models.CompatibleAlertTypesForDonor(donor.Details.BloodGroup)
	dbResp := []models.Alert{}
	if len(alertTypes) > 0 {
		dbResp, err = a.DB.Find(ctx, bson.M{
			"alert.bloodType": bson.M{"$in": alertTypes},
			"alert.status":    bson.M{"$in": []string{models.AlertStatusActive, models.AlertStatusPartiallyFulfilled}},
			"alert.expiresAt": bson.M{"$gt": primitive.NewDateTimeFromTime(now)},
		})
		if err != nil {
			config.ErrorStatus("failed to get alerts for donor", http.StatusNotFound, w, err)
			return
		}
	}
	if len(dbResp) == 0 {
		dbResp = []models.Alert{}
	}

	b, err := json.Marshal(dbResp)
	if err != nil {
		config.ErrorStatus("failed to marshal response", http.StatusInternalServerError, w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write(b)
}

// updateAlertDoc applies mutate to a fresh copy of the alert document and
// writes it back guarded by the document version, retrying on concurrent
// writes. The check inside mutate and the version guard together make
// check-and-append operations (one response per donor, one share per
// hospital) atomic.
func (a Alert) updateAlertDoc(ctx context.Context, alertID string, mutate func(*models.AlertDetails) error) (*models.Alert, error) {
	var lastErr error
	for attempt := 0; attempt < casAttempts; attempt++ {
		alert, err := a.DB.FindOne(ctx, bson.M{"_id": alertID})
		if err != nil {
			return nil, err
		}

		details := alert.Details
		if err := mutate(&details); err != nil {
			return nil, err
		}

		res, err := a.DB.UpdateOne(ctx,
			bson.M{"_id": alertID, "__v": alert.Version},
			bson.M{
				"$set": bson.M{"alert": details},
				"$inc": bson.M{"__v": 1},
			},
		)
		if err != nil {
			return nil, err
		}
		if res.ModifiedCount == 1 {
			alert.Details = details
			alert.Version++
			return alert, nil
		}
		lastErr = fmt.Errorf("alert %s modified concurrently", alertID)
	}
	return nil, lastErr
}

var errNoNotificationRecord = fmt.Errorf("no notification record exists for this donor")

// alertErrorStatus maps the alert state-machine errors onto HTTP statuses
func alertErrorStatus(message string, w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch err {
	case models.ErrDuplicateResponse, models.ErrAlertClosed, models.ErrInvalidTransition,
		models.ErrDuplicateShare, models.ErrNotPartner, models.ErrShareNotFound,
		models.ErrShareAlreadyAnswered:
		code = http.StatusConflict
	case models.ErrExtendOutOfRange:
		code = http.StatusBadRequest
	case mongo.ErrNoDocuments, errNoNotificationRecord:
		code = http.StatusNotFound
	}
	config.ErrorStatus(message, code, w, err)
}

func getPage(Page int, r *http.Request) int {
	if r.URL.Query().Get("page") == "" {
		zap.S().Warnf("page not set, using default of %v", Page)
	} else {
		var err error
		Page, err = strconv.Atoi(r.URL.Query().Get("page"))
		if err != nil {
			zap.S().Errorf(fmt.Sprintf("error parsing page number: %v", err))
		}
		if Page < 0 {
			zap.S().Warnf(fmt.Sprintf("cannot process page number less than 1. Got: %v", Page))
			return 0
		}
	}
	return Page
}
