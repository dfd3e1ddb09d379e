package handlers_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/openblood/bloodlink-api/api/handlers"
	"github.com/openblood/bloodlink-api/models"
)

func TestCreateHospitalHandler_RequiresEmailAndPassword(t *testing.T) {
	h := handlers.Hospital{DB: &fakeHospitalDB{hospitals: map[string]*models.Hospital{}}}

	body, _ := json.Marshal(map[string]string{"name": "General"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/hospital", bytes.NewReader(body))
	rr := httptest.NewRecorder()

	http.HandlerFunc(h.CreateHospitalHandler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestCreateHospitalHandler_DuplicateEmailIsConflict(t *testing.T) {
	h := handlers.Hospital{DB: &fakeHospitalDB{hospitals: map[string]*models.Hospital{}, count: 1}}

	body, _ := json.Marshal(map[string]string{
		"name":     "General",
		"email":    "intake@general.org",
		"password": "hunter22",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/hospital", bytes.NewReader(body))
	rr := httptest.NewRecorder()

	http.HandlerFunc(h.CreateHospitalHandler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestCreateHospitalHandler_HashesPassword(t *testing.T) {
	db := &fakeHospitalDB{hospitals: map[string]*models.Hospital{}}
	h := handlers.Hospital{DB: db}

	body, _ := json.Marshal(map[string]string{
		"name":     "General",
		"email":    "intake@general.org",
		"password": "hunter22",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/hospital", bytes.NewReader(body))
	rr := httptest.NewRecorder()

	http.HandlerFunc(h.CreateHospitalHandler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusCreated, rr.Code)
	assert.Len(t, db.inserted, 1)
	doc := db.inserted[0].(bson.M)
	details := doc["hospital"].(models.HospitalDetails)
	assert.NotEqual(t, "hunter22", details.Password)
	assert.NotEmpty(t, details.Password)
	assert.NotNil(t, details.Inventory)
	assert.NotNil(t, details.Partnerships)
}

func TestHospitalByIDHandler_NeverReturnsPasswordHash(t *testing.T) {
	db := &fakeHospitalDB{hospitals: map[string]*models.Hospital{
		"h1": {ID: "h1", Details: models.HospitalDetails{Name: "General", Email: "intake@general.org", Password: "$2a$10$secret"}},
	}}
	h := handlers.Hospital{DB: db}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/hospital/h1", nil)
	req = mux.SetURLVars(req, map[string]string{"hospital_id": "h1"})
	rr := httptest.NewRecorder()

	http.HandlerFunc(h.HospitalByIDHandler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.NotContains(t, rr.Body.String(), "$2a$10$secret")
}

func TestUpdateInventoryHandler_InvalidBloodType(t *testing.T) {
	h := handlers.Hospital{DB: &fakeHospitalDB{hospitals: map[string]*models.Hospital{}}}

	body, _ := json.Marshal(map[string]int{"available": 5})
	req := httptest.NewRequest(http.MethodPut, "/api/v1/hospital/h1/inventory/C+", bytes.NewReader(body))
	req = mux.SetURLVars(req, map[string]string{"hospital_id": "h1", "blood_type": "C+"})
	rr := httptest.NewRecorder()

	http.HandlerFunc(h.UpdateInventoryHandler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestUpdateInventoryHandler_BelowThresholdRaisesAlert(t *testing.T) {
	hdb := &fakeHospitalDB{hospitals: map[string]*models.Hospital{
		"h1": {ID: "h1", Details: models.HospitalDetails{
			Name:     "General",
			Location: models.GeoPoint{Type: "Point", Coordinates: []float64{-73.98, 40.74}},
			Inventory: map[string]models.InventoryEntry{
				"O-": {Available: 10, Critical: 5},
			},
			AlertSettings: models.AlertSettings{AutoAlertEnabled: true},
		}},
	}}
	alertDB := &fakeAlertDB{}
	h := handlers.Hospital{DB: hdb, Alerts: alertHandler(alertDB, hdb, nil)}

	body, _ := json.Marshal(map[string]int{"available": 2})
	req := httptest.NewRequest(http.MethodPut, "/api/v1/hospital/h1/inventory/O-", bytes.NewReader(body))
	req = mux.SetURLVars(req, map[string]string{"hospital_id": "h1", "blood_type": "O-"})
	rr := httptest.NewRecorder()

	http.HandlerFunc(h.UpdateInventoryHandler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	var resp struct {
		AlertRaised bool `json:"alertRaised"`
	}
	_ = json.Unmarshal(rr.Body.Bytes(), &resp)
	assert.True(t, resp.AlertRaised)
	assert.Len(t, alertDB.inserted, 1)

	doc := alertDB.inserted[0].(bson.M)
	details := doc["alert"].(models.AlertDetails)
	assert.Equal(t, "O-", details.BloodType)
	assert.Equal(t, 3, details.UnitsNeeded)
	assert.Equal(t, models.UrgencyHigh, details.UrgencyLevel)
	assert.Equal(t, "system", details.CreatedBy)
}

func TestUpdateInventoryHandler_OpenAlertSuppressesDuplicate(t *testing.T) {
	hdb := &fakeHospitalDB{hospitals: map[string]*models.Hospital{
		"h1": {ID: "h1", Details: models.HospitalDetails{
			Inventory: map[string]models.InventoryEntry{
				"O-": {Available: 10, Critical: 5},
			},
			AlertSettings: models.AlertSettings{AutoAlertEnabled: true},
		}},
	}}
	alertDB := &fakeAlertDB{count: 1}
	h := handlers.Hospital{DB: hdb, Alerts: alertHandler(alertDB, hdb, nil)}

	body, _ := json.Marshal(map[string]int{"available": 2})
	req := httptest.NewRequest(http.MethodPut, "/api/v1/hospital/h1/inventory/O-", bytes.NewReader(body))
	req = mux.SetURLVars(req, map[string]string{"hospital_id": "h1", "blood_type": "O-"})
	rr := httptest.NewRecorder()

	http.HandlerFunc(h.UpdateInventoryHandler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	var resp struct {
		AlertRaised bool `json:"alertRaised"`
	}
	_ = json.Unmarshal(rr.Body.Bytes(), &resp)
	assert.False(t, resp.AlertRaised)
	assert.Empty(t, alertDB.inserted)
}

func TestCreatePartnershipHandler_Symmetric(t *testing.T) {
	hdb := &fakeHospitalDB{hospitals: map[string]*models.Hospital{
		"h1": {ID: "h1", Details: models.HospitalDetails{Name: "General"}},
		"h2": {ID: "h2", Details: models.HospitalDetails{Name: "Regional"}},
	}}
	h := handlers.Hospital{DB: hdb}

	body, _ := json.Marshal(map[string]string{"partnerId": "h2", "type": "blood_sharing"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/hospital/h1/partnerships", bytes.NewReader(body))
	req = mux.SetURLVars(req, map[string]string{"hospital_id": "h1"})
	rr := httptest.NewRecorder()

	http.HandlerFunc(h.CreatePartnershipHandler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusCreated, rr.Code)
	// One guarded push per side
	assert.Len(t, hdb.updates, 2)
}

func TestCreatePartnershipHandler_SelfAndExisting(t *testing.T) {
	hdb := &fakeHospitalDB{hospitals: map[string]*models.Hospital{
		"h1": {ID: "h1", Details: models.HospitalDetails{
			Partnerships: []models.Partnership{
				{HospitalID: "h2", Type: models.PartnershipBloodSharing, Status: models.PartnershipStatusActive},
			},
		}},
		"h2": {ID: "h2"},
	}}
	h := handlers.Hospital{DB: hdb}

	body, _ := json.Marshal(map[string]string{"partnerId": "h1", "type": "blood_sharing"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/hospital/h1/partnerships", bytes.NewReader(body))
	req = mux.SetURLVars(req, map[string]string{"hospital_id": "h1"})
	rr := httptest.NewRecorder()
	http.HandlerFunc(h.CreatePartnershipHandler).ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	body, _ = json.Marshal(map[string]string{"partnerId": "h2", "type": "blood_sharing"})
	req = httptest.NewRequest(http.MethodPost, "/api/v1/hospital/h1/partnerships", bytes.NewReader(body))
	req = mux.SetURLVars(req, map[string]string{"hospital_id": "h1"})
	rr = httptest.NewRecorder()
	http.HandlerFunc(h.CreatePartnershipHandler).ServeHTTP(rr, req)
	assert.Equal(t, http.StatusConflict, rr.Code)
}
