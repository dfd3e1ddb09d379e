package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/crypto/bcrypt"

	"github.com/openblood/bloodlink-api/api/handlers"
	"github.com/openblood/bloodlink-api/databases"
	"github.com/openblood/bloodlink-api/models"
)

// Minimal fake implementing databases.AdminDatabase
type fakeAdminDB struct {
	findOne func(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) (*models.AdminUser, error)
}

func (f fakeAdminDB) FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) (*models.AdminUser, error) {
	return f.findOne(ctx, filter, opts...)
}

func (f fakeAdminDB) InsertOne(ctx context.Context, admin models.AdminUser, opts ...*options.InsertOneOptions) (databases.InsertOneResultHelper, error) {
	return nil, nil
}

func (f fakeAdminDB) UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error) {
	return nil, nil
}

func setTestJWTSecret(t *testing.T) {
	t.Helper()
	old := os.Getenv("JWT_SECRET")
	os.Setenv("JWT_SECRET", "test-secret")
	t.Cleanup(func() { os.Setenv("JWT_SECRET", old) })
}

func adminToken(t *testing.T, email string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub":   primitive.NewObjectID().Hex(),
		"email": email,
		"scope": "admin",
		"typ":   "access",
		"iat":   time.Now().Unix(),
		"exp":   time.Now().Add(time.Hour).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	assert.NoError(t, err)
	return signed
}

func TestAdminLogin_Success(t *testing.T) {
	password := "strong-pass"
	hash, _ := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	adminUser := &models.AdminUser{
		ID:           primitive.NewObjectID(),
		Email:        "you@example.com",
		PasswordHash: string(hash),
		Active:       true,
		Roles:        []string{"owner", "admin"},
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}

	h := handlers.Admin{DB: fakeAdminDB{findOne: func(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) (*models.AdminUser, error) {
		return adminUser, nil
	}}}

	setTestJWTSecret(t)

	body, _ := json.Marshal(map[string]string{"email": adminUser.Email, "password": password})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()

	http.HandlerFunc(h.AdminLoginHandler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	var resp struct {
		Token string `json:"token"`
		Admin struct {
			ID    string   `json:"id"`
			Email string   `json:"email"`
			Roles []string `json:"roles"`
		} `json:"admin"`
	}
	_ = json.Unmarshal(rr.Body.Bytes(), &resp)
	assert.NotEmpty(t, resp.Token)
	assert.Equal(t, adminUser.Email, resp.Admin.Email)
}

func TestAdminLogin_WrongPassword(t *testing.T) {
	hash, _ := bcrypt.GenerateFromPassword([]byte("right-pass"), bcrypt.DefaultCost)
	adminUser := &models.AdminUser{
		ID:           primitive.NewObjectID(),
		Email:        "you@example.com",
		PasswordHash: string(hash),
		Active:       true,
	}

	h := handlers.Admin{DB: fakeAdminDB{findOne: func(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) (*models.AdminUser, error) {
		return adminUser, nil
	}}}

	setTestJWTSecret(t)

	body, _ := json.Marshal(map[string]string{"email": adminUser.Email, "password": "wrong-pass"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/login", bytes.NewReader(body))
	rr := httptest.NewRecorder()

	http.HandlerFunc(h.AdminLoginHandler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestAdminLogin_UnknownEmail(t *testing.T) {
	h := handlers.Admin{DB: fakeAdminDB{findOne: func(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) (*models.AdminUser, error) {
		return nil, mongo.ErrNoDocuments
	}}}

	setTestJWTSecret(t)

	body, _ := json.Marshal(map[string]string{"email": "nobody@example.com", "password": "whatever"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/login", bytes.NewReader(body))
	rr := httptest.NewRecorder()

	http.HandlerFunc(h.AdminLoginHandler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestAdminOverride_MissingToken(t *testing.T) {
	h := handlers.Admin{Alerts: alertHandler(&fakeAlertDB{alert: storedAlert(models.UrgencyHigh, 1)}, nil, nil)}

	setTestJWTSecret(t)

	body, _ := json.Marshal(map[string]string{"status": "cancelled", "reason": "cleanup"})
	req := httptest.NewRequest(http.MethodPut, "/api/v1/admin/alert/alert-1/status", bytes.NewReader(body))
	req = mux.SetURLVars(req, map[string]string{"alert_id": "alert-1"})
	rr := httptest.NewRecorder()

	http.HandlerFunc(h.AdminOverrideAlertStatusHandler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestAdminOverride_ReasonRequired(t *testing.T) {
	h := handlers.Admin{Alerts: alertHandler(&fakeAlertDB{alert: storedAlert(models.UrgencyHigh, 1)}, nil, nil)}

	setTestJWTSecret(t)

	body, _ := json.Marshal(map[string]string{"status": "cancelled"})
	req := httptest.NewRequest(http.MethodPut, "/api/v1/admin/alert/alert-1/status", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+adminToken(t, "ops@bloodlink.org"))
	req = mux.SetURLVars(req, map[string]string{"alert_id": "alert-1"})
	rr := httptest.NewRecorder()

	http.HandlerFunc(h.AdminOverrideAlertStatusHandler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestAdminOverride_BypassesStateMachine(t *testing.T) {
	// Fulfilled is terminal for the normal transition path, an override can
	// still reopen it
	alert := storedAlert(models.UrgencyHigh, 1)
	alert.Details.Status = models.AlertStatusFulfilled
	db := &fakeAlertDB{alert: alert}
	h := handlers.Admin{Alerts: alertHandler(db, nil, nil)}

	setTestJWTSecret(t)

	body, _ := json.Marshal(map[string]string{"status": "active", "reason": "fulfillment recorded in error"})
	req := httptest.NewRequest(http.MethodPut, "/api/v1/admin/alert/alert-1/status", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+adminToken(t, "ops@bloodlink.org"))
	req = mux.SetURLVars(req, map[string]string{"alert_id": "alert-1"})
	rr := httptest.NewRecorder()

	http.HandlerFunc(h.AdminOverrideAlertStatusHandler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, models.AlertStatusActive, db.alert.Details.Status)
	assert.Equal(t, "ops@bloodlink.org", db.alert.Details.LastModifiedBy)
	assert.Len(t, db.alert.Details.InternalNotes, 1)
	assert.Contains(t, db.alert.Details.InternalNotes[0].Note, "Administrative override")
}
