package handlers

import (
	"encoding/json"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
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

type adminLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type adminLoginResponse struct {
	Token string `json:"token"`
	Admin struct {
		ID    string   `json:"id"`
		Email string   `json:"email"`
		Roles []string `json:"roles"`
	} `json:"admin"`
}

// Admin represents the admin handler
type Admin struct {
	DB     databases.AdminDatabase
	Alerts Alert
}

// AdminLoginHandler handles admin login via email/password and returns a JWT
func (h Admin) AdminLoginHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	var req adminLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid request"})
		return
	}

	email := strings.TrimSpace(strings.ToLower(req.Email))
	if email == "" || req.Password == "" {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "email and password required"})
		return
	}

	// Use request context with timeout for proper trace tracking and timeout handling
	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	admin, err := h.DB.FindOne(ctx, bson.M{"email": email, "active": true})
	if err != nil {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "Invalid credentials"})
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(admin.PasswordHash), []byte(req.Password)); err != nil {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "Invalid credentials"})
		return
	}

	jwtSecret := []byte(os.Getenv("JWT_SECRET"))
	if len(jwtSecret) == 0 {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "server misconfigured"})
		return
	}

	claims := jwt.MapClaims{
		"sub":   admin.ID.Hex(),
		"email": admin.Email,
		"roles": admin.Roles,
		"scope": "admin",
		"typ":   "access",
		"iat":   time.Now().Unix(),
		"exp":   time.Now().Add(24 * time.Hour).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(jwtSecret)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "token generation failed"})
		return
	}

	var resp adminLoginResponse
	resp.Token = signed
	resp.Admin.ID = admin.ID.Hex()
	resp.Admin.Email = admin.Email
	resp.Admin.Roles = admin.Roles

	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

// AdminOverrideAlertStatusHandler sets an alert's status to any value,
// bypassing the state machine. Every override is audited: the prior state,
// new state, admin identity and stated reason are logged and appended to the
// alert's internal notes.
func (h Admin) AdminOverrideAlertStatusHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	adminEmail, err := h.requireAdmin(r)
	if err != nil {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "Invalid or missing admin token"})
		return
	}

	alertID := mux.Vars(r)["alert_id"]

	var req struct {
		Status string `json:"status"`
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		config.ErrorStatus("failed to decode request body", http.StatusBadRequest, w, err)
		return
	}
	switch req.Status {
	case models.AlertStatusActive, models.AlertStatusPartiallyFulfilled, models.AlertStatusFulfilled,
		models.AlertStatusExpired, models.AlertStatusCancelled:
	default:
		config.ErrorStatus("invalid status", http.StatusBadRequest, w, nil)
		return
	}
	if req.Reason == "" {
		config.ErrorStatus("reason is required for an administrative override", http.StatusBadRequest, w, nil)
		return
	}

	// Use request context with timeout for proper trace tracking and timeout handling
	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	now := time.Now()
	var priorStatus string
	updated, err := h.Alerts.updateAlertDoc(ctx, alertID, func(d *models.AlertDetails) error {
		priorStatus = d.Status
		d.Status = req.Status
		d.LastModifiedBy = adminEmail
		d.InternalNotes = append(d.InternalNotes, models.InternalNote{
			Note: "Administrative override: " + req.Reason,
			By:   adminEmail,
			At:   primitive.NewDateTimeFromTime(now),
		})
		d.UpdatedAt = primitive.NewDateTimeFromTime(now)
		return nil
	})
	if err != nil {
		alertErrorStatus("failed to override alert status", w, err)
		return
	}

	zap.S().Infow("Administrative alert status override",
		"alertId", alertID,
		"priorStatus", priorStatus,
		"newStatus", req.Status,
		"admin", adminEmail,
		"reason", req.Reason,
	)

	h.Alerts.Hub.BroadcastAlertEvent("alert_updated", map[string]interface{}{
		"alertId": updated.ID,
		"status":  updated.Details.Status,
	})

	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(updated)
}

// requireAdmin validates the Bearer JWT on an admin route and returns the
// admin's email
func (h Admin) requireAdmin(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", jwt.ErrTokenMalformed
	}

	token, err := jwt.Parse(parts[1], func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenSignatureInvalid
		}
		return []byte(os.Getenv("JWT_SECRET")), nil
	})
	if err != nil || !token.Valid {
		return "", jwt.ErrTokenInvalidClaims
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", jwt.ErrTokenInvalidClaims
	}
	if scope, _ := claims["scope"].(string); scope != "admin" {
		return "", jwt.ErrTokenInvalidClaims
	}
	email, _ := claims["email"].(string)
	return email, nil
}
