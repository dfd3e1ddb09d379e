package models

import (
	"errors"
	"fmt"
	"math"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Alert statuses. Fulfilled, expired and cancelled are terminal: once there
// an alert is inert and no further matching or notification happens.
const (
	AlertStatusActive             = "active"
	AlertStatusPartiallyFulfilled = "partially_fulfilled"
	AlertStatusFulfilled          = "fulfilled"
	AlertStatusExpired            = "expired"
	AlertStatusCancelled          = "cancelled"
)

// Urgency levels
const (
	UrgencyLow      = "low"
	UrgencyMedium   = "medium"
	UrgencyHigh     = "high"
	UrgencyCritical = "critical"
)

// Donor response types
const (
	ResponseInterested   = "interested"
	ResponseCommitted    = "committed"
	ResponseDonated      = "donated"
	ResponseNotAvailable = "not_available"
	ResponseNotEligible  = "not_eligible"
)

// Partner hospital share responses
const (
	ShareResponsePending            = "pending"
	ShareResponseAccepted           = "accepted"
	ShareResponseDeclined           = "declined"
	ShareResponsePartiallyFulfilled = "partially_fulfilled"
)

// Expiry and search bounds
const (
	DefaultExpiryCritical = 24 * time.Hour
	DefaultExpiry         = 72 * time.Hour
	MinExtendHours        = 1
	MaxExtendHours        = 168
	MinSearchRadiusKm     = 5.0
	MaxSearchRadiusKm     = 200.0
)

// Sentinel errors surfaced as conflicts or state errors by the HTTP layer
var (
	ErrDuplicateResponse    = errors.New("donor has already responded to this alert")
	ErrAlertClosed          = errors.New("alert is no longer accepting responses")
	ErrInvalidTransition    = errors.New("invalid status transition")
	ErrExtendOutOfRange     = errors.New("extension must be between 1 and 168 hours")
	ErrDuplicateShare       = errors.New("Alert already shared with this hospital")
	ErrNotPartner           = errors.New("Hospital is not a partner")
	ErrShareNotFound        = errors.New("no sharing record exists for this hospital")
	ErrShareAlreadyAnswered = errors.New("hospital has already responded to this share")
)

// Alert holds the structure for the alert collection in mongo
type Alert struct {
	ID      string       `json:"_id" bson:"_id"`
	Details AlertDetails `json:"alert" bson:"alert"`
	Version int32        `json:"__v" bson:"__v"`
}

// AlertDetails holds the structure for the inner alert structure as
// defined in the alert collection in mongo
type AlertDetails struct {
	HospitalID     string             `json:"hospitalId" bson:"hospitalId"`
	BloodType      string             `json:"bloodType" bson:"bloodType"`
	UrgencyLevel   string             `json:"urgencyLevel" bson:"urgencyLevel"`
	UnitsNeeded    int                `json:"unitsNeeded" bson:"unitsNeeded"`
	UnitsCollected int                `json:"unitsCollected" bson:"unitsCollected"`
	Reason         string             `json:"reason" bson:"reason"`
	PatientInfo    PatientInfo        `json:"patientInfo" bson:"patientInfo"`
	Location       GeoPoint           `json:"location" bson:"location"`
	SearchRadius   float64            `json:"searchRadius" bson:"searchRadius"`
	Status         string             `json:"status" bson:"status"`
	Notifications  AlertNotifications `json:"notifications" bson:"notifications"`
	Responses      []DonorResponse    `json:"responses" bson:"responses"`
	Sharing        AlertSharing       `json:"sharing" bson:"sharing"`
	ExpiresAt      primitive.DateTime `json:"expiresAt" bson:"expiresAt"`
	Tags           []string           `json:"tags" bson:"tags"`
	InternalNotes  []InternalNote     `json:"internalNotes" bson:"internalNotes"`
	CreatedBy      string             `json:"createdBy" bson:"createdBy"`
	LastModifiedBy string             `json:"lastModifiedBy" bson:"lastModifiedBy"`
	CreatedAt      primitive.DateTime `json:"createdAt" bson:"createdAt"`
	UpdatedAt      primitive.DateTime `json:"updatedAt" bson:"updatedAt"`
}

// PatientInfo describes the patient behind a shortage request
type PatientInfo struct {
	Age         int                 `json:"age" bson:"age"`
	Gender      string              `json:"gender" bson:"gender"`
	Condition   string              `json:"condition" bson:"condition"`
	IsEmergency bool                `json:"isEmergency" bson:"isEmergency"`
	RequiredBy  *primitive.DateTime `json:"requiredBy" bson:"requiredBy"`
}

// AlertNotifications aggregates dispatch counters plus the per-donor
// delivery records
type AlertNotifications struct {
	Sent      int                  `json:"sent" bson:"sent"`
	Opened    int                  `json:"opened" bson:"opened"`
	Responded int                  `json:"responded" bson:"responded"`
	Records   []NotificationRecord `json:"records" bson:"records"`
}

// NotificationRecord tracks the delivery state of one donor's notification
type NotificationRecord struct {
	DonorID     string              `json:"donorId" bson:"donorId"`
	Method      string              `json:"method" bson:"method"`
	SentAt      primitive.DateTime  `json:"sentAt" bson:"sentAt"`
	Opened      bool                `json:"opened" bson:"opened"`
	OpenedAt    *primitive.DateTime `json:"openedAt" bson:"openedAt"`
	Responded   bool                `json:"responded" bson:"responded"`
	RespondedAt *primitive.DateTime `json:"respondedAt" bson:"respondedAt"`
	Response    string              `json:"response" bson:"response"`
}

// DonorResponse is one donor's reply to an alert. At most one per donor.
type DonorResponse struct {
	DonorID           string              `json:"donorId" bson:"donorId"`
	ResponseType      string              `json:"responseType" bson:"responseType"`
	Message           string              `json:"message" bson:"message"`
	ContactInfo       string              `json:"contactInfo" bson:"contactInfo"`
	EstimatedArrival  *primitive.DateTime `json:"estimatedArrival" bson:"estimatedArrival"`
	ActualArrival     *primitive.DateTime `json:"actualArrival" bson:"actualArrival"`
	DonationCompleted bool                `json:"donationCompleted" bson:"donationCompleted"`
	DonationDetails   *DonationDetails    `json:"donationDetails" bson:"donationDetails"`
	ResponseTime      int                 `json:"responseTime" bson:"responseTime"`
	Timestamp         primitive.DateTime  `json:"timestamp" bson:"timestamp"`
}

// DonationDetails records the completed donation behind a donated response
type DonationDetails struct {
	Units     int                 `json:"units" bson:"units"`
	DonatedAt *primitive.DateTime `json:"donatedAt" bson:"donatedAt"`
	Location  string              `json:"location" bson:"location"`
	Notes     string              `json:"notes" bson:"notes"`
}

// AlertSharing tracks propagation of an alert to partner hospitals
type AlertSharing struct {
	AllowSharing bool            `json:"allowSharing" bson:"allowSharing"`
	SharedWith   []SharingRecord `json:"sharedWith" bson:"sharedWith"`
}

// SharingRecord is one partner hospital's view of a shared alert
type SharingRecord struct {
	HospitalID     string             `json:"hospitalId" bson:"hospitalId"`
	SharedAt       primitive.DateTime `json:"sharedAt" bson:"sharedAt"`
	Response       string             `json:"response" bson:"response"`
	UnitsPromised  int                `json:"unitsPromised" bson:"unitsPromised"`
	UnitsDelivered int                `json:"unitsDelivered" bson:"unitsDelivered"`
	Notes          string             `json:"notes" bson:"notes"`
}

// InternalNote is an audit entry visible to hospital staff only
type InternalNote struct {
	Note string             `json:"note" bson:"note"`
	By   string             `json:"by" bson:"by"`
	At   primitive.DateTime `json:"at" bson:"at"`
}

// NewAlertDetails builds the details document for a fresh alert. Expiry is
// computed once here, never re-derived at save time: 24h for critical
// urgency, 72h otherwise, unless the request carried an explicit expiry.
func NewAlertDetails(req AlertDetails, now time.Time) AlertDetails {
	req.Status = AlertStatusActive
	req.UnitsCollected = 0
	req.Notifications = AlertNotifications{Records: []NotificationRecord{}}
	req.Responses = []DonorResponse{}
	if req.Sharing.SharedWith == nil {
		req.Sharing.SharedWith = []SharingRecord{}
	}
	if req.ExpiresAt == 0 {
		ttl := DefaultExpiry
		if req.UrgencyLevel == UrgencyCritical {
			ttl = DefaultExpiryCritical
		}
		req.ExpiresAt = primitive.NewDateTimeFromTime(now.Add(ttl))
	}
	req.CreatedAt = primitive.NewDateTimeFromTime(now)
	req.UpdatedAt = primitive.NewDateTimeFromTime(now)
	return req
}

// ValidateNew checks the caller-supplied fields of a create request and
// returns field-level problems, empty when the request is valid.
func (a AlertDetails) ValidateNew() map[string]string {
	problems := map[string]string{}
	if a.HospitalID == "" {
		problems["hospitalId"] = "hospitalId is required"
	}
	if !ValidBloodType(a.BloodType) {
		problems["bloodType"] = fmt.Sprintf("%q is not a valid blood type", a.BloodType)
	}
	switch a.UrgencyLevel {
	case UrgencyLow, UrgencyMedium, UrgencyHigh, UrgencyCritical:
	default:
		problems["urgencyLevel"] = fmt.Sprintf("%q is not a valid urgency level", a.UrgencyLevel)
	}
	if a.UnitsNeeded < 1 {
		problems["unitsNeeded"] = "unitsNeeded must be at least 1"
	}
	if a.SearchRadius < MinSearchRadiusKm || a.SearchRadius > MaxSearchRadiusKm {
		problems["searchRadius"] = fmt.Sprintf("searchRadius must be between %.0f and %.0f km", MinSearchRadiusKm, MaxSearchRadiusKm)
	}
	return problems
}

// IsTerminal reports whether the stored status is terminal
func (a AlertDetails) IsTerminal() bool {
	switch a.Status {
	case AlertStatusFulfilled, AlertStatusExpired, AlertStatusCancelled:
		return true
	}
	return false
}

// IsExpired reports whether now is past the alert's expiry boundary
func (a AlertDetails) IsExpired(now time.Time) bool {
	return now.After(a.ExpiresAt.Time())
}

// EffectiveStatus derives the status readers should act on. Expiry is a
// consequence of time, so a non-terminal alert past its boundary reads as
// expired even before the sweep has persisted the transition.
func (a AlertDetails) EffectiveStatus(now time.Time) string {
	if a.IsTerminal() {
		return a.Status
	}
	if a.IsExpired(now) {
		return AlertStatusExpired
	}
	return a.Status
}

// ValidTransition reports whether moving from the current status to the
// requested one follows a defined state-machine edge.
func (a AlertDetails) ValidTransition(to string) bool {
	if a.IsTerminal() {
		return false
	}
	switch to {
	case AlertStatusPartiallyFulfilled:
		return a.Status == AlertStatusActive
	case AlertStatusFulfilled, AlertStatusCancelled, AlertStatusExpired:
		return true
	case AlertStatusActive:
		return a.Status == AlertStatusActive
	}
	return false
}

// AddResponse records a donor's reply, links it back to their notification
// record and applies fulfillment if the response reports a completed
// donation. At most one response per donor is accepted.
func (a *AlertDetails) AddResponse(resp DonorResponse, now time.Time) error {
	switch a.EffectiveStatus(now) {
	case AlertStatusActive, AlertStatusPartiallyFulfilled:
	default:
		return ErrAlertClosed
	}
	for _, existing := range a.Responses {
		if existing.DonorID == resp.DonorID {
			return ErrDuplicateResponse
		}
	}

	ts := primitive.NewDateTimeFromTime(now)
	for i := range a.Notifications.Records {
		rec := &a.Notifications.Records[i]
		if rec.DonorID != resp.DonorID {
			continue
		}
		rec.Responded = true
		rec.RespondedAt = &ts
		rec.Response = resp.ResponseType
		resp.ResponseTime = int(now.Sub(rec.SentAt.Time()).Minutes())
		break
	}

	resp.Timestamp = ts
	if resp.ResponseType == ResponseDonated && (resp.DonationCompleted || resp.DonationDetails != nil) {
		resp.DonationCompleted = true
		a.UnitsCollected++
		a.recomputeFulfillment()
	}
	a.Responses = append(a.Responses, resp)
	a.Notifications.Responded++
	a.UpdatedAt = ts
	return nil
}

// recomputeFulfillment applies the automatic fulfillment edges. Terminal
// statuses other than fulfilled are left alone so a cancelled or expired
// alert never reactivates.
func (a *AlertDetails) recomputeFulfillment() {
	if a.Status == AlertStatusCancelled || a.Status == AlertStatusExpired {
		return
	}
	if a.UnitsCollected >= a.UnitsNeeded && a.UnitsNeeded > 0 {
		a.Status = AlertStatusFulfilled
		return
	}
	if a.UnitsCollected > 0 && a.Status == AlertStatusActive {
		a.Status = AlertStatusPartiallyFulfilled
	}
}

// MarkNotificationOpened flags a donor's notification record as opened and
// bumps the opened counter. Returns false when no record exists for the
// donor. Repeated opens are idempotent.
func (a *AlertDetails) MarkNotificationOpened(donorID string, now time.Time) bool {
	for i := range a.Notifications.Records {
		rec := &a.Notifications.Records[i]
		if rec.DonorID != donorID {
			continue
		}
		if !rec.Opened {
			ts := primitive.NewDateTimeFromTime(now)
			rec.Opened = true
			rec.OpenedAt = &ts
			a.Notifications.Opened++
			a.UpdatedAt = ts
		}
		return true
	}
	return false
}

// ExtendExpiry pushes the expiry boundary forward. Only valid while the
// alert is still active or partially fulfilled, for 1 to 168 hours.
func (a *AlertDetails) ExtendExpiry(hours int, now time.Time) error {
	if hours < MinExtendHours || hours > MaxExtendHours {
		return ErrExtendOutOfRange
	}
	switch a.EffectiveStatus(now) {
	case AlertStatusActive, AlertStatusPartiallyFulfilled:
	default:
		return ErrAlertClosed
	}
	a.ExpiresAt = primitive.NewDateTimeFromTime(a.ExpiresAt.Time().Add(time.Duration(hours) * time.Hour))
	a.UpdatedAt = primitive.NewDateTimeFromTime(now)
	return nil
}

// ShareWith appends a pending sharing record for a partner hospital. One
// record per target hospital.
func (a *AlertDetails) ShareWith(hospitalID string, now time.Time) error {
	for _, rec := range a.Sharing.SharedWith {
		if rec.HospitalID == hospitalID {
			return ErrDuplicateShare
		}
	}
	a.Sharing.SharedWith = append(a.Sharing.SharedWith, SharingRecord{
		HospitalID: hospitalID,
		SharedAt:   primitive.NewDateTimeFromTime(now),
		Response:   ShareResponsePending,
	})
	a.UpdatedAt = primitive.NewDateTimeFromTime(now)
	return nil
}

// RespondToShare updates a partner hospital's pending sharing record in
// place. Fails when no record exists or the hospital already answered.
func (a *AlertDetails) RespondToShare(hospitalID, response string, unitsPromised int, notes string, now time.Time) error {
	switch response {
	case ShareResponseAccepted, ShareResponseDeclined, ShareResponsePartiallyFulfilled:
	default:
		return fmt.Errorf("%q is not a valid share response", response)
	}
	for i := range a.Sharing.SharedWith {
		rec := &a.Sharing.SharedWith[i]
		if rec.HospitalID != hospitalID {
			continue
		}
		if rec.Response != ShareResponsePending {
			return ErrShareAlreadyAnswered
		}
		rec.Response = response
		rec.UnitsPromised = unitsPromised
		rec.Notes = notes
		a.UpdatedAt = primitive.NewDateTimeFromTime(now)
		return nil
	}
	return ErrShareNotFound
}

// ResponseRate is the percentage of notified donors who responded
func (a AlertDetails) ResponseRate() int {
	if a.Notifications.Sent == 0 {
		return 0
	}
	return int(math.Round(100 * float64(a.Notifications.Responded) / float64(a.Notifications.Sent)))
}

// ConversionRate is the percentage of responses that became completed
// donations
func (a AlertDetails) ConversionRate() int {
	if len(a.Responses) == 0 {
		return 0
	}
	completed := 0
	for _, r := range a.Responses {
		if r.DonationCompleted {
			completed++
		}
	}
	return int(math.Round(100 * float64(completed) / float64(len(a.Responses))))
}

// CompletionPercentage is collected units over needed units
func (a AlertDetails) CompletionPercentage() int {
	if a.UnitsNeeded == 0 {
		return 0
	}
	return int(math.Round(100 * float64(a.UnitsCollected) / float64(a.UnitsNeeded)))
}

// TimeRemaining returns whole hours until expiry, floored at zero
func (a AlertDetails) TimeRemaining(now time.Time) int {
	remaining := a.ExpiresAt.Time().Sub(now)
	if remaining <= 0 {
		return 0
	}
	return int(remaining.Hours())
}

// AlertMetrics is the derived-metric view returned by the metrics endpoint.
// Every value is computed from the alert's recorded data on demand.
type AlertMetrics struct {
	Status               string `json:"status"`
	UnitsNeeded          int    `json:"unitsNeeded"`
	UnitsCollected       int    `json:"unitsCollected"`
	CompletionPercentage int    `json:"completionPercentage"`
	ResponseRate         int    `json:"responseRate"`
	ConversionRate       int    `json:"conversionRate"`
	TimeRemainingHours   int    `json:"timeRemainingHours"`
	NotificationsSent    int    `json:"notificationsSent"`
	NotificationsOpened  int    `json:"notificationsOpened"`
	Responses            int    `json:"responses"`
}

// Metrics computes the on-demand metric view for the alert
func (a AlertDetails) Metrics(now time.Time) AlertMetrics {
	return AlertMetrics{
		Status:               a.EffectiveStatus(now),
		UnitsNeeded:          a.UnitsNeeded,
		UnitsCollected:       a.UnitsCollected,
		CompletionPercentage: a.CompletionPercentage(),
		ResponseRate:         a.ResponseRate(),
		ConversionRate:       a.ConversionRate(),
		TimeRemainingHours:   a.TimeRemaining(now),
		NotificationsSent:    a.Notifications.Sent,
		NotificationsOpened:  a.Notifications.Opened,
		Responses:            len(a.Responses),
	}
}

// ValidResponseType reports whether t is a recognized donor response type
func ValidResponseType(t string) bool {
	switch t {
	case ResponseInterested, ResponseCommitted, ResponseDonated, ResponseNotAvailable, ResponseNotEligible:
		return true
	}
	return false
}
