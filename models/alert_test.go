package models_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/openblood/bloodlink-api/models"
)

var alertNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func newTestAlert(urgency string, unitsNeeded int) models.AlertDetails {
	return models.NewAlertDetails(models.AlertDetails{
		HospitalID:   "hospital-1",
		BloodType:    models.BloodONeg,
		UrgencyLevel: urgency,
		UnitsNeeded:  unitsNeeded,
		SearchRadius: 50,
	}, alertNow)
}

func TestNewAlertDetails_Defaults(t *testing.T) {
	critical := newTestAlert(models.UrgencyCritical, 3)
	assert.Equal(t, models.AlertStatusActive, critical.Status)
	assert.Equal(t, alertNow.Add(24*time.Hour), critical.ExpiresAt.Time().UTC())

	high := newTestAlert(models.UrgencyHigh, 3)
	assert.Equal(t, alertNow.Add(72*time.Hour), high.ExpiresAt.Time().UTC())

	// An explicit expiry is kept as-is
	explicit := primitive.NewDateTimeFromTime(alertNow.Add(6 * time.Hour))
	custom := models.NewAlertDetails(models.AlertDetails{
		HospitalID:   "hospital-1",
		BloodType:    models.BloodAPos,
		UrgencyLevel: models.UrgencyCritical,
		UnitsNeeded:  1,
		SearchRadius: 50,
		ExpiresAt:    explicit,
	}, alertNow)
	assert.Equal(t, explicit, custom.ExpiresAt)
}

func TestValidateNew(t *testing.T) {
	valid := models.AlertDetails{
		HospitalID:   "hospital-1",
		BloodType:    models.BloodBNeg,
		UrgencyLevel: models.UrgencyMedium,
		UnitsNeeded:  2,
		SearchRadius: 25,
	}
	assert.Empty(t, valid.ValidateNew())

	invalid := models.AlertDetails{
		BloodType:    "C+",
		UrgencyLevel: "urgent",
		UnitsNeeded:  0,
		SearchRadius: 300,
	}
	problems := invalid.ValidateNew()
	assert.Len(t, problems, 5)
	assert.Contains(t, problems, "hospitalId")
	assert.Contains(t, problems, "bloodType")
	assert.Contains(t, problems, "urgencyLevel")
	assert.Contains(t, problems, "unitsNeeded")
	assert.Contains(t, problems, "searchRadius")
}

// Critical O- alert for 3 units: two donated responses leave it partially
// fulfilled, the third fulfills it.
func TestAddResponse_FulfillmentProgression(t *testing.T) {
	a := newTestAlert(models.UrgencyCritical, 3)

	for i, donorID := range []string{"d1", "d2"} {
		err := a.AddResponse(models.DonorResponse{
			DonorID:           donorID,
			ResponseType:      models.ResponseDonated,
			DonationCompleted: true,
		}, alertNow.Add(time.Duration(i)*time.Minute))
		assert.NoError(t, err)
	}
	assert.Equal(t, models.AlertStatusPartiallyFulfilled, a.Status)
	assert.Equal(t, 2, a.UnitsCollected)

	err := a.AddResponse(models.DonorResponse{
		DonorID:           "d3",
		ResponseType:      models.ResponseDonated,
		DonationCompleted: true,
	}, alertNow.Add(5*time.Minute))
	assert.NoError(t, err)
	assert.Equal(t, models.AlertStatusFulfilled, a.Status)
	assert.Equal(t, 3, a.UnitsCollected)
}

func TestAddResponse_DuplicateDonorRejected(t *testing.T) {
	a := newTestAlert(models.UrgencyHigh, 3)

	assert.NoError(t, a.AddResponse(models.DonorResponse{DonorID: "d1", ResponseType: models.ResponseInterested}, alertNow))
	err := a.AddResponse(models.DonorResponse{DonorID: "d1", ResponseType: models.ResponseCommitted}, alertNow)
	assert.ErrorIs(t, err, models.ErrDuplicateResponse)
	assert.Len(t, a.Responses, 1)
}

func TestAddResponse_ClosedAlertRejected(t *testing.T) {
	a := newTestAlert(models.UrgencyHigh, 1)
	a.Status = models.AlertStatusCancelled

	err := a.AddResponse(models.DonorResponse{DonorID: "d1", ResponseType: models.ResponseInterested}, alertNow)
	assert.ErrorIs(t, err, models.ErrAlertClosed)

	// Past the expiry boundary counts as closed even while status reads active
	b := newTestAlert(models.UrgencyHigh, 1)
	err = b.AddResponse(models.DonorResponse{DonorID: "d1", ResponseType: models.ResponseInterested}, alertNow.Add(73*time.Hour))
	assert.ErrorIs(t, err, models.ErrAlertClosed)
}

// An interested response alone never counts toward fulfillment; a donated
// response only counts when a completed donation is attached.
func TestAddResponse_OnlyCompletedDonationsCount(t *testing.T) {
	a := newTestAlert(models.UrgencyHigh, 2)

	assert.NoError(t, a.AddResponse(models.DonorResponse{DonorID: "d1", ResponseType: models.ResponseInterested}, alertNow))
	assert.Equal(t, 0, a.UnitsCollected)
	assert.Equal(t, models.AlertStatusActive, a.Status)

	assert.NoError(t, a.AddResponse(models.DonorResponse{DonorID: "d2", ResponseType: models.ResponseDonated}, alertNow))
	assert.Equal(t, 0, a.UnitsCollected)

	assert.NoError(t, a.AddResponse(models.DonorResponse{
		DonorID:         "d3",
		ResponseType:    models.ResponseDonated,
		DonationDetails: &models.DonationDetails{Units: 1},
	}, alertNow))
	assert.Equal(t, 1, a.UnitsCollected)
	assert.Equal(t, models.AlertStatusPartiallyFulfilled, a.Status)
}

func TestAddResponse_LinksNotificationRecord(t *testing.T) {
	a := newTestAlert(models.UrgencyHigh, 1)
	a.Notifications.Records = []models.NotificationRecord{
		{DonorID: "d1", Method: "email", SentAt: primitive.NewDateTimeFromTime(alertNow)},
	}

	err := a.AddResponse(models.DonorResponse{DonorID: "d1", ResponseType: models.ResponseCommitted}, alertNow.Add(42*time.Minute))
	assert.NoError(t, err)

	rec := a.Notifications.Records[0]
	assert.True(t, rec.Responded)
	assert.Equal(t, models.ResponseCommitted, rec.Response)
	assert.Equal(t, 42, a.Responses[0].ResponseTime)
	assert.Equal(t, 1, a.Notifications.Responded)
}

func TestMarkNotificationOpened_Idempotent(t *testing.T) {
	a := newTestAlert(models.UrgencyHigh, 1)
	a.Notifications.Records = []models.NotificationRecord{
		{DonorID: "d1", Method: "push", SentAt: primitive.NewDateTimeFromTime(alertNow)},
	}

	assert.True(t, a.MarkNotificationOpened("d1", alertNow))
	assert.True(t, a.MarkNotificationOpened("d1", alertNow.Add(time.Minute)))
	assert.Equal(t, 1, a.Notifications.Opened)
	assert.False(t, a.MarkNotificationOpened("unknown", alertNow))
}

func TestExtendExpiry(t *testing.T) {
	a := newTestAlert(models.UrgencyHigh, 1)
	original := a.ExpiresAt.Time().UTC()

	assert.NoError(t, a.ExtendExpiry(48, alertNow))
	assert.Equal(t, original.Add(48*time.Hour), a.ExpiresAt.Time().UTC())

	assert.ErrorIs(t, a.ExtendExpiry(0, alertNow), models.ErrExtendOutOfRange)
	assert.ErrorIs(t, a.ExtendExpiry(169, alertNow), models.ErrExtendOutOfRange)

	a.Status = models.AlertStatusFulfilled
	assert.ErrorIs(t, a.ExtendExpiry(24, alertNow), models.ErrAlertClosed)
}

func TestEffectiveStatus_NeverUnexpires(t *testing.T) {
	a := newTestAlert(models.UrgencyCritical, 1)

	assert.Equal(t, models.AlertStatusActive, a.EffectiveStatus(alertNow))
	assert.Equal(t, models.AlertStatusExpired, a.EffectiveStatus(alertNow.Add(25*time.Hour)))

	// A terminal status holds regardless of the clock
	a.Status = models.AlertStatusCancelled
	assert.Equal(t, models.AlertStatusCancelled, a.EffectiveStatus(alertNow.Add(25*time.Hour)))
}

func TestValidTransition(t *testing.T) {
	a := newTestAlert(models.UrgencyHigh, 1)
	assert.True(t, a.ValidTransition(models.AlertStatusCancelled))
	assert.True(t, a.ValidTransition(models.AlertStatusFulfilled))
	assert.True(t, a.ValidTransition(models.AlertStatusPartiallyFulfilled))

	a.Status = models.AlertStatusFulfilled
	assert.False(t, a.ValidTransition(models.AlertStatusActive))
	assert.False(t, a.ValidTransition(models.AlertStatusCancelled))
}

func TestShareWith_And_RespondToShare(t *testing.T) {
	a := newTestAlert(models.UrgencyHigh, 2)

	assert.NoError(t, a.ShareWith("partner-1", alertNow))
	assert.ErrorIs(t, a.ShareWith("partner-1", alertNow), models.ErrDuplicateShare)

	assert.ErrorIs(t, a.RespondToShare("partner-2", models.ShareResponseAccepted, 1, "", alertNow), models.ErrShareNotFound)
	assert.Error(t, a.RespondToShare("partner-1", "maybe", 1, "", alertNow))

	assert.NoError(t, a.RespondToShare("partner-1", models.ShareResponseAccepted, 2, "sending courier", alertNow))
	assert.ErrorIs(t, a.RespondToShare("partner-1", models.ShareResponseDeclined, 0, "", alertNow), models.ErrShareAlreadyAnswered)

	rec := a.Sharing.SharedWith[0]
	assert.Equal(t, models.ShareResponseAccepted, rec.Response)
	assert.Equal(t, 2, rec.UnitsPromised)
}

func TestMetrics(t *testing.T) {
	a := newTestAlert(models.UrgencyHigh, 4)
	a.Notifications.Sent = 10
	a.Notifications.Opened = 6
	a.Notifications.Records = []models.NotificationRecord{
		{DonorID: "d1", SentAt: primitive.NewDateTimeFromTime(alertNow)},
		{DonorID: "d2", SentAt: primitive.NewDateTimeFromTime(alertNow)},
		{DonorID: "d3", SentAt: primitive.NewDateTimeFromTime(alertNow)},
	}
	assert.NoError(t, a.AddResponse(models.DonorResponse{DonorID: "d1", ResponseType: models.ResponseDonated, DonationCompleted: true}, alertNow))
	assert.NoError(t, a.AddResponse(models.DonorResponse{DonorID: "d2", ResponseType: models.ResponseInterested}, alertNow))
	assert.NoError(t, a.AddResponse(models.DonorResponse{DonorID: "d3", ResponseType: models.ResponseNotAvailable}, alertNow))

	// 3 of 10 notified responded, 1 of 3 responders donated, 1 of 4 units
	// collected, and an hour of the 72-hour window has elapsed.
	m := a.Metrics(alertNow.Add(time.Hour))
	assert.Equal(t, 30, m.ResponseRate)
	assert.Equal(t, 33, m.ConversionRate)
	assert.Equal(t, 25, m.CompletionPercentage)
	assert.Equal(t, 71, m.TimeRemainingHours)
	assert.Equal(t, models.AlertStatusPartiallyFulfilled, m.Status)
}

func TestMetrics_ZeroDenominators(t *testing.T) {
	a := models.AlertDetails{}
	assert.Equal(t, 0, a.ResponseRate())
	assert.Equal(t, 0, a.ConversionRate())
	assert.Equal(t, 0, a.CompletionPercentage())
	assert.Equal(t, 0, a.TimeRemaining(alertNow))
}
