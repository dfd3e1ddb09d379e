// Package notifications sends alert notifications to matched donors over
// email, SMS and push, and records per-donor delivery state for the alert's
// bookkeeping.
package notifications

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/openblood/bloodlink-api/models"
)

// Channel names in preference priority order
const (
	ChannelEmail = "email"
	ChannelSMS   = "sms"
	ChannelPush  = "push"
)

// ChannelCounts aggregates send outcomes for one channel
type ChannelCounts struct {
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
}

// DispatchSummary aggregates send outcomes across all channels
type DispatchSummary struct {
	Email ChannelCounts `json:"email"`
	SMS   ChannelCounts `json:"sms"`
	Push  ChannelCounts `json:"push"`
}

// EmailSender delivers one email message
type EmailSender interface {
	Send(ctx context.Context, toEmail, toName, subject, htmlContent, plainText string) error
}

// SMSSender delivers one SMS message
type SMSSender interface {
	Send(ctx context.Context, phone, body string) error
}

// PushSender delivers a push notification to all of a donor's registered
// devices
type PushSender interface {
	Send(ctx context.Context, donorID, title, body string, data map[string]interface{}) error
}

// Dispatcher fans an alert out to matched donors. Channel senders are
// injected at construction so channel availability is explicit and testable.
type Dispatcher struct {
	Email EmailSender
	SMS   SMSSender
	Push  PushSender
	Now   func() time.Time
}

// NewDispatcher builds a dispatcher over the given channel senders
func NewDispatcher(email EmailSender, sms SMSSender, push PushSender) *Dispatcher {
	return &Dispatcher{Email: email, SMS: sms, Push: push, Now: time.Now}
}

// Dispatch notifies every donor on each of their enabled channels and
// returns the channel counts plus one notification record per donor.
//
// Failure bookkeeping is per donor, not per attempt: the first channel
// error for a donor stops their remaining channels and counts a failure
// against every channel they had enabled. One donor's failure never affects
// the others. The record's method is the donor's preferred channel (first
// enabled in email > sms > push order) regardless of what was attempted.
func (d *Dispatcher) Dispatch(ctx context.Context, alert *models.Alert, donors []models.Donor) (DispatchSummary, []models.NotificationRecord) {
	summary := DispatchSummary{}
	records := make([]models.NotificationRecord, 0, len(donors))
	subject, body := alertMessage(alert)
	html := renderAlertHTML(alert)

	for _, donor := range donors {
		methods := donor.Details.Preferences.NotificationMethods
		enabled := enabledChannels(methods)

		for _, channel := range enabled {
			var err error
			switch channel {
			case ChannelEmail:
				err = d.Email.Send(ctx, donor.Details.Email, donor.Details.Name, subject, html, body)
			case ChannelSMS:
				err = d.SMS.Send(ctx, donor.Details.Phone, subject+"\n"+body)
			case ChannelPush:
				err = d.Push.Send(ctx, donor.ID, subject, body, map[string]interface{}{
					"alertId":   alert.ID,
					"bloodType": alert.Details.BloodType,
					"urgency":   alert.Details.UrgencyLevel,
				})
			}
			if err != nil {
				zap.S().Warnw("notification send failed",
					"alertId", alert.ID,
					"donorId", donor.ID,
					"channel", channel,
					"error", err,
				)
				for _, c := range enabled {
					summary.count(c).Failed++
				}
				break
			}
			summary.count(channel).Sent++
		}

		records = append(records, models.NotificationRecord{
			DonorID: donor.ID,
			Method:  preferredChannel(methods),
			SentAt:  primitive.NewDateTimeFromTime(d.Now()),
		})
	}

	zap.S().Infow("alert dispatch complete",
		"alertId", alert.ID,
		"donors", len(donors),
		"email", summary.Email,
		"sms", summary.SMS,
		"push", summary.Push,
	)
	return summary, records
}

func (s *DispatchSummary) count(channel string) *ChannelCounts {
	switch channel {
	case ChannelEmail:
		return &s.Email
	case ChannelSMS:
		return &s.SMS
	default:
		return &s.Push
	}
}

func enabledChannels(m models.NotificationMethods) []string {
	var channels []string
	if m.Email {
		channels = append(channels, ChannelEmail)
	}
	if m.SMS {
		channels = append(channels, ChannelSMS)
	}
	if m.Push {
		channels = append(channels, ChannelPush)
	}
	return channels
}

func preferredChannel(m models.NotificationMethods) string {
	channels := enabledChannels(m)
	if len(channels) == 0 {
		return ""
	}
	return channels[0]
}

func alertMessage(alert *models.Alert) (subject, body string) {
	subject = fmt.Sprintf("%s blood needed", alert.Details.BloodType)
	if alert.Details.UrgencyLevel == models.UrgencyCritical {
		subject = "URGENT: " + subject
	}
	body = fmt.Sprintf("A hospital near you needs %d unit(s) of %s blood (%s urgency). Open the app to respond.",
		alert.Details.UnitsNeeded, alert.Details.BloodType, alert.Details.UrgencyLevel)
	return subject, body
}
