package notifications

import (
	"context"
	"fmt"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"

	"github.com/openblood/bloodlink-api/models"
	templates "github.com/openblood/bloodlink-api/templates/html"
)

// SendGridSender sends alert emails through SendGrid
type SendGridSender struct {
	APIKey    string
	FromName  string
	FromEmail string
}

// NewSendGridSender builds the email channel sender
func NewSendGridSender(apiKey string) *SendGridSender {
	return &SendGridSender{
		APIKey:    apiKey,
		FromName:  "BloodLink Alerts",
		FromEmail: "alerts@bloodlink.health",
	}
}

// Send delivers one email. A 4xx/5xx from SendGrid counts as a send failure
// the same as a transport error.
func (s *SendGridSender) Send(ctx context.Context, toEmail, toName, subject, htmlContent, plainText string) error {
	if toEmail == "" {
		return fmt.Errorf("no email address on file")
	}
	from := mail.NewEmail(s.FromName, s.FromEmail)
	to := mail.NewEmail(toName, toEmail)
	message := mail.NewSingleEmail(from, subject, to, plainText, htmlContent)
	client := sendgrid.NewSendClient(s.APIKey)
	response, err := client.Send(message)
	if err != nil {
		return err
	}
	if response.StatusCode >= 400 {
		zap.S().Errorw("sendgrid returned error status", "status", response.StatusCode, "body", response.Body)
		return fmt.Errorf("sendgrid returned status %d", response.StatusCode)
	}
	return nil
}

func renderAlertHTML(alert *models.Alert) string {
	return templates.RenderAlertEmail(alert.Details)
}
