package notifications

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// TwilioSender sends alert SMS messages through the Twilio REST API
type TwilioSender struct {
	AccountSID string
	AuthToken  string
	FromNumber string
	Client     *http.Client
}

// NewTwilioSender builds the SMS channel sender
func NewTwilioSender(accountSID, authToken, fromNumber string) *TwilioSender {
	return &TwilioSender{
		AccountSID: accountSID,
		AuthToken:  authToken,
		FromNumber: fromNumber,
		Client:     &http.Client{Timeout: 15 * time.Second},
	}
}

// Send delivers one SMS message
func (s *TwilioSender) Send(ctx context.Context, phone, body string) error {
	if phone == "" {
		return fmt.Errorf("no phone number on file")
	}
	if s.AccountSID == "" || s.AuthToken == "" || s.FromNumber == "" {
		return fmt.Errorf("missing SMS configuration: AccountSID, AuthToken, or FromNumber is empty")
	}

	urlStr := fmt.Sprintf("https://api.twilio.com/2010-04-01/Accounts/%s/Messages.json", s.AccountSID)
	msgData := url.Values{}
	msgData.Set("To", phone)
	msgData.Set("From", s.FromNumber)
	msgData.Set("Body", body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, urlStr, strings.NewReader(msgData.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create SMS request: %w", err)
	}
	req.SetBasicAuth(s.AccountSID, s.AuthToken)
	req.Header.Add("Accept", "application/json")
	req.Header.Add("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.Client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send SMS to %s: %w", phone, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("twilio returned status %d", resp.StatusCode)
	}
	return nil
}
