package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"

	"github.com/openblood/bloodlink-api/databases"
)

const (
	expoPushURL    = "https://exp.host/--/api/v2/push/send"
	expoBatchLimit = 100
)

// ExpoPushMessage represents a single push notification message for the Expo push API
type ExpoPushMessage struct {
	To        string                 `json:"to"`
	Title     string                 `json:"title,omitempty"`
	Body      string                 `json:"body,omitempty"`
	Sound     string                 `json:"sound,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Priority  string                 `json:"priority,omitempty"`
	ChannelID string                 `json:"channelId,omitempty"`
}

// ExpoPushSender sends push notifications to a donor's registered Expo
// tokens, batched in groups of 100 per the Expo API limit.
type ExpoPushSender struct {
	TokenDB databases.PushTokenDatabase
	Client  *http.Client
}

// NewExpoPushSender builds the push channel sender
func NewExpoPushSender(tokenDB databases.PushTokenDatabase) *ExpoPushSender {
	return &ExpoPushSender{
		TokenDB: tokenDB,
		Client:  &http.Client{Timeout: 15 * time.Second},
	}
}

// Send looks up the donor's registered push tokens and delivers the
// notification to each. A donor with push enabled but no registered device
// counts as a failed send.
func (s *ExpoPushSender) Send(ctx context.Context, donorID, title, body string, data map[string]interface{}) error {
	tokens, err := s.TokenDB.Find(ctx, bson.M{"donorId": donorID})
	if err != nil {
		return fmt.Errorf("failed to look up push tokens: %w", err)
	}
	if len(tokens) == 0 {
		return fmt.Errorf("no push tokens registered for donor %s", donorID)
	}

	var messages []ExpoPushMessage
	for _, token := range tokens {
		messages = append(messages, ExpoPushMessage{
			To:        token.Token,
			Title:     title,
			Body:      body,
			Sound:     "default",
			Data:      data,
			Priority:  "high",
			ChannelID: "default",
		})
	}

	for i := 0; i < len(messages); i += expoBatchLimit {
		end := i + expoBatchLimit
		if end > len(messages) {
			end = len(messages)
		}
		if err := s.sendBatch(ctx, messages[i:end]); err != nil {
			return err
		}
	}
	return nil
}

func (s *ExpoPushSender) sendBatch(ctx context.Context, messages []ExpoPushMessage) error {
	jsonData, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("failed to marshal push messages: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, expoPushURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Encoding", "gzip, deflate")

	resp, err := s.Client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send push request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("expo push API returned status %d", resp.StatusCode)
	}

	zap.S().Infof("Successfully sent %d push notification(s) via Expo", len(messages))
	return nil
}
