// Package notify is the fire-and-forget client for the external notification
// endpoint. Delivery failures are logged and swallowed; persisted state never
// depends on a notification landing.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/orz-miniprogram/NeptuneHub-Public/internal/metrics"
)

const maxAttempts = 3

// Client posts JSON payloads to the notification service.
type Client struct {
	url        string
	httpClient *http.Client
	metrics    *metrics.Set
	logger     *log.Logger
}

// NewClient builds a notification client. metrics may be nil.
func NewClient(url string, m *metrics.Set) *Client {
	return &Client{
		url: url,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
		metrics: m,
		logger:  log.New(log.Writer(), "[NOTIFY] ", log.LstdFlags),
	}
}

func (c *Client) count(outcome string) {
	if c.metrics != nil {
		c.metrics.NotificationsTotal.WithLabelValues(outcome).Inc()
	}
}

type userPayload struct {
	UserID  string                 `json:"userId"`
	Message string                 `json:"message"`
	Data    map[string]interface{} `json:"data,omitempty"`
}

type broadcastPayload struct {
	RecipientUserIDs []string               `json:"recipientUserIds"`
	MessageKey       string                 `json:"messageKey"`
	Data             map[string]interface{} `json:"data,omitempty"`
}

// NotifyUser sends a single-recipient notification.
func (c *Client) NotifyUser(ctx context.Context, userID primitive.ObjectID, message string, data map[string]interface{}) {
	c.post(ctx, userPayload{
		UserID:  userID.Hex(),
		Message: message,
		Data:    data,
	})
}

// Broadcast sends a keyed notification to several recipients at once.
func (c *Client) Broadcast(ctx context.Context, recipients []primitive.ObjectID, messageKey string, data map[string]interface{}) {
	ids := make([]string, len(recipients))
	for i, r := range recipients {
		ids[i] = r.Hex()
	}
	c.post(ctx, broadcastPayload{
		RecipientUserIDs: ids,
		MessageKey:       messageKey,
		Data:             data,
	})
}

// post delivers one payload with bounded retries and quadratic backoff.
func (c *Client) post(ctx context.Context, payload interface{}) {
	body, err := json.Marshal(payload)
	if err != nil {
		c.logger.Printf("failed to marshal notification: %v", err)
		c.count("dropped")
		return
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
		if err != nil {
			c.logger.Printf("failed to build notification request: %v", err)
			c.count("dropped")
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode < 400 {
				c.count("delivered")
				return
			}
			c.logger.Printf("notification attempt %d returned %d", attempt, resp.StatusCode)
		} else {
			c.logger.Printf("notification attempt %d failed: %v", attempt, err)
		}

		if attempt < maxAttempts {
			select {
			case <-time.After(time.Duration(attempt*attempt) * time.Second):
			case <-ctx.Done():
				c.count("dropped")
				return
			}
		}
	}
	c.logger.Printf("notification dropped after %d attempts", maxAttempts)
	c.count("dropped")
}
