package outlook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jirabridge/jirabridge/pkg/models"
)

// SubscriptionConfig for the streaming listener
type SubscriptionConfig struct {
	// ConnectionTimeout bounds how long a single streaming connection is
	// held before the server closes it and the listener reconnects.
	ConnectionTimeout time.Duration
	// KeepAliveInterval is how often the server emits keep-alive frames on
	// an otherwise idle connection.
	KeepAliveInterval time.Duration
}

// EventHandler processes one mailbox event. Implementations own their error
// handling; the listener never stops on a handler failure.
type EventHandler interface {
	Process(ctx context.Context, event models.Event)
}

// Subscriber holds a streaming notification subscription on the principal's
// inbox and feeds decoded events to a handler. Disconnects are followed by a
// resubscribe; redelivered events are absorbed by the handler's idempotency.
type Subscriber struct {
	client  *Client
	config  SubscriptionConfig
	logger  *slog.Logger
	httpCli *http.Client
}

// NewSubscriber creates a new streaming subscriber
func NewSubscriber(client *Client, cfg SubscriptionConfig, logger *slog.Logger) *Subscriber {
	if cfg.ConnectionTimeout <= 0 {
		cfg.ConnectionTimeout = 120 * time.Minute
	}
	if cfg.KeepAliveInterval <= 0 {
		cfg.KeepAliveInterval = 5 * time.Minute
	}
	return &Subscriber{
		client: client,
		config: cfg,
		logger: logger.With("component", "subscriber"),
		// streaming connections stay open for the configured timeout,
		// so no client-side timeout here
		httpCli: &http.Client{},
	}
}

// subscribe creates a streaming subscription for new inbox messages
func (s *Subscriber) subscribe(ctx context.Context) (string, error) {
	payload, err := json.Marshal(map[string]any{
		"@odata.type": "#Microsoft.OutlookServices.StreamingSubscription",
		"Resource":    fmt.Sprintf("users/%s/mailFolders('inbox')/messages", s.client.Principal()),
		"ChangeType":  "Created, Missed",
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal subscription: %w", err)
	}

	respBody, err := s.client.do(ctx, http.MethodPost, s.client.mailboxPath("/subscriptions"), payload)
	if err != nil {
		return "", fmt.Errorf("failed to create subscription: %w", err)
	}

	var sub struct {
		ID string `json:"Id"`
	}
	if err := json.Unmarshal(respBody, &sub); err != nil {
		return "", fmt.Errorf("failed to parse subscription: %w", err)
	}
	if sub.ID == "" {
		return "", fmt.Errorf("subscription response has no id")
	}
	return sub.ID, nil
}

// Listen blocks, receiving notifications and handing events to the handler
// until the context is cancelled. Each broken connection is followed by a
// fresh subscription.
func (s *Subscriber) Listen(ctx context.Context, handler EventHandler) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		subscriptionID, err := s.subscribe(ctx)
		if err != nil {
			s.logger.Error("failed to subscribe, retrying", "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(10 * time.Second):
			}
			continue
		}
		s.logger.Info("subscription established", "subscription_id", subscriptionID)

		if err := s.stream(ctx, subscriptionID, handler); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Warn("stream interrupted, reconnecting", "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(5 * time.Second):
			}
		}
	}
}

// stream holds one notification connection open and decodes its frames
func (s *Subscriber) stream(ctx context.Context, subscriptionID string, handler EventHandler) error {
	payload, err := json.Marshal(map[string]any{
		"ConnectionTimeoutInMinutes":             int(s.config.ConnectionTimeout.Minutes()),
		"KeepAliveNotificationIntervalInSeconds": int(s.config.KeepAliveInterval.Seconds()),
		"SubscriptionIds":                        []string{subscriptionID},
	})
	if err != nil {
		return fmt.Errorf("failed to marshal stream request: %w", err)
	}

	token, err := s.client.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("failed to get token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.client.baseURL+s.client.mailboxPath("/GetNotifications"), strings.NewReader(string(payload)))
	if err != nil {
		return fmt.Errorf("failed to create stream request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpCli.Do(req)
	if err != nil {
		return fmt.Errorf("failed to open stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	return s.decode(ctx, resp.Body, handler)
}

// notificationFrame is one frame of the streamed notification payload
type notificationFrame struct {
	ODataType    string `json:"@odata.type"`
	ChangeType   string `json:"ChangeType"`
	ResourceData struct {
		ODataType string `json:"@odata.type"`
		ID        string `json:"Id"`
	} `json:"ResourceData"`
}

// decode reads notification frames off the streamed "value" array as they
// arrive and dispatches them one at a time.
func (s *Subscriber) decode(ctx context.Context, r io.Reader, handler EventHandler) error {
	dec := json.NewDecoder(r)

	// scan forward to the "value" array
	for {
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("failed to read stream: %w", err)
		}
		if key, ok := tok.(string); ok && key == "value" {
			break
		}
	}
	if _, err := dec.Token(); err != nil { // opening bracket
		return fmt.Errorf("failed to read stream: %w", err)
	}

	for dec.More() {
		if err := ctx.Err(); err != nil {
			return err
		}

		var frame notificationFrame
		if err := dec.Decode(&frame); err != nil {
			return fmt.Errorf("failed to decode notification: %w", err)
		}

		if strings.Contains(frame.ODataType, "KeepAliveNotification") {
			s.logger.Debug("keep-alive received")
			continue
		}

		event := models.Event{ResourceID: frame.ResourceData.ID}
		switch strings.ToLower(frame.ChangeType) {
		case "created":
			event.Type = models.EventCreated
		case "missed":
			event.Type = models.EventMissed
		default:
			s.logger.Debug("ignoring notification", "change_type", frame.ChangeType)
			continue
		}
		if strings.Contains(frame.ResourceData.ODataType, "Message") {
			event.ResourceType = "message"
		}

		handler.Process(ctx, event)
	}
	return nil
}
