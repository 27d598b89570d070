// Package outlook is a Microsoft Graph client for the principal mailbox:
// fetching full messages, authoring replies, deleting messages and holding
// the streaming notification subscription.
package outlook

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/jirabridge/jirabridge/pkg/models"
)

// ErrNotFound is returned when a remote resource does not exist
var ErrNotFound = errors.New("outlook: not found")

// APIError is a non-2xx response from the Graph API
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("outlook: API error (status %d): %s", e.StatusCode, e.Body)
}

// Transient reports whether the error is worth retrying
func (e *APIError) Transient() bool {
	return e.StatusCode >= 500
}

// Config for the mailbox client
type Config struct {
	BaseURL    string // e.g. https://graph.microsoft.com/v1.0
	Principal  string // mailbox address the bridge acts as
	MaxRetries int
}

// Client is a Graph API client scoped to one mailbox
type Client struct {
	baseURL    string
	principal  string
	maxRetries uint64
	tokens     *TokenSource
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new mailbox client
func NewClient(cfg Config, tokens *TokenSource, logger *slog.Logger) *Client {
	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = 3
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		principal:  cfg.Principal,
		maxRetries: uint64(retries),
		tokens:     tokens,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		logger: logger.With("component", "outlook_client"),
	}
}

// Principal returns the mailbox address the client acts as
func (c *Client) Principal() string {
	return c.principal
}

func (c *Client) mailboxPath(suffix string) string {
	return "/users/" + url.PathEscape(c.principal) + suffix
}

// do sends an authenticated request with bounded retry for transient
// failures. 4xx responses are final.
func (c *Client) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	op := func() ([]byte, error) {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get token: %w", err)
		}

		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		req.Header.Set("Authorization", "Bearer "+token)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("failed to send request: %w", err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}

		switch {
		case resp.StatusCode < 300:
			return respBody, nil
		case resp.StatusCode == http.StatusNotFound:
			return nil, backoff.Permanent(fmt.Errorf("%w: %s %s", ErrNotFound, method, path))
		case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
			return nil, &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
		default:
			return nil, backoff.Permanent(&APIError{StatusCode: resp.StatusCode, Body: string(respBody)})
		}
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.maxRetries), ctx)
	return backoff.RetryWithData(op, b)
}

// graphRecipient mirrors the Graph recipient shape
type graphRecipient struct {
	EmailAddress struct {
		Name    string `json:"name"`
		Address string `json:"address"`
	} `json:"emailAddress"`
}

func (r graphRecipient) address() models.Address {
	return models.Address{Name: r.EmailAddress.Name, Address: r.EmailAddress.Address}
}

func addresses(recipients []graphRecipient) []models.Address {
	out := make([]models.Address, 0, len(recipients))
	for _, r := range recipients {
		out = append(out, r.address())
	}
	return out
}

// graphMessage mirrors the Graph message shape
type graphMessage struct {
	ID               string `json:"id"`
	ConversationID   string `json:"conversationId"`
	ParentFolderID   string `json:"parentFolderId"`
	Subject          string `json:"subject"`
	Importance       string `json:"importance"`
	ReceivedDateTime string `json:"receivedDateTime"`
	HasAttachments   bool   `json:"hasAttachments"`
	Body             struct {
		Content string `json:"content"`
	} `json:"body"`
	UniqueBody struct {
		Content string `json:"content"`
	} `json:"uniqueBody"`
	From          graphRecipient   `json:"from"`
	ToRecipients  []graphRecipient `json:"toRecipients"`
	CcRecipients  []graphRecipient `json:"ccRecipients"`
	BccRecipients []graphRecipient `json:"bccRecipients"`
	Attachments   []struct {
		Name         string `json:"name"`
		ContentType  string `json:"contentType"`
		ContentBytes string `json:"contentBytes"`
	} `json:"attachments"`
}

const messageSelect = "$select=id,conversationId,parentFolderId,subject,importance," +
	"receivedDateTime,hasAttachments,body,uniqueBody,from,toRecipients,ccRecipients,bccRecipients" +
	"&$expand=attachments"

// GetMessage fetches a full message, including recipients, unique body and
// decoded attachments. Stub event payloads are never enough; the handler
// always works from this fetch.
func (c *Client) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	respBody, err := c.do(ctx, http.MethodGet, c.mailboxPath("/messages/"+url.PathEscape(id)+"?"+messageSelect), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}

	var gm graphMessage
	if err := json.Unmarshal(respBody, &gm); err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}

	msg := &models.Message{
		ID:             gm.ID,
		ConversationID: gm.ConversationID,
		FolderID:       gm.ParentFolderID,
		Subject:        gm.Subject,
		Sender:         gm.From.address(),
		To:             addresses(gm.ToRecipients),
		CC:             addresses(gm.CcRecipients),
		BCC:            addresses(gm.BccRecipients),
		Body:           gm.Body.Content,
		UniqueBody:     gm.UniqueBody.Content,
		Importance:     gm.Importance,
		HasAttachments: gm.HasAttachments,
	}
	if gm.ReceivedDateTime != "" {
		if received, err := time.Parse(time.RFC3339, gm.ReceivedDateTime); err == nil {
			msg.Received = received
		}
	}
	for _, a := range gm.Attachments {
		content, err := base64.StdEncoding.DecodeString(a.ContentBytes)
		if err != nil {
			c.logger.Warn("failed to decode attachment, skipping", "name", a.Name, "error", err)
			continue
		}
		msg.Attachments = append(msg.Attachments, models.Attachment{
			Name:        a.Name,
			ContentType: a.ContentType,
			Content:     content,
		})
	}
	return msg, nil
}

// ReplyDraft is a reply-all draft addressed to all original recipients,
// holding the mail system's pre-populated quoted body.
type ReplyDraft struct {
	ID   string
	Body string // HTML with the quoted thread
}

// CreateReplyDraft creates a reply-all draft for the source message
func (c *Client) CreateReplyDraft(ctx context.Context, sourceID string) (*ReplyDraft, error) {
	respBody, err := c.do(ctx, http.MethodPost, c.mailboxPath("/messages/"+url.PathEscape(sourceID)+"/createReplyAll"), []byte("{}"))
	if err != nil {
		return nil, fmt.Errorf("failed to create reply draft: %w", err)
	}

	var draft struct {
		ID   string `json:"id"`
		Body struct {
			Content string `json:"content"`
		} `json:"body"`
	}
	if err := json.Unmarshal(respBody, &draft); err != nil {
		return nil, fmt.Errorf("failed to parse draft: %w", err)
	}
	if draft.ID == "" {
		return nil, fmt.Errorf("reply draft has no id")
	}
	return &ReplyDraft{ID: draft.ID, Body: draft.Body.Content}, nil
}

// SetMessageBody replaces a draft's body with the given HTML
func (c *Client) SetMessageBody(ctx context.Context, id, html string) error {
	patch, err := json.Marshal(map[string]any{
		"body": map[string]string{"contentType": "html", "content": html},
	})
	if err != nil {
		return fmt.Errorf("failed to marshal body: %w", err)
	}
	if _, err := c.do(ctx, http.MethodPatch, c.mailboxPath("/messages/"+url.PathEscape(id)), patch); err != nil {
		return fmt.Errorf("failed to set message body: %w", err)
	}
	return nil
}

// SendDraft sends a previously created draft
func (c *Client) SendDraft(ctx context.Context, id string) error {
	if _, err := c.do(ctx, http.MethodPost, c.mailboxPath("/messages/"+url.PathEscape(id)+"/send"), []byte("{}")); err != nil {
		return fmt.Errorf("failed to send draft: %w", err)
	}
	return nil
}

// DeleteMessage deletes a message from the mailbox
func (c *Client) DeleteMessage(ctx context.Context, id string) error {
	if _, err := c.do(ctx, http.MethodDelete, c.mailboxPath("/messages/"+url.PathEscape(id)), nil); err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return nil
}
