// Package jira is a thin client for the Jira Cloud REST API covering the
// operations the bridge needs: creating issues, commenting, watchers,
// attachments and user lookup.
package jira

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrNotFound is returned when a remote resource does not exist
var ErrNotFound = errors.New("jira: not found")

// ErrPermission is returned when the principal lacks rights for an operation
var ErrPermission = errors.New("jira: permission denied")

// APIError is a non-2xx response from the Jira API
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("jira: API error (status %d): %s", e.StatusCode, e.Body)
}

// Transient reports whether the error is worth retrying
func (e *APIError) Transient() bool {
	return e.StatusCode >= 500
}

// Config for the Jira client
type Config struct {
	BaseURL    string // e.g. https://example.atlassian.net
	Username   string
	APIToken   string
	MaxRetries int
}

// Client is a Jira REST API client
type Client struct {
	baseURL    string
	username   string
	apiToken   string
	maxRetries uint64
	httpClient *http.Client
	logger     *slog.Logger
}

// User is a Jira account
type User struct {
	AccountID    string `json:"accountId"`
	DisplayName  string `json:"displayName"`
	EmailAddress string `json:"emailAddress"`
}

// Comment is a single issue comment
type Comment struct {
	ID           string `json:"id"`
	Body         string `json:"body"`
	RenderedBody string `json:"renderedBody"`
	Author       User   `json:"author"`
}

// CreateIssueRequest holds the fields for a new issue
type CreateIssueRequest struct {
	Summary     string
	Description string
	ReporterID  string // empty for anonymous reporters
	ProjectKey  string
	IssueType   string
	Labels      []string
	Priority    string // "High", "Low" or empty
}

// NewClient creates a new Jira client
func NewClient(cfg Config, logger *slog.Logger) *Client {
	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = 3
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		username:   cfg.Username,
		apiToken:   cfg.APIToken,
		maxRetries: uint64(retries),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger.With("component", "jira_client"),
	}
}

// do sends a request with bounded retry for transient failures. Payloads are
// passed as bytes so retries can replay them. 4xx responses are final.
func (c *Client) do(ctx context.Context, method, path, contentType string, payload []byte) ([]byte, error) {
	op := func() ([]byte, error) {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		req.SetBasicAuth(c.username, c.apiToken)
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		if method == http.MethodPost && contentType != "" && contentType != "application/json" {
			// Jira rejects multipart uploads without this header
			req.Header.Set("X-Atlassian-Token", "no-check")
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
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return nil, backoff.Permanent(fmt.Errorf("%w: %s %s", ErrPermission, method, path))
		case resp.StatusCode >= 500:
			return nil, &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
		default:
			return nil, backoff.Permanent(&APIError{StatusCode: resp.StatusCode, Body: string(respBody)})
		}
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.maxRetries), ctx)
	return backoff.RetryWithData(op, b)
}

// CreateIssue creates a new issue and returns its key
func (c *Client) CreateIssue(ctx context.Context, req CreateIssueRequest) (string, error) {
	fields := map[string]any{
		"summary":     req.Summary,
		"description": req.Description,
		"project":     map[string]string{"key": req.ProjectKey},
		"issuetype":   map[string]string{"name": req.IssueType},
		"labels":      req.Labels,
	}
	if req.ReporterID != "" {
		fields["reporter"] = map[string]string{"id": req.ReporterID}
	}
	if req.Priority != "" {
		fields["priority"] = map[string]string{"name": req.Priority}
	}

	payload, err := json.Marshal(map[string]any{"fields": fields})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	respBody, err := c.do(ctx, http.MethodPost, "/rest/api/2/issue", "application/json", payload)
	if err != nil {
		return "", fmt.Errorf("failed to create issue: %w", err)
	}

	var result struct {
		Key string `json:"key"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if result.Key == "" {
		return "", fmt.Errorf("create issue response has no key")
	}
	return result.Key, nil
}

// AddComment adds a comment to an issue. Internal comments stay hidden from
// the customer-facing portal.
func (c *Client) AddComment(ctx context.Context, key, body string, internal bool) error {
	req := map[string]any{"body": body}
	if internal {
		req["properties"] = []map[string]any{
			{"key": "sd.public.comment", "value": map[string]bool{"internal": true}},
		}
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	if _, err := c.do(ctx, http.MethodPost, "/rest/api/2/issue/"+url.PathEscape(key)+"/comment", "application/json", payload); err != nil {
		return fmt.Errorf("failed to add comment: %w", err)
	}
	return nil
}

// HasPermission reports whether the authenticated principal holds the given
// global permission.
func (c *Client) HasPermission(ctx context.Context, permission string) (bool, error) {
	respBody, err := c.do(ctx, http.MethodGet, "/rest/api/2/mypermissions?permissions="+url.QueryEscape(permission), "", nil)
	if err != nil {
		return false, fmt.Errorf("failed to get permissions: %w", err)
	}

	var result struct {
		Permissions map[string]struct {
			HavePermission bool `json:"havePermission"`
		} `json:"permissions"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return false, fmt.Errorf("failed to parse response: %w", err)
	}
	p, ok := result.Permissions[permission]
	return ok && p.HavePermission, nil
}

// AddWatchers adds the resolved users as watchers on an issue. Permission
// failures are logged and skipped so a restricted principal never aborts
// issue processing.
func (c *Client) AddWatchers(ctx context.Context, key string, watchers []User) error {
	if len(watchers) == 0 {
		return nil
	}

	ok, err := c.HasPermission(ctx, "MANAGE_WATCHERS")
	if err != nil || !ok {
		c.logger.Warn("principal has no permission to manage watchers", "issue", key, "error", err)
		return nil
	}

	for _, watcher := range watchers {
		if watcher.AccountID == "" {
			continue
		}
		payload, err := json.Marshal(watcher.AccountID)
		if err != nil {
			return fmt.Errorf("failed to marshal watcher: %w", err)
		}
		_, err = c.do(ctx, http.MethodPost, "/rest/api/2/issue/"+url.PathEscape(key)+"/watchers", "application/json", payload)
		if errors.Is(err, ErrPermission) {
			c.logger.Warn("watcher has no permission to watch issue",
				"issue", key, "watcher", watcher.DisplayName)
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to add watcher: %w", err)
		}
	}
	return nil
}

// AddAttachment uploads a file to an issue
func (c *Client) AddAttachment(ctx context.Context, key, filename string, content []byte) error {
	if len(content) == 0 {
		c.logger.Warn("attachment is empty, skipping", "issue", key, "filename", filename)
		return nil
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(content); err != nil {
		return fmt.Errorf("failed to write attachment: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close multipart writer: %w", err)
	}

	if _, err := c.do(ctx, http.MethodPost, "/rest/api/2/issue/"+url.PathEscape(key)+"/attachments", w.FormDataContentType(), buf.Bytes()); err != nil {
		return fmt.Errorf("failed to add attachment: %w", err)
	}
	return nil
}

// ResolveEmail translates an email address into a Jira user. Returns nil
// when no account matches.
func (c *Client) ResolveEmail(ctx context.Context, email string) (*User, error) {
	if email == "" {
		return nil, nil
	}

	respBody, err := c.do(ctx, http.MethodGet, "/rest/api/2/user/search?maxResults=1&query="+url.QueryEscape(email), "", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to search users: %w", err)
	}

	var users []User
	if err := json.Unmarshal(respBody, &users); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(users) == 0 {
		return nil, nil
	}
	return &users[0], nil
}

// IssueExists reports whether an issue with the given key exists remotely
func (c *Client) IssueExists(ctx context.Context, key string) (bool, error) {
	_, err := c.do(ctx, http.MethodGet, "/rest/api/2/issue/"+url.PathEscape(key)+"?fields=key", "", nil)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get issue: %w", err)
	}
	return true, nil
}

// GetComment fetches a single comment with its rendered HTML body
func (c *Client) GetComment(ctx context.Context, key, commentID string) (*Comment, error) {
	path := "/rest/api/2/issue/" + url.PathEscape(key) + "/comment/" + url.PathEscape(commentID) + "?expand=renderedBody"
	respBody, err := c.do(ctx, http.MethodGet, path, "", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get comment: %w", err)
	}

	var comment Comment
	if err := json.Unmarshal(respBody, &comment); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &comment, nil
}

// Content fetches a server-relative asset, such as an image referenced by a
// rendered comment body.
func (c *Client) Content(ctx context.Context, path string) ([]byte, error) {
	data, err := c.do(ctx, http.MethodGet, path, "", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch content: %w", err)
	}
	return data, nil
}

// SearchKeys runs a JQL query and returns the matching issue keys
func (c *Client) SearchKeys(ctx context.Context, jql string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 20
	}
	path := "/rest/api/2/search?fields=key&maxResults=" + strconv.Itoa(limit) + "&jql=" + url.QueryEscape(jql)
	respBody, err := c.do(ctx, http.MethodGet, path, "", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to search issues: %w", err)
	}

	var result struct {
		Issues []struct {
			Key string `json:"key"`
		} `json:"issues"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	keys := make([]string, 0, len(result.Issues))
	for _, issue := range result.Issues {
		keys = append(keys, issue.Key)
	}
	return keys, nil
}
