package jira

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(Config{
		BaseURL:    srv.URL,
		Username:   "bridge@example.com",
		APIToken:   "token",
		MaxRetries: 2,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestCreateIssue(t *testing.T) {
	var got map[string]any
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/rest/api/2/issue", r.URL.Path)

		user, _, ok := r.BasicAuth()
		require.True(t, ok)
		require.Equal(t, "bridge@example.com", user)

		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"10000","key":"SUP-42"}`))
	})

	key, err := client.CreateIssue(context.Background(), CreateIssueRequest{
		Summary:     "printer on fire",
		Description: "From: bob",
		ReporterID:  "abc123",
		ProjectKey:  "SUP",
		IssueType:   "Task",
		Labels:      []string{"support"},
		Priority:    "High",
	})
	require.NoError(t, err)
	assert.Equal(t, "SUP-42", key)

	fields := got["fields"].(map[string]any)
	assert.Equal(t, "printer on fire", fields["summary"])
	assert.Equal(t, map[string]any{"key": "SUP"}, fields["project"])
	assert.Equal(t, map[string]any{"id": "abc123"}, fields["reporter"])
	assert.Equal(t, map[string]any{"name": "High"}, fields["priority"])
}

func TestCreateIssueAnonymousReporter(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		var got map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		fields := got["fields"].(map[string]any)
		_, hasReporter := fields["reporter"]
		assert.False(t, hasReporter)
		_, hasPriority := fields["priority"]
		assert.False(t, hasPriority)
		w.Write([]byte(`{"key":"SUP-43"}`))
	})

	key, err := client.CreateIssue(context.Background(), CreateIssueRequest{
		Summary:    "no account",
		ProjectKey: "SUP",
		IssueType:  "Task",
	})
	require.NoError(t, err)
	assert.Equal(t, "SUP-43", key)
}

func TestIssueExists(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/rest/api/2/issue/SUP-1" {
			w.Write([]byte(`{"key":"SUP-1"}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	})

	exists, err := client.IssueExists(context.Background(), "SUP-1")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = client.IssueExists(context.Background(), "SUP-404")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestResolveEmail(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("query") == "alice@example.com" {
			w.Write([]byte(`[{"accountId":"abc123","displayName":"Alice"}]`))
			return
		}
		w.Write([]byte(`[]`))
	})

	user, err := client.ResolveEmail(context.Background(), "alice@example.com")
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "abc123", user.AccountID)

	user, err = client.ResolveEmail(context.Background(), "stranger@example.com")
	require.NoError(t, err)
	assert.Nil(t, user)
}

func TestAddCommentInternal(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/rest/api/2/issue/SUP-1/comment", r.URL.Path)
		var got map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		assert.Equal(t, "hello", got["body"])
		assert.NotNil(t, got["properties"])
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"2000"}`))
	})

	require.NoError(t, client.AddComment(context.Background(), "SUP-1", "hello", true))
}

func TestRetryOnServerError(t *testing.T) {
	var calls atomic.Int32
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"key":"SUP-1"}`))
	})

	exists, err := client.IssueExists(context.Background(), "SUP-1")
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, int32(2), calls.Load())
}

func TestNoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"errorMessages":["bad"]}`))
	})

	err := client.AddComment(context.Background(), "SUP-1", "hello", false)
	require.Error(t, err)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
}

func TestSearchKeys(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key in (SUP-1, SUP-2)", r.URL.Query().Get("jql"))
		w.Write([]byte(`{"issues":[{"key":"SUP-1"},{"key":"SUP-2"}]}`))
	})

	keys, err := client.SearchKeys(context.Background(), Query{Keys: []string{"SUP-1", "SUP-2"}}.Build(), 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"SUP-1", "SUP-2"}, keys)
}
