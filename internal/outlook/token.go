package outlook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/jirabridge/jirabridge/internal/database"
	"github.com/jirabridge/jirabridge/pkg/models"
)

// tokenLeeway is how early a token is considered expired, to avoid using a
// token that dies mid-request.
const tokenLeeway = time.Minute

// TokenStore persists the current OAuth token across restarts
type TokenStore interface {
	GetToken(ctx context.Context) (*models.AccessToken, error)
	SaveToken(ctx context.Context, token *models.AccessToken) error
}

// TokenConfig for the token source
type TokenConfig struct {
	LoginBaseURL string // e.g. https://login.microsoftonline.com
	TenantID     string
	ClientID     string
	ClientSecret string
	Scope        string // defaults to the Graph application scope
}

// TokenSource acquires and refreshes client-credentials tokens for the
// mailbox API, caching them in memory and in the token store.
type TokenSource struct {
	config     TokenConfig
	store      TokenStore
	httpClient *http.Client
	logger     *slog.Logger

	mu      sync.Mutex
	current *models.AccessToken
}

// NewTokenSource creates a new token source
func NewTokenSource(cfg TokenConfig, store TokenStore, logger *slog.Logger) *TokenSource {
	if cfg.Scope == "" {
		cfg.Scope = "https://graph.microsoft.com/.default"
	}
	return &TokenSource{
		config: cfg,
		store:  store,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger.With("component", "token_source"),
	}
}

// Token returns a valid access token, refreshing it when needed
func (s *TokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil && !s.current.Expired(tokenLeeway) {
		return s.current.AccessToken, nil
	}

	// try the persisted token before requesting a fresh one
	if s.current == nil && s.store != nil {
		stored, err := s.store.GetToken(ctx)
		if err != nil && !errors.Is(err, database.ErrNotFound) {
			s.logger.Warn("failed to load stored token", "error", err)
		}
		if stored != nil && !stored.Expired(tokenLeeway) {
			s.current = stored
			return stored.AccessToken, nil
		}
	}

	token, err := s.acquire(ctx)
	if err != nil {
		return "", err
	}

	if s.store != nil {
		if err := s.store.SaveToken(ctx, token); err != nil {
			s.logger.Warn("failed to persist token", "error", err)
		}
	}

	s.current = token
	return token.AccessToken, nil
}

// acquire requests a new token via the client-credentials grant
func (s *TokenSource) acquire(ctx context.Context) (*models.AccessToken, error) {
	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {s.config.ClientID},
		"client_secret": {s.config.ClientSecret},
		"scope":         {s.config.Scope},
	}

	endpoint := fmt.Sprintf("%s/%s/oauth2/v2.0/token", s.config.LoginBaseURL, s.config.TenantID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to request token: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token request failed (status %d): %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		TokenType   string `json:"token_type"`
		ExpiresIn   int64  `json:"expires_in"`
		AccessToken string `json:"access_token"`
		Scope       string `json:"scope"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}
	if result.AccessToken == "" {
		return nil, fmt.Errorf("token response has no access token")
	}

	s.logger.Debug("acquired new access token", "expires_in", result.ExpiresIn)

	return &models.AccessToken{
		TokenType:   result.TokenType,
		Scope:       result.Scope,
		AccessToken: result.AccessToken,
		ExpiresIn:   result.ExpiresIn,
		ExpiresAt:   float64(time.Now().Unix() + result.ExpiresIn),
	}, nil
}
