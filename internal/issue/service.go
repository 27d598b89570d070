// Package issue keeps the conversation→ticket mapping consistent: remote
// tickets are created first, the local mirror only after remote success, and
// every message id is folded into history exactly once.
package issue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jirabridge/jirabridge/internal/database"
	"github.com/jirabridge/jirabridge/internal/jira"
	"github.com/jirabridge/jirabridge/internal/template"
	"github.com/jirabridge/jirabridge/pkg/models"
)

// Tracker is the remote ticket system
type Tracker interface {
	CreateIssue(ctx context.Context, req jira.CreateIssueRequest) (string, error)
	AddComment(ctx context.Context, key, body string, internal bool) error
	AddWatchers(ctx context.Context, key string, watchers []jira.User) error
	AddAttachment(ctx context.Context, key, filename string, content []byte) error
	ResolveEmail(ctx context.Context, email string) (*jira.User, error)
	IssueExists(ctx context.Context, key string) (bool, error)
	SearchKeys(ctx context.Context, jql string, limit int) ([]string, error)
}

// Store is the local issue ledger
type Store interface {
	CreateIssue(ctx context.Context, issue *models.Issue) error
	GetIssueByConversation(ctx context.Context, conversationID string) (*models.Issue, error)
	GetIssueByKey(ctx context.Context, key string) (*models.Issue, error)
	AppendHistory(ctx context.Context, issueID int64, messageID string) error
	DeleteIssue(ctx context.Context, issueID int64) error
	ListIssues(ctx context.Context) ([]*models.Issue, error)
}

// Options configure ticket defaults
type Options struct {
	ProjectKey    string
	IssueType     string
	DefaultLabels []string
}

// Service implements the issue operations used by the filter chain and the
// notification handler.
type Service struct {
	tracker   Tracker
	store     Store
	templates *template.Engine
	options   Options
	logger    *slog.Logger
}

// NewService creates a new issue service
func NewService(tracker Tracker, store Store, templates *template.Engine, opts Options, logger *slog.Logger) *Service {
	return &Service{
		tracker:   tracker,
		store:     store,
		templates: templates,
		options:   opts,
		logger:    logger.With("component", "issue_service"),
	}
}

// CreateParams holds everything needed to open a ticket from a message
type CreateParams struct {
	Title          string
	Body           string // plain text body for the ticket
	Reporter       string // sender address
	Importance     string // message importance: low, normal, high
	Watchers       []string
	Attachments    []models.Attachment
	MessageID      string
	ConversationID string
}

// Create opens a remote ticket and, only after remote success, persists the
// local mirror. A remote failure leaves no local state behind.
func (s *Service) Create(ctx context.Context, params CreateParams) (*models.Issue, error) {
	reporter, err := s.tracker.ResolveEmail(ctx, params.Reporter)
	if err != nil {
		s.logger.Warn("failed to resolve reporter", "email", params.Reporter, "error", err)
	}
	watchers, mentions := s.resolveWatchers(ctx, params.Watchers)

	body, err := s.templates.Render("issue", map[string]string{
		"Author": jira.Mention(reporter, params.Reporter),
		"CC":     strings.Join(mentions, " "),
		"Body":   params.Body,
	})
	if err != nil {
		return nil, err
	}

	// if the reporter has no tracker account, the ticket is reported
	// anonymously and the origin stays visible in the body
	var reporterID string
	if reporter != nil {
		reporterID = reporter.AccountID
	}

	key, err := s.tracker.CreateIssue(ctx, jira.CreateIssueRequest{
		Summary:     params.Title,
		Description: body,
		ReporterID:  reporterID,
		ProjectKey:  s.options.ProjectKey,
		IssueType:   s.options.IssueType,
		Labels:      s.options.DefaultLabels,
		Priority:    mapPriority(params.Importance),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create remote issue: %w", err)
	}

	if err := s.tracker.AddWatchers(ctx, key, watchers); err != nil {
		s.logger.Warn("failed to add watchers", "issue", key, "error", err)
	}
	s.attach(ctx, key, params.Attachments)

	issue := &models.Issue{
		Key:            key,
		ConversationID: params.ConversationID,
		MessageID:      params.MessageID,
		Reporter:       params.Reporter,
	}
	if err := s.store.CreateIssue(ctx, issue); err != nil {
		// the remote ticket exists without a mirror; later lookups
		// self-heal through the remote existence check
		return nil, fmt.Errorf("failed to persist issue %s: %w", key, err)
	}

	s.logger.Info("created issue", "issue", key, "conversation_id", params.ConversationID)
	return issue, nil
}

// CreateComment relays a message into an existing ticket as an internal
// comment, with watchers and attachments along for the ride.
func (s *Service) CreateComment(ctx context.Context, issue *models.Issue, author, body string, watcherEmails []string, attachments []models.Attachment) error {
	user, err := s.tracker.ResolveEmail(ctx, author)
	if err != nil {
		s.logger.Warn("failed to resolve author", "email", author, "error", err)
	}
	watchers, mentions := s.resolveWatchers(ctx, watcherEmails)

	rendered, err := s.templates.Render("issue", map[string]string{
		"Author": jira.Mention(user, author),
		"CC":     strings.Join(mentions, " "),
		"Body":   body,
	})
	if err != nil {
		return err
	}

	if err := s.tracker.AddComment(ctx, issue.Key, rendered, true); err != nil {
		return fmt.Errorf("failed to add comment to %s: %w", issue.Key, err)
	}

	if err := s.tracker.AddWatchers(ctx, issue.Key, watchers); err != nil {
		s.logger.Warn("failed to add watchers", "issue", issue.Key, "error", err)
	}
	s.attach(ctx, issue.Key, attachments)
	return nil
}

// AddMessageToHistory folds a message id into the issue history. Duplicates
// are a no-op: redelivered events must never produce duplicate entries.
func (s *Service) AddMessageToHistory(ctx context.Context, issue *models.Issue, messageID string) error {
	err := s.store.AppendHistory(ctx, issue.ID, messageID)
	if errors.Is(err, database.ErrAlreadyExists) {
		s.logger.Debug("message already in history", "issue", issue.Key, "message_id", messageID)
		return nil
	}
	if err != nil {
		return err
	}
	issue.History = append(issue.History, messageID)
	return nil
}

// FindByConversation returns the issue mapped to a conversation, or nil
func (s *Service) FindByConversation(ctx context.Context, conversationID string) (*models.Issue, error) {
	issue, err := s.store.GetIssueByConversation(ctx, conversationID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, nil
	}
	return issue, err
}

// FindByKey returns the local mirror for a ticket key, or nil
func (s *Service) FindByKey(ctx context.Context, key string) (*models.Issue, error) {
	issue, err := s.store.GetIssueByKey(ctx, key)
	if errors.Is(err, database.ErrNotFound) {
		return nil, nil
	}
	return issue, err
}

// Delete removes a local mirror, typically because the remote ticket is gone
func (s *Service) Delete(ctx context.Context, issue *models.Issue) error {
	if err := s.store.DeleteIssue(ctx, issue.ID); err != nil {
		return err
	}
	s.logger.Info("deleted issue", "issue", issue.Key)
	return nil
}

// RemoteExists reports whether the ticket still exists in the tracker
func (s *Service) RemoteExists(ctx context.Context, key string) (bool, error) {
	return s.tracker.IssueExists(ctx, key)
}

// FindQuery combines local mirror filters with remote JQL filters
type FindQuery struct {
	Reporter string // local
	Assignee string
	Labels   []string
	Status   string
	Text     string // summary search
	Watcher  string
	Sort     string
	Limit    int
}

// Find returns local issues narrowed through a remote search. Local mirrors
// whose keys the tracker no longer knows are silently skipped, since the
// ledger may lag behind the remote store.
func (s *Service) Find(ctx context.Context, q FindQuery) ([]*models.Issue, error) {
	local, err := s.store.ListIssues(ctx)
	if err != nil {
		return nil, err
	}

	byKey := make(map[string]*models.Issue, len(local))
	var keys []string
	for _, issue := range local {
		if q.Reporter != "" && issue.Reporter != q.Reporter {
			continue
		}
		byKey[issue.Key] = issue
		keys = append(keys, issue.Key)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	jql := jira.Query{
		Assignee: q.Assignee,
		Keys:     keys,
		Labels:   q.Labels,
		Status:   q.Status,
		Summary:  q.Text,
		Watcher:  q.Watcher,
		Sort:     q.Sort,
	}.Build()

	remoteKeys, err := s.tracker.SearchKeys(ctx, jql, q.Limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search issues: %w", err)
	}

	var result []*models.Issue
	for _, key := range remoteKeys {
		if issue, ok := byKey[key]; ok {
			result = append(result, issue)
		}
	}
	return result, nil
}

// resolveWatchers translates watcher emails into tracker accounts where
// possible. Unresolved addresses still show up as mailto mentions.
func (s *Service) resolveWatchers(ctx context.Context, emails []string) ([]jira.User, []string) {
	var users []jira.User
	var mentions []string
	for _, email := range emails {
		user, err := s.tracker.ResolveEmail(ctx, email)
		if err != nil {
			s.logger.Warn("failed to resolve watcher", "email", email, "error", err)
		}
		if user != nil {
			users = append(users, *user)
		}
		if m := jira.Mention(user, email); m != "" {
			mentions = append(mentions, m)
		}
	}
	return users, mentions
}

// attach uploads attachments one by one; individual failures are logged and
// skipped, never aborting the surrounding create or comment.
func (s *Service) attach(ctx context.Context, key string, attachments []models.Attachment) {
	for _, a := range attachments {
		if err := s.tracker.AddAttachment(ctx, key, a.Name, a.Content); err != nil {
			s.logger.Warn("failed to add attachment, skipping",
				"issue", key, "filename", a.Name, "error", err)
		}
	}
}

// mapPriority maps message importance onto ticket priority. Only high and
// low map; anything else keeps the project default.
func mapPriority(importance string) string {
	switch strings.ToLower(importance) {
	case "high":
		return "High"
	case "low":
		return "Low"
	default:
		return ""
	}
}
