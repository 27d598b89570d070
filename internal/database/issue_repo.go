package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jirabridge/jirabridge/pkg/models"
)

// ErrNotFound is returned when a record is not found
var ErrNotFound = errors.New("record not found")

// ErrAlreadyExists is returned when trying to insert a duplicate record
var ErrAlreadyExists = errors.New("record already exists")

// CreateIssue creates a local issue mirror together with its seed history.
// The remote ticket must already exist; callers persist the mirror only after
// the remote create succeeded.
func (db *DB) CreateIssue(ctx context.Context, issue *models.Issue) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	result, err := tx.ExecContext(ctx, `
		INSERT INTO issues (key, conversation_id, message_id, reporter, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		issue.Key, issue.ConversationID, issue.MessageID, issue.Reporter, now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to create issue: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	history := issue.History
	if len(history) == 0 && issue.MessageID != "" {
		history = []string{issue.MessageID}
	}
	for _, messageID := range history {
		_, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO issue_messages (issue_id, message_id, created_at)
			VALUES (?, ?, ?)`,
			id, messageID, now,
		)
		if err != nil {
			return fmt.Errorf("failed to seed history: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}

	issue.ID = id
	issue.CreatedAt = now
	issue.UpdatedAt = now
	issue.History = history
	return nil
}

// GetIssueByConversation returns the issue mapped to a mail conversation
func (db *DB) GetIssueByConversation(ctx context.Context, conversationID string) (*models.Issue, error) {
	return db.getIssue(ctx, `SELECT * FROM issues WHERE conversation_id = ?`, conversationID)
}

// GetIssueByKey returns the issue mirror for a Jira key
func (db *DB) GetIssueByKey(ctx context.Context, key string) (*models.Issue, error) {
	return db.getIssue(ctx, `SELECT * FROM issues WHERE key = ?`, key)
}

func (db *DB) getIssue(ctx context.Context, query string, arg any) (*models.Issue, error) {
	var issue models.Issue
	err := db.GetContext(ctx, &issue, query, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get issue: %w", err)
	}

	if err := db.SelectContext(ctx, &issue.History,
		`SELECT message_id FROM issue_messages WHERE issue_id = ? ORDER BY id`, issue.ID); err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	return &issue, nil
}

// AppendHistory records a message id as folded into an issue. Returns
// ErrAlreadyExists when the message id is already part of the history; the
// updated_at bump only happens for genuine appends.
func (db *DB) AppendHistory(ctx context.Context, issueID int64, messageID string) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	result, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO issue_messages (issue_id, message_id, created_at)
		VALUES (?, ?, ?)`,
		issueID, messageID, now,
	)
	if err != nil {
		return fmt.Errorf("failed to append history: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrAlreadyExists
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE issues SET updated_at = ? WHERE id = ?`, now, issueID); err != nil {
		return fmt.Errorf("failed to bump updated_at: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// DeleteIssue removes a local issue mirror and its history
func (db *DB) DeleteIssue(ctx context.Context, issueID int64) error {
	_, err := db.ExecContext(ctx, `DELETE FROM issues WHERE id = ?`, issueID)
	if err != nil {
		return fmt.Errorf("failed to delete issue: %w", err)
	}
	return nil
}

// ListIssues returns all local issue mirrors, most recently updated first
func (db *DB) ListIssues(ctx context.Context) ([]*models.Issue, error) {
	var issues []*models.Issue
	err := db.SelectContext(ctx, &issues, `SELECT * FROM issues ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list issues: %w", err)
	}
	return issues, nil
}
