package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jirabridge/jirabridge/pkg/models"
)

// GetToken returns the current access token, if any
func (db *DB) GetToken(ctx context.Context) (*models.AccessToken, error) {
	var token models.AccessToken
	err := db.GetContext(ctx, &token, `SELECT * FROM access_tokens ORDER BY id DESC LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get token: %w", err)
	}
	return &token, nil
}

// SaveToken stores a new access token, replacing any previous one
func (db *DB) SaveToken(ctx context.Context, token *models.AccessToken) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM access_tokens`); err != nil {
		return fmt.Errorf("failed to clear tokens: %w", err)
	}

	now := time.Now().UTC()
	result, err := tx.ExecContext(ctx, `
		INSERT INTO access_tokens (token_type, scope, access_token, refresh_token, expires_in, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		token.TokenType, token.Scope, token.AccessToken, token.RefreshToken,
		token.ExpiresIn, token.ExpiresAt, now,
	)
	if err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}

	token.ID = id
	token.CreatedAt = now
	return nil
}

// DeleteToken removes the stored access token
func (db *DB) DeleteToken(ctx context.Context) error {
	_, err := db.ExecContext(ctx, `DELETE FROM access_tokens`)
	if err != nil {
		return fmt.Errorf("failed to delete token: %w", err)
	}
	return nil
}
