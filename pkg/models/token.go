package models

import "time"

// AccessToken is a persisted OAuth token for the mailbox transport. Only one
// token is kept at a time; saving a new one replaces the previous.
type AccessToken struct {
	ID           int64     `db:"id"`
	TokenType    string    `db:"token_type"`
	Scope        string    `db:"scope"`
	AccessToken  string    `db:"access_token"`
	RefreshToken string    `db:"refresh_token"`
	ExpiresIn    int64     `db:"expires_in"`
	ExpiresAt    float64   `db:"expires_at"` // unix seconds
	CreatedAt    time.Time `db:"created_at"`
}

// Expired reports whether the token expires within the given leeway.
func (t *AccessToken) Expired(leeway time.Duration) bool {
	return time.Now().Add(leeway).Unix() >= int64(t.ExpiresAt)
}
