package models

import "time"

// Markers embedded in the head of outgoing replies so the filter chain can
// recognize the bridge's own messages when they come back as inbound events.
// Any new marker kind must also be handled by the echo-suppression filter,
// otherwise its bounce-back will open a duplicate issue.
const (
	MarkerIssueNotification = "jira issue notification"
	MarkerCommentRelay      = "relay jira comment"
)

// MetaName is the name attribute carried by marker meta tags.
const MetaName = "message"

// Meta is a head metadata entry embedded in an outgoing reply.
type Meta struct {
	Name    string
	Content string
}

// Issue is the local mirror of a remote Jira issue. It maps a mail
// conversation to a ticket key and records which message ids have already
// been folded into the ticket.
type Issue struct {
	ID             int64     `db:"id"`
	Key            string    `db:"key"`             // Jira issue key, e.g. SUP-123
	ConversationID string    `db:"conversation_id"` // mail thread id; at most one issue per conversation
	MessageID      string    `db:"message_id"`      // message that originated the issue
	Reporter       string    `db:"reporter"`        // originating sender address
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`

	// History holds the message ids already folded into the ticket, in
	// append order. Loaded from the issue_messages table.
	History []string `db:"-"`
}

// HasMessage reports whether the message id is already part of the issue
// history.
func (i *Issue) HasMessage(messageID string) bool {
	for _, id := range i.History {
		if id == messageID {
			return true
		}
	}
	return false
}

// LastMessageID returns the most recently appended message id, or empty if
// the history is empty.
func (i *Issue) LastMessageID() string {
	if len(i.History) == 0 {
		return ""
	}
	return i.History[len(i.History)-1]
}
