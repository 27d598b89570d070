// Package reply authors the bridge's outgoing replies. Every reply embeds a
// machine-readable marker in the document head so the filter chain can
// recognize the bridge's own messages when they bounce back as inbound
// events. The marker lives in head metadata, not the visible body, so it
// survives quoting and forwarding.
package reply

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jirabridge/jirabridge/internal/outlook"
	"github.com/jirabridge/jirabridge/internal/parser"
	"github.com/jirabridge/jirabridge/internal/template"
	"github.com/jirabridge/jirabridge/pkg/models"
)

// Mailbox is the draft surface the author needs
type Mailbox interface {
	CreateReplyDraft(ctx context.Context, sourceID string) (*outlook.ReplyDraft, error)
	SetMessageBody(ctx context.Context, id, html string) error
	SendDraft(ctx context.Context, id string) error
}

// Values parameterize a reply body
type Values struct {
	Body   string // new HTML content placed above the quoted thread
	Author string // optional attribution line, e.g. a comment author
	Marker string // one of the reserved marker values
}

// Author builds and sends marker-tagged replies
type Author struct {
	mailbox   Mailbox
	parser    *parser.HTMLParser
	templates *template.Engine
	logger    *slog.Logger
}

// NewAuthor creates a reply author
func NewAuthor(mailbox Mailbox, htmlParser *parser.HTMLParser, templates *template.Engine, logger *slog.Logger) *Author {
	return &Author{
		mailbox:   mailbox,
		parser:    htmlParser,
		templates: templates,
		logger:    logger.With("component", "reply_author"),
	}
}

// Send replies to the source message, addressed to all its original
// recipients, with the rendered body and the marker in the head. It returns
// the reply's own message id so the caller can fold it into issue history.
func (a *Author) Send(ctx context.Context, sourceID string, values Values) (string, error) {
	draft, err := a.mailbox.CreateReplyDraft(ctx, sourceID)
	if err != nil {
		return "", fmt.Errorf("failed to create reply: %w", err)
	}

	// keep the quoted thread the mail system prepared, minus its separator
	parts, err := a.parser.ReplyParts(draft.Body)
	if err != nil {
		a.logger.Warn("failed to process reply body, using raw quote", "error", err)
		parts = &parser.ReplyParts{Body: draft.Body}
	}

	body, err := a.templates.Render("reply", map[string]any{
		"Metadata": []models.Meta{{Name: models.MetaName, Content: values.Marker}},
		"Style":    parts.Style,
		"Body":     values.Body,
		"Author":   values.Author,
		"Reply":    parts.Body,
	})
	if err != nil {
		return "", err
	}

	if err := a.mailbox.SetMessageBody(ctx, draft.ID, body); err != nil {
		return "", err
	}
	if err := a.mailbox.SendDraft(ctx, draft.ID); err != nil {
		return "", err
	}
	return draft.ID, nil
}
