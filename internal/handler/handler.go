// Package handler orchestrates one mailbox event at a time: fetch the full
// message, run the filter chain, then decide between opening a ticket and
// appending a comment, keeping ledger and tracker consistent along the way.
package handler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jirabridge/jirabridge/internal/filter"
	"github.com/jirabridge/jirabridge/internal/issue"
	"github.com/jirabridge/jirabridge/internal/parser"
	"github.com/jirabridge/jirabridge/internal/reply"
	"github.com/jirabridge/jirabridge/internal/template"
	"github.com/jirabridge/jirabridge/pkg/models"
)

// Mailbox fetches full messages; stub event payloads are never processed
// directly.
type Mailbox interface {
	GetMessage(ctx context.Context, id string) (*models.Message, error)
}

// Handler consumes mailbox events and drives them to Done
type Handler struct {
	mailbox   Mailbox
	issues    *issue.Service
	chain     *filter.Chain
	author    *reply.Author
	parser    *parser.HTMLParser
	templates *template.Engine
	locks     *conversationLocks
	logger    *slog.Logger
}

// Deps dependencies for creating a handler
type Deps struct {
	Mailbox   Mailbox
	Issues    *issue.Service
	Chain     *filter.Chain
	Author    *reply.Author
	Parser    *parser.HTMLParser
	Templates *template.Engine
	Logger    *slog.Logger
}

// New creates a notification handler
func New(deps Deps) *Handler {
	return &Handler{
		mailbox:   deps.Mailbox,
		issues:    deps.Issues,
		chain:     deps.Chain,
		author:    deps.Author,
		parser:    deps.Parser,
		templates: deps.Templates,
		locks:     newConversationLocks(),
		logger:    deps.Logger.With("component", "notification_handler"),
	}
}

// Process handles one mailbox event. Failures never escape: they are logged
// with context and the subscription loop moves on to the next event.
func (h *Handler) Process(ctx context.Context, event models.Event) {
	switch {
	case event.Type == models.EventMissed:
		// the transport resynchronizes after missed events
		h.logger.Warn("notification missed", "resource_id", event.ResourceID)
	case event.Type == models.EventCreated && event.ResourceType == "message":
		if err := h.processMessage(ctx, event.ResourceID); err != nil {
			h.logger.Error("failed to process message",
				"message_id", event.ResourceID, "error", err)
		}
	default:
		h.logger.Debug("ignoring event", "type", event.Type, "resource_type", event.ResourceType)
	}
}

func (h *Handler) processMessage(ctx context.Context, messageID string) error {
	msg, err := h.mailbox.GetMessage(ctx, messageID)
	if err != nil {
		return fmt.Errorf("failed to fetch message: %w", err)
	}

	h.logger.Info("processing new message",
		"message_id", msg.ID,
		"conversation_id", msg.ConversationID,
		"subject", msg.Subject,
		"from", msg.Sender.Address,
	)

	unlock := h.locks.Lock(msg.ConversationID)
	defer unlock()

	msg, err = h.chain.Run(ctx, msg)
	if err != nil {
		return err
	}
	if msg == nil {
		return nil
	}

	existing, err := h.issues.FindByConversation(ctx, msg.ConversationID)
	if err != nil {
		return err
	}

	if existing != nil {
		// reconcile with the remote store: a vanished ticket means the
		// mirror is stale, so drop it and treat the message as new
		exists, err := h.issues.RemoteExists(ctx, existing.Key)
		if err != nil {
			return fmt.Errorf("failed to check remote issue %s: %w", existing.Key, err)
		}
		if !exists {
			h.logger.Info("remote issue is gone, discarding stale mirror", "issue", existing.Key)
			if err := h.issues.Delete(ctx, existing); err != nil {
				return err
			}
			existing = nil
		}
	}

	if existing != nil {
		return h.appendComment(ctx, existing, msg)
	}
	return h.createIssue(ctx, msg)
}

// appendComment folds a follow-up message into an existing ticket
func (h *Handler) appendComment(ctx context.Context, existing *models.Issue, msg *models.Message) error {
	if existing.HasMessage(msg.ID) {
		// duplicate delivery; the comment is already there
		h.logger.Info("comment already added", "issue", existing.Key, "message_id", msg.ID)
		return nil
	}

	body, err := h.parser.Text(msg.UniqueBody)
	if err != nil {
		return fmt.Errorf("failed to render body: %w", err)
	}

	if err := h.issues.CreateComment(ctx, existing, msg.Sender.Address, body, msg.Watchers(), msg.Attachments); err != nil {
		return err
	}
	if err := h.issues.AddMessageToHistory(ctx, existing, msg.ID); err != nil {
		return err
	}

	h.logger.Info("new comment added", "issue", existing.Key, "message_id", msg.ID)
	return nil
}

// createIssue opens a ticket for the first surviving message of a
// conversation and notifies the reporter.
func (h *Handler) createIssue(ctx context.Context, msg *models.Message) error {
	body, err := h.parser.Text(msg.UniqueBody)
	if err != nil {
		return fmt.Errorf("failed to render body: %w", err)
	}

	created, err := h.issues.Create(ctx, issue.CreateParams{
		Title:          msg.Subject,
		Body:           body,
		Reporter:       msg.Sender.Address,
		Importance:     msg.Importance,
		Watchers:       msg.Watchers(),
		Attachments:    msg.Attachments,
		MessageID:      msg.ID,
		ConversationID: msg.ConversationID,
	})
	if err != nil {
		return err
	}

	// the ticket is the durable outcome; the notification is best-effort
	if err := h.notifyReporter(ctx, created, msg); err != nil {
		h.logger.Warn("failed to notify reporter", "issue", created.Key, "error", err)
	}

	h.logger.Info("new issue created", "issue", created.Key, "conversation_id", msg.ConversationID)
	return nil
}

// notifyReporter tells the reporter their issue was filed. The reply's own
// message id goes into history so its bounce-back is recognized as an echo.
func (h *Handler) notifyReporter(ctx context.Context, created *models.Issue, msg *models.Message) error {
	body, err := h.templates.Render("notification", map[string]string{
		"Summary": msg.Subject,
		"Key":     created.Key,
	})
	if err != nil {
		return err
	}

	replyID, err := h.author.Send(ctx, msg.ID, reply.Values{
		Body:   body,
		Marker: models.MarkerIssueNotification,
	})
	if err != nil {
		return err
	}
	return h.issues.AddMessageToHistory(ctx, created, replyID)
}
