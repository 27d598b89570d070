package filter

import (
	"context"
	"log/slog"

	"github.com/jirabridge/jirabridge/internal/parser"
	"github.com/jirabridge/jirabridge/pkg/models"
)

// EchoFilter suppresses the bridge's own outgoing messages when they come
// back as inbound events. Messages carrying a known head marker are folded
// into the history of the issue matching their conversation and dropped,
// which is what breaks the notification loop: without it, every reply the
// bridge sends would open a new ticket.
type EchoFilter struct {
	issues Ledger
	logger *slog.Logger
}

// NewEchoFilter creates the echo-suppression stage
func NewEchoFilter(issues Ledger, logger *slog.Logger) *EchoFilter {
	return &EchoFilter{issues: issues, logger: logger}
}

func (f *EchoFilter) Name() string { return "echo_suppression" }

func (f *EchoFilter) Apply(ctx context.Context, msg *models.Message) (*models.Message, error) {
	var reason string
	switch {
	case parser.HasMarker(msg.Body, models.MetaName, models.MarkerIssueNotification):
		reason = "issue creation notification"
	case parser.HasMarker(msg.Body, models.MetaName, models.MarkerCommentRelay):
		reason = "relayed ticket comment"
	default:
		return msg, nil
	}

	issue, err := f.issues.FindByConversation(ctx, msg.ConversationID)
	if err != nil {
		return nil, err
	}
	if issue != nil {
		if err := f.issues.AddMessageToHistory(ctx, issue, msg.ID); err != nil {
			return nil, err
		}
	}

	f.logger.Info("message filtered as a bridge echo",
		"reason", reason, "message_id", msg.ID, "conversation_id", msg.ConversationID)
	return nil, nil
}
