package filter

import (
	"context"
	"log/slog"
	"strings"

	"github.com/jirabridge/jirabridge/pkg/models"
)

// NewConversationFilter gates which messages may originate a ticket. For a
// conversation with no issue yet, principal-initiated threads never become
// tickets, and the principal must be directly addressed: a mere cc or bcc
// does not open an issue.
type NewConversationFilter struct {
	principal string
	issues    Ledger
	logger    *slog.Logger
}

// NewNewConversationFilter creates the new-conversation gate
func NewNewConversationFilter(principal string, issues Ledger, logger *slog.Logger) *NewConversationFilter {
	return &NewConversationFilter{
		principal: strings.ToLower(principal),
		issues:    issues,
		logger:    logger,
	}
}

func (f *NewConversationFilter) Name() string { return "new_conversation" }

func (f *NewConversationFilter) Apply(ctx context.Context, msg *models.Message) (*models.Message, error) {
	existing, err := f.issues.FindByConversation(ctx, msg.ConversationID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return msg, nil
	}

	if strings.ToLower(msg.Sender.Address) == f.principal {
		f.logger.Info("message filtered as the principal is the sender of a new conversation",
			"principal", f.principal)
		return nil, nil
	}

	for _, to := range msg.To {
		if strings.ToLower(to.Address) == f.principal {
			return msg, nil
		}
	}
	f.logger.Info("message filtered as the principal is not directly addressed in a new conversation",
		"principal", f.principal)
	return nil, nil
}
