// Package filter implements the ordered chain that classifies inbound
// messages before they reach the notification handler. Each stage either
// passes the message on, acts on it (sending a reply, deleting the source)
// or vetoes it. A veto halts the chain: later stages never observe a
// message an earlier stage discarded.
package filter

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jirabridge/jirabridge/pkg/models"
)

// Filter is a single chain stage. Apply returns nil to drop the message and
// stop the chain.
type Filter interface {
	Name() string
	Apply(ctx context.Context, msg *models.Message) (*models.Message, error)
}

// Ledger is the view of the issue service the stages need
type Ledger interface {
	FindByConversation(ctx context.Context, conversationID string) (*models.Issue, error)
	FindByKey(ctx context.Context, key string) (*models.Issue, error)
	AddMessageToHistory(ctx context.Context, issue *models.Issue, messageID string) error
}

// Chain runs stages in order. Order matters: side-effecting stages that
// consume and delete the message run before the cheap structural filters, so
// their side effects always complete.
type Chain struct {
	filters []Filter
	logger  *slog.Logger
}

// NewChain creates a chain with the given stages in order
func NewChain(logger *slog.Logger, filters ...Filter) *Chain {
	return &Chain{
		filters: filters,
		logger:  logger.With("component", "filter_chain"),
	}
}

// Run feeds the message through every stage, short-circuiting on the first
// veto. Returns nil when the message was dropped.
func (c *Chain) Run(ctx context.Context, msg *models.Message) (*models.Message, error) {
	for _, f := range c.filters {
		out, err := f.Apply(ctx, msg)
		if err != nil {
			return nil, fmt.Errorf("filter %s: %w", f.Name(), err)
		}
		if out == nil {
			c.logger.Info("message dropped",
				"filter", f.Name(),
				"message_id", msg.ID,
				"conversation_id", msg.ConversationID,
			)
			return nil, nil
		}
		msg = out
	}
	return msg, nil
}
