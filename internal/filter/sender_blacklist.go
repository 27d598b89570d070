package filter

import (
	"context"
	"log/slog"
	"strings"

	"github.com/jirabridge/jirabridge/pkg/models"
)

// SenderBlacklistFilter drops messages whose sender address is denied
type SenderBlacklistFilter struct {
	blacklist map[string]struct{}
	logger    *slog.Logger
}

// NewSenderBlacklistFilter creates a blacklist filter from a deny-set of
// sender addresses.
func NewSenderBlacklistFilter(blacklist []string, logger *slog.Logger) *SenderBlacklistFilter {
	set := make(map[string]struct{}, len(blacklist))
	for _, addr := range blacklist {
		set[strings.ToLower(addr)] = struct{}{}
	}
	return &SenderBlacklistFilter{blacklist: set, logger: logger}
}

func (f *SenderBlacklistFilter) Name() string { return "sender_blacklist" }

func (f *SenderBlacklistFilter) Apply(ctx context.Context, msg *models.Message) (*models.Message, error) {
	sender := strings.ToLower(msg.Sender.Address)
	if _, ok := f.blacklist[sender]; ok {
		f.logger.Info("message skipped as the sender is blacklisted", "sender", sender)
		return nil, nil
	}
	return msg, nil
}
