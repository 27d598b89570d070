package filter

import (
	"context"
	"log/slog"
	"strings"

	"github.com/jirabridge/jirabridge/internal/parser"
	"github.com/jirabridge/jirabridge/pkg/models"
)

// SenderWhitelistFilter drops messages whose sender domain is not allowed
type SenderWhitelistFilter struct {
	domains map[string]struct{}
	logger  *slog.Logger
}

// NewSenderWhitelistFilter creates an allow-list filter over sender domains
func NewSenderWhitelistFilter(domains []string, logger *slog.Logger) *SenderWhitelistFilter {
	set := make(map[string]struct{}, len(domains))
	for _, d := range domains {
		set[strings.ToLower(d)] = struct{}{}
	}
	return &SenderWhitelistFilter{domains: set, logger: logger}
}

func (f *SenderWhitelistFilter) Name() string { return "sender_whitelist" }

func (f *SenderWhitelistFilter) Apply(ctx context.Context, msg *models.Message) (*models.Message, error) {
	if _, ok := f.domains[parser.Domain(msg.Sender.Address)]; !ok {
		f.logger.Info("message skipped as the sender is not whitelisted", "sender", msg.Sender.Address)
		return nil, nil
	}
	return msg, nil
}
