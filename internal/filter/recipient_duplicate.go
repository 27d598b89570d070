package filter

import (
	"context"
	"log/slog"
	"strings"

	"github.com/jirabridge/jirabridge/pkg/models"
)

// RecipientDuplicateFilter drops the sent copy of a message the principal
// mailed to itself. When the principal is the sender and also among the
// recipients, delivery raises one event per copy; the copy sitting in an
// ignored folder (sent items) would otherwise double the notification.
type RecipientDuplicateFilter struct {
	principal      string
	ignoredFolders map[string]struct{}
	logger         *slog.Logger
}

// NewRecipientDuplicateFilter creates the duplicate guard for the principal
// address and the folder ids holding sent copies.
func NewRecipientDuplicateFilter(principal string, ignoredFolders []string, logger *slog.Logger) *RecipientDuplicateFilter {
	set := make(map[string]struct{}, len(ignoredFolders))
	for _, id := range ignoredFolders {
		set[id] = struct{}{}
	}
	return &RecipientDuplicateFilter{
		principal:      strings.ToLower(principal),
		ignoredFolders: set,
		logger:         logger,
	}
}

func (f *RecipientDuplicateFilter) Name() string { return "recipient_duplicate" }

func (f *RecipientDuplicateFilter) Apply(ctx context.Context, msg *models.Message) (*models.Message, error) {
	if strings.ToLower(msg.Sender.Address) != f.principal {
		return msg, nil
	}

	amongRecipients := false
	for _, addr := range msg.Recipients() {
		if strings.ToLower(addr) == f.principal {
			amongRecipients = true
			break
		}
	}
	if !amongRecipients {
		return msg, nil
	}

	if _, ok := f.ignoredFolders[msg.FolderID]; ok {
		f.logger.Info("message filtered as the notification is a duplicate", "message_id", msg.ID)
		return nil, nil
	}
	return msg, nil
}
