package filter

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"regexp"

	"github.com/jirabridge/jirabridge/internal/jira"
	"github.com/jirabridge/jirabridge/internal/outlook"
	"github.com/jirabridge/jirabridge/internal/parser"
	"github.com/jirabridge/jirabridge/internal/reply"
	"github.com/jirabridge/jirabridge/pkg/models"
)

var imgSrcRegex = regexp.MustCompile(`src="(.*?)"`)

// CommentSource fetches rendered comments and their referenced assets
type CommentSource interface {
	GetComment(ctx context.Context, key, commentID string) (*jira.Comment, error)
	Content(ctx context.Context, path string) ([]byte, error)
}

// RelayMailbox is the mailbox surface the relay needs
type RelayMailbox interface {
	DeleteMessage(ctx context.Context, id string) error
}

// CommentRelayFilter handles the ticket system's automation notifications
// about new comments: it relays the rendered comment to the reporter as a
// reply to the last message of the matching issue, then deletes the source
// notification. This stage must run before the structural filters, since
// the automation sender would never pass the domain allow-list and the
// relay's side effects have to complete regardless.
type CommentRelayFilter struct {
	domain   string // automation sender domain
	issues   Ledger
	comments CommentSource
	mailbox  RelayMailbox
	author   *reply.Author
	logger   *slog.Logger
}

// NewCommentRelayFilter creates the comment-relay stage
func NewCommentRelayFilter(domain string, issues Ledger, comments CommentSource, mailbox RelayMailbox, author *reply.Author, logger *slog.Logger) *CommentRelayFilter {
	return &CommentRelayFilter{
		domain:   domain,
		issues:   issues,
		comments: comments,
		mailbox:  mailbox,
		author:   author,
		logger:   logger,
	}
}

func (f *CommentRelayFilter) Name() string { return "comment_relay" }

func (f *CommentRelayFilter) Apply(ctx context.Context, msg *models.Message) (*models.Message, error) {
	if parser.Domain(msg.Sender.Address) != f.domain {
		return msg, nil
	}

	payload, err := parser.ExtractCommentPayload(msg.UniqueBody)
	if err != nil {
		f.logger.Warn("malformed automation notification, discarding", "message_id", msg.ID, "error", err)
		f.deleteSource(ctx, msg.ID)
		return nil, nil
	}

	issue, err := f.issues.FindByKey(ctx, payload.Issue)
	if err != nil {
		return nil, err
	}
	if issue == nil {
		f.logger.Warn("comment on issue that was not found", "issue", payload.Issue)
		return nil, nil
	}

	if err := f.relay(ctx, issue, payload); err != nil {
		if errors.Is(err, outlook.ErrNotFound) {
			f.logger.Warn("reply-to message was not found; no email was sent", "issue", issue.Key)
		} else {
			f.logger.Error("failed to relay comment", "issue", issue.Key, "error", err)
		}
	}

	// the notification serves no further purpose either way
	f.deleteSource(ctx, msg.ID)
	return nil, nil
}

// relay fetches the rendered comment and sends it as a reply to the last
// message in the issue history.
func (f *CommentRelayFilter) relay(ctx context.Context, issue *models.Issue, payload *parser.CommentPayload) error {
	comment, err := f.comments.GetComment(ctx, issue.Key, payload.ID)
	if err != nil {
		return err
	}

	_, err = f.author.Send(ctx, issue.LastMessageID(), reply.Values{
		Body:   f.embedImages(ctx, comment.RenderedBody),
		Author: payload.Author.Name,
		Marker: models.MarkerCommentRelay,
	})
	return err
}

// embedImages rewrites image references in a rendered comment into RFC 2397
// data URIs, since the recipient cannot fetch tracker-internal assets.
func (f *CommentRelayFilter) embedImages(ctx context.Context, html string) string {
	return imgSrcRegex.ReplaceAllStringFunc(html, func(match string) string {
		path := imgSrcRegex.FindStringSubmatch(match)[1]
		content, err := f.comments.Content(ctx, path)
		if err != nil {
			f.logger.Warn("failed to fetch inline image", "path", path, "error", err)
			return match
		}
		return "src='data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(content) + "'"
	})
}

func (f *CommentRelayFilter) deleteSource(ctx context.Context, id string) {
	if err := f.mailbox.DeleteMessage(ctx, id); err != nil {
		f.logger.Warn("failed to delete automation notification", "message_id", id, "error", err)
	}
}
