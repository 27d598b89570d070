package reply

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jirabridge/jirabridge/internal/outlook"
	"github.com/jirabridge/jirabridge/internal/parser"
	"github.com/jirabridge/jirabridge/internal/template"
	"github.com/jirabridge/jirabridge/pkg/models"
)

type fakeMailbox struct {
	draftBody string
	draftErr  error
	sendErr   error
	bodies    map[string]string
	sent      []string
}

func (m *fakeMailbox) CreateReplyDraft(ctx context.Context, sourceID string) (*outlook.ReplyDraft, error) {
	if m.draftErr != nil {
		return nil, m.draftErr
	}
	return &outlook.ReplyDraft{ID: "draft-1", Body: m.draftBody}, nil
}

func (m *fakeMailbox) SetMessageBody(ctx context.Context, id, html string) error {
	if m.bodies == nil {
		m.bodies = map[string]string{}
	}
	m.bodies[id] = html
	return nil
}

func (m *fakeMailbox) SendDraft(ctx context.Context, id string) error {
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent = append(m.sent, id)
	return nil
}

func newTestAuthor(t *testing.T, mailbox Mailbox) *Author {
	t.Helper()
	engine, err := template.NewEngine()
	require.NoError(t, err)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewAuthor(mailbox, parser.NewHTMLParser(), engine, logger)
}

func TestSend(t *testing.T) {
	mailbox := &fakeMailbox{
		draftBody: `<html><head><style>blockquote { margin: 0; }</style></head>` +
			`<body><hr><p>On Monday, Alice wrote:</p><blockquote>original</blockquote></body></html>`,
	}
	author := newTestAuthor(t, mailbox)

	id, err := author.Send(context.Background(), "m1", Values{
		Body:   "<p>your ticket is filed</p>",
		Author: "Agent Smith",
		Marker: models.MarkerIssueNotification,
	})
	require.NoError(t, err)
	assert.Equal(t, "draft-1", id)
	assert.Equal(t, []string{"draft-1"}, mailbox.sent)

	body := mailbox.bodies["draft-1"]
	assert.True(t, parser.HasMarker(body, models.MetaName, models.MarkerIssueNotification))
	assert.Contains(t, body, "your ticket is filed")
	assert.Contains(t, body, "Agent Smith")
	// the quoted thread survives, the style block is carried over
	assert.Contains(t, body, "original")
	assert.Contains(t, body, "blockquote { margin: 0; }")
}

func TestSendDraftFailure(t *testing.T) {
	mailbox := &fakeMailbox{draftErr: outlook.ErrNotFound}
	author := newTestAuthor(t, mailbox)

	_, err := author.Send(context.Background(), "gone", Values{Marker: models.MarkerCommentRelay})
	assert.ErrorIs(t, err, outlook.ErrNotFound)
}

func TestSendFailureSurfaces(t *testing.T) {
	mailbox := &fakeMailbox{sendErr: fmt.Errorf("mailbox quota exceeded")}
	author := newTestAuthor(t, mailbox)

	_, err := author.Send(context.Background(), "m1", Values{Marker: models.MarkerCommentRelay})
	assert.Error(t, err)
}
