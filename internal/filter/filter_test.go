package filter

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jirabridge/jirabridge/internal/jira"
	"github.com/jirabridge/jirabridge/internal/outlook"
	"github.com/jirabridge/jirabridge/internal/parser"
	"github.com/jirabridge/jirabridge/internal/reply"
	"github.com/jirabridge/jirabridge/internal/template"
	"github.com/jirabridge/jirabridge/pkg/models"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeLedger is an in-memory Ledger keyed by conversation id and issue key.
type fakeLedger struct {
	byConversation map[string]*models.Issue
	byKey          map[string]*models.Issue
	appended       []string // message ids folded into history
	findErr        error
}

func newFakeLedger(issues ...*models.Issue) *fakeLedger {
	l := &fakeLedger{
		byConversation: map[string]*models.Issue{},
		byKey:          map[string]*models.Issue{},
	}
	for _, issue := range issues {
		l.byConversation[issue.ConversationID] = issue
		l.byKey[issue.Key] = issue
	}
	return l
}

func (l *fakeLedger) FindByConversation(ctx context.Context, conversationID string) (*models.Issue, error) {
	if l.findErr != nil {
		return nil, l.findErr
	}
	return l.byConversation[conversationID], nil
}

func (l *fakeLedger) FindByKey(ctx context.Context, key string) (*models.Issue, error) {
	if l.findErr != nil {
		return nil, l.findErr
	}
	return l.byKey[key], nil
}

func (l *fakeLedger) AddMessageToHistory(ctx context.Context, issue *models.Issue, messageID string) error {
	l.appended = append(l.appended, messageID)
	issue.History = append(issue.History, messageID)
	return nil
}

// staticFilter is a trivial chain stage that counts invocations.
type staticFilter struct {
	name string
	drop bool
	hits *int
}

func (f *staticFilter) Name() string { return f.name }

func (f *staticFilter) Apply(ctx context.Context, msg *models.Message) (*models.Message, error) {
	*f.hits++
	if f.drop {
		return nil, nil
	}
	return msg, nil
}

func TestChainShortCircuits(t *testing.T) {
	var first, second, third int
	chain := NewChain(discardLogger(),
		&staticFilter{name: "first", hits: &first},
		&staticFilter{name: "second", drop: true, hits: &second},
		&staticFilter{name: "third", hits: &third},
	)

	out, err := chain.Run(context.Background(), &models.Message{ID: "m1"})
	require.NoError(t, err)
	assert.Nil(t, out)
	assert.Equal(t, 1, first)
	assert.Equal(t, 1, second)
	assert.Equal(t, 0, third, "stages after a veto must not run")
}

func TestChainPassesThrough(t *testing.T) {
	var hits int
	chain := NewChain(discardLogger(), &staticFilter{name: "only", hits: &hits})

	msg := &models.Message{ID: "m1"}
	out, err := chain.Run(context.Background(), msg)
	require.NoError(t, err)
	assert.Same(t, msg, out)
}

type errorFilter struct{}

func (errorFilter) Name() string { return "boom" }
func (errorFilter) Apply(ctx context.Context, msg *models.Message) (*models.Message, error) {
	return nil, fmt.Errorf("storage offline")
}

func TestChainWrapsStageErrors(t *testing.T) {
	chain := NewChain(discardLogger(), errorFilter{})

	_, err := chain.Run(context.Background(), &models.Message{ID: "m1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestSenderBlacklist(t *testing.T) {
	f := NewSenderBlacklistFilter([]string{"Spammer@Bad.io"}, discardLogger())

	out, err := f.Apply(context.Background(), &models.Message{
		Sender: models.Address{Address: "spammer@bad.io"},
	})
	require.NoError(t, err)
	assert.Nil(t, out, "blacklisted sender must be dropped")

	msg := &models.Message{Sender: models.Address{Address: "alice@good.io"}}
	out, err = f.Apply(context.Background(), msg)
	require.NoError(t, err)
	assert.Same(t, msg, out)
}

func TestSenderWhitelist(t *testing.T) {
	f := NewSenderWhitelistFilter([]string{"Example.COM"}, discardLogger())

	msg := &models.Message{Sender: models.Address{Address: "Alice@example.com"}}
	out, err := f.Apply(context.Background(), msg)
	require.NoError(t, err)
	assert.Same(t, msg, out)

	out, err = f.Apply(context.Background(), &models.Message{
		Sender: models.Address{Address: "mallory@elsewhere.net"},
	})
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestRecipientDuplicate(t *testing.T) {
	principal := "support@example.com"
	f := NewRecipientDuplicateFilter(principal, []string{"sent-items"}, discardLogger())

	selfCopy := &models.Message{
		ID:       "m1",
		FolderID: "sent-items",
		Sender:   models.Address{Address: "Support@example.com"},
		To:       []models.Address{{Address: principal}},
	}
	out, err := f.Apply(context.Background(), selfCopy)
	require.NoError(t, err)
	assert.Nil(t, out, "sent copy of a self-addressed message must be dropped")

	t.Run("inbox copy passes", func(t *testing.T) {
		inboxCopy := &models.Message{
			ID:       "m2",
			FolderID: "inbox",
			Sender:   models.Address{Address: principal},
			To:       []models.Address{{Address: principal}},
		}
		out, err := f.Apply(context.Background(), inboxCopy)
		require.NoError(t, err)
		assert.NotNil(t, out)
	})

	t.Run("other sender passes", func(t *testing.T) {
		msg := &models.Message{
			ID:       "m3",
			FolderID: "sent-items",
			Sender:   models.Address{Address: "alice@example.com"},
			To:       []models.Address{{Address: principal}},
		}
		out, err := f.Apply(context.Background(), msg)
		require.NoError(t, err)
		assert.NotNil(t, out)
	})

	t.Run("principal not among recipients passes", func(t *testing.T) {
		msg := &models.Message{
			ID:       "m4",
			FolderID: "sent-items",
			Sender:   models.Address{Address: principal},
			To:       []models.Address{{Address: "alice@example.com"}},
		}
		out, err := f.Apply(context.Background(), msg)
		require.NoError(t, err)
		assert.NotNil(t, out)
	})
}

func TestNewConversationGate(t *testing.T) {
	principal := "support@example.com"

	t.Run("existing conversation always passes", func(t *testing.T) {
		ledger := newFakeLedger(&models.Issue{Key: "SUP-1", ConversationID: "conv-1"})
		f := NewNewConversationFilter(principal, ledger, discardLogger())

		msg := &models.Message{
			ConversationID: "conv-1",
			Sender:         models.Address{Address: principal},
		}
		out, err := f.Apply(context.Background(), msg)
		require.NoError(t, err)
		assert.NotNil(t, out)
	})

	t.Run("principal-initiated thread is dropped", func(t *testing.T) {
		f := NewNewConversationFilter(principal, newFakeLedger(), discardLogger())

		out, err := f.Apply(context.Background(), &models.Message{
			ConversationID: "conv-new",
			Sender:         models.Address{Address: "Support@Example.com"},
			To:             []models.Address{{Address: "alice@example.com"}},
		})
		require.NoError(t, err)
		assert.Nil(t, out)
	})

	t.Run("cc-only delivery is dropped", func(t *testing.T) {
		f := NewNewConversationFilter(principal, newFakeLedger(), discardLogger())

		out, err := f.Apply(context.Background(), &models.Message{
			ConversationID: "conv-new",
			Sender:         models.Address{Address: "alice@example.com"},
			To:             []models.Address{{Address: "bob@example.com"}},
			CC:             []models.Address{{Address: principal}},
		})
		require.NoError(t, err)
		assert.Nil(t, out)
	})

	t.Run("directly addressed passes", func(t *testing.T) {
		f := NewNewConversationFilter(principal, newFakeLedger(), discardLogger())

		msg := &models.Message{
			ConversationID: "conv-new",
			Sender:         models.Address{Address: "alice@example.com"},
			To:             []models.Address{{Address: "SUPPORT@example.com"}},
		}
		out, err := f.Apply(context.Background(), msg)
		require.NoError(t, err)
		assert.NotNil(t, out)
	})
}

func markedBody(marker string) string {
	return fmt.Sprintf(
		`<html><head><meta name=%q content=%q></head><body>hi</body></html>`,
		models.MetaName, marker,
	)
}

func TestEchoFilter(t *testing.T) {
	t.Run("notification echo folds into history", func(t *testing.T) {
		issue := &models.Issue{Key: "SUP-1", ConversationID: "conv-1", History: []string{"m1"}}
		ledger := newFakeLedger(issue)
		f := NewEchoFilter(ledger, discardLogger())

		out, err := f.Apply(context.Background(), &models.Message{
			ID:             "echo-1",
			ConversationID: "conv-1",
			Body:           markedBody(models.MarkerIssueNotification),
		})
		require.NoError(t, err)
		assert.Nil(t, out)
		assert.Equal(t, []string{"echo-1"}, ledger.appended)
	})

	t.Run("relay echo drops too", func(t *testing.T) {
		ledger := newFakeLedger(&models.Issue{Key: "SUP-1", ConversationID: "conv-1"})
		f := NewEchoFilter(ledger, discardLogger())

		out, err := f.Apply(context.Background(), &models.Message{
			ID:             "echo-2",
			ConversationID: "conv-1",
			Body:           markedBody(models.MarkerCommentRelay),
		})
		require.NoError(t, err)
		assert.Nil(t, out)
	})

	t.Run("marker without a matching issue still drops", func(t *testing.T) {
		ledger := newFakeLedger()
		f := NewEchoFilter(ledger, discardLogger())

		out, err := f.Apply(context.Background(), &models.Message{
			ID:             "echo-3",
			ConversationID: "conv-unknown",
			Body:           markedBody(models.MarkerIssueNotification),
		})
		require.NoError(t, err)
		assert.Nil(t, out)
		assert.Empty(t, ledger.appended)
	})

	t.Run("ledger failure surfaces", func(t *testing.T) {
		ledger := newFakeLedger()
		ledger.findErr = fmt.Errorf("ledger offline")
		f := NewEchoFilter(ledger, discardLogger())

		_, err := f.Apply(context.Background(), &models.Message{
			ID:   "echo-4",
			Body: markedBody(models.MarkerIssueNotification),
		})
		assert.Error(t, err)
	})

	t.Run("unmarked message passes", func(t *testing.T) {
		f := NewEchoFilter(newFakeLedger(), discardLogger())

		msg := &models.Message{
			ID:   "m1",
			Body: "<html><head></head><body>ordinary mail</body></html>",
		}
		out, err := f.Apply(context.Background(), msg)
		require.NoError(t, err)
		assert.Same(t, msg, out)
	})
}

// fakeCommentSource serves one rendered comment and inline assets.
type fakeCommentSource struct {
	comment  *jira.Comment
	err      error
	contents map[string][]byte
}

func (s *fakeCommentSource) GetComment(ctx context.Context, key, commentID string) (*jira.Comment, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.comment, nil
}

func (s *fakeCommentSource) Content(ctx context.Context, path string) ([]byte, error) {
	content, ok := s.contents[path]
	if !ok {
		return nil, fmt.Errorf("no content at %s", path)
	}
	return content, nil
}

// fakeMailbox covers both the relay's delete surface and the reply author's
// draft surface.
type fakeMailbox struct {
	deleted   []string
	draftErr  error
	sent      []string
	bodies    map[string]string
	draftSeq  int
	quoteBody string
}

func (m *fakeMailbox) DeleteMessage(ctx context.Context, id string) error {
	m.deleted = append(m.deleted, id)
	return nil
}

func (m *fakeMailbox) CreateReplyDraft(ctx context.Context, sourceID string) (*outlook.ReplyDraft, error) {
	if m.draftErr != nil {
		return nil, m.draftErr
	}
	m.draftSeq++
	return &outlook.ReplyDraft{
		ID:   fmt.Sprintf("draft-%d", m.draftSeq),
		Body: m.quoteBody,
	}, nil
}

func (m *fakeMailbox) SetMessageBody(ctx context.Context, id, html string) error {
	if m.bodies == nil {
		m.bodies = map[string]string{}
	}
	m.bodies[id] = html
	return nil
}

func (m *fakeMailbox) SendDraft(ctx context.Context, id string) error {
	m.sent = append(m.sent, id)
	return nil
}

func newTestAuthor(t *testing.T, mailbox reply.Mailbox) *reply.Author {
	t.Helper()
	engine, err := template.NewEngine()
	require.NoError(t, err)
	return reply.NewAuthor(mailbox, parser.NewHTMLParser(), engine, discardLogger())
}

func automationNotification(issueKey, commentID, author string) *models.Message {
	payload := fmt.Sprintf(`{"issue": %q, "id": %q, "author": {"name": %q}}`, issueKey, commentID, author)
	return &models.Message{
		ID:             "notif-1",
		ConversationID: "conv-notif",
		Sender:         models.Address{Address: "no-reply@automation.atlassian.com"},
		UniqueBody:     fmt.Sprintf("<html><body><div>%s</div></body></html>", payload),
	}
}

func TestCommentRelay(t *testing.T) {
	const domain = "automation.atlassian.com"

	t.Run("foreign sender passes untouched", func(t *testing.T) {
		mailbox := &fakeMailbox{}
		f := NewCommentRelayFilter(domain, newFakeLedger(), &fakeCommentSource{}, mailbox,
			newTestAuthor(t, mailbox), discardLogger())

		msg := &models.Message{Sender: models.Address{Address: "alice@example.com"}}
		out, err := f.Apply(context.Background(), msg)
		require.NoError(t, err)
		assert.Same(t, msg, out)
		assert.Empty(t, mailbox.deleted)
	})

	t.Run("relays comment and deletes notification", func(t *testing.T) {
		issue := &models.Issue{
			Key:            "SUP-7",
			ConversationID: "conv-7",
			History:        []string{"m1", "m2"},
		}
		mailbox := &fakeMailbox{quoteBody: "<html><body><hr><p>quoted</p></body></html>"}
		source := &fakeCommentSource{
			comment: &jira.Comment{ID: "42", RenderedBody: "<p>agent reply</p>"},
		}
		f := NewCommentRelayFilter(domain, newFakeLedger(issue), source, mailbox,
			newTestAuthor(t, mailbox), discardLogger())

		out, err := f.Apply(context.Background(), automationNotification("SUP-7", "42", "Agent Smith"))
		require.NoError(t, err)
		assert.Nil(t, out, "notification never reaches later stages")

		require.Len(t, mailbox.sent, 1)
		body := mailbox.bodies[mailbox.sent[0]]
		assert.Contains(t, body, "agent reply")
		assert.Contains(t, body, "Agent Smith")
		assert.True(t, parser.HasMarker(body, models.MetaName, models.MarkerCommentRelay))
		assert.Equal(t, []string{"notif-1"}, mailbox.deleted)
	})

	t.Run("embeds inline images as data uris", func(t *testing.T) {
		issue := &models.Issue{Key: "SUP-7", ConversationID: "conv-7", History: []string{"m1"}}
		mailbox := &fakeMailbox{}
		source := &fakeCommentSource{
			comment:  &jira.Comment{ID: "42", RenderedBody: `<p>see <img src="/secure/attachment/1/shot.png"></p>`},
			contents: map[string][]byte{"/secure/attachment/1/shot.png": []byte("pixels")},
		}
		f := NewCommentRelayFilter(domain, newFakeLedger(issue), source, mailbox,
			newTestAuthor(t, mailbox), discardLogger())

		_, err := f.Apply(context.Background(), automationNotification("SUP-7", "42", ""))
		require.NoError(t, err)

		require.Len(t, mailbox.sent, 1)
		assert.Contains(t, mailbox.bodies[mailbox.sent[0]], "data:image/jpeg;base64,")
		assert.NotContains(t, mailbox.bodies[mailbox.sent[0]], "/secure/attachment/1/shot.png")
	})

	t.Run("malformed payload deletes source without relaying", func(t *testing.T) {
		mailbox := &fakeMailbox{}
		f := NewCommentRelayFilter(domain, newFakeLedger(), &fakeCommentSource{}, mailbox,
			newTestAuthor(t, mailbox), discardLogger())

		out, err := f.Apply(context.Background(), &models.Message{
			ID:         "notif-bad",
			Sender:     models.Address{Address: "no-reply@automation.atlassian.com"},
			UniqueBody: "<html><body>not a payload</body></html>",
		})
		require.NoError(t, err)
		assert.Nil(t, out)
		assert.Empty(t, mailbox.sent)
		assert.Equal(t, []string{"notif-bad"}, mailbox.deleted)
	})

	t.Run("unknown issue drops without deleting", func(t *testing.T) {
		mailbox := &fakeMailbox{}
		f := NewCommentRelayFilter(domain, newFakeLedger(), &fakeCommentSource{}, mailbox,
			newTestAuthor(t, mailbox), discardLogger())

		out, err := f.Apply(context.Background(), automationNotification("SUP-404", "42", ""))
		require.NoError(t, err)
		assert.Nil(t, out)
		assert.Empty(t, mailbox.deleted)
		assert.Empty(t, mailbox.sent)
	})

	t.Run("missing reply-to message still deletes notification", func(t *testing.T) {
		issue := &models.Issue{Key: "SUP-7", ConversationID: "conv-7", History: []string{"gone"}}
		mailbox := &fakeMailbox{draftErr: outlook.ErrNotFound}
		source := &fakeCommentSource{comment: &jira.Comment{ID: "42", RenderedBody: "<p>x</p>"}}
		f := NewCommentRelayFilter(domain, newFakeLedger(issue), source, mailbox,
			newTestAuthor(t, mailbox), discardLogger())

		out, err := f.Apply(context.Background(), automationNotification("SUP-7", "42", ""))
		require.NoError(t, err)
		assert.Nil(t, out)
		assert.Empty(t, mailbox.sent)
		assert.Equal(t, []string{"notif-1"}, mailbox.deleted)
	})
}
