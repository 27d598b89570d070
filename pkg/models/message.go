package models

import "time"

// EventType classifies a mailbox notification.
type EventType string

const (
	EventCreated EventType = "created"
	EventMissed  EventType = "missed"
)

// Event is a single mailbox notification referencing a resource. Only
// message-created events are processed; missed events are logged and left to
// the transport's resynchronization.
type Event struct {
	Type         EventType
	ResourceID   string
	ResourceType string // e.g. "message"
}

// Address is a mail address with an optional display name.
type Address struct {
	Name    string
	Address string
}

// Attachment is a file attached to a message, already decoded.
type Attachment struct {
	Name        string
	ContentType string
	Content     []byte
}

// Message is a fully fetched inbound mail message. It is transient: the
// bridge persists only issue mappings and message ids, never whole messages.
type Message struct {
	ID             string
	ConversationID string
	FolderID       string
	Subject        string
	Sender         Address
	To             []Address
	CC             []Address
	BCC            []Address
	Body           string // full HTML body
	UniqueBody     string // HTML of this message only, without quoted thread
	Importance     string // low, normal, high
	Received       time.Time
	HasAttachments bool
	Attachments    []Attachment
}

// Recipients returns the addresses of to, cc and bcc combined.
func (m *Message) Recipients() []string {
	out := make([]string, 0, len(m.To)+len(m.CC)+len(m.BCC))
	for _, set := range [][]Address{m.To, m.CC, m.BCC} {
		for _, a := range set {
			out = append(out, a.Address)
		}
	}
	return out
}

// Watchers returns the cc and bcc addresses, the recipients that should
// watch the resulting ticket.
func (m *Message) Watchers() []string {
	out := make([]string, 0, len(m.CC)+len(m.BCC))
	for _, a := range m.CC {
		out = append(out, a.Address)
	}
	for _, a := range m.BCC {
		out = append(out, a.Address)
	}
	return out
}
