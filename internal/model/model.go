// Package model defines the domain value types that flow between the two
// bridged networks, and the two roles every network side implements: a
// ChatHandler that emits forwardables on its network, and a HandlerFactory
// that builds a handler when a new pairing is established.
package model

import "context"

// Chat is a routing address on one network with an optional forum-topic
// selector inside that address.
type Chat struct {
	Address string
	TopicID int64 // 0 means no topic
}

// Sender identifies the author of a message. Name is the display string;
// ID is a stable identifier used to pick an impersonation actor on XMPP.
type Sender struct {
	Name string
	ID   string
}

// URLFunc lazily produces the download URL of an attachment. Telegram
// requires a second API call to resolve the CDN path, so the URL is not
// fetched until a handler actually needs the bytes.
type URLFunc func(ctx context.Context) (string, error)

// Forwardable is the sum of the five event variants routed through the
// dispatcher. Each variant knows its destination chat.
type Forwardable interface {
	TargetChat() Chat
}

// Event is a system notice. It carries no sender identity and is never
// recorded in the message store.
type Event struct {
	Chat    Chat
	Content string
}

func (e *Event) TargetChat() Chat { return e.Chat }

// Message is a user-visible chat message. ID is the origin-network message
// identifier. Reply holds the literal text of the quoted message, not its
// id, because XMPP quotes arrive as inline prefixed lines.
type Message struct {
	ID      string
	Chat    Chat
	Sender  Sender
	Content string
	Reply   string
	Edit    bool
}

func (m *Message) TargetChat() Chat { return m.Chat }

// Attachment is a message with downloadable content.
type Attachment struct {
	Message
	URL  URLFunc
	MIME string // empty when the origin did not declare one
	Size int64  // 0 when unknown
}

// Sticker is the only attachment kind with a stable cross-session identity
// (FileID), and therefore the only one whose uploaded XMPP URL is persisted.
type Sticker struct {
	Attachment
	FileID string
}

// Unbridge terminates the pairing that contains Chat.
type Unbridge struct {
	Chat Chat
}

func (u *Unbridge) TargetChat() Chat { return u.Chat }

// ChatHandler receives forwardables destined for one chat and emits them on
// its network. Implementations log their own failures; a returned error is
// informational and never stops the dispatcher.
type ChatHandler interface {
	// Address is the chat address this handler posts to.
	Address() string

	SendMessage(ctx context.Context, m *Message) error
	EditMessage(ctx context.Context, m *Message) error
	SendAttachment(ctx context.Context, a *Attachment) error
	SendSticker(ctx context.Context, s *Sticker) error
	SendEvent(ctx context.Context, e *Event) error

	// Unbridge posts the canned farewell and leaves the chat.
	Unbridge(ctx context.Context) error
}

// HandlerFactory creates a network-side handler for a confirmed pairing.
// Both sides register a factory with the chat service; the service invokes
// every factory once per pairing.
type HandlerFactory interface {
	CreateHandler(ctx context.Context, telegramID int64, room string) error
}
