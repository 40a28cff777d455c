// Package xmpp implements the XMPP side of the bridge: the listener
// session that consumes room traffic and invitations, the pool of
// impersonation actors, and the outbound room handler.
package xmpp

import (
	"context"
	"time"

	"jabagram/internal/xmpp/wire"
)

const (
	// bridgeName is the listener's occupant nick in every bridged room.
	bridgeName = "Telegram Bridge"

	// telegramSuffix marks occupants the bridge itself operates; inbound
	// messages from them are echoes and must be dropped.
	telegramSuffix = "(Telegram)"

	// occupantError is the MUC rejection that means the room forgot us;
	// the remedy is to rejoin.
	occupantError = "Only occupants are allowed to send messages to the conference"

	reconnectWait = 5 * time.Second
	startTimeout  = 15 * time.Second
	joinAttempts  = 5
)

// poster posts stanzas into a room under some occupant identity. Both the
// listener and the impersonation actors satisfy it.
type poster interface {
	SendGroupchat(muc, body string) (string, error)
	SendGroupchatOOB(muc, url string) (string, error)
	SendGroupchatReplace(muc, body, replaceID string) (string, error)
}

// session is the slice of wire.Session the client and actors depend on,
// narrowed so tests can substitute a fake.
type session interface {
	poster
	JoinMUC(ctx context.Context, muc, nick string) error
	LeaveMUC(muc, nick string) error
	RequestUploadSlot(ctx context.Context, filename, mime string, size int64) (*wire.UploadSlot, error)
	Ping(ctx context.Context) error
	Messages() <-chan *wire.Message
	Kicks() <-chan string
	Done() <-chan struct{}
	Err() error
	Close() error
}

// dialFunc opens an authenticated session under the given resource.
type dialFunc func(ctx context.Context, resource string) (session, error)
