package xmpp

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"slices"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"jabagram/internal/xmpp/wire"
)

// Actor is a secondary session of the bridge account, logged in with the
// impersonated Telegram user's id as resource so their messages appear
// under a distinct occupant.
type Actor struct {
	userID string
	nick   string
	dial   dialFunc
	out    io.Writer

	mu        sync.Mutex
	sess      session
	rooms     []string
	destroyed bool
}

func newActor(userID, nick string, dial dialFunc, out io.Writer) *Actor {
	return &Actor{userID: userID, nick: nick, dial: dial, out: out}
}

// start dials the actor's session and begins watching it. Bounded by the
// session-start timeout.
func (a *Actor) start(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, startTimeout)
	defer cancel()

	sess, err := a.dial(ctx, a.userID)
	if err != nil {
		return fmt.Errorf("xmpp: actor %s: start: %w", a.userID, err)
	}
	a.mu.Lock()
	a.sess = sess
	a.mu.Unlock()
	go a.watch(sess)
	return nil
}

// watch drains the session's inbound traffic for occupant errors and
// reconnects after a connection reset, unless the actor was destroyed.
func (a *Actor) watch(sess session) {
	for {
		select {
		case m := <-sess.Messages():
			a.handleError(sess, m)
		case <-sess.Done():
			if a.isDestroyed() {
				return
			}
			log.Printf("xmpp: actor %s: connection reset: %v", a.userID, sess.Err())
			time.Sleep(reconnectWait)
			next, ok := a.reconnect()
			if !ok {
				return
			}
			sess = next
		}
	}
}

func (a *Actor) reconnect() (session, bool) {
	for !a.isDestroyed() {
		ctx, cancel := context.WithTimeout(context.Background(), startTimeout)
		sess, err := a.dial(ctx, a.userID)
		cancel()
		if err != nil {
			log.Printf("xmpp: actor %s: reconnect: %v", a.userID, err)
			time.Sleep(reconnectWait)
			continue
		}

		a.mu.Lock()
		a.sess = sess
		rooms := slices.Clone(a.rooms)
		a.mu.Unlock()

		for _, room := range rooms {
			ctx, cancel := context.WithTimeout(context.Background(), startTimeout)
			if err := sess.JoinMUC(ctx, room, a.nick); err != nil {
				log.Printf("xmpp: actor %s: rejoin %s: %v", a.userID, room, err)
			}
			cancel()
		}
		return sess, true
	}
	return nil, false
}

func (a *Actor) handleError(sess session, m *wire.Message) {
	if m.Type != "error" || m.Error == nil || m.Error.Text != occupantError {
		return
	}
	room := wire.Bare(m.From)
	if !a.tracks(room) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), startTimeout)
	defer cancel()
	if err := sess.JoinMUC(ctx, room, a.nick); err != nil {
		log.Printf("xmpp: actor %s: rejoin %s after occupant error: %v", a.userID, room, err)
	}
}

func (a *Actor) tracks(room string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Contains(a.rooms, room)
}

func (a *Actor) isDestroyed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.destroyed
}

func (a *Actor) session() session {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sess
}

// Join makes the actor an occupant of muc, retrying a bounded number of
// times. Reports whether the actor ended up in the room.
func (a *Actor) Join(ctx context.Context, muc string) bool {
	if a.tracks(muc) {
		return true
	}
	sess := a.session()
	if sess == nil {
		return false
	}
	for attempt := 1; attempt <= joinAttempts; attempt++ {
		if err := sess.JoinMUC(ctx, muc, a.nick); err != nil {
			log.Printf("xmpp: actor %s: join %s (attempt %d): %v", a.userID, muc, attempt, err)
			continue
		}
		fmt.Fprintf(a.out, "xmpp: actor %s: joined %s\n", a.userID, muc)
		a.mu.Lock()
		a.rooms = append(a.rooms, muc)
		a.mu.Unlock()
		return true
	}
	return false
}

// Leave withdraws the actor from muc if it is an occupant.
func (a *Actor) Leave(muc string) {
	if !a.tracks(muc) {
		return
	}
	a.mu.Lock()
	a.rooms = slices.DeleteFunc(a.rooms, func(r string) bool { return r == muc })
	sess := a.sess
	a.mu.Unlock()
	if sess != nil {
		if err := sess.LeaveMUC(muc, a.nick); err != nil {
			log.Printf("xmpp: actor %s: leave %s: %v", a.userID, muc, err)
		}
	}
}

// Destroy tears the actor down for good; its watcher will not reconnect.
func (a *Actor) Destroy() {
	a.mu.Lock()
	a.destroyed = true
	sess := a.sess
	a.mu.Unlock()
	if sess != nil {
		sess.Close()
	}
}

func (a *Actor) SendGroupchat(muc, body string) (string, error) {
	sess := a.session()
	if sess == nil {
		return "", fmt.Errorf("xmpp: actor %s: not connected", a.userID)
	}
	return sess.SendGroupchat(muc, body)
}

func (a *Actor) SendGroupchatOOB(muc, url string) (string, error) {
	sess := a.session()
	if sess == nil {
		return "", fmt.Errorf("xmpp: actor %s: not connected", a.userID)
	}
	return sess.SendGroupchatOOB(muc, url)
}

func (a *Actor) SendGroupchatReplace(muc, body, replaceID string) (string, error) {
	sess := a.session()
	if sess == nil {
		return "", fmt.Errorf("xmpp: actor %s: not connected", a.userID)
	}
	return sess.SendGroupchatReplace(muc, body, replaceID)
}

// ActorFactory owns the LRU-bounded pool of impersonation actors. Eviction
// destroys the evicted actor's session.
type ActorFactory struct {
	dial     dialFunc
	fallback poster
	names    *nickNormalizer
	out      io.Writer

	mu   sync.Mutex
	pool *lru.Cache[string, *Actor]
}

// ActorFactoryOpts holds parameters for creating an ActorFactory.
type ActorFactoryOpts struct {
	PoolSize int // defaults to 16
	Dial     dialFunc
	Fallback poster // serves when an actor cannot start or join
	Out      io.Writer
}

// NewActorFactory creates an ActorFactory.
func NewActorFactory(opts ActorFactoryOpts) (*ActorFactory, error) {
	if opts.Dial == nil {
		return nil, fmt.Errorf("xmpp: actors: dial func is required")
	}
	if opts.Fallback == nil {
		return nil, fmt.Errorf("xmpp: actors: fallback poster is required")
	}
	size := opts.PoolSize
	if size <= 0 {
		size = 16
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	pool, err := lru.NewWithEvict[string, *Actor](size, func(_ string, a *Actor) {
		a.Destroy()
	})
	if err != nil {
		return nil, fmt.Errorf("xmpp: actors: create pool: %w", err)
	}
	names, err := newNickNormalizer()
	if err != nil {
		return nil, fmt.Errorf("xmpp: actors: create name cache: %w", err)
	}
	return &ActorFactory{
		dial:     opts.Dial,
		fallback: opts.Fallback,
		names:    names,
		out:      out,
		pool:     pool,
	}, nil
}

// Get returns the poster impersonating userID in muc: a pooled actor when
// one exists or can be started and joined, the fallback otherwise.
func (f *ActorFactory) Get(ctx context.Context, userID, userName, muc string) poster {
	if userID == "" {
		return f.fallback
	}
	nick := f.names.normalize(userName) + " " + telegramSuffix

	f.mu.Lock()
	actor, ok := f.pool.Get(userID)
	if !ok {
		fmt.Fprintf(f.out, "xmpp: actors: creating actor for user %s\n", userID)
		actor = newActor(userID, nick, f.dial, f.out)
		f.pool.Add(userID, actor)
		f.mu.Unlock()
		if err := actor.start(ctx); err != nil {
			log.Printf("xmpp: actors: %v", err)
			f.mu.Lock()
			f.pool.Remove(userID)
			f.mu.Unlock()
			return f.fallback
		}
	} else {
		f.mu.Unlock()
	}

	if !actor.Join(ctx, muc) {
		log.Printf("xmpp: actors: actor %s cannot join %s, falling back to listener", userID, muc)
		return f.fallback
	}
	return actor
}

// LeaveAll makes every live actor leave muc; used on unbridge.
func (f *ActorFactory) LeaveAll(muc string) {
	f.mu.Lock()
	actors := f.pool.Values()
	f.mu.Unlock()
	for _, a := range actors {
		a.Leave(muc)
	}
}

// Len reports the live pool size.
func (f *ActorFactory) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pool.Len()
}
