package xmpp

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"jabagram/internal/dispatch"
	"jabagram/internal/messages"
	"jabagram/internal/model"
	"jabagram/internal/service"
	"jabagram/internal/store"
	"jabagram/internal/xmpp/wire"
)

// Client runs the bridge's primary XMPP session: it sits in every bridged
// room as "Telegram Bridge", consumes room traffic and invitations, and
// serves as the fallback poster when an actor is unavailable.
type Client struct {
	login      string
	password   string
	server     string
	service    *service.Service
	dispatcher *dispatch.Dispatcher
	stickers   *store.StickerCache
	msgStore   *store.MessageStore
	msgs       messages.Messages
	http       *http.Client
	out        io.Writer
	dial       dialFunc
	actors     *ActorFactory

	mu     sync.Mutex
	sess   session
	mucs   []string
	loaded bool
}

// ClientOpts holds parameters for creating a Client.
type ClientOpts struct {
	Login      string
	Password   string
	Server     string // host[:port] override, optional
	PoolSize   int
	Service    *service.Service
	Dispatcher *dispatch.Dispatcher
	Stickers   *store.StickerCache
	Store      *store.MessageStore
	Messages   messages.Messages
	HTTPClient *http.Client
	Out        io.Writer
	Dial       dialFunc // defaults to dialing a real wire session
}

// NewClient creates a Client and registers it as a handler factory.
func NewClient(opts ClientOpts) (*Client, error) {
	if opts.Login == "" {
		return nil, fmt.Errorf("xmpp: login is required")
	}
	if opts.Password == "" {
		return nil, fmt.Errorf("xmpp: password is required")
	}
	if opts.Service == nil {
		return nil, fmt.Errorf("xmpp: service is required")
	}
	if opts.Dispatcher == nil {
		return nil, fmt.Errorf("xmpp: dispatcher is required")
	}
	if opts.Stickers == nil {
		return nil, fmt.Errorf("xmpp: sticker cache is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("xmpp: message store is required")
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 2 * time.Minute}
	}

	c := &Client{
		login:      opts.Login,
		password:   opts.Password,
		server:     opts.Server,
		service:    opts.Service,
		dispatcher: opts.Dispatcher,
		stickers:   opts.Stickers,
		msgStore:   opts.Store,
		msgs:       opts.Messages,
		http:       httpClient,
		out:        out,
	}
	c.dial = opts.Dial
	if c.dial == nil {
		c.dial = func(ctx context.Context, resource string) (session, error) {
			return wire.Dial(ctx, wire.Opts{
				JID:      opts.Login,
				Password: opts.Password,
				Resource: resource,
				Server:   opts.Server,
				Out:      out,
			})
		}
	}

	actors, err := NewActorFactory(ActorFactoryOpts{
		PoolSize: opts.PoolSize,
		Dial:     c.dial,
		Fallback: c,
		Out:      out,
	})
	if err != nil {
		return nil, err
	}
	c.actors = actors

	c.service.RegisterFactory(c)
	return c, nil
}

func (c *Client) session() session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess
}

func (c *Client) SendGroupchat(muc, body string) (string, error) {
	sess := c.session()
	if sess == nil {
		return "", fmt.Errorf("xmpp: not connected")
	}
	return sess.SendGroupchat(muc, body)
}

func (c *Client) SendGroupchatOOB(muc, url string) (string, error) {
	sess := c.session()
	if sess == nil {
		return "", fmt.Errorf("xmpp: not connected")
	}
	return sess.SendGroupchatOOB(muc, url)
}

func (c *Client) SendGroupchatReplace(muc, body, replaceID string) (string, error) {
	sess := c.session()
	if sess == nil {
		return "", fmt.Errorf("xmpp: not connected")
	}
	return sess.SendGroupchatReplace(muc, body, replaceID)
}

func (c *Client) RequestUploadSlot(ctx context.Context, filename, mime string, size int64) (*wire.UploadSlot, error) {
	sess := c.session()
	if sess == nil {
		return nil, fmt.Errorf("xmpp: not connected")
	}
	return sess.RequestUploadSlot(ctx, filename, mime, size)
}

// LeaveMUC withdraws the listener from muc and stops tracking it for
// reconnect rejoins.
func (c *Client) LeaveMUC(muc, nick string) error {
	c.mu.Lock()
	c.mucs = slices.DeleteFunc(c.mucs, func(r string) bool { return r == muc })
	sess := c.sess
	c.mu.Unlock()
	if sess == nil {
		return fmt.Errorf("xmpp: not connected")
	}
	return sess.LeaveMUC(muc, nick)
}

// Ping sends an application-level keepalive over the listener session.
func (c *Client) Ping(ctx context.Context) error {
	sess := c.session()
	if sess == nil {
		return fmt.Errorf("xmpp: not connected")
	}
	return sess.Ping(ctx)
}

// CreateHandler joins the room and wires a RoomHandler into the dispatcher
// under the Telegram chat's address.
func (c *Client) CreateHandler(ctx context.Context, telegramID int64, room string) error {
	sess := c.session()
	if sess == nil {
		return fmt.Errorf("xmpp: create handler for %s: not connected", room)
	}
	if err := sess.JoinMUC(ctx, room, bridgeName); err != nil {
		return fmt.Errorf("xmpp: join %s: %w", room, err)
	}
	c.mu.Lock()
	if !slices.Contains(c.mucs, room) {
		c.mucs = append(c.mucs, room)
	}
	c.mu.Unlock()

	h, err := NewRoomHandler(RoomHandlerOpts{
		MUC:      room,
		Listener: c,
		Actors:   c.actors,
		Stickers: c.stickers,
		Store:    c.msgStore,
		Messages: c.msgs,
		HTTP:     c.http,
		Out:      c.out,
	})
	if err != nil {
		return err
	}
	c.dispatcher.AddHandler(strconv.FormatInt(telegramID, 10), h)
	return nil
}

// Start connects the listener session and serves it until ctx is cancelled,
// reconnecting after resets. Persisted pairings are loaded once, after the
// first successful connect.
func (c *Client) Start(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		sess, err := c.dial(ctx, "")
		if err != nil {
			log.Printf("xmpp: connect: %v", err)
			select {
			case <-time.After(reconnectWait):
				continue
			case <-ctx.Done():
				return
			}
		}
		fmt.Fprintf(c.out, "xmpp: connected as %s\n", c.login)

		c.mu.Lock()
		c.sess = sess
		first := !c.loaded
		c.loaded = true
		rooms := slices.Clone(c.mucs)
		c.mu.Unlock()

		if first {
			c.service.LoadChats(ctx)
		} else {
			for _, room := range rooms {
				if err := sess.JoinMUC(ctx, room, bridgeName); err != nil {
					log.Printf("xmpp: rejoin %s: %v", room, err)
				}
			}
		}

		c.serve(ctx, sess)
		c.mu.Lock()
		c.sess = nil
		c.mu.Unlock()
		if ctx.Err() != nil {
			return
		}
		log.Printf("xmpp: connection reset: %v", sess.Err())
		select {
		case <-time.After(reconnectWait):
		case <-ctx.Done():
			return
		}
	}
}

func (c *Client) serve(ctx context.Context, sess session) {
	for {
		select {
		case <-ctx.Done():
			sess.Close()
			return
		case <-sess.Done():
			return
		case m := <-sess.Messages():
			c.handleMessage(ctx, sess, m)
		case room := <-sess.Kicks():
			c.handleKick(ctx, room)
		}
	}
}

// handleKick tears down the pairing of a room the bridge was removed from.
// The Unbridge forwardable makes the Telegram side post its notice and
// leave the chat; the dispatcher deletes the pairing row.
func (c *Client) handleKick(ctx context.Context, room string) {
	if !c.tracked(room) {
		return
	}
	log.Printf("xmpp: kicked from %s, unbridging", room)
	c.mu.Lock()
	c.mucs = slices.DeleteFunc(c.mucs, func(r string) bool { return r == room })
	c.mu.Unlock()
	c.actors.LeaveAll(room)
	if err := c.dispatcher.Send(ctx, &model.Unbridge{Chat: model.Chat{Address: room}}); err != nil {
		log.Printf("xmpp: dispatch unbridge for %s: %v", room, err)
	}
}

func (c *Client) handleMessage(ctx context.Context, sess session, m *wire.Message) {
	if m.Invite != nil && m.Invite.JID != "" {
		c.service.Bind(ctx, m.Invite.JID, m.Invite.Reason)
		return
	}

	muc := wire.Bare(m.From)
	if m.Type == "error" {
		if m.Error != nil && m.Error.Text == occupantError && c.tracked(muc) {
			if err := sess.JoinMUC(ctx, muc, bridgeName); err != nil {
				log.Printf("xmpp: rejoin %s after occupant error: %v", muc, err)
			}
		}
		return
	}
	if m.Type != "groupchat" || !c.tracked(muc) {
		return
	}

	nick := wire.Resource(m.From)
	if nick == bridgeName || strings.HasSuffix(nick, telegramSuffix) {
		return
	}

	sender := model.Sender{Name: nick, ID: nick}
	origin := model.Chat{Address: muc}

	if m.OOB != nil && m.OOB.URL != "" {
		url := m.OOB.URL
		name := url
		if i := strings.LastIndex(url, "/"); i >= 0 {
			name = url[i+1:]
		}
		att := &model.Attachment{
			Message: model.Message{ID: m.ID, Chat: origin, Sender: sender, Content: name},
			URL: func(context.Context) (string, error) {
				return url, nil
			},
		}
		if err := c.dispatcher.Send(ctx, att); err != nil {
			log.Printf("xmpp: dispatch attachment from %s: %v", muc, err)
		}
		return
	}

	body := strings.TrimSpace(m.Body)
	if body == "" {
		return
	}

	id := m.ID
	edit := false
	if m.Replace != nil && m.Replace.ID != "" {
		id = m.Replace.ID
		edit = true
	}

	reply, content := parseReply(body)
	if content == "" {
		content = body
		reply = ""
	}

	msg := &model.Message{
		ID:      id,
		Chat:    origin,
		Sender:  sender,
		Content: content,
		Reply:   reply,
		Edit:    edit,
	}
	if err := c.dispatcher.Send(ctx, msg); err != nil {
		log.Printf("xmpp: dispatch message from %s: %v", muc, err)
	}
}

func (c *Client) tracked(muc string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Contains(c.mucs, muc)
}
