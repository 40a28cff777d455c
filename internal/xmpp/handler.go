package xmpp

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"

	"jabagram/internal/messages"
	"jabagram/internal/model"
	"jabagram/internal/store"
	"jabagram/internal/xmpp/wire"
)

// listenerSession is what the room handler needs from the primary bridge
// session beyond posting.
type listenerSession interface {
	poster
	RequestUploadSlot(ctx context.Context, filename, mime string, size int64) (*wire.UploadSlot, error)
	LeaveMUC(muc, nick string) error
}

// RoomHandler relays Telegram traffic into a single MUC.
type RoomHandler struct {
	muc      string
	listener listenerSession
	actors   *ActorFactory
	stickers *store.StickerCache
	store    *store.MessageStore
	msgs     messages.Messages
	http     *http.Client
	out      io.Writer
}

// RoomHandlerOpts holds parameters for creating a RoomHandler.
type RoomHandlerOpts struct {
	MUC      string
	Listener listenerSession
	Actors   *ActorFactory
	Stickers *store.StickerCache
	Store    *store.MessageStore
	Messages messages.Messages
	HTTP     *http.Client
	Out      io.Writer
}

// NewRoomHandler creates a RoomHandler.
func NewRoomHandler(opts RoomHandlerOpts) (*RoomHandler, error) {
	if opts.MUC == "" {
		return nil, fmt.Errorf("xmpp: handler: muc address is required")
	}
	if opts.Listener == nil {
		return nil, fmt.Errorf("xmpp: handler: listener session is required")
	}
	if opts.Actors == nil {
		return nil, fmt.Errorf("xmpp: handler: actor factory is required")
	}
	if opts.Stickers == nil {
		return nil, fmt.Errorf("xmpp: handler: sticker cache is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("xmpp: handler: message store is required")
	}
	client := opts.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	return &RoomHandler{
		muc:      opts.MUC,
		listener: opts.Listener,
		actors:   opts.Actors,
		stickers: opts.Stickers,
		store:    opts.Store,
		msgs:     opts.Messages,
		http:     client,
		out:      out,
	}, nil
}

// Address returns the MUC JID this handler serves.
func (h *RoomHandler) Address() string {
	return h.muc
}

// SendMessage posts a Telegram message into the room under the sender's
// actor and records the stanza id for later edit correlation.
func (h *RoomHandler) SendMessage(ctx context.Context, m *model.Message) error {
	actor := h.actors.Get(ctx, m.Sender.ID, m.Sender.Name, h.muc)
	body := m.Content
	if m.Reply != "" {
		body = quoteReply(m.Reply) + "\n" + body
	}
	stanzaID, err := actor.SendGroupchat(h.muc, body)
	if err != nil {
		return fmt.Errorf("xmpp: handler: send to %s: %w", h.muc, err)
	}
	h.record(m, stanzaID)
	return nil
}

// EditMessage posts a message correction referencing the stanza of the
// original. An edit whose original is unknown is dropped.
func (h *RoomHandler) EditMessage(ctx context.Context, m *model.Message) error {
	chatID, topicID := originChat(m)
	ref, ok := h.store.GetByID(chatID, topicID, h.muc, m.ID)
	if !ok {
		log.Printf("xmpp: handler: edit of unknown message %s in %s, dropping", m.ID, h.muc)
		return nil
	}
	actor := h.actors.Get(ctx, m.Sender.ID, m.Sender.Name, h.muc)
	body := m.Content
	if m.Reply != "" {
		body = quoteReply(m.Reply) + "\n" + body
	}
	if _, err := actor.SendGroupchatReplace(h.muc, body, ref.StanzaID); err != nil {
		return fmt.Errorf("xmpp: handler: edit in %s: %w", h.muc, err)
	}
	return nil
}

// SendAttachment reuploads a Telegram file to the XMPP HTTP upload service
// and posts the resulting URL out-of-band.
func (h *RoomHandler) SendAttachment(ctx context.Context, a *model.Attachment) error {
	url, err := h.upload(ctx, a)
	if err != nil {
		return err
	}
	return h.post(ctx, a, url)
}

// SendSticker sends a sticker, reusing its previously uploaded URL when the
// upload service still serves it.
func (h *RoomHandler) SendSticker(ctx context.Context, s *model.Sticker) error {
	if url, ok := h.stickers.Get(s.FileID); ok {
		if h.stillServed(ctx, url) {
			return h.post(ctx, &s.Attachment, url)
		}
		fmt.Fprintf(h.out, "xmpp: handler: cached sticker %s is gone, reuploading\n", s.FileID)
	}
	url, err := h.upload(ctx, &s.Attachment)
	if err != nil {
		return err
	}
	if err := h.stickers.Add(s.FileID, url); err != nil {
		log.Printf("xmpp: handler: cache sticker %s: %v", s.FileID, err)
	}
	return h.post(ctx, &s.Attachment, url)
}

// SendEvent posts a service notice under the bridge's own nick.
func (h *RoomHandler) SendEvent(ctx context.Context, e *model.Event) error {
	if _, err := h.listener.SendGroupchat(h.muc, e.Content); err != nil {
		return fmt.Errorf("xmpp: handler: send event to %s: %w", h.muc, err)
	}
	return nil
}

// Unbridge announces the teardown and withdraws every bridge occupant from
// the room.
func (h *RoomHandler) Unbridge(ctx context.Context) error {
	if _, err := h.listener.SendGroupchat(h.muc, h.msgs.UnbridgeXMPP); err != nil {
		log.Printf("xmpp: handler: unbridge notice to %s: %v", h.muc, err)
	}
	h.actors.LeaveAll(h.muc)
	if err := h.listener.LeaveMUC(h.muc, bridgeName); err != nil {
		return fmt.Errorf("xmpp: handler: leave %s: %w", h.muc, err)
	}
	return nil
}

func (h *RoomHandler) stillServed(ctx context.Context, url string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return false
	}
	resp, err := h.http.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (h *RoomHandler) upload(ctx context.Context, a *model.Attachment) (string, error) {
	src, err := a.URL(ctx)
	if err != nil {
		return "", fmt.Errorf("xmpp: handler: resolve %s: %w", a.Content, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return "", fmt.Errorf("xmpp: handler: fetch %s: %w", a.Content, err)
	}
	resp, err := h.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("xmpp: handler: fetch %s: %w", a.Content, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("xmpp: handler: fetch %s: unexpected status %d", a.Content, resp.StatusCode)
	}

	size := a.Size
	if size <= 0 {
		size = resp.ContentLength
	}
	mime := a.MIME
	if mime == "" {
		mime = resp.Header.Get("Content-Type")
	}

	slot, err := h.listener.RequestUploadSlot(ctx, a.Content, mime, size)
	if err != nil {
		return "", fmt.Errorf("xmpp: handler: request slot for %s: %w", a.Content, err)
	}
	if err := wire.UploadPut(ctx, h.http, slot, resp.Body, size, mime); err != nil {
		return "", fmt.Errorf("xmpp: handler: upload %s: %w", a.Content, err)
	}
	fmt.Fprintf(h.out, "xmpp: handler: uploaded %s for %s\n", a.Content, h.muc)
	return slot.GetURL, nil
}

func (h *RoomHandler) post(ctx context.Context, a *model.Attachment, url string) error {
	actor := h.actors.Get(ctx, a.Sender.ID, a.Sender.Name, h.muc)
	if a.Reply != "" {
		if _, err := actor.SendGroupchat(h.muc, quoteReply(a.Reply)); err != nil {
			log.Printf("xmpp: handler: reply quote to %s: %v", h.muc, err)
		}
	}
	if _, err := actor.SendGroupchatOOB(h.muc, url); err != nil {
		return fmt.Errorf("xmpp: handler: post %s to %s: %w", a.Content, h.muc, err)
	}
	return nil
}

func (h *RoomHandler) record(m *model.Message, stanzaID string) {
	chatID, topicID := originChat(m)
	telegramID, err := strconv.ParseInt(m.ID, 10, 64)
	if err != nil {
		log.Printf("xmpp: handler: bad message id %q: %v", m.ID, err)
		return
	}
	if err := h.store.Add(chatID, topicID, m.Content, telegramID, h.muc, stanzaID); err != nil {
		log.Printf("xmpp: handler: record message %s: %v", m.ID, err)
	}
}

func originChat(m *model.Message) (int64, *int64) {
	chatID, _ := strconv.ParseInt(m.Chat.Address, 10, 64)
	if m.Chat.TopicID == 0 {
		return chatID, nil
	}
	topicID := m.Chat.TopicID
	return chatID, &topicID
}
