package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf16"

	"jabagram/internal/messages"
	"jabagram/internal/model"
	"jabagram/internal/store"
)

// topicResidenceWindow is how long a sender keeps posting into the forum
// topic they last replied in. A native reply into a topic moves the sender
// there; each follow-up message inside the window refreshes it.
const topicResidenceWindow = 10 * time.Second

type topicResidence struct {
	topicID int64
	last    time.Time
}

// Handler posts XMPP-originated events into one Telegram chat.
type Handler struct {
	address string
	chatID  int64
	api     *API
	store   *store.MessageStore
	msgs    messages.Messages

	mu        sync.Mutex
	residence map[string]topicResidence // sender name -> last topic
}

// HandlerOpts holds parameters for creating a Handler.
type HandlerOpts struct {
	Address  string // Telegram chat id, as a string
	API      *API
	Store    *store.MessageStore
	Messages messages.Messages
}

// NewHandler creates a Handler.
func NewHandler(opts HandlerOpts) (*Handler, error) {
	chatID, err := strconv.ParseInt(opts.Address, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("telegram: handler: address %q is not a chat id: %w", opts.Address, err)
	}
	if opts.API == nil {
		return nil, fmt.Errorf("telegram: handler: api is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("telegram: handler: message store is required")
	}
	return &Handler{
		address:   opts.Address,
		chatID:    chatID,
		api:       opts.API,
		store:     opts.Store,
		msgs:      opts.Messages,
		residence: make(map[string]topicResidence),
	}, nil
}

// Address returns the Telegram chat id this handler posts to.
func (h *Handler) Address() string { return h.address }

// entity mirrors a Bot API MessageEntity. Offsets and lengths count UTF-16
// code units.
type entity struct {
	Type   string `json:"type"`
	Offset int    `json:"offset"`
	Length int    `json:"length"`
}

func utf16Len(s string) int {
	return len(utf16.Encode([]rune(s)))
}

func boldSender(name string) string {
	ents := []entity{{Type: "bold", Offset: 0, Length: utf16Len(name)}}
	b, _ := json.Marshal(ents)
	return string(b)
}

// quoteEntities formats "reply\nsender: content": the quoted line as a
// blockquote, the sender name bold.
func quoteEntities(reply, sender string) string {
	ents := []entity{
		{Type: "blockquote", Offset: 0, Length: utf16Len(reply)},
		{Type: "bold", Offset: utf16Len(reply) + 1, Length: utf16Len(sender)},
	}
	b, _ := json.Marshal(ents)
	return string(b)
}

func (h *Handler) getResidence(sender string) (topicResidence, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.residence[sender]
	return r, ok
}

func (h *Handler) setResidence(sender string, r topicResidence) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.residence[sender] = r
}

func (h *Handler) clearResidence(sender string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.residence, sender)
}

// SendMessage posts a message as "sender: text". A reply whose quoted text
// is found in the message store becomes a native Telegram reply; otherwise
// the quote is prepended as a blockquote line.
func (h *Handler) SendMessage(ctx context.Context, origin *model.Message) error {
	sender := origin.Sender.Name
	text := sender + ": " + origin.Content

	params := url.Values{}
	params.Set("chat_id", h.address)
	params.Set("text", text)
	params.Set("entities", boldSender(sender))

	var keep *topicResidence
	if r, ok := h.getResidence(sender); ok {
		keep = &r
	}

	if origin.Reply != "" {
		if ref, ok := h.store.GetByBody(h.chatID, nil, origin.Chat.Address, origin.Reply); ok {
			params.Set("reply_to_message_id", strconv.FormatInt(ref.TelegramID, 10))
			if ref.TopicID != nil {
				params.Set("message_thread_id", strconv.FormatInt(*ref.TopicID, 10))
				keep = &topicResidence{topicID: *ref.TopicID, last: time.Now()}
			} else {
				h.clearResidence(sender)
				keep = nil
			}
		} else {
			params.Set("text", origin.Reply+"\n"+text)
			params.Set("entities", quoteEntities(origin.Reply, sender))
		}
	} else if keep != nil && time.Since(keep.last) < topicResidenceWindow {
		params.Set("message_thread_id", strconv.FormatInt(keep.topicID, 10))
		keep.last = time.Now()
	}

	sent, err := h.api.SendMessage(ctx, params)
	if err != nil {
		return fmt.Errorf("telegram: handler %s: send message: %w", h.address, err)
	}
	h.record(origin.Chat.Address, origin.ID, origin.Content, sent)
	if keep != nil {
		h.setResidence(sender, *keep)
	}
	return nil
}

// EditMessage rewrites the Telegram rendition of an edited XMPP message.
// Events whose original was never bridged are dropped.
func (h *Handler) EditMessage(ctx context.Context, origin *model.Message) error {
	ref, ok := h.store.GetByID(h.chatID, nil, origin.Chat.Address, origin.ID)
	if !ok {
		log.Printf("telegram: handler %s: no message id found for edit %s", h.address, origin.ID)
		return nil
	}

	sender := origin.Sender.Name
	text := sender + ": " + origin.Content

	params := url.Values{}
	params.Set("chat_id", h.address)
	params.Set("message_id", strconv.FormatInt(ref.TelegramID, 10))
	params.Set("text", text)
	params.Set("entities", boldSender(sender))

	if origin.Reply != "" {
		var topicID *int64
		if origin.Chat.TopicID != 0 {
			topicID = &origin.Chat.TopicID
		}
		// Keep the quote only when the original was not a native reply.
		if _, ok := h.store.GetByBody(h.chatID, topicID, origin.Chat.Address, origin.Reply); !ok {
			params.Set("text", origin.Reply+"\n"+text)
			params.Set("entities", quoteEntities(origin.Reply, sender))
		}
	}

	sent, err := h.api.EditMessageText(ctx, params)
	if err != nil {
		return fmt.Errorf("telegram: handler %s: edit message: %w", h.address, err)
	}
	h.record(origin.Chat.Address, origin.ID, origin.Content, sent)
	return nil
}

// SendAttachment streams the file from its origin URL straight into the
// matching Telegram upload method. On upload failure a plain-text notice is
// posted instead.
func (h *Handler) SendAttachment(ctx context.Context, att *model.Attachment) error {
	target, err := att.URL(ctx)
	if err != nil {
		return fmt.Errorf("telegram: handler %s: attachment url: %w", h.address, err)
	}

	resp, err := h.api.Download(ctx, target)
	if err != nil {
		return fmt.Errorf("telegram: handler %s: fetch attachment: %w", h.address, err)
	}
	defer resp.Body.Close()

	mimeType := resp.Header.Get("Content-Type")
	sender := att.Sender.Name

	params := url.Values{}
	params.Set("chat_id", h.address)
	params.Set("caption", sender+": ")
	params.Set("caption_entities", boldSender(sender))

	var keep *topicResidence
	if r, ok := h.getResidence(sender); ok && time.Since(r.last) < topicResidenceWindow {
		params.Set("message_thread_id", strconv.FormatInt(r.topicID, 10))
		r.last = time.Now()
		keep = &r
	}

	method, field := uploadMethod(mimeType)
	params.Set(field, "attach://file")

	sent, err := h.api.SendFile(ctx, method, params, &Upload{
		Field:  "file",
		Name:   att.Content,
		MIME:   mimeType,
		Reader: resp.Body,
	})
	if err != nil {
		notice := url.Values{}
		notice.Set("chat_id", h.address)
		notice.Set("text", fmt.Sprintf("Couldn't transfer file %s from %s", att.Content, sender))
		if _, nerr := h.api.SendMessage(ctx, notice); nerr != nil {
			log.Printf("telegram: handler %s: send failure notice: %v", h.address, nerr)
		}
		return fmt.Errorf("telegram: handler %s: upload attachment: %w", h.address, err)
	}
	h.record(att.Chat.Address, att.ID, att.Content, sent)
	if keep != nil {
		h.setResidence(sender, *keep)
	}
	return nil
}

// SendSticker posts a sticker like any other attachment; sticker identity
// only matters in the other direction.
func (h *Handler) SendSticker(ctx context.Context, s *model.Sticker) error {
	return h.SendAttachment(ctx, &s.Attachment)
}

// SendEvent posts a system notice verbatim.
func (h *Handler) SendEvent(ctx context.Context, e *model.Event) error {
	params := url.Values{}
	params.Set("chat_id", h.address)
	params.Set("text", e.Content)
	if _, err := h.api.SendMessage(ctx, params); err != nil {
		return fmt.Errorf("telegram: handler %s: send event: %w", h.address, err)
	}
	return nil
}

// Unbridge posts the farewell notice and leaves the chat.
func (h *Handler) Unbridge(ctx context.Context) error {
	params := url.Values{}
	params.Set("chat_id", h.address)
	params.Set("text", h.msgs.UnbridgeTelegram)
	if _, err := h.api.SendMessage(ctx, params); err != nil {
		return fmt.Errorf("telegram: handler %s: unbridge notice: %w", h.address, err)
	}
	if err := h.api.LeaveChat(ctx, h.address); err != nil {
		return fmt.Errorf("telegram: handler %s: leave chat: %w", h.address, err)
	}
	return nil
}

func (h *Handler) record(muc, stanzaID, body string, sent *SentMessage) {
	var topicID *int64
	if sent.MessageThreadID != 0 {
		topicID = &sent.MessageThreadID
	}
	if err := h.store.Add(h.chatID, topicID, body, sent.MessageID, muc, stanzaID); err != nil {
		log.Printf("telegram: handler %s: record message: %v", h.address, err)
	}
}

// uploadMethod maps a MIME type to the Bot API media method and its form
// field. GIFs go through sendAnimation so Telegram animates them.
func uploadMethod(mimeType string) (method, field string) {
	switch {
	case mimeType == "image/gif":
		return "sendAnimation", "animation"
	case strings.HasPrefix(mimeType, "image"):
		return "sendPhoto", "photo"
	case strings.HasPrefix(mimeType, "video"):
		return "sendVideo", "video"
	case strings.HasPrefix(mimeType, "audio"):
		return "sendAudio", "audio"
	}
	return "sendDocument", "document"
}
