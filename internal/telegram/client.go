package telegram

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"jabagram/internal/dispatch"
	"jabagram/internal/messages"
	"jabagram/internal/model"
	"jabagram/internal/service"
	"jabagram/internal/store"
)

// pollTimeout is the getUpdates long-poll window in seconds.
const pollTimeout = 50

// allowedUpdates narrows the subscription to what the bridge handles.
const allowedUpdates = `["message","edited_message","my_chat_member"]`

// Bare room JID: localpart@domain, no resource, no whitespace.
var jidPattern = regexp.MustCompile(`^[^@/\s]+@[^@/\s]+$`)

// Client runs the update loop and acts as the Telegram-side handler
// factory: each confirmed pairing gets a Handler that posts XMPP events
// into the Telegram chat.
type Client struct {
	api        *API
	jid        string
	service    *service.Service
	dispatcher *dispatch.Dispatcher
	store      *store.MessageStore
	topics     *store.TopicNameCache
	msgs       messages.Messages
	out        io.Writer
}

// ClientOpts holds parameters for creating a Client.
type ClientOpts struct {
	API        *API
	JID        string // the bridge's own XMPP address, quoted in pairing replies
	Service    *service.Service
	Dispatcher *dispatch.Dispatcher
	Store      *store.MessageStore
	Topics     *store.TopicNameCache
	Messages   messages.Messages
	Out        io.Writer // defaults to os.Stdout
}

// NewClient creates a Client and registers it as a handler factory.
func NewClient(opts ClientOpts) (*Client, error) {
	if opts.API == nil {
		return nil, fmt.Errorf("telegram: client: api is required")
	}
	if opts.JID == "" {
		return nil, fmt.Errorf("telegram: client: bridge jid is required")
	}
	if opts.Service == nil || opts.Dispatcher == nil {
		return nil, fmt.Errorf("telegram: client: service and dispatcher are required")
	}
	if opts.Store == nil || opts.Topics == nil {
		return nil, fmt.Errorf("telegram: client: message store and topic cache are required")
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	c := &Client{
		api:        opts.API,
		jid:        opts.JID,
		service:    opts.Service,
		dispatcher: opts.Dispatcher,
		store:      opts.Store,
		topics:     opts.Topics,
		msgs:       opts.Messages,
		out:        out,
	}
	c.service.RegisterFactory(c)
	return c, nil
}

// CreateHandler builds the Telegram-side handler of one pairing and
// registers it under the room address, the origin of the events it posts.
func (c *Client) CreateHandler(_ context.Context, telegramID int64, room string) error {
	h, err := NewHandler(HandlerOpts{
		Address:  strconv.FormatInt(telegramID, 10),
		API:      c.api,
		Store:    c.store,
		Messages: c.msgs,
	})
	if err != nil {
		return fmt.Errorf("telegram: create handler for %d: %w", telegramID, err)
	}
	c.dispatcher.AddHandler(room, h)
	return nil
}

// Start long-polls for updates until ctx is cancelled.
func (c *Client) Start(ctx context.Context) {
	fmt.Fprintf(c.out, "telegram: client: polling for updates\n")
	var offset int64
	for ctx.Err() == nil {
		params := url.Values{}
		params.Set("timeout", strconv.Itoa(pollTimeout))
		params.Set("allowed_updates", allowedUpdates)
		if offset != 0 {
			params.Set("offset", strconv.FormatInt(offset, 10))
		}

		updates, err := c.api.GetUpdates(ctx, params)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("telegram: client: receive updates: %v", err)
			select {
			case <-time.After(defaultRetryDelay):
			case <-ctx.Done():
				return
			}
			continue
		}
		if len(updates) == 0 {
			continue
		}
		for i := range updates {
			c.handleUpdate(ctx, &updates[i])
		}
		offset = updates[len(updates)-1].UpdateID + 1
	}
}

func groupChat(chat ChatInfo) bool {
	return chat.Type == "group" || chat.Type == "supergroup"
}

func (c *Client) handleUpdate(ctx context.Context, u *Update) {
	switch {
	case u.Message != nil && groupChat(u.Message.Chat):
		chatID := strconv.FormatInt(u.Message.Chat.ID, 10)
		if c.dispatcher.IsBound(chatID) {
			c.processMessage(ctx, u.Message, false)
		} else if strings.HasPrefix(u.Message.Text, "/jabagram") {
			c.bridgeCommand(ctx, u.Message.Chat.ID, u.Message.Text)
		}
	case u.EditedMessage != nil && groupChat(u.EditedMessage.Chat):
		if c.dispatcher.IsBound(strconv.FormatInt(u.EditedMessage.Chat.ID, 10)) {
			c.processMessage(ctx, u.EditedMessage, true)
		}
	case u.MyChatMember != nil && groupChat(u.MyChatMember.Chat):
		chatID := strconv.FormatInt(u.MyChatMember.Chat.ID, 10)
		if c.dispatcher.IsBound(chatID) && u.MyChatMember.NewChatMember.Status == "left" {
			if err := c.dispatcher.Send(ctx, &model.Unbridge{Chat: model.Chat{Address: chatID}}); err != nil {
				log.Printf("telegram: client: forward unbridge: %v", err)
			}
		}
	}
}

func (c *Client) bridgeCommand(ctx context.Context, chatID int64, cmd string) {
	address := strconv.FormatInt(chatID, 10)
	reply := func(text string) {
		params := url.Values{}
		params.Set("chat_id", address)
		params.Set("text", text)
		if _, err := c.api.SendMessage(ctx, params); err != nil {
			log.Printf("telegram: client: process bridge command: %v", err)
		}
	}

	fields := strings.Fields(cmd)
	if len(fields) < 2 {
		reply(c.msgs.MissingMUCJID)
		return
	}
	muc := fields[1]
	if !jidPattern.MatchString(muc) {
		reply(c.msgs.InvalidJID)
		return
	}
	c.service.Pending(muc, chatID)
	reply(fmt.Sprintf(c.msgs.Queueing, c.jid))
}

func (c *Client) processMessage(ctx context.Context, m *APIMessage, edit bool) {
	chatID := strconv.FormatInt(m.Chat.ID, 10)
	messageID := strconv.FormatInt(m.MessageID, 10)
	sender := fullName(m.From)
	text := m.Text
	if text == "" {
		text = m.Caption
	}
	reply := c.replyText(m)
	att := extractAttachment(sender, m)

	if name := c.topicName(m); name != "" {
		sender += " [" + name + "]"
	}

	origin := model.Message{
		ID:     messageID,
		Chat:   model.Chat{Address: chatID, TopicID: m.MessageThreadID},
		Sender: model.Sender{Name: sender, ID: senderID(m.From)},
	}

	if att != nil {
		origin.Content = att.name
		wrapped := model.Attachment{
			Message: origin,
			URL:     c.fileURLFunc(att.fileID),
			MIME:    att.mime,
			Size:    att.size,
		}
		var fw model.Forwardable
		if att.cacheable {
			fw = &model.Sticker{Attachment: wrapped, FileID: att.uniqueID}
		} else {
			// With a caption the reply nests in the text message below.
			if text == "" {
				wrapped.Reply = reply
			}
			fw = &wrapped
		}
		if err := c.dispatcher.Send(ctx, fw); err != nil {
			log.Printf("telegram: client: forward attachment: %v", err)
		}
	}

	if text != "" {
		if from := forwardedFrom(m.ForwardOrigin); from != "" {
			text = fmt.Sprintf("**Message forwarded from %s**\n\n%s", from, text)
		}
		origin.Content = text
		origin.Reply = reply
		origin.Edit = edit
		if err := c.dispatcher.Send(ctx, &origin); err != nil {
			log.Printf("telegram: client: forward message: %v", err)
		}
	}
}

// replyText recovers the quoted text of a reply: the body or caption of the
// replied-to message, or its attachment name when it had no text at all.
func (c *Client) replyText(m *APIMessage) string {
	r := m.ReplyToMessage
	if r == nil {
		return ""
	}
	body := r.Text
	if body == "" {
		body = r.Caption
	}
	if body == "" {
		if att := extractAttachment(fullName(r.From), r); att != nil {
			body = att.name
		}
	}
	return body
}

// topicName resolves the display name of the forum topic a message lives
// in. Names are harvested from the forum_topic_created service message that
// starts every thread and cached; threads whose creation predates the
// bridge render as "Unknown".
func (c *Client) topicName(m *APIMessage) string {
	if m.MessageThreadID == 0 {
		return ""
	}
	if name, ok := c.topics.Get(m.Chat.ID, m.MessageThreadID); ok {
		return name
	}
	if r := m.ReplyToMessage; r != nil {
		if r.ForumTopicCreated != nil {
			name := r.ForumTopicCreated.Name
			if err := c.topics.Add(m.Chat.ID, m.MessageThreadID, name); err != nil {
				log.Printf("telegram: client: cache topic name: %v", err)
			}
			return name
		}
		if r.IsTopicMessage {
			return "Unknown"
		}
	}
	return ""
}

func (c *Client) fileURLFunc(fileID string) model.URLFunc {
	return func(ctx context.Context) (string, error) {
		path, err := c.api.GetFile(ctx, fileID)
		if err != nil {
			return "", fmt.Errorf("telegram: resolve attachment url: %w", err)
		}
		return c.api.FileURL(path), nil
	}
}

func forwardedFrom(origin *ForwardOrigin) string {
	switch {
	case origin == nil:
		return ""
	case origin.Chat != nil:
		return origin.Chat.Title
	case origin.SenderChat != nil:
		return origin.SenderChat.Title
	case origin.SenderUser != nil:
		return fullName(origin.SenderUser)
	case origin.SenderUserName != "":
		return origin.SenderUserName
	}
	return "Unknown"
}

func fullName(u *User) string {
	if u == nil {
		return "Unknown"
	}
	if u.LastName != "" {
		return u.FirstName + " " + u.LastName
	}
	return u.FirstName
}

func senderID(u *User) string {
	if u == nil {
		return ""
	}
	return strconv.FormatInt(u.ID, 10)
}
