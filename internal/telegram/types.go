package telegram

// Update is one entry of a getUpdates batch, narrowed to the three update
// kinds the bridge subscribes to.
type Update struct {
	UpdateID      int64              `json:"update_id"`
	Message       *APIMessage        `json:"message"`
	EditedMessage *APIMessage        `json:"edited_message"`
	MyChatMember  *ChatMemberUpdated `json:"my_chat_member"`
}

// APIMessage is an inbound Bot API message. At most one of the media
// fields is set.
type APIMessage struct {
	MessageID         int64              `json:"message_id"`
	MessageThreadID   int64              `json:"message_thread_id"`
	IsTopicMessage    bool               `json:"is_topic_message"`
	From              *User              `json:"from"`
	Chat              ChatInfo           `json:"chat"`
	Text              string             `json:"text"`
	Caption           string             `json:"caption"`
	ReplyToMessage    *APIMessage        `json:"reply_to_message"`
	ForwardOrigin     *ForwardOrigin     `json:"forward_origin"`
	ForumTopicCreated *ForumTopicCreated `json:"forum_topic_created"`

	Sticker   *StickerInfo `json:"sticker"`
	Photo     []PhotoSize  `json:"photo"`
	Video     *FileInfo    `json:"video"`
	VideoNote *FileInfo    `json:"video_note"`
	Animation *FileInfo    `json:"animation"`
	Voice     *FileInfo    `json:"voice"`
	Audio     *FileInfo    `json:"audio"`
	Document  *FileInfo    `json:"document"`
}

// ChatInfo identifies the chat a message belongs to.
type ChatInfo struct {
	ID    int64  `json:"id"`
	Type  string `json:"type"`
	Title string `json:"title"`
}

// User is a Telegram account.
type User struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// ForwardOrigin describes where a forwarded message came from. Hidden
// accounts expose only sender_user_name.
type ForwardOrigin struct {
	Chat           *ChatInfo `json:"chat"`
	SenderChat     *ChatInfo `json:"sender_chat"`
	SenderUser     *User     `json:"sender_user"`
	SenderUserName string    `json:"sender_user_name"`
}

// ForumTopicCreated is the service payload naming a new forum topic.
type ForumTopicCreated struct {
	Name string `json:"name"`
}

// StickerInfo describes a sticker. Animated stickers use the TGS format,
// which no XMPP client renders; video stickers are WebM.
type StickerInfo struct {
	FileID       string `json:"file_id"`
	FileUniqueID string `json:"file_unique_id"`
	IsAnimated   bool   `json:"is_animated"`
	IsVideo      bool   `json:"is_video"`
	Emoji        string `json:"emoji"`
	FileSize     int64  `json:"file_size"`
}

// PhotoSize is one entry of the photo size ladder; the last is the largest.
type PhotoSize struct {
	FileID       string `json:"file_id"`
	FileUniqueID string `json:"file_unique_id"`
	FileSize     int64  `json:"file_size"`
}

// FileInfo covers the video, audio, voice, animation and document payloads.
type FileInfo struct {
	FileID       string `json:"file_id"`
	FileUniqueID string `json:"file_unique_id"`
	FileName     string `json:"file_name"`
	MimeType     string `json:"mime_type"`
	FileSize     int64  `json:"file_size"`
}

// ChatMemberUpdated reports a change of the bot's own membership.
type ChatMemberUpdated struct {
	Chat          ChatInfo   `json:"chat"`
	NewChatMember ChatMember `json:"new_chat_member"`
}

// ChatMember is a membership state; status "left" means the bot was
// removed from the chat.
type ChatMember struct {
	Status string `json:"status"`
}
