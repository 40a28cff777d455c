package models

// Message ties a Telegram message id to the XMPP stanza id it was bridged
// to (or from), scoped to one pairing. Body holds a 64-hex-char SHA-256
// digest of the message text, not the text itself; replies arriving as
// quoted text are resolved through it.
type Message struct {
	TelegramID int64  `gorm:"column:telegram_id;uniqueIndex;not null"`
	StanzaID   string `gorm:"column:stanza_id;size:256;uniqueIndex;not null"`
	Body       string `gorm:"column:body;size:64;not null;index"`
	ChatID     int64  `gorm:"column:chat_id;not null;index"`
	TopicID    *int64 `gorm:"column:topic_id"`
	MUC        string `gorm:"column:muc;size:1024;not null"`
}

func (Message) TableName() string { return "messages" }
