package models

// Chat is one bridge pairing between a Telegram chat and an XMPP room.
// Identity is the pair: one pairing per Telegram chat, one per room.
type Chat struct {
	TelegramID int64  `gorm:"column:telegram_id;uniqueIndex;not null"`
	MUC        string `gorm:"column:muc;size:1024;uniqueIndex;not null"`
}

// TableName keeps the historical table name.
func (Chat) TableName() string { return "chats" }
