package models

// Sticker caches the XMPP upload URL produced for a Telegram sticker file.
// FileID is Telegram's stable content identifier, so the same sticker is
// uploaded at most once per distinct file.
type Sticker struct {
	FileID  string `gorm:"column:file_id;primaryKey;size:256"`
	XMPPURL string `gorm:"column:xmpp_url;size:2048;not null"`
}

func (Sticker) TableName() string { return "stickers" }
