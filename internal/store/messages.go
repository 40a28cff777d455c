package store

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"strconv"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"jabagram/internal/models"
)

// MessageEntry is the cross-network identity of one bridged message.
type MessageEntry struct {
	TelegramID int64
	StanzaID   string
	TopicID    *int64
}

// MessageStore ties message identifiers in one network to identifiers in
// the other. Rows are written whenever a message is successfully forwarded
// in either direction.
type MessageStore struct {
	db *gorm.DB
}

// NewMessageStore creates a MessageStore over an opened database.
func NewMessageStore(db *gorm.DB) *MessageStore {
	return &MessageStore{db: db}
}

// Digest returns the 64-hex-char SHA-256 digest stored in place of the
// message text.
func Digest(body string) string {
	sum := sha256.Sum256([]byte(body))
	return hex.EncodeToString(sum[:])
}

// Add records (or, on an edit of the same Telegram id, replaces) the
// identity pair for one forwarded message. Latest edit wins: the digest and
// stanza binding of a re-added telegram_id overwrite the previous row, so
// reply-by-text lookups resolve to the post-edit body only.
func (s *MessageStore) Add(chatID int64, topicID *int64, body string, telegramID int64, muc, stanzaID string) error {
	row := models.Message{
		TelegramID: telegramID,
		StanzaID:   stanzaID,
		Body:       Digest(body),
		ChatID:     chatID,
		TopicID:    topicID,
		MUC:        muc,
	}
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "telegram_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"stanza_id", "body", "topic_id"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("store: add message %d/%s: %w", telegramID, stanzaID, err)
	}
	return nil
}

// GetByID looks up a bridged message by either its stanza id or its
// Telegram id in one query, scoped to the pairing. Used for edits: the
// origin id maps to the previously produced peer id.
func (s *MessageStore) GetByID(chatID int64, topicID *int64, muc, messageID string) (MessageEntry, bool) {
	q := s.db.Where("chat_id = ? AND muc = ?", chatID, muc)
	if tgID, err := strconv.ParseInt(messageID, 10, 64); err == nil {
		q = q.Where("stanza_id = ? OR telegram_id = ?", messageID, tgID)
	} else {
		q = q.Where("stanza_id = ?", messageID)
	}
	if topicID != nil {
		q = q.Where("topic_id = ?", *topicID)
	}
	return s.first(q, "id "+messageID)
}

// GetByBody looks up a bridged message by the digest of its text. Used for
// replies: when a user quotes a line, the peer-network id of the quoted
// message is recovered to produce a native reply.
func (s *MessageStore) GetByBody(chatID int64, topicID *int64, muc, body string) (MessageEntry, bool) {
	q := s.db.Where("chat_id = ? AND muc = ? AND body = ?", chatID, muc, Digest(body))
	if topicID != nil {
		q = q.Where("topic_id = ?", *topicID)
	}
	return s.first(q, "body digest")
}

func (s *MessageStore) first(q *gorm.DB, what string) (MessageEntry, bool) {
	var row models.Message
	if err := q.First(&row).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			log.Printf("store: messages: lookup by %s: %v", what, err)
		}
		return MessageEntry{}, false
	}
	return MessageEntry{
		TelegramID: row.TelegramID,
		StanzaID:   row.StanzaID,
		TopicID:    row.TopicID,
	}, true
}
