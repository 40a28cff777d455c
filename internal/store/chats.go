// Package store exposes the four bridge tables behind typed lookups.
// Lookups report misses and execution failures identically: the caller gets
// no result either way, and real errors are logged here.
package store

import (
	"fmt"
	"log"
	"strconv"

	"gorm.io/gorm"

	"jabagram/internal/models"
)

// ChatStore persists bridge pairings.
type ChatStore struct {
	db *gorm.DB
}

// NewChatStore creates a ChatStore over an opened database.
func NewChatStore(db *gorm.DB) *ChatStore {
	return &ChatStore{db: db}
}

// Add records a confirmed pairing.
func (s *ChatStore) Add(telegramID int64, muc string) error {
	chat := models.Chat{TelegramID: telegramID, MUC: muc}
	if err := s.db.Create(&chat).Error; err != nil {
		return fmt.Errorf("store: add chat pair %d - %s: %w", telegramID, muc, err)
	}
	return nil
}

// All returns every persisted pairing, used at startup to recreate handlers.
func (s *ChatStore) All() []models.Chat {
	var chats []models.Chat
	if err := s.db.Find(&chats).Error; err != nil {
		log.Printf("store: chats: list pairings: %v", err)
		return nil
	}
	return chats
}

// Remove deletes the pairing that contains address, which may be either the
// Telegram chat id or the room JID.
func (s *ChatStore) Remove(address string) {
	q := s.db.Where("muc = ?", address)
	if id, err := strconv.ParseInt(address, 10, 64); err == nil {
		q = s.db.Where("telegram_id = ? OR muc = ?", id, address)
	}
	if err := q.Delete(&models.Chat{}).Error; err != nil {
		log.Printf("store: chats: remove %s: %v", address, err)
	}
}
