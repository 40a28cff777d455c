package store

import (
	"errors"
	"fmt"
	"log"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"jabagram/internal/models"
)

// StickerCache persists the XMPP upload URL per Telegram sticker file so
// the same sticker is downloaded and re-uploaded at most once.
type StickerCache struct {
	db *gorm.DB
}

// NewStickerCache creates a StickerCache over an opened database.
func NewStickerCache(db *gorm.DB) *StickerCache {
	return &StickerCache{db: db}
}

// Add records the uploaded URL for a sticker file, replacing a stale one.
func (s *StickerCache) Add(fileID, xmppURL string) error {
	row := models.Sticker{FileID: fileID, XMPPURL: xmppURL}
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "file_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"xmpp_url"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("store: add sticker %s: %w", fileID, err)
	}
	return nil
}

// Get returns the cached URL for fileID, if any.
func (s *StickerCache) Get(fileID string) (string, bool) {
	var row models.Sticker
	if err := s.db.Where("file_id = ?", fileID).First(&row).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			log.Printf("store: stickers: get %s: %v", fileID, err)
		}
		return "", false
	}
	return row.XMPPURL, true
}
