package store

import (
	"errors"
	"fmt"
	"log"

	"gorm.io/gorm"

	"jabagram/internal/models"
)

// TopicNameCache persists the human-readable names of Telegram forum
// topics, harvested from forum_topic_created service messages.
type TopicNameCache struct {
	db *gorm.DB
}

// NewTopicNameCache creates a TopicNameCache over an opened database.
func NewTopicNameCache(db *gorm.DB) *TopicNameCache {
	return &TopicNameCache{db: db}
}

// Add records the name of one topic thread.
func (s *TopicNameCache) Add(chatID, topicID int64, topicName string) error {
	row := models.Topic{ChatID: chatID, TopicID: topicID, TopicName: topicName}
	if err := s.db.Create(&row).Error; err != nil {
		return fmt.Errorf("store: add topic %d#%d: %w", chatID, topicID, err)
	}
	return nil
}

// Get returns the recorded name of a topic thread, if any.
func (s *TopicNameCache) Get(chatID, topicID int64) (string, bool) {
	var row models.Topic
	err := s.db.Where("chat_id = ? AND topic_id = ?", chatID, topicID).First(&row).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			log.Printf("store: topics: get %d#%d: %v", chatID, topicID, err)
		}
		return "", false
	}
	return row.TopicName, true
}
