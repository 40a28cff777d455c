package models

// Topic stores the human-readable name of a Telegram forum topic, harvested
// from forum_topic_created service messages.
type Topic struct {
	ChatID    int64  `gorm:"column:chat_id;not null;index:idx_topics_chat_topic"`
	TopicID   int64  `gorm:"column:topic_id;not null;index:idx_topics_chat_topic"`
	TopicName string `gorm:"column:topic_name;size:256;not null"`
}

func (Topic) TableName() string { return "topics" }
