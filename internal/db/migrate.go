package db

import (
	"fmt"

	"gorm.io/gorm"

	"jabagram/internal/models"
)

// AllModels returns every bridge table for migration.
func AllModels() []interface{} {
	return []interface{}{
		&models.Chat{},
		&models.Message{},
		&models.Sticker{},
		&models.Topic{},
	}
}

// AutoMigrate creates or updates the four bridge tables. The runner treats
// a failure here as fatal: without the schema the bridge cannot map
// identifiers between the networks.
func AutoMigrate(gdb *gorm.DB) error {
	if err := gdb.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}
