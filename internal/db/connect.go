// Package db opens the embedded sqlite store and installs the schema.
package db

import (
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open opens (or creates) the sqlite database at path. The busy timeout
// keeps concurrent writers from failing immediately while sqlite serializes.
func Open(path string) (*gorm.DB, error) {
	dsn := fmt.Sprintf("%s?_busy_timeout=5000", path)
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("db: open %s: %w", path, err)
	}
	return gdb, nil
}

// OpenMemory opens a throwaway in-memory database, used by tests.
func OpenMemory() (*gorm.DB, error) {
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("db: open in-memory: %w", err)
	}
	return gdb, nil
}
