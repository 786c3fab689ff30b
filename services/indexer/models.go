package indexer

import (
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// EventRecord is one committed event as received from the stream. Height and
// Position identify it, so a replayed event is stored once.
type EventRecord struct {
	ID         uint   `gorm:"primaryKey"`
	Height     uint64 `gorm:"uniqueIndex:idx_event_position"`
	Position   int    `gorm:"uniqueIndex:idx_event_position"`
	Type       string `gorm:"index"`
	SpaceID    string `gorm:"index"`
	Attributes string `gorm:"type:text"`
	ReceivedAt time.Time
}

// ContentRecord is a content announcement. A resource id is indexed once.
type ContentRecord struct {
	ID         uint   `gorm:"primaryKey"`
	ResourceID string `gorm:"uniqueIndex"`
	SpaceID    string `gorm:"index"`
	Publisher  string `gorm:"index"`
	BlobRef    string
	Title      string
	MediaType  string
	RecordedAt uint64
	Height     uint64 `gorm:"index"`
}

// Cursor remembers the highest height indexed so far. Events of that height
// may be incomplete; a resumed stream starts at it again.
type Cursor struct {
	Name   string `gorm:"primaryKey"`
	Height uint64
}

// AutoMigrate performs all schema migrations for the indexer.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&EventRecord{}, &ContentRecord{}, &Cursor{})
}

// Open connects to the indexer database. driver is "sqlite" or "postgres".
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres", "postgresql":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("indexer: unsupported database driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, err
	}
	if err := AutoMigrate(db); err != nil {
		return nil, err
	}
	return db, nil
}
