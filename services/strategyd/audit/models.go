package audit

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// EventRecord stores one committed strategy event.
type EventRecord struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	Type       string    `gorm:"size:64;index"`
	Strategy   string    `gorm:"size:42;index"`
	Attributes string    `gorm:"type:text"`
	Checksum   string    `gorm:"size:64"`
	CreatedAt  time.Time `gorm:"index"`
}

// TradeRecord stores one reconciled trade of a strategy.
type TradeRecord struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	Strategy   string    `gorm:"size:42;index"`
	FromAsset  string    `gorm:"size:42"`
	FromAmount string    `gorm:"size:80"`
	ToAsset    string    `gorm:"size:42"`
	ToAmount   string    `gorm:"size:80"`
	Slippage   string    `gorm:"size:80"`
	ExecutedAt time.Time `gorm:"index"`
	Checksum   string    `gorm:"size:64"`
	CreatedAt  time.Time
}

// AutoMigrate creates or updates the audit tables.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&EventRecord{}, &TradeRecord{})
}
