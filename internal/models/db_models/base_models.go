package db_models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// BaseModel is embedded by every tenant-scoped row. Timestamps are unix seconds.
type BaseModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	CreatedAt int64     `gorm:"autoCreateTime"`
	UpdatedAt int64     `gorm:"autoUpdateTime"`
}

// EnsureID assigns a fresh id when the row has none. Callers that need the id
// before insert (audit entries, idempotency keys) call it explicitly.
func (b *BaseModel) EnsureID() uuid.UUID {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return b.ID
}

func (b *BaseModel) BeforeCreate(tx *gorm.DB) error {
	b.EnsureID()
	now := time.Now().Unix()
	b.CreatedAt = now
	b.UpdatedAt = now
	return nil
}

func (b *BaseModel) BeforeUpdate(tx *gorm.DB) error {
	b.UpdatedAt = time.Now().Unix()
	return nil
}
