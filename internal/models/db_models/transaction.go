package db_models

import (
	"time"

	"github.com/google/uuid"
)

// Payment is written once per reconciled gateway transaction and never updated.
type Payment struct {
	BaseModel
	ChargeID    uuid.UUID     `gorm:"type:uuid;uniqueIndex"`
	AmountMinor int64         // e.g. 9990 = R$ 99,90
	GatewayTxID string        `gorm:"uniqueIndex;not null"` // idempotency across webhooks
	Gateway     string        `gorm:"index"`
	Method      PaymentMethod `gorm:"type:varchar(24)"`
	PaidAt      time.Time     `gorm:"not null"`
}
