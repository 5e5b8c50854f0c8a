package db_models

import "gorm.io/datatypes"

const (
	AuditChargeGenerated    = "charge.generated"
	AuditChargeCancelled    = "charge.cancelled"
	AuditChargesRetryMarked = "charges.pending_retry"
	AuditPaymentConfirmed   = "payment.confirmed"
)

// AuditLog is append-only.
type AuditLog struct {
	BaseModel
	ActorID    string `gorm:"index"`
	Action     string `gorm:"index"`
	EntityType string
	EntityID   string         `gorm:"index"`
	Metadata   datatypes.JSON `gorm:"type:jsonb;default:'{}'"`
}

func (AuditLog) TableName() string { return "audit_logs" }
