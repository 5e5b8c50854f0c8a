package db_models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type ChargeStatus string

const (
	ChargeStatusPending      ChargeStatus = "PENDING"
	ChargeStatusPaid         ChargeStatus = "PAID"
	ChargeStatusOverdue      ChargeStatus = "OVERDUE"
	ChargeStatusCancelled    ChargeStatus = "CANCELLED"
	ChargeStatusPendingRetry ChargeStatus = "PENDING_RETRY"
)

type PaymentMethod string

const (
	MethodPix          PaymentMethod = "PIX"
	MethodBoleto       PaymentMethod = "BOLETO"
	MethodCreditCard   PaymentMethod = "CREDIT_CARD"
	MethodCash         PaymentMethod = "CASH"
	MethodBankTransfer PaymentMethod = "BANK_TRANSFER"
)

// Offline methods are settled by staff and never reach a gateway.
func (m PaymentMethod) Offline() bool {
	return m == MethodCash || m == MethodBankTransfer
}

// Charge is one member's obligation for one billing period. At most one
// non-cancelled charge may exist per (member, billing period).
type Charge struct {
	BaseModel
	MemberID      uuid.UUID `gorm:"type:uuid;index:idx_charges_member_period,unique,where:status <> 'CANCELLED'"`
	BillingPeriod string    `gorm:"size:7;index:idx_charges_member_period,unique,where:status <> 'CANCELLED'"`

	AmountMinor int64 // 9990 = R$ 99,90
	DueDate     time.Time     `gorm:"index"`
	Status      ChargeStatus  `gorm:"type:varchar(16);index"`
	Method      PaymentMethod `gorm:"type:varchar(24)"`
	Description string

	// Gateway fields, filled by dispatch
	GatewayID   *string        `gorm:"index"`
	GatewayName *string
	GatewayMeta datatypes.JSON `gorm:"type:jsonb;default:'{}'"`

	RetryCount  int `gorm:"default:0"`
	LastRetryAt *time.Time
}

// Reconcilable reports whether a payment event may move the charge to PAID.
func (c Charge) Reconcilable() bool {
	switch c.Status {
	case ChargeStatusPending, ChargeStatusPendingRetry, ChargeStatusOverdue:
		return true
	}
	return false
}
