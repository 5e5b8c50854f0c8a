// Package gateway defines the provider-agnostic contract between the billing
// core and external payment providers, plus the registry that resolves which
// provider handles a payment method.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"clubpay/internal/models/db_models"
)

var (
	// ErrSignatureInvalid marks a webhook whose authenticity credential is
	// missing or wrong. The HTTP layer answers 401 for it and 500 for any
	// other ParseWebhook failure.
	ErrSignatureInvalid   = errors.New("gateway: webhook signature invalid")
	ErrMalformedPayload   = errors.New("gateway: malformed webhook payload")
	ErrUnknownProvider    = errors.New("gateway: unknown provider")
	ErrNoAdapterForMethod = errors.New("gateway: no adapter supports payment method")
	ErrDuplicateAdapter   = errors.New("gateway: adapter already registered")
)

type EventType string

const (
	EventPaymentReceived EventType = "PAYMENT_RECEIVED"
	EventPaymentRefunded EventType = "PAYMENT_REFUNDED"
	EventPaymentOverdue  EventType = "PAYMENT_OVERDUE"
	EventUnknown         EventType = "UNKNOWN"
)

// NormalizedEvent is a provider webhook reduced to what reconciliation needs.
// ExternalReference carries our own charge id echoed back by the provider.
type NormalizedEvent struct {
	Type              EventType       `json:"type"`
	GatewayTxID       string          `json:"gatewayTxId"`
	ExternalReference string          `json:"externalReference,omitempty"`
	AmountCents       *int64          `json:"amountCents,omitempty"`
	RawPayload        json.RawMessage `json:"rawPayload,omitempty"`
}

type Customer struct {
	ID       string // our member id
	Name     string
	Email    string
	Document string // CPF/CNPJ, decrypted
	Phone    string
}

type ChargeRequest struct {
	AmountCents    int64
	DueDate        time.Time
	Method         db_models.PaymentMethod
	Customer       Customer
	Description    string
	IdempotencyKey string
}

type ChargeResult struct {
	ExternalID string
	Status     string
	Meta       map[string]any
}

// Adapter is implemented once per payment provider.
type Adapter interface {
	Name() string
	Supports(method db_models.PaymentMethod) bool
	CreateCharge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
	CancelCharge(ctx context.Context, externalID string) error
	ParseWebhook(raw []byte, headers http.Header) (*NormalizedEvent, error)
}
