// Package stripe adapts Stripe PaymentIntents for card charges.
package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"clubpay/internal/gateway"
	"clubpay/internal/models/db_models"
	stripelib "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/paymentintent"
	"github.com/stripe/stripe-go/v82/webhook"
)

const (
	ProviderName    = "stripe"
	signatureHeader = "Stripe-Signature"
	chargeIDKey     = "charge_id"
	defaultTimeout  = 20 * time.Second
)

type Config struct {
	SecretKey     string
	WebhookSecret string
	Currency      string // ISO 4217, lower case for Stripe; defaults to brl
	Timeout       time.Duration
}

// intentAPI is the slice of the Stripe SDK the adapter uses.
type intentAPI interface {
	New(params *stripelib.PaymentIntentParams) (*stripelib.PaymentIntent, error)
	Cancel(id string, params *stripelib.PaymentIntentCancelParams) (*stripelib.PaymentIntent, error)
}

// newIntentClient binds the key and an HTTP client with the adapter's timeout
// to a PaymentIntent client, leaving the SDK's package-level key untouched.
func newIntentClient(cfg Config) *paymentintent.Client {
	backend := stripelib.GetBackendWithConfig(stripelib.APIBackend, &stripelib.BackendConfig{
		HTTPClient: &http.Client{Timeout: cfg.Timeout},
	})
	return &paymentintent.Client{B: backend, Key: cfg.SecretKey}
}

type Adapter struct {
	cfg     Config
	intents intentAPI
}

func New(cfg Config) *Adapter {
	if cfg.Currency == "" {
		cfg.Currency = "brl"
	}
	cfg.Currency = strings.ToLower(cfg.Currency)
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Adapter{cfg: cfg, intents: newIntentClient(cfg)}
}

func (a *Adapter) Name() string { return ProviderName }

func (a *Adapter) Supports(method db_models.PaymentMethod) bool {
	return method == db_models.MethodCreditCard
}

// CreateCharge sends the charge id as Stripe's Idempotency-Key, so a retried
// dispatch of the same charge returns the original PaymentIntent.
func (a *Adapter) CreateCharge(ctx context.Context, req gateway.ChargeRequest) (*gateway.ChargeResult, error) {
	if req.IdempotencyKey == "" {
		return nil, errors.New("stripe: idempotency key is required")
	}
	params := &stripelib.PaymentIntentParams{
		Amount:             stripelib.Int64(req.AmountCents),
		Currency:           stripelib.String(a.cfg.Currency),
		PaymentMethodTypes: stripelib.StringSlice([]string{"card"}),
	}
	if req.Description != "" {
		params.Description = stripelib.String(req.Description)
	}
	if req.Customer.Email != "" {
		params.ReceiptEmail = stripelib.String(req.Customer.Email)
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey)
	params.AddMetadata(chargeIDKey, req.IdempotencyKey)
	params.AddMetadata("member_id", req.Customer.ID)

	pi, err := a.intents.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe: create payment intent: %w", err)
	}
	return &gateway.ChargeResult{
		ExternalID: pi.ID,
		Status:     string(pi.Status),
		Meta: map[string]any{
			"clientSecret": pi.ClientSecret,
		},
	}, nil
}

func (a *Adapter) CancelCharge(ctx context.Context, externalID string) error {
	params := &stripelib.PaymentIntentCancelParams{}
	params.Context = ctx
	if _, err := a.intents.Cancel(externalID, params); err != nil {
		return fmt.Errorf("stripe: cancel payment intent %s: %w", externalID, err)
	}
	return nil
}

func (a *Adapter) ParseWebhook(raw []byte, headers http.Header) (*gateway.NormalizedEvent, error) {
	if strings.TrimSpace(a.cfg.WebhookSecret) == "" {
		return nil, gateway.ErrSignatureInvalid
	}
	event, err := webhook.ConstructEventWithOptions(raw, headers.Get(signatureHeader), a.cfg.WebhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		if isSignatureError(err) {
			return nil, gateway.ErrSignatureInvalid
		}
		return nil, fmt.Errorf("%w: %v", gateway.ErrMalformedPayload, err)
	}

	ev := &gateway.NormalizedEvent{
		Type:        gateway.EventUnknown,
		GatewayTxID: event.ID,
		RawPayload:  json.RawMessage(raw),
	}
	if event.Data == nil {
		return ev, nil
	}

	switch event.Type {
	case "payment_intent.succeeded":
		var pi stripelib.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return nil, fmt.Errorf("%w: decode payment_intent: %v", gateway.ErrMalformedPayload, err)
		}
		amount := pi.AmountReceived
		ev.Type = gateway.EventPaymentReceived
		ev.GatewayTxID = pi.ID
		ev.ExternalReference = pi.Metadata[chargeIDKey]
		ev.AmountCents = &amount
	case "charge.refunded":
		var ch stripelib.Charge
		if err := json.Unmarshal(event.Data.Raw, &ch); err != nil {
			return nil, fmt.Errorf("%w: decode charge: %v", gateway.ErrMalformedPayload, err)
		}
		amount := ch.AmountRefunded
		ev.Type = gateway.EventPaymentRefunded
		ev.GatewayTxID = ch.ID
		ev.ExternalReference = ch.Metadata[chargeIDKey]
		ev.AmountCents = &amount
	}
	return ev, nil
}

func isSignatureError(err error) bool {
	return errors.Is(err, webhook.ErrNotSigned) ||
		errors.Is(err, webhook.ErrInvalidHeader) ||
		errors.Is(err, webhook.ErrNoValidSignature) ||
		errors.Is(err, webhook.ErrTooOld)
}
