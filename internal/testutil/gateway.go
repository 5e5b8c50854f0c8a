package testutil

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"clubpay/internal/gateway"
	"clubpay/internal/models/db_models"
)

var ErrFakeGatewayDown = errors.New("fake gateway unavailable")

// FakeAdapter records every call and answers from its fields.
type FakeAdapter struct {
	ProviderName string
	Methods      []db_models.PaymentMethod

	// FailFor makes CreateCharge fail for the listed idempotency keys.
	FailFor   map[string]error
	CreateErr error
	CancelErr error

	Event    *gateway.NormalizedEvent
	ParseErr error

	mu        sync.Mutex
	Requests  []gateway.ChargeRequest
	Cancelled []string
}

func NewFakeAdapter(name string, methods ...db_models.PaymentMethod) *FakeAdapter {
	return &FakeAdapter{ProviderName: name, Methods: methods, FailFor: map[string]error{}}
}

func (f *FakeAdapter) Name() string { return f.ProviderName }

func (f *FakeAdapter) Supports(method db_models.PaymentMethod) bool {
	for _, m := range f.Methods {
		if m == method {
			return true
		}
	}
	return false
}

func (f *FakeAdapter) CreateCharge(_ context.Context, req gateway.ChargeRequest) (*gateway.ChargeResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Requests = append(f.Requests, req)
	if err, ok := f.FailFor[req.IdempotencyKey]; ok {
		return nil, err
	}
	if f.CreateErr != nil {
		return nil, f.CreateErr
	}
	return &gateway.ChargeResult{
		ExternalID: fmt.Sprintf("%s_%s", f.ProviderName, req.IdempotencyKey),
		Status:     "PENDING",
		Meta:       map[string]any{"invoiceUrl": "https://pay.example/" + req.IdempotencyKey},
	}, nil
}

func (f *FakeAdapter) CancelCharge(_ context.Context, externalID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Cancelled = append(f.Cancelled, externalID)
	return f.CancelErr
}

func (f *FakeAdapter) ParseWebhook(_ []byte, _ http.Header) (*gateway.NormalizedEvent, error) {
	if f.ParseErr != nil {
		return nil, f.ParseErr
	}
	if f.Event == nil {
		return nil, gateway.ErrMalformedPayload
	}
	ev := *f.Event
	return &ev, nil
}

// Keys returns the idempotency keys passed to CreateCharge, in call order.
func (f *FakeAdapter) Keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]string, 0, len(f.Requests))
	for _, r := range f.Requests {
		keys = append(keys, r.IdempotencyKey)
	}
	return keys
}
