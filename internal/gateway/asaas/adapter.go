// Package asaas talks to the Asaas REST API (PIX and boleto).
package asaas

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"clubpay/internal/gateway"
	"clubpay/internal/models/db_models"
)

const (
	ProviderName       = "asaas"
	webhookTokenHeader = "asaas-access-token"
	defaultBaseURL     = "https://api.asaas.com/v3"
	defaultTimeout     = 20 * time.Second
)

type Config struct {
	BaseURL      string
	APIKey       string
	WebhookToken string // shared secret configured on the Asaas webhook
	Timeout      time.Duration
}

// APIError is a non-2xx answer from Asaas.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("asaas: http %d: %s", e.StatusCode, e.Body)
}

type Adapter struct {
	cfg    Config
	client *http.Client
}

func New(cfg Config) *Adapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Adapter{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

func (a *Adapter) Name() string { return ProviderName }

func (a *Adapter) Supports(method db_models.PaymentMethod) bool {
	return method == db_models.MethodPix || method == db_models.MethodBoleto
}

type customer struct {
	ID                string `json:"id,omitempty"`
	Name              string `json:"name"`
	CpfCnpj           string `json:"cpfCnpj,omitempty"`
	Email             string `json:"email,omitempty"`
	MobilePhone       string `json:"mobilePhone,omitempty"`
	ExternalReference string `json:"externalReference,omitempty"`
}

type payment struct {
	ID                string      `json:"id,omitempty"`
	Customer          string      `json:"customer,omitempty"`
	BillingType       string      `json:"billingType,omitempty"`
	Value             json.Number `json:"value,omitempty"`
	DueDate           string      `json:"dueDate,omitempty"`
	Description       string      `json:"description,omitempty"`
	ExternalReference string      `json:"externalReference,omitempty"`
	Status            string      `json:"status,omitempty"`
	InvoiceURL        string      `json:"invoiceUrl,omitempty"`
	BankSlipURL       string      `json:"bankSlipUrl,omitempty"`
}

type pixQrCode struct {
	EncodedImage   string `json:"encodedImage"`
	Payload        string `json:"payload"`
	ExpirationDate string `json:"expirationDate"`
}

type list[T any] struct {
	Data []T `json:"data"`
}

// CreateCharge is idempotent on req.IdempotencyKey: Asaas has no idempotency
// header, so the key travels as externalReference and an existing payment
// with that reference is returned instead of creating a second one.
func (a *Adapter) CreateCharge(ctx context.Context, req gateway.ChargeRequest) (*gateway.ChargeResult, error) {
	if req.IdempotencyKey == "" {
		return nil, fmt.Errorf("asaas: idempotency key is required")
	}

	var existing list[payment]
	if err := a.do(ctx, http.MethodGet, "/payments?externalReference="+url.QueryEscape(req.IdempotencyKey), nil, &existing); err != nil {
		return nil, fmt.Errorf("asaas: lookup payment: %w", err)
	}

	var p payment
	if len(existing.Data) > 0 {
		p = existing.Data[0]
	} else {
		customerID, err := a.ensureCustomer(ctx, req.Customer)
		if err != nil {
			return nil, err
		}
		body := payment{
			Customer:          customerID,
			BillingType:       string(req.Method),
			Value:             centsToDecimal(req.AmountCents),
			DueDate:           req.DueDate.UTC().Format("2006-01-02"),
			Description:       req.Description,
			ExternalReference: req.IdempotencyKey,
		}
		if err := a.do(ctx, http.MethodPost, "/payments", body, &p); err != nil {
			return nil, fmt.Errorf("asaas: create payment: %w", err)
		}
	}

	meta := map[string]any{
		"invoiceUrl": p.InvoiceURL,
	}
	if p.BankSlipURL != "" {
		meta["bankSlipUrl"] = p.BankSlipURL
	}
	if req.Method == db_models.MethodPix {
		var qr pixQrCode
		if err := a.do(ctx, http.MethodGet, "/payments/"+url.PathEscape(p.ID)+"/pixQrCode", nil, &qr); err != nil {
			return nil, fmt.Errorf("asaas: pix qr code for %s: %w", p.ID, err)
		}
		meta["pixPayload"] = qr.Payload
		meta["pixQrCode"] = qr.EncodedImage
		meta["pixExpiresAt"] = qr.ExpirationDate
	}

	return &gateway.ChargeResult{ExternalID: p.ID, Status: p.Status, Meta: meta}, nil
}

func (a *Adapter) ensureCustomer(ctx context.Context, c gateway.Customer) (string, error) {
	var found list[customer]
	if err := a.do(ctx, http.MethodGet, "/customers?externalReference="+url.QueryEscape(c.ID), nil, &found); err != nil {
		return "", fmt.Errorf("asaas: lookup customer: %w", err)
	}
	if len(found.Data) > 0 {
		return found.Data[0].ID, nil
	}

	var created customer
	body := customer{
		Name:              c.Name,
		CpfCnpj:           c.Document,
		Email:             c.Email,
		MobilePhone:       c.Phone,
		ExternalReference: c.ID,
	}
	if err := a.do(ctx, http.MethodPost, "/customers", body, &created); err != nil {
		return "", fmt.Errorf("asaas: create customer: %w", err)
	}
	return created.ID, nil
}

func (a *Adapter) CancelCharge(ctx context.Context, externalID string) error {
	if err := a.do(ctx, http.MethodDelete, "/payments/"+url.PathEscape(externalID), nil, nil); err != nil {
		return fmt.Errorf("asaas: cancel payment %s: %w", externalID, err)
	}
	return nil
}

type webhookBody struct {
	ID      string `json:"id"`
	Event   string `json:"event"`
	Payment *struct {
		ID                string      `json:"id"`
		Value             json.Number `json:"value"`
		ExternalReference string      `json:"externalReference"`
	} `json:"payment"`
}

func (a *Adapter) ParseWebhook(raw []byte, headers http.Header) (*gateway.NormalizedEvent, error) {
	if !gateway.SecretsEqual(headers.Get(webhookTokenHeader), a.cfg.WebhookToken) {
		return nil, gateway.ErrSignatureInvalid
	}

	var body webhookBody
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: %v", gateway.ErrMalformedPayload, err)
	}

	ev := &gateway.NormalizedEvent{
		Type:        eventType(body.Event),
		GatewayTxID: body.ID,
		RawPayload:  json.RawMessage(raw),
	}
	if body.Payment == nil {
		ev.Type = gateway.EventUnknown
		return ev, nil
	}

	ev.GatewayTxID = body.Payment.ID
	ev.ExternalReference = body.Payment.ExternalReference
	if body.Payment.Value != "" {
		cents, err := decimalToCents(body.Payment.Value.String())
		if err != nil {
			return nil, fmt.Errorf("%w: %v", gateway.ErrMalformedPayload, err)
		}
		ev.AmountCents = &cents
	}
	return ev, nil
}

func eventType(event string) gateway.EventType {
	switch event {
	case "PAYMENT_RECEIVED", "PAYMENT_CONFIRMED":
		return gateway.EventPaymentReceived
	case "PAYMENT_REFUNDED":
		return gateway.EventPaymentRefunded
	case "PAYMENT_OVERDUE":
		return gateway.EventPaymentOverdue
	default:
		return gateway.EventUnknown
	}
}

func (a *Adapter) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.cfg.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("access_token", a.cfg.APIKey)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}

func centsToDecimal(cents int64) json.Number {
	sign := ""
	if cents < 0 {
		sign, cents = "-", -cents
	}
	return json.Number(fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100))
}

// decimalToCents converts "99.9" / "99.90" / "100" to minor units without
// going through float64.
func decimalToCents(s string) (int64, error) {
	s = strings.TrimSpace(s)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")

	whole, frac, _ := strings.Cut(s, ".")
	if len(frac) > 2 {
		if strings.Trim(frac[2:], "0") != "" {
			return 0, fmt.Errorf("value %q has sub-cent precision", s)
		}
		frac = frac[:2]
	}
	for len(frac) < 2 {
		frac += "0"
	}
	if whole == "" {
		whole = "0"
	}
	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("value %q: %w", s, err)
	}
	f, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("value %q: %w", s, err)
	}
	cents := w*100 + f
	if neg {
		cents = -cents
	}
	return cents, nil
}
