package asaas

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"clubpay/internal/gateway"
	"clubpay/internal/models/db_models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAsaas struct {
	mu        sync.Mutex
	payments  map[string]payment // by externalReference
	customers map[string]customer
	created   int
}

func newFakeAsaas(t *testing.T) (*fakeAsaas, *httptest.Server) {
	t.Helper()
	f := &fakeAsaas{payments: map[string]payment{}, customers: map[string]customer{}}
	mux := http.NewServeMux()
	mux.HandleFunc("/customers", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if r.Header.Get("access_token") != "key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.Method {
		case http.MethodGet:
			out := list[customer]{}
			if c, ok := f.customers[r.URL.Query().Get("externalReference")]; ok {
				out.Data = append(out.Data, c)
			}
			_ = json.NewEncoder(w).Encode(out)
		case http.MethodPost:
			var c customer
			_ = json.NewDecoder(r.Body).Decode(&c)
			c.ID = "cus_" + c.ExternalReference
			f.customers[c.ExternalReference] = c
			_ = json.NewEncoder(w).Encode(c)
		}
	})
	mux.HandleFunc("/payments", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		switch r.Method {
		case http.MethodGet:
			out := list[payment]{}
			if p, ok := f.payments[r.URL.Query().Get("externalReference")]; ok {
				out.Data = append(out.Data, p)
			}
			_ = json.NewEncoder(w).Encode(out)
		case http.MethodPost:
			var p payment
			_ = json.NewDecoder(r.Body).Decode(&p)
			f.created++
			p.ID = "pay_" + p.ExternalReference
			p.Status = "PENDING"
			p.InvoiceURL = "https://asaas.test/i/" + p.ID
			f.payments[p.ExternalReference] = p
			_ = json.NewEncoder(w).Encode(p)
		}
	})
	mux.HandleFunc("/payments/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			if r.URL.Path == "/payments/pay_gone" {
				w.WriteHeader(http.StatusNotFound)
				_, _ = w.Write([]byte(`{"errors":[{"code":"not_found"}]}`))
				return
			}
			_, _ = w.Write([]byte(`{"deleted":true}`))
			return
		}
		_ = json.NewEncoder(w).Encode(pixQrCode{EncodedImage: "aW1n", Payload: "000201PIX", ExpirationDate: "2025-03-01 23:59:59"})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return f, srv
}

func chargeRequest() gateway.ChargeRequest {
	return gateway.ChargeRequest{
		AmountCents:    9990,
		DueDate:        time.Date(2025, 2, 28, 23, 59, 59, 0, time.UTC),
		Method:         db_models.MethodPix,
		Customer:       gateway.Customer{ID: "m-1", Name: "Ana", Document: "12345678909", Phone: "11999990000"},
		IdempotencyKey: "charge-1",
	}
}

func TestCreateChargeSendsDecimalValueAndFetchesPix(t *testing.T) {
	f, srv := newFakeAsaas(t)
	a := New(Config{BaseURL: srv.URL, APIKey: "key"})

	res, err := a.CreateCharge(context.Background(), chargeRequest())
	require.NoError(t, err)

	assert.Equal(t, "pay_charge-1", res.ExternalID)
	assert.Equal(t, "000201PIX", res.Meta["pixPayload"])
	p := f.payments["charge-1"]
	assert.Equal(t, json.Number("99.90"), p.Value)
	assert.Equal(t, "2025-02-28", p.DueDate)
	assert.Equal(t, "cus_m-1", p.Customer)
}

func TestCreateChargeIsIdempotentOnKey(t *testing.T) {
	f, srv := newFakeAsaas(t)
	a := New(Config{BaseURL: srv.URL, APIKey: "key"})

	first, err := a.CreateCharge(context.Background(), chargeRequest())
	require.NoError(t, err)
	second, err := a.CreateCharge(context.Background(), chargeRequest())
	require.NoError(t, err)

	assert.Equal(t, first.ExternalID, second.ExternalID)
	assert.Equal(t, 1, f.created)
}

func TestCreateChargeSurfacesAPIError(t *testing.T) {
	_, srv := newFakeAsaas(t)
	a := New(Config{BaseURL: srv.URL, APIKey: "wrong"})

	_, err := a.CreateCharge(context.Background(), chargeRequest())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
}

func TestCancelCharge(t *testing.T) {
	_, srv := newFakeAsaas(t)
	a := New(Config{BaseURL: srv.URL, APIKey: "key"})

	assert.NoError(t, a.CancelCharge(context.Background(), "pay_1"))
	assert.Error(t, a.CancelCharge(context.Background(), "pay_gone"))
}

func webhookHeaders(token string) http.Header {
	h := http.Header{}
	if token != "" {
		h.Set("asaas-access-token", token)
	}
	return h
}

func TestParseWebhookNormalizesPaymentReceived(t *testing.T) {
	a := New(Config{WebhookToken: "whk"})
	raw := []byte(`{"id":"evt_1","event":"PAYMENT_CONFIRMED","payment":{"id":"pay_9","value":120.5,"externalReference":"charge-9"}}`)

	ev, err := a.ParseWebhook(raw, webhookHeaders("whk"))
	require.NoError(t, err)
	assert.Equal(t, gateway.EventPaymentReceived, ev.Type)
	assert.Equal(t, "pay_9", ev.GatewayTxID)
	assert.Equal(t, "charge-9", ev.ExternalReference)
	require.NotNil(t, ev.AmountCents)
	assert.Equal(t, int64(12050), *ev.AmountCents)
	assert.JSONEq(t, string(raw), string(ev.RawPayload))
}

func TestParseWebhookUnknownEventType(t *testing.T) {
	a := New(Config{WebhookToken: "whk"})
	ev, err := a.ParseWebhook([]byte(`{"event":"PAYMENT_SPLIT_DIVERGENCE","payment":{"id":"pay_1"}}`), webhookHeaders("whk"))
	require.NoError(t, err)
	assert.Equal(t, gateway.EventUnknown, ev.Type)
}

func TestParseWebhookSignatureFailuresStayDistinct(t *testing.T) {
	a := New(Config{WebhookToken: "whk"})
	valid := []byte(`{"event":"PAYMENT_RECEIVED","payment":{"id":"pay_1"}}`)
	for _, token := range []string{"", "wrong", "whk "} {
		_, err := a.ParseWebhook(valid, webhookHeaders(token))
		assert.ErrorIs(t, err, gateway.ErrSignatureInvalid, "token %q", token)
		assert.NotErrorIs(t, err, gateway.ErrMalformedPayload)
	}

	_, err := a.ParseWebhook([]byte(`{not json`), webhookHeaders("whk"))
	assert.ErrorIs(t, err, gateway.ErrMalformedPayload)
	assert.NotErrorIs(t, err, gateway.ErrSignatureInvalid)
}

func TestParseWebhookRejectsWhenNoTokenConfigured(t *testing.T) {
	a := New(Config{})
	_, err := a.ParseWebhook([]byte(`{}`), webhookHeaders(""))
	assert.ErrorIs(t, err, gateway.ErrSignatureInvalid)
}

func TestDecimalToCents(t *testing.T) {
	cases := map[string]int64{"99.9": 9990, "99.90": 9990, "100": 10000, "0.05": 5, "12.500": 1250, "-3.1": -310}
	for in, want := range cases {
		got, err := decimalToCents(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := decimalToCents("1.005")
	assert.Error(t, err)
	_, err = decimalToCents("abc")
	assert.Error(t, err)
}
