package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"clubpay/internal/gateway"
	"clubpay/internal/metrics"
	"clubpay/internal/models/db_models"
	"clubpay/internal/models/job_models"
	"clubpay/internal/services"
	"clubpay/pkg/middleware"
	"clubpay/pkg/utils"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubWebhookService struct {
	err      error
	provider string
	raw      []byte
	headers  http.Header
}

func (s *stubWebhookService) Ingest(_ context.Context, provider string, raw []byte, headers http.Header) (*services.IngestResult, error) {
	s.provider, s.raw, s.headers = provider, raw, headers
	if s.err != nil {
		return nil, s.err
	}
	return &services.IngestResult{TaskID: "webhook:" + provider + ":x"}, nil
}

func (s *stubWebhookService) ProcessEvent(context.Context, *job_models.WebhookJob, func(context.Context, string) error) (*services.WebhookOutcome, error) {
	return nil, errors.New("not used")
}

func postWebhook(t *testing.T, svc services.WebhookService, provider string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.TraceIDMiddleware())
	r.POST("/webhooks/:provider", NewWebhookController(svc, zerolog.Nop()).Receive)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/"+provider, bytes.NewReader(body))
	req.Header.Set("asaas-access-token", "tok")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestWebhookPassesRawBodyAndAcks(t *testing.T) {
	svc := &stubWebhookService{}
	// whitespace and key order must survive untouched
	body := []byte("{ \"event\" : \"PAYMENT_RECEIVED\",\n\"payment\":{\"id\":\"pay_1\"} }")

	rec := postWebhook(t, svc, "asaas", body)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"received":true}`, rec.Body.String())
	assert.Equal(t, body, svc.raw)
	assert.Equal(t, "asaas", svc.provider)
	assert.Equal(t, "tok", svc.headers.Get("asaas-access-token"))
}

func TestWebhookErrorStatuses(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"signature", fmt.Errorf("asaas webhook: %w", gateway.ErrSignatureInvalid), http.StatusUnauthorized},
		{"unknown provider", fmt.Errorf("%w: \"x\"", gateway.ErrUnknownProvider), http.StatusNotFound},
		{"parse", fmt.Errorf("asaas webhook: %w", gateway.ErrMalformedPayload), http.StatusInternalServerError},
		{"enqueue", fmt.Errorf("%w: redis down", services.ErrEnqueueFailed), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postWebhook(t, &stubWebhookService{err: tt.err}, "asaas", []byte(`{}`))
			assert.Equal(t, tt.want, rec.Code)
			assert.NotContains(t, rec.Body.String(), `"received"`)
		})
	}
}

func TestWebhookMetricsBoundUnknownProviders(t *testing.T) {
	unknown := metrics.WebhookRequests.WithLabelValues(unknownProviderLabel, "404")
	before := promtest.ToFloat64(unknown)

	for _, provider := range []string{"nope-1", "nope-2", "nope-3"} {
		rec := postWebhook(t, &stubWebhookService{err: gateway.ErrUnknownProvider}, provider, []byte(`{}`))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	}

	assert.Equal(t, before+3, promtest.ToFloat64(unknown))
	for _, provider := range []string{"nope-1", "nope-2", "nope-3"} {
		assert.Zero(t, promtest.ToFloat64(metrics.WebhookRequests.WithLabelValues(provider, "404")))
	}

	assert.Equal(t, "asaas", providerLabel("Asaas", http.StatusOK))
	assert.Equal(t, unknownProviderLabel, providerLabel("x", http.StatusBadRequest))
}

type stubChargeService struct {
	tenant, actor string
	opts          services.GenerateOptions
	period        utils.BillingPeriod
	err           error
}

func (s *stubChargeService) Generate(_ context.Context, tenantID, actorID string, opts services.GenerateOptions) (*services.GenerateResult, error) {
	s.tenant, s.actor, s.opts = tenantID, actorID, opts
	if s.err != nil {
		return nil, s.err
	}
	return &services.GenerateResult{
		BillingPeriod: opts.Period.String(),
		Generated:     2,
		Errors:        []services.MemberError{},
		GatewayErrors: []services.GatewayError{{ChargeID: uuid.New(), Reason: "asaas: 503"}},
		Charges:       []services.ChargeSummary{},
	}, nil
}

func (s *stubChargeService) MarkPendingRetry(_ context.Context, tenantID, _ string, period utils.BillingPeriod) (int64, error) {
	s.tenant, s.period = tenantID, period
	return 4, s.err
}

func (s *stubChargeService) CancelCharge(_ context.Context, _, _ string, id uuid.UUID) (*db_models.Charge, error) {
	if s.err != nil {
		return nil, s.err
	}
	c := &db_models.Charge{Status: db_models.ChargeStatusCancelled}
	c.ID = id
	return c, nil
}

func (s *stubChargeService) RedispatchPending(context.Context, string, string) (*services.RedispatchResult, error) {
	return &services.RedispatchResult{Dispatched: 1, GatewayErrors: []services.GatewayError{}}, s.err
}

func chargeRouter(svc services.ChargeService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.TraceIDMiddleware(), func(c *gin.Context) {
		c.Set(middleware.TenantIDKey, "alpha")
		c.Set(middleware.ActorIDKey, "staff-1")
	})
	cc := NewChargeController(svc)
	r.POST("/charges/generate", cc.Generate)
	r.POST("/charges/pending-retry", cc.MarkPendingRetry)
	r.POST("/charges/:id/cancel", cc.Cancel)
	r.POST("/charges/redispatch", cc.Redispatch)
	return r
}

func do(r *gin.Engine, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(http.MethodPost, path, nil)
	} else {
		req = httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestGenerateReturnsPartialFailures(t *testing.T) {
	svc := &stubChargeService{}
	rec := do(chargeRouter(svc), "/charges/generate", `{"billingPeriod":"2025-02","method":"boleto"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		TraceID string                  `json:"trace_id"`
		Data    services.GenerateResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.TraceID)
	assert.Equal(t, 2, resp.Data.Generated)
	assert.Len(t, resp.Data.GatewayErrors, 1)

	assert.Equal(t, "alpha", svc.tenant)
	assert.Equal(t, "staff-1", svc.actor)
	assert.Equal(t, "2025-02", svc.opts.Period.String())
	assert.Equal(t, db_models.MethodBoleto, svc.opts.Method)
}

func TestGenerateValidation(t *testing.T) {
	r := chargeRouter(&stubChargeService{})
	assert.Equal(t, http.StatusBadRequest, do(r, "/charges/generate", `{"billingPeriod":"soon"}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(r, "/charges/generate", `{"dueDate":"tomorrow"}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(r, "/charges/generate", `{"method":"BITCOIN"}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(r, "/charges/generate", `{`).Code)
	assert.Equal(t, http.StatusOK, do(r, "/charges/generate", "").Code)
}

func TestGenerateNoActivePlanIs422(t *testing.T) {
	rec := do(chargeRouter(&stubChargeService{err: utils.ErrNoActivePlan}), "/charges/generate", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestMarkPendingRetryEndpoint(t *testing.T) {
	svc := &stubChargeService{}
	rec := do(chargeRouter(svc), "/charges/pending-retry", `{"billingPeriod":"2025-01"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"updated":4`)
	assert.Equal(t, "2025-01", svc.period.String())
}

func TestCancelEndpoint(t *testing.T) {
	id := uuid.New()
	rec := do(chargeRouter(&stubChargeService{}), "/charges/"+id.String()+"/cancel", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"CANCELLED"`)

	assert.Equal(t, http.StatusBadRequest, do(chargeRouter(&stubChargeService{}), "/charges/nope/cancel", "").Code)
	assert.Equal(t, http.StatusConflict, do(chargeRouter(&stubChargeService{err: utils.ErrInvalidChargeState}), "/charges/"+id.String()+"/cancel", "").Code)
	assert.Equal(t, http.StatusNotFound, do(chargeRouter(&stubChargeService{err: utils.ErrChargeNotFound}), "/charges/"+id.String()+"/cancel", "").Code)
}

func TestRedispatchEndpoint(t *testing.T) {
	rec := do(chargeRouter(&stubChargeService{}), "/charges/redispatch", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"dispatched":1`)
}
