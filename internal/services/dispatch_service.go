package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"clubpay/internal/gateway"
	"clubpay/internal/metrics"
	"clubpay/internal/models/db_models"
	"clubpay/internal/repositories"
	"github.com/rs/zerolog"
)

// PIIDecrypter opens encrypted member columns. infra.CryptoManager
// implements it.
type PIIDecrypter interface {
	DecryptField(field, ciphertext string) (string, error)
}

type DispatchStatus string

const (
	DispatchSucceeded DispatchStatus = "SUCCEEDED"
	// DispatchOffline means the method is settled by staff; no gateway was called.
	DispatchOffline DispatchStatus = "OFFLINE"
	DispatchFailed  DispatchStatus = "FAILED"
)

// DispatchResult is either a success (ExternalID, GatewayName, Meta) or a
// business failure (Reason). Charges with a failed result stay PENDING.
type DispatchResult struct {
	Status      DispatchStatus
	ExternalID  string
	GatewayName string
	Meta        map[string]any
	Reason      string
}

func (r DispatchResult) OK() bool { return r.Status != DispatchFailed }

func dispatchFailure(reason string) DispatchResult {
	return DispatchResult{Status: DispatchFailed, Reason: reason}
}

type DispatchService interface {
	// Dispatch submits a persisted charge to the gateway resolved for its
	// method. Gateway and storage problems come back as a failed result; the
	// error return is reserved for PII decryption failures.
	Dispatch(ctx context.Context, tenantID string, charge db_models.Charge, member db_models.Member) (DispatchResult, error)
}

type dispatchService struct {
	tenants  repositories.TenantDB
	registry *gateway.Registry
	crypto   PIIDecrypter
	logger   zerolog.Logger
}

func NewDispatchService(tenants repositories.TenantDB, registry *gateway.Registry, crypto PIIDecrypter, logger zerolog.Logger) DispatchService {
	return &dispatchService{
		tenants:  tenants,
		registry: registry,
		crypto:   crypto,
		logger:   logger.With().Str("component", "dispatcher").Logger(),
	}
}

func (d *dispatchService) Dispatch(ctx context.Context, tenantID string, charge db_models.Charge, member db_models.Member) (DispatchResult, error) {
	if charge.Method.Offline() {
		metrics.DispatchOutcomes.WithLabelValues("offline", string(DispatchOffline)).Inc()
		return DispatchResult{Status: DispatchOffline}, nil
	}

	document, err := d.crypto.DecryptField(db_models.PIIFieldDocument, member.DocumentEnc)
	if err != nil {
		return DispatchResult{}, fmt.Errorf("decrypt document of member %s: %w", member.ID, err)
	}
	phone, err := d.crypto.DecryptField(db_models.PIIFieldPhone, member.PhoneEnc)
	if err != nil {
		return DispatchResult{}, fmt.Errorf("decrypt phone of member %s: %w", member.ID, err)
	}

	log := d.logger.With().
		Str("tenant", tenantID).
		Str("charge_id", charge.ID.String()).
		Str("method", string(charge.Method)).
		Logger()

	adapter, err := d.registry.ForMethod(charge.Method)
	if err != nil {
		log.Warn().Err(err).Msg("no gateway for charge")
		metrics.DispatchOutcomes.WithLabelValues("none", string(DispatchFailed)).Inc()
		return dispatchFailure(err.Error()), nil
	}

	req := gateway.ChargeRequest{
		AmountCents: charge.AmountMinor,
		DueDate:     charge.DueDate,
		Method:      charge.Method,
		Customer: gateway.Customer{
			ID:       member.ID.String(),
			Name:     member.Name,
			Email:    member.Email,
			Document: document,
			Phone:    phone,
		},
		Description:    charge.Description,
		IdempotencyKey: charge.ID.String(),
	}

	started := time.Now()
	res, err := adapter.CreateCharge(ctx, req)
	metrics.GatewayLatency.WithLabelValues(adapter.Name()).Observe(time.Since(started).Seconds())
	if err != nil {
		log.Warn().Err(err).Str("gateway", adapter.Name()).Msg("gateway charge creation failed")
		metrics.DispatchOutcomes.WithLabelValues(adapter.Name(), string(DispatchFailed)).Inc()
		return dispatchFailure(fmt.Sprintf("%s: %v", adapter.Name(), err)), nil
	}

	meta := res.Meta
	if meta == nil {
		meta = map[string]any{}
	}
	rawMeta, err := json.Marshal(meta)
	if err == nil {
		err = d.tenants.WithTenant(ctx, tenantID, func(store repositories.BillingStore) error {
			return store.SetChargeGateway(charge.ID, res.ExternalID, adapter.Name(), rawMeta)
		})
	}
	if err != nil {
		// The gateway holds a live charge we could not record. Retrying
		// creation would bill twice, so hand the id to an operator instead.
		log.Error().Err(err).
			Str("gateway", adapter.Name()).
			Str("external_id", res.ExternalID).
			Msg("gateway charge created but not persisted")
		metrics.DispatchOutcomes.WithLabelValues(adapter.Name(), "unpersisted").Inc()
		return dispatchFailure(fmt.Sprintf(
			"charge created at %s with external id %s but saving it failed: %v; reconcile manually",
			adapter.Name(), res.ExternalID, err)), nil
	}

	log.Info().Str("gateway", adapter.Name()).Str("external_id", res.ExternalID).Msg("charge dispatched")
	metrics.DispatchOutcomes.WithLabelValues(adapter.Name(), string(DispatchSucceeded)).Inc()
	return DispatchResult{
		Status:      DispatchSucceeded,
		ExternalID:  res.ExternalID,
		GatewayName: adapter.Name(),
		Meta:        meta,
	}, nil
}
