package services

import (
	"context"
	"fmt"
	"time"

	"clubpay/internal/gateway"
	"clubpay/internal/metrics"
	"clubpay/internal/models/db_models"
	"clubpay/internal/repositories"
	"clubpay/pkg/utils"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Outcome reasons. Skips are expected under at-least-once delivery and are
// never returned as errors.
const (
	ReasonReconciled         = "reconciled"
	ReasonChargeAlreadyPaid  = "charge_already_paid"
	ReasonChargeCancelled    = "charge_cancelled"
	ReasonDuplicateTxID      = "duplicate_gateway_txid"
	ReasonUnknownEventType   = "unknown_event_type"
	ReasonMissingReference   = "missing_external_reference"
	ReasonChargeNotFound     = "charge_not_found"
	ReasonUnhandledEventType = "unhandled_event_type"
)

type ReconcileOutcome struct {
	Skipped             bool      `json:"skipped"`
	Reason              string    `json:"reason"`
	ChargeID            uuid.UUID `json:"chargeId"`
	PaymentID           uuid.UUID `json:"paymentId,omitempty"`
	AmountMinor         int64     `json:"amount,omitempty"`
	GatewayTxID         string    `json:"gatewayTxId,omitempty"`
	MemberStatusUpdated bool      `json:"memberStatusUpdated"`
	PaidAt              time.Time `json:"paidAt,omitempty"`
}

type ReconcileService interface {
	// HandlePaymentReceived applies a payment event in one unit of work. A
	// missing charge is returned as utils.ErrChargeNotFound so the caller
	// retries; a charge that is already PAID is a skipped outcome.
	HandlePaymentReceived(ctx context.Context, tenantID, provider string, event gateway.NormalizedEvent, actorID string) (*ReconcileOutcome, error)
}

type reconcileService struct {
	tenants repositories.TenantDB
	logger  zerolog.Logger
	now     func() time.Time
}

func NewReconcileService(tenants repositories.TenantDB, logger zerolog.Logger) ReconcileService {
	return &reconcileService{
		tenants: tenants,
		logger:  logger.With().Str("component", "reconciler").Logger(),
		now:     time.Now,
	}
}

func (s *reconcileService) HandlePaymentReceived(ctx context.Context, tenantID, provider string, event gateway.NormalizedEvent, actorID string) (*ReconcileOutcome, error) {
	chargeID, err := uuid.Parse(event.ExternalReference)
	if err != nil {
		return nil, fmt.Errorf("%w: reference %q", utils.ErrChargeNotFound, event.ExternalReference)
	}

	var outcome *ReconcileOutcome
	err = s.tenants.WithTenant(ctx, tenantID, func(store repositories.BillingStore) error {
		charge, err := store.FindCharge(chargeID)
		if err != nil {
			return err
		}
		if charge == nil {
			return fmt.Errorf("%w: %s", utils.ErrChargeNotFound, chargeID)
		}

		switch {
		case charge.Status == db_models.ChargeStatusPaid:
			outcome = &ReconcileOutcome{Skipped: true, Reason: ReasonChargeAlreadyPaid, ChargeID: chargeID}
			return nil
		case !charge.Reconcilable():
			outcome = &ReconcileOutcome{Skipped: true, Reason: ReasonChargeCancelled, ChargeID: chargeID}
			return nil
		}

		amount := charge.AmountMinor
		if event.AmountCents != nil {
			amount = *event.AmountCents
		}
		gatewayName := provider
		if gatewayName == "" && charge.GatewayName != nil {
			gatewayName = *charge.GatewayName
		}
		paidAt := s.now().UTC()

		payment := &db_models.Payment{
			ChargeID:    chargeID,
			AmountMinor: amount,
			GatewayTxID: event.GatewayTxID,
			Gateway:     gatewayName,
			Method:      charge.Method,
			PaidAt:      paidAt,
		}
		if err := store.CreatePayment(payment); err != nil {
			return fmt.Errorf("create payment: %w", err)
		}

		changed, err := store.UpdateChargeStatus(chargeID, reconcilableStatuses, db_models.ChargeStatusPaid)
		if err != nil {
			return err
		}
		if !changed {
			return fmt.Errorf("%w: charge %s changed concurrently", utils.ErrInvalidChargeState, chargeID)
		}

		member, err := store.FindMember(charge.MemberID)
		if err != nil {
			return err
		}
		reactivated := false
		if member != nil && member.Status == db_models.MemberStatusOverdue {
			if err := store.UpdateMemberStatus(member.ID, db_models.MemberStatusActive); err != nil {
				return err
			}
			reactivated = true
		}

		if err := store.AppendAudit(auditEntry(actorID, db_models.AuditPaymentConfirmed, "charge", chargeID.String(), map[string]any{
			"paymentId":           payment.ID,
			"amount":              amount,
			"gatewayTxId":         event.GatewayTxID,
			"memberStatusUpdated": reactivated,
			"paidAt":              paidAt,
		})); err != nil {
			return err
		}

		outcome = &ReconcileOutcome{
			Reason:              ReasonReconciled,
			ChargeID:            chargeID,
			PaymentID:           payment.ID,
			AmountMinor:         amount,
			GatewayTxID:         event.GatewayTxID,
			MemberStatusUpdated: reactivated,
			PaidAt:              paidAt,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.ReconcileOutcomes.WithLabelValues(outcome.Reason).Inc()
	ev := s.logger.Info()
	if outcome.Reason == ReasonChargeCancelled {
		ev = s.logger.Warn()
	}
	ev.Str("tenant", tenantID).
		Str("charge_id", chargeID.String()).
		Str("gateway_tx_id", event.GatewayTxID).
		Str("reason", outcome.Reason).
		Bool("member_reactivated", outcome.MemberStatusUpdated).
		Msg("payment event applied")
	return outcome, nil
}
