package services

import (
	"context"
	"encoding/json"
	"errors"
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

// GenerateOptions tunes one generation run. A zero Period means the current
// UTC month; a nil DueDate means the last instant of the period.
type GenerateOptions struct {
	Period  utils.BillingPeriod
	DueDate *time.Time
	Method  db_models.PaymentMethod
}

type ChargeSummary struct {
	ID          uuid.UUID      `json:"id"`
	MemberID    uuid.UUID      `json:"subscriberId"`
	MemberName  string         `json:"subscriberName"`
	AmountMinor int64          `json:"amount"`
	DueDate     time.Time      `json:"dueDate"`
	ExternalID  string         `json:"externalId,omitempty"`
	GatewayName string         `json:"gatewayName,omitempty"`
	GatewayMeta map[string]any `json:"gatewayMeta,omitempty"`
}

type MemberError struct {
	MemberID uuid.UUID `json:"subscriberId"`
	Reason   string    `json:"reason"`
}

type GatewayError struct {
	ChargeID uuid.UUID `json:"chargeId"`
	MemberID uuid.UUID `json:"subscriberId"`
	Reason   string    `json:"reason"`
}

type GenerateResult struct {
	BillingPeriod string          `json:"billingPeriod"`
	Generated     int             `json:"generated"`
	Skipped       int             `json:"skipped"`
	Errors        []MemberError   `json:"errors"`
	GatewayErrors []GatewayError  `json:"gatewayErrors"`
	Charges       []ChargeSummary `json:"charges"`
}

type RedispatchResult struct {
	Dispatched    int            `json:"dispatched"`
	GatewayErrors []GatewayError `json:"gatewayErrors"`
}

type ChargeService interface {
	Generate(ctx context.Context, tenantID, actorID string, opts GenerateOptions) (*GenerateResult, error)
	// MarkPendingRetry moves every PENDING charge of the period to
	// PENDING_RETRY. Running it again changes nothing.
	MarkPendingRetry(ctx context.Context, tenantID, actorID string, period utils.BillingPeriod) (int64, error)
	CancelCharge(ctx context.Context, tenantID, actorID string, chargeID uuid.UUID) (*db_models.Charge, error)
	RedispatchPending(ctx context.Context, tenantID, actorID string) (*RedispatchResult, error)
}

type chargeService struct {
	tenants    repositories.TenantDB
	dispatcher DispatchService
	registry   *gateway.Registry
	logger     zerolog.Logger
	now        func() time.Time
}

func NewChargeService(tenants repositories.TenantDB, dispatcher DispatchService, registry *gateway.Registry, logger zerolog.Logger) ChargeService {
	return &chargeService{
		tenants:    tenants,
		dispatcher: dispatcher,
		registry:   registry,
		logger:     logger.With().Str("component", "charges").Logger(),
		now:        time.Now,
	}
}

func (s *chargeService) Generate(ctx context.Context, tenantID, actorID string, opts GenerateOptions) (*GenerateResult, error) {
	period := opts.Period
	if period.IsZero() {
		period = utils.CurrentBillingPeriod(s.now())
	}
	dueDate := period.DefaultDueDate()
	if opts.DueDate != nil {
		dueDate = opts.DueDate.UTC()
	}
	method := opts.Method
	if method == "" {
		method = db_models.MethodPix
	}

	result := &GenerateResult{
		BillingPeriod: period.String(),
		Errors:        []MemberError{},
		GatewayErrors: []GatewayError{},
		Charges:       []ChargeSummary{},
	}

	var eligible []repositories.EligibleMember
	err := s.tenants.WithTenant(ctx, tenantID, func(store repositories.BillingStore) error {
		plans, err := store.CountActivePlans()
		if err != nil {
			return err
		}
		if plans == 0 {
			return utils.ErrNoActivePlan
		}
		eligible, err = store.ListEligibleMembers()
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(eligible) == 0 {
		return result, nil
	}

	log := s.logger.With().Str("tenant", tenantID).Str("period", period.String()).Logger()

	for _, m := range eligible {
		charge := db_models.Charge{
			MemberID:      m.MemberID,
			BillingPeriod: period.String(),
			AmountMinor:   m.AmountMinor,
			DueDate:       dueDate,
			Status:        db_models.ChargeStatusPending,
			Method:        method,
			Description:   fmt.Sprintf("Mensalidade %s", period),
		}
		created := false

		err := s.tenants.WithTenant(ctx, tenantID, func(store repositories.BillingStore) error {
			exists, err := store.HasOpenCharge(m.MemberID, period)
			if err != nil {
				return err
			}
			if exists {
				return nil
			}
			if err := store.CreateCharge(&charge); err != nil {
				return err
			}
			created = true
			return store.AppendAudit(auditEntry(actorID, db_models.AuditChargeGenerated, "charge", charge.ID.String(), map[string]any{
				"memberId":      m.MemberID,
				"amount":        charge.AmountMinor,
				"dueDate":       charge.DueDate,
				"billingPeriod": charge.BillingPeriod,
			}))
		})
		if err != nil {
			log.Warn().Err(err).Str("member_id", m.MemberID.String()).Msg("charge generation failed for member")
			result.Errors = append(result.Errors, MemberError{MemberID: m.MemberID, Reason: errorReason(err)})
			continue
		}
		if !created {
			result.Skipped++
			continue
		}

		result.Generated++
		summary := ChargeSummary{
			ID:          charge.ID,
			MemberID:    m.MemberID,
			MemberName:  m.Name,
			AmountMinor: charge.AmountMinor,
			DueDate:     charge.DueDate,
		}

		dispatched, reason := s.dispatchCharge(ctx, tenantID, charge)
		if reason != "" {
			result.GatewayErrors = append(result.GatewayErrors, GatewayError{ChargeID: charge.ID, MemberID: m.MemberID, Reason: reason})
		} else {
			summary.ExternalID = dispatched.ExternalID
			summary.GatewayName = dispatched.GatewayName
			summary.GatewayMeta = dispatched.Meta
		}
		result.Charges = append(result.Charges, summary)
	}

	metrics.ChargesGenerated.WithLabelValues(tenantID).Add(float64(result.Generated))
	metrics.ChargesSkipped.WithLabelValues(tenantID).Add(float64(result.Skipped))
	log.Info().
		Int("generated", result.Generated).
		Int("skipped", result.Skipped).
		Int("errors", len(result.Errors)).
		Int("gateway_errors", len(result.GatewayErrors)).
		Msg("charge generation finished")
	return result, nil
}

// dispatchCharge loads the member in its own unit of work and hands the
// charge to the dispatcher. A non-empty reason means the charge stays
// undispatched.
func (s *chargeService) dispatchCharge(ctx context.Context, tenantID string, charge db_models.Charge) (DispatchResult, string) {
	var member *db_models.Member
	err := s.tenants.WithTenant(ctx, tenantID, func(store repositories.BillingStore) error {
		var err error
		member, err = store.FindMember(charge.MemberID)
		return err
	})
	if err != nil {
		return DispatchResult{}, errorReason(err)
	}
	if member == nil {
		return DispatchResult{}, fmt.Sprintf("member %s not found", charge.MemberID)
	}

	res, err := s.dispatcher.Dispatch(ctx, tenantID, charge, *member)
	if err != nil {
		s.logger.Error().Err(err).Str("tenant", tenantID).Str("charge_id", charge.ID.String()).Msg("dispatch aborted")
		return DispatchResult{}, errorReason(err)
	}
	if !res.OK() {
		return res, res.Reason
	}
	return res, ""
}

func (s *chargeService) MarkPendingRetry(ctx context.Context, tenantID, actorID string, period utils.BillingPeriod) (int64, error) {
	if period.IsZero() {
		period = utils.CurrentBillingPeriod(s.now())
	}
	var updated int64
	err := s.tenants.WithTenant(ctx, tenantID, func(store repositories.BillingStore) error {
		var err error
		updated, err = store.MarkPendingRetry(period, s.now().UTC())
		if err != nil || updated == 0 {
			return err
		}
		return store.AppendAudit(auditEntry(actorID, db_models.AuditChargesRetryMarked, "billing_period", period.String(), map[string]any{
			"updated": updated,
		}))
	})
	if err != nil {
		return 0, err
	}
	if updated > 0 {
		metrics.PendingRetryMarked.Add(float64(updated))
		s.logger.Warn().Str("tenant", tenantID).Str("period", period.String()).Int64("updated", updated).Msg("charges marked pending retry")
	}
	return updated, nil
}

func (s *chargeService) CancelCharge(ctx context.Context, tenantID, actorID string, chargeID uuid.UUID) (*db_models.Charge, error) {
	var charge *db_models.Charge
	err := s.tenants.WithTenant(ctx, tenantID, func(store repositories.BillingStore) error {
		var err error
		charge, err = store.FindCharge(chargeID)
		if err != nil {
			return err
		}
		if charge == nil {
			return fmt.Errorf("%w: %s", utils.ErrChargeNotFound, chargeID)
		}
		if !charge.Reconcilable() {
			return fmt.Errorf("%w: charge is %s", utils.ErrInvalidChargeState, charge.Status)
		}
		from := charge.Status
		changed, err := store.UpdateChargeStatus(chargeID, reconcilableStatuses, db_models.ChargeStatusCancelled)
		if err != nil {
			return err
		}
		if !changed {
			return fmt.Errorf("%w: charge changed concurrently", utils.ErrInvalidChargeState)
		}
		charge.Status = db_models.ChargeStatusCancelled
		return store.AppendAudit(auditEntry(actorID, db_models.AuditChargeCancelled, "charge", chargeID.String(), map[string]any{
			"from": from,
		}))
	})
	if err != nil {
		return nil, err
	}

	if charge.GatewayID != nil && charge.GatewayName != nil {
		log := s.logger.With().Str("tenant", tenantID).Str("charge_id", chargeID.String()).Str("gateway", *charge.GatewayName).Logger()
		adapter, err := s.registry.Get(*charge.GatewayName)
		if err == nil {
			err = adapter.CancelCharge(ctx, *charge.GatewayID)
		}
		if err != nil {
			log.Warn().Err(err).Str("external_id", *charge.GatewayID).Msg("gateway cancellation failed; charge is cancelled locally")
		}
	}
	return charge, nil
}

func (s *chargeService) RedispatchPending(ctx context.Context, tenantID, actorID string) (*RedispatchResult, error) {
	var charges []db_models.Charge
	err := s.tenants.WithTenant(ctx, tenantID, func(store repositories.BillingStore) error {
		var err error
		charges, err = store.ListUndispatchedCharges()
		return err
	})
	if err != nil {
		return nil, err
	}

	result := &RedispatchResult{GatewayErrors: []GatewayError{}}
	for _, c := range charges {
		if c.Method.Offline() {
			continue
		}
		if _, reason := s.dispatchCharge(ctx, tenantID, c); reason != "" {
			result.GatewayErrors = append(result.GatewayErrors, GatewayError{ChargeID: c.ID, MemberID: c.MemberID, Reason: reason})
			continue
		}
		result.Dispatched++
	}
	s.logger.Info().
		Str("tenant", tenantID).
		Str("actor", actorID).
		Int("dispatched", result.Dispatched).
		Int("gateway_errors", len(result.GatewayErrors)).
		Msg("redispatch finished")
	return result, nil
}

var reconcilableStatuses = []db_models.ChargeStatus{
	db_models.ChargeStatusPending,
	db_models.ChargeStatusPendingRetry,
	db_models.ChargeStatusOverdue,
}

func auditEntry(actorID, action, entityType, entityID string, meta map[string]any) *db_models.AuditLog {
	raw, err := json.Marshal(meta)
	if err != nil {
		raw = []byte("{}")
	}
	return &db_models.AuditLog{
		ActorID:    actorID,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Metadata:   raw,
	}
}

func errorReason(err error) string {
	if err == nil || err.Error() == "" {
		return "Unknown error"
	}
	return err.Error()
}

// IsPrecondition reports errors that no retry inside the same request can fix.
func IsPrecondition(err error) bool {
	return errors.Is(err, utils.ErrNoActivePlan) || errors.Is(err, utils.ErrInvalidTenant)
}
