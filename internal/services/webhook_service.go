package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"clubpay/internal/gateway"
	"clubpay/internal/metrics"
	"clubpay/internal/models/job_models"
	"clubpay/internal/repositories"
	mem "clubpay/pkg/memcache"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var ErrEnqueueFailed = errors.New("webhook could not be queued")

const tenantRefTTL = 72 * time.Hour

// TaskEnqueuer is the slice of the job queue the HTTP boundary needs.
// Enqueue reports false when a task with the same id already exists.
type TaskEnqueuer interface {
	Enqueue(ctx context.Context, kind, id string, payload any) (bool, error)
}

// IngestResult describes what happened to an accepted request. Ignored
// events were authenticated but carry no type we act on, so nothing is queued.
type IngestResult struct {
	TaskID    string
	Duplicate bool
	Ignored   bool
	Event     gateway.NormalizedEvent
}

type WebhookOutcome struct {
	TenantID  string            `json:"tenantId,omitempty"`
	Reason    string            `json:"reason"`
	Reconcile *ReconcileOutcome `json:"reconcile,omitempty"`
}

type WebhookService interface {
	// Ingest authenticates and normalizes a raw provider request and queues
	// it. It never waits for reconciliation.
	Ingest(ctx context.Context, provider string, raw []byte, headers http.Header) (*IngestResult, error)
	// ProcessEvent runs the guard clauses and the type-specific handler for a
	// queued event. cacheTenant persists a freshly resolved tenant onto the
	// task so retries skip the scan. Guard outcomes return a nil error.
	ProcessEvent(ctx context.Context, job *job_models.WebhookJob, cacheTenant func(ctx context.Context, tenantID string) error) (*WebhookOutcome, error)
}

type webhookService struct {
	registry   *gateway.Registry
	queue      TaskEnqueuer
	tenants    repositories.TenantDB
	catalog    repositories.ITenantRepository
	reconciler ReconcileService
	refs       mem.TenantRefStore
	logger     zerolog.Logger
	now        func() time.Time
}

func NewWebhookService(
	registry *gateway.Registry,
	queue TaskEnqueuer,
	tenants repositories.TenantDB,
	catalog repositories.ITenantRepository,
	reconciler ReconcileService,
	refs mem.TenantRefStore,
	logger zerolog.Logger,
) WebhookService {
	return &webhookService{
		registry:   registry,
		queue:      queue,
		tenants:    tenants,
		catalog:    catalog,
		reconciler: reconciler,
		refs:       refs,
		logger:     logger.With().Str("component", "webhooks").Logger(),
		now:        time.Now,
	}
}

// WebhookHTTPStatus maps an Ingest error to the status providers see.
func WebhookHTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, gateway.ErrUnknownProvider):
		return http.StatusNotFound
	case errors.Is(err, gateway.ErrSignatureInvalid):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func (s *webhookService) Ingest(ctx context.Context, provider string, raw []byte, headers http.Header) (*IngestResult, error) {
	adapter, err := s.registry.Get(provider)
	if err != nil {
		return nil, err
	}
	event, err := adapter.ParseWebhook(raw, headers)
	if err != nil {
		return nil, fmt.Errorf("%s webhook: %w", adapter.Name(), err)
	}

	if event.Type == gateway.EventUnknown {
		s.logger.Info().
			Str("provider", adapter.Name()).
			Str("gateway_tx_id", event.GatewayTxID).
			Msg("webhook ignored: unknown event type")
		return &IngestResult{Ignored: true, Event: *event}, nil
	}

	job := job_models.WebhookJob{
		ProviderName: adapter.Name(),
		Event:        *event,
		ReceivedAt:   s.now().UTC(),
	}
	var taskID string
	if event.GatewayTxID != "" {
		taskID = job_models.WebhookTaskID(adapter.Name(), event.Type, event.GatewayTxID)
	} else {
		taskID = "webhook:" + adapter.Name() + ":" + uuid.NewString()
	}

	created, err := s.queue.Enqueue(ctx, job_models.KindProcessWebhook, taskID, job)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEnqueueFailed, err)
	}

	s.logger.Info().
		Str("provider", adapter.Name()).
		Str("type", string(event.Type)).
		Str("gateway_tx_id", event.GatewayTxID).
		Bool("duplicate", !created).
		Msg("webhook queued")
	return &IngestResult{TaskID: taskID, Duplicate: !created, Event: *event}, nil
}

func (s *webhookService) ProcessEvent(ctx context.Context, job *job_models.WebhookJob, cacheTenant func(ctx context.Context, tenantID string) error) (*WebhookOutcome, error) {
	ev := job.Event
	log := s.logger.With().
		Str("provider", job.ProviderName).
		Str("type", string(ev.Type)).
		Str("gateway_tx_id", ev.GatewayTxID).
		Logger()

	done := func(tenantID, reason string) (*WebhookOutcome, error) {
		metrics.ReconcileOutcomes.WithLabelValues(reason).Inc()
		log.Info().Str("tenant", tenantID).Str("reason", reason).Msg("webhook processed without changes")
		return &WebhookOutcome{TenantID: tenantID, Reason: reason}, nil
	}

	if ev.Type == gateway.EventUnknown || ev.Type == "" {
		return done("", ReasonUnknownEventType)
	}
	if ev.ExternalReference == "" {
		return done("", ReasonMissingReference)
	}

	tenantID := job.TenantID
	if tenantID == "" {
		found, err := s.resolveTenant(ctx, ev.ExternalReference)
		if err != nil {
			return nil, err
		}
		if found == "" {
			return done("", ReasonChargeNotFound)
		}
		tenantID = found
		job.TenantID = found
		if cacheTenant != nil {
			if err := cacheTenant(ctx, found); err != nil {
				log.Warn().Err(err).Str("tenant", found).Msg("could not cache tenant on task")
			}
		}
	}

	var duplicate bool
	err := s.tenants.WithTenant(ctx, tenantID, func(store repositories.BillingStore) error {
		var err error
		duplicate, err = store.PaymentExists(ev.GatewayTxID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("check duplicate payment: %w", err)
	}
	if duplicate {
		return done(tenantID, ReasonDuplicateTxID)
	}

	switch ev.Type {
	case gateway.EventPaymentReceived:
		outcome, err := s.reconciler.HandlePaymentReceived(ctx, tenantID, job.ProviderName, ev, "webhook:"+job.ProviderName)
		if err != nil {
			return nil, err
		}
		return &WebhookOutcome{TenantID: tenantID, Reason: outcome.Reason, Reconcile: outcome}, nil
	default:
		// Refunds and overdue notices are recorded by the provider; nothing
		// here reacts to them yet.
		return done(tenantID, ReasonUnhandledEventType)
	}
}

// resolveTenant scans every tenant for the referenced charge. Tenants whose
// schema cannot be queried are skipped.
func (s *webhookService) resolveTenant(ctx context.Context, reference string) (string, error) {
	chargeID, err := uuid.Parse(reference)
	if err != nil {
		return "", nil
	}
	if tenantID, ok := s.refs.Peek(reference); ok {
		return tenantID, nil
	}
	tenants, err := s.catalog.ListTenants(ctx)
	if err != nil {
		return "", fmt.Errorf("list tenants: %w", err)
	}
	for _, t := range tenants {
		found := false
		err := s.tenants.WithTenant(ctx, t.ID, func(store repositories.BillingStore) error {
			charge, err := store.FindCharge(chargeID)
			found = charge != nil
			return err
		})
		if err != nil {
			s.logger.Debug().Err(err).Str("tenant", t.ID).Msg("tenant skipped during charge lookup")
			continue
		}
		if found {
			s.refs.Set(reference, t.ID, tenantRefTTL)
			return t.ID, nil
		}
	}
	return "", nil
}
