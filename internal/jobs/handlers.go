// Package jobs binds the billing services to the task queue: the monthly
// fan-out, per-tenant charge generation and webhook reconciliation.
package jobs

import (
	"context"
	"errors"
	"fmt"

	"clubpay/internal/metrics"
	"clubpay/internal/models/job_models"
	"clubpay/internal/queue"
	"clubpay/internal/repositories"
	"clubpay/internal/services"
	"clubpay/pkg/utils"
	"github.com/rs/zerolog"
)

const (
	CronActor  = "system:cron"
	RetryActor = "system:retry"
)

type Concurrency struct {
	Fanout     int
	Generation int
	Webhook    int
}

type Handlers struct {
	queue    *queue.Queue
	charges  services.ChargeService
	webhooks services.WebhookService
	catalog  repositories.ITenantRepository
	logger   zerolog.Logger
	attempts int
}

func NewHandlers(
	q *queue.Queue,
	charges services.ChargeService,
	webhooks services.WebhookService,
	catalog repositories.ITenantRepository,
	logger zerolog.Logger,
) *Handlers {
	return &Handlers{
		queue:    q,
		charges:  charges,
		webhooks: webhooks,
		catalog:  catalog,
		logger:   logger.With().Str("component", "jobs").Logger(),
		attempts: DefaultGenerationAttempts,
	}
}

// Register declares the three task kinds on the queue.
func (h *Handlers) Register(c Concurrency) error {
	err := h.queue.Register(job_models.KindBillingFanout, queue.KindConfig{
		Handler:     h.Fanout,
		Concurrency: c.Fanout,
		Attempts:    DefaultGenerationAttempts,
		Backoff:     BackoffDelay,
	})
	if err != nil {
		return err
	}
	err = h.queue.Register(job_models.KindGenerateCharges, queue.KindConfig{
		Handler:     h.GenerateCharges,
		OnFailed:    h.OnGenerationFailed,
		Concurrency: c.Generation,
		Attempts:    h.attempts,
		Backoff:     BackoffDelay,
	})
	if err != nil {
		return err
	}
	return h.queue.Register(job_models.KindProcessWebhook, queue.KindConfig{
		Handler:     h.ProcessWebhook,
		Concurrency: c.Webhook,
		Attempts:    5,
		Backoff:     webhookBackoff,
	})
}

// Fanout queues one generation task per active tenant. Task ids are derived
// from tenant and period, so a retried fan-out does not duplicate work.
func (h *Handlers) Fanout(ctx context.Context, task *queue.Task) error {
	var job job_models.FanoutJob
	if err := task.Decode(&job); err != nil {
		return fmt.Errorf("decode fanout job: %w", err)
	}
	period, err := utils.ParseBillingPeriod(job.BillingPeriod)
	if err != nil {
		return err
	}

	tenants, err := h.catalog.ListActiveTenants(ctx)
	if err != nil {
		return fmt.Errorf("list tenants: %w", err)
	}

	var errs []error
	queued := 0
	for _, t := range tenants {
		created, err := h.queue.Enqueue(ctx, job_models.KindGenerateCharges,
			job_models.GenerateTaskID(t.ID, period.String()),
			job_models.GenerateChargesJob{TenantID: t.ID, ActorID: CronActor, BillingPeriod: period.String()})
		if err != nil {
			errs = append(errs, fmt.Errorf("tenant %s: %w", t.ID, err))
			continue
		}
		if created {
			queued++
		}
	}
	h.logger.Info().Str("period", period.String()).Int("tenants", len(tenants)).Int("queued", queued).Msg("billing fan-out")
	metrics.JobOutcomes.WithLabelValues(job_models.KindBillingFanout, outcome(errors.Join(errs...))).Inc()
	return errors.Join(errs...)
}

// GenerateCharges runs one tenant's generation. Precondition errors are
// returned like any other so the retry schedule applies; a plan may be
// activated before the next attempt.
func (h *Handlers) GenerateCharges(ctx context.Context, task *queue.Task) error {
	var job job_models.GenerateChargesJob
	if err := task.Decode(&job); err != nil {
		return fmt.Errorf("decode generation job: %w", err)
	}
	var opts services.GenerateOptions
	if job.BillingPeriod != "" {
		period, err := utils.ParseBillingPeriod(job.BillingPeriod)
		if err != nil {
			return err
		}
		opts.Period = period
	}

	log := h.logger.With().Str("tenant", job.TenantID).Str("task_id", task.ID).Int("attempt", task.AttemptsMade+1).Logger()
	res, err := h.charges.Generate(ctx, job.TenantID, job.ActorID, opts)
	if err != nil {
		if services.IsPrecondition(err) {
			log.Warn().Err(err).Msg("generation precondition not met")
		}
		metrics.JobOutcomes.WithLabelValues(job_models.KindGenerateCharges, "error").Inc()
		return err
	}

	log.Info().
		Str("period", res.BillingPeriod).
		Int("generated", res.Generated).
		Int("skipped", res.Skipped).
		Int("errors", len(res.Errors)).
		Int("gateway_errors", len(res.GatewayErrors)).
		Msg("generation task finished")
	metrics.JobOutcomes.WithLabelValues(job_models.KindGenerateCharges, "ok").Inc()
	return nil
}

// OnGenerationFailed marks the tenant's PENDING charges for the period as
// PENDING_RETRY once the task has used all its attempts. It never fails:
// a problem here is logged so the original task failure stays visible.
func (h *Handlers) OnGenerationFailed(ctx context.Context, task *queue.Task, cause error) {
	if task == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error().Interface("panic", r).Str("task_id", task.ID).Msg("exhaustion handler panicked")
		}
	}()

	attempts := task.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultGenerationAttempts
	}
	if task.AttemptsMade < attempts {
		return
	}

	log := h.logger.With().Str("task_id", task.ID).Int("attempts", task.AttemptsMade).Logger()
	var job job_models.GenerateChargesJob
	if err := task.Decode(&job); err != nil {
		log.Error().Err(err).Msg("exhausted generation task has unreadable payload")
		return
	}
	var period utils.BillingPeriod
	if job.BillingPeriod != "" {
		p, err := utils.ParseBillingPeriod(job.BillingPeriod)
		if err != nil {
			log.Error().Err(err).Msg("exhausted generation task has invalid period")
			return
		}
		period = p
	}

	updated, err := h.charges.MarkPendingRetry(ctx, job.TenantID, RetryActor, period)
	if err != nil {
		log.Error().Err(err).AnErr("cause", cause).Str("tenant", job.TenantID).Msg("could not mark charges pending retry")
		return
	}
	log.Warn().AnErr("cause", cause).Str("tenant", job.TenantID).Int64("updated", updated).Msg("generation exhausted; charges marked pending retry")
	metrics.JobOutcomes.WithLabelValues(job_models.KindGenerateCharges, "exhausted").Inc()
}

// ProcessWebhook reconciles one queued provider event. Guard outcomes
// complete the task; errors go back to the queue for a retry.
func (h *Handlers) ProcessWebhook(ctx context.Context, task *queue.Task) error {
	var job job_models.WebhookJob
	if err := task.Decode(&job); err != nil {
		return fmt.Errorf("decode webhook job: %w", err)
	}
	out, err := h.webhooks.ProcessEvent(ctx, &job, func(ctx context.Context, _ string) error {
		return h.queue.UpdatePayload(ctx, task, job)
	})
	if err != nil {
		metrics.JobOutcomes.WithLabelValues(job_models.KindProcessWebhook, "error").Inc()
		return err
	}
	metrics.JobOutcomes.WithLabelValues(job_models.KindProcessWebhook, out.Reason).Inc()
	return nil
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
