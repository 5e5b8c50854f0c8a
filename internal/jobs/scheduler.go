package jobs

import (
	"context"
	"fmt"
	"time"

	"clubpay/internal/models/job_models"
	"clubpay/internal/services"
	"clubpay/pkg/utils"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Scheduler fires the monthly billing fan-out. Every replica may run one; the
// fan-out task id is per period, so concurrent ticks collapse into one task.
type Scheduler struct {
	cron   *cron.Cron
	queue  services.TaskEnqueuer
	logger zerolog.Logger
	now    func() time.Time
}

func NewScheduler(q services.TaskEnqueuer, spec string, logger zerolog.Logger) (*Scheduler, error) {
	s := &Scheduler{
		cron:   cron.New(cron.WithLocation(time.UTC)),
		queue:  q,
		logger: logger.With().Str("component", "scheduler").Logger(),
		now:    time.Now,
	}
	if _, err := s.cron.AddFunc(spec, func() {
		if err := s.Tick(context.Background()); err != nil {
			s.logger.Error().Err(err).Msg("billing tick failed")
		}
	}); err != nil {
		return nil, fmt.Errorf("invalid billing cron %q: %w", spec, err)
	}
	return s, nil
}

// Tick queues the fan-out for the current UTC month.
func (s *Scheduler) Tick(ctx context.Context) error {
	period := utils.CurrentBillingPeriod(s.now()).String()
	created, err := s.queue.Enqueue(ctx, job_models.KindBillingFanout, job_models.FanoutTaskID(period), job_models.FanoutJob{BillingPeriod: period})
	if err != nil {
		return err
	}
	s.logger.Info().Str("period", period).Bool("duplicate", !created).Msg("billing fan-out queued")
	return nil
}

func (s *Scheduler) Start() { s.cron.Start() }

// Stop waits for a running tick or ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	select {
	case <-s.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
