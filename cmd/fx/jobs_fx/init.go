package jobs_fx

import (
	"context"

	"clubpay/internal/infra"
	"clubpay/internal/jobs"
	"clubpay/internal/queue"
	"clubpay/internal/services"
	"github.com/rs/zerolog"
	"go.uber.org/fx"
)

var Module = fx.Options(
	fx.Provide(jobs.NewHandlers),
	fx.Provide(provideScheduler),
	fx.Invoke(startWorkers),
	fx.Invoke(startScheduler),
)

func provideScheduler(q services.TaskEnqueuer, cfg infra.Config, logger zerolog.Logger) (*jobs.Scheduler, error) {
	return jobs.NewScheduler(q, cfg.BillingCron, logger)
}

func startWorkers(lc fx.Lifecycle, h *jobs.Handlers, w *queue.Worker, cfg infra.Config, logger zerolog.Logger) error {
	err := h.Register(jobs.Concurrency{
		Fanout:     cfg.FanoutConcurrency,
		Generation: cfg.GenerationConcurrency,
		Webhook:    cfg.WebhookConcurrency,
	})
	if err != nil {
		return err
	}
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			w.Start()
			logger.Info().Msg("queue workers started")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info().Msg("stopping queue workers")
			return w.Stop(ctx)
		},
	})
	return nil
}

func startScheduler(lc fx.Lifecycle, s *jobs.Scheduler, cfg infra.Config, logger zerolog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			s.Start()
			logger.Info().Str("spec", cfg.BillingCron).Msg("billing scheduler started")
			return nil
		},
		OnStop: s.Stop,
	})
}
