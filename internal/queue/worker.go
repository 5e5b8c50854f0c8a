package queue

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Worker runs every registered kind with its configured concurrency plus a
// maintenance loop that promotes delayed tasks and requeues abandoned ones.
type Worker struct {
	q            *Queue
	logger       zerolog.Logger
	wait         time.Duration
	pollInterval time.Duration

	cancel context.CancelFunc
	done   chan error
}

func NewWorker(q *Queue, logger zerolog.Logger) *Worker {
	return &Worker{
		q:            q,
		logger:       logger.With().Str("component", "worker").Logger(),
		wait:         2 * time.Second,
		pollInterval: time.Second,
	}
}

// Run blocks until ctx is cancelled or a loop fails unrecoverably.
func (w *Worker) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for kind, cfg := range w.q.Kinds() {
		for i := 0; i < cfg.Concurrency; i++ {
			kind := kind
			g.Go(func() error { return w.consume(ctx, kind) })
		}
		w.logger.Info().Str("kind", kind).Int("concurrency", cfg.Concurrency).Msg("consuming")
	}

	g.Go(func() error {
		ticker := time.NewTicker(w.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if _, err := w.q.Promote(ctx); err != nil && ctx.Err() == nil {
					w.logger.Error().Err(err).Msg("promote delayed tasks")
				}
				if _, err := w.q.RequeueStale(ctx); err != nil && ctx.Err() == nil {
					w.logger.Error().Err(err).Msg("requeue stale tasks")
				}
			}
		}
	})

	return g.Wait()
}

func (w *Worker) consume(ctx context.Context, kind string) error {
	for ctx.Err() == nil {
		_, err := w.q.Process(ctx, kind, w.wait)
		if err == nil {
			continue
		}
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return nil
		}
		w.logger.Error().Err(err).Str("kind", kind).Msg("process task")
		select {
		case <-ctx.Done():
		case <-time.After(w.pollInterval):
		}
	}
	return nil
}

// Start runs the worker in the background until Stop.
func (w *Worker) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.done = make(chan error, 1)
	go func() { w.done <- w.Run(ctx) }()
}

// Stop cancels the loops and waits for in-flight tasks or ctx, whichever
// comes first.
func (w *Worker) Stop(ctx context.Context) error {
	if w.cancel == nil {
		return nil
	}
	w.cancel()
	select {
	case err := <-w.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
