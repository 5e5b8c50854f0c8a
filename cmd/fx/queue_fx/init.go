package queue_fx

import (
	"clubpay/internal/infra"
	"clubpay/internal/queue"
	"clubpay/internal/services"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.uber.org/fx"
)

var Module = fx.Options(
	fx.Provide(infra.InitRedis),
	fx.Provide(provideQueue),
	fx.Provide(func(q *queue.Queue) services.TaskEnqueuer { return q }),
	fx.Provide(queue.NewWorker),
)

func provideQueue(client *redis.Client, cfg infra.Config, logger zerolog.Logger) *queue.Queue {
	return queue.New(client, queue.Options{Prefix: cfg.QueuePrefix}, logger)
}
