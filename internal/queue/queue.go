// Package queue is a small durable task queue on Redis.
//
// Every task is a JSON record under its id. Ready tasks sit in a per-kind
// list, running tasks in a per-kind processing list leased by pickup time, and
// tasks waiting for a retry in one sorted set scored by due time. Enqueueing an
// id that already has a live record is a no-op, which is how redeliveries
// collapse into one task. Tasks that exhaust their attempts move to a
// dead-letter record, so a later redelivery starts over.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

var (
	ErrUnknownKind = errors.New("queue: unknown task kind")
	ErrKindExists  = errors.New("queue: task kind already registered")
)

type State string

const (
	StateWaiting   State = "waiting"
	StateActive    State = "active"
	StateDelayed   State = "delayed"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

type Task struct {
	ID           string          `json:"id"`
	Kind         string          `json:"kind"`
	Payload      json.RawMessage `json:"payload"`
	State        State           `json:"state"`
	AttemptsMade int             `json:"attemptsMade"`
	MaxAttempts  int             `json:"maxAttempts"`
	LastError    string          `json:"lastError,omitempty"`
	EnqueuedAt   time.Time       `json:"enqueuedAt"`
	StartedAt    time.Time       `json:"startedAt,omitempty"`
	FinishedAt   time.Time       `json:"finishedAt,omitempty"`
}

// Decode unmarshals the payload into v.
func (t *Task) Decode(v any) error {
	return json.Unmarshal(t.Payload, v)
}

type Handler func(ctx context.Context, task *Task) error

// FailureHandler runs after every failed attempt, after AttemptsMade has been
// incremented. task may be nil when the failure happened before the record
// could be loaded.
type FailureHandler func(ctx context.Context, task *Task, err error)

// BackoffFunc returns the delay before the next attempt; attempt is the
// number of attempts made so far.
type BackoffFunc func(attempt int) time.Duration

type KindConfig struct {
	Handler     Handler
	OnFailed    FailureHandler
	Concurrency int
	Attempts    int
	Backoff     BackoffFunc
}

type Options struct {
	Prefix string
	// Retention keeps finished task records so late duplicates still collapse.
	Retention time.Duration
	// VisibilityTimeout is how long a task may stay active before it is
	// considered abandoned by a dead worker.
	VisibilityTimeout time.Duration
	Clock             func() time.Time
}

func (o *Options) setDefaults() {
	if o.Prefix == "" {
		o.Prefix = "clubpay"
	}
	if o.Retention <= 0 {
		o.Retention = 24 * time.Hour
	}
	if o.VisibilityTimeout <= 0 {
		o.VisibilityTimeout = 15 * time.Minute
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
}

type Queue struct {
	rdb    redis.UniversalClient
	opts   Options
	logger zerolog.Logger

	mu    sync.RWMutex
	kinds map[string]KindConfig
}

func New(rdb redis.UniversalClient, opts Options, logger zerolog.Logger) *Queue {
	opts.setDefaults()
	return &Queue{
		rdb:    rdb,
		opts:   opts,
		logger: logger.With().Str("component", "queue").Logger(),
		kinds:  make(map[string]KindConfig),
	}
}

func (q *Queue) taskKey(id string) string     { return q.opts.Prefix + ":task:" + id }
func (q *Queue) readyKey(kind string) string  { return q.opts.Prefix + ":ready:" + kind }
func (q *Queue) activeKey(kind string) string { return q.opts.Prefix + ":active:" + kind }
func (q *Queue) leaseKey(kind string) string  { return q.opts.Prefix + ":lease:" + kind }
func (q *Queue) deadKey(id string) string     { return q.opts.Prefix + ":dead:" + id }
func (q *Queue) delayedKey() string           { return q.opts.Prefix + ":delayed" }

// Register declares a task kind. Attempts below 1 become 1 and Concurrency
// below 1 becomes 1.
func (q *Queue) Register(kind string, cfg KindConfig) error {
	if cfg.Handler == nil {
		return fmt.Errorf("queue: kind %s has no handler", kind)
	}
	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.kinds[kind]; ok {
		return fmt.Errorf("%w: %s", ErrKindExists, kind)
	}
	q.kinds[kind] = cfg
	return nil
}

func (q *Queue) kind(kind string) (KindConfig, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	cfg, ok := q.kinds[kind]
	return cfg, ok
}

// Kinds returns a copy of the registered kinds.
func (q *Queue) Kinds() map[string]KindConfig {
	q.mu.RLock()
	defer q.mu.RUnlock()
	out := make(map[string]KindConfig, len(q.kinds))
	for k, v := range q.kinds {
		out[k] = v
	}
	return out
}

// Enqueue adds a task. It reports false, without error, when a waiting,
// running, delayed or recently completed task has the same id. An empty id
// gets a random one.
func (q *Queue) Enqueue(ctx context.Context, kind, id string, payload any) (bool, error) {
	return q.EnqueueIn(ctx, kind, id, payload, 0)
}

func (q *Queue) EnqueueIn(ctx context.Context, kind, id string, payload any, delay time.Duration) (bool, error) {
	cfg, ok := q.kind(kind)
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	if id == "" {
		id = uuid.NewString()
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return false, fmt.Errorf("queue: encode payload: %w", err)
	}

	task := &Task{
		ID:          id,
		Kind:        kind,
		Payload:     raw,
		State:       StateWaiting,
		MaxAttempts: cfg.Attempts,
		EnqueuedAt:  q.opts.Clock().UTC(),
	}
	if delay > 0 {
		task.State = StateDelayed
	}
	data, err := json.Marshal(task)
	if err != nil {
		return false, err
	}

	created, err := q.rdb.SetNX(ctx, q.taskKey(id), data, 0).Result()
	if err != nil {
		return false, fmt.Errorf("queue: store task %s: %w", id, err)
	}
	if !created {
		return false, nil
	}
	// A new run supersedes an earlier dead letter.
	q.rdb.Del(ctx, q.deadKey(id))

	if delay > 0 {
		err = q.rdb.ZAdd(ctx, q.delayedKey(), redis.Z{
			Score:  float64(q.opts.Clock().Add(delay).UnixMilli()),
			Member: id,
		}).Err()
	} else {
		err = q.rdb.LPush(ctx, q.readyKey(kind), id).Err()
	}
	if err != nil {
		// Drop the record so a redelivery can try again.
		q.rdb.Del(context.WithoutCancel(ctx), q.taskKey(id))
		return false, fmt.Errorf("queue: schedule task %s: %w", id, err)
	}
	return true, nil
}

// Get returns the task record, falling back to its dead letter, or nil when
// neither exists.
func (q *Queue) Get(ctx context.Context, id string) (*Task, error) {
	data, err := q.rdb.Get(ctx, q.taskKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		data, err = q.rdb.Get(ctx, q.deadKey(id)).Bytes()
	}
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var task Task
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, fmt.Errorf("queue: decode task %s: %w", id, err)
	}
	return &task, nil
}

func (q *Queue) save(ctx context.Context, task *Task, ttl time.Duration) error {
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return q.rdb.Set(ctx, q.taskKey(task.ID), data, ttl).Err()
}

// UpdatePayload replaces the payload of a running task so later attempts see
// it.
func (q *Queue) UpdatePayload(ctx context.Context, task *Task, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	task.Payload = raw
	return q.save(ctx, task, 0)
}

// Promote moves delayed tasks whose time has come to their ready lists.
func (q *Queue) Promote(ctx context.Context) (int, error) {
	upper := strconv.FormatInt(q.opts.Clock().UnixMilli(), 10)
	ids, err := q.rdb.ZRangeByScore(ctx, q.delayedKey(), &redis.ZRangeBy{Min: "-inf", Max: upper}).Result()
	if err != nil {
		return 0, err
	}
	promoted := 0
	for _, id := range ids {
		// ZRem decides which process owns the promotion.
		removed, err := q.rdb.ZRem(ctx, q.delayedKey(), id).Result()
		if err != nil {
			return promoted, err
		}
		if removed == 0 {
			continue
		}
		task, err := q.Get(ctx, id)
		if err != nil {
			return promoted, err
		}
		if task == nil {
			continue
		}
		task.State = StateWaiting
		if err := q.save(ctx, task, 0); err != nil {
			return promoted, err
		}
		if err := q.rdb.LPush(ctx, q.readyKey(task.Kind), id).Err(); err != nil {
			return promoted, err
		}
		promoted++
	}
	return promoted, nil
}

// RequeueStale returns tasks whose lease is older than the visibility timeout
// to their ready lists. The lease is stamped by the worker right after the
// move to the active list; an active id without one is stamped here on first
// sight, so a task caught between the move and the stamp is never taken back.
// A requeued task keeps its attempt count.
func (q *Queue) RequeueStale(ctx context.Context) (int, error) {
	now := q.opts.Clock()
	cutoff := float64(now.Add(-q.opts.VisibilityTimeout).UnixMilli())
	requeued := 0
	for kind := range q.Kinds() {
		ids, err := q.rdb.LRange(ctx, q.activeKey(kind), 0, -1).Result()
		if err != nil {
			return requeued, err
		}
		for _, id := range ids {
			leased, err := q.rdb.ZScore(ctx, q.leaseKey(kind), id).Result()
			if errors.Is(err, redis.Nil) {
				if err := q.rdb.ZAddNX(ctx, q.leaseKey(kind), redis.Z{Score: float64(now.UnixMilli()), Member: id}).Err(); err != nil {
					return requeued, err
				}
				continue
			}
			if err != nil {
				return requeued, err
			}
			if leased > cutoff {
				continue
			}

			removed, err := q.rdb.LRem(ctx, q.activeKey(kind), 1, id).Result()
			if err != nil {
				return requeued, err
			}
			if err := q.rdb.ZRem(ctx, q.leaseKey(kind), id).Err(); err != nil {
				return requeued, err
			}
			if removed == 0 {
				continue
			}
			task, err := q.Get(ctx, id)
			if err != nil {
				return requeued, err
			}
			if task == nil {
				continue
			}
			task.State = StateWaiting
			if err := q.save(ctx, task, 0); err != nil {
				return requeued, err
			}
			if err := q.rdb.LPush(ctx, q.readyKey(kind), id).Err(); err != nil {
				return requeued, err
			}
			q.logger.Warn().Str("task_id", id).Str("kind", kind).Msg("requeued abandoned task")
			requeued++
		}
	}
	return requeued, nil
}

// Process takes one ready task of kind and runs it. It reports whether a task
// was taken. A zero wait does not block.
func (q *Queue) Process(ctx context.Context, kind string, wait time.Duration) (bool, error) {
	cfg, ok := q.kind(kind)
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}

	var id string
	var err error
	if wait > 0 {
		id, err = q.rdb.BLMove(ctx, q.readyKey(kind), q.activeKey(kind), "RIGHT", "LEFT", wait).Result()
	} else {
		id, err = q.rdb.LMove(ctx, q.readyKey(kind), q.activeKey(kind), "RIGHT", "LEFT").Result()
	}
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := q.rdb.ZAdd(ctx, q.leaseKey(kind), redis.Z{
		Score:  float64(q.opts.Clock().UnixMilli()),
		Member: id,
	}).Err(); err != nil {
		return true, err
	}

	task, err := q.Get(ctx, id)
	if err != nil || task == nil {
		q.release(ctx, kind, id)
		if cfg.OnFailed != nil {
			cfg.OnFailed(ctx, nil, fmt.Errorf("queue: task %s has no record: %v", id, err))
		}
		return true, err
	}

	task.State = StateActive
	task.StartedAt = q.opts.Clock().UTC()
	if err := q.save(ctx, task, 0); err != nil {
		return true, err
	}

	// A started task runs to completion; shutdown only stops new pickups.
	runCtx := context.WithoutCancel(ctx)
	runErr := q.run(runCtx, cfg.Handler, task)
	return true, q.finish(runCtx, cfg, task, runErr)
}

func (q *Queue) run(ctx context.Context, h Handler, task *Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return h(ctx, task)
}

func (q *Queue) finish(ctx context.Context, cfg KindConfig, task *Task, runErr error) error {
	now := q.opts.Clock().UTC()
	log := q.logger.With().Str("task_id", task.ID).Str("kind", task.Kind).Logger()

	if runErr == nil {
		task.State = StateCompleted
		task.FinishedAt = now
		task.LastError = ""
		if err := q.save(ctx, task, q.opts.Retention); err != nil {
			return err
		}
		return q.release(ctx, task.Kind, task.ID)
	}

	task.AttemptsMade++
	task.LastError = runErr.Error()

	if task.AttemptsMade < task.MaxAttempts {
		delay := time.Duration(0)
		if cfg.Backoff != nil {
			delay = cfg.Backoff(task.AttemptsMade)
		}
		task.State = StateDelayed
		if err := q.save(ctx, task, 0); err != nil {
			return err
		}
		if err := q.rdb.ZAdd(ctx, q.delayedKey(), redis.Z{
			Score:  float64(now.Add(delay).UnixMilli()),
			Member: task.ID,
		}).Err(); err != nil {
			return err
		}
		log.Warn().Err(runErr).Int("attempt", task.AttemptsMade).Dur("retry_in", delay).Msg("task failed, will retry")
	} else {
		task.State = StateFailed
		task.FinishedAt = now
		if err := q.bury(ctx, task); err != nil {
			return err
		}
		log.Error().Err(runErr).Int("attempt", task.AttemptsMade).Msg("task failed permanently")
	}

	if err := q.release(ctx, task.Kind, task.ID); err != nil {
		return err
	}
	if cfg.OnFailed != nil {
		cfg.OnFailed(ctx, task, runErr)
	}
	return nil
}

// release drops a task from its kind's active list and lease set.
func (q *Queue) release(ctx context.Context, kind, id string) error {
	_, err := q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.LRem(ctx, q.activeKey(kind), 1, id)
		p.ZRem(ctx, q.leaseKey(kind), id)
		return nil
	})
	return err
}

// bury moves an exhausted task to its dead letter and frees the id.
func (q *Queue) bury(ctx context.Context, task *Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	_, err = q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, q.deadKey(task.ID), data, q.opts.Retention)
		p.Del(ctx, q.taskKey(task.ID))
		return nil
	})
	return err
}
