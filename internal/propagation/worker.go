package propagation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"carbon-scribe/ghg-reporting/internal/metrics"
)

// RetryConfig controls redelivery of failed handler invocations
type RetryConfig struct {
	Schedule    string        `json:"schedule"`
	BatchSize   int           `json:"batch_size"`
	MaxAttempts int           `json:"max_attempts"`
	BaseBackoff time.Duration `json:"base_backoff"`
	MaxBackoff  time.Duration `json:"max_backoff"`
}

// DefaultRetryConfig returns the worker defaults
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Schedule:    "@every 30s",
		BatchSize:   100,
		MaxAttempts: 8,
		BaseBackoff: 30 * time.Second,
		MaxBackoff:  6 * time.Hour,
	}
}

// DrainStats counts the outcome of one drain
type DrainStats struct {
	Attempted int
	Succeeded int
	Failed    int
	Dead      int
}

// RetryWorker redelivers queued notifications to the handler that failed on
// them, backing off exponentially between attempts
type RetryWorker struct {
	queue  RetryQueue
	bus    *Bus
	config RetryConfig
	cron   *cron.Cron
	logger *zap.Logger
	now    func() time.Time

	// drains never overlap
	mu sync.Mutex
}

// NewRetryWorker creates a worker. Zero config fields take the defaults.
func NewRetryWorker(queue RetryQueue, bus *Bus, logger *zap.Logger, config RetryConfig) *RetryWorker {
	defaults := DefaultRetryConfig()
	if config.Schedule == "" {
		config.Schedule = defaults.Schedule
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaults.MaxAttempts
	}
	if config.BaseBackoff <= 0 {
		config.BaseBackoff = defaults.BaseBackoff
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = defaults.MaxBackoff
	}

	return &RetryWorker{
		queue:  queue,
		bus:    bus,
		config: config,
		cron:   cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		logger: logger,
		now:    time.Now,
	}
}

// Start schedules the drain
func (w *RetryWorker) Start() error {
	_, err := w.cron.AddFunc(w.config.Schedule, func() {
		if _, err := w.Drain(context.Background()); err != nil {
			w.logger.Error("Retry drain failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("invalid retry schedule %q: %w", w.config.Schedule, err)
	}
	w.cron.Start()
	w.logger.Info("Retry worker started", zap.String("schedule", w.config.Schedule))
	return nil
}

// Stop stops scheduling and waits for a running drain to finish
func (w *RetryWorker) Stop() {
	<-w.cron.Stop().Done()
	w.logger.Info("Retry worker stopped")
}

// Drain redelivers every due entry once
func (w *RetryWorker) Drain(ctx context.Context) (DrainStats, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var stats DrainStats
	due, err := w.queue.Due(ctx, w.now(), w.config.BatchSize)
	if err != nil {
		return stats, err
	}

	for _, entry := range due {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		stats.Attempted++
		topic := string(entry.Notification.Topic)

		deliverErr := w.bus.Deliver(ctx, entry.Notification, entry.Handler)
		if deliverErr == nil {
			if err := w.queue.MarkSucceeded(ctx, entry.ID); err != nil {
				return stats, err
			}
			stats.Succeeded++
			metrics.RetryAttempts.WithLabelValues(topic, "succeeded").Inc()
			continue
		}

		attempts := entry.Attempts + 1
		dead := IsPermanent(deliverErr) || attempts >= w.config.MaxAttempts
		next := w.now().Add(w.Backoff(attempts))
		if err := w.queue.MarkFailed(ctx, entry.ID, deliverErr.Error(), next, dead); err != nil {
			return stats, err
		}

		if dead {
			stats.Dead++
			metrics.RetryAttempts.WithLabelValues(topic, "dead").Inc()
			w.logger.Error("Retry entry abandoned",
				zap.String("entry_id", entry.ID.String()),
				zap.String("topic", topic),
				zap.String("handler", entry.Handler),
				zap.Int("attempts", attempts),
				zap.Error(deliverErr),
			)
			continue
		}
		stats.Failed++
		metrics.RetryAttempts.WithLabelValues(topic, "failed").Inc()
		w.logger.Warn("Retry attempt failed",
			zap.String("entry_id", entry.ID.String()),
			zap.String("handler", entry.Handler),
			zap.Int("attempts", attempts),
			zap.Time("next_attempt_at", next),
			zap.Error(deliverErr),
		)
	}

	if pending, err := w.queue.Pending(ctx); err == nil {
		metrics.RetryQueueDepth.Set(float64(pending))
	}
	return stats, nil
}

// Backoff is the wait after the given number of failed attempts:
// base * 2^(attempts-1), capped at MaxBackoff
func (w *RetryWorker) Backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := w.config.BaseBackoff
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= w.config.MaxBackoff {
			return w.config.MaxBackoff
		}
	}
	return d
}
