package propagation

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"go.uber.org/zap"

	"carbon-scribe/ghg-reporting/internal/metrics"
)

// NotificationHandler processes one notification and returns the
// notifications it raises. Raised notifications are queued behind the
// current cascade step.
type NotificationHandler func(ctx context.Context, n Notification) ([]Notification, error)

type subscription struct {
	name    string
	handler NotificationHandler
}

// Bus delivers notifications to named subscribers. Each Publish runs one
// cascade breadth-first on the caller's goroutine; independent cascades may
// run concurrently and share no lock while handlers execute.
type Bus struct {
	mu            sync.RWMutex
	subscriptions map[Topic][]subscription
	retries       RetryQueue
	logger        *zap.Logger
}

// NewBus creates a bus. Failed deliveries go to retries when it is non-nil.
func NewBus(retries RetryQueue, logger *zap.Logger) *Bus {
	return &Bus{
		subscriptions: make(map[Topic][]subscription),
		retries:       retries,
		logger:        logger,
	}
}

// Subscribe registers a named handler for a topic. Handlers of one topic run
// in subscription order. Names must be unique per topic.
func (b *Bus) Subscribe(topic Topic, name string, handler NotificationHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, s := range b.subscriptions[topic] {
		if s.name == name {
			panic(fmt.Sprintf("propagation: duplicate subscription %q on %s", name, topic))
		}
	}
	b.subscriptions[topic] = append(b.subscriptions[topic], subscription{name: name, handler: handler})
}

func (b *Bus) subscribers(topic Topic) []subscription {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]subscription(nil), b.subscriptions[topic]...)
}

// Publish delivers n and every notification it transitively raises. Handler
// failures are logged, counted and queued for retry; they never abort the
// cascade or roll back earlier handlers. A cancelled context stops the
// cascade between steps and queues the undelivered remainder for retry.
func (b *Bus) Publish(ctx context.Context, n Notification) error {
	return b.run(ctx, []Notification{n})
}

func (b *Bus) run(ctx context.Context, queue []Notification) error {
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			b.deferRemaining(queue, err)
			return err
		}

		n := queue[0]
		queue = queue[1:]
		metrics.NotificationsPublished.WithLabelValues(string(n.Topic)).Inc()

		for _, sub := range b.subscribers(n.Topic) {
			raised, err := b.invoke(ctx, sub, n)
			if err != nil {
				b.fail(ctx, sub.name, n, err)
				continue
			}
			queue = append(queue, raised...)
		}
	}
	return nil
}

// Deliver redelivers n to the single named handler and runs any cascade it
// raises. The handler's own error is returned to the caller.
func (b *Bus) Deliver(ctx context.Context, n Notification, handlerName string) error {
	for _, sub := range b.subscribers(n.Topic) {
		if sub.name != handlerName {
			continue
		}
		raised, err := b.invoke(ctx, sub, n)
		if err != nil {
			return err
		}
		if len(raised) > 0 {
			return b.run(ctx, raised)
		}
		return nil
	}
	return fmt.Errorf("no handler %q subscribed to %s", handlerName, n.Topic)
}

// invoke runs one handler with panic recovery at its boundary
func (b *Bus) invoke(ctx context.Context, sub subscription, n Notification) (raised []Notification, err error) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Notification handler panicked",
				zap.String("topic", string(n.Topic)),
				zap.String("handler", sub.name),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			raised = nil
			err = fmt.Errorf("handler %s panicked: %v", sub.name, r)
		}
	}()

	raised, err = sub.handler(ctx, n)
	if err != nil {
		return nil, err
	}
	for i := range raised {
		if raised[i].CausedBy == nil {
			id := n.ID
			raised[i].CausedBy = &id
		}
	}
	return raised, nil
}

func (b *Bus) fail(ctx context.Context, handler string, n Notification, cause error) {
	metrics.HandlerFailures.WithLabelValues(string(n.Topic), handler).Inc()
	b.logger.Error("Notification handler failed",
		zap.String("topic", string(n.Topic)),
		zap.String("handler", handler),
		zap.String("notification_id", n.ID.String()),
		zap.Error(cause),
	)

	if b.retries == nil || IsPermanent(cause) {
		return
	}
	// the cascade context may be the reason for the failure
	if err := b.retries.Enqueue(context.WithoutCancel(ctx), NewRetryEntry(n, handler, cause)); err != nil {
		b.logger.Error("Failed to queue notification for retry",
			zap.String("topic", string(n.Topic)),
			zap.String("handler", handler),
			zap.Error(err),
		)
	}
}

// deferRemaining queues every subscriber of the undelivered notifications
func (b *Bus) deferRemaining(queue []Notification, cause error) {
	b.logger.Warn("Cascade cancelled", zap.Int("undelivered", len(queue)), zap.Error(cause))
	if b.retries == nil {
		return
	}
	for _, n := range queue {
		for _, sub := range b.subscribers(n.Topic) {
			if err := b.retries.Enqueue(context.Background(), NewRetryEntry(n, sub.name, cause)); err != nil {
				b.logger.Error("Failed to queue undelivered notification",
					zap.String("topic", string(n.Topic)),
					zap.String("handler", sub.name),
					zap.Error(err),
				)
			}
		}
	}
}
