package propagation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"carbon-scribe/ghg-reporting/internal/emissions"
)

type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(call string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, call)
}

func (l *callLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

func resultNotification(version int) Notification {
	return NewNotification(&ResultCalculated{ResultID: uuid.New(), Version: version})
}

func TestBus_PublishRunsCascadeBreadthFirst(t *testing.T) {
	bus := NewBus(nil, zap.NewNop())
	log := &callLog{}

	bus.Subscribe(TopicActivityCreated, "first", func(_ context.Context, n Notification) ([]Notification, error) {
		log.add("first")
		return []Notification{resultNotification(1), resultNotification(2)}, nil
	})
	bus.Subscribe(TopicActivityCreated, "second", func(_ context.Context, n Notification) ([]Notification, error) {
		log.add("second")
		return nil, nil
	})
	bus.Subscribe(TopicResultCalculated, "result", func(_ context.Context, n Notification) ([]Notification, error) {
		p := n.Payload.(*ResultCalculated)
		log.add(fmt.Sprintf("result:%d", p.Version))
		if p.Version == 1 {
			return []Notification{n.Caused(&ReportGenerated{Version: 1})}, nil
		}
		return nil, nil
	})
	bus.Subscribe(TopicReportGenerated, "report", func(_ context.Context, n Notification) ([]Notification, error) {
		log.add("report")
		return nil, nil
	})

	err := bus.Publish(context.Background(), NewNotification(&ActivityChanged{ActivityID: uuid.New(), Created: true}))
	require.NoError(t, err)

	assert.Equal(t, []string{"first", "second", "result:1", "result:2", "report"}, log.list())
}

func TestBus_RaisedNotificationsCarryCause(t *testing.T) {
	bus := NewBus(nil, zap.NewNop())
	var caused *uuid.UUID

	bus.Subscribe(TopicActivityUpdated, "raise", func(_ context.Context, n Notification) ([]Notification, error) {
		return []Notification{NewNotification(&ResultCalculated{})}, nil
	})
	bus.Subscribe(TopicResultCalculated, "observe", func(_ context.Context, n Notification) ([]Notification, error) {
		caused = n.CausedBy
		return nil, nil
	})

	trigger := NewNotification(&ActivityChanged{ActivityID: uuid.New()})
	require.NoError(t, bus.Publish(context.Background(), trigger))

	require.NotNil(t, caused)
	assert.Equal(t, trigger.ID, *caused)
}

func TestBus_FailuresAreIsolatedAndQueued(t *testing.T) {
	queue := NewMemoryRetryQueue()
	bus := NewBus(queue, zap.NewNop())
	log := &callLog{}

	bus.Subscribe(TopicResultCalculated, "broken", func(context.Context, Notification) ([]Notification, error) {
		return nil, errors.New("database unavailable")
	})
	bus.Subscribe(TopicResultCalculated, "panicky", func(context.Context, Notification) ([]Notification, error) {
		panic("nil map")
	})
	bus.Subscribe(TopicResultCalculated, "rejects", func(context.Context, Notification) ([]Notification, error) {
		return nil, Permanent(emissions.ErrInvalidActivityAmount)
	})
	bus.Subscribe(TopicResultCalculated, "healthy", func(context.Context, Notification) ([]Notification, error) {
		log.add("healthy")
		return nil, nil
	})

	n := resultNotification(1)
	require.NoError(t, bus.Publish(context.Background(), n))

	assert.Equal(t, []string{"healthy"}, log.list())

	entries := queue.Entries()
	require.Len(t, entries, 2)
	handlers := []string{entries[0].Handler, entries[1].Handler}
	assert.ElementsMatch(t, []string{"broken", "panicky"}, handlers)
	for _, e := range entries {
		assert.Equal(t, n.ID, e.Notification.ID)
		assert.Equal(t, RetryStatusPending, e.Status)
		assert.NotEmpty(t, e.LastError)
	}
}

func TestBus_CancelledCascadeDefersRemainder(t *testing.T) {
	queue := NewMemoryRetryQueue()
	bus := NewBus(queue, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())

	bus.Subscribe(TopicActivityCreated, "calculate", func(_ context.Context, n Notification) ([]Notification, error) {
		cancel()
		return []Notification{resultNotification(1)}, nil
	})
	bus.Subscribe(TopicResultCalculated, "views", func(context.Context, Notification) ([]Notification, error) {
		t.Fatal("handler ran after cancellation")
		return nil, nil
	})
	bus.Subscribe(TopicResultCalculated, "drafts", func(context.Context, Notification) ([]Notification, error) {
		t.Fatal("handler ran after cancellation")
		return nil, nil
	})

	err := bus.Publish(ctx, NewNotification(&ActivityChanged{ActivityID: uuid.New(), Created: true}))
	assert.ErrorIs(t, err, context.Canceled)

	entries := queue.Entries()
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, TopicResultCalculated, e.Notification.Topic)
	}
}

func TestBus_DeliverTargetsOneHandler(t *testing.T) {
	bus := NewBus(nil, zap.NewNop())
	log := &callLog{}

	for _, name := range []string{"a", "b"} {
		name := name
		bus.Subscribe(TopicReportGenerated, name, func(context.Context, Notification) ([]Notification, error) {
			log.add(name)
			return nil, nil
		})
	}

	n := NewNotification(&ReportGenerated{ReportID: uuid.New()})
	require.NoError(t, bus.Deliver(context.Background(), n, "b"))
	assert.Equal(t, []string{"b"}, log.list())

	err := bus.Deliver(context.Background(), n, "missing")
	assert.Error(t, err)
}

func TestBus_DuplicateSubscriptionPanics(t *testing.T) {
	bus := NewBus(nil, zap.NewNop())
	noop := func(context.Context, Notification) ([]Notification, error) { return nil, nil }

	bus.Subscribe(TopicReportRequested, "generate", noop)
	assert.Panics(t, func() { bus.Subscribe(TopicReportRequested, "generate", noop) })
	assert.NotPanics(t, func() { bus.Subscribe(TopicReportGenerated, "generate", noop) })
}

func TestNotification_DecodesTypedPayload(t *testing.T) {
	cause := uuid.New()
	n := NewNotification(&FactorVersionChanged{
		OldFactorID:     uuid.New(),
		NewFactorID:     uuid.New(),
		OldVersion:      "2023",
		NewVersion:      "2024",
		AffectsExisting: true,
	})
	n.CausedBy = &cause

	data, err := json.Marshal(n)
	require.NoError(t, err)

	var decoded Notification
	require.NoError(t, json.Unmarshal(data, &decoded))

	p, ok := decoded.Payload.(*FactorVersionChanged)
	require.True(t, ok)
	assert.Equal(t, "2024", p.NewVersion)
	assert.True(t, p.AffectsExisting)
	assert.Equal(t, cause, *decoded.CausedBy)

	var unknown Notification
	err = json.Unmarshal([]byte(`{"id":"`+uuid.NewString()+`","topic":"nope","payload":{}}`), &unknown)
	assert.Error(t, err)
}

func TestActivityChanged_TopicFollowsCreated(t *testing.T) {
	assert.Equal(t, TopicActivityCreated, (&ActivityChanged{Created: true}).Topic())
	assert.Equal(t, TopicActivityUpdated, (&ActivityChanged{}).Topic())
}
