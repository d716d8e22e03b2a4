package propagation

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// flakyHandler fails its first n invocations
func flakyHandler(n int32, calls *int32) NotificationHandler {
	return func(context.Context, Notification) ([]Notification, error) {
		if atomic.AddInt32(calls, 1) <= n {
			return nil, errors.New("downstream unavailable")
		}
		return nil, nil
	}
}

func newTestWorker(queue RetryQueue, bus *Bus, maxAttempts int) *RetryWorker {
	w := NewRetryWorker(queue, bus, zap.NewNop(), RetryConfig{
		MaxAttempts: maxAttempts,
		BaseBackoff: time.Second,
		MaxBackoff:  10 * time.Second,
	})
	// entries created now are due
	w.now = func() time.Time { return time.Now().Add(time.Hour) }
	return w
}

func TestRetryWorker_Backoff(t *testing.T) {
	w := newTestWorker(NewMemoryRetryQueue(), NewBus(nil, zap.NewNop()), 5)

	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{0, time.Second},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second},
		{12, 10 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, w.Backoff(tt.attempts), "attempts=%d", tt.attempts)
	}
}

func TestRetryWorker_DefaultsFillZeroConfig(t *testing.T) {
	w := NewRetryWorker(NewMemoryRetryQueue(), NewBus(nil, zap.NewNop()), zap.NewNop(), RetryConfig{})
	assert.Equal(t, DefaultRetryConfig(), w.config)
}

func TestRetryWorker_RedeliversToFailedHandler(t *testing.T) {
	queue := NewMemoryRetryQueue()
	bus := NewBus(queue, zap.NewNop())

	var flakyCalls, steadyCalls int32
	bus.Subscribe(TopicReportGenerated, "flaky", flakyHandler(1, &flakyCalls))
	bus.Subscribe(TopicReportGenerated, "steady", flakyHandler(0, &steadyCalls))

	require.NoError(t, bus.Publish(context.Background(), NewNotification(&ReportGenerated{Version: 1})))
	entries := queue.Entries()
	require.Len(t, entries, 1)

	w := newTestWorker(queue, bus, 3)
	stats, err := w.Drain(context.Background())
	require.NoError(t, err)

	assert.Equal(t, DrainStats{Attempted: 1, Succeeded: 1}, stats)
	assert.Equal(t, int32(2), atomic.LoadInt32(&flakyCalls))
	assert.Equal(t, int32(1), atomic.LoadInt32(&steadyCalls), "only the failed handler is redelivered")

	entry, ok := queue.Get(entries[0].ID)
	require.True(t, ok)
	assert.Equal(t, RetryStatusSucceeded, entry.Status)
}

func TestRetryWorker_GivesUpAfterMaxAttempts(t *testing.T) {
	queue := NewMemoryRetryQueue()
	bus := NewBus(queue, zap.NewNop())

	var calls int32
	bus.Subscribe(TopicReportGenerated, "broken", flakyHandler(100, &calls))
	require.NoError(t, bus.Publish(context.Background(), NewNotification(&ReportGenerated{})))

	w := newTestWorker(queue, bus, 2)

	stats, err := w.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DrainStats{Attempted: 1, Failed: 1}, stats)

	w.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	stats, err = w.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DrainStats{Attempted: 1, Dead: 1}, stats)

	stats, err = w.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DrainStats{}, stats)

	entry := queue.Entries()[0]
	assert.Equal(t, RetryStatusDead, entry.Status)
	assert.Equal(t, 2, entry.Attempts)
	assert.Equal(t, "downstream unavailable", entry.LastError)
}

func TestRetryWorker_PermanentErrorIsDeadImmediately(t *testing.T) {
	queue := NewMemoryRetryQueue()
	bus := NewBus(queue, zap.NewNop())

	var calls int32
	bus.Subscribe(TopicReportGenerated, "picky", func(context.Context, Notification) ([]Notification, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return nil, errors.New("timeout")
		}
		return nil, Permanent(errors.New("malformed payload"))
	})
	require.NoError(t, bus.Publish(context.Background(), NewNotification(&ReportGenerated{})))

	stats, err := newTestWorker(queue, bus, 10).Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Dead)
}

func TestRetryWorker_StartRejectsBadSchedule(t *testing.T) {
	w := NewRetryWorker(NewMemoryRetryQueue(), NewBus(nil, zap.NewNop()), zap.NewNop(), RetryConfig{Schedule: "every now and then"})
	assert.Error(t, w.Start())

	ok := NewRetryWorker(NewMemoryRetryQueue(), NewBus(nil, zap.NewNop()), zap.NewNop(), RetryConfig{Schedule: "@every 1h"})
	require.NoError(t, ok.Start())
	ok.Stop()
}

// =====================================================
// SNS forwarding
// =====================================================

// MockSNSPublisher is a mock implementation of SNSPublisher
type MockSNSPublisher struct {
	mock.Mock
}

func (m *MockSNSPublisher) Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*sns.PublishOutput), args.Error(1)
}

func TestSNSForwarder_PublishesResultsAndReports(t *testing.T) {
	client := new(MockSNSPublisher)
	bus := NewBus(NewMemoryRetryQueue(), zap.NewNop())
	NewSNSForwarder(client, "arn:aws:sns:us-west-2:123456789012:ghg", zap.NewNop()).Register(bus)

	client.On("Publish", mock.Anything, mock.MatchedBy(func(in *sns.PublishInput) bool {
		return aws.ToString(in.TopicArn) == "arn:aws:sns:us-west-2:123456789012:ghg" &&
			aws.ToString(in.MessageAttributes["topic"].StringValue) == string(TopicResultCalculated)
	})).Return(&sns.PublishOutput{MessageId: aws.String("m-1")}, nil).Once()
	client.On("Publish", mock.Anything, mock.MatchedBy(func(in *sns.PublishInput) bool {
		return aws.ToString(in.MessageAttributes["topic"].StringValue) == string(TopicReportGenerated)
	})).Return(&sns.PublishOutput{MessageId: aws.String("m-2")}, nil).Once()

	require.NoError(t, bus.Publish(context.Background(), resultNotification(1)))
	require.NoError(t, bus.Publish(context.Background(), NewNotification(&ReportGenerated{})))

	client.AssertExpectations(t)
}

func TestSNSForwarder_FailureIsQueued(t *testing.T) {
	client := new(MockSNSPublisher)
	queue := NewMemoryRetryQueue()
	bus := NewBus(queue, zap.NewNop())
	NewSNSForwarder(client, "arn:aws:sns:us-west-2:123456789012:ghg", zap.NewNop()).Register(bus)

	client.On("Publish", mock.Anything, mock.Anything).Return(nil, errors.New("throttled"))

	require.NoError(t, bus.Publish(context.Background(), resultNotification(1)))

	entries := queue.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, HandlerSNSForward, entries[0].Handler)
	assert.Contains(t, entries[0].LastError, "throttled")
}
