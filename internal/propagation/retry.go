package propagation

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// RetryStatus is the state of a retry queue entry
type RetryStatus string

const (
	RetryStatusPending   RetryStatus = "pending"
	RetryStatusSucceeded RetryStatus = "succeeded"
	RetryStatusDead      RetryStatus = "dead"
)

// RetryEntry is one failed delivery of a notification to a single handler
type RetryEntry struct {
	ID            uuid.UUID    `json:"id"`
	Notification  Notification `json:"notification"`
	Handler       string       `json:"handler"`
	Attempts      int          `json:"attempts"`
	LastError     string       `json:"last_error,omitempty"`
	Status        RetryStatus  `json:"status"`
	NextAttemptAt time.Time    `json:"next_attempt_at"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// NewRetryEntry creates a pending entry due immediately
func NewRetryEntry(n Notification, handler string, cause error) *RetryEntry {
	now := time.Now().UTC()
	entry := &RetryEntry{
		ID:            uuid.New(),
		Notification:  n,
		Handler:       handler,
		Status:        RetryStatusPending,
		NextAttemptAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if cause != nil {
		entry.LastError = cause.Error()
	}
	return entry
}

// RetryQueue stores failed deliveries until the retry worker redelivers them
type RetryQueue interface {
	Enqueue(ctx context.Context, entry *RetryEntry) error
	// Due returns pending entries whose next attempt is at or before now,
	// oldest first
	Due(ctx context.Context, now time.Time, limit int) ([]*RetryEntry, error)
	MarkSucceeded(ctx context.Context, id uuid.UUID) error
	// MarkFailed records a failed attempt. dead entries are never retried.
	MarkFailed(ctx context.Context, id uuid.UUID, lastErr string, nextAttemptAt time.Time, dead bool) error
	Pending(ctx context.Context) (int, error)
}

// MemoryRetryQueue is a RetryQueue for tests and the CLI. Entries do not
// survive a restart.
type MemoryRetryQueue struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*RetryEntry
}

// NewMemoryRetryQueue creates an empty in-memory queue
func NewMemoryRetryQueue() *MemoryRetryQueue {
	return &MemoryRetryQueue{entries: make(map[uuid.UUID]*RetryEntry)}
}

func (q *MemoryRetryQueue) Enqueue(_ context.Context, entry *RetryEntry) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.entries[entry.ID]; exists {
		return fmt.Errorf("retry entry %s already queued", entry.ID)
	}
	copied := *entry
	q.entries[entry.ID] = &copied
	return nil
}

func (q *MemoryRetryQueue) Due(_ context.Context, now time.Time, limit int) ([]*RetryEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []*RetryEntry
	for _, e := range q.entries {
		if e.Status == RetryStatusPending && !e.NextAttemptAt.After(now) {
			copied := *e
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].NextAttemptAt.Equal(out[j].NextAttemptAt) {
			return out[i].NextAttemptAt.Before(out[j].NextAttemptAt)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (q *MemoryRetryQueue) MarkSucceeded(_ context.Context, id uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.entries[id]
	if !ok {
		return fmt.Errorf("retry entry %s not found", id)
	}
	e.Attempts++
	e.Status = RetryStatusSucceeded
	e.UpdatedAt = time.Now().UTC()
	return nil
}

func (q *MemoryRetryQueue) MarkFailed(_ context.Context, id uuid.UUID, lastErr string, nextAttemptAt time.Time, dead bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.entries[id]
	if !ok {
		return fmt.Errorf("retry entry %s not found", id)
	}
	e.Attempts++
	e.LastError = lastErr
	e.NextAttemptAt = nextAttemptAt
	e.UpdatedAt = time.Now().UTC()
	if dead {
		e.Status = RetryStatusDead
	}
	return nil
}

func (q *MemoryRetryQueue) Pending(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for _, e := range q.entries {
		if e.Status == RetryStatusPending {
			n++
		}
	}
	return n, nil
}

// Get returns a copy of an entry
func (q *MemoryRetryQueue) Get(id uuid.UUID) (*RetryEntry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.entries[id]
	if !ok {
		return nil, false
	}
	copied := *e
	return &copied, true
}

// Entries returns copies of every entry, oldest first
func (q *MemoryRetryQueue) Entries() []*RetryEntry {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]*RetryEntry, 0, len(q.entries))
	for _, e := range q.entries {
		copied := *e
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// encodeNotification is the stored form of a notification in the durable queue
func encodeNotification(n Notification) ([]byte, error) {
	data, err := json.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("failed to encode notification: %w", err)
	}
	return data, nil
}
