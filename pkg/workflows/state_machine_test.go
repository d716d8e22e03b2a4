package workflows

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	draft    State = "draft"
	review   State = "review"
	done     State = "done"
	rejected State = "rejected"
)

func machine() *StateMachine {
	return NewStateMachine(map[State][]State{
		draft:    {review},
		review:   {done, rejected},
		rejected: {draft},
		done:     {},
	})
}

func TestStateMachine_CanTransition(t *testing.T) {
	sm := machine()

	tests := []struct {
		from, to State
		want     bool
	}{
		{draft, review, true},
		{review, done, true},
		{review, rejected, true},
		{rejected, draft, true},
		{draft, done, false},
		{done, draft, false},
		{"unknown", draft, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sm.CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}

	assert.Equal(t, []State{done, rejected}, sm.GetAllowedTransitions(review))
	assert.Empty(t, sm.GetAllowedTransitions("unknown"))
}

func TestTracker_Transition(t *testing.T) {
	tr := NewTracker(machine(), draft)

	state, seen := tr.Current("a")
	assert.Equal(t, draft, state)
	assert.False(t, seen)

	require.NoError(t, tr.Transition("a", review))
	err := tr.Transition("a", draft)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	state, seen = tr.Current("a")
	assert.Equal(t, review, state)
	assert.True(t, seen)

	tr.Forget("a")
	state, _ = tr.Current("a")
	assert.Equal(t, draft, state)
}

func TestTracker_PathIsAllOrNothing(t *testing.T) {
	tr := NewTracker(machine(), draft)

	require.NoError(t, tr.Path("a", review, rejected, draft))
	state, _ := tr.Current("a")
	assert.Equal(t, draft, state)

	err := tr.Path("a", review, draft)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	state, _ = tr.Current("a")
	assert.Equal(t, draft, state)
}

func TestTracker_Seed(t *testing.T) {
	tr := NewTracker(machine(), draft)

	tr.Seed("a", review)
	tr.Seed("a", done)
	state, seen := tr.Current("a")
	assert.Equal(t, review, state)
	assert.True(t, seen)
}

func TestTracker_ConcurrentKeys(t *testing.T) {
	tr := NewTracker(machine(), draft)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := string(rune('a' + i%26))
			_ = tr.Transition(key, review)
		}(i)
	}
	wg.Wait()

	for i := 0; i < 26; i++ {
		state, _ := tr.Current(string(rune('a' + i)))
		assert.Equal(t, review, state)
	}
}
