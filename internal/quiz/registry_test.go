package quiz

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryReplacesAttempt(t *testing.T) {
	clk := newFakeClock()
	r := NewRegistry(clk, time.Minute)
	fb := &fakeBackend{attempt: newAttempt(10, 1)}
	ctx := context.Background()

	first, err := r.Start(ctx, "s1", fb, "quiz-1")
	require.NoError(t, err)
	assert.Same(t, first, r.Get("s1"))

	second, err := r.Start(ctx, "s1", fb, "quiz-2")
	require.NoError(t, err)
	assert.Same(t, second, r.Get("s1"))
	assert.Equal(t, 1, r.Len())

	select {
	case <-first.Done():
	case <-time.After(time.Second):
		t.Fatal("previous attempt should be abandoned")
	}
	assert.Equal(t, Abandoned, first.Snapshot().State)
	assert.Equal(t, "quiz-2", second.Snapshot().QuizID)
	assert.Nil(t, r.Get("s2"))
}

func TestRegistryStartFailure(t *testing.T) {
	r := NewRegistry(newFakeClock(), time.Minute)
	fb := &fakeBackend{startErr: errors.New("quiz not found")}

	_, err := r.Start(context.Background(), "s1", fb, "missing")
	var se *SessionStartError
	assert.ErrorAs(t, err, &se)
	assert.Nil(t, r.Get("s1"))
}

func TestRegistryDropAndSweep(t *testing.T) {
	clk := newFakeClock()
	r := NewRegistry(clk, time.Minute)
	fb := &fakeBackend{attempt: newAttempt(10, 1)}
	ctx := context.Background()

	running, err := r.Start(ctx, "s1", fb, "quiz-1")
	require.NoError(t, err)
	done, err := r.Start(ctx, "s2", fb, "quiz-1")
	require.NoError(t, err)
	require.NoError(t, done.Submit(ctx))

	assert.Zero(t, r.Sweep(), "within grace period")
	clk.Advance(2 * time.Minute)
	assert.Equal(t, 1, r.Sweep())
	assert.Nil(t, r.Get("s2"))
	assert.Same(t, running, r.Get("s1"))

	r.Drop("s1")
	assert.Nil(t, r.Get("s1"))
	assert.Equal(t, Abandoned, running.Snapshot().State)
	assert.Equal(t, 1, fb.submitCount())
}
