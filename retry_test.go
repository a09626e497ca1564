package weave

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weavedata/weave/model"
)

func TestRetriesExhaustedBoundary(t *testing.T) {
	clock := &model.FixedClock{Time: time.Now()}
	retry := NewSendRetryManager(3, 100*time.Millisecond, clock)

	n := model.NewNegotiation(model.ConsumerNegotiation, clock)
	require.NoError(t, n.TransitionRequesting())
	assert.Equal(t, 1, n.StateCount)
	assert.False(t, retry.RetriesExhausted(n))

	require.NoError(t, n.TransitionRequesting())
	require.NoError(t, n.TransitionRequesting())
	assert.Equal(t, 3, n.StateCount)
	assert.False(t, retry.RetriesExhausted(n))

	// The attempt beyond the limit is the one that gives up.
	require.NoError(t, n.TransitionRequesting())
	assert.True(t, retry.RetriesExhausted(n))
}

func TestShouldDelayFirstAttemptNever(t *testing.T) {
	clock := &model.FixedClock{Time: time.Now()}
	retry := NewSendRetryManager(5, time.Second, clock)

	n := model.NewNegotiation(model.ConsumerNegotiation, clock)
	require.NoError(t, n.TransitionRequesting())
	assert.False(t, retry.ShouldDelay(n))
}

func TestShouldDelayInsideWindow(t *testing.T) {
	clock := &model.FixedClock{Time: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	retry := NewSendRetryManager(5, time.Second, clock)

	n := model.NewNegotiation(model.ConsumerNegotiation, clock)
	require.NoError(t, n.TransitionRequesting())
	require.NoError(t, n.TransitionRequesting())
	assert.Equal(t, 2, n.StateCount)

	// Second attempt: one base delay from the state timestamp.
	assert.True(t, retry.ShouldDelay(n))
	clock.Advance(500 * time.Millisecond)
	assert.True(t, retry.ShouldDelay(n))
	clock.Advance(600 * time.Millisecond)
	assert.False(t, retry.ShouldDelay(n))
}

func TestShouldDelayWindowDoubles(t *testing.T) {
	clock := &model.FixedClock{Time: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	retry := NewSendRetryManager(10, time.Second, clock)

	n := model.NewNegotiation(model.ConsumerNegotiation, clock)
	for i := 0; i < 3; i++ {
		require.NoError(t, n.TransitionRequesting())
	}
	assert.Equal(t, 3, n.StateCount)

	// Third attempt: the window is twice the base delay.
	clock.Advance(1500 * time.Millisecond)
	assert.True(t, retry.ShouldDelay(n))
	clock.Advance(600 * time.Millisecond)
	assert.False(t, retry.ShouldDelay(n))
}

func TestDelayIsCapped(t *testing.T) {
	clock := &model.FixedClock{Time: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	retry := NewSendRetryManager(100, time.Second, clock)

	n := model.NewNegotiation(model.ConsumerNegotiation, clock)
	for i := 0; i < 30; i++ {
		require.NoError(t, n.TransitionRequesting())
	}

	clock.Advance(time.Minute + time.Second)
	assert.False(t, retry.ShouldDelay(n))
}
