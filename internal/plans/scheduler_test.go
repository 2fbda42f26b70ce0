package plans

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedulerStartStop(t *testing.T) {
	store := newFakeStore()
	clock := &fixedClock{now: time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)}
	m := newTestManager(store, newFakeLedger(), clock)

	s := NewScheduler(m, store, &SchedulerConfig{
		CheckInterval:  time.Hour,
		MaxConcurrent:  2,
		AccrualTimeout: time.Second,
	}, zerolog.Nop())

	require.NoError(t, s.Start())
	assert.True(t, s.IsRunning())
	assert.Error(t, s.Start(), "double start must fail")

	require.NoError(t, s.Stop())
	assert.False(t, s.IsRunning())
	assert.Error(t, s.Stop(), "double stop must fail")

	// Restart after stop
	require.NoError(t, s.Start())
	require.NoError(t, s.Stop())
}

func TestRunManualSweep(t *testing.T) {
	store := newFakeStore("u1", "u2", "u3")
	ledger := newFakeLedger()
	clock := &fixedClock{now: time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)}
	m := newTestManager(store, ledger, clock)
	ctx := context.Background()

	require.NoError(t, m.Activate(ctx, "u1", 2))
	require.NoError(t, m.Activate(ctx, "u2", 3))
	// u3 has no plan and is not swept

	clock.now = clock.now.AddDate(0, 0, 1)

	s := NewScheduler(m, store, nil, zerolog.Nop())
	accrued, err := s.RunManualSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, accrued)
	assert.InDelta(t, 3.00+9.60, ledger.balance, 1e-9)

	// Re-running the sweep the same day changes nothing
	accrued, err = s.RunManualSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, accrued)
	assert.InDelta(t, 3.00+9.60, ledger.balance, 1e-9)
}
