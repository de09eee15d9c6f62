package health

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorse(t *testing.T) {
	assert.Equal(t, StatusWarning, Worse(StatusHealthy, StatusWarning))
	assert.Equal(t, StatusCritical, Worse(StatusCritical, StatusWarning))
	assert.Equal(t, StatusUnknown, Worse(StatusWarning, StatusUnknown))
	assert.Equal(t, StatusCritical, Worse(StatusUnknown, StatusCritical))
}

func TestAggregator(t *testing.T) {
	failing := errors.New("disk full")

	t.Run("no checks is healthy", func(t *testing.T) {
		a := NewAggregator(nil)
		status := a.CheckAll(context.Background())
		assert.Equal(t, StatusHealthy, status.OverallStatus)
		assert.True(t, a.IsReady(context.Background()))
		assert.True(t, a.IsLive(context.Background()))
	})

	t.Run("readiness excludes liveness checks", func(t *testing.T) {
		a := NewAggregator(nil)
		require.NoError(t, a.RegisterCheck(NewBasicChecker("db", CheckTypeReadiness, func(context.Context) error { return failing })))
		require.NoError(t, a.RegisterCheck(NewBasicChecker("loop", CheckTypeLiveness, nil)))

		status := a.CheckAll(context.Background())
		assert.Equal(t, StatusCritical, status.OverallStatus)
		assert.Equal(t, StatusCritical, status.ReadinessStatus)
		assert.Equal(t, StatusHealthy, status.LivenessStatus)
		assert.Equal(t, "disk full", status.CheckResults["db"].Error)
		assert.Equal(t, 1, status.Summary.CriticalChecks)
		assert.Equal(t, 1, status.Summary.PassingChecks)
	})

	t.Run("deep checks only affect overall", func(t *testing.T) {
		a := NewAggregator(nil)
		require.NoError(t, a.RegisterCheck(NewBasicChecker("scan", CheckTypeDeep, func(context.Context) error { return failing })))
		status := a.CheckAll(context.Background())
		assert.Equal(t, StatusCritical, status.OverallStatus)
		assert.Equal(t, StatusHealthy, status.ReadinessStatus)
		assert.Equal(t, StatusHealthy, status.LivenessStatus)
	})

	t.Run("duplicate and unknown names", func(t *testing.T) {
		a := NewAggregator(nil)
		require.NoError(t, a.RegisterCheck(NewBasicChecker("x", CheckTypeGeneral, nil)))
		assert.ErrorIs(t, a.RegisterCheck(NewBasicChecker("x", CheckTypeGeneral, nil)), ErrHealthCheckExists)
		assert.ErrorIs(t, a.UnregisterCheck("y"), ErrHealthCheckNotFound)
		_, err := a.CheckOne(context.Background(), "y")
		assert.ErrorIs(t, err, ErrHealthCheckNotFound)

		require.NoError(t, a.UnregisterCheck("x"))
		a.CheckAll(context.Background())
		assert.Empty(t, a.GetStatus().CheckResults)
	})

	t.Run("streaks", func(t *testing.T) {
		var healthy atomic.Bool
		a := NewAggregator(nil)
		require.NoError(t, a.RegisterCheck(NewBasicChecker("flappy", CheckTypeGeneral, func(context.Context) error {
			if healthy.Load() {
				return nil
			}
			return failing
		})))

		ctx := context.Background()
		_, _ = a.CheckOne(ctx, "flappy")
		r, err := a.CheckOne(ctx, "flappy")
		require.NoError(t, err)
		assert.Equal(t, 2, r.ConsecutiveFailures)

		healthy.Store(true)
		r, _ = a.CheckOne(ctx, "flappy")
		assert.Equal(t, 1, r.ConsecutiveSuccesses)
		assert.Equal(t, 0, r.ConsecutiveFailures)
	})

	t.Run("check timeout", func(t *testing.T) {
		a := NewAggregator(&AggregatorConfig{Timeout: 20 * time.Millisecond})
		require.NoError(t, a.RegisterCheck(NewBasicChecker("slow", CheckTypeGeneral, func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		})))
		r, err := a.CheckOne(context.Background(), "slow")
		require.NoError(t, err)
		assert.Equal(t, StatusCritical, r.Status)
		assert.Contains(t, r.Error, "deadline")
	})

	t.Run("status change callbacks", func(t *testing.T) {
		var healthy atomic.Bool
		healthy.Store(true)
		a := NewAggregator(nil)
		require.NoError(t, a.RegisterCheck(NewBasicChecker("svc", CheckTypeGeneral, func(context.Context) error {
			if healthy.Load() {
				return nil
			}
			return failing
		})))

		var changes []HealthStatus
		a.OnStatusChange(func(_ context.Context, _, current *AggregatedStatus) {
			changes = append(changes, current.OverallStatus)
		})

		ctx := context.Background()
		a.CheckAll(ctx)
		a.CheckAll(ctx)
		healthy.Store(false)
		a.CheckAll(ctx)
		assert.Equal(t, []HealthStatus{StatusHealthy, StatusCritical}, changes)
	})
}

func TestMonitor(t *testing.T) {
	var runs atomic.Int32
	a := NewAggregator(nil)
	require.NoError(t, a.RegisterCheck(NewBasicChecker("count", CheckTypeGeneral, func(context.Context) error {
		runs.Add(1)
		return nil
	})))
	m := NewMonitor(a)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx, 5*time.Millisecond) }()

	require.Eventually(t, func() bool { return runs.Load() >= 3 }, time.Second, time.Millisecond)
	assert.True(t, m.IsMonitoring())
	assert.ErrorIs(t, m.Run(ctx, time.Second), ErrMonitoringAlreadyRunning)

	cancel()
	require.NoError(t, <-done)
	assert.False(t, m.IsMonitoring())
}
