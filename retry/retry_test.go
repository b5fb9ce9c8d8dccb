package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultSchedule(t *testing.T) {
	p := Default()
	require.Equal(t, 4, p.Attempts())
	require.Equal(t, time.Second, p.Wait(0))
	require.Equal(t, 2*time.Second, p.Wait(1))
	require.Equal(t, 4*time.Second, p.Wait(2))
	require.Equal(t, 30*time.Second, p.Wait(10))
	require.Equal(t, 30*time.Second, p.Wait(100))
}

func TestZeroPolicyUsesDefaultDelay(t *testing.T) {
	var p Policy
	require.Equal(t, 1, p.Attempts())
	require.Equal(t, time.Second, p.Wait(0))
	require.Equal(t, 1, Policy{Retries: -2}.Attempts())
}

func TestSteps(t *testing.T) {
	p := Policy{Retries: 4, Delay: Steps(100*time.Millisecond, 200*time.Millisecond)}
	require.Equal(t, 100*time.Millisecond, p.Wait(0))
	require.Equal(t, 200*time.Millisecond, p.Wait(1))
	require.Equal(t, 200*time.Millisecond, p.Wait(3))
	require.Equal(t, time.Duration(0), Policy{Delay: Steps()}.Wait(0))
}

func TestSleep(t *testing.T) {
	start := time.Now()
	require.NoError(t, Sleep(context.Background(), 20*time.Millisecond))
	require.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestSleepCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	start := time.Now()
	err := Sleep(ctx, time.Minute)
	require.True(t, errors.Is(err, context.Canceled))
	require.Less(t, time.Since(start), 10*time.Second)

	require.Error(t, Sleep(ctx, 0))
}
