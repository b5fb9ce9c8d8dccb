package client

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func drain(ch <-chan State) []State {
	var states []State
	for {
		select {
		case s, ok := <-ch:
			if !ok {
				return states
			}
			states = append(states, s)
		default:
			return states
		}
	}
}

func TestSubscriptionFetch(t *testing.T) {
	origin := newTestOrigin(t, false)
	clock := newTestClock()
	m := newTestManager(t, clock)
	s := m.Subscribe(origin.request("products"), testOptions())
	defer s.Close()

	require.NotEqual(t, s.ID.String(), m.Subscribe(origin.request("products"), testOptions()).ID.String())
	require.Equal(t, FromIdle, s.State().From)

	s.Fetch(context.Background())
	s.Wait()
	require.Equal(t, FromNetwork200, s.State().From)
	require.False(t, s.State().Pending)

	clock.Advance(DefaultStaleTime)
	s.Fetch(context.Background())
	s.Wait()
	require.Equal(t, FromNetwork304, s.State().From)

	var froms []string
	for _, state := range drain(s.Updates()) {
		froms = append(froms, state.From)
	}
	require.Equal(t, []string{FromNetwork200, FromStale, FromNetwork304}, froms)
}

func TestSubscriptionFetchSupersedes(t *testing.T) {
	origin := newTestOrigin(t, true)
	m := newTestManager(t, newTestClock())
	s := m.Subscribe(origin.request("user"), testOptions())
	defer s.Close()

	s.Fetch(context.Background())
	origin.waitArrival(t)
	s.Fetch(context.Background())
	origin.release()
	s.Wait()

	state := s.State()
	require.False(t, state.IsError)
	require.NoError(t, state.Err)
	require.Contains(t, []string{FromNetwork200, FromDedupe}, state.From)
	require.Contains(t, string(state.Data), "Alice")
	for _, update := range drain(s.Updates()) {
		require.NoError(t, update.Err)
	}
	require.LessOrEqual(t, origin.attempts.Load(), int32(2))
}

func TestSubscriptionClearAndClose(t *testing.T) {
	origin := newTestOrigin(t, false)
	m := newTestManager(t, newTestClock())
	ctx := context.Background()
	s := m.Subscribe(origin.request("user"), testOptions())

	s.Fetch(ctx)
	s.Wait()
	require.NoError(t, s.Clear(ctx))
	_, ok, err := m.Lookup(ctx, origin.request("user"))
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, FromNetwork200, s.State().From)

	s.Close()
	s.Close()
	drain(s.Updates())
	_, open := <-s.Updates()
	require.False(t, open)

	s.Fetch(ctx)
	s.Wait()
	require.EqualValues(t, 1, origin.attempts.Load())
}
