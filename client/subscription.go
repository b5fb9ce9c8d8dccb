package client

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

const updatesBuffer = 16

// Subscription follows one request over repeated fetches. Only the latest
// fetch publishes states: starting a fetch cancels the one before it.
type Subscription struct {
	ID uuid.UUID

	m    *Manager
	req  Request
	opts Options

	mu      sync.Mutex
	state   State
	seq     uint64
	cancel  context.CancelFunc
	updates chan State
	closed  bool
	wg      sync.WaitGroup
}

// Subscribe returns an idle subscription for req.
func (m *Manager) Subscribe(req Request, opts Options) *Subscription {
	return &Subscription{
		ID:      uuid.New(),
		m:       m,
		req:     req,
		opts:    opts,
		state:   State{Key: m.Key(req), From: FromIdle},
		updates: make(chan State, updatesBuffer),
	}
}

// Fetch starts a fetch in the background, cancelling any previous one.
// It returns immediately; progress is seen through State and Updates.
func (s *Subscription) Fetch(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if s.cancel != nil {
		s.cancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.seq++
	seq := s.seq

	logger := s.m.log.With().Str("subscription", s.ID.String()).Logger()
	logger.Trace().Uint64("seq", seq).Msg("Starting fetch")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		state, err := s.m.Fetch(ctx, s.req, s.opts, func(state State) {
			s.publish(seq, state)
		})
		if ctx.Err() != nil {
			logger.Trace().Uint64("seq", seq).Msg("Fetch superseded")
			return
		}
		if err != nil {
			logger.Debug().Err(err).Msg("Fetch failed")
		}
		s.publish(seq, state)
	}()
}

// State returns the latest published state.
func (s *Subscription) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Updates delivers published states. When the reader falls behind the
// oldest undelivered state is dropped. The channel is closed by Close.
func (s *Subscription) Updates() <-chan State {
	return s.updates
}

// Clear removes every entry of the subscription's manager. The current
// state is kept.
func (s *Subscription) Clear(ctx context.Context) error {
	return s.m.Clear(ctx)
}

// Wait blocks until the running fetch, if any, has finished.
func (s *Subscription) Wait() {
	s.wg.Wait()
}

// Close cancels the running fetch and closes Updates.
func (s *Subscription) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	s.wg.Wait()
	close(s.updates)
}

func (s *Subscription) publish(seq uint64, state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq != s.seq || s.closed {
		return
	}
	s.state = state
	select {
	case s.updates <- state:
	default:
		select {
		case <-s.updates:
		default:
		}
		s.updates <- state
	}
}
