package client

import (
	"context"
	"slices"
	"sync"
)

// InFlight maps cache keys to the one pending network call for that key.
// Each Manager owns its registry.
type InFlight struct {
	mu    sync.Mutex
	calls map[string]*Call

	// onChange is told about registrations (+1) and removals (-1).
	onChange func(delta int)
}

func NewInFlight() *InFlight {
	return &InFlight{calls: make(map[string]*Call)}
}

// Call is a pending network call that any number of callers can wait on.
// Its work runs under its own context, which is cancelled once every
// caller that joined it has stopped waiting.
type Call struct {
	Key string

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	state  State
	err    error

	mu        sync.Mutex
	refs      int
	abandoned bool
	watchers  []watcher
	registry  *InFlight
}

// watcher receives the progress of a call for as long as its ctx is live.
type watcher struct {
	ctx      context.Context
	progress func(from string)
}

// Lookup returns the pending call for key, or nil.
func (f *InFlight) Lookup(key string) *Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[key]
}

// Register creates the pending call for key. The caller must have seen
// Lookup return nil while holding the key's lock; a pending call is never
// overwritten, so Register returns nil if one exists.
func (f *InFlight) Register(key string) *Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, pending := f.calls[key]; pending {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Call{
		Key:      key,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		registry: f,
	}
	f.calls[key] = c
	if f.onChange != nil {
		f.onChange(1)
	}
	return c
}

// Complete publishes the outcome of c to its waiters and removes it.
func (f *InFlight) Complete(c *Call, state State, err error) {
	c.mu.Lock()
	c.state, c.err = state, err
	c.mu.Unlock()
	f.remove(c)
	c.cancel()
	close(c.done)
}

// Len returns the number of pending calls.
func (f *InFlight) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *InFlight) remove(c *Call) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls[c.Key] == c {
		delete(f.calls, c.Key)
		if f.onChange != nil {
			f.onChange(-1)
		}
	}
}

// join registers interest in the call. Progress, if not nil, is told
// about retries until ctx is done. Join fails once every earlier caller
// has left and the call was abandoned.
func (c *Call) join(ctx context.Context, progress func(from string)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.abandoned {
		return false
	}
	c.refs++
	if progress != nil {
		c.watchers = append(c.watchers, watcher{ctx: ctx, progress: progress})
	}
	return true
}

// notify passes a progress label to every caller still waiting.
func (c *Call) notify(from string) {
	c.mu.Lock()
	watchers := slices.Clone(c.watchers)
	c.mu.Unlock()
	for _, w := range watchers {
		if w.ctx.Err() == nil {
			w.progress(from)
		}
	}
}

// leave withdraws interest. The last caller to leave abandons the call:
// it is cancelled and leaves the registry so a later caller starts afresh.
func (c *Call) leave() {
	c.mu.Lock()
	c.refs--
	abandon := c.refs == 0
	if abandon {
		c.abandoned = true
	}
	c.mu.Unlock()
	if abandon {
		c.cancel()
		c.registry.remove(c)
	}
}

// Wait blocks until the call completes or ctx is done. Cancelling ctx
// detaches only this waiter.
func (c *Call) Wait(ctx context.Context) (State, error) {
	select {
	case <-c.done:
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.state, c.err
	case <-ctx.Done():
		c.leave()
		return State{}, cancelled(ctx.Err())
	}
}
