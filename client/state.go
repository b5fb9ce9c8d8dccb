package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/always-cache/condfetch/rfc9211"
)

// Provenance labels reported in State.From.
const (
	FromIdle              = "idle"
	FromFresh             = "cache:fresh(no-network)"
	FromStale             = "cache:stale(show-first)"
	FromStaleNoRevalidate = "cache:stale(no-revalidate)"
	FromDedupe            = "dedupe:join-inflight"
	FromNetwork200        = "network:200"
	FromNetwork304        = "network:304"
	FromError             = "error"
)

// CacheName identifies the client cache in Cache-Status values.
const CacheName = "condfetch"

func fromRetrying(retry, retries int, delay time.Duration) string {
	return fmt.Sprintf("retrying(%d/%d) in %dms", retry, retries, delay.Milliseconds())
}

// State is what a caller sees of one fetch. Intermediate states are passed
// to the Observer; the final one is returned by Fetch.
type State struct {
	Key     string
	Data    json.RawMessage
	Pending bool
	IsError bool
	From    string
	// Err is the terminal error, if any. Cancellation sets Err but not IsError.
	Err error

	ttl       time.Duration
	stale     bool
	fwdStatus int
	stored    bool
}

// Observer receives intermediate states of a fetch. It is called from the
// fetching goroutine and must not block.
type Observer func(State)

// CacheStatus renders how the state was produced as a Cache-Status member.
func (s State) CacheStatus() string {
	cs := rfc9211.New(CacheName)
	reason := rfc9211.FwdUriMiss
	if s.stale {
		reason = rfc9211.FwdStale
	}
	switch s.From {
	case FromIdle:
		cs.Forward(rfc9211.FwdBypass).Detail("disabled")
	case FromFresh:
		cs.Hit().TTL(s.ttl)
	case FromStaleNoRevalidate:
		cs.Hit().TTL(s.ttl).Detail("no-revalidate")
	case FromStale:
		cs.Forward(rfc9211.FwdStale)
	case FromDedupe:
		cs.Forward(reason).Collapsed()
	case FromError:
		cs.Forward(reason).Detail("error")
	default:
		cs.Forward(reason)
	}
	if s.fwdStatus != 0 {
		cs.FwdStatus(s.fwdStatus)
	}
	if s.stored {
		cs.Stored()
	}
	return cs.String()
}

// Decode unmarshals the data of a state into v.
func (s State) Decode(v any) error {
	if s.Data == nil {
		return errors.New("client: no data")
	}
	return json.Unmarshal(s.Data, v)
}
