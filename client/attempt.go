package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	cachekey "github.com/always-cache/condfetch/pkg/cache-key"
	"github.com/always-cache/condfetch/retry"
	"github.com/always-cache/condfetch/rfc9111"
)

const maxBodyBytes = 16 << 20

// response is the result of a successful attempt.
type response struct {
	status int
	header http.Header
	// body is nil for 304.
	body json.RawMessage
}

// attempt sends one conditional GET. Failures are *TransportError unless
// ctx was cancelled.
func (m *Manager) attempt(ctx context.Context, req Request, prev rfc9111.Validators) (response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return response{}, &TransportError{Err: err}
	}
	httpReq.Header = cachekey.GetVaryHeaders(cachekey.NormalizeAttrs(req.Attrs))
	httpReq.Header.Set("Accept", "application/json")
	rfc9111.AddPreconditions(httpReq, prev)

	res, err := m.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return response{}, cancelled(ctx.Err())
		}
		m.metrics.Attempt("error")
		return response{}, &TransportError{Err: err}
	}
	defer res.Body.Close()
	m.metrics.Attempt(strconv.Itoa(res.StatusCode))

	if res.StatusCode == http.StatusNotModified {
		return response{status: res.StatusCode, header: res.Header}, nil
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(res.Body, maxBodyBytes))
		return response{}, &TransportError{StatusCode: res.StatusCode}
	}
	body, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
	if err != nil {
		if ctx.Err() != nil {
			return response{}, cancelled(ctx.Err())
		}
		return response{}, &TransportError{StatusCode: res.StatusCode, Err: err}
	}
	if !json.Valid(body) {
		return response{}, &TransportError{StatusCode: res.StatusCode, Err: errors.New("body is not JSON")}
	}
	return response{status: res.StatusCode, header: res.Header, body: body}, nil
}

// attempts runs up to Retries+1 attempts. A 304 falls back to the entry
// stored for key at that moment. Cancellation is checked before every
// attempt and every wait, and interrupts the wait itself.
func (m *Manager) attempts(ctx context.Context, key string, req Request, policy retry.Policy, prev rfc9111.Validators, progress func(string)) (response, Entry, error) {
	logger := m.log.With().Str("key", key).Logger()
	retries := policy.Attempts() - 1
	for i := 0; ; i++ {
		if err := ctx.Err(); err != nil {
			return response{}, Entry{}, cancelled(err)
		}
		logger.Trace().Int("attempt", i+1).Str("etag", prev.ETag).Msg("Sending request")
		res, err := m.attempt(ctx, req, prev)
		if err == nil && res.status == http.StatusNotModified {
			fallback, ok, loadErr := m.load(ctx, key)
			if loadErr != nil || !ok {
				return res, Entry{}, fmt.Errorf("%w: %s", ErrProtocolViolation, key)
			}
			return res, fallback, nil
		}
		if err == nil {
			return res, Entry{}, nil
		}
		if errors.Is(err, ErrCancelled) {
			return response{}, Entry{}, err
		}
		if i >= retries {
			logger.Warn().Err(err).Int("attempts", i+1).Msg("Giving up")
			return response{}, Entry{}, fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, i+1, err)
		}
		delay := policy.Wait(i)
		logger.Debug().Err(err).Dur("delay", delay).Msgf("Retrying (%d/%d)", i+1, retries)
		progress(fromRetrying(i+1, retries, delay))
		if err := retry.Sleep(ctx, delay); err != nil {
			return response{}, Entry{}, cancelled(err)
		}
	}
}

// freshness is the window written with a new entry.
func freshness(opts Options, header http.Header) time.Duration {
	if opts.ServerFreshness {
		if maxAge, ok := rfc9111.ParseCacheControl(header.Values("Cache-Control")).Seconds("max-age"); ok {
			return maxAge
		}
	}
	return opts.StaleTime
}
