// Package server serves an Authority over HTTP.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"

	"github.com/always-cache/condfetch/authority"
	"github.com/always-cache/condfetch/metrics"
	"github.com/always-cache/condfetch/rfc9111"
)

const maxPatchBytes = 1 << 20

type Config struct {
	Authority *authority.Authority
	// Optional collectors for served responses.
	Metrics *metrics.Server
	// Source of the /metrics endpoint. The endpoint is not mounted if nil.
	Gatherer prometheus.Gatherer
	// Logger to use. The global zerolog logger is used if nil.
	Logger *zerolog.Logger
}

type Server struct {
	authority *authority.Authority
	metrics   *metrics.Server
	log       zerolog.Logger
	router    chi.Router
}

func New(cfg Config) (*Server, error) {
	if cfg.Authority == nil {
		return nil, errors.New("server: authority is required")
	}
	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	s := &Server{
		authority: cfg.Authority,
		metrics:   cfg.Metrics,
		log:       logger.With().Str("component", "server").Logger(),
	}

	r := chi.NewRouter()
	r.Use(hlog.NewHandler(s.log))
	r.Use(hlog.RequestIDHandler("req_id", "X-Request-Id"))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Debug().
			Str("method", r.Method).
			Str("url", r.URL.String()).
			Str("if-none-match", r.Header.Get("If-None-Match")).
			Str("if-modified-since", r.Header.Get("If-Modified-Since")).
			Str("accept-language", r.Header.Get("Accept-Language")).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("Request")
	}))
	r.Use(s.recover)
	r.Use(middleware.GetHead)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	if cfg.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(cfg.Gatherer))
	}
	r.Get("/api/{resource}", s.read)
	r.Put("/api/{resource}", s.update)
	s.router = r
	return s, nil
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) read(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "resource")
	res, err := s.authority.Read(r.Context(), authority.ReadRequest{
		Resource:      name,
		Preconditions: rfc9111.ReadPreconditions(r.Header),
		Header:        r.Header,
	})
	if err != nil {
		s.writeError(w, r, name, err)
		return
	}
	res.WriteHeaders(w.Header())
	w.WriteHeader(res.Status)
	if res.Body != nil {
		if _, err := w.Write(res.Body); err != nil {
			hlog.FromRequest(r).Error().Err(err).Msg("Could not write response body to client")
		}
	}
	s.metrics.Response(name, res.Status)
}

func (s *Server) update(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "resource")
	patch, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPatchBytes))
	if err != nil {
		s.writeError(w, r, name, fmt.Errorf("%w: %v", authority.ErrInvalidPatch, err))
		return
	}
	result, err := s.authority.Update(r.Context(), name, patch)
	if err != nil {
		s.writeError(w, r, name, err)
		return
	}
	s.metrics.Write(name)

	body := map[string]any{
		"ok":                        true,
		result.Resource.FieldName(): result.Content,
		"serverVersion":             result.Version,
		"now":                       result.Now.UnixMilli(),
	}
	s.writeJSON(w, r, name, http.StatusOK, body)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, name string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, authority.ErrUnknownResource):
		status = http.StatusNotFound
	case errors.Is(err, authority.ErrInvalidPatch):
		status = http.StatusBadRequest
	case errors.Is(err, authority.ErrReadOnly):
		status = http.StatusMethodNotAllowed
		w.Header().Set("Allow", "GET, HEAD")
	}
	if status == http.StatusInternalServerError {
		hlog.FromRequest(r).Error().Err(err).Str("resource", name).Msg("Request failed")
	} else {
		hlog.FromRequest(r).Debug().Err(err).Str("resource", name).Msg("Request rejected")
	}
	s.writeJSON(w, r, name, status, map[string]any{"ok": false, "error": err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, name string, status int, body any) {
	b, err := json.Marshal(body)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("Could not encode response")
		status = http.StatusInternalServerError
		b = []byte(`{"ok":false}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(b)
	s.metrics.Response(name, status)
}

// recover turns panics into 500 responses.
func (s *Server) recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				if err == http.ErrAbortHandler {
					panic(err)
				}
				hlog.FromRequest(r).WithLevel(zerolog.PanicLevel).
					Interface("error", err).
					Bytes("stack", debug.Stack()).
					Msg("Panic in handler")
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
