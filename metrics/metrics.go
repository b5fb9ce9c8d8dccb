// Package metrics exposes Prometheus collectors for the authority server and
// the client cache manager. Collectors are registered on a caller-owned
// registerer so several instances can coexist in tests.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "condfetch"

// NewRegistry returns a registry with the Go and process collectors.
func NewRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return registry
}

// Handler serves the exposition format for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

type Server struct {
	responses *prometheus.CounterVec
	writes    *prometheus.CounterVec
}

func NewServer(reg prometheus.Registerer) (*Server, error) {
	s := &Server{
		responses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "responses_total",
			Help:      "Responses sent, by resource and status code.",
		}, []string{"resource", "status"}),
		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "writes_total",
			Help:      "Resource writes, by resource.",
		}, []string{"resource"}),
	}
	for _, c := range []prometheus.Collector{s.responses, s.writes} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Response counts one response. A nil Server is a no-op.
func (s *Server) Response(resource string, status int) {
	if s == nil {
		return
	}
	s.responses.WithLabelValues(resource, strconv.Itoa(status)).Inc()
}

func (s *Server) Write(resource string) {
	if s == nil {
		return
	}
	s.writes.WithLabelValues(resource).Inc()
}

type Client struct {
	fetches  *prometheus.CounterVec
	attempts *prometheus.CounterVec
	inflight prometheus.Gauge
}

func NewClient(reg prometheus.Registerer) (*Client, error) {
	c := &Client{
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "fetches_total",
			Help:      "Completed fetches, by how they were satisfied.",
		}, []string{"outcome"}),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "network_attempts_total",
			Help:      "Network attempts, by result.",
		}, []string{"result"}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "inflight_calls",
			Help:      "Network calls currently registered for de-duplication.",
		}),
	}
	for _, col := range []prometheus.Collector{c.fetches, c.attempts, c.inflight} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Fetch counts a fetch outcome. A nil Client is a no-op.
func (c *Client) Fetch(outcome string) {
	if c == nil {
		return
	}
	c.fetches.WithLabelValues(outcome).Inc()
}

// Attempt counts a network attempt; result is a status code or "error".
func (c *Client) Attempt(result string) {
	if c == nil {
		return
	}
	c.attempts.WithLabelValues(result).Inc()
}

// InFlight adjusts the number of registered calls by delta.
func (c *Client) InFlight(delta int) {
	if c == nil {
		return
	}
	c.inflight.Add(float64(delta))
}
