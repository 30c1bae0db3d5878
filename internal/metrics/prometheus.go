package metrics

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mrz1836/replisync/internal/session"
)

const namespace = "replisync"

// Collector exposes a Metrics value as Prometheus metrics.
type Collector struct {
	m *Metrics

	transitions  *prometheus.Desc
	stateEntries *prometheus.Desc
	stateCurrent *prometheus.Desc
	authCalls    *prometheus.Desc
	authErrors   *prometheus.Desc
	authLatency  *prometheus.Desc
	events       *prometheus.Desc
}

// NewCollector returns a collector reading from m.
func NewCollector(m *Metrics) *Collector {
	return &Collector{
		m: m,
		transitions: prometheus.NewDesc(namespace+"_transitions_total",
			"States entered by the session.", nil, nil),
		stateEntries: prometheus.NewDesc(namespace+"_state_entries_total",
			"Times each state was entered.", []string{"state"}, nil),
		stateCurrent: prometheus.NewDesc(namespace+"_state",
			"1 for the current session state, 0 otherwise.", []string{"state"}, nil),
		authCalls: prometheus.NewDesc(namespace+"_auth_calls_total",
			"Authentication round trips.", nil, nil),
		authErrors: prometheus.NewDesc(namespace+"_auth_errors_total",
			"Authentication round trips that failed.", nil, nil),
		authLatency: prometheus.NewDesc(namespace+"_auth_latency_seconds_total",
			"Total time spent in authentication round trips.", nil, nil),
		events: prometheus.NewDesc(namespace+"_events_total",
			"Session events by type.", []string{"type"}, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.transitions
	ch <- c.stateEntries
	ch <- c.stateCurrent
	ch <- c.authCalls
	ch <- c.authErrors
	ch <- c.authLatency
	ch <- c.events
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.m.Snapshot()

	ch <- prometheus.MustNewConstMetric(c.transitions, prometheus.CounterValue, float64(snap.TransitionsTotal))
	for _, st := range session.States() {
		name := st.String()
		ch <- prometheus.MustNewConstMetric(c.stateEntries, prometheus.CounterValue, float64(snap.StateEntries[st]), name)

		current := 0.0
		if st == snap.CurrentState {
			current = 1
		}
		ch <- prometheus.MustNewConstMetric(c.stateCurrent, prometheus.GaugeValue, current, name)
	}

	ch <- prometheus.MustNewConstMetric(c.authCalls, prometheus.CounterValue, float64(snap.AuthCallsTotal))
	ch <- prometheus.MustNewConstMetric(c.authErrors, prometheus.CounterValue, float64(snap.AuthErrorsTotal))
	ch <- prometheus.MustNewConstMetric(c.authLatency, prometheus.CounterValue,
		time.Duration(snap.AuthLatencyNanos).Seconds())

	for typ, v := range map[session.EventType]int64{
		session.EventAuthSucceeded:  snap.AuthSucceeded,
		session.EventAuthFailed:     snap.AuthFailed,
		session.EventAuthRejected:   snap.AuthRejected,
		session.EventTokenRefreshed: snap.TokensRefreshed,
		session.EventBindFailed:     snap.BindFailures,
		session.EventError:          snap.ErrorsTotal,
	} {
		ch <- prometheus.MustNewConstMetric(c.events, prometheus.CounterValue, float64(v), string(typ))
	}
}

// Handler returns an HTTP handler serving m on a private registry, together
// with the Go runtime collectors.
func Handler(m *Metrics) (http.Handler, error) {
	reg := prometheus.NewRegistry()
	for _, col := range []prometheus.Collector{
		NewCollector(m),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := reg.Register(col); err != nil {
			return nil, fmt.Errorf("registering collector: %w", err)
		}
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), nil
}

// Server serves /metrics.
type Server struct {
	server   *http.Server
	listener net.Listener
}

// Serve starts an HTTP server for m on addr.
func Serve(m *Metrics, addr string) (*Server, error) {
	h, err := Handler(m)
	if err != nil {
		return nil, err
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", h)

	s := &Server{
		listener: ln,
		server:   &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second},
	}
	go func() { _ = s.server.Serve(ln) }()
	return s, nil
}

// Addr returns the bound address.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// URL returns the scrape URL.
func (s *Server) URL() string {
	addr := s.Addr()
	if strings.HasPrefix(addr, "[::]") || strings.HasPrefix(addr, "0.0.0.0") {
		_, port, _ := net.SplitHostPort(addr)
		addr = net.JoinHostPort("localhost", port)
	}
	return "http://" + addr + "/metrics"
}

// Close stops the server.
func (s *Server) Close() error {
	return s.server.Close()
}
