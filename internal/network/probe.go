package network

import (
	"context"
	"errors"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"
)

// Probe defaults.
const (
	DefaultProbeInterval = 5 * time.Second
	DefaultProbeTimeout  = 3 * time.Second
)

// ErrNoProbeAddress is returned when no host can be derived for probing.
var ErrNoProbeAddress = errors.New("no probe address")

// DialFunc opens a connection; it matches net.Dialer.DialContext.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// ProbeWatcher is a Watcher that periodically dials a TCP address.
type ProbeWatcher struct {
	*Monitor

	address  string
	interval time.Duration
	timeout  time.Duration
	dial     DialFunc

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// ProbeOption configures a ProbeWatcher.
type ProbeOption func(*ProbeWatcher)

// WithInterval sets how often the address is probed.
func WithInterval(d time.Duration) ProbeOption {
	return func(p *ProbeWatcher) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithTimeout sets the dial timeout of a single probe.
func WithTimeout(d time.Duration) ProbeOption {
	return func(p *ProbeWatcher) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithDialer replaces the dial function.
func WithDialer(dial DialFunc) ProbeOption {
	return func(p *ProbeWatcher) {
		p.dial = dial
	}
}

// NewProbeWatcher creates a watcher for address (host:port). It reports
// offline until the first probe succeeds.
func NewProbeWatcher(address string, opts ...ProbeOption) *ProbeWatcher {
	p := &ProbeWatcher{
		Monitor:  NewMonitor(false),
		address:  address,
		interval: DefaultProbeInterval,
		timeout:  DefaultProbeTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.dial == nil {
		d := &net.Dialer{}
		p.dial = d.DialContext
	}
	return p
}

// Start probes once synchronously, then keeps probing in the background
// until Stop or ctx is done.
func (p *ProbeWatcher) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	p.running = true
	p.cancel = cancel
	p.done = make(chan struct{})
	done := p.done
	p.mu.Unlock()

	p.SetOnline(p.probe(ctx))

	go func() {
		defer close(done)
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.SetOnline(p.probe(ctx))
			}
		}
	}()
}

// Stop halts probing and waits for the background loop to exit.
func (p *ProbeWatcher) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	cancel, done := p.cancel, p.done
	p.mu.Unlock()

	cancel()
	<-done
}

// IsRunning reports whether the probe loop is active.
func (p *ProbeWatcher) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *ProbeWatcher) probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	conn, err := p.dial(ctx, "tcp", p.address)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// ProbeAddress derives a host:port to probe from a service URL.
func ProbeAddress(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", err
	}
	host := u.Hostname()
	if host == "" {
		return "", ErrNoProbeAddress
	}

	port := u.Port()
	if port == "" {
		switch strings.ToLower(u.Scheme) {
		case "http", "ws":
			port = "80"
		default: // https, wss, libsql
			port = "443"
		}
	}
	return net.JoinHostPort(host, port), nil
}
