package netstatus

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"digidex/internal/logging"
)

const (
	DefaultProbeInterval = 30 * time.Second
	DefaultProbeTimeout  = 5 * time.Second
)

// ProbeOptions configure an HTTPProbe.
type ProbeOptions struct {
	URL      string
	Interval time.Duration
	Timeout  time.Duration
	Client   *http.Client
	Logger   *slog.Logger
}

// HTTPProbe derives connectivity from a HEAD request against URL. With no
// URL it always reports an unknown connected status.
type HTTPProbe struct {
	url      string
	interval time.Duration
	client   *http.Client
	log      *slog.Logger

	mu   sync.Mutex
	last Status
	subs listeners

	lifecycle sync.Mutex
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

func NewHTTPProbe(opts ProbeOptions) *HTTPProbe {
	if opts.Interval <= 0 {
		opts.Interval = DefaultProbeInterval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultProbeTimeout
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	return &HTTPProbe{
		url:      opts.URL,
		interval: opts.Interval,
		client:   client,
		log:      logging.OrNop(opts.Logger).With("component", "netstatus"),
		last:     Status{Connected: true, Type: TypeUnknown},
	}
}

func (p *HTTPProbe) Fetch(ctx context.Context) (Status, error) {
	if p.url == "" {
		return Status{Connected: true, Type: TypeUnknown}, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.url, nil)
	if err != nil {
		return Status{}, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Status{}, ctx.Err()
		}
		return Disconnected(), nil
	}
	resp.Body.Close()
	return Online(), nil
}

func (p *HTTPProbe) Subscribe(fn Listener) func() {
	return p.subs.add(fn)
}

// Poll fetches once and notifies subscribers when the status changed.
func (p *HTTPProbe) Poll(ctx context.Context) {
	s, err := p.Fetch(ctx)
	if err != nil {
		p.log.Debug("probe failed", "error", err)
		return
	}
	p.mu.Lock()
	changed := p.last != s
	p.last = s
	p.mu.Unlock()
	if changed {
		p.log.Info("connectivity changed", "connected", s.Connected, "type", s.Type)
		p.subs.notify(s)
	}
}

// Start polls every interval until Stop or ctx ends.
func (p *HTTPProbe) Start(ctx context.Context) {
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()
	if p.stopCh != nil || p.url == "" {
		return
	}
	stop := make(chan struct{})
	p.stopCh = stop
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		p.Poll(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				p.Poll(ctx)
			}
		}
	}()
}

func (p *HTTPProbe) Stop() {
	p.lifecycle.Lock()
	stop := p.stopCh
	p.stopCh = nil
	p.lifecycle.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	p.wg.Wait()
}
