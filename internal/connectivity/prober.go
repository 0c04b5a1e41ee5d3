package connectivity

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sitecrew/worksync/internal/logging"
)

// Mode pins connectivity or leaves it to probing.
type Mode string

const (
	ModeAuto    Mode = "auto"
	ModeOnline  Mode = "online"
	ModeOffline Mode = "offline"
)

// ParseMode validates a configured mode; empty means auto.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeAuto, "":
		return ModeAuto, nil
	case ModeOnline:
		return ModeOnline, nil
	case ModeOffline:
		return ModeOffline, nil
	}
	return ModeAuto, fmt.Errorf("unknown connectivity mode %q", s)
}

// ProberConfig holds probe settings.
type ProberConfig struct {
	URL              string
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold int // consecutive failures before reporting offline
	Mode             Mode
}

// DefaultProberConfig returns default probe settings.
func DefaultProberConfig() ProberConfig {
	return ProberConfig{
		Interval:         10 * time.Second,
		Timeout:          3 * time.Second,
		FailureThreshold: 2,
		Mode:             ModeAuto,
	}
}

// Prober polls a health URL and feeds the result into a Monitor.
type Prober struct {
	monitor  *Monitor
	url      string
	interval time.Duration
	client   *http.Client

	mu        sync.Mutex
	mode      Mode
	threshold int
	failures  int
	running   bool
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// NewProber creates a Prober. Zero config fields take their defaults.
func NewProber(monitor *Monitor, cfg ProberConfig) *Prober {
	def := DefaultProberConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeAuto
	}
	return &Prober{
		monitor:   monitor,
		url:       cfg.URL,
		interval:  cfg.Interval,
		client:    &http.Client{Timeout: cfg.Timeout},
		mode:      cfg.Mode,
		threshold: cfg.FailureThreshold,
	}
}

// Mode returns the current mode.
func (p *Prober) Mode() Mode {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mode
}

// SetMode changes the mode and applies pinned states immediately.
func (p *Prober) SetMode(mode Mode) {
	p.mu.Lock()
	p.mode = mode
	p.failures = 0
	p.mu.Unlock()

	switch mode {
	case ModeOnline:
		p.monitor.SetOnline(true)
	case ModeOffline:
		p.monitor.SetOnline(false)
	}
}

// Probe runs one check and updates the monitor. It returns the state it
// reported; pinned modes skip the network.
func (p *Prober) Probe(ctx context.Context) bool {
	switch p.Mode() {
	case ModeOnline:
		p.monitor.SetOnline(true)
		return true
	case ModeOffline:
		p.monitor.SetOnline(false)
		return false
	}

	reachable := p.check(ctx)

	p.mu.Lock()
	if reachable {
		p.failures = 0
	} else {
		p.failures++
	}
	online := reachable || (p.failures < p.threshold && p.monitor.IsOnline())
	p.mu.Unlock()

	p.monitor.SetOnline(online)
	return online
}

// check reports whether the backend answered without a server error.
func (p *Prober) check(ctx context.Context) bool {
	if p.url == "" {
		return true
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		logging.Debug("Connectivity probe failed", map[string]interface{}{"url": p.url, "error": err.Error()})
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < http.StatusInternalServerError
}

// Start probes immediately and then on every interval until Stop or ctx ends.
func (p *Prober) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.mu.Unlock()

	p.wg.Add(1)
	go p.loop(ctx)
}

// Stop stops the probe loop and waits for it to exit.
func (p *Prober) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopCh)
	p.mu.Unlock()

	p.wg.Wait()
	p.client.CloseIdleConnections()
}

func (p *Prober) loop(ctx context.Context) {
	defer p.wg.Done()

	p.mu.Lock()
	stopCh := p.stopCh
	p.mu.Unlock()

	p.Probe(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			p.Probe(ctx)
		}
	}
}
