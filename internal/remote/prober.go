package remote

import (
	"context"
	"log"
	"os"
	"sync"
	"time"
)

// Prober answers "is the remote store reachable right now?" without
// hammering the network: one short probe, then a cached answer for a
// fixed window. Negative results are cached for the same window, so an
// offline device doesn't pay a timeout on every write.
//
// All state lives on the instance; tests construct a fresh Prober per
// case.
type Prober struct {
	client *Client
	window time.Duration
	probe  time.Duration
	logger *log.Logger

	mu        sync.Mutex
	available bool
	checkedAt time.Time
}

// NewProber creates a prober over the given client. Zero durations get
// the defaults: a 30s cache window and a 2s probe timeout.
func NewProber(client *Client, window, probeTimeout time.Duration, logger *log.Logger) *Prober {
	if window == 0 {
		window = 30 * time.Second
	}
	if probeTimeout == 0 {
		probeTimeout = 2 * time.Second
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[probe] ", log.LstdFlags)
	}

	return &Prober{
		client: client,
		window: window,
		probe:  probeTimeout,
		logger: logger,
	}
}

// IsAvailable reports reachability, probing at most once per cache
// window. Timeouts and network errors read as unavailable, never as
// errors.
func (p *Prober) IsAvailable(ctx context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.checkedAt.IsZero() && time.Since(p.checkedAt) < p.window {
		return p.available
	}

	probeCtx, cancel := context.WithTimeout(ctx, p.probe)
	defer cancel()

	err := p.client.Health(probeCtx)
	p.available = err == nil
	p.checkedAt = time.Now()

	if err != nil {
		p.logger.Printf("Remote store unreachable: %v", err)
	}
	return p.available
}

// Reset discards the cached answer so the next IsAvailable call probes
// fresh. Called after operations that materially change remote state,
// like a clear.
func (p *Prober) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.checkedAt = time.Time{}
}
