package connectivity

import (
	"context"
	"time"

	"github.com/squadup/mobilecore/internal/logging"
)

// ProbeFunc checks server reachability; nil means online.
type ProbeFunc func(ctx context.Context) error

// Prober drives a Hub from a periodic liveness probe.
type Prober struct {
	hub      *Hub
	probe    ProbeFunc
	interval time.Duration
	timeout  time.Duration
	log      logging.Logger
}

func NewProber(hub *Hub, probe ProbeFunc, interval time.Duration, log logging.Logger) *Prober {
	if log == nil {
		log = logging.NewNop()
	}
	return &Prober{hub: hub, probe: probe, interval: interval, timeout: 3 * time.Second, log: log}
}

// Run probes once immediately, then on every tick until ctx is done.
func (p *Prober) Run(ctx context.Context) {
	p.check(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.check(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (p *Prober) check(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, p.timeout)
	err := p.probe(probeCtx)
	cancel()

	online := err == nil
	if online != p.hub.Online() {
		p.log.Info(ctx, "connectivity changed", "online", online)
	}
	p.hub.Set(online)
}
