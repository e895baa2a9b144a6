package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
)

// Pinger is the probe surface of a tracked connection.
type Pinger interface {
	Ping(ctx context.Context) error
	Close(err error)
}

// Monitor periodically probes every open connection and force-closes the
// ones whose pong never arrives. A truly dead connection is reclaimed
// within roughly interval + probe timeout.
type Monitor struct {
	logger       *slog.Logger
	clk          clock.Clock
	interval     time.Duration
	probeTimeout time.Duration
	targets      func() []Pinger
}

func NewMonitor(logger *slog.Logger, clk clock.Clock, interval, probeTimeout time.Duration, targets func() []Pinger) *Monitor {
	return &Monitor{
		logger:       logger.With(slog.String("component", "liveness_monitor")),
		clk:          clk,
		interval:     interval,
		probeTimeout: probeTimeout,
		targets:      targets,
	}
}

// Run sweeps until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := m.clk.Ticker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep(ctx)
		}
	}
}

// sweep probes each connection on its own goroutine so one stalled pong
// cannot delay the rest of the sweep.
func (m *Monitor) sweep(ctx context.Context) {
	for _, p := range m.targets() {
		go func(p Pinger) {
			probeCtx, cancel := context.WithTimeout(ctx, m.probeTimeout)
			defer cancel()

			if err := p.Ping(probeCtx); err != nil {
				m.logger.Warn("Liveness probe unanswered, terminating connection", slog.Any("error", err))
				p.Close(fmt.Errorf("stale connection: %w", err))
			}
		}(p)
	}
}
