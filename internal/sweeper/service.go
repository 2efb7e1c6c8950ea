// Package sweeper releases resources abandoned by clients that went away
// without cleaning up: open cameras, pending payloads and unread results.
package sweeper

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// SweepInterval is the time between sweeps.
	SweepInterval = time.Minute

	// DefaultFlowIdleTimeout is how long a capture flow may sit untouched.
	DefaultFlowIdleTimeout = 10 * time.Minute

	// HandoffMaxAge is how long an unread result is kept.
	HandoffMaxAge = 15 * time.Minute
)

// FlowReleaser is implemented by capture.Flows.
type FlowReleaser interface {
	ReleaseIdle(maxIdle time.Duration) int
}

// HandoffPruner is implemented by handoff.Store.
type HandoffPruner interface {
	Prune(maxAge time.Duration) int
}

// Service periodically sweeps idle flows and stale handoffs.
type Service struct {
	flows    FlowReleaser
	handoffs HandoffPruner
	idle     time.Duration
	interval time.Duration
}

func NewService(flows FlowReleaser, handoffs HandoffPruner, idle time.Duration) *Service {
	if idle <= 0 {
		idle = DefaultFlowIdleTimeout
	}
	return &Service{
		flows:    flows,
		handoffs: handoffs,
		idle:     idle,
		interval: SweepInterval,
	}
}

// Run sweeps until the context is cancelled.
func (s *Service) Run(ctx context.Context) {
	log.Info().Dur("interval", s.interval).Dur("idle_timeout", s.idle).Msg("starting sweeper")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("sweeper stopped")
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Sweep runs one cycle.
func (s *Service) Sweep() {
	flows := s.flows.ReleaseIdle(s.idle)
	handoffs := s.handoffs.Prune(HandoffMaxAge)
	if flows > 0 || handoffs > 0 {
		log.Debug().Int("flows", flows).Int("handoffs", handoffs).Msg("sweep complete")
	}
}
