// Package jobs holds the background tickers: the registry sweep that drives
// time-based session transitions and the reconcile loop that retries parked
// charges.
package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/consultwise/session-server-go/internal/registry"
)

type SweepJob struct {
	registry *registry.Registry
	interval time.Duration
	done     chan struct{}
}

func NewSweepJob(reg *registry.Registry, interval time.Duration) *SweepJob {
	return &SweepJob{
		registry: reg,
		interval: interval,
		done:     make(chan struct{}),
	}
}

func (j *SweepJob) Start() {
	go j.run()
	log.Info().Dur("interval", j.interval).Msg("sweep job started")
}

func (j *SweepJob) Stop() {
	close(j.done)
	log.Info().Msg("sweep job stopped")
}

func (j *SweepJob) run() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.registry.Sweep(context.Background())
		}
	}
}
