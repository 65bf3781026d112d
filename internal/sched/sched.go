// Package sched runs the periodic retrain sweep: a fixed-interval ticker
// that re-evaluates the retrain trigger so corpora that grow slowly still
// get retrained eventually. The sweep can be toggled at runtime through
// the HTTP API without stopping the ticker.
package sched

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultInterval is the sweep period when none is configured.
const DefaultInterval = 168 * time.Hour

// TriggerFunc evaluates the retrain trigger. Returns whether a job was
// scheduled.
type TriggerFunc func(ctx context.Context) (bool, error)

// Sweeper periodically invokes a trigger function while enabled.
type Sweeper struct {
	interval time.Duration
	trigger  TriggerFunc
	log      *slog.Logger

	mu      sync.Mutex
	enabled bool

	done chan struct{}
}

// New builds a Sweeper. Call Start exactly once.
func New(interval time.Duration, trigger TriggerFunc, enabled bool, log *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{
		interval: interval,
		trigger:  trigger,
		log:      log,
		enabled:  enabled,
		done:     make(chan struct{}),
	}
}

// Start launches the ticker goroutine. It runs until ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sweep(ctx)
			}
		}
	}()
}

func (s *Sweeper) sweep(ctx context.Context) {
	if !s.Enabled() {
		return
	}
	triggered, err := s.trigger(ctx)
	if err != nil {
		s.log.Warn("sched: sweep trigger failed", "error", err)
		return
	}
	s.log.Info("sched: sweep complete", "retrain_triggered", triggered)
}

// Enable turns the sweep on.
func (s *Sweeper) Enable() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = true
}

// Disable turns the sweep off; the ticker keeps running so a later Enable
// takes effect on the next tick.
func (s *Sweeper) Disable() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = false
}

// Enabled reports the current toggle state.
func (s *Sweeper) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// Wait blocks until the ticker goroutine has exited.
func (s *Sweeper) Wait() {
	<-s.done
}
