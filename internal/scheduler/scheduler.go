// Package scheduler hosts the periodic background jobs: the due-payment batch
// executor, the overdue-bill sweep, and the confirmation-state sweeper. Each
// job is a plain ticker loop that exits when its context is cancelled; the
// heavy lifting lives in the services the jobs delegate to.
package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/wells/bill-assistant-backend/internal/guard"
	"github.com/wells/bill-assistant-backend/internal/services"
)

// Defaults for job cadence.
const (
	DefaultExecutorInterval = time.Minute
	DefaultSweepInterval    = time.Hour
)

// PaymentExecutor periodically executes every scheduled payment whose due
// date has arrived.
type PaymentExecutor struct {
	Scheduled *services.ScheduledPaymentService
	Interval  time.Duration
}

// Run executes due payments on each tick until ctx is cancelled.
func (e *PaymentExecutor) Run(ctx context.Context) {
	interval := e.Interval
	if interval <= 0 {
		interval = DefaultExecutorInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Info().Dur("interval", interval).Msg("scheduled payment executor started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("scheduled payment executor stopped")
			return
		case <-ticker.C:
			if _, err := e.Scheduled.ExecuteDue(ctx, time.Now().UTC()); err != nil {
				log.Error().Err(err).Msg("scheduled payment batch failed")
			}
		}
	}
}

// BillOverdueSweeper periodically flips bills past their due date to OVERDUE.
type BillOverdueSweeper struct {
	Bills    *services.BillService
	Interval time.Duration
}

// Run sweeps on each tick until ctx is cancelled.
func (s *BillOverdueSweeper) Run(ctx context.Context) {
	interval := s.Interval
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Info().Dur("interval", interval).Msg("overdue bill sweeper started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("overdue bill sweeper stopped")
			return
		case <-ticker.C:
			if _, err := s.Bills.SweepOverdue(ctx, time.Now().UTC()); err != nil {
				log.Error().Err(err).Msg("overdue bill sweep failed")
			}
		}
	}
}

// StateSweeper evicts expired confirmation markers from an in-memory guard
// store. Redis-backed stores expire keys natively and do not need this job.
type StateSweeper struct {
	Store    *guard.MemoryStore
	Interval time.Duration
}

// Run sweeps on each tick until ctx is cancelled.
func (s *StateSweeper) Run(ctx context.Context) {
	interval := s.Interval
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Store.Sweep(); n > 0 {
				log.Debug().Int("evicted", n).Msg("swept expired conversation state")
			}
		}
	}
}
