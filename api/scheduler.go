/*
scheduler.go - Automated accrual and audit scheduler

PURPOSE:
  Periodically posts the current month's rent accruals and runs the bulk
  consistency scan, so the ledger stays current without manual runs.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - The monthly run is idempotent per tenancy and period, so checking more
    often than monthly posts nothing twice
  - Audit findings are logged; the scan mutates nothing

USAGE:
  scheduler := NewScheduler(poster, auditor, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: RunAccruals / AuditAccruals (the manual equivalents)
*/
package api

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/domus/housing-ledger/accrual"
	"github.com/domus/housing-ledger/correction"
	"github.com/domus/housing-ledger/ledger"
)

// Scheduler drives the periodic accrual run and audit scan.
type Scheduler struct {
	Poster        *accrual.Poster
	Auditor       *correction.Auditor
	CheckInterval time.Duration
	Enabled       bool
	Log           *zap.Logger

	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewScheduler creates a new scheduler with the default hourly interval.
func NewScheduler(poster *accrual.Poster, auditor *correction.Auditor, log *zap.Logger) *Scheduler {
	return &Scheduler{
		Poster:        poster,
		Auditor:       auditor,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		Log:           log,
		stop:          make(chan bool),
	}
}

// Start begins the scheduler.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.Log.Info("scheduler disabled, not starting")
		return
	}

	s.ticker = time.NewTicker(s.CheckInterval)
	s.wg.Add(1)

	go s.run()

	s.Log.Info("scheduler started", zap.Duration("check_interval", s.CheckInterval))
}

// Stop stops the scheduler. Safe to call more than once.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker == nil {
		return
	}
	s.ticker.Stop()
	s.ticker = nil
	close(s.stop)
	s.wg.Wait()
	s.Log.Info("scheduler stopped")
}

func (s *Scheduler) run() {
	defer s.wg.Done()

	// Run immediately on start
	s.checkAndProcess()

	for {
		select {
		case <-s.ticker.C:
			s.checkAndProcess()
		case <-s.stop:
			return
		}
	}
}

func (s *Scheduler) checkAndProcess() {
	ctx := context.Background()
	period := ledger.PeriodOf(time.Now())

	run, err := s.Poster.RunMonth(ctx, period)
	if err != nil {
		s.Log.Error("scheduled accrual run failed",
			zap.String("period", period.String()),
			zap.Error(err))
	} else if run.Posted > 0 || run.Failed > 0 {
		s.Log.Info("scheduled accrual run",
			zap.String("period", period.String()),
			zap.Int("posted", run.Posted),
			zap.Int("skipped", run.Skipped),
			zap.Int("failed", run.Failed))
	}

	report, err := s.Auditor.Scan(ctx, period)
	if err != nil {
		s.Log.Error("scheduled audit scan failed",
			zap.String("period", period.String()),
			zap.Error(err))
		return
	}
	if len(report.Flagged) > 0 {
		s.Log.Warn("audit scan found unreversed incorrect accruals",
			zap.String("period", period.String()),
			zap.Int("flagged", len(report.Flagged)))
	}
}

// RunNow triggers an immediate check (for testing/admin).
func (s *Scheduler) RunNow() {
	s.checkAndProcess()
}
