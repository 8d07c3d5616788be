/*
scheduler.go - Automated monthly billing run

PURPOSE:
  Periodically imports the bookings of the previous and current months and
  issues the invoices of the previous month. Every step is idempotent, so
  running it every hour only does work once per month plus whatever new
  bookings appeared since the last run.

DESIGN:
  - Runs a background goroutine with a configurable check interval
  - Runs once immediately on start
  - The previous month is imported before its invoices are generated, so the
    first run of a month sees its final calendar

CONFIGURATION:
  - CheckInterval: How often to run (default: 1 hour)
  - Upload: Whether new invoices are uploaded

USAGE:
  scheduler := NewBillingScheduler(engine, source, log)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: ImportBookings and GenerateInvoices endpoints (manual runs)
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/grandcedre/billing/billing"
	"go.uber.org/zap"
)

// BillingScheduler runs imports and invoice generation in the background.
type BillingScheduler struct {
	Engine        *billing.Engine
	Source        billing.CalendarSource
	CheckInterval time.Duration
	Upload        bool

	log    *zap.Logger
	now    func() time.Time
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

func NewBillingScheduler(engine *billing.Engine, source billing.CalendarSource, log *zap.Logger) *BillingScheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &BillingScheduler{
		Engine:        engine,
		Source:        source,
		CheckInterval: time.Hour,
		log:           log.Named("scheduler"),
		now:           time.Now,
	}
}

// Start begins the scheduler.
func (s *BillingScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.CheckInterval)
	s.stop = make(chan struct{})
	s.wg.Add(1)
	go s.run()

	s.log.Info("scheduler started", zap.Duration("interval", s.CheckInterval))
}

// Stop stops the scheduler and waits for a running batch to finish.
func (s *BillingScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ticker == nil {
		return
	}
	s.ticker.Stop()
	close(s.stop)
	s.wg.Wait()
	s.ticker = nil
	s.log.Info("scheduler stopped")
}

func (s *BillingScheduler) run() {
	defer s.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-s.stop
		cancel()
	}()

	s.RunOnce(ctx)
	for {
		select {
		case <-s.ticker.C:
			s.RunOnce(ctx)
		case <-s.stop:
			return
		}
	}
}

// RunOnce imports the previous and current months, then generates the
// invoices of the previous month. Errors are logged, the next tick retries.
func (s *BillingScheduler) RunOnce(ctx context.Context) {
	now := s.now()
	previous := billing.PreviousPeriod(now)

	for _, p := range []billing.Period{previous, billing.PeriodOf(now)} {
		report, err := s.Engine.ImportBookings(ctx, s.Source, p)
		if err != nil {
			s.log.Error("scheduled import failed", zap.Stringer("period", p), zap.Error(err))
			return
		}
		s.log.Info("scheduled import done", zap.Stringer("period", p),
			zap.Int("created", len(report.Created)),
			zap.Int("existing", len(report.Existing)),
			zap.Int("unpriced", len(report.Unpriced)),
			zap.Int("no_contract", len(report.NoContract)))
	}

	report, err := s.Engine.GenerateInvoices(ctx, previous, s.Upload)
	if err != nil {
		s.log.Error("scheduled invoice generation failed", zap.Stringer("period", previous), zap.Error(err))
		return
	}
	s.log.Info("scheduled invoice generation done", zap.Stringer("period", previous),
		zap.Int("created", len(report.Created)),
		zap.Int("existing", len(report.Existing)),
		zap.Int("failed_uploads", len(report.Failed)))
}
