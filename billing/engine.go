package billing

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// =============================================================================
// ENGINE - Entry point wiring the catalog, ledger, aggregator and generator
// =============================================================================

// Engine is what the CLI and the HTTP API drive.
type Engine struct {
	Store      Store
	Catalog    *Catalog
	Ledger     *Ledger
	Aggregator *Aggregator
	Generator  *Generator
	Reporter   *Reporter

	log *zap.Logger
	now func() time.Time
}

func NewEngine(store Store, log *zap.Logger, opts ...GeneratorOption) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	catalog := NewCatalog(store)
	ledger := NewLedger(store, log)
	generator := NewGenerator(store, log, opts...)
	return &Engine{
		Store:      store,
		Catalog:    catalog,
		Ledger:     ledger,
		Aggregator: NewAggregator(store, catalog, ledger, log),
		Generator:  generator,
		Reporter:   NewReporter(store, generator),
		log:        log,
		now:        time.Now,
	}
}

// SetClock replaces time.Now, for tests and back-dated runs.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// =============================================================================
// DATA ENTRY
// =============================================================================

func (e *Engine) CreateClient(ctx context.Context, c *Client) error {
	c.Email = strings.ToLower(strings.TrimSpace(c.Email))
	if c.Email == "" {
		return fmt.Errorf("%w: client email is required", ErrInvalidClient)
	}
	return e.Store.CreateClient(ctx, c)
}

func (e *Engine) AddPricing(ctx context.Context, p *Pricing) error {
	if err := p.Validate(); err != nil {
		return err
	}
	return e.Store.CreatePricing(ctx, p)
}

func (e *Engine) AddExpense(ctx context.Context, x *Expense) error {
	if x.Date.IsZero() || strings.TrimSpace(x.Label) == "" {
		return fmt.Errorf("%w: expense needs a date and a label", ErrInvalidExpense)
	}
	x.Date = Day(x.Date)
	x.Price = Quantize(x.Price)
	return e.Store.CreateExpense(ctx, x)
}

// CreateContract validates c and resolves the prices fixed at creation:
// the recurring monthly price and the flat-rate plan.
func (e *Engine) CreateContract(ctx context.Context, c *Contract) error {
	if c.Terms == nil {
		c.Terms = StandardTerms{}
	}
	c.StartDate = Day(c.StartDate)
	if err := c.Validate(); err != nil {
		return err
	}
	if _, err := e.Store.GetClient(ctx, c.ClientID); err != nil {
		return fmt.Errorf("contract client %d: %w", c.ClientID, err)
	}

	switch t := c.Terms.(type) {
	case RecurringTerms:
		p, err := e.Catalog.Resolve(ctx, ContractRecurring, c.RoomType, decimal.NewFromInt(int64(t.WeeklyHours)), c.StartDate)
		if err != nil {
			return err
		}
		t.PricingID = p.ID
		t.MonthlyPrice = Quantize(p.MonthlyPrice)
		c.Terms = t
	case FlatRateTerms:
		p, err := e.Catalog.Resolve(ctx, ContractFlatRate, c.RoomType, decimal.Zero, c.StartDate)
		if err != nil {
			return err
		}
		t.PricingID = p.ID
		t.FlatRate = p.FlatRate
		t.PrepaidHours = p.PrepaidHours
		if t.TotalHours.IsZero() {
			t.TotalHours = decimal.NewFromInt(int64(p.PrepaidHours))
		}
		if t.RemainingHours.IsZero() && !t.RemainingGiven {
			t.RemainingHours = t.TotalHours
		}
		t.RemainingGiven = false
		t.TotalHours = Quantize(t.TotalHours)
		t.RemainingHours = Quantize(t.RemainingHours)
		c.Terms = t
	case StandardTerms, OneShotTerms, ExchangeTerms:
	}

	if err := e.Store.CreateContract(ctx, c); err != nil {
		return err
	}
	e.log.Info("created contract", zap.Stringer("contract", c))
	return nil
}

// =============================================================================
// BATCH OPERATIONS
// =============================================================================

// ImportBookings imports the bookings of period.
func (e *Engine) ImportBookings(ctx context.Context, source CalendarSource, period Period) (ImportReport, error) {
	if period.IsZero() {
		period = PeriodOf(e.now())
	}
	// The calendar range is inclusive of the whole last day.
	return e.Aggregator.Import(ctx, source, period.Start(), period.End().AddDate(0, 0, 1))
}

// GenerateInvoices issues the invoices of period, by default the previous month.
func (e *Engine) GenerateInvoices(ctx context.Context, period Period, upload bool) (InvoiceReport, error) {
	if period.IsZero() {
		period = PreviousPeriod(e.now())
	}
	return e.Generator.Generate(ctx, period, GenerateOptions{Today: e.now(), Upload: upload})
}

func (e *Engine) DeleteDailyBooking(ctx context.Context, id int64) error {
	return e.Ledger.DeleteBooking(ctx, id)
}

func (e *Engine) InvoiceTotal(ctx context.Context, inv Invoice) (decimal.Decimal, error) {
	return e.Generator.Total(ctx, inv)
}

func (e *Engine) MarkInvoicePaid(ctx context.Context, id int64, p Payment) (*Invoice, error) {
	return e.Generator.MarkPaid(ctx, id, p)
}

// BalanceSheet gets or creates the sheet of [start, end], by default the
// previous month.
func (e *Engine) BalanceSheet(ctx context.Context, start, end time.Time) (BalanceSheet, bool, error) {
	bs, created, err := e.Reporter.GetOrCreateBalanceSheet(ctx, start, end, e.now())
	if err == nil && created {
		e.log.Info("created balance sheet", zap.Stringer("sheet", bs))
	}
	return bs, created, err
}

func (e *Engine) BalanceSheetCSV(ctx context.Context, w io.Writer, bs BalanceSheet) error {
	return e.Reporter.WriteCSV(ctx, w, bs)
}
