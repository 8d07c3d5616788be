/*
invoice.go - Idempotent monthly invoice generation

PURPOSE:
  For a billing period (by default the previous calendar month) and every
  contract, issues at most one invoice per (contract, period) and freezes
  the daily bookings it covers.

FLOW PER CONTRACT:
  1. Skip owners, clients missing invoicing details, exchange contracts.
  2. Gather the contract's room-category bookings within the period and the
     contract's own validity window. None: skip.
  3. Get-or-create the invoice (unique contract+period) and, only when it
     is created, freeze the gathered bookings. Both happen in one
     transaction.
  4. Optionally render and upload the invoice into year/month folders; the
     folder is resolved once per run.

TOTALS:
  The total is derived at read time, never stored:
  - flat rate:  flat_rate x prepaid_hours
  - recurring:  cached monthly price
  - otherwise:  sum of the invoice's frozen booking prices
*/
package billing

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// =============================================================================
// INVOICE
// =============================================================================

const DefaultCurrency = "EURO"

var currencySymbols = map[string]string{"EURO": "€"}

type Invoice struct {
	ID                 int64
	ContractID         int64
	Period             string // YYYY-MM
	IssuedAt           time.Time
	Currency           string
	PayedAt            *time.Time
	CheckNumber        string
	WireTransferNumber string
}

func (inv Invoice) Symbol() string {
	if s, ok := currencySymbols[inv.Currency]; ok {
		return s
	}
	return inv.Currency
}

// Number is the reference printed on the invoice, e.g. "GC 007-24".
func (inv Invoice) Number() string {
	year, _, _ := strings.Cut(inv.Period, "-")
	if len(year) == 4 {
		year = year[2:]
	}
	return fmt.Sprintf("GC %03d-%s", inv.ID, year)
}

func (inv Invoice) Year() int {
	p, _ := ParsePeriod(inv.Period)
	return p.Year
}

func (inv Invoice) Month() time.Month {
	p, _ := ParsePeriod(inv.Period)
	return p.Month
}

func (inv Invoice) Paid() bool { return inv.PayedAt != nil }

// Payment is how an invoice was settled.
type Payment struct {
	Date               time.Time
	CheckNumber        string
	WireTransferNumber string
}

func (p Payment) Validate() error {
	if p.Date.IsZero() {
		return fmt.Errorf("%w: payment date is required", ErrInvalidDates)
	}
	if p.CheckNumber != "" && p.WireTransferNumber != "" {
		return ErrPaymentReference
	}
	return nil
}

// InvoiceTotal applies the contract-type rule to an invoice's bookings.
func InvoiceTotal(contract Contract, bookings []DailyBooking) decimal.Decimal {
	switch t := contract.Terms.(type) {
	case FlatRateTerms:
		return t.PlanCost()
	case RecurringTerms:
		return Quantize(t.MonthlyPrice)
	case nil, StandardTerms, OneShotTerms, ExchangeTerms:
		total := decimal.Zero
		for _, b := range bookings {
			total = total.Add(b.Price)
		}
		return Quantize(total)
	default:
		return decimal.Zero
	}
}

// =============================================================================
// INVOICE DOCUMENT - What rendering and upload collaborators consume
// =============================================================================

type InvoiceDocument struct {
	Invoice  Invoice
	Contract Contract
	Client   Client
	Bookings []DailyBooking
}

func (d InvoiceDocument) TotalPrice() decimal.Decimal { return InvoiceTotal(d.Contract, d.Bookings) }
func (d InvoiceDocument) Symbol() string              { return d.Invoice.Symbol() }
func (d InvoiceDocument) Period() string              { return d.Invoice.Period }
func (d InvoiceDocument) Number() string              { return d.Invoice.Number() }

// Filename is "<client>-<issued at>-<invoice id>.<ext>", lowercased, spaces
// as dashes. A client invoiced for several contracts gets one file each.
func (d InvoiceDocument) Filename(ext string) string {
	name := fmt.Sprintf("%s-%s-%03d.%s", strings.ToLower(d.Client.String()), FormatDate(d.Invoice.IssuedAt), d.Invoice.ID, ext)
	return strings.ReplaceAll(name, " ", "-")
}

// TotalHours sums the booked hours.
func (d InvoiceDocument) TotalHours() decimal.Decimal {
	total := decimal.Zero
	for _, b := range d.Bookings {
		total = total.Add(b.DurationHours)
	}
	return total
}

// Renderer writes an invoice document in a durable format.
type Renderer interface {
	Render(w io.Writer, doc InvoiceDocument) error
	Extension() string
	MimeType() string
}

// Upload is one file handed to the storage collaborator.
type Upload struct {
	LocalPath   string
	RemoteName  string
	Description string
	MimeType    string
	ParentID    string
}

// Uploader stores files remotely. Uploading a name that exists in the
// parent folder overwrites it.
type Uploader interface {
	// EnsureFolder returns the id of the folder at path, creating missing
	// levels.
	EnsureFolder(ctx context.Context, path ...string) (string, error)
	Upload(ctx context.Context, u Upload) error
}

// =============================================================================
// GENERATOR
// =============================================================================

type GenerateOptions struct {
	// Today is the issue date of new invoices. Zero means time.Now().
	Today time.Time
	// Upload renders and uploads each new invoice.
	Upload bool
}

type InvoiceReport struct {
	Created  []Invoice
	Existing []Invoice
	Skipped  []SkippedContract
	Uploaded []string
	Failed   []FailedUpload
}

type SkippedContract struct {
	Contract Contract
	Reason   string
}

type FailedUpload struct {
	Invoice Invoice
	Err     error
}

type Generator struct {
	store     Store
	renderer  Renderer
	uploader  Uploader
	outputDir string
	currency  string
	log       *zap.Logger
}

// GeneratorOption configures optional collaborators.
type GeneratorOption func(*Generator)

func WithRenderer(r Renderer) GeneratorOption   { return func(g *Generator) { g.renderer = r } }
func WithUploader(u Uploader) GeneratorOption   { return func(g *Generator) { g.uploader = u } }
func WithOutputDir(dir string) GeneratorOption  { return func(g *Generator) { g.outputDir = dir } }
func WithCurrency(code string) GeneratorOption  { return func(g *Generator) { g.currency = code } }

func NewGenerator(store Store, log *zap.Logger, opts ...GeneratorOption) *Generator {
	if log == nil {
		log = zap.NewNop()
	}
	g := &Generator{store: store, currency: DefaultCurrency, outputDir: os.TempDir(), log: log.Named("invoices")}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate issues the invoices of period. Ineligible contracts are skipped
// and reported; only store failures stop the run.
func (g *Generator) Generate(ctx context.Context, period Period, opts GenerateOptions) (InvoiceReport, error) {
	var report InvoiceReport
	today := opts.Today
	if today.IsZero() {
		today = time.Now()
	}
	if opts.Upload && (g.renderer == nil || g.uploader == nil) {
		return report, fmt.Errorf("uploading invoices requires a renderer and an uploader")
	}

	contracts, err := g.store.ListContracts(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to list contracts: %w", err)
	}

	var folderID string
	for _, contract := range contracts {
		log := g.log.With(zap.Int64("contract_id", contract.ID), zap.Stringer("period", period))

		client, err := g.store.GetClient(ctx, contract.ClientID)
		if err != nil {
			return report, err
		}
		if reason := skipReason(*client, contract); reason != "" {
			log.Info("skipping invoice generation", zap.Stringer("client", client), zap.String("reason", reason))
			report.Skipped = append(report.Skipped, SkippedContract{Contract: contract, Reason: reason})
			continue
		}

		inv, created, err := g.generateOne(ctx, contract, renewalOf(contracts, contract), period, today)
		if err != nil {
			return report, err
		}
		if inv == nil {
			log.Info("no bookings to invoice", zap.Stringer("client", client))
			continue
		}
		if !created {
			log.Info("invoice already generated", zap.Int64("invoice_id", inv.ID))
			report.Existing = append(report.Existing, *inv)
			continue
		}

		doc, err := g.Document(ctx, *inv)
		if err != nil {
			return report, err
		}
		log.Info("invoice generated", zap.Int64("invoice_id", inv.ID),
			zap.String("total", doc.TotalPrice().StringFixed(2)+doc.Symbol()))
		report.Created = append(report.Created, *inv)

		if !opts.Upload {
			continue
		}
		if folderID == "" {
			folderID, err = g.uploader.EnsureFolder(ctx, fmt.Sprintf("%04d", period.Year), fmt.Sprintf("%02d", int(period.Month)))
			if err != nil {
				return report, fmt.Errorf("failed to resolve invoice folder: %w", err)
			}
		}
		name, err := g.upload(ctx, doc, folderID)
		if err != nil {
			log.Error("invoice upload failed", zap.Int64("invoice_id", inv.ID), zap.Error(err))
			report.Failed = append(report.Failed, FailedUpload{Invoice: *inv, Err: err})
			continue
		}
		report.Uploaded = append(report.Uploaded, name)
	}
	return report, nil
}

func skipReason(client Client, contract Contract) string {
	switch {
	case client.IsOwner:
		return "owner account"
	case client.MissingDetails():
		return (&MissingDetailsError{Client: client}).Error()
	case contract.Type() == ContractExchange:
		return "exchange contracts are fee exempt"
	}
	return ""
}

// renewalOf returns the contract that takes over from c: the next one of
// the same client and room type, by start date. Nil when c is the latest.
func renewalOf(contracts []Contract, c Contract) *Contract {
	var next *Contract
	for i := range contracts {
		o := &contracts[i]
		if o.ID == c.ID || o.ClientID != c.ClientID || o.RoomType != c.RoomType {
			continue
		}
		if !o.StartDate.After(c.StartDate) {
			continue
		}
		if next == nil || o.StartDate.Before(next.StartDate) {
			next = o
		}
	}
	return next
}

// generateOne returns a nil invoice when there is nothing to invoice. The
// window is the period cut to the contract dates, and it ends the day
// before the renewal starts.
func (g *Generator) generateOne(ctx context.Context, contract Contract, renewal *Contract, period Period, today time.Time) (*Invoice, bool, error) {
	from, to := period.Start(), period.End()
	if start := Day(contract.StartDate); start.After(from) {
		from = start
	}
	if contract.EndDate != nil && Day(*contract.EndDate).Before(to) {
		to = Day(*contract.EndDate)
	}
	if renewal != nil {
		if last := Day(renewal.StartDate).AddDate(0, 0, -1); last.Before(to) {
			to = last
		}
	}
	if from.After(to) {
		return nil, false, nil
	}

	individual := contract.RoomType.Individual()
	var (
		inv     *Invoice
		created bool
	)
	err := g.store.WithTx(ctx, func(s Store) error {
		bookings, err := s.ListDailyBookings(ctx, BookingFilter{
			ClientID: contract.ClientID, Individual: &individual, From: from, To: to,
		})
		if err != nil {
			return err
		}

		var ids []int64
		for _, b := range bookings {
			// Priced under another contract of the same room type.
			if b.ContractID != 0 && b.ContractID != contract.ID {
				continue
			}
			if !b.Frozen {
				ids = append(ids, b.ID)
			}
		}
		if len(ids) == 0 {
			// Already invoiced or nothing booked: never open a new invoice.
			existing, err := s.ListInvoices(ctx, InvoiceFilter{ContractID: contract.ID, Period: period.String()})
			if err != nil || len(existing) == 0 {
				return err
			}
			inv = &existing[0]
			return nil
		}

		inv = &Invoice{ContractID: contract.ID, Period: period.String(), IssuedAt: Day(today), Currency: g.currency}
		created, err = s.GetOrCreateInvoice(ctx, inv)
		if err != nil || !created {
			return err
		}
		return s.FreezeDailyBookings(ctx, ids, inv.ID)
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to generate invoice of contract %d for %s: %w", contract.ID, period, err)
	}
	return inv, created, nil
}

// Document loads what an invoice covers.
func (g *Generator) Document(ctx context.Context, inv Invoice) (InvoiceDocument, error) {
	contract, err := g.store.GetContract(ctx, inv.ContractID)
	if err != nil {
		return InvoiceDocument{}, err
	}
	client, err := g.store.GetClient(ctx, contract.ClientID)
	if err != nil {
		return InvoiceDocument{}, err
	}
	bookings, err := g.store.ListDailyBookings(ctx, BookingFilter{InvoiceID: inv.ID})
	if err != nil {
		return InvoiceDocument{}, err
	}
	return InvoiceDocument{Invoice: inv, Contract: *contract, Client: *client, Bookings: bookings}, nil
}

// Total derives the total price of an invoice.
func (g *Generator) Total(ctx context.Context, inv Invoice) (decimal.Decimal, error) {
	doc, err := g.Document(ctx, inv)
	if err != nil {
		return decimal.Zero, err
	}
	return doc.TotalPrice(), nil
}

// Render writes the invoice document with the configured renderer.
func (g *Generator) Render(ctx context.Context, w io.Writer, inv Invoice) (InvoiceDocument, error) {
	if g.renderer == nil {
		return InvoiceDocument{}, fmt.Errorf("no invoice renderer configured")
	}
	doc, err := g.Document(ctx, inv)
	if err != nil {
		return doc, err
	}
	return doc, g.renderer.Render(w, doc)
}

func (g *Generator) upload(ctx context.Context, doc InvoiceDocument, folderID string) (string, error) {
	name := doc.Filename(g.renderer.Extension())
	if err := os.MkdirAll(g.outputDir, 0o755); err != nil {
		return "", err
	}
	local := filepath.Join(g.outputDir, name)

	f, err := os.Create(local)
	if err != nil {
		return "", err
	}
	if err := g.renderer.Render(f, doc); err != nil {
		f.Close()
		return "", fmt.Errorf("failed to render %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		return "", err
	}

	err = g.uploader.Upload(ctx, Upload{
		LocalPath:   local,
		RemoteName:  name,
		Description: fmt.Sprintf("Facture %s %s", doc.Number(), doc.Client),
		MimeType:    g.renderer.MimeType(),
		ParentID:    folderID,
	})
	return name, err
}

// MarkPaid records the payment of an invoice.
func (g *Generator) MarkPaid(ctx context.Context, id int64, p Payment) (*Invoice, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	inv, err := g.store.GetInvoice(ctx, id)
	if err != nil {
		return nil, err
	}
	date := Day(p.Date)
	inv.PayedAt = &date
	inv.CheckNumber = p.CheckNumber
	inv.WireTransferNumber = p.WireTransferNumber
	if err := g.store.UpdateInvoicePayment(ctx, *inv); err != nil {
		return nil, err
	}
	return inv, nil
}
