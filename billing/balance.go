package billing

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// BALANCE SHEET - Paid invoices minus expenses over a date range
// =============================================================================

// BalanceSheet is unique per (StartDate, EndDate).
type BalanceSheet struct {
	ID        int64
	StartDate time.Time
	EndDate   time.Time
}

func (bs BalanceSheet) Filename(ext string) string {
	return fmt.Sprintf("bilan-%s-%s.%s", FormatDate(bs.StartDate), FormatDate(bs.EndDate), ext)
}

func (bs BalanceSheet) String() string {
	return FormatDate(bs.StartDate) + " - " + FormatDate(bs.EndDate)
}

// BalanceLine is one paid invoice of a balance sheet.
type BalanceLine struct {
	Invoice Invoice
	Client  Client
	Total   decimal.Decimal
}

// Balance is the reconciled content of a balance sheet.
type Balance struct {
	Sheet        BalanceSheet
	Lines        []BalanceLine
	Expenses     []Expense
	InvoiceTotal decimal.Decimal
	ExpenseTotal decimal.Decimal
}

func (b Balance) Total() decimal.Decimal { return b.InvoiceTotal.Sub(b.ExpenseTotal) }

// Reporter builds balance sheets.
type Reporter struct {
	store     Store
	generator *Generator
}

func NewReporter(store Store, generator *Generator) *Reporter {
	return &Reporter{store: store, generator: generator}
}

// GetOrCreateBalanceSheet returns the sheet for [start, end]. Zero dates
// default to the month before now.
func (r *Reporter) GetOrCreateBalanceSheet(ctx context.Context, start, end, now time.Time) (BalanceSheet, bool, error) {
	if start.IsZero() || end.IsZero() {
		p := PreviousPeriod(now)
		start, end = p.Start(), p.End()
	}
	if Day(end).Before(Day(start)) {
		return BalanceSheet{}, false, ErrInvalidDates
	}
	bs := BalanceSheet{StartDate: Day(start), EndDate: Day(end)}
	created, err := r.store.GetOrCreateBalanceSheet(ctx, &bs)
	return bs, created, err
}

// Balance gathers the invoices paid and the expenses made within the sheet.
func (r *Reporter) Balance(ctx context.Context, bs BalanceSheet) (Balance, error) {
	out := Balance{Sheet: bs, InvoiceTotal: decimal.Zero, ExpenseTotal: decimal.Zero}

	invoices, err := r.store.ListInvoices(ctx, InvoiceFilter{PaidFrom: bs.StartDate, PaidTo: bs.EndDate})
	if err != nil {
		return out, err
	}
	for _, inv := range invoices {
		doc, err := r.generator.Document(ctx, inv)
		if err != nil {
			return out, err
		}
		total := doc.TotalPrice()
		out.Lines = append(out.Lines, BalanceLine{Invoice: inv, Client: doc.Client, Total: total})
		out.InvoiceTotal = out.InvoiceTotal.Add(total)
	}

	out.Expenses, err = r.store.ListExpenses(ctx, bs.StartDate, bs.EndDate)
	if err != nil {
		return out, err
	}
	for _, e := range out.Expenses {
		out.ExpenseTotal = out.ExpenseTotal.Add(e.Price)
	}
	out.InvoiceTotal = Quantize(out.InvoiceTotal)
	out.ExpenseTotal = Quantize(out.ExpenseTotal)
	return out, nil
}

// WriteCSV exports the balance sheet.
func (r *Reporter) WriteCSV(ctx context.Context, w io.Writer, bs BalanceSheet) error {
	b, err := r.Balance(ctx, bs)
	if err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	rows := [][]string{
		{"# Facture", "Client", "Période", "Total", "Date d'encaissement", "# Chèque", "# Virement"},
	}
	for _, l := range b.Lines {
		paid := ""
		if l.Invoice.PayedAt != nil {
			paid = FormatDate(*l.Invoice.PayedAt)
		}
		rows = append(rows, []string{
			l.Invoice.Number(), l.Client.FullName(), l.Invoice.Period, l.Total.StringFixed(2),
			paid, l.Invoice.CheckNumber, l.Invoice.WireTransferNumber,
		})
	}
	rows = append(rows, []string{}, []string{})

	rows = append(rows, []string{"Dépense", "Date", "Montant"})
	for _, e := range b.Expenses {
		rows = append(rows, []string{e.Label, FormatDate(e.Date), e.Price.StringFixed(2)})
	}
	rows = append(rows, []string{}, []string{},
		[]string{"Total facturé", b.InvoiceTotal.StringFixed(2)},
		[]string{"Total dépensé", b.ExpenseTotal.StringFixed(2)},
		[]string{"Total", b.Total().StringFixed(2)},
	)

	if err := cw.WriteAll(rows); err != nil {
		return fmt.Errorf("failed to write balance sheet %s: %w", bs, err)
	}
	return nil
}
