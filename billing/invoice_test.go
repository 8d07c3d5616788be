package billing_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"

	"github.com/grandcedre/billing/billing"
	"github.com/grandcedre/billing/render"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var january = billing.NewPeriod(2019, 1)

// fakeDrive records folders and uploads. Uploads of names in failOn fail.
type fakeDrive struct {
	mu      sync.Mutex
	folders [][]string
	uploads []billing.Upload
	failOn  map[string]bool
}

func (d *fakeDrive) EnsureFolder(ctx context.Context, path ...string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.folders = append(d.folders, path)
	return "folder-" + path[0] + "-" + path[1], nil
}

func (d *fakeDrive) Upload(ctx context.Context, u billing.Upload) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failOn[u.RemoteName] {
		return errors.New("quota exceeded")
	}
	d.uploads = append(d.uploads, u)
	return nil
}

func TestGenerateInvoices_StandardContract(t *testing.T) {
	env := newTestEnv(t)
	ada := env.client(t, "Ada", "ada@example.com")
	contract := env.contract(t, ada, billing.RoomIndividual, "2019-01-01", billing.StandardTerms{})
	env.importJanuary(t, source(cabinet,
		booking("ada@example.com", "2019-01-03", "10:00", "11:00"),
		booking("ada@example.com", "2019-01-04", "10:00", "11:30"),
	))

	// WHEN: January is invoiced on February 1st
	report, err := env.engine.GenerateInvoices(env.ctx, january, false)
	require.NoError(t, err)

	// THEN: one invoice sums the daily prices
	require.Len(t, report.Created, 1)
	inv := report.Created[0]
	assert.Equal(t, contract.ID, inv.ContractID)
	assert.Equal(t, "2019-01", inv.Period)
	assert.Equal(t, "2019-02-01", billing.FormatDate(inv.IssuedAt))
	assert.Equal(t, "GC 001-19", inv.Number())
	assert.Equal(t, "€", inv.Symbol())

	total, err := env.engine.InvoiceTotal(env.ctx, inv)
	require.NoError(t, err)
	assert.Equal(t, "25.90", total.StringFixed(2))

	// AND: its bookings are frozen and linked to it
	doc, err := env.engine.Generator.Document(env.ctx, inv)
	require.NoError(t, err)
	require.Len(t, doc.Bookings, 2)
	for _, b := range doc.Bookings {
		assert.True(t, b.Frozen)
		require.NotNil(t, b.InvoiceID)
		assert.Equal(t, inv.ID, *b.InvoiceID)
	}
	assert.Equal(t, "2.50", doc.TotalHours().StringFixed(2))
}

func TestGenerateInvoices_IsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ada := env.client(t, "Ada", "ada@example.com")
	env.contract(t, ada, billing.RoomIndividual, "2019-01-01", billing.StandardTerms{})
	env.importJanuary(t, source(cabinet, booking("ada@example.com", "2019-01-03", "10:00", "11:00")))

	first, err := env.engine.GenerateInvoices(env.ctx, january, false)
	require.NoError(t, err)
	second, err := env.engine.GenerateInvoices(env.ctx, january, false)
	require.NoError(t, err)

	assert.Len(t, first.Created, 1)
	assert.Empty(t, second.Created)
	require.Len(t, second.Existing, 1)
	assert.Equal(t, first.Created[0].ID, second.Existing[0].ID)

	invoices, err := env.store.ListInvoices(env.ctx, billing.InvoiceFilter{Period: "2019-01"})
	require.NoError(t, err)
	assert.Len(t, invoices, 1)
}

func TestGenerateInvoices_DefaultsToPreviousMonth(t *testing.T) {
	env := newTestEnv(t)
	ada := env.client(t, "Ada", "ada@example.com")
	env.contract(t, ada, billing.RoomIndividual, "2019-01-01", billing.StandardTerms{})
	env.importJanuary(t, source(cabinet, booking("ada@example.com", "2019-01-03", "10:00", "11:00")))

	report, err := env.engine.GenerateInvoices(env.ctx, billing.Period{}, false)
	require.NoError(t, err)
	require.Len(t, report.Created, 1)
	assert.Equal(t, "2019-01", report.Created[0].Period)
}

func TestGenerateInvoices_SkipsIneligibleContracts(t *testing.T) {
	env := newTestEnv(t)

	owner := billing.Client{FirstName: "Owner", LastName: "GC", Email: "owner@grandcedre.fr",
		Address: "1 rue du Cèdre", ZipCode: "71000", City: "Mâcon", IsOwner: true}
	require.NoError(t, env.engine.CreateClient(env.ctx, &owner))
	env.contract(t, owner, billing.RoomIndividual, "2019-01-01", billing.StandardTerms{})

	bare := billing.Client{Email: "bare@example.com"}
	require.NoError(t, env.engine.CreateClient(env.ctx, &bare))
	env.contract(t, bare, billing.RoomIndividual, "2019-01-01", billing.StandardTerms{})

	swap := env.client(t, "Swap", "swap@example.com")
	env.contract(t, swap, billing.RoomCollective, "2019-01-01", billing.ExchangeTerms{})

	idle := env.client(t, "Idle", "idle@example.com")
	env.contract(t, idle, billing.RoomIndividual, "2019-01-01", billing.StandardTerms{})

	env.importJanuary(t, source(cabinet,
		booking("owner@grandcedre.fr", "2019-01-03", "10:00", "11:00"),
		booking("bare@example.com", "2019-01-03", "10:00", "11:00"),
	).AddCalendar(salle, booking("swap@example.com", "2019-01-03", "10:00", "11:00")))

	report, err := env.engine.GenerateInvoices(env.ctx, january, false)
	require.NoError(t, err)

	// THEN: nobody is invoiced, the idle client had nothing to invoice
	assert.Empty(t, report.Created)
	require.Len(t, report.Skipped, 3)
	reasons := map[int64]string{}
	for _, s := range report.Skipped {
		reasons[s.Contract.ClientID] = s.Reason
	}
	assert.Equal(t, "owner account", reasons[owner.ID])
	assert.Contains(t, reasons[bare.ID], "missing invoicing details")
	assert.Contains(t, reasons[swap.ID], "exchange")

	// AND: skipped bookings stay editable
	bookings, err := env.store.ListDailyBookings(env.ctx, billing.BookingFilter{ClientID: bare.ID})
	require.NoError(t, err)
	require.Len(t, bookings, 1)
	assert.False(t, bookings[0].Frozen)
}

func TestGenerateInvoices_PrepaidTotals(t *testing.T) {
	env := newTestEnv(t)
	ada := env.client(t, "Ada", "ada@example.com")
	flat := env.contract(t, ada, billing.RoomIndividual, "2019-01-01", billing.FlatRateTerms{})
	bob := env.client(t, "Bob", "bob@example.com")
	recurring := env.contract(t, bob, billing.RoomCollective, "2019-01-01", billing.RecurringTerms{WeeklyHours: 4})

	terms := recurring.Terms.(billing.RecurringTerms)
	assert.Equal(t, "160.00", terms.MonthlyPrice.StringFixed(2))
	assert.NotZero(t, terms.PricingID)

	env.importJanuary(t, source(cabinet,
		booking("ada@example.com", "2019-01-03", "10:00", "12:00"),
		booking("ada@example.com", "2019-01-10", "10:00", "18:00"),
	).AddCalendar(salle, booking("bob@example.com", "2019-01-07", "09:00", "13:00")))

	report, err := env.engine.GenerateInvoices(env.ctx, january, false)
	require.NoError(t, err)
	require.Len(t, report.Created, 2)

	totals := map[int64]string{}
	for _, inv := range report.Created {
		total, err := env.engine.InvoiceTotal(env.ctx, inv)
		require.NoError(t, err)
		totals[inv.ContractID] = total.StringFixed(2)
	}
	// The plan costs 9.00 x 40 whatever was used, recurring is the monthly price.
	assert.Equal(t, "160.00", totals[recurring.ID])
	assert.Equal(t, "360.00", totals[flat.ID])
}

func TestGenerateInvoices_ContractWindow(t *testing.T) {
	env := newTestEnv(t)
	ada := env.client(t, "Ada", "ada@example.com")
	env.contract(t, ada, billing.RoomIndividual, "2019-01-15", billing.StandardTerms{})

	// Bookings before the 15th found no contract, the invoice starts on the 15th.
	report := env.importJanuary(t, source(cabinet,
		booking("ada@example.com", "2019-01-10", "10:00", "11:00"),
		booking("ada@example.com", "2019-01-20", "10:00", "11:00"),
	))
	require.Len(t, report.NoContract, 1)

	invoices, err := env.engine.GenerateInvoices(env.ctx, january, false)
	require.NoError(t, err)
	require.Len(t, invoices.Created, 1)
	total, err := env.engine.InvoiceTotal(env.ctx, invoices.Created[0])
	require.NoError(t, err)
	assert.Equal(t, "10.90", total.StringFixed(2))

	// Nothing was booked in December.
	december, err := env.engine.GenerateInvoices(env.ctx, billing.NewPeriod(2018, 12), false)
	require.NoError(t, err)
	assert.Empty(t, december.Created)
	assert.Empty(t, december.Existing)
}

func TestGenerateInvoices_Upload(t *testing.T) {
	drive := &fakeDrive{failOn: map[string]bool{"bob-l-2019-02-01-002.html": true}}
	outDir := t.TempDir()
	env := newTestEnv(t, billing.WithRenderer(render.NewHTML()), billing.WithUploader(drive), billing.WithOutputDir(outDir))

	for _, name := range []string{"Ada", "Bob", "Cleo"} {
		c := env.client(t, name, name+"@example.com")
		env.contract(t, c, billing.RoomIndividual, "2019-01-01", billing.StandardTerms{})
	}
	env.importJanuary(t, source(cabinet,
		booking("ada@example.com", "2019-01-03", "10:00", "11:00"),
		booking("bob@example.com", "2019-01-03", "11:00", "12:00"),
		booking("cleo@example.com", "2019-01-03", "14:00", "15:00"),
	))

	report, err := env.engine.GenerateInvoices(env.ctx, january, true)
	require.NoError(t, err)

	// THEN: the month folder is resolved once for the whole run
	assert.Len(t, report.Created, 3)
	assert.Equal(t, [][]string{{"2019", "01"}}, drive.folders)

	// AND: a failed upload does not stop the others
	assert.Equal(t, []string{"ada-l-2019-02-01-001.html", "cleo-l-2019-02-01-003.html"}, report.Uploaded)
	require.Len(t, report.Failed, 1)
	assert.EqualError(t, report.Failed[0].Err, "quota exceeded")

	require.Len(t, drive.uploads, 2)
	assert.Equal(t, "folder-2019-01", drive.uploads[0].ParentID)
	assert.Equal(t, "text/html", drive.uploads[0].MimeType)
	assert.Equal(t, "Facture GC 001-19 Ada L", drive.uploads[0].Description)

	content, err := os.ReadFile(drive.uploads[0].LocalPath)
	require.NoError(t, err)
	assert.Contains(t, string(content), "10.90 €")
}

func TestGenerateInvoices_UploadNeedsCollaborators(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.engine.GenerateInvoices(env.ctx, january, true)
	assert.Error(t, err)
}

func TestMarkInvoicePaid(t *testing.T) {
	env := newTestEnv(t)
	for _, name := range []string{"Ada", "Bob"} {
		c := env.client(t, name, name+"@example.com")
		env.contract(t, c, billing.RoomIndividual, "2019-01-01", billing.StandardTerms{})
	}
	env.importJanuary(t, source(cabinet,
		booking("ada@example.com", "2019-01-03", "10:00", "11:00"),
		booking("bob@example.com", "2019-01-03", "11:00", "12:00"),
	))
	report, err := env.engine.GenerateInvoices(env.ctx, january, false)
	require.NoError(t, err)
	require.Len(t, report.Created, 2)
	first, second := report.Created[0], report.Created[1]

	_, err = env.engine.MarkInvoicePaid(env.ctx, first.ID, billing.Payment{
		Date: date(t, "2019-02-10"), CheckNumber: "123", WireTransferNumber: "VIR-1",
	})
	assert.ErrorIs(t, err, billing.ErrPaymentReference)

	_, err = env.engine.MarkInvoicePaid(env.ctx, first.ID, billing.Payment{CheckNumber: "123"})
	assert.ErrorIs(t, err, billing.ErrInvalidDates)

	paid, err := env.engine.MarkInvoicePaid(env.ctx, first.ID, billing.Payment{Date: date(t, "2019-02-10"), CheckNumber: "123"})
	require.NoError(t, err)
	assert.True(t, paid.Paid())

	stored, err := env.store.GetInvoice(env.ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "2019-02-10", billing.FormatDate(*stored.PayedAt))
	assert.Equal(t, "123", stored.CheckNumber)

	// A check settles one invoice only.
	_, err = env.engine.MarkInvoicePaid(env.ctx, second.ID, billing.Payment{Date: date(t, "2019-02-11"), CheckNumber: "123"})
	assert.ErrorIs(t, err, billing.ErrPaymentReference)

	_, err = env.engine.MarkInvoicePaid(env.ctx, 999, billing.Payment{Date: date(t, "2019-02-11")})
	assert.ErrorIs(t, err, billing.ErrNotFound)
}

func TestGenerateInvoices_RenewalMidPeriod(t *testing.T) {
	env := newTestEnv(t)
	ada := env.client(t, "Ada", "ada@example.com")
	standard := env.contract(t, ada, billing.RoomIndividual, "2018-06-01", billing.StandardTerms{})
	flat := env.contract(t, ada, billing.RoomIndividual, "2019-01-15", billing.FlatRateTerms{})

	// GIVEN: one booking before the flat rate starts, one after
	env.importJanuary(t, source(cabinet,
		booking("ada@example.com", "2019-01-03", "10:00", "11:00"),
		booking("ada@example.com", "2019-01-20", "10:00", "11:00"),
	))
	assert.Equal(t, "39.00", env.remaining(t, flat.ID))

	// WHEN: January is invoiced
	report, err := env.engine.GenerateInvoices(env.ctx, january, false)
	require.NoError(t, err)
	require.Len(t, report.Created, 2)

	// THEN: each contract invoices the bookings it priced
	byContract := map[int64]billing.InvoiceDocument{}
	for _, inv := range report.Created {
		doc, err := env.engine.Generator.Document(env.ctx, inv)
		require.NoError(t, err)
		byContract[inv.ContractID] = doc
	}

	old := byContract[standard.ID]
	require.Len(t, old.Bookings, 1)
	assert.Equal(t, "2019-01-03", billing.FormatDate(old.Bookings[0].Date))
	assert.Equal(t, "10.90", old.TotalPrice().StringFixed(2))

	renewed := byContract[flat.ID]
	require.Len(t, renewed.Bookings, 1)
	assert.Equal(t, "2019-01-20", billing.FormatDate(renewed.Bookings[0].Date))
	assert.Equal(t, "360.00", renewed.TotalPrice().StringFixed(2))

	// AND: a second run finds both invoices
	again, err := env.engine.GenerateInvoices(env.ctx, january, false)
	require.NoError(t, err)
	assert.Empty(t, again.Created)
	assert.Len(t, again.Existing, 2)
}

func TestGenerateInvoices_FrozenBookingsOpenNoInvoice(t *testing.T) {
	env := newTestEnv(t)
	ada := env.client(t, "Ada", "ada@example.com")
	env.contract(t, ada, billing.RoomIndividual, "2019-01-01", billing.StandardTerms{})
	env.importJanuary(t, source(cabinet, booking("ada@example.com", "2019-01-20", "10:00", "11:00")))

	first, err := env.engine.GenerateInvoices(env.ctx, january, false)
	require.NoError(t, err)
	require.Len(t, first.Created, 1)

	// GIVEN: a flat rate back-dated over bookings already invoiced
	flat := env.contract(t, ada, billing.RoomIndividual, "2019-01-10", billing.FlatRateTerms{})

	// THEN: the flat rate gets no invoice for January
	report, err := env.engine.GenerateInvoices(env.ctx, january, false)
	require.NoError(t, err)
	assert.Empty(t, report.Created)
	require.Len(t, report.Existing, 1)
	assert.NotEqual(t, flat.ID, report.Existing[0].ContractID)
}

func TestGenerateInvoices_OneFilePerContract(t *testing.T) {
	drive := &fakeDrive{}
	env := newTestEnv(t, billing.WithRenderer(render.NewHTML()), billing.WithUploader(drive))
	ada := env.client(t, "Ada", "ada@example.com")
	env.contract(t, ada, billing.RoomIndividual, "2019-01-01", billing.StandardTerms{})
	env.contract(t, ada, billing.RoomCollective, "2019-01-01", billing.StandardTerms{})
	env.importJanuary(t, source(cabinet, booking("ada@example.com", "2019-01-03", "10:00", "11:00")))
	env.importJanuary(t, source(salle, booking("ada@example.com", "2019-01-04", "10:00", "12:00")))

	report, err := env.engine.GenerateInvoices(env.ctx, january, true)
	require.NoError(t, err)

	require.Len(t, report.Created, 2)
	assert.Equal(t, []string{"ada-l-2019-02-01-001.html", "ada-l-2019-02-01-002.html"}, report.Uploaded)
	require.Len(t, drive.uploads, 2)
	assert.NotEqual(t, drive.uploads[0].LocalPath, drive.uploads[1].LocalPath)
}
