package billing_test

import (
	"context"
	"testing"
	"time"

	"github.com/grandcedre/billing/billing"
	"github.com/grandcedre/billing/calendar"
	"github.com/grandcedre/billing/factory"
	"github.com/grandcedre/billing/store/sqlite"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// issueDay is the clock of every test engine: invoices of January 2019 are
// issued on February 1st.
var issueDay = time.Date(2019, 2, 1, 9, 0, 0, 0, time.UTC)

type testEnv struct {
	ctx    context.Context
	engine *billing.Engine
	store  *sqlite.Store
	logs   *observer.ObservedLogs
}

func newTestEnv(t *testing.T, opts ...billing.GeneratorOption) *testEnv {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	core, logs := observer.New(zapcore.DebugLevel)
	opts = append([]billing.GeneratorOption{billing.WithOutputDir(t.TempDir())}, opts...)
	engine := billing.NewEngine(store, zap.New(core), opts...)
	engine.SetClock(func() time.Time { return issueDay })

	env := &testEnv{ctx: context.Background(), engine: engine, store: store, logs: logs}
	_, err = factory.Load(env.ctx, engine, factory.DefaultFixtures())
	require.NoError(t, err)
	return env
}

// client creates a client with every invoicing detail filled in.
func (e *testEnv) client(t *testing.T, first, email string) billing.Client {
	t.Helper()
	c := billing.Client{
		FirstName: first, LastName: "L", Email: email,
		Address: "1 rue du Cèdre", ZipCode: "71000", City: "Mâcon",
	}
	require.NoError(t, e.engine.CreateClient(e.ctx, &c))
	return c
}

func (e *testEnv) contract(t *testing.T, client billing.Client, rt billing.RoomType, start string, terms billing.Terms) billing.Contract {
	t.Helper()
	c := billing.Contract{ClientID: client.ID, RoomType: rt, StartDate: date(t, start), Terms: terms}
	require.NoError(t, e.engine.CreateContract(e.ctx, &c))
	return c
}

func (e *testEnv) importJanuary(t *testing.T, source billing.CalendarSource) billing.ImportReport {
	t.Helper()
	report, err := e.engine.ImportBookings(e.ctx, source, billing.NewPeriod(2019, time.January))
	require.NoError(t, err)
	return report
}

func (e *testEnv) remaining(t *testing.T, contractID int64) string {
	t.Helper()
	hours, err := e.engine.Ledger.RemainingHours(e.ctx, contractID)
	require.NoError(t, err)
	return hours.StringFixed(2)
}

var (
	cabinet = billing.Calendar{ID: "cab-1", Summary: "Cabinet 1 - individuel", Metadata: billing.CalendarMetadata{Individual: true}}
	salle   = billing.Calendar{ID: "salle", Summary: "Salle collective"}
)

// booking is a timed event in Paris time, e.g. booking("ada@x", "2019-01-03", "10:00", "11:00").
func booking(email, day, from, to string) billing.Event {
	return billing.Event{
		Start:   billing.EventTime{DateTime: day + "T" + from + ":00+01:00"},
		End:     billing.EventTime{DateTime: day + "T" + to + ":00+01:00"},
		Creator: billing.EventActor{Email: email},
		Summary: email,
	}
}

func source(cal billing.Calendar, events ...billing.Event) *calendar.Static {
	return calendar.NewStatic().AddCalendar(cal, events...)
}

func date(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := billing.ParseDate(s)
	require.NoError(t, err)
	return d
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }
