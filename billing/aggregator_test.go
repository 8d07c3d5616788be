package billing_test

import (
	"testing"

	"github.com/grandcedre/billing/billing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestImport_GroupsEventsPerDay(t *testing.T) {
	env := newTestEnv(t)
	ada := env.client(t, "Ada", "ada@example.com")
	env.contract(t, ada, billing.RoomIndividual, "2019-01-01", billing.StandardTerms{})

	// GIVEN: two short bookings on the 3rd and one on the 4th
	src := source(cabinet,
		booking("ada@example.com", "2019-01-03", "10:00", "11:00"),
		booking("Ada@Example.com", "2019-01-03", "14:00", "14:30"),
		booking("ada@example.com", "2019-01-04", "10:00", "11:00"),
	)

	// WHEN: January is imported
	report := env.importJanuary(t, src)

	// THEN: one daily booking per day, priced on the day's total
	require.Len(t, report.Created, 2)
	assert.Equal(t, "2019-01-03", billing.FormatDate(report.Created[0].Date))
	assert.Equal(t, "1.50", report.Created[0].DurationHours.StringFixed(2))
	assert.Equal(t, "15.00", report.Created[0].Price.StringFixed(2))
	assert.Equal(t, "10.90", report.Created[1].Price.StringFixed(2))
	assert.True(t, report.Created[0].Individual)
	assert.Empty(t, report.NewClients)
}

func TestImport_IsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ada := env.client(t, "Ada", "ada@example.com")
	env.contract(t, ada, billing.RoomIndividual, "2019-01-01", billing.StandardTerms{})
	src := source(cabinet, booking("ada@example.com", "2019-01-03", "10:00", "11:00"))

	first := env.importJanuary(t, src)
	require.Len(t, first.Created, 1)

	// GIVEN: the same day is imported again with an extra event on it
	src.AddEvents(cabinet.ID,
		booking("ada@example.com", "2019-01-03", "15:00", "16:00"),
		booking("ada@example.com", "2019-01-07", "10:00", "11:00"),
	)
	second := env.importJanuary(t, src)

	// THEN: the known day is left untouched, only the new day is created
	require.Len(t, second.Existing, 1)
	assert.Equal(t, "1.00", second.Existing[0].DurationHours.StringFixed(2))
	require.Len(t, second.Created, 1)
	assert.Equal(t, "2019-01-07", billing.FormatDate(second.Created[0].Date))

	all, err := env.store.ListDailyBookings(env.ctx, billing.BookingFilter{ClientID: ada.ID})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestImport_SeparatesRoomCategories(t *testing.T) {
	env := newTestEnv(t)
	ada := env.client(t, "Ada", "ada@example.com")
	env.contract(t, ada, billing.RoomIndividual, "2019-01-01", billing.StandardTerms{})
	env.contract(t, ada, billing.RoomCollective, "2019-01-01", billing.StandardTerms{})

	src := source(cabinet, booking("ada@example.com", "2019-01-03", "10:00", "11:00")).
		AddCalendar(salle, booking("ada@example.com", "2019-01-03", "14:00", "16:00"))
	report := env.importJanuary(t, src)

	// Collective first, then individual, on the same day
	require.Len(t, report.Created, 2)
	assert.False(t, report.Created[0].Individual)
	assert.Equal(t, "26.42", report.Created[0].Price.StringFixed(2))
	assert.True(t, report.Created[1].Individual)
	assert.Equal(t, "10.90", report.Created[1].Price.StringFixed(2))
}

func TestImport_BeneficiaryOverride(t *testing.T) {
	env := newTestEnv(t)
	owner := billing.Client{FirstName: "Owner", LastName: "GC", Email: "owner@grandcedre.fr", IsOwner: true}
	require.NoError(t, env.engine.CreateClient(env.ctx, &owner))
	bob := env.client(t, "Bob", "bob@example.com")
	env.contract(t, bob, billing.RoomIndividual, "2019-01-01", billing.StandardTerms{})
	ada := env.client(t, "Ada", "ada@example.com")
	env.contract(t, ada, billing.RoomIndividual, "2019-01-01", billing.StandardTerms{})

	delegated := booking("owner@grandcedre.fr", "2019-01-03", "10:00", "11:00")
	delegated.Description = "Réservé pour Bob@Example.com"
	ignored := booking("ada@example.com", "2019-01-04", "10:00", "11:00")
	ignored.Description = "pour bob@example.com"
	noEmail := booking("ada@example.com", "2019-01-05", "10:00", "11:00")
	noEmail.Description = "rendez-vous"

	report := env.importJanuary(t, source(cabinet, delegated, ignored, noEmail))

	// THEN: only the owner's booking moves to the beneficiary
	require.Len(t, report.Created, 3)
	byDate := map[string]int64{}
	for _, b := range report.Created {
		byDate[billing.FormatDate(b.Date)] = b.ClientID
	}
	assert.Equal(t, bob.ID, byDate["2019-01-03"])
	assert.Equal(t, ada.ID, byDate["2019-01-04"])
	assert.Equal(t, ada.ID, byDate["2019-01-05"])
	assert.Equal(t, 1, env.logs.FilterMessage("ignoring booking description without a valid email").Len())
}

func TestImport_ReportsWhatItCannotBill(t *testing.T) {
	env := newTestEnv(t)
	ada := env.client(t, "Ada", "ada@example.com")
	env.contract(t, ada, billing.RoomIndividual, "2019-01-10", billing.StandardTerms{})

	allDay := billing.Event{
		Start:   billing.EventTime{Date: "2019-01-15"},
		End:     billing.EventTime{Date: "2019-01-16"},
		Creator: billing.EventActor{Email: "ada@example.com"},
		Summary: "Journée",
	}
	src := source(cabinet,
		allDay,
		booking("ada@example.com", "2019-01-05", "10:00", "11:00"),      // before the contract
		booking("ada@example.com", "2019-01-14", "10:00", "12:00"),      // 2h has no cabinet price
		booking("newcomer@example.com", "2019-01-14", "10:00", "11:00"), // unknown client
		booking("ada@example.com", "2019-01-15", "09:00", "10:00"),
	)

	report := env.importJanuary(t, src)

	require.Len(t, report.Skipped, 1)
	assert.ErrorIs(t, report.Skipped[0].Err, billing.ErrAllDayEvent)

	require.Len(t, report.NoContract, 2)
	require.Len(t, report.NewClients, 1)
	assert.Equal(t, "newcomer@example.com", report.NewClients[0].Email)
	assert.True(t, report.NewClients[0].MissingDetails())

	require.Len(t, report.Unpriced, 1)
	assert.ErrorIs(t, report.Unpriced[0].Err, billing.ErrNoMatchingPrice)
	assert.Equal(t, "2.00", report.Unpriced[0].Hours.StringFixed(2))
	assert.Equal(t, 1, env.logs.FilterMessage("could not price daily booking").FilterLevelExact(zapcore.ErrorLevel).Len())

	require.Len(t, report.Created, 1)
	assert.Equal(t, "2019-01-15", billing.FormatDate(report.Created[0].Date))
}

func TestImport_OutsidePeriodIsIgnored(t *testing.T) {
	env := newTestEnv(t)
	ada := env.client(t, "Ada", "ada@example.com")
	env.contract(t, ada, billing.RoomIndividual, "2019-01-01", billing.StandardTerms{})

	report := env.importJanuary(t, source(cabinet,
		booking("ada@example.com", "2018-12-31", "10:00", "11:00"),
		booking("ada@example.com", "2019-01-31", "17:00", "18:00"),
		booking("ada@example.com", "2019-02-01", "10:00", "11:00"),
	))

	require.Len(t, report.Created, 1)
	assert.Equal(t, "2019-01-31", billing.FormatDate(report.Created[0].Date))
}
