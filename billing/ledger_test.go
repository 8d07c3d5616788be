package billing_test

import (
	"testing"

	"github.com/grandcedre/billing/billing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestLedger_FlatRateBalanceFollowsBookings(t *testing.T) {
	env := newTestEnv(t)
	ada := env.client(t, "Ada", "ada@example.com")
	contract := env.contract(t, ada, billing.RoomIndividual, "2019-01-01", billing.FlatRateTerms{})

	// GIVEN: a fresh 40h plan
	terms, ok := contract.FlatRate()
	require.True(t, ok)
	assert.Equal(t, "40.00", terms.TotalHours.StringFixed(2))
	assert.Equal(t, "9.00", terms.FlatRate.StringFixed(2))
	assert.Equal(t, "40.00", env.remaining(t, contract.ID))

	// WHEN: a 2h day is imported, twice
	src := source(cabinet, booking("ada@example.com", "2019-01-03", "10:00", "12:00"))
	report := env.importJanuary(t, src)
	env.importJanuary(t, src)

	// THEN: the booking is free and the balance is debited once
	require.Len(t, report.Created, 1)
	assert.True(t, report.Created[0].Price.IsZero())
	assert.Equal(t, "38.00", env.remaining(t, contract.ID))

	// AND: deleting the booking gives the hours back
	require.NoError(t, env.engine.DeleteDailyBooking(env.ctx, report.Created[0].ID))
	assert.Equal(t, "40.00", env.remaining(t, contract.ID))

	_, err := env.store.GetDailyBookingByID(env.ctx, report.Created[0].ID)
	assert.ErrorIs(t, err, billing.ErrNotFound)

	// AND: deleting it again changes nothing
	assert.ErrorIs(t, env.engine.DeleteDailyBooking(env.ctx, report.Created[0].ID), billing.ErrNotFound)
	assert.Equal(t, "40.00", env.remaining(t, contract.ID))
}

func TestLedger_OverdrawnPlanIsAllowed(t *testing.T) {
	env := newTestEnv(t)
	ada := env.client(t, "Ada", "ada@example.com")
	contract := env.contract(t, ada, billing.RoomIndividual, "2019-01-01", billing.FlatRateTerms{
		TotalHours: dec("40"), RemainingHours: dec("3"),
	})

	env.importJanuary(t, source(cabinet, booking("ada@example.com", "2019-01-03", "09:00", "13:30")))

	assert.Equal(t, "-1.50", env.remaining(t, contract.ID))
	warnings := env.logs.FilterMessage("flat rate balance below zero").FilterLevelExact(zapcore.WarnLevel)
	assert.Equal(t, 1, warnings.Len())
}

func TestLedger_StandardContractsHaveNoBalance(t *testing.T) {
	env := newTestEnv(t)
	ada := env.client(t, "Ada", "ada@example.com")
	contract := env.contract(t, ada, billing.RoomIndividual, "2019-01-01", billing.StandardTerms{})

	report := env.importJanuary(t, source(cabinet, booking("ada@example.com", "2019-01-03", "10:00", "11:00")))
	require.NoError(t, env.engine.DeleteDailyBooking(env.ctx, report.Created[0].ID))

	_, err := env.engine.Ledger.RemainingHours(env.ctx, contract.ID)
	assert.ErrorIs(t, err, billing.ErrInvalidContract)
	assert.Zero(t, env.logs.FilterMessage("updated flat rate remaining hours").Len())
}

func TestLedger_FrozenBookingsCannotBeDeleted(t *testing.T) {
	env := newTestEnv(t)
	ada := env.client(t, "Ada", "ada@example.com")
	contract := env.contract(t, ada, billing.RoomIndividual, "2019-01-01", billing.FlatRateTerms{})

	report := env.importJanuary(t, source(cabinet, booking("ada@example.com", "2019-01-03", "10:00", "12:00")))
	_, err := env.engine.GenerateInvoices(env.ctx, billing.NewPeriod(2019, 1), false)
	require.NoError(t, err)

	err = env.engine.DeleteDailyBooking(env.ctx, report.Created[0].ID)
	assert.ErrorIs(t, err, billing.ErrBookingFrozen)
	assert.True(t, billing.IsValidationError(err))
	assert.Equal(t, "38.00", env.remaining(t, contract.ID))
}

func TestLedger_DeleteCreditsThePricingContract(t *testing.T) {
	env := newTestEnv(t)
	ada := env.client(t, "Ada", "ada@example.com")
	first := env.contract(t, ada, billing.RoomIndividual, "2019-01-01", billing.FlatRateTerms{})
	report := env.importJanuary(t, source(cabinet, booking("ada@example.com", "2019-01-20", "10:00", "11:00")))
	require.Len(t, report.Created, 1)
	assert.Equal(t, first.ID, report.Created[0].ContractID)

	// GIVEN: a second plan starting before the booking, added afterwards
	second := env.contract(t, ada, billing.RoomIndividual, "2019-01-15", billing.FlatRateTerms{})

	// WHEN: the booking is deleted
	require.NoError(t, env.engine.DeleteDailyBooking(env.ctx, report.Created[0].ID))

	// THEN: the hours go back to the plan that paid for them
	assert.Equal(t, "40.00", env.remaining(t, first.ID))
	assert.Equal(t, "40.00", env.remaining(t, second.ID))
}

func TestLedger_ExhaustedPlanAtCreation(t *testing.T) {
	env := newTestEnv(t)
	ada := env.client(t, "Ada", "ada@example.com")

	exhausted := env.contract(t, ada, billing.RoomIndividual, "2019-01-01", billing.FlatRateTerms{RemainingGiven: true})
	assert.Equal(t, "0.00", env.remaining(t, exhausted.ID))

	terms, ok := exhausted.FlatRate()
	require.True(t, ok)
	assert.Equal(t, "40.00", terms.TotalHours.StringFixed(2))
}
