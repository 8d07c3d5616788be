package factory_test

import (
	"context"
	"testing"

	"github.com/grandcedre/billing/billing"
	"github.com/grandcedre/billing/factory"
	"github.com/grandcedre/billing/store/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const sample = `{
  "pricings": [
    {"table": "individual_modular", "duration_from": 0, "duration_to": "1", "valid_from": "2019-01-01", "hourly_price": 10.9},
    {"table": "flat_rate", "valid_from": "2019-01-01", "flat_rate": "9.00", "prepaid_hours": 40}
  ],
  "clients": [
    {"first_name": " Ada ", "last_name": "L", "email": "Ada@Example.com", "address": "1 rue", "zip_code": "71000", "city": "Mâcon"}
  ],
  "rooms": [
    {"name": "Cabinet 1", "individual": true, "calendar_id": "cab-1"}
  ],
  "contracts": [
    {"client_email": "ada@example.com", "type": "flat_rate", "room_type": "individual", "start_date": "2019-01-01", "remaining_hours": 12.5}
  ]
}`

func newEngine(t *testing.T) *billing.Engine {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return billing.NewEngine(store, zaptest.NewLogger(t))
}

func TestParseFixtures(t *testing.T) {
	f, err := factory.ParseFixtures([]byte(sample))
	require.NoError(t, err)

	p, err := f.Pricings[0].ToPricing()
	require.NoError(t, err)
	assert.Equal(t, billing.TableIndividualModular, p.Table)
	assert.Equal(t, "10.90", p.HourlyPrice.StringFixed(2))
	require.NotNil(t, p.DurationTo)
	assert.Equal(t, "1", p.DurationTo.String())

	c := f.Clients[0].ToClient()
	assert.Equal(t, "ada@example.com", c.Email)
	assert.Equal(t, "Ada", c.FirstName)

	contract, err := f.Contracts[0].ToContract(7)
	require.NoError(t, err)
	assert.Equal(t, billing.ContractFlatRate, contract.Type())
	assert.Equal(t, int64(7), contract.ClientID)

	_, err = factory.ParseFixtures([]byte(`{"pricings": [`))
	assert.Error(t, err)
}

func TestConversionErrors(t *testing.T) {
	tests := []struct {
		name string
		run  func() error
		err  error
	}{
		{"unknown table", func() error {
			_, err := factory.PricingJSON{Table: "weekly", ValidFrom: "2019-01-01"}.ToPricing()
			return err
		}, billing.ErrInvalidPricing},
		{"bad valid_from", func() error {
			_, err := factory.PricingJSON{Table: "recurring", ValidFrom: "01/01/2019"}.ToPricing()
			return err
		}, billing.ErrInvalidPricing},
		{"unknown contract type", func() error {
			_, err := factory.ContractJSON{Type: "weekly", RoomType: "individual", StartDate: "2019-01-01"}.ToContract(1)
			return err
		}, billing.ErrInvalidContract},
		{"unknown room type", func() error {
			_, err := factory.ContractJSON{RoomType: "garage", StartDate: "2019-01-01"}.ToContract(1)
			return err
		}, billing.ErrInvalidContract},
		{"end before start", func() error {
			_, err := factory.ContractJSON{RoomType: "individual", StartDate: "2019-02-01", EndDate: "2019-01-01"}.ToContract(1)
			return err
		}, billing.ErrInvalidDates},
		{"collective flat rate", func() error {
			_, err := factory.ContractJSON{Type: "flat_rate", RoomType: "collective", StartDate: "2019-01-01"}.ToContract(1)
			return err
		}, billing.ErrInvalidContract},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.run(), tt.err)
		})
	}
}

func TestLoadIsIdempotent(t *testing.T) {
	engine := newEngine(t)
	ctx := context.Background()
	f, err := factory.ParseFixtures([]byte(sample))
	require.NoError(t, err)

	// WHEN: the same file is loaded twice
	first, err := factory.Load(ctx, engine, f)
	require.NoError(t, err)
	second, err := factory.Load(ctx, engine, f)
	require.NoError(t, err)

	// THEN: the second load only finds what the first created
	assert.Equal(t, factory.LoadReport{Pricings: 2, Clients: 1, Rooms: 1, Contracts: 1}, first)
	assert.Equal(t, factory.LoadReport{Rooms: 1, ExistingClients: 1, ExistingContracts: 1}, second)

	// AND: the flat rate plan kept the given balance
	contracts, err := engine.Store.ListContracts(ctx)
	require.NoError(t, err)
	require.Len(t, contracts, 1)
	terms, ok := contracts[0].FlatRate()
	require.True(t, ok)
	assert.Equal(t, "40.00", terms.TotalHours.StringFixed(2))
	assert.Equal(t, "12.50", terms.RemainingHours.StringFixed(2))
	assert.Equal(t, "360.00", terms.PlanCost().StringFixed(2))
}

func TestLoadUnknownClient(t *testing.T) {
	engine := newEngine(t)
	f := factory.FixturesJSON{Contracts: []factory.ContractJSON{{
		ClientEmail: "nobody@example.com", RoomType: "individual", StartDate: "2019-01-01",
	}}}

	_, err := factory.Load(context.Background(), engine, f)
	assert.ErrorIs(t, err, billing.ErrNotFound)
}

func TestDefaultFixtures(t *testing.T) {
	f := factory.DefaultFixtures()
	counts := map[string]int{}
	for _, pj := range f.Pricings {
		p, err := pj.ToPricing()
		require.NoError(t, err, pj.Table)
		counts[string(p.Table)]++
	}
	assert.Equal(t, map[string]int{
		"individual_modular":    4,
		"collective_regular":    8,
		"collective_occasional": 3,
		"recurring":             3,
		"flat_rate":             1,
	}, counts)
	assert.Empty(t, f.Clients)
}

func TestExplicitZeroRemainingHours(t *testing.T) {
	f, err := factory.ParseFixtures([]byte(`{"contracts": [
		{"client_email": "ada@example.com", "type": "flat_rate", "room_type": "individual", "start_date": "2019-01-01", "remaining_hours": 0}
	]}`))
	require.NoError(t, err)

	c, err := f.Contracts[0].ToContract(1)
	require.NoError(t, err)
	terms, ok := c.FlatRate()
	require.True(t, ok)
	assert.True(t, terms.RemainingGiven)
	assert.True(t, terms.RemainingHours.IsZero())
}
