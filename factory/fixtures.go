/*
Package factory provides JSON to Go conversion of billing reference data.

PURPOSE:
  Converts JSON definitions of pricing tables, clients, rooms and contracts
  into billing types and loads them through the engine. Operators keep the
  pricing grid in a versioned file instead of code.

JSON SCHEMA:
  {
    "pricings": [
      {"table": "individual_modular", "duration_from": 0, "duration_to": 1,
       "valid_from": "2019-01-01", "hourly_price": "10.90"},
      {"table": "flat_rate", "valid_from": "2019-01-01",
       "flat_rate": "9.00", "prepaid_hours": 40}
    ],
    "clients": [
      {"first_name": "Ada", "last_name": "L", "email": "ada@example.com",
       "address": "1 rue", "zip_code": "71000", "city": "Mâcon"}
    ],
    "rooms": [
      {"name": "Cabinet 1", "individual": true, "calendar_id": "cal-1"}
    ],
    "contracts": [
      {"client_email": "ada@example.com", "type": "standard",
       "room_type": "individual", "start_date": "2019-01-01"}
    ]
  }

  Decimals accept JSON numbers or strings. Recurring duration bands are in
  minutes of weekly hours, hourly bands in hours.

USAGE:
  f, err := factory.ParseFixtures(data)
  report, err := factory.Load(ctx, engine, f)

SEE ALSO:
  - defaults.go: the default pricing grid
  - billing/pricing.go: table semantics
*/
package factory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/grandcedre/billing/billing"
	"github.com/shopspring/decimal"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// FixturesJSON is a full reference data file.
type FixturesJSON struct {
	Pricings  []PricingJSON  `json:"pricings,omitempty"`
	Clients   []ClientJSON   `json:"clients,omitempty"`
	Rooms     []RoomJSON     `json:"rooms,omitempty"`
	Contracts []ContractJSON `json:"contracts,omitempty"`
}

// PricingJSON is one row of a pricing table.
type PricingJSON struct {
	Table        string           `json:"table"`
	DurationFrom decimal.Decimal  `json:"duration_from"`
	DurationTo   *decimal.Decimal `json:"duration_to,omitempty"` // nil = unbounded
	ValidFrom    string           `json:"valid_from"`
	ValidTo      string           `json:"valid_to,omitempty"`
	HourlyPrice  decimal.Decimal  `json:"hourly_price,omitempty"`
	MonthlyPrice decimal.Decimal  `json:"monthly_price,omitempty"`
	FlatRate     decimal.Decimal  `json:"flat_rate,omitempty"`
	PrepaidHours int              `json:"prepaid_hours,omitempty"`
}

type ClientJSON struct {
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Email       string `json:"email"`
	PhoneNumber string `json:"phone_number,omitempty"`
	Address     string `json:"address,omitempty"`
	ZipCode     string `json:"zip_code,omitempty"`
	City        string `json:"city,omitempty"`
	IsOwner     bool   `json:"is_owner,omitempty"`
}

type RoomJSON struct {
	Name       string `json:"name"`
	Individual bool   `json:"individual"`
	CalendarID string `json:"calendar_id"`
}

// ContractJSON references its client by email.
type ContractJSON struct {
	ClientEmail string `json:"client_email"`
	Type        string `json:"type"`
	RoomType    string `json:"room_type"`
	StartDate   string `json:"start_date"`
	EndDate     string `json:"end_date,omitempty"`

	WeeklyHours    int              `json:"weekly_hours,omitempty"`    // recurring
	TotalHours     *decimal.Decimal `json:"total_hours,omitempty"`     // flat_rate, defaults to the plan
	RemainingHours *decimal.Decimal `json:"remaining_hours,omitempty"` // flat_rate, defaults to total
}

// =============================================================================
// PARSING
// =============================================================================

// ParseFixtures decodes a reference data file.
func ParseFixtures(data []byte) (FixturesJSON, error) {
	var f FixturesJSON
	if err := json.Unmarshal(data, &f); err != nil {
		return f, fmt.Errorf("failed to parse fixtures JSON: %w", err)
	}
	return f, nil
}

// ReadFixtures decodes the reference data file at path.
func ReadFixtures(path string) (FixturesJSON, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return FixturesJSON{}, err
	}
	return ParseFixtures(data)
}

// ToPricing converts a JSON pricing row and validates it.
func (pj PricingJSON) ToPricing() (billing.Pricing, error) {
	table, err := billing.ParsePricingTable(pj.Table)
	if err != nil {
		return billing.Pricing{}, err
	}
	validFrom, err := billing.ParseDate(pj.ValidFrom)
	if err != nil {
		return billing.Pricing{}, fmt.Errorf("%w: valid_from: %v", billing.ErrInvalidPricing, err)
	}
	validTo, err := parseOptionalDate(pj.ValidTo)
	if err != nil {
		return billing.Pricing{}, fmt.Errorf("%w: valid_to: %v", billing.ErrInvalidPricing, err)
	}

	p := billing.Pricing{
		Table:        table,
		DurationFrom: pj.DurationFrom,
		DurationTo:   pj.DurationTo,
		ValidFrom:    validFrom,
		ValidTo:      validTo,
		HourlyPrice:  pj.HourlyPrice,
		MonthlyPrice: pj.MonthlyPrice,
		FlatRate:     pj.FlatRate,
		PrepaidHours: pj.PrepaidHours,
	}
	return p, p.Validate()
}

func (cj ClientJSON) ToClient() billing.Client {
	return billing.Client{
		FirstName:   strings.TrimSpace(cj.FirstName),
		LastName:    strings.TrimSpace(cj.LastName),
		Email:       strings.ToLower(strings.TrimSpace(cj.Email)),
		PhoneNumber: cj.PhoneNumber,
		Address:     cj.Address,
		ZipCode:     cj.ZipCode,
		City:        cj.City,
		IsOwner:     cj.IsOwner,
	}
}

func (rj RoomJSON) ToRoom() billing.Room {
	return billing.Room{Name: rj.Name, Individual: rj.Individual, CalendarID: rj.CalendarID}
}

// ToContract converts a JSON contract for clientID. Prices fixed at
// creation are resolved later by Engine.CreateContract.
func (cj ContractJSON) ToContract(clientID int64) (billing.Contract, error) {
	ct := billing.ContractStandard
	if cj.Type != "" {
		var err error
		if ct, err = billing.ParseContractType(cj.Type); err != nil {
			return billing.Contract{}, err
		}
	}
	rt, err := billing.ParseRoomType(cj.RoomType)
	if err != nil {
		return billing.Contract{}, err
	}
	start, err := billing.ParseDate(cj.StartDate)
	if err != nil {
		return billing.Contract{}, fmt.Errorf("%w: start_date: %v", billing.ErrInvalidContract, err)
	}
	end, err := parseOptionalDate(cj.EndDate)
	if err != nil {
		return billing.Contract{}, fmt.Errorf("%w: end_date: %v", billing.ErrInvalidContract, err)
	}

	c := billing.Contract{ClientID: clientID, RoomType: rt, StartDate: start, EndDate: end}
	switch ct {
	case billing.ContractStandard:
		c.Terms = billing.StandardTerms{}
	case billing.ContractOneShot:
		c.Terms = billing.OneShotTerms{}
	case billing.ContractExchange:
		c.Terms = billing.ExchangeTerms{}
	case billing.ContractRecurring:
		c.Terms = billing.RecurringTerms{WeeklyHours: cj.WeeklyHours}
	case billing.ContractFlatRate:
		t := billing.FlatRateTerms{}
		if cj.TotalHours != nil {
			t.TotalHours = *cj.TotalHours
		}
		if cj.RemainingHours != nil {
			t.RemainingHours = *cj.RemainingHours
			t.RemainingGiven = true
		}
		c.Terms = t
	}
	return c, c.Validate()
}

func parseOptionalDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := billing.ParseDate(s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// =============================================================================
// LOADING
// =============================================================================

// LoadReport counts what Load created.
type LoadReport struct {
	Pricings  int
	Clients   int
	Rooms     int
	Contracts int
	// Existing clients and contracts are left untouched.
	ExistingClients   int
	ExistingContracts int
}

// Load creates the fixtures through the engine. Clients are matched by
// email and contracts by (client, start date, room type), so loading the
// same file twice only adds pricings that were not defined yet.
func Load(ctx context.Context, engine *billing.Engine, f FixturesJSON) (LoadReport, error) {
	var report LoadReport

	for i, pj := range f.Pricings {
		p, err := pj.ToPricing()
		if err != nil {
			return report, fmt.Errorf("pricing #%d: %w", i, err)
		}
		exists, err := pricingExists(ctx, engine.Store, p)
		if err != nil {
			return report, err
		}
		if exists {
			continue
		}
		if err := engine.AddPricing(ctx, &p); err != nil {
			return report, fmt.Errorf("pricing #%d: %w", i, err)
		}
		report.Pricings++
	}

	for _, cj := range f.Clients {
		c := cj.ToClient()
		_, err := engine.Store.GetClientByEmail(ctx, c.Email)
		if err == nil {
			report.ExistingClients++
			continue
		}
		if !billing.IsNotFound(err) {
			return report, err
		}
		if err := engine.CreateClient(ctx, &c); err != nil {
			return report, err
		}
		report.Clients++
	}

	for _, rj := range f.Rooms {
		r := rj.ToRoom()
		if err := engine.Store.SaveRoom(ctx, &r); err != nil {
			return report, err
		}
		report.Rooms++
	}

	for i, cj := range f.Contracts {
		client, err := engine.Store.GetClientByEmail(ctx, cj.ClientEmail)
		if err != nil {
			return report, fmt.Errorf("contract #%d: client %s: %w", i, cj.ClientEmail, err)
		}
		c, err := cj.ToContract(client.ID)
		if err != nil {
			return report, fmt.Errorf("contract #%d: %w", i, err)
		}
		err = engine.CreateContract(ctx, &c)
		if errors.Is(err, billing.ErrDuplicateContract) {
			report.ExistingContracts++
			continue
		}
		if err != nil {
			return report, fmt.Errorf("contract #%d: %w", i, err)
		}
		report.Contracts++
	}
	return report, nil
}

func pricingExists(ctx context.Context, source billing.PricingSource, p billing.Pricing) (bool, error) {
	rows, err := source.ListPricings(ctx, p.Table)
	if err != nil {
		return false, err
	}
	for _, r := range rows {
		if samePricing(r, p) {
			return true, nil
		}
	}
	return false, nil
}

// samePricing compares the matching key of two rows: band and validity start.
func samePricing(a, b billing.Pricing) bool {
	if !a.DurationFrom.Equal(b.DurationFrom) || !a.ValidFrom.Equal(b.ValidFrom) {
		return false
	}
	if (a.DurationTo == nil) != (b.DurationTo == nil) {
		return false
	}
	return a.DurationTo == nil || a.DurationTo.Equal(*b.DurationTo)
}
