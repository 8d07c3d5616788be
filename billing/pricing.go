/*
pricing.go - Pricing catalog

PURPOSE:
  Holds time-bounded price entries and answers "which price applies" for a
  contract type, a room type, a duration and a date.

TABLES:
  individual_modular     hourly tiers, individual rooms (standard, one-shot)
  collective_regular     hourly tiers, collective rooms (standard)
  collective_occasional  hourly tiers, collective rooms (one-shot)
  recurring              monthly tiers, bands in MINUTES of weekly hours
  flat_rate              prepaid plans, selected by validity window only
  exchange               constant free pricing, never stored

MATCHING:
  duration_from < duration <= duration_to (duration_to nil = unbounded)
  valid_from <= date and (valid_to nil or valid_to >= date)
  Zero matches is NoMatchingPriceError; more than one is ErrAmbiguousPrice.

SEE ALSO:
  - contract.go: which terms defer to the catalog
  - factory/fixtures.go, factory/defaults.go: JSON fixtures for the tables
*/
package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// PRICING TABLES
// =============================================================================

type PricingTable string

const (
	TableIndividualModular    PricingTable = "individual_modular"
	TableCollectiveRegular    PricingTable = "collective_regular"
	TableCollectiveOccasional PricingTable = "collective_occasional"
	TableRecurring            PricingTable = "recurring"
	TableFlatRate             PricingTable = "flat_rate"
	TableExchange             PricingTable = "exchange"
)

// IsHourly reports tables priced as hourly_price x duration.
func (t PricingTable) IsHourly() bool {
	switch t {
	case TableIndividualModular, TableCollectiveRegular, TableCollectiveOccasional:
		return true
	}
	return false
}

func ParsePricingTable(s string) (PricingTable, error) {
	t := PricingTable(s)
	switch t {
	case TableIndividualModular, TableCollectiveRegular, TableCollectiveOccasional, TableRecurring, TableFlatRate:
		return t, nil
	}
	return "", fmt.Errorf("%w: unknown pricing table %q", ErrInvalidPricing, s)
}

// TableFor maps a contract type and a room type to exactly one table.
func TableFor(ct ContractType, rt RoomType) (PricingTable, error) {
	switch ct {
	case ContractStandard:
		if rt == RoomIndividual {
			return TableIndividualModular, nil
		}
		return TableCollectiveRegular, nil
	case ContractOneShot:
		if rt == RoomIndividual {
			return TableIndividualModular, nil
		}
		return TableCollectiveOccasional, nil
	case ContractExchange:
		return TableExchange, nil
	case ContractRecurring:
		return TableRecurring, nil
	case ContractFlatRate:
		return TableFlatRate, nil
	}
	return "", fmt.Errorf("%w: unknown contract type %q", ErrInvalidContract, ct)
}

// =============================================================================
// PRICING ENTRY
// =============================================================================

// Pricing is one row of a pricing table. Historical rows are closed with
// ValidTo rather than deleted so past invoices stay reproducible.
type Pricing struct {
	ID           int64
	Table        PricingTable
	DurationFrom decimal.Decimal
	DurationTo   *decimal.Decimal
	ValidFrom    time.Time
	ValidTo      *time.Time

	HourlyPrice  decimal.Decimal // hourly tables
	MonthlyPrice decimal.Decimal // recurring
	FlatRate     decimal.Decimal // flat_rate, per prepaid hour
	PrepaidHours int             // flat_rate
}

// FreePricing is the constant pricing of exchange contracts.
var FreePricing = Pricing{Table: TableExchange}

// ValidOn reports whether date falls within the validity window.
func (p Pricing) ValidOn(date time.Time) bool {
	d := Day(date)
	if d.Before(Day(p.ValidFrom)) {
		return false
	}
	return p.ValidTo == nil || !d.After(Day(*p.ValidTo))
}

// Covers reports whether duration falls in the half-open band.
func (p Pricing) Covers(duration decimal.Decimal) bool {
	if !duration.GreaterThan(p.DurationFrom) {
		return false
	}
	return p.DurationTo == nil || duration.LessThanOrEqual(*p.DurationTo)
}

// DailyBookingPrice is what one daily booking costs under this entry.
func (p Pricing) DailyBookingPrice(hours decimal.Decimal) decimal.Decimal {
	switch p.Table {
	case TableIndividualModular, TableCollectiveRegular, TableCollectiveOccasional:
		return Quantize(p.HourlyPrice.Mul(hours))
	case TableFlatRate, TableRecurring, TableExchange:
		return decimal.Zero
	}
	return decimal.Zero
}

// PlanCost is flat_rate x prepaid_hours, for flat-rate plans.
func (p Pricing) PlanCost() decimal.Decimal {
	return Quantize(p.FlatRate.Mul(decimal.NewFromInt(int64(p.PrepaidHours))))
}

func (p Pricing) Validate() error {
	if _, err := ParsePricingTable(string(p.Table)); err != nil {
		return err
	}
	if p.ValidFrom.IsZero() {
		return fmt.Errorf("%w: valid_from is required", ErrInvalidPricing)
	}
	if p.ValidTo != nil && Day(p.ValidTo.UTC()).Before(Day(p.ValidFrom)) {
		return ErrInvalidDates
	}
	if p.DurationTo != nil && !p.DurationTo.GreaterThan(p.DurationFrom) {
		return fmt.Errorf("%w: duration_to must be greater than duration_from", ErrInvalidPricing)
	}
	switch p.Table {
	case TableFlatRate:
		if p.PrepaidHours <= 0 || !p.FlatRate.IsPositive() {
			return fmt.Errorf("%w: flat rate plan needs a rate and prepaid hours", ErrInvalidPricing)
		}
	case TableRecurring:
		if p.MonthlyPrice.IsNegative() {
			return fmt.Errorf("%w: negative monthly price", ErrInvalidPricing)
		}
	default:
		if p.HourlyPrice.IsNegative() {
			return fmt.Errorf("%w: negative hourly price", ErrInvalidPricing)
		}
	}
	return nil
}

func (p Pricing) String() string {
	to := "∞"
	if p.DurationTo != nil {
		to = p.DurationTo.String()
	}
	switch p.Table {
	case TableFlatRate:
		return fmt.Sprintf("%s: %dh - %se", p.Table, p.PrepaidHours, p.FlatRate.StringFixed(2))
	case TableRecurring:
		return fmt.Sprintf("%s: ]%smin -> %smin] %se", p.Table, p.DurationFrom, to, p.MonthlyPrice.StringFixed(2))
	default:
		return fmt.Sprintf("%s: ]%sh -> %sh] %se", p.Table, p.DurationFrom, to, p.HourlyPrice.StringFixed(2))
	}
}

// =============================================================================
// CATALOG
// =============================================================================

// PricingSource lists the rows of one pricing table.
type PricingSource interface {
	ListPricings(ctx context.Context, table PricingTable) ([]Pricing, error)
}

type Catalog struct {
	source PricingSource
}

func NewCatalog(source PricingSource) *Catalog {
	return &Catalog{source: source}
}

// Resolve returns the pricing entry for (contract type, room type, duration,
// date). For recurring contracts, duration is the weekly commitment in hours
// and is matched against minute bands. For flat-rate contracts the duration
// is ignored.
func (c *Catalog) Resolve(ctx context.Context, ct ContractType, rt RoomType, duration decimal.Decimal, date time.Time) (Pricing, error) {
	table, err := TableFor(ct, rt)
	if err != nil {
		return Pricing{}, err
	}
	if table == TableExchange {
		return FreePricing, nil
	}

	rows, err := c.source.ListPricings(ctx, table)
	if err != nil {
		return Pricing{}, fmt.Errorf("failed to list %s pricings: %w", table, err)
	}

	band := duration
	if table == TableRecurring {
		band = duration.Mul(decimal.NewFromInt(60))
	}

	var matches []Pricing
	for _, p := range rows {
		if !p.ValidOn(date) {
			continue
		}
		if table != TableFlatRate && !p.Covers(band) {
			continue
		}
		matches = append(matches, p)
	}

	switch len(matches) {
	case 0:
		return Pricing{}, &NoMatchingPriceError{Table: table, Duration: duration, Date: date}
	case 1:
		return matches[0], nil
	default:
		return Pricing{}, fmt.Errorf("%w: %d %s entries match %sh on %s",
			ErrAmbiguousPrice, len(matches), table, duration, FormatDate(date))
	}
}

// ResolvePrice is Resolve followed by the entry's daily booking price.
func (c *Catalog) ResolvePrice(ctx context.Context, ct ContractType, rt RoomType, duration decimal.Decimal, date time.Time) (decimal.Decimal, error) {
	p, err := c.Resolve(ctx, ct, rt, duration, date)
	if err != nil {
		return decimal.Zero, err
	}
	return p.DailyBookingPrice(duration), nil
}

// BookingPrice prices one daily booking under a contract.
func (c *Catalog) BookingPrice(ctx context.Context, contract Contract, hours decimal.Decimal, date time.Time) (decimal.Decimal, error) {
	switch t := contract.Terms.(type) {
	case nil, StandardTerms, OneShotTerms:
		return c.ResolvePrice(ctx, contract.Type(), contract.RoomType, hours, date)
	case ExchangeTerms:
		return decimal.Zero, nil
	case RecurringTerms, FlatRateTerms:
		// Billed through the monthly price or the prepaid plan.
		return decimal.Zero, nil
	default:
		return decimal.Zero, fmt.Errorf("%w: unsupported terms %T", ErrInvalidContract, t)
	}
}
