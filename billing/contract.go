package billing

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// CONTRACT TYPE
// =============================================================================

type ContractType string

const (
	ContractStandard  ContractType = "standard"
	ContractOneShot   ContractType = "one_shot"
	ContractExchange  ContractType = "exchange"
	ContractRecurring ContractType = "recurring"
	ContractFlatRate  ContractType = "flat_rate"
)

func (t ContractType) Label() string {
	switch t {
	case ContractStandard:
		return "Standard"
	case ContractOneShot:
		return "Réservation occasionelle"
	case ContractExchange:
		return "Échange"
	case ContractRecurring:
		return "Occupation récurrente"
	case ContractFlatRate:
		return "Forfait"
	default:
		return string(t)
	}
}

func ParseContractType(s string) (ContractType, error) {
	switch ContractType(s) {
	case ContractStandard, ContractOneShot, ContractExchange, ContractRecurring, ContractFlatRate:
		return ContractType(s), nil
	}
	return "", fmt.Errorf("%w: unknown contract type %q", ErrInvalidContract, s)
}

// =============================================================================
// TERMS - One variant per contract type, each carrying only its own fields
// =============================================================================

// Terms is the closed set of contract variants. Only this package provides
// implementations; code dispatching on terms uses an exhaustive type switch.
type Terms interface {
	contractType() ContractType
}

// StandardTerms prices every daily booking from the hourly tables.
type StandardTerms struct{}

// OneShotTerms is a single occasional collective booking, priced from the
// occasional-rate table.
type OneShotTerms struct{}

// ExchangeTerms is always free.
type ExchangeTerms struct{}

// RecurringTerms is a fixed weekly-hours commitment billed monthly. The
// monthly price is resolved once when the contract is created.
type RecurringTerms struct {
	WeeklyHours  int
	PricingID    int64
	MonthlyPrice decimal.Decimal
}

// FlatRateTerms is a prepaid pool of hours on an individual room.
// RemainingHours is only changed by Ledger.RecordBooking/DeleteBooking.
type FlatRateTerms struct {
	PricingID      int64
	FlatRate       decimal.Decimal
	PrepaidHours   int
	TotalHours     decimal.Decimal
	RemainingHours decimal.Decimal
	// RemainingGiven keeps a zero RemainingHours at creation instead of
	// defaulting it to TotalHours. Not persisted.
	RemainingGiven bool
}

func (StandardTerms) contractType() ContractType  { return ContractStandard }
func (OneShotTerms) contractType() ContractType   { return ContractOneShot }
func (ExchangeTerms) contractType() ContractType  { return ContractExchange }
func (RecurringTerms) contractType() ContractType { return ContractRecurring }
func (FlatRateTerms) contractType() ContractType  { return ContractFlatRate }

// PlanCost is the price of the prepaid plan, independent of usage.
func (t FlatRateTerms) PlanCost() decimal.Decimal {
	return Quantize(t.FlatRate.Mul(decimal.NewFromInt(int64(t.PrepaidHours))))
}

// =============================================================================
// CONTRACT
// =============================================================================

// Contract binds a client to a room type from a start date. At most one
// contract exists per (client, start date, room type).
type Contract struct {
	ID        int64
	ClientID  int64
	RoomType  RoomType
	StartDate time.Time
	EndDate   *time.Time
	Terms     Terms
}

// Type is derived from the terms, contracts without terms are standard.
func (c Contract) Type() ContractType {
	if c.Terms == nil {
		return ContractStandard
	}
	return c.Terms.contractType()
}

// FlatRate returns the flat-rate terms when the contract is one.
func (c Contract) FlatRate() (FlatRateTerms, bool) {
	t, ok := c.Terms.(FlatRateTerms)
	return t, ok
}

// ActiveOn reports whether the contract covers date.
func (c Contract) ActiveOn(date time.Time) bool {
	d := Day(date)
	if d.Before(Day(c.StartDate)) {
		return false
	}
	return c.EndDate == nil || !d.After(Day(*c.EndDate))
}

// Validate checks the data-entry invariants of a contract.
func (c Contract) Validate() error {
	if _, err := ParseRoomType(string(c.RoomType)); err != nil {
		return err
	}
	if c.StartDate.IsZero() {
		return fmt.Errorf("%w: start date is required", ErrInvalidContract)
	}
	if c.EndDate != nil && !Day(c.StartDate).Before(Day(*c.EndDate)) {
		return ErrInvalidDates
	}

	switch t := c.Terms.(type) {
	case nil, StandardTerms, OneShotTerms, ExchangeTerms:
		return nil
	case RecurringTerms:
		if t.WeeklyHours <= 0 {
			return fmt.Errorf("%w: recurring contract needs weekly hours", ErrInvalidContract)
		}
		return nil
	case FlatRateTerms:
		if c.RoomType != RoomIndividual {
			return fmt.Errorf("%w: flat rate contracts are for individual rooms only", ErrInvalidContract)
		}
		return nil
	default:
		return fmt.Errorf("%w: unsupported terms %T", ErrInvalidContract, t)
	}
}

func (c Contract) String() string {
	return fmt.Sprintf("contract %d: client %d: %s: %s:%s",
		c.ID, c.ClientID, FormatDate(c.StartDate), c.Type(), c.RoomType)
}
