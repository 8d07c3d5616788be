/*
Package billing provides the pricing and invoicing engine of Le Grand Cèdre.

PURPOSE:
  Clients rent individual rooms ("cabinets") and collective rooms. Their
  bookings are imported from external calendars, aggregated per day, priced
  according to the client's contract, and invoiced once per calendar month.
  This package holds the domain types and the algorithms; persistence,
  calendars, document rendering and file storage are collaborators behind
  interfaces.

KEY CONCEPTS IN THIS FILE (types.go):
  - RoomType:     individual vs collective room category
  - Client:       the billed party (auto-provisioned on first import)
  - DailyBooking: per client, per day, per room category aggregate
  - Room/Expense: supporting records used by fixtures and balance sheets

DESIGN PRINCIPLES:
  1. Precision: every price, duration and balance is a decimal.Decimal,
     persisted as a string and rounded half-up to two digits.
  2. Idempotency: aggregates and invoices are keyed by unique constraints,
     re-running an import or an invoice batch is a no-op.
  3. Explicit units of work: the flat-rate balance only changes inside the
     transaction that inserts or deletes a booking (see ledger.go).

SEE ALSO:
  - contract.go: Contract tagged union
  - pricing.go: Pricing catalog
  - aggregator.go: Calendar import
  - invoice.go: Invoice generation
*/
package billing

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ROOM TYPE
// =============================================================================

type RoomType string

const (
	RoomIndividual RoomType = "individual"
	RoomCollective RoomType = "collective"
)

// RoomTypeFor maps the calendar "individual" flag to a room type.
func RoomTypeFor(individual bool) RoomType {
	if individual {
		return RoomIndividual
	}
	return RoomCollective
}

func (r RoomType) Individual() bool { return r == RoomIndividual }

// Label is the name operators see on documents.
func (r RoomType) Label() string {
	switch r {
	case RoomIndividual:
		return "Cabinet"
	case RoomCollective:
		return "Salle collective"
	default:
		return string(r)
	}
}

func ParseRoomType(s string) (RoomType, error) {
	switch RoomType(s) {
	case RoomIndividual, RoomCollective:
		return RoomType(s), nil
	}
	return "", fmt.Errorf("%w: unknown room type %q", ErrInvalidContract, s)
}

// =============================================================================
// CLIENT
// =============================================================================

type Client struct {
	ID          int64
	FirstName   string
	LastName    string
	Email       string
	PhoneNumber string
	Address     string
	ZipCode     string
	City        string
	IsOwner     bool
}

// MissingDetails reports whether the client lacks any detail required on an
// invoice. Such clients are never invoiced.
func (c Client) MissingDetails() bool {
	for _, v := range []string{c.FirstName, c.LastName, c.Address, c.ZipCode, c.City} {
		if strings.TrimSpace(v) == "" {
			return true
		}
	}
	return false
}

func (c Client) FullName() string {
	return strings.TrimSpace(c.FirstName + " " + c.LastName)
}

func (c Client) String() string {
	if name := c.FullName(); name != "" {
		return name
	}
	return c.Email
}

// =============================================================================
// DAILY BOOKING - The unit pricing and freezing operate on
// =============================================================================

// DailyBooking sums all of a client's calendar bookings for one room
// category on one day. Unique per (client, date, individual).
type DailyBooking struct {
	ID       int64
	ClientID int64
	// ContractID is the contract that priced the booking. Zero on rows
	// recorded before it was stored.
	ContractID    int64
	InvoiceID     *int64
	Date          time.Time
	DurationHours decimal.Decimal
	Price         decimal.Decimal
	Individual    bool
	Frozen        bool
}

// BookingKey is the idempotency key of a DailyBooking.
type BookingKey struct {
	ClientID   int64
	Date       string // YYYY-MM-DD
	Individual bool
}

func (b DailyBooking) Key() BookingKey {
	return BookingKey{ClientID: b.ClientID, Date: FormatDate(b.Date), Individual: b.Individual}
}

func (b DailyBooking) RoomType() RoomType { return RoomTypeFor(b.Individual) }

func (b DailyBooking) String() string {
	return fmt.Sprintf("[client %d] - %s - %s %sh",
		b.ClientID, FormatDate(b.Date), b.RoomType(), b.DurationHours.StringFixed(2))
}

// =============================================================================
// SUPPORTING RECORDS
// =============================================================================

// Room is a bookable room, each backed by one external calendar.
type Room struct {
	ID         int64
	Name       string
	Individual bool
	CalendarID string
}

// Expense is a manually recorded cost reported in balance sheets.
type Expense struct {
	ID    int64
	Date  time.Time
	Label string
	Price decimal.Decimal
}

// =============================================================================
// DECIMAL HELPERS
// =============================================================================

// Quantize rounds half-up to two fractional digits, the persisted precision
// of every price and duration.
func Quantize(d decimal.Decimal) decimal.Decimal { return d.Round(2) }

// MustParseDecimal parses s and panics on malformed input. Use it for
// literals only.
func MustParseDecimal(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
