/*
errors.go - Centralized error types for the billing engine

ERROR CATEGORIES:
  1. Batch errors - recoverable per unit (booking, day, contract); logged and
     skipped, never abort an import or invoice run
  2. Validation errors - data entry mistakes surfaced to the operator
  3. Store errors - lookups that found nothing, duplicate inserts

USAGE:
  if errors.Is(err, billing.ErrNoMatchingPrice) {
      // skip this day, keep going
  }
*/
package billing

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNoMatchingPrice is returned when no pricing entry covers a duration
	// on a date. Booking it is not possible until an operator adds a price.
	ErrNoMatchingPrice = errors.New("no matching price")

	// ErrAmbiguousPrice is returned when more than one pricing entry covers a
	// duration on a date, which means overlapping validity windows.
	ErrAmbiguousPrice = errors.New("ambiguous price")

	// ErrNoContractFound is returned when a booking has no applicable contract.
	ErrNoContractFound = errors.New("no contract found")

	// ErrMissingClientDetails blocks invoice issuance for a client.
	ErrMissingClientDetails = errors.New("missing client details")

	// ErrInvalidDates is returned when a start date is not before its end date.
	ErrInvalidDates = errors.New("start date must be before end date")

	// ErrPaymentReference is returned when both a check number and a wire
	// transfer number are given for one payment.
	ErrPaymentReference = errors.New("check number and wire transfer number are mutually exclusive")

	// ErrInvalidContract is returned for contracts whose terms do not fit
	// their room type or are incomplete.
	ErrInvalidContract = errors.New("invalid contract")

	// ErrInvalidPricing is returned for malformed pricing entries.
	ErrInvalidPricing = errors.New("invalid pricing")

	// ErrInvalidClient is returned for clients without an email.
	ErrInvalidClient = errors.New("invalid client")

	// ErrInvalidExpense is returned for expenses without a date or a label.
	ErrInvalidExpense = errors.New("invalid expense")

	// ErrDuplicateContract is returned when a contract already exists for the
	// same client, start date and room type.
	ErrDuplicateContract = errors.New("duplicate contract")

	// ErrBookingFrozen is returned when deleting a booking already invoiced.
	ErrBookingFrozen = errors.New("booking is frozen")

	// ErrInvalidPeriod is returned for malformed "YYYY-MM" periods.
	ErrInvalidPeriod = errors.New("invalid period")

	// ErrAllDayEvent is returned when parsing an event with no time of day.
	ErrAllDayEvent = errors.New("event has no time of day")

	// ErrNotFound is returned by stores when a record does not exist.
	ErrNotFound = errors.New("not found")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// NoMatchingPriceError describes the lookup that found no price.
type NoMatchingPriceError struct {
	Table    PricingTable
	Duration decimal.Decimal
	Date     time.Time
}

func (e *NoMatchingPriceError) Error() string {
	return fmt.Sprintf("no pricing could be found in %s for %sh on %s",
		e.Table, e.Duration.String(), FormatDate(e.Date))
}

func (e *NoMatchingPriceError) Unwrap() error { return ErrNoMatchingPrice }

// NoContractError describes a booking dropped for lack of a contract.
type NoContractError struct {
	ClientID int64
	RoomType RoomType
	Date     time.Time
}

func (e *NoContractError) Error() string {
	return fmt.Sprintf("no %s contract for client %d on %s", e.RoomType, e.ClientID, FormatDate(e.Date))
}

func (e *NoContractError) Unwrap() error { return ErrNoContractFound }

// MissingDetailsError names the client that cannot be invoiced.
type MissingDetailsError struct {
	Client Client
}

func (e *MissingDetailsError) Error() string {
	return fmt.Sprintf("client %s is missing invoicing details", e.Client)
}

func (e *MissingDetailsError) Unwrap() error { return ErrMissingClientDetails }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsValidationError returns true if the error is due to invalid operator input.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidDates) ||
		errors.Is(err, ErrPaymentReference) ||
		errors.Is(err, ErrInvalidContract) ||
		errors.Is(err, ErrInvalidPricing) ||
		errors.Is(err, ErrInvalidClient) ||
		errors.Is(err, ErrInvalidExpense) ||
		errors.Is(err, ErrInvalidPeriod) ||
		errors.Is(err, ErrDuplicateContract) ||
		errors.Is(err, ErrBookingFrozen)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
