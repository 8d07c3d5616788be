/*
ledger.go - Prepaid hours of flat-rate contracts

PURPOSE:
  A flat-rate contract carries a pool of prepaid hours. Its remaining_hours
  balance moves only with the daily bookings that exist under it:

    RecordBooking:  insert booking  + remaining_hours -= booking hours
    DeleteBooking:  delete booking  + remaining_hours += booking hours

  Each pair runs in one transaction, so the balance and the set of bookings
  cannot diverge. The compensating update happens at the call site rather
  than in a storage hook.

CRITICAL INVARIANTS:
  1. The decrement is applied only when the booking row is newly inserted.
     Re-importing a known day never touches the balance.
  2. The increment is applied only when a row is actually deleted.
  3. Going below zero is allowed and logged as a warning.

SEE ALSO:
  - aggregator.go: the only caller of RecordBooking during imports
  - store.go: SetRemainingHours
*/
package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// =============================================================================
// LEDGER
// =============================================================================

type Ledger struct {
	store Store
	log   *zap.Logger
}

func NewLedger(store Store, log *zap.Logger) *Ledger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Ledger{store: store, log: log.Named("ledger")}
}

// RecordBooking persists a new daily booking under contract. created is
// false when a booking with the same key already existed, in which case
// nothing is written.
func (l *Ledger) RecordBooking(ctx context.Context, b *DailyBooking, contract Contract) (created bool, err error) {
	b.DurationHours = Quantize(b.DurationHours)
	b.Price = Quantize(b.Price)
	b.ContractID = contract.ID

	err = l.store.WithTx(ctx, func(s Store) error {
		var err error
		created, err = s.InsertDailyBooking(ctx, b)
		if err != nil {
			return err
		}
		if !created {
			return nil
		}
		if _, ok := contract.FlatRate(); ok {
			return l.acknowledgeBooking(ctx, s, contract.ID, b)
		}
		return nil
	})
	return created, err
}

// DeleteBooking removes an unfrozen daily booking and, under a flat-rate
// contract, gives its hours back.
func (l *Ledger) DeleteBooking(ctx context.Context, id int64) error {
	return l.store.WithTx(ctx, func(s Store) error {
		b, err := s.GetDailyBookingByID(ctx, id)
		if err != nil {
			return err
		}
		if b.Frozen {
			return fmt.Errorf("%w: %s", ErrBookingFrozen, b)
		}

		contract, err := bookingContract(ctx, s, *b)
		if err != nil {
			return err
		}

		if err := s.DeleteDailyBooking(ctx, id); err != nil {
			return err
		}
		if contract == nil {
			return nil
		}
		if _, ok := contract.FlatRate(); ok {
			return l.releaseBooking(ctx, s, contract.ID, b)
		}
		return nil
	})
}

// bookingContract returns the contract that priced b, nil when none did.
// Bookings without a recorded contract fall back to the date lookup.
func bookingContract(ctx context.Context, s Store, b DailyBooking) (*Contract, error) {
	var (
		contract *Contract
		err      error
	)
	if b.ContractID != 0 {
		contract, err = s.GetContract(ctx, b.ContractID)
	} else {
		contract, err = s.LatestContract(ctx, b.ClientID, b.RoomType(), b.Date)
	}
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return contract, err
}

// RemainingHours reads the current flat-rate balance of a contract.
func (l *Ledger) RemainingHours(ctx context.Context, contractID int64) (decimal.Decimal, error) {
	c, err := l.store.GetContract(ctx, contractID)
	if err != nil {
		return decimal.Zero, err
	}
	t, ok := c.FlatRate()
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: contract %d is not a flat rate", ErrInvalidContract, contractID)
	}
	return t.RemainingHours, nil
}

// acknowledgeBooking must run inside the transaction that inserted b.
func (l *Ledger) acknowledgeBooking(ctx context.Context, s Store, contractID int64, b *DailyBooking) error {
	return l.adjust(ctx, s, contractID, b.DurationHours.Neg(), b, "creation")
}

// releaseBooking must run inside the transaction that deleted b.
func (l *Ledger) releaseBooking(ctx context.Context, s Store, contractID int64, b *DailyBooking) error {
	return l.adjust(ctx, s, contractID, b.DurationHours, b, "deletion")
}

func (l *Ledger) adjust(ctx context.Context, s Store, contractID int64, delta decimal.Decimal, b *DailyBooking, reason string) error {
	// Re-read inside the transaction, the caller's copy may be stale.
	c, err := s.GetContract(ctx, contractID)
	if err != nil {
		return err
	}
	t, ok := c.FlatRate()
	if !ok {
		return fmt.Errorf("%w: contract %d is not a flat rate", ErrInvalidContract, contractID)
	}

	remaining := Quantize(t.RemainingHours.Add(delta))
	if err := s.SetRemainingHours(ctx, contractID, remaining); err != nil {
		return fmt.Errorf("failed to update remaining hours of contract %d: %w", contractID, err)
	}

	l.log.Info("updated flat rate remaining hours",
		zap.Int64("contract_id", contractID),
		zap.Int64("client", b.ClientID),
		zap.String("date", FormatDate(b.Date)),
		zap.String("hours", b.DurationHours.StringFixed(2)),
		zap.String("remaining_hours", remaining.StringFixed(2)),
		zap.String("after", reason),
	)
	// TODO: decide with the owners whether overdrawn flat rates should be
	// billed at the hourly rate.
	if remaining.IsNegative() {
		l.log.Warn("flat rate balance below zero",
			zap.Int64("contract_id", contractID),
			zap.Int64("client", b.ClientID),
			zap.String("remaining_hours", remaining.StringFixed(2)),
		)
	}
	return nil
}
