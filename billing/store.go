/*
store.go - Persistence interface for the billing engine

PURPOSE:
  Defines the interface between the engine and the database. The engine only
  needs create, get-or-create, query-by-filter and a transaction boundary.

IDEMPOTENCY:
  Get-or-create operations rely on unique constraints, not on a separate
  existence check:
  - DailyBooking: (client_id, date, individual)
  - Invoice:      (contract_id, period)
  - BalanceSheet: (start_date, end_date)
  - Contract:     (client_id, start_date, room_type)
  A duplicate key from a concurrent run is reported as "already exists",
  never as a failure.

TRANSACTIONS:
  WithTx runs fn against a Store bound to one transaction. If fn returns an
  error everything fn wrote is rolled back. Calling WithTx on a Store that is
  already transactional runs fn in the same transaction.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go
*/
package billing

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Store is everything the engine persists.
type Store interface {
	ClientStore
	ContractStore
	PricingStore
	BookingStore
	InvoiceStore
	ReportStore

	WithTx(ctx context.Context, fn func(Store) error) error
}

type ClientStore interface {
	CreateClient(ctx context.Context, c *Client) error
	UpdateClient(ctx context.Context, c Client) error
	GetClient(ctx context.Context, id int64) (*Client, error)
	// GetClientByEmail returns ErrNotFound when no client has this email.
	GetClientByEmail(ctx context.Context, email string) (*Client, error)
	ListClients(ctx context.Context) ([]Client, error)
}

type ContractStore interface {
	// CreateContract returns ErrDuplicateContract on (client, start, room type) conflict.
	CreateContract(ctx context.Context, c *Contract) error
	GetContract(ctx context.Context, id int64) (*Contract, error)
	ListContracts(ctx context.Context) ([]Contract, error)
	// LatestContract returns the client's contract for rt with the most
	// recent start date on or before date, or ErrNotFound.
	LatestContract(ctx context.Context, clientID int64, rt RoomType, date time.Time) (*Contract, error)
	// SetRemainingHours is reserved to the Ledger.
	SetRemainingHours(ctx context.Context, contractID int64, hours decimal.Decimal) error
}

type PricingStore interface {
	PricingSource
	CreatePricing(ctx context.Context, p *Pricing) error
	GetPricing(ctx context.Context, id int64) (*Pricing, error)
	SaveRoom(ctx context.Context, r *Room) error
	ListRooms(ctx context.Context) ([]Room, error)
}

// BookingFilter selects daily bookings. Zero values do not filter.
type BookingFilter struct {
	ClientID   int64
	Individual *bool
	From       time.Time
	To         time.Time
	InvoiceID  int64
}

type BookingStore interface {
	GetDailyBooking(ctx context.Context, key BookingKey) (*DailyBooking, error)
	GetDailyBookingByID(ctx context.Context, id int64) (*DailyBooking, error)
	// InsertDailyBooking inserts b unless its key exists. created is false
	// when the row already existed, b is then left untouched.
	InsertDailyBooking(ctx context.Context, b *DailyBooking) (created bool, err error)
	DeleteDailyBooking(ctx context.Context, id int64) error
	ListDailyBookings(ctx context.Context, f BookingFilter) ([]DailyBooking, error)
	// FreezeDailyBookings marks the bookings frozen and links them to invoiceID.
	FreezeDailyBookings(ctx context.Context, ids []int64, invoiceID int64) error
}

// InvoiceFilter selects invoices. Zero values do not filter.
type InvoiceFilter struct {
	ContractID int64
	Period     string
	PaidFrom   time.Time
	PaidTo     time.Time
}

type InvoiceStore interface {
	// GetOrCreateInvoice inserts inv unless (contract, period) exists. In
	// both cases inv is filled with the stored row.
	GetOrCreateInvoice(ctx context.Context, inv *Invoice) (created bool, err error)
	GetInvoice(ctx context.Context, id int64) (*Invoice, error)
	ListInvoices(ctx context.Context, f InvoiceFilter) ([]Invoice, error)
	UpdateInvoicePayment(ctx context.Context, inv Invoice) error
}

type ReportStore interface {
	CreateExpense(ctx context.Context, e *Expense) error
	ListExpenses(ctx context.Context, from, to time.Time) ([]Expense, error)
	GetOrCreateBalanceSheet(ctx context.Context, bs *BalanceSheet) (created bool, err error)
	GetBalanceSheet(ctx context.Context, id int64) (*BalanceSheet, error)
	ListBalanceSheets(ctx context.Context) ([]BalanceSheet, error)
}
