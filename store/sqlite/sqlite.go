/*
Package sqlite provides a SQLite-backed implementation of billing.Store.

KEY TABLES:
  clients          billed parties, unique email
  pricings         every pricing table, discriminated by pricing_table
  contracts        contract variants in one table, unique (client, start, room)
  rooms            calendar-backed rooms
  daily_bookings   unique (client_id, date, individual)
  invoices         unique (contract_id, period)
  expenses         manual costs
  balance_sheets   unique (start_date, end_date)

IDEMPOTENCY:
  Get-or-create is a single INSERT ... ON CONFLICT DO NOTHING followed by a
  read of the stored row, inside the caller's transaction when there is one.

CONCURRENCY:
  The pool is limited to one connection. SQLite serializes writers anyway,
  and an in-memory database only exists on the connection that created it.
  Every query of a transactional Store goes through its *sql.Tx.

STORAGE FORMAT:
  Dates are TEXT "YYYY-MM-DD", decimals are TEXT with their exact digits.

USAGE:
  store, err := sqlite.New("./data/data.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/grandcedre/billing/billing"
	sqlite3 "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements billing.Store using SQLite.
type Store struct {
	db *sql.DB
	q  queryer
	tx bool
}

var _ billing.Store = (*Store)(nil)

// New opens the database at dbPath and migrates its schema.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db, q: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS clients (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		first_name TEXT NOT NULL DEFAULT '',
		last_name TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL UNIQUE,
		phone_number TEXT NOT NULL DEFAULT '',
		address TEXT NOT NULL DEFAULT '',
		zip_code TEXT NOT NULL DEFAULT '',
		city TEXT NOT NULL DEFAULT '',
		is_owner BOOLEAN NOT NULL DEFAULT FALSE
	);

	CREATE TABLE IF NOT EXISTS pricings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		pricing_table TEXT NOT NULL,
		duration_from TEXT NOT NULL DEFAULT '0',
		duration_to TEXT,
		valid_from TEXT NOT NULL,
		valid_to TEXT,
		hourly_price TEXT NOT NULL DEFAULT '0',
		monthly_price TEXT NOT NULL DEFAULT '0',
		flat_rate TEXT NOT NULL DEFAULT '0',
		prepaid_hours INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_pricings_table
		ON pricings(pricing_table, valid_from);

	CREATE TABLE IF NOT EXISTS contracts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		type TEXT NOT NULL,
		client_id INTEGER NOT NULL REFERENCES clients(id),
		room_type TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT,
		pricing_id INTEGER REFERENCES pricings(id),
		weekly_hours INTEGER,
		monthly_price TEXT,
		flat_rate TEXT,
		prepaid_hours INTEGER,
		total_hours TEXT,
		remaining_hours TEXT,
		UNIQUE(client_id, start_date, room_type)
	);

	CREATE INDEX IF NOT EXISTS idx_contracts_client_room_start
		ON contracts(client_id, room_type, start_date DESC);

	CREATE TABLE IF NOT EXISTS rooms (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		individual BOOLEAN NOT NULL,
		calendar_id TEXT NOT NULL UNIQUE
	);

	CREATE TABLE IF NOT EXISTS invoices (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		contract_id INTEGER NOT NULL REFERENCES contracts(id),
		period TEXT NOT NULL,
		issued_at TEXT NOT NULL,
		currency TEXT NOT NULL,
		payed_at TEXT,
		check_number TEXT NOT NULL DEFAULT '',
		wire_transfer_number TEXT NOT NULL DEFAULT '',
		UNIQUE(contract_id, period)
	);

	-- A payment reference settles one invoice only.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_invoices_check_number
		ON invoices(check_number) WHERE check_number <> '';
	CREATE UNIQUE INDEX IF NOT EXISTS idx_invoices_wire_transfer_number
		ON invoices(wire_transfer_number) WHERE wire_transfer_number <> '';
	CREATE INDEX IF NOT EXISTS idx_invoices_payed_at
		ON invoices(payed_at) WHERE payed_at IS NOT NULL;

	CREATE TABLE IF NOT EXISTS daily_bookings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		client_id INTEGER NOT NULL REFERENCES clients(id),
		contract_id INTEGER REFERENCES contracts(id),
		invoice_id INTEGER REFERENCES invoices(id),
		date TEXT NOT NULL,
		duration_hours TEXT NOT NULL,
		price TEXT NOT NULL,
		individual BOOLEAN NOT NULL,
		frozen BOOLEAN NOT NULL DEFAULT FALSE,
		UNIQUE(client_id, date, individual)
	);

	CREATE INDEX IF NOT EXISTS idx_daily_bookings_invoice
		ON daily_bookings(invoice_id) WHERE invoice_id IS NOT NULL;

	CREATE TABLE IF NOT EXISTS expenses (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		date TEXT NOT NULL,
		label TEXT NOT NULL,
		price TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS balance_sheets (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		UNIQUE(start_date, end_date)
	);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	// Databases created before bookings recorded their contract.
	return s.addColumn("daily_bookings", "contract_id", "INTEGER REFERENCES contracts(id)")
}

// addColumn adds column to table unless it exists.
func (s *Store) addColumn(table, column, definition string) error {
	rows, err := s.db.Query(`SELECT name FROM pragma_table_info(?)`, table)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return err
		}
		if name == column {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	rows.Close()
	_, err = s.db.Exec(fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s %s`, table, column, definition))
	return err
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a database transaction. A Store that is already
// transactional runs fn in the current transaction.
func (s *Store) WithTx(ctx context.Context, fn func(billing.Store) error) error {
	if s.tx {
		return fn(s)
	}

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&Store{db: s.db, q: sqlTx, tx: true}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// =============================================================================
// CLIENTS
// =============================================================================

const clientColumns = `id, first_name, last_name, email, phone_number, address, zip_code, city, is_owner`

func (s *Store) CreateClient(ctx context.Context, c *billing.Client) error {
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO clients (first_name, last_name, email, phone_number, address, zip_code, city, is_owner)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.FirstName, c.LastName, c.Email, c.PhoneNumber, c.Address, c.ZipCode, c.City, c.IsOwner,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("client %s already exists: %w", c.Email, err)
		}
		return fmt.Errorf("failed to create client: %w", err)
	}
	c.ID, err = res.LastInsertId()
	return err
}

func (s *Store) UpdateClient(ctx context.Context, c billing.Client) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE clients SET first_name = ?, last_name = ?, email = ?, phone_number = ?,
			address = ?, zip_code = ?, city = ?, is_owner = ?
		WHERE id = ?`,
		c.FirstName, c.LastName, c.Email, c.PhoneNumber, c.Address, c.ZipCode, c.City, c.IsOwner, c.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update client %d: %w", c.ID, err)
	}
	return expectRow(res, "client", c.ID)
}

func (s *Store) GetClient(ctx context.Context, id int64) (*billing.Client, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+clientColumns+` FROM clients WHERE id = ?`, id)
	return scanClient(row, fmt.Sprintf("client %d", id))
}

func (s *Store) GetClientByEmail(ctx context.Context, email string) (*billing.Client, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+clientColumns+` FROM clients WHERE email = ?`,
		strings.ToLower(strings.TrimSpace(email)))
	return scanClient(row, "client "+email)
}

func (s *Store) ListClients(ctx context.Context) ([]billing.Client, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+clientColumns+` FROM clients ORDER BY last_name, first_name, email`)
	if err != nil {
		return nil, fmt.Errorf("failed to list clients: %w", err)
	}
	defer rows.Close()

	var out []billing.Client
	for rows.Next() {
		c, err := scanClient(rows, "client")
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanClient(row scanner, what string) (*billing.Client, error) {
	var c billing.Client
	err := row.Scan(&c.ID, &c.FirstName, &c.LastName, &c.Email, &c.PhoneNumber,
		&c.Address, &c.ZipCode, &c.City, &c.IsOwner)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", what, billing.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan client: %w", err)
	}
	return &c, nil
}

// =============================================================================
// CONTRACTS
// =============================================================================

const contractColumns = `id, type, client_id, room_type, start_date, end_date, pricing_id,
	weekly_hours, monthly_price, flat_rate, prepaid_hours, total_hours, remaining_hours`

// contractRow is the flattened storage shape of a contract.
type contractRow struct {
	pricingID      sql.NullInt64
	weeklyHours    sql.NullInt64
	monthlyPrice   sql.NullString
	flatRate       sql.NullString
	prepaidHours   sql.NullInt64
	totalHours     sql.NullString
	remainingHours sql.NullString
}

func flattenTerms(t billing.Terms) contractRow {
	var r contractRow
	switch t := t.(type) {
	case billing.RecurringTerms:
		r.pricingID = nullID(t.PricingID)
		r.weeklyHours = sql.NullInt64{Int64: int64(t.WeeklyHours), Valid: true}
		r.monthlyPrice = nullDecimal(t.MonthlyPrice)
	case billing.FlatRateTerms:
		r.pricingID = nullID(t.PricingID)
		r.flatRate = nullDecimal(t.FlatRate)
		r.prepaidHours = sql.NullInt64{Int64: int64(t.PrepaidHours), Valid: true}
		r.totalHours = nullDecimal(t.TotalHours)
		r.remainingHours = nullDecimal(t.RemainingHours)
	}
	return r
}

func (r contractRow) terms(ct billing.ContractType) (billing.Terms, error) {
	switch ct {
	case billing.ContractStandard:
		return billing.StandardTerms{}, nil
	case billing.ContractOneShot:
		return billing.OneShotTerms{}, nil
	case billing.ContractExchange:
		return billing.ExchangeTerms{}, nil
	case billing.ContractRecurring:
		t := billing.RecurringTerms{WeeklyHours: int(r.weeklyHours.Int64), PricingID: r.pricingID.Int64}
		err := parseDecimals(decimalColumn{"monthly_price", r.monthlyPrice, &t.MonthlyPrice})
		return t, err
	case billing.ContractFlatRate:
		t := billing.FlatRateTerms{PricingID: r.pricingID.Int64, PrepaidHours: int(r.prepaidHours.Int64)}
		err := parseDecimals(
			decimalColumn{"flat_rate", r.flatRate, &t.FlatRate},
			decimalColumn{"total_hours", r.totalHours, &t.TotalHours},
			decimalColumn{"remaining_hours", r.remainingHours, &t.RemainingHours},
		)
		return t, err
	}
	return nil, fmt.Errorf("%w: stored contract type %q", billing.ErrInvalidContract, ct)
}

func (s *Store) CreateContract(ctx context.Context, c *billing.Contract) error {
	r := flattenTerms(c.Terms)
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO contracts (type, client_id, room_type, start_date, end_date, pricing_id,
			weekly_hours, monthly_price, flat_rate, prepaid_hours, total_hours, remaining_hours)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.Type(), c.ClientID, c.RoomType, billing.FormatDate(c.StartDate), nullDate(c.EndDate), r.pricingID,
		r.weeklyHours, r.monthlyPrice, r.flatRate, r.prepaidHours, r.totalHours, r.remainingHours,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: client %d, %s, %s", billing.ErrDuplicateContract,
				c.ClientID, billing.FormatDate(c.StartDate), c.RoomType)
		}
		return fmt.Errorf("failed to create contract: %w", err)
	}
	c.ID, err = res.LastInsertId()
	return err
}

func (s *Store) GetContract(ctx context.Context, id int64) (*billing.Contract, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+contractColumns+` FROM contracts WHERE id = ?`, id)
	return scanContract(row, fmt.Sprintf("contract %d", id))
}

func (s *Store) ListContracts(ctx context.Context) ([]billing.Contract, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+contractColumns+` FROM contracts ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list contracts: %w", err)
	}
	defer rows.Close()

	var out []billing.Contract
	for rows.Next() {
		c, err := scanContract(rows, "contract")
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (s *Store) LatestContract(ctx context.Context, clientID int64, rt billing.RoomType, date time.Time) (*billing.Contract, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT `+contractColumns+` FROM contracts
		WHERE client_id = ? AND room_type = ? AND start_date <= ?
		ORDER BY start_date DESC
		LIMIT 1`,
		clientID, rt, billing.FormatDate(date),
	)
	return scanContract(row, fmt.Sprintf("%s contract of client %d on %s", rt, clientID, billing.FormatDate(date)))
}

func (s *Store) SetRemainingHours(ctx context.Context, contractID int64, hours decimal.Decimal) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE contracts SET remaining_hours = ? WHERE id = ? AND type = ?`,
		hours.StringFixed(2), contractID, billing.ContractFlatRate,
	)
	if err != nil {
		return err
	}
	return expectRow(res, "flat rate contract", contractID)
}

func scanContract(row scanner, what string) (*billing.Contract, error) {
	var (
		c         billing.Contract
		ct        string
		roomType  string
		startDate string
		endDate   sql.NullString
		r         contractRow
	)
	err := row.Scan(&c.ID, &ct, &c.ClientID, &roomType, &startDate, &endDate, &r.pricingID,
		&r.weeklyHours, &r.monthlyPrice, &r.flatRate, &r.prepaidHours, &r.totalHours, &r.remainingHours)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", what, billing.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan contract: %w", err)
	}

	c.RoomType = billing.RoomType(roomType)
	c.StartDate = parseDate(startDate)
	c.EndDate = parseNullDate(endDate)
	if c.Terms, err = r.terms(billing.ContractType(ct)); err != nil {
		return nil, err
	}
	return &c, nil
}

// =============================================================================
// PRICINGS AND ROOMS
// =============================================================================

const pricingColumns = `id, pricing_table, duration_from, duration_to, valid_from, valid_to,
	hourly_price, monthly_price, flat_rate, prepaid_hours`

func (s *Store) CreatePricing(ctx context.Context, p *billing.Pricing) error {
	var durationTo sql.NullString
	if p.DurationTo != nil {
		durationTo = sql.NullString{String: p.DurationTo.String(), Valid: true}
	}
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO pricings (pricing_table, duration_from, duration_to, valid_from, valid_to,
			hourly_price, monthly_price, flat_rate, prepaid_hours)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.Table, p.DurationFrom.String(), durationTo, billing.FormatDate(p.ValidFrom), nullDate(p.ValidTo),
		p.HourlyPrice.String(), p.MonthlyPrice.String(), p.FlatRate.String(), p.PrepaidHours,
	)
	if err != nil {
		return fmt.Errorf("failed to create pricing: %w", err)
	}
	p.ID, err = res.LastInsertId()
	return err
}

func (s *Store) GetPricing(ctx context.Context, id int64) (*billing.Pricing, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+pricingColumns+` FROM pricings WHERE id = ?`, id)
	return scanPricing(row, fmt.Sprintf("pricing %d", id))
}

func (s *Store) ListPricings(ctx context.Context, table billing.PricingTable) ([]billing.Pricing, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+pricingColumns+` FROM pricings WHERE pricing_table = ? ORDER BY valid_from, id`, table)
	if err != nil {
		return nil, fmt.Errorf("failed to list pricings: %w", err)
	}
	defer rows.Close()

	var out []billing.Pricing
	for rows.Next() {
		p, err := scanPricing(rows, "pricing")
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func scanPricing(row scanner, what string) (*billing.Pricing, error) {
	var (
		p                billing.Pricing
		table, validFrom string
		durationTo       decimal.NullDecimal
		validTo          sql.NullString
	)
	err := row.Scan(&p.ID, &table, &p.DurationFrom, &durationTo, &validFrom, &validTo,
		&p.HourlyPrice, &p.MonthlyPrice, &p.FlatRate, &p.PrepaidHours)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", what, billing.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan pricing: %w", err)
	}

	p.Table = billing.PricingTable(table)
	if durationTo.Valid {
		p.DurationTo = &durationTo.Decimal
	}
	p.ValidFrom = parseDate(validFrom)
	p.ValidTo = parseNullDate(validTo)
	return &p, nil
}

// SaveRoom inserts or updates the room backed by r.CalendarID.
func (s *Store) SaveRoom(ctx context.Context, r *billing.Room) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO rooms (name, individual, calendar_id) VALUES (?, ?, ?)
		ON CONFLICT(calendar_id) DO UPDATE SET
			name = excluded.name,
			individual = excluded.individual`,
		r.Name, r.Individual, r.CalendarID,
	)
	if err != nil {
		return fmt.Errorf("failed to save room %s: %w", r.Name, err)
	}
	return s.q.QueryRowContext(ctx, `SELECT id FROM rooms WHERE calendar_id = ?`, r.CalendarID).Scan(&r.ID)
}

func (s *Store) ListRooms(ctx context.Context) ([]billing.Room, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT id, name, individual, calendar_id FROM rooms ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []billing.Room
	for rows.Next() {
		var r billing.Room
		if err := rows.Scan(&r.ID, &r.Name, &r.Individual, &r.CalendarID); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// =============================================================================
// DAILY BOOKINGS
// =============================================================================

const bookingColumns = `id, client_id, contract_id, invoice_id, date, duration_hours, price, individual, frozen`

func (s *Store) GetDailyBooking(ctx context.Context, key billing.BookingKey) (*billing.DailyBooking, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+bookingColumns+` FROM daily_bookings WHERE client_id = ? AND date = ? AND individual = ?`,
		key.ClientID, key.Date, key.Individual)
	return scanBooking(row, fmt.Sprintf("daily booking %+v", key))
}

func (s *Store) GetDailyBookingByID(ctx context.Context, id int64) (*billing.DailyBooking, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM daily_bookings WHERE id = ?`, id)
	return scanBooking(row, fmt.Sprintf("daily booking %d", id))
}

func (s *Store) InsertDailyBooking(ctx context.Context, b *billing.DailyBooking) (bool, error) {
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO daily_bookings (client_id, contract_id, invoice_id, date, duration_hours, price, individual, frozen)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(client_id, date, individual) DO NOTHING`,
		b.ClientID, nullID(b.ContractID), nullIDPtr(b.InvoiceID), billing.FormatDate(b.Date),
		b.DurationHours.StringFixed(2), b.Price.StringFixed(2), b.Individual, b.Frozen,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert daily booking: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil || n == 0 {
		return false, err
	}
	b.ID, err = res.LastInsertId()
	return true, err
}

func (s *Store) DeleteDailyBooking(ctx context.Context, id int64) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM daily_bookings WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete daily booking %d: %w", id, err)
	}
	return expectRow(res, "daily booking", id)
}

func (s *Store) ListDailyBookings(ctx context.Context, f billing.BookingFilter) ([]billing.DailyBooking, error) {
	var (
		where []string
		args  []any
	)
	if f.ClientID != 0 {
		where = append(where, "client_id = ?")
		args = append(args, f.ClientID)
	}
	if f.Individual != nil {
		where = append(where, "individual = ?")
		args = append(args, *f.Individual)
	}
	if !f.From.IsZero() {
		where = append(where, "date >= ?")
		args = append(args, billing.FormatDate(f.From))
	}
	if !f.To.IsZero() {
		where = append(where, "date <= ?")
		args = append(args, billing.FormatDate(f.To))
	}
	if f.InvoiceID != 0 {
		where = append(where, "invoice_id = ?")
		args = append(args, f.InvoiceID)
	}

	query := `SELECT ` + bookingColumns + ` FROM daily_bookings`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY date, individual, client_id`

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list daily bookings: %w", err)
	}
	defer rows.Close()

	var out []billing.DailyBooking
	for rows.Next() {
		b, err := scanBooking(rows, "daily booking")
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

func (s *Store) FreezeDailyBookings(ctx context.Context, ids []int64, invoiceID int64) error {
	for _, id := range ids {
		res, err := s.q.ExecContext(ctx,
			`UPDATE daily_bookings SET frozen = TRUE, invoice_id = ? WHERE id = ? AND frozen = FALSE`,
			invoiceID, id)
		if err != nil {
			return fmt.Errorf("failed to freeze daily booking %d: %w", id, err)
		}
		if err := expectRow(res, "unfrozen daily booking", id); err != nil {
			return err
		}
	}
	return nil
}

func scanBooking(row scanner, what string) (*billing.DailyBooking, error) {
	var (
		b                     billing.DailyBooking
		contractID, invoiceID sql.NullInt64
		date                  string
	)
	err := row.Scan(&b.ID, &b.ClientID, &contractID, &invoiceID, &date, &b.DurationHours, &b.Price, &b.Individual, &b.Frozen)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", what, billing.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan daily booking: %w", err)
	}
	b.ContractID = contractID.Int64
	if invoiceID.Valid {
		b.InvoiceID = &invoiceID.Int64
	}
	b.Date = parseDate(date)
	return &b, nil
}

// =============================================================================
// INVOICES
// =============================================================================

const invoiceColumns = `id, contract_id, period, issued_at, currency, payed_at, check_number, wire_transfer_number`

func (s *Store) GetOrCreateInvoice(ctx context.Context, inv *billing.Invoice) (bool, error) {
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO invoices (contract_id, period, issued_at, currency)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(contract_id, period) DO NOTHING`,
		inv.ContractID, inv.Period, billing.FormatDate(inv.IssuedAt), inv.Currency,
	)
	if err != nil {
		return false, fmt.Errorf("failed to create invoice: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	row := s.q.QueryRowContext(ctx,
		`SELECT `+invoiceColumns+` FROM invoices WHERE contract_id = ? AND period = ?`,
		inv.ContractID, inv.Period)
	stored, err := scanInvoice(row, "invoice")
	if err != nil {
		return false, err
	}
	*inv = *stored
	return n == 1, nil
}

func (s *Store) GetInvoice(ctx context.Context, id int64) (*billing.Invoice, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = ?`, id)
	return scanInvoice(row, fmt.Sprintf("invoice %d", id))
}

func (s *Store) ListInvoices(ctx context.Context, f billing.InvoiceFilter) ([]billing.Invoice, error) {
	var (
		where []string
		args  []any
	)
	if f.ContractID != 0 {
		where = append(where, "contract_id = ?")
		args = append(args, f.ContractID)
	}
	if f.Period != "" {
		where = append(where, "period = ?")
		args = append(args, f.Period)
	}
	if !f.PaidFrom.IsZero() || !f.PaidTo.IsZero() {
		where = append(where, "payed_at IS NOT NULL")
	}
	if !f.PaidFrom.IsZero() {
		where = append(where, "payed_at >= ?")
		args = append(args, billing.FormatDate(f.PaidFrom))
	}
	if !f.PaidTo.IsZero() {
		where = append(where, "payed_at <= ?")
		args = append(args, billing.FormatDate(f.PaidTo))
	}

	query := `SELECT ` + invoiceColumns + ` FROM invoices`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY id`

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list invoices: %w", err)
	}
	defer rows.Close()

	var out []billing.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows, "invoice")
		if err != nil {
			return nil, err
		}
		out = append(out, *inv)
	}
	return out, rows.Err()
}

func (s *Store) UpdateInvoicePayment(ctx context.Context, inv billing.Invoice) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE invoices SET payed_at = ?, check_number = ?, wire_transfer_number = ?
		WHERE id = ?`,
		nullDate(inv.PayedAt), inv.CheckNumber, inv.WireTransferNumber, inv.ID,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: reference already used by another invoice", billing.ErrPaymentReference)
		}
		return fmt.Errorf("failed to update invoice %d: %w", inv.ID, err)
	}
	return expectRow(res, "invoice", inv.ID)
}

func scanInvoice(row scanner, what string) (*billing.Invoice, error) {
	var (
		inv      billing.Invoice
		issuedAt string
		payedAt  sql.NullString
	)
	err := row.Scan(&inv.ID, &inv.ContractID, &inv.Period, &issuedAt, &inv.Currency,
		&payedAt, &inv.CheckNumber, &inv.WireTransferNumber)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", what, billing.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan invoice: %w", err)
	}
	inv.IssuedAt = parseDate(issuedAt)
	inv.PayedAt = parseNullDate(payedAt)
	return &inv, nil
}

// =============================================================================
// EXPENSES AND BALANCE SHEETS
// =============================================================================

func (s *Store) CreateExpense(ctx context.Context, e *billing.Expense) error {
	res, err := s.q.ExecContext(ctx, `INSERT INTO expenses (date, label, price) VALUES (?, ?, ?)`,
		billing.FormatDate(e.Date), e.Label, e.Price.StringFixed(2))
	if err != nil {
		return fmt.Errorf("failed to create expense: %w", err)
	}
	e.ID, err = res.LastInsertId()
	return err
}

func (s *Store) ListExpenses(ctx context.Context, from, to time.Time) ([]billing.Expense, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT id, date, label, price FROM expenses WHERE date >= ? AND date <= ? ORDER BY date, id`,
		billing.FormatDate(from), billing.FormatDate(to))
	if err != nil {
		return nil, fmt.Errorf("failed to list expenses: %w", err)
	}
	defer rows.Close()

	var out []billing.Expense
	for rows.Next() {
		var (
			e    billing.Expense
			date string
		)
		if err := rows.Scan(&e.ID, &date, &e.Label, &e.Price); err != nil {
			return nil, fmt.Errorf("failed to scan expense: %w", err)
		}
		e.Date = parseDate(date)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) GetOrCreateBalanceSheet(ctx context.Context, bs *billing.BalanceSheet) (bool, error) {
	start, end := billing.FormatDate(bs.StartDate), billing.FormatDate(bs.EndDate)
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO balance_sheets (start_date, end_date) VALUES (?, ?)
		ON CONFLICT(start_date, end_date) DO NOTHING`, start, end)
	if err != nil {
		return false, fmt.Errorf("failed to create balance sheet: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	err = s.q.QueryRowContext(ctx,
		`SELECT id FROM balance_sheets WHERE start_date = ? AND end_date = ?`, start, end).Scan(&bs.ID)
	return n == 1, err
}

func (s *Store) GetBalanceSheet(ctx context.Context, id int64) (*billing.BalanceSheet, error) {
	var (
		bs         billing.BalanceSheet
		start, end string
	)
	err := s.q.QueryRowContext(ctx,
		`SELECT id, start_date, end_date FROM balance_sheets WHERE id = ?`, id).Scan(&bs.ID, &start, &end)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("balance sheet %d: %w", id, billing.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	bs.StartDate, bs.EndDate = parseDate(start), parseDate(end)
	return &bs, nil
}

func (s *Store) ListBalanceSheets(ctx context.Context) ([]billing.BalanceSheet, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT id, start_date, end_date FROM balance_sheets ORDER BY start_date DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []billing.BalanceSheet
	for rows.Next() {
		var (
			bs         billing.BalanceSheet
			start, end string
		)
		if err := rows.Scan(&bs.ID, &start, &end); err != nil {
			return nil, err
		}
		bs.StartDate, bs.EndDate = parseDate(start), parseDate(end)
		out = append(out, bs)
	}
	return out, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func expectRow(res sql.Result, what string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %d: %w", what, id, billing.ErrNotFound)
	}
	return nil
}

func nullID(id int64) sql.NullInt64 {
	return sql.NullInt64{Int64: id, Valid: id != 0}
}

func nullIDPtr(id *int64) sql.NullInt64 {
	if id == nil {
		return sql.NullInt64{}
	}
	return nullID(*id)
}

func nullDecimal(d decimal.Decimal) sql.NullString {
	return sql.NullString{String: d.StringFixed(2), Valid: true}
}

func nullDate(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: billing.FormatDate(*t), Valid: true}
}

func parseDate(s string) time.Time {
	t, _ := billing.ParseDate(s)
	return t
}

func parseNullDate(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseDate(s.String)
	return &t
}

// decimalColumn is a nullable TEXT decimal read from a row. NULL reads as zero.
type decimalColumn struct {
	name  string
	value sql.NullString
	dst   *decimal.Decimal
}

func parseDecimals(cols ...decimalColumn) error {
	for _, c := range cols {
		if !c.value.Valid {
			*c.dst = decimal.Zero
			continue
		}
		d, err := decimal.NewFromString(c.value.String)
		if err != nil {
			return fmt.Errorf("failed to parse stored %s %q: %w", c.name, c.value.String, err)
		}
		*c.dst = d
	}
	return nil
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
