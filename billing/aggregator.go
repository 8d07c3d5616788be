/*
aggregator.go - Calendar import into daily bookings

PURPOSE:
  Turns raw calendar events into DailyBooking rows:

    parse -> beneficiary override -> client -> contract -> group -> persist

  1. Parse: timed events only, all-day events are skipped.
  2. Beneficiary: an owner booking with an email in the description is billed
     to that email.
  3. Client: looked up by email, created bare when unknown.
  4. Contract: most recent contract for the room category starting on or
     before the event date; none means the booking is reported and dropped.
  5. Group by (client, date, room category), summing hours.
  6. Persist each group once. Known days are left untouched, new days are
     priced and, under a flat rate, debited from the prepaid hours.

FAILURE POLICY:
  Per-booking and per-day problems (unparseable event, no contract, no
  price) are logged and reported, the batch continues. Only store failures
  abort the import.
*/
package billing

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// =============================================================================
// REPORT
// =============================================================================

// ImportReport tells what an import did with each booking and day.
type ImportReport struct {
	Created    []DailyBooking
	Existing   []DailyBooking
	NoContract []RoomBooking
	Unpriced   []UnpricedDay
	Skipped    []SkippedEvent
	NewClients []Client
}

// UnpricedDay is a group whose price could not be resolved.
type UnpricedDay struct {
	Client   Client
	Date     time.Time
	RoomType RoomType
	Hours    decimal.Decimal
	Err      error
}

// SkippedEvent is a calendar event that could not be parsed.
type SkippedEvent struct {
	CalendarID string
	Summary    string
	Err        error
}

// Owed sums created booking prices per client email.
func (r ImportReport) Owed(clients map[int64]Client) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal)
	for _, b := range r.Created {
		email := clients[b.ClientID].Email
		out[email] = out[email].Add(b.Price)
	}
	return out
}

// =============================================================================
// AGGREGATOR
// =============================================================================

type Aggregator struct {
	store   Store
	catalog *Catalog
	ledger  *Ledger
	log     *zap.Logger
}

func NewAggregator(store Store, catalog *Catalog, ledger *Ledger, log *zap.Logger) *Aggregator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Aggregator{store: store, catalog: catalog, ledger: ledger, log: log.Named("aggregator")}
}

type groupKey struct {
	clientID   int64
	date       string
	individual bool
}

type group struct {
	key      groupKey
	client   Client
	contract Contract
	date     time.Time
	hours    decimal.Decimal
	bookings []RoomBooking
}

// Import fetches the events of every calendar of source in [from, to] and
// aggregates them.
func (a *Aggregator) Import(ctx context.Context, source CalendarSource, from, to time.Time) (ImportReport, error) {
	calendars, err := source.Calendars(ctx)
	if err != nil {
		return ImportReport{}, fmt.Errorf("failed to list calendars: %w", err)
	}

	var (
		bookings []RoomBooking
		skipped  []SkippedEvent
	)
	for _, cal := range calendars {
		a.log.Info("fetching bookings", zap.String("calendar", cal.Summary),
			zap.String("from", FormatDate(from)), zap.String("to", FormatDate(to)))

		events, err := source.Events(ctx, cal.ID, from, to)
		if err != nil {
			return ImportReport{}, fmt.Errorf("failed to fetch events of calendar %s: %w", cal.ID, err)
		}
		for _, ev := range events {
			b, err := ParseEvent(ev, cal.Metadata.Individual)
			if err != nil {
				a.log.Info("skipping event", zap.String("calendar", cal.Summary),
					zap.String("summary", ev.Summary), zap.Error(err))
				skipped = append(skipped, SkippedEvent{CalendarID: cal.ID, Summary: ev.Summary, Err: err})
				continue
			}
			bookings = append(bookings, b)
		}
	}

	report, err := a.Aggregate(ctx, bookings)
	report.Skipped = append(skipped, report.Skipped...)
	return report, err
}

// Aggregate groups parsed bookings into daily bookings and persists them.
func (a *Aggregator) Aggregate(ctx context.Context, bookings []RoomBooking) (ImportReport, error) {
	var report ImportReport
	groups := make(map[groupKey]*group)

	for _, b := range bookings {
		client, err := a.resolveClient(ctx, b, &report)
		if err != nil {
			return report, err
		}

		contract, err := a.store.LatestContract(ctx, client.ID, b.RoomType(), b.Date())
		if errors.Is(err, ErrNotFound) {
			noContract := &NoContractError{ClientID: client.ID, RoomType: b.RoomType(), Date: b.Date()}
			a.log.Warn("dropping booking", zap.Stringer("booking", b), zap.Error(noContract))
			report.NoContract = append(report.NoContract, b)
			continue
		}
		if err != nil {
			return report, err
		}

		key := groupKey{clientID: client.ID, date: FormatDate(b.Date()), individual: b.Individual}
		g, ok := groups[key]
		if !ok {
			g = &group{key: key, client: client, contract: *contract, date: b.Date()}
			groups[key] = g
		}
		g.hours = g.hours.Add(b.Duration())
		g.bookings = append(g.bookings, b)
	}

	for _, g := range sortedGroups(groups) {
		if err := a.materialize(ctx, g, &report); err != nil {
			return report, err
		}
	}
	return report, nil
}

// resolveClient applies the beneficiary override and provisions unknown
// clients.
func (a *Aggregator) resolveClient(ctx context.Context, b RoomBooking, report *ImportReport) (Client, error) {
	creator, err := a.getOrCreateClient(ctx, b.CreatorEmail, report)
	if err != nil {
		return Client{}, err
	}
	if b.Description == "" {
		return creator, nil
	}

	email, ok := b.Beneficiary()
	if !ok {
		a.log.Warn("ignoring booking description without a valid email",
			zap.Stringer("booking", b), zap.String("description", b.Description))
		return creator, nil
	}
	if !creator.IsOwner {
		return creator, nil
	}

	a.log.Info("billing delegated booking to beneficiary",
		zap.Stringer("booking", b), zap.String("beneficiary", email))
	return a.getOrCreateClient(ctx, email, report)
}

func (a *Aggregator) getOrCreateClient(ctx context.Context, email string, report *ImportReport) (Client, error) {
	c, err := a.store.GetClientByEmail(ctx, email)
	if err == nil {
		return *c, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Client{}, err
	}

	created := Client{Email: email}
	if err := a.store.CreateClient(ctx, &created); err != nil {
		return Client{}, fmt.Errorf("failed to create client %s: %w", email, err)
	}
	a.log.Info("created client", zap.String("email", email), zap.Int64("client", created.ID))
	report.NewClients = append(report.NewClients, created)
	return created, nil
}

func (a *Aggregator) materialize(ctx context.Context, g *group, report *ImportReport) error {
	hours := Quantize(g.hours)
	key := BookingKey{ClientID: g.client.ID, Date: g.key.date, Individual: g.key.individual}

	existing, err := a.store.GetDailyBooking(ctx, key)
	if err == nil {
		a.log.Info("daily booking already imported",
			zap.Stringer("client", g.client), zap.String("date", key.Date),
			zap.Bool("frozen", existing.Frozen))
		report.Existing = append(report.Existing, *existing)
		return nil
	}
	if !errors.Is(err, ErrNotFound) {
		return err
	}

	price, err := a.catalog.BookingPrice(ctx, g.contract, hours, g.date)
	if err != nil {
		if !errors.Is(err, ErrNoMatchingPrice) && !errors.Is(err, ErrAmbiguousPrice) {
			return err
		}
		a.log.Error("could not price daily booking",
			zap.Stringer("client", g.client), zap.String("date", key.Date),
			zap.String("hours", hours.StringFixed(2)), zap.Error(err))
		report.Unpriced = append(report.Unpriced, UnpricedDay{
			Client: g.client, Date: g.date, RoomType: RoomTypeFor(g.key.individual), Hours: hours, Err: err,
		})
		return nil
	}

	b := DailyBooking{
		ClientID:      g.client.ID,
		Date:          g.date,
		DurationHours: hours,
		Price:         price,
		Individual:    g.key.individual,
	}
	created, err := a.ledger.RecordBooking(ctx, &b, g.contract)
	if err != nil {
		return fmt.Errorf("failed to record %s: %w", b, err)
	}
	if !created {
		// Inserted concurrently since the lookup above.
		report.Existing = append(report.Existing, b)
		return nil
	}

	a.log.Info("daily booking created",
		zap.Stringer("client", g.client), zap.String("date", key.Date),
		zap.String("hours", hours.StringFixed(2)), zap.String("price", price.StringFixed(2)),
		zap.Int("events", len(g.bookings)))
	report.Created = append(report.Created, b)
	return nil
}

// sortedGroups orders groups by client, date, then collective before
// individual, so imports are deterministic.
func sortedGroups(groups map[groupKey]*group) []*group {
	out := make([]*group, 0, len(groups))
	for _, g := range groups {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].key, out[j].key
		if a.clientID != b.clientID {
			return a.clientID < b.clientID
		}
		if a.date != b.date {
			return a.date < b.date
		}
		return !a.individual && b.individual
	})
	return out
}
