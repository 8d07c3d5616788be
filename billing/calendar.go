package billing

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// CALENDAR COLLABORATOR - Shapes of the external calendar API
// =============================================================================

// Calendar is one external room calendar.
type Calendar struct {
	ID       string           `json:"id"`
	Summary  string           `json:"summary"`
	Metadata CalendarMetadata `json:"metadata"`
}

type CalendarMetadata struct {
	Individual bool `json:"individual"`
}

// RoomName is the summary up to its " - " suffix.
func (c Calendar) RoomName() string {
	name, _, _ := strings.Cut(c.Summary, " - ")
	return strings.TrimSpace(name)
}

// Event is one calendar event as returned by the calendar API.
type Event struct {
	Start       EventTime  `json:"start"`
	End         EventTime  `json:"end"`
	Creator     EventActor `json:"creator"`
	Summary     string     `json:"summary"`
	Description string     `json:"description,omitempty"`
}

// EventTime carries DateTime for timed events and Date for all-day events.
type EventTime struct {
	DateTime string `json:"dateTime,omitempty"`
	Date     string `json:"date,omitempty"`
}

type EventActor struct {
	Email string `json:"email"`
}

// CalendarSource fetches calendars and their events for a time range. Each
// call returns a finite list, the source is not expected to be restartable.
type CalendarSource interface {
	Calendars(ctx context.Context) ([]Calendar, error)
	Events(ctx context.Context, calendarID string, from, to time.Time) ([]Event, error)
}

// =============================================================================
// ROOM BOOKING - One parsed calendar event
// =============================================================================

type RoomBooking struct {
	Start        time.Time
	End          time.Time
	CreatorEmail string
	Title        string
	Description  string
	Individual   bool
}

// ParseEvent extracts a booking from a timed event. All-day and multi-day
// events carry no time of day and return ErrAllDayEvent.
func ParseEvent(ev Event, individual bool) (RoomBooking, error) {
	if ev.Start.DateTime == "" || ev.End.DateTime == "" {
		return RoomBooking{}, fmt.Errorf("%w: %q", ErrAllDayEvent, ev.Summary)
	}
	start, err := time.Parse(time.RFC3339, ev.Start.DateTime)
	if err != nil {
		return RoomBooking{}, fmt.Errorf("invalid event start %q: %w", ev.Start.DateTime, err)
	}
	end, err := time.Parse(time.RFC3339, ev.End.DateTime)
	if err != nil {
		return RoomBooking{}, fmt.Errorf("invalid event end %q: %w", ev.End.DateTime, err)
	}
	if !end.After(start) {
		return RoomBooking{}, fmt.Errorf("%w: event %q ends before it starts", ErrInvalidDates, ev.Summary)
	}
	return RoomBooking{
		Start:        start,
		End:          end,
		CreatorEmail: strings.ToLower(strings.TrimSpace(ev.Creator.Email)),
		Title:        ev.Summary,
		Description:  ev.Description,
		Individual:   individual,
	}, nil
}

// Date is the calendar day the booking starts on, in the event's own zone.
func (b RoomBooking) Date() time.Time { return Day(b.Start) }

// Duration is the booked time in hours.
func (b RoomBooking) Duration() decimal.Decimal {
	seconds := decimal.NewFromInt(int64(b.End.Sub(b.Start) / time.Second))
	return seconds.Div(decimal.NewFromInt(3600))
}

func (b RoomBooking) RoomType() RoomType { return RoomTypeFor(b.Individual) }

func (b RoomBooking) String() string {
	return fmt.Sprintf("[%s] - '%s' - %s %s->%s",
		b.CreatorEmail, b.Title, FormatDate(b.Date()),
		b.Start.Format("15h04"), b.End.Format("15h04"))
}

// =============================================================================
// BENEFICIARY - Bookings made by an owner on behalf of a client
// =============================================================================

var emailPattern = regexp.MustCompile(`(?i)[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}`)

// Beneficiary returns the email found in the event description, if any.
// ok is false when the description is empty or holds no email address.
func (b RoomBooking) Beneficiary() (email string, ok bool) {
	desc := strings.TrimSpace(b.Description)
	if desc == "" {
		return "", false
	}
	m := emailPattern.FindString(desc)
	if m == "" {
		return "", false
	}
	return strings.ToLower(m), true
}
