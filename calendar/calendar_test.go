package calendar_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/grandcedre/billing/billing"
	"github.com/grandcedre/billing/calendar"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func timed(start, end, email string) billing.Event {
	return billing.Event{
		Start:   billing.EventTime{DateTime: start},
		End:     billing.EventTime{DateTime: end},
		Creator: billing.EventActor{Email: email},
		Summary: "rdv",
	}
}

func TestStatic_FiltersEventsByStart(t *testing.T) {
	ctx := context.Background()
	src := calendar.NewStatic().AddCalendar(
		billing.Calendar{ID: "cab-1", Summary: "Cabinet 1 - individuel", Metadata: billing.CalendarMetadata{Individual: true}},
		timed("2019-02-01T10:00:00+01:00", "2019-02-01T11:00:00+01:00", "ada@example.com"),
		timed("2019-01-31T10:00:00+01:00", "2019-01-31T11:00:00+01:00", "ada@example.com"),
		timed("2019-01-03T10:00:00+01:00", "2019-01-03T11:00:00+01:00", "ada@example.com"),
	)

	events, err := src.Events(ctx, "cab-1", billing.Date(2019, 1, 1), billing.Date(2019, 2, 1))
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "2019-01-03T10:00:00+01:00", events[0].Start.DateTime, "events are ordered by start")
	assert.Equal(t, "2019-01-31T10:00:00+01:00", events[1].Start.DateTime)

	_, err = src.Events(ctx, "unknown", billing.Date(2019, 1, 1), billing.Date(2019, 2, 1))
	assert.ErrorIs(t, err, billing.ErrNotFound)
}

func TestFileSource_ReadsExports(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	calendars := `{"items": [
		{"id": "cab-1", "summary": "Cabinet 1 - individuel", "metadata": {"individual": true}},
		{"id": "salle", "summary": "Grande salle", "metadata": {"individual": false}}
	]}`
	events := `{"items": [
		{"start": {"dateTime": "2019-01-03T10:00:00+01:00"}, "end": {"dateTime": "2019-01-03T11:00:00+01:00"},
		 "creator": {"email": "ada@example.com"}, "summary": "Ada"},
		{"start": {"date": "2019-01-04"}, "end": {"date": "2019-01-05"},
		 "creator": {"email": "ada@example.com"}, "summary": "Congés"}
	]}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "calendars.json"), []byte(calendars), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cab-1.json"), []byte(events), 0o644))

	src := calendar.FileSource{CalendarsFile: filepath.Join(dir, "calendars.json"), EventsDir: dir}

	cals, err := src.Calendars(ctx)
	require.NoError(t, err)
	require.Len(t, cals, 2)
	assert.True(t, cals[0].Metadata.Individual)
	assert.Equal(t, "Cabinet 1", cals[0].RoomName())

	got, err := src.Events(ctx, "cab-1", billing.Date(2019, 1, 1), billing.Date(2019, 2, 1))
	require.NoError(t, err)
	require.Len(t, got, 2, "all-day events are returned for the importer to report")
	assert.Equal(t, "ada@example.com", got[0].Creator.Email)

	// A calendar without an export has no events.
	got, err = src.Events(ctx, "salle", billing.Date(2019, 1, 1), billing.Date(2019, 2, 1))
	require.NoError(t, err)
	assert.Empty(t, got)
}
