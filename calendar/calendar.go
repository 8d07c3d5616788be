/*
Package calendar provides billing.CalendarSource implementations.

PURPOSE:
  The engine reads room calendars through billing.CalendarSource. This
  package offers two sources:

  - FileSource reads exports of the calendar API from disk:
      calendars.json          {"items": [{"id": ..., "summary": ..., "metadata": {"individual": true}}]}
      <events dir>/<id>.json  {"items": [<event>, ...]}
  - Static serves calendars and events held in memory, for tests and for
    payloads posted to the HTTP API.

  Both return the events whose start falls in [from, to), the way the
  calendar API filters on timeMin/timeMax.
*/
package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/grandcedre/billing/billing"
)

// =============================================================================
// STATIC SOURCE
// =============================================================================

// Static is an in-memory calendar source.
type Static struct {
	mu        sync.RWMutex
	calendars []billing.Calendar
	events    map[string][]billing.Event
}

var _ billing.CalendarSource = (*Static)(nil)

func NewStatic() *Static {
	return &Static{events: make(map[string][]billing.Event)}
}

// AddCalendar registers a calendar and its events.
func (s *Static) AddCalendar(cal billing.Calendar, events ...billing.Event) *Static {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calendars = append(s.calendars, cal)
	s.events[cal.ID] = append(s.events[cal.ID], events...)
	return s
}

// AddEvents appends events to a registered calendar.
func (s *Static) AddEvents(calendarID string, events ...billing.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[calendarID] = append(s.events[calendarID], events...)
}

func (s *Static) Calendars(ctx context.Context) ([]billing.Calendar, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]billing.Calendar, len(s.calendars))
	copy(out, s.calendars)
	return out, nil
}

func (s *Static) Events(ctx context.Context, calendarID string, from, to time.Time) ([]billing.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	events, ok := s.events[calendarID]
	if !ok {
		return nil, fmt.Errorf("calendar %s: %w", calendarID, billing.ErrNotFound)
	}
	return inRange(events, from, to), nil
}

// =============================================================================
// FILE SOURCE
// =============================================================================

// FileSource reads calendar API exports from disk.
type FileSource struct {
	CalendarsFile string
	EventsDir     string
}

var _ billing.CalendarSource = FileSource{}

type calendarList struct {
	Items []billing.Calendar `json:"items"`
}

type eventList struct {
	Items []billing.Event `json:"items"`
}

func (f FileSource) Calendars(ctx context.Context) ([]billing.Calendar, error) {
	var list calendarList
	if err := readJSON(f.CalendarsFile, &list); err != nil {
		return nil, err
	}
	return list.Items, nil
}

// Events returns no events for a calendar without an export file.
func (f FileSource) Events(ctx context.Context, calendarID string, from, to time.Time) ([]billing.Event, error) {
	var list eventList
	err := readJSON(filepath.Join(f.EventsDir, calendarID+".json"), &list)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return inRange(list.Items, from, to), nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

// inRange keeps the events starting in [from, to), ordered by start. All-day
// events are kept when their date is in range so the importer can report
// them.
func inRange(events []billing.Event, from, to time.Time) []billing.Event {
	type dated struct {
		ev    billing.Event
		start time.Time
	}
	var kept []dated
	for _, ev := range events {
		start, ok := eventStart(ev)
		if !ok {
			continue
		}
		if start.Before(from) || !start.Before(to) {
			continue
		}
		kept = append(kept, dated{ev: ev, start: start})
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].start.Before(kept[j].start) })

	out := make([]billing.Event, len(kept))
	for i, d := range kept {
		out[i] = d.ev
	}
	return out
}

func eventStart(ev billing.Event) (time.Time, bool) {
	if ev.Start.DateTime != "" {
		t, err := time.Parse(time.RFC3339, ev.Start.DateTime)
		return t, err == nil
	}
	if ev.Start.Date != "" {
		t, err := billing.ParseDate(ev.Start.Date)
		return t, err == nil
	}
	return time.Time{}, false
}
