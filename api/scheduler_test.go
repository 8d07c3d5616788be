package api

import (
	"context"
	"testing"
	"time"

	"github.com/grandcedre/billing/billing"
	"github.com/grandcedre/billing/calendar"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestBillingScheduler_RunOnceIsIdempotent(t *testing.T) {
	// GIVEN: January bookings in the calendar and a clock on February 3rd
	s := newTestServer(t)
	src := calendar.NewStatic()
	for _, c := range cabinetImport().Calendars {
		src.AddCalendar(c.Calendar, c.Events...)
	}

	scheduler := NewBillingScheduler(s.engine, src, zaptest.NewLogger(t))
	scheduler.now = func() time.Time { return time.Date(2019, 2, 3, 8, 0, 0, 0, time.UTC) }

	// WHEN: the scheduler runs twice
	ctx := context.Background()
	scheduler.RunOnce(ctx)
	scheduler.RunOnce(ctx)

	// THEN: January was imported and invoiced exactly once
	invoices, err := s.engine.Store.ListInvoices(ctx, billing.InvoiceFilter{Period: "2019-01"})
	require.NoError(t, err)
	require.Len(t, invoices, 1)

	total, err := s.engine.InvoiceTotal(ctx, invoices[0])
	require.NoError(t, err)
	assert.Equal(t, "25.90", total.StringFixed(2))
}

func TestBillingScheduler_StartStop(t *testing.T) {
	s := newTestServer(t)
	scheduler := NewBillingScheduler(s.engine, calendar.NewStatic(), zaptest.NewLogger(t))
	scheduler.CheckInterval = time.Hour

	scheduler.Start()
	scheduler.Start()
	scheduler.Stop()
	scheduler.Stop()
}
