package app_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/grandcedre/billing/app"
	"github.com/grandcedre/billing/billing"
	"github.com/grandcedre/billing/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestNew_LoadsDefaultFixturesAndRooms(t *testing.T) {
	dir := t.TempDir()
	calendars := `{"items": [{"id": "cab-1", "summary": "Cabinet 1 - individuel", "metadata": {"individual": true}}]}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "calendars.json"), []byte(calendars), 0o644))

	cfg := config.Config{
		DBPath:    filepath.Join(dir, "data", "data.db"),
		Calendars: filepath.Join(dir, "calendars.json"),
		EventsDir: dir,
		DriveRoot: filepath.Join(dir, "drive"),
		OutputDir: filepath.Join(dir, "output"),
		Currency:  billing.DefaultCurrency,
		Fixtures:  "default",
	}
	a, err := app.New(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer a.Close()

	ctx := context.Background()
	rows, err := a.Store.ListPricings(ctx, billing.TableFlatRate)
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	// Loading the grid again adds nothing.
	require.NoError(t, a.LoadFixtures(ctx, "default"))
	rows, err = a.Store.ListPricings(ctx, billing.TableIndividualModular)
	require.NoError(t, err)
	assert.Len(t, rows, 4)

	require.NoError(t, a.SyncRooms(ctx))
	rooms, err := a.Store.ListRooms(ctx)
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	assert.Equal(t, "Cabinet 1", rooms[0].Name)
	assert.True(t, rooms[0].Individual)
}
