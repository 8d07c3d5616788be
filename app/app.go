/*
Package app wires the billing engine from configuration.

PURPOSE:
  Shared by cmd/grandcedre and cmd/server: opens the store, builds the
  engine with its renderer and uploader, and serves the HTTP API with
  graceful shutdown.

SEE ALSO:
  - config/config.go: settings
  - api/server.go: routes
*/
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/grandcedre/billing/api"
	"github.com/grandcedre/billing/billing"
	"github.com/grandcedre/billing/calendar"
	"github.com/grandcedre/billing/config"
	"github.com/grandcedre/billing/drive"
	"github.com/grandcedre/billing/factory"
	"github.com/grandcedre/billing/render"
	"github.com/grandcedre/billing/store/sqlite"
	"go.uber.org/zap"
)

// App holds the wired components.
type App struct {
	Config config.Config
	Store  *sqlite.Store
	Engine *billing.Engine
	Source billing.CalendarSource
	Drive  *drive.Local
	Log    *zap.Logger
}

// New opens the database and builds the engine.
func New(cfg config.Config, log *zap.Logger) (*App, error) {
	if cfg.DBPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	uploader := drive.NewLocal(cfg.DriveRoot, log)
	engine := billing.NewEngine(store, log,
		billing.WithRenderer(render.NewHTML()),
		billing.WithUploader(uploader),
		billing.WithOutputDir(cfg.OutputDir),
		billing.WithCurrency(cfg.Currency),
	)

	a := &App{
		Config: cfg,
		Store:  store,
		Engine: engine,
		Source: calendar.FileSource{CalendarsFile: cfg.Calendars, EventsDir: cfg.EventsDir},
		Drive:  uploader,
		Log:    log,
	}

	if cfg.Fixtures != "" {
		if err := a.LoadFixtures(context.Background(), cfg.Fixtures); err != nil {
			store.Close()
			return nil, err
		}
	}
	return a, nil
}

func (a *App) Close() error { return a.Store.Close() }

// LoadFixtures loads a fixtures file, or the default pricing grid when
// path is "default".
func (a *App) LoadFixtures(ctx context.Context, path string) error {
	var (
		f   factory.FixturesJSON
		err error
	)
	if path == "default" {
		f = factory.DefaultFixtures()
	} else if f, err = factory.ReadFixtures(path); err != nil {
		return err
	}

	report, err := factory.Load(ctx, a.Engine, f)
	if err != nil {
		return fmt.Errorf("failed to load fixtures %s: %w", path, err)
	}
	a.Log.Info("fixtures loaded", zap.String("path", path),
		zap.Int("pricings", report.Pricings),
		zap.Int("clients", report.Clients),
		zap.Int("rooms", report.Rooms),
		zap.Int("contracts", report.Contracts),
		zap.Int("existing_clients", report.ExistingClients),
		zap.Int("existing_contracts", report.ExistingContracts))
	return nil
}

// SyncRooms records the rooms behind the configured calendars.
func (a *App) SyncRooms(ctx context.Context) error {
	calendars, err := a.Source.Calendars(ctx)
	if err != nil {
		return err
	}
	for _, cal := range calendars {
		room := billing.Room{Name: cal.RoomName(), Individual: cal.Metadata.Individual, CalendarID: cal.ID}
		if err := a.Store.SaveRoom(ctx, &room); err != nil {
			return err
		}
	}
	return nil
}

// ServeOptions configures Serve.
type ServeOptions struct {
	// Schedule runs the monthly billing batch every interval when set.
	Schedule time.Duration
	Upload   bool
}

// Serve runs the HTTP API until SIGINT or SIGTERM.
func (a *App) Serve(opts ServeOptions) error {
	handler := api.NewHandler(a.Engine, a.Source, a.Log)
	server := &http.Server{
		Addr:         a.Config.Addr(),
		Handler:      api.NewRouter(handler, a.Config.CORSOrigin),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if opts.Schedule > 0 {
		scheduler := api.NewBillingScheduler(a.Engine, a.Source, a.Log)
		scheduler.CheckInterval = opts.Schedule
		scheduler.Upload = opts.Upload
		scheduler.Start()
		defer scheduler.Stop()
	}

	errc := make(chan error, 1)
	go func() {
		a.Log.Info("server starting", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-errc:
		return fmt.Errorf("server failed: %w", err)
	case <-quit:
	}

	a.Log.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	a.Log.Info("server stopped")
	return nil
}
