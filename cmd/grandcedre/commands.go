package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/grandcedre/billing/app"
	"github.com/grandcedre/billing/billing"
	"github.com/grandcedre/billing/config"
	"github.com/grandcedre/billing/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// options are the persistent flags shared by every command.
type options struct {
	envFile string
	db      string
	verbose bool

	app *app.App
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:          "grandcedre",
		Short:        "Pricing, invoicing and flat-rate ledger of Le Grand Cèdre",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.open()
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if opts.app == nil {
				return nil
			}
			opts.app.Log.Sync()
			return opts.app.Close()
		},
	}
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	root.PersistentFlags().StringVar(&opts.db, "db", "", "SQLite database path (overrides GRANDCEDRE_DB)")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		newImportBookingsCmd(opts),
		newGenerateInvoicesCmd(opts),
		newPayInvoiceCmd(opts),
		newBalanceSheetCmd(opts),
		newImportFixturesCmd(opts),
		newServeCmd(opts),
	)
	return root
}

func (o *options) open() error {
	cfg, err := config.Load(o.envFile)
	if err != nil {
		return err
	}
	if o.db != "" {
		cfg.DBPath = o.db
	}
	if o.verbose {
		cfg.LogLevel = "debug"
	}
	log, err := logging.New(cfg.LogLevel, cfg.LogJSON)
	if err != nil {
		return err
	}
	o.app, err = app.New(cfg, log)
	return err
}

// periodFlag parses an optional YYYY-MM flag, falling back to def.
func periodFlag(value string, def billing.Period) (billing.Period, error) {
	if value == "" {
		return def, nil
	}
	return billing.ParsePeriod(value)
}

// =============================================================================
// IMPORT / INVOICES
// =============================================================================

func newImportBookingsCmd(opts *options) *cobra.Command {
	var period string
	cmd := &cobra.Command{
		Use:   "import-bookings",
		Short: "Import a month of calendar bookings into daily bookings",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			p, err := periodFlag(period, billing.PeriodOf(time.Now()))
			if err != nil {
				return err
			}
			if err := opts.app.SyncRooms(ctx); err != nil {
				return err
			}
			report, err := opts.app.Engine.ImportBookings(ctx, opts.app.Source, p)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: %d created, %d existing\n", p, len(report.Created), len(report.Existing))
			for _, b := range report.NoContract {
				fmt.Fprintf(out, "no contract: %s\n", b)
			}
			for _, u := range report.Unpriced {
				fmt.Fprintf(out, "unpriced: %s %s %sh: %v\n", u.Client.Email, billing.FormatDate(u.Date), u.Hours.StringFixed(2), u.Err)
			}
			for _, s := range report.Skipped {
				fmt.Fprintf(out, "skipped: %s: %v\n", s.Summary, s.Err)
			}
			for _, c := range report.NewClients {
				fmt.Fprintf(out, "new client: %s\n", c.Email)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&period, "period", "", "month to import, YYYY-MM (default: current month)")
	return cmd
}

func newGenerateInvoicesCmd(opts *options) *cobra.Command {
	var (
		period string
		upload bool
	)
	cmd := &cobra.Command{
		Use:   "generate-invoices",
		Short: "Issue the invoices of a month",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := periodFlag(period, billing.PreviousPeriod(time.Now()))
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			report, err := opts.app.Engine.GenerateInvoices(ctx, p, upload)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, inv := range report.Created {
				total, err := opts.app.Engine.InvoiceTotal(ctx, inv)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s %s%s\n", inv.Number(), total.StringFixed(2), inv.Symbol())
			}
			for _, s := range report.Skipped {
				fmt.Fprintf(out, "skipped contract %d: %s\n", s.Contract.ID, s.Reason)
			}
			fmt.Fprintf(out, "%s: %d created, %d existing, %d upload failures\n",
				p, len(report.Created), len(report.Existing), len(report.Failed))
			return nil
		},
	}
	cmd.Flags().StringVar(&period, "period", "", "month to invoice, YYYY-MM (default: previous month)")
	cmd.Flags().BoolVar(&upload, "upload", false, "upload the new invoices to the drive")
	return cmd
}

func newPayInvoiceCmd(opts *options) *cobra.Command {
	var (
		date  string
		check string
		wire  string
	)
	cmd := &cobra.Command{
		Use:   "pay-invoice <id>",
		Short: "Record the payment of an invoice",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var id int64
			if _, err := fmt.Sscan(args[0], &id); err != nil {
				return fmt.Errorf("invalid invoice id %q", args[0])
			}
			payedAt, err := billing.ParseDate(date)
			if err != nil {
				return err
			}
			inv, err := opts.app.Engine.MarkInvoicePaid(cmd.Context(), id, billing.Payment{
				Date: payedAt, CheckNumber: check, WireTransferNumber: wire,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s paid on %s\n", inv.Number(), billing.FormatDate(payedAt))
			return nil
		},
	}
	cmd.Flags().StringVar(&date, "date", billing.FormatDate(time.Now()), "payment date, YYYY-MM-DD")
	cmd.Flags().StringVar(&check, "check", "", "check number")
	cmd.Flags().StringVar(&wire, "wire", "", "wire transfer number")
	return cmd
}

// =============================================================================
// BALANCE SHEET
// =============================================================================

func newBalanceSheetCmd(opts *options) *cobra.Command {
	var (
		start string
		end   string
		out   string
	)
	cmd := &cobra.Command{
		Use:   "balance-sheet",
		Short: "Compute a balance sheet and export it as CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			previous := billing.PreviousPeriod(time.Now())
			from, to := previous.Start(), previous.End()
			var err error
			if start != "" {
				if from, err = billing.ParseDate(start); err != nil {
					return err
				}
			}
			if end != "" {
				if to, err = billing.ParseDate(end); err != nil {
					return err
				}
			}

			ctx := cmd.Context()
			bs, _, err := opts.app.Engine.BalanceSheet(ctx, from, to)
			if err != nil {
				return err
			}
			return writeCSV(ctx, opts.app, bs, out, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "first day, YYYY-MM-DD (default: first day of previous month)")
	cmd.Flags().StringVar(&end, "end", "", "last day, YYYY-MM-DD (default: last day of previous month)")
	cmd.Flags().StringVarP(&out, "out", "o", "", "CSV file, - for stdout (default: <output dir>/bilan-<start>-<end>.csv)")
	return cmd
}

func writeCSV(ctx context.Context, a *app.App, bs billing.BalanceSheet, path string, stdout io.Writer) error {
	if path == "-" {
		return a.Engine.BalanceSheetCSV(ctx, stdout, bs)
	}
	if path == "" {
		path = filepath.Join(a.Config.OutputDir, bs.Filename("csv"))
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := a.Engine.BalanceSheetCSV(ctx, f, bs); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	a.Log.Info("balance sheet written", zap.String("path", path))
	fmt.Fprintln(stdout, path)
	return nil
}

// =============================================================================
// FIXTURES / SERVER
// =============================================================================

func newImportFixturesCmd(opts *options) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "import-fixtures",
		Short: "Load pricings, clients, rooms and contracts from a JSON file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.app.LoadFixtures(cmd.Context(), file)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "default", `fixtures file, "default" loads the built-in pricing grid`)
	return cmd
}

func newServeCmd(opts *options) *cobra.Command {
	var (
		port     string
		schedule time.Duration
		upload   bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if port != "" {
				opts.app.Config.Port = port
			}
			return opts.app.Serve(app.ServeOptions{Schedule: schedule, Upload: upload})
		},
	}
	cmd.Flags().StringVar(&port, "port", "", "HTTP port (overrides GRANDCEDRE_PORT)")
	cmd.Flags().DurationVar(&schedule, "schedule", 0, "billing batch interval, 0 disables the scheduler")
	cmd.Flags().BoolVar(&upload, "upload", false, "upload invoices issued by the scheduler")
	return cmd
}
