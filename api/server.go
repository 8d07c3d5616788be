/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging through zap
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the back office UI

ROUTE GROUPS:
  /api/clients/*         Client management
  /api/contracts/*       Contract management
  /api/pricings          Pricing tables
  /api/bookings/*        Daily bookings
  /api/imports           Calendar imports
  /api/invoices/*        Invoice generation, rendering and payment
  /api/expenses          Expenses
  /api/balance-sheets/*  Balance sheets

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// NewRouter creates a new router with all routes configured. An empty
// origins list allows any origin.
func NewRouter(h *Handler, origins []string) *chi.Mux {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(requestLogger(h.log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		ExposedHeaders: []string{"Content-Disposition"},
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)

		r.Route("/clients", func(r chi.Router) {
			r.Get("/", h.ListClients)
			r.Post("/", h.CreateClient)
			r.Get("/{id}", h.GetClient)
			r.Put("/{id}", h.UpdateClient)
		})

		r.Route("/contracts", func(r chi.Router) {
			r.Get("/", h.ListContracts)
			r.Post("/", h.CreateContract)
			r.Get("/{id}", h.GetContract)
		})

		r.Get("/pricings", h.ListPricings)
		r.Post("/pricings", h.CreatePricing)

		r.Route("/bookings", func(r chi.Router) {
			r.Get("/", h.ListBookings)
			r.Delete("/{id}", h.DeleteBooking)
		})
		r.Post("/imports", h.ImportBookings)

		r.Route("/invoices", func(r chi.Router) {
			r.Get("/", h.ListInvoices)
			r.Post("/generate", h.GenerateInvoices)
			r.Get("/{id}", h.GetInvoice)
			r.Get("/{id}/html", h.RenderInvoice)
			r.Post("/{id}/pay", h.PayInvoice)
		})

		r.Get("/expenses", h.ListExpenses)
		r.Post("/expenses", h.CreateExpense)

		r.Route("/balance-sheets", func(r chi.Router) {
			r.Get("/", h.ListBalanceSheets)
			r.Post("/", h.CreateBalanceSheet)
			r.Get("/{id}/csv", h.BalanceSheetCSV)
		})
	})

	return r
}

// requestLogger logs one line per request.
func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				log.Info("request",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("duration", time.Since(start)),
					zap.String("request_id", middleware.GetReqID(r.Context())),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
