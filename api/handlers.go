/*
handlers.go - HTTP API handlers of the billing engine

PURPOSE:
  Exposes the engine to the back office. Handles HTTP request/response and
  JSON serialization, and delegates to billing.Engine.

ENDPOINTS:
  Reference data:
    GET    /api/clients                    List clients
    POST   /api/clients                    Create client
    GET    /api/clients/{id}               Get client
    PUT    /api/clients/{id}               Update client details
    GET    /api/contracts                  List contracts
    POST   /api/contracts                  Create contract (prices resolved)
    GET    /api/contracts/{id}             Get contract
    GET    /api/pricings?table=            List pricing rows
    POST   /api/pricings                   Add pricing row

  Bookings:
    GET    /api/bookings?from=&to=&client_id=  List daily bookings
    DELETE /api/bookings/{id}                  Delete unfrozen booking
    POST   /api/imports                        Import a month of bookings

  Invoices:
    POST   /api/invoices/generate          Issue invoices of a period
    GET    /api/invoices?period=&contract_id=
    GET    /api/invoices/{id}              Invoice with bookings and total
    GET    /api/invoices/{id}/html         Rendered invoice
    POST   /api/invoices/{id}/pay          Record payment

  Reports:
    GET    /api/expenses?from=&to=
    POST   /api/expenses
    GET    /api/balance-sheets
    POST   /api/balance-sheets             Get or create a balance sheet
    GET    /api/balance-sheets/{id}/csv    Export

ERROR HANDLING:
  - 400: Validation errors, invalid input
  - 404: Record not found
  - 409: Duplicate contract, frozen booking
  - 422: No price, or ambiguous price, for the requested booking
  - 500: Internal errors

SECURITY NOTE:
  No authentication. The API is meant to be served on the back office
  network only.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/grandcedre/billing/billing"
	"github.com/grandcedre/billing/calendar"
	"github.com/grandcedre/billing/factory"
	"go.uber.org/zap"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds the dependencies of the HTTP handlers.
type Handler struct {
	Engine *billing.Engine
	// Source is used by imports that do not carry their own events.
	Source billing.CalendarSource

	log *zap.Logger
}

func NewHandler(engine *billing.Engine, source billing.CalendarSource, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{Engine: engine, Source: source, log: log.Named("api")}
}

// Health reports that the server is up.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// CLIENT HANDLERS
// =============================================================================

func (h *Handler) ListClients(w http.ResponseWriter, r *http.Request) {
	clients, err := h.Engine.Store.ListClients(r.Context())
	if err != nil {
		h.fail(w, "Failed to list clients", err)
		return
	}
	dtos := make([]ClientDTO, 0, len(clients))
	for _, c := range clients {
		dtos = append(dtos, toClientDTO(c))
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateClient(w http.ResponseWriter, r *http.Request) {
	var req factory.ClientJSON
	if !decode(w, r, &req) {
		return
	}
	c := req.ToClient()
	if err := h.Engine.CreateClient(r.Context(), &c); err != nil {
		h.fail(w, "Failed to create client", err)
		return
	}
	writeJSON(w, http.StatusCreated, toClientDTO(c))
}

func (h *Handler) GetClient(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	c, err := h.Engine.Store.GetClient(r.Context(), id)
	if err != nil {
		h.fail(w, "Failed to get client", err)
		return
	}
	writeJSON(w, http.StatusOK, toClientDTO(*c))
}

// UpdateClient replaces the client's details. This is how operators complete
// clients auto-created by imports.
func (h *Handler) UpdateClient(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req factory.ClientJSON
	if !decode(w, r, &req) {
		return
	}
	ctx := r.Context()
	if _, err := h.Engine.Store.GetClient(ctx, id); err != nil {
		h.fail(w, "Failed to get client", err)
		return
	}
	c := req.ToClient()
	c.ID = id
	if c.Email == "" {
		writeError(w, http.StatusBadRequest, "Client email is required", nil)
		return
	}
	if err := h.Engine.Store.UpdateClient(ctx, c); err != nil {
		h.fail(w, "Failed to update client", err)
		return
	}
	writeJSON(w, http.StatusOK, toClientDTO(c))
}

// =============================================================================
// CONTRACT AND PRICING HANDLERS
// =============================================================================

// ContractRequest identifies the client by id or, failing that, by email.
type ContractRequest struct {
	ClientID int64 `json:"client_id,omitempty"`
	factory.ContractJSON
}

func (h *Handler) ListContracts(w http.ResponseWriter, r *http.Request) {
	contracts, err := h.Engine.Store.ListContracts(r.Context())
	if err != nil {
		h.fail(w, "Failed to list contracts", err)
		return
	}
	dtos := make([]ContractDTO, 0, len(contracts))
	for _, c := range contracts {
		dtos = append(dtos, toContractDTO(c))
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateContract(w http.ResponseWriter, r *http.Request) {
	var req ContractRequest
	if !decode(w, r, &req) {
		return
	}
	ctx := r.Context()

	clientID := req.ClientID
	if clientID == 0 {
		if req.ClientEmail == "" {
			writeError(w, http.StatusBadRequest, "client_id or client_email is required", nil)
			return
		}
		client, err := h.Engine.Store.GetClientByEmail(ctx, req.ClientEmail)
		if err != nil {
			h.fail(w, "Failed to find client", err)
			return
		}
		clientID = client.ID
	}

	c, err := req.ToContract(clientID)
	if err != nil {
		h.fail(w, "Invalid contract", err)
		return
	}
	if err := h.Engine.CreateContract(ctx, &c); err != nil {
		h.fail(w, "Failed to create contract", err)
		return
	}
	writeJSON(w, http.StatusCreated, toContractDTO(c))
}

func (h *Handler) GetContract(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	c, err := h.Engine.Store.GetContract(r.Context(), id)
	if err != nil {
		h.fail(w, "Failed to get contract", err)
		return
	}
	writeJSON(w, http.StatusOK, toContractDTO(*c))
}

var allTables = []billing.PricingTable{
	billing.TableIndividualModular,
	billing.TableCollectiveRegular,
	billing.TableCollectiveOccasional,
	billing.TableRecurring,
	billing.TableFlatRate,
}

func (h *Handler) ListPricings(w http.ResponseWriter, r *http.Request) {
	tables := allTables
	if t := r.URL.Query().Get("table"); t != "" {
		table, err := billing.ParsePricingTable(t)
		if err != nil {
			h.fail(w, "Invalid pricing table", err)
			return
		}
		tables = []billing.PricingTable{table}
	}

	dtos := []PricingDTO{}
	for _, table := range tables {
		rows, err := h.Engine.Store.ListPricings(r.Context(), table)
		if err != nil {
			h.fail(w, "Failed to list pricings", err)
			return
		}
		for _, p := range rows {
			dtos = append(dtos, toPricingDTO(p))
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreatePricing(w http.ResponseWriter, r *http.Request) {
	var req factory.PricingJSON
	if !decode(w, r, &req) {
		return
	}
	p, err := req.ToPricing()
	if err != nil {
		h.fail(w, "Invalid pricing", err)
		return
	}
	if err := h.Engine.AddPricing(r.Context(), &p); err != nil {
		h.fail(w, "Failed to create pricing", err)
		return
	}
	writeJSON(w, http.StatusCreated, toPricingDTO(p))
}

// =============================================================================
// BOOKING HANDLERS
// =============================================================================

func (h *Handler) ListBookings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var (
		f   billing.BookingFilter
		err error
	)
	if f.From, err = queryDate(q.Get("from")); err != nil {
		h.fail(w, "Invalid from date", err)
		return
	}
	if f.To, err = queryDate(q.Get("to")); err != nil {
		h.fail(w, "Invalid to date", err)
		return
	}
	if s := q.Get("client_id"); s != "" {
		if f.ClientID, err = strconv.ParseInt(s, 10, 64); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid client_id", err)
			return
		}
	}

	bookings, err := h.Engine.Store.ListDailyBookings(r.Context(), f)
	if err != nil {
		h.fail(w, "Failed to list bookings", err)
		return
	}
	dtos := make([]DailyBookingDTO, 0, len(bookings))
	for _, b := range bookings {
		dtos = append(dtos, toDailyBookingDTO(b))
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) DeleteBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.Engine.DeleteDailyBooking(r.Context(), id); err != nil {
		h.fail(w, "Failed to delete booking", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ImportBookings(w http.ResponseWriter, r *http.Request) {
	var req ImportRequest
	if !decode(w, r, &req) {
		return
	}
	period, err := optionalPeriod(req.Period)
	if err != nil {
		h.fail(w, "Invalid period", err)
		return
	}

	source := h.Source
	if len(req.Calendars) > 0 {
		static := calendar.NewStatic()
		for _, c := range req.Calendars {
			static.AddCalendar(c.Calendar, c.Events...)
		}
		source = static
	}
	if source == nil {
		writeError(w, http.StatusBadRequest, "No calendar source configured, post the events", nil)
		return
	}

	report, err := h.Engine.ImportBookings(r.Context(), source, period)
	if err != nil {
		h.fail(w, "Failed to import bookings", err)
		return
	}
	writeJSON(w, http.StatusOK, toImportResponse(report))
}

// =============================================================================
// INVOICE HANDLERS
// =============================================================================

func (h *Handler) GenerateInvoices(w http.ResponseWriter, r *http.Request) {
	var req GenerateInvoicesRequest
	if !decode(w, r, &req) {
		return
	}
	period, err := optionalPeriod(req.Period)
	if err != nil {
		h.fail(w, "Invalid period", err)
		return
	}

	report, err := h.Engine.GenerateInvoices(r.Context(), period, req.Upload)
	if err != nil {
		h.fail(w, "Failed to generate invoices", err)
		return
	}

	resp := GenerateInvoicesResponse{
		Created:  []InvoiceDTO{},
		Existing: len(report.Existing),
		Skipped:  []string{},
		Uploaded: report.Uploaded,
		Failed:   []string{},
	}
	if len(report.Created) > 0 {
		resp.Period = report.Created[0].Period
	} else if !period.IsZero() {
		resp.Period = period.String()
	}
	for _, inv := range report.Created {
		doc, err := h.Engine.Generator.Document(r.Context(), inv)
		if err != nil {
			h.fail(w, "Failed to load invoice", err)
			return
		}
		resp.Created = append(resp.Created, toInvoiceDTO(doc, false))
	}
	for _, s := range report.Skipped {
		resp.Skipped = append(resp.Skipped, fmt.Sprintf("contract %d: %s", s.Contract.ID, s.Reason))
	}
	for _, f := range report.Failed {
		resp.Failed = append(resp.Failed, fmt.Sprintf("invoice %d: %v", f.Invoice.ID, f.Err))
	}
	if resp.Uploaded == nil {
		resp.Uploaded = []string{}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) ListInvoices(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var f billing.InvoiceFilter
	if s := q.Get("period"); s != "" {
		p, err := billing.ParsePeriod(s)
		if err != nil {
			h.fail(w, "Invalid period", err)
			return
		}
		f.Period = p.String()
	}
	if s := q.Get("contract_id"); s != "" {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid contract_id", err)
			return
		}
		f.ContractID = id
	}

	ctx := r.Context()
	invoices, err := h.Engine.Store.ListInvoices(ctx, f)
	if err != nil {
		h.fail(w, "Failed to list invoices", err)
		return
	}
	dtos := make([]InvoiceDTO, 0, len(invoices))
	for _, inv := range invoices {
		doc, err := h.Engine.Generator.Document(ctx, inv)
		if err != nil {
			h.fail(w, "Failed to load invoice", err)
			return
		}
		dtos = append(dtos, toInvoiceDTO(doc, false))
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	doc, ok := h.invoiceDocument(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toInvoiceDTO(doc, true))
}

func (h *Handler) RenderInvoice(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	inv, err := h.Engine.Store.GetInvoice(ctx, id)
	if err != nil {
		h.fail(w, "Failed to get invoice", err)
		return
	}

	var buf bytes.Buffer
	if _, err := h.Engine.Generator.Render(ctx, &buf, *inv); err != nil {
		h.fail(w, "Failed to render invoice", err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

func (h *Handler) PayInvoice(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req PaymentRequest
	if !decode(w, r, &req) {
		return
	}
	date, err := billing.ParseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid payment date", err)
		return
	}

	ctx := r.Context()
	inv, err := h.Engine.MarkInvoicePaid(ctx, id, billing.Payment{
		Date:               date,
		CheckNumber:        strings.TrimSpace(req.CheckNumber),
		WireTransferNumber: strings.TrimSpace(req.WireTransferNumber),
	})
	if err != nil {
		h.fail(w, "Failed to record payment", err)
		return
	}
	doc, err := h.Engine.Generator.Document(ctx, *inv)
	if err != nil {
		h.fail(w, "Failed to load invoice", err)
		return
	}
	writeJSON(w, http.StatusOK, toInvoiceDTO(doc, false))
}

func (h *Handler) invoiceDocument(w http.ResponseWriter, r *http.Request) (billing.InvoiceDocument, bool) {
	id, ok := pathID(w, r)
	if !ok {
		return billing.InvoiceDocument{}, false
	}
	ctx := r.Context()
	inv, err := h.Engine.Store.GetInvoice(ctx, id)
	if err != nil {
		h.fail(w, "Failed to get invoice", err)
		return billing.InvoiceDocument{}, false
	}
	doc, err := h.Engine.Generator.Document(ctx, *inv)
	if err != nil {
		h.fail(w, "Failed to load invoice", err)
		return billing.InvoiceDocument{}, false
	}
	return doc, true
}

// =============================================================================
// REPORT HANDLERS
// =============================================================================

func (h *Handler) ListExpenses(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err := queryDate(q.Get("from"))
	if err != nil {
		h.fail(w, "Invalid from date", err)
		return
	}
	to, err := queryDate(q.Get("to"))
	if err != nil {
		h.fail(w, "Invalid to date", err)
		return
	}
	if to.IsZero() {
		to = billing.Date(9999, 12, 31)
	}

	expenses, err := h.Engine.Store.ListExpenses(r.Context(), from, to)
	if err != nil {
		h.fail(w, "Failed to list expenses", err)
		return
	}
	dtos := make([]ExpenseDTO, 0, len(expenses))
	for _, e := range expenses {
		dtos = append(dtos, toExpenseDTO(e))
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateExpense(w http.ResponseWriter, r *http.Request) {
	var req ExpenseRequest
	if !decode(w, r, &req) {
		return
	}
	date, err := billing.ParseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid expense date", err)
		return
	}
	e := billing.Expense{Date: date, Label: req.Label, Price: req.Price}
	if err := h.Engine.AddExpense(r.Context(), &e); err != nil {
		h.fail(w, "Failed to create expense", err)
		return
	}
	writeJSON(w, http.StatusCreated, toExpenseDTO(e))
}

func (h *Handler) ListBalanceSheets(w http.ResponseWriter, r *http.Request) {
	sheets, err := h.Engine.Store.ListBalanceSheets(r.Context())
	if err != nil {
		h.fail(w, "Failed to list balance sheets", err)
		return
	}
	dtos := make([]BalanceSheetDTO, 0, len(sheets))
	for _, bs := range sheets {
		dto, err := h.balanceSheetDTO(r, bs, false)
		if err != nil {
			h.fail(w, "Failed to compute balance sheet", err)
			return
		}
		dtos = append(dtos, dto)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateBalanceSheet(w http.ResponseWriter, r *http.Request) {
	var req BalanceSheetRequest
	if !decode(w, r, &req) {
		return
	}
	start, err := queryDate(req.StartDate)
	if err != nil {
		h.fail(w, "Invalid start date", err)
		return
	}
	end, err := queryDate(req.EndDate)
	if err != nil {
		h.fail(w, "Invalid end date", err)
		return
	}
	if start.IsZero() != end.IsZero() {
		writeError(w, http.StatusBadRequest, "start_date and end_date go together", nil)
		return
	}

	bs, created, err := h.Engine.BalanceSheet(r.Context(), start, end)
	if err != nil {
		h.fail(w, "Failed to create balance sheet", err)
		return
	}
	dto, err := h.balanceSheetDTO(r, bs, created)
	if err != nil {
		h.fail(w, "Failed to compute balance sheet", err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, dto)
}

func (h *Handler) BalanceSheetCSV(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	bs, err := h.Engine.Store.GetBalanceSheet(ctx, id)
	if err != nil {
		h.fail(w, "Failed to get balance sheet", err)
		return
	}

	var buf bytes.Buffer
	if err := h.Engine.BalanceSheetCSV(ctx, &buf, *bs); err != nil {
		h.fail(w, "Failed to export balance sheet", err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", bs.Filename("csv")))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

func (h *Handler) balanceSheetDTO(r *http.Request, bs billing.BalanceSheet, created bool) (BalanceSheetDTO, error) {
	b, err := h.Engine.Reporter.Balance(r.Context(), bs)
	if err != nil {
		return BalanceSheetDTO{}, err
	}
	return BalanceSheetDTO{
		ID:           bs.ID,
		StartDate:    billing.FormatDate(bs.StartDate),
		EndDate:      billing.FormatDate(bs.EndDate),
		Created:      created,
		InvoiceTotal: fixed(b.InvoiceTotal),
		ExpenseTotal: fixed(b.ExpenseTotal),
		Total:        fixed(b.Total()),
	}, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// fail maps an engine error to its HTTP status.
func (h *Handler) fail(w http.ResponseWriter, message string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.log.Error(message, zap.Error(err))
	}
	writeError(w, status, message, err)
}

func statusFor(err error) int {
	switch {
	case billing.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, billing.ErrDuplicateContract), errors.Is(err, billing.ErrBookingFrozen):
		return http.StatusConflict
	case billing.IsValidationError(err):
		return http.StatusBadRequest
	case errors.Is(err, billing.ErrNoMatchingPrice), errors.Is(err, billing.ErrAmbiguousPrice):
		return http.StatusUnprocessableEntity
	case strings.Contains(err.Error(), "already exists"):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// decode reads a JSON body. An empty body leaves v untouched.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid id", err)
		return 0, false
	}
	return id, true
}

func queryDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := billing.ParseDate(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", billing.ErrInvalidDates, err)
	}
	return t, nil
}

func optionalPeriod(s string) (billing.Period, error) {
	if s == "" {
		return billing.Period{}, nil
	}
	return billing.ParsePeriod(s)
}
