/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures of the HTTP API, decoupled from the billing
  types so storage fields can change without breaking operators' scripts.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

FORMATS:
  Dates are "YYYY-MM-DD", periods "YYYY-MM". Amounts and hours are returned
  as strings with two fractional digits; request decimals accept numbers or
  strings (shopspring/decimal).

SEE ALSO:
  - handlers.go: Uses these types
  - factory/fixtures.go: PricingJSON and ContractJSON request bodies
*/
package api

import (
	"github.com/grandcedre/billing/billing"
	"github.com/shopspring/decimal"
)

// =============================================================================
// CLIENTS AND CONTRACTS
// =============================================================================

type ClientDTO struct {
	ID          int64  `json:"id"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Email       string `json:"email"`
	PhoneNumber string `json:"phone_number,omitempty"`
	Address     string `json:"address,omitempty"`
	ZipCode     string `json:"zip_code,omitempty"`
	City        string `json:"city,omitempty"`
	IsOwner     bool   `json:"is_owner"`
	// MissingDetails is true when the client cannot be invoiced yet.
	MissingDetails bool `json:"missing_details"`
}

func toClientDTO(c billing.Client) ClientDTO {
	return ClientDTO{
		ID:             c.ID,
		FirstName:      c.FirstName,
		LastName:       c.LastName,
		Email:          c.Email,
		PhoneNumber:    c.PhoneNumber,
		Address:        c.Address,
		ZipCode:        c.ZipCode,
		City:           c.City,
		IsOwner:        c.IsOwner,
		MissingDetails: c.MissingDetails(),
	}
}

type ContractDTO struct {
	ID        int64  `json:"id"`
	ClientID  int64  `json:"client_id"`
	Type      string `json:"type"`
	RoomType  string `json:"room_type"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date,omitempty"`

	WeeklyHours    int    `json:"weekly_hours,omitempty"`
	MonthlyPrice   string `json:"monthly_price,omitempty"`
	FlatRate       string `json:"flat_rate,omitempty"`
	PrepaidHours   int    `json:"prepaid_hours,omitempty"`
	TotalHours     string `json:"total_hours,omitempty"`
	RemainingHours string `json:"remaining_hours,omitempty"`
}

func toContractDTO(c billing.Contract) ContractDTO {
	dto := ContractDTO{
		ID:        c.ID,
		ClientID:  c.ClientID,
		Type:      string(c.Type()),
		RoomType:  string(c.RoomType),
		StartDate: billing.FormatDate(c.StartDate),
	}
	if c.EndDate != nil {
		dto.EndDate = billing.FormatDate(*c.EndDate)
	}
	switch t := c.Terms.(type) {
	case billing.RecurringTerms:
		dto.WeeklyHours = t.WeeklyHours
		dto.MonthlyPrice = fixed(t.MonthlyPrice)
	case billing.FlatRateTerms:
		dto.FlatRate = fixed(t.FlatRate)
		dto.PrepaidHours = t.PrepaidHours
		dto.TotalHours = fixed(t.TotalHours)
		dto.RemainingHours = fixed(t.RemainingHours)
	}
	return dto
}

// =============================================================================
// PRICINGS
// =============================================================================

type PricingDTO struct {
	ID           int64  `json:"id"`
	Table        string `json:"table"`
	DurationFrom string `json:"duration_from"`
	DurationTo   string `json:"duration_to,omitempty"` // empty: unbounded
	ValidFrom    string `json:"valid_from"`
	ValidTo      string `json:"valid_to,omitempty"`
	HourlyPrice  string `json:"hourly_price,omitempty"`
	MonthlyPrice string `json:"monthly_price,omitempty"`
	FlatRate     string `json:"flat_rate,omitempty"`
	PrepaidHours int    `json:"prepaid_hours,omitempty"`
}

func toPricingDTO(p billing.Pricing) PricingDTO {
	dto := PricingDTO{
		ID:           p.ID,
		Table:        string(p.Table),
		DurationFrom: p.DurationFrom.String(),
		ValidFrom:    billing.FormatDate(p.ValidFrom),
	}
	if p.DurationTo != nil {
		dto.DurationTo = p.DurationTo.String()
	}
	if p.ValidTo != nil {
		dto.ValidTo = billing.FormatDate(*p.ValidTo)
	}
	switch {
	case p.Table.IsHourly():
		dto.HourlyPrice = fixed(p.HourlyPrice)
	case p.Table == billing.TableRecurring:
		dto.MonthlyPrice = fixed(p.MonthlyPrice)
	case p.Table == billing.TableFlatRate:
		dto.FlatRate = fixed(p.FlatRate)
		dto.PrepaidHours = p.PrepaidHours
	}
	return dto
}

// =============================================================================
// BOOKINGS AND IMPORTS
// =============================================================================

type DailyBookingDTO struct {
	ID            int64  `json:"id"`
	ClientID      int64  `json:"client_id"`
	ContractID    int64  `json:"contract_id,omitempty"`
	InvoiceID     *int64 `json:"invoice_id,omitempty"`
	Date          string `json:"date"`
	DurationHours string `json:"duration_hours"`
	Price         string `json:"price"`
	RoomType      string `json:"room_type"`
	Frozen        bool   `json:"frozen"`
}

func toDailyBookingDTO(b billing.DailyBooking) DailyBookingDTO {
	return DailyBookingDTO{
		ID:            b.ID,
		ClientID:      b.ClientID,
		ContractID:    b.ContractID,
		InvoiceID:     b.InvoiceID,
		Date:          billing.FormatDate(b.Date),
		DurationHours: fixed(b.DurationHours),
		Price:         fixed(b.Price),
		RoomType:      string(b.RoomType()),
		Frozen:        b.Frozen,
	}
}

// ImportRequest imports a month of bookings. With Calendars set the events
// come from the body, otherwise from the configured calendar source.
type ImportRequest struct {
	Period    string             `json:"period,omitempty"` // default: current month
	Calendars []CalendarEventsIn `json:"calendars,omitempty"`
}

type CalendarEventsIn struct {
	billing.Calendar
	Events []billing.Event `json:"events"`
}

type ImportResponse struct {
	Created    []DailyBookingDTO `json:"created"`
	Existing   int               `json:"existing"`
	NoContract []string          `json:"no_contract"`
	Unpriced   []UnpricedDTO     `json:"unpriced"`
	Skipped    []string          `json:"skipped"`
	NewClients []ClientDTO       `json:"new_clients"`
}

type UnpricedDTO struct {
	ClientEmail string `json:"client_email"`
	Date        string `json:"date"`
	RoomType    string `json:"room_type"`
	Hours       string `json:"hours"`
	Error       string `json:"error"`
}

func toImportResponse(r billing.ImportReport) ImportResponse {
	resp := ImportResponse{
		Created:    make([]DailyBookingDTO, 0, len(r.Created)),
		Existing:   len(r.Existing),
		NoContract: make([]string, 0, len(r.NoContract)),
		Unpriced:   make([]UnpricedDTO, 0, len(r.Unpriced)),
		Skipped:    make([]string, 0, len(r.Skipped)),
		NewClients: make([]ClientDTO, 0, len(r.NewClients)),
	}
	for _, b := range r.Created {
		resp.Created = append(resp.Created, toDailyBookingDTO(b))
	}
	for _, b := range r.NoContract {
		resp.NoContract = append(resp.NoContract, b.String())
	}
	for _, u := range r.Unpriced {
		resp.Unpriced = append(resp.Unpriced, UnpricedDTO{
			ClientEmail: u.Client.Email,
			Date:        billing.FormatDate(u.Date),
			RoomType:    string(u.RoomType),
			Hours:       fixed(u.Hours),
			Error:       u.Err.Error(),
		})
	}
	for _, s := range r.Skipped {
		resp.Skipped = append(resp.Skipped, s.Summary+": "+s.Err.Error())
	}
	for _, c := range r.NewClients {
		resp.NewClients = append(resp.NewClients, toClientDTO(c))
	}
	return resp
}

// =============================================================================
// INVOICES
// =============================================================================

type InvoiceDTO struct {
	ID                 int64             `json:"id"`
	Number             string            `json:"number"`
	ContractID         int64             `json:"contract_id"`
	Period             string            `json:"period"`
	IssuedAt           string            `json:"issued_at"`
	Currency           string            `json:"currency"`
	Total              string            `json:"total"`
	PayedAt            string            `json:"payed_at,omitempty"`
	CheckNumber        string            `json:"check_number,omitempty"`
	WireTransferNumber string            `json:"wire_transfer_number,omitempty"`
	Bookings           []DailyBookingDTO `json:"bookings,omitempty"`
}

func toInvoiceDTO(doc billing.InvoiceDocument, withBookings bool) InvoiceDTO {
	inv := doc.Invoice
	dto := InvoiceDTO{
		ID:                 inv.ID,
		Number:             inv.Number(),
		ContractID:         inv.ContractID,
		Period:             inv.Period,
		IssuedAt:           billing.FormatDate(inv.IssuedAt),
		Currency:           inv.Currency,
		Total:              fixed(doc.TotalPrice()),
		CheckNumber:        inv.CheckNumber,
		WireTransferNumber: inv.WireTransferNumber,
	}
	if inv.PayedAt != nil {
		dto.PayedAt = billing.FormatDate(*inv.PayedAt)
	}
	if withBookings {
		dto.Bookings = make([]DailyBookingDTO, 0, len(doc.Bookings))
		for _, b := range doc.Bookings {
			dto.Bookings = append(dto.Bookings, toDailyBookingDTO(b))
		}
	}
	return dto
}

type GenerateInvoicesRequest struct {
	Period string `json:"period,omitempty"` // default: previous month
	Upload bool   `json:"upload,omitempty"`
}

type GenerateInvoicesResponse struct {
	Period   string       `json:"period"`
	Created  []InvoiceDTO `json:"created"`
	Existing int          `json:"existing"`
	Skipped  []string     `json:"skipped"`
	Uploaded []string     `json:"uploaded"`
	Failed   []string     `json:"failed"`
}

type PaymentRequest struct {
	Date               string `json:"date"`
	CheckNumber        string `json:"check_number,omitempty"`
	WireTransferNumber string `json:"wire_transfer_number,omitempty"`
}

// =============================================================================
// EXPENSES AND BALANCE SHEETS
// =============================================================================

type ExpenseRequest struct {
	Date  string          `json:"date"`
	Label string          `json:"label"`
	Price decimal.Decimal `json:"price"`
}

type ExpenseDTO struct {
	ID    int64  `json:"id"`
	Date  string `json:"date"`
	Label string `json:"label"`
	Price string `json:"price"`
}

func toExpenseDTO(e billing.Expense) ExpenseDTO {
	return ExpenseDTO{ID: e.ID, Date: billing.FormatDate(e.Date), Label: e.Label, Price: fixed(e.Price)}
}

type BalanceSheetRequest struct {
	StartDate string `json:"start_date,omitempty"` // both empty: previous month
	EndDate   string `json:"end_date,omitempty"`
}

type BalanceSheetDTO struct {
	ID           int64  `json:"id"`
	StartDate    string `json:"start_date"`
	EndDate      string `json:"end_date"`
	Created      bool   `json:"created"`
	InvoiceTotal string `json:"invoice_total"`
	ExpenseTotal string `json:"expense_total"`
	Total        string `json:"total"`
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse represents an error in API responses.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// fixed formats an amount with two fractional digits.
func fixed(d decimal.Decimal) string {
	return billing.Quantize(d).StringFixed(2)
}
