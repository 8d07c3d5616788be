package render_test

import (
	"bytes"
	"testing"

	"github.com/grandcedre/billing/billing"
	"github.com/grandcedre/billing/render"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTML_RendersInvoice(t *testing.T) {
	doc := billing.InvoiceDocument{
		Invoice: billing.Invoice{ID: 7, Period: "2019-01", IssuedAt: billing.Date(2019, 2, 1), Currency: billing.DefaultCurrency},
		Contract: billing.Contract{
			RoomType: billing.RoomIndividual, StartDate: billing.Date(2019, 1, 1), Terms: billing.StandardTerms{},
		},
		Client: billing.Client{FirstName: "Ada", LastName: "L", Address: "1 rue <du> Cèdre", ZipCode: "71000", City: "Mâcon"},
		Bookings: []billing.DailyBooking{
			{Date: billing.Date(2019, 1, 3), DurationHours: decimal.NewFromInt(1), Price: decimal.RequireFromString("10.90")},
			{Date: billing.Date(2019, 1, 4), DurationHours: decimal.RequireFromString("1.5"), Price: decimal.RequireFromString("15.00")},
		},
	}

	r := render.NewHTML()
	var buf bytes.Buffer
	require.NoError(t, r.Render(&buf, doc))

	out := buf.String()
	assert.Contains(t, out, "GC 007-19")
	assert.Contains(t, out, "25.90 €")
	assert.Contains(t, out, "03/01/2019")
	assert.Contains(t, out, "2.50h")
	assert.Contains(t, out, "1 rue &lt;du&gt; Cèdre", "client fields are escaped")
	assert.NotContains(t, out, "Réglée")

	assert.Equal(t, "html", r.Extension())
	assert.Equal(t, "ada-l-2019-02-01-007.html", doc.Filename(r.Extension()))
}
