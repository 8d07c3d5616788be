// Package render turns invoice documents into files: an HTML page with
// every daily booking and the total.
package render

import (
	"fmt"
	"html/template"
	"io"

	"github.com/grandcedre/billing/billing"
	"github.com/shopspring/decimal"
)

const invoiceTemplate = `<!DOCTYPE html>
<html lang="fr">
<head>
<meta charset="utf-8">
<title>Facture {{.Number}}</title>
<style>
body { font-family: sans-serif; margin: 2em; }
table { border-collapse: collapse; width: 100%; }
th, td { border-bottom: 1px solid #ccc; padding: .4em; text-align: left; }
td.amount, th.amount { text-align: right; }
</style>
</head>
<body>
<header>
<h1>Le Grand Cèdre</h1>
<p>Facture <strong>{{.Number}}</strong> du {{date .Invoice.IssuedAt}}, période {{.Period}}</p>
</header>

<section class="client">
<p>{{.Client.FullName}}<br>
{{.Client.Address}}<br>
{{.Client.ZipCode}} {{.Client.City}}</p>
</section>

<section class="contract">
<p>{{.Contract.Type.Label}} - {{.Contract.RoomType.Label}}</p>
</section>

{{if .Bookings}}
<table>
<thead><tr><th>Date</th><th class="amount">Durée</th><th class="amount">Prix</th></tr></thead>
<tbody>
{{- range .Bookings}}
<tr><td>{{date .Date}}</td><td class="amount">{{hours .DurationHours}}</td><td class="amount">{{money .Price}} {{$.Symbol}}</td></tr>
{{- end}}
</tbody>
</table>
<p>Total des heures : {{hours .TotalHours}}</p>
{{end}}

<p class="total">Total : <strong>{{money .TotalPrice}} {{.Symbol}}</strong></p>
{{if .Invoice.Paid}}<p class="paid">Réglée le {{date .Invoice.PayedAt}}</p>{{end}}
</body>
</html>
`

var funcs = template.FuncMap{
	"money": func(d decimal.Decimal) string { return d.StringFixed(2) },
	"hours": func(d decimal.Decimal) string { return d.StringFixed(2) + "h" },
	"date": func(v any) string {
		switch t := v.(type) {
		case interface{ Format(string) string }:
			return t.Format("02/01/2006")
		default:
			return fmt.Sprint(v)
		}
	},
}

// HTML renders invoices as standalone HTML pages.
type HTML struct {
	tmpl *template.Template
}

var _ billing.Renderer = (*HTML)(nil)

func NewHTML() *HTML {
	return &HTML{tmpl: template.Must(template.New("invoice").Funcs(funcs).Parse(invoiceTemplate))}
}

func (h *HTML) Render(w io.Writer, doc billing.InvoiceDocument) error {
	return h.tmpl.Execute(w, doc)
}

func (h *HTML) Extension() string { return "html" }
func (h *HTML) MimeType() string  { return "text/html" }
