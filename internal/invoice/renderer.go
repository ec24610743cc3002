package invoice

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"time"

	"github.com/fjod/go_pay/internal/domain"
)

// Renderer turns a frozen order into an invoice document.
type Renderer interface {
	Render(ctx context.Context, o *domain.Order) ([]byte, error)
	Extension() string
}

var invoiceTemplate = template.Must(template.New("invoice").Parse(`<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>Invoice {{.Number}}</title></head>
<body>
<h1>{{.Issuer}}</h1>
<p>Invoice <strong>{{.Number}}</strong><br>Order {{.OrderID}}<br>Issued {{.Issued}}</p>
<table>
<thead><tr><th>Item</th><th>Type</th><th>Qty</th><th>Unit price</th><th>Total</th></tr></thead>
<tbody>
{{- range .Lines}}
<tr><td>#{{.ProductRef}}</td><td>{{.ItemType}}</td><td>{{.Quantity}}</td><td>{{.UnitPrice}}</td><td>{{.Total}}</td></tr>
{{- end}}
</tbody>
</table>
<p>Subtotal: {{.Subtotal}} {{.Currency}}</p>
<p>{{.TaxName}} ({{.TaxPercent}}%): {{.TaxTotal}} {{.Currency}}</p>
<p><strong>Total: {{.Amount}} {{.Currency}}</strong></p>
</body>
</html>
`))

type invoiceLine struct {
	ProductRef int64
	ItemType   string
	Quantity   int
	UnitPrice  string
	Total      string
}

type invoiceView struct {
	Issuer     string
	Number     string
	OrderID    string
	Issued     string
	Currency   string
	Lines      []invoiceLine
	Subtotal   string
	TaxName    string
	TaxPercent string
	TaxTotal   string
	Amount     string
}

type HTMLRenderer struct {
	Issuer string
	now    func() time.Time
}

func NewHTMLRenderer(issuer string) *HTMLRenderer {
	return &HTMLRenderer{Issuer: issuer, now: time.Now}
}

func (r *HTMLRenderer) Extension() string { return "html" }

// Render uses only the amounts stored on the order; nothing is recomputed.
func (r *HTMLRenderer) Render(_ context.Context, o *domain.Order) ([]byte, error) {
	view := invoiceView{
		Issuer:     r.Issuer,
		Number:     Number(o),
		OrderID:    o.OrderID.String(),
		Issued:     r.now().UTC().Format("2006-01-02"),
		Currency:   o.Currency,
		Subtotal:   domain.FormatAmount(o.Subtotal),
		TaxName:    o.TaxName,
		TaxPercent: domain.FormatAmount(o.TaxPercent),
		TaxTotal:   domain.FormatAmount(o.TaxTotal),
		Amount:     domain.FormatAmount(o.Amount),
	}
	for _, l := range o.Lines {
		view.Lines = append(view.Lines, invoiceLine{
			ProductRef: l.ProductRef,
			ItemType:   string(l.ItemType),
			Quantity:   l.Quantity,
			UnitPrice:  domain.FormatAmount(l.UnitPrice),
			Total:      domain.FormatAmount(l.LineTotal()),
		})
	}

	var buf bytes.Buffer
	if err := invoiceTemplate.Execute(&buf, view); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrRender, err)
	}
	return buf.Bytes(), nil
}

// Number is the invoice number derived from the order identifier.
func Number(o *domain.Order) string {
	return "INV-" + o.OrderID.String()
}
