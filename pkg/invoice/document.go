package invoice

import (
	"bytes"
	"context"
	"fmt"
	"text/template"

	"github.com/google/uuid"
)

// invoiceTemplate is the plain-text invoice document layout. Amounts are in
// the smallest currency unit; the template renders them as major units.
var invoiceTemplate = template.Must(template.New("invoice").Funcs(template.FuncMap{
	"money": func(amount int64) string {
		return formatMoney(amount)
	},
}).Parse(`INVOICE {{.Number}}
================================================================

Invoice ID:      {{.ID}}
Subscription:    {{.SubscriptionID}}
Status:          {{.Status}}
Issued:          {{.CreatedAt.Format "2006-01-02"}}
Due:             {{.DueDate.Format "2006-01-02"}}
Billing period:  {{.PeriodStart.Format "2006-01-02"}} to {{.PeriodEnd.Format "2006-01-02"}}

----------------------------------------------------------------
Subscription charge{{range .Overages}}
Overage: {{.Feature}} x{{.Quantity}} @ {{money .Rate}} = {{money .Amount}}{{end}}
----------------------------------------------------------------

Subtotal:        {{money .Amount}} {{.Currency}}
Tax:             {{money .Tax}} {{.Currency}}
Total:           {{money .Total}} {{.Currency}}
{{if .PaidAt}}
Paid at {{.PaidAt.Format "2006-01-02 15:04"}} UTC.
{{end}}`))

func formatMoney(amount int64) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	return fmt.Sprintf("%s%d.%02d", sign, amount/100, amount%100)
}

// RenderDocument renders the invoice as a plain-text document.
func (s *service) RenderDocument(ctx context.Context, invoiceID uuid.UUID) ([]byte, error) {
	inv, err := s.invoices.ByID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := invoiceTemplate.Execute(&buf, inv); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
