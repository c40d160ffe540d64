package dunning

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"time"

	"github.com/google/uuid"

	"github.com/billflowhq/billflow/pkg/invoice"
	"github.com/billflowhq/billflow/pkg/mail"
)

// EmailResolver maps a user ID to their email address.
type EmailResolver interface {
	UserEmail(ctx context.Context, userID uuid.UUID) (string, error)
}

// EmailNotifier sends payment recovery emails.
type EmailNotifier struct {
	sender   mail.Sender
	resolver EmailResolver
}

// NewEmailNotifier creates a Notifier backed by the mail sender.
func NewEmailNotifier(sender mail.Sender, resolver EmailResolver) *EmailNotifier {
	if sender == nil {
		panic("dunning: mail sender is required")
	}
	if resolver == nil {
		panic("dunning: email resolver is required")
	}
	return &EmailNotifier{sender: sender, resolver: resolver}
}

var retryTemplate = template.Must(template.New("retry").Parse(`<html>
<body>
<p>We could not collect payment for invoice <strong>{{.Number}}</strong>
({{.Total}} {{.Currency}}).</p>
<p>We will try again on {{.NextAt}}. This was attempt {{.Attempt}}.</p>
<p>To avoid interruption, please make sure your payment method is up to date.</p>
</body>
</html>`))

var failedTemplate = template.Must(template.New("failed").Parse(`<html>
<body>
<p>Payment for invoice <strong>{{.Number}}</strong> ({{.Total}} {{.Currency}})
could not be collected after several attempts.</p>
<p>Your subscription has been suspended. Update your payment method to
restore access.</p>
</body>
</html>`))

func (n *EmailNotifier) RetryScheduled(ctx context.Context, inv *invoice.Invoice, attempt int, nextAt time.Time) error {
	to, err := n.resolver.UserEmail(ctx, inv.UserID)
	if err != nil {
		return err
	}

	var body bytes.Buffer
	err = retryTemplate.Execute(&body, map[string]any{
		"Number":   inv.Number,
		"Total":    formatAmount(inv.Total),
		"Currency": inv.Currency,
		"Attempt":  attempt,
		"NextAt":   nextAt.Format("January 2, 2006"),
	})
	if err != nil {
		return err
	}

	return n.sender.Send(ctx, mail.SendParams{
		To:       to,
		Subject:  fmt.Sprintf("Payment failed for invoice %s", inv.Number),
		BodyHTML: body.String(),
		Tag:      "dunning-retry",
	})
}

func (n *EmailNotifier) RecoveryFailed(ctx context.Context, inv *invoice.Invoice) error {
	to, err := n.resolver.UserEmail(ctx, inv.UserID)
	if err != nil {
		return err
	}

	var body bytes.Buffer
	err = failedTemplate.Execute(&body, map[string]any{
		"Number":   inv.Number,
		"Total":    formatAmount(inv.Total),
		"Currency": inv.Currency,
	})
	if err != nil {
		return err
	}

	return n.sender.Send(ctx, mail.SendParams{
		To:       to,
		Subject:  fmt.Sprintf("Subscription suspended: invoice %s unpaid", inv.Number),
		BodyHTML: body.String(),
		Tag:      "dunning-failed",
	})
}

func formatAmount(minor int64) string {
	return fmt.Sprintf("%d.%02d", minor/100, minor%100)
}
