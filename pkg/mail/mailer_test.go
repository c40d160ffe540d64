package mail_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/billflowhq/billflow/pkg/mail"
)

func TestSendParams_Validate(t *testing.T) {
	t.Parallel()

	valid := mail.SendParams{
		To:       "user@example.com",
		Subject:  "Payment failed",
		BodyHTML: "<p>hello</p>",
	}
	assert.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*mail.SendParams)
	}{
		{"missing recipient", func(p *mail.SendParams) { p.To = "" }},
		{"malformed recipient", func(p *mail.SendParams) { p.To = "not-an-email" }},
		{"missing subject", func(p *mail.SendParams) { p.Subject = "" }},
		{"missing body", func(p *mail.SendParams) { p.BodyHTML = "" }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			p := valid
			tc.mutate(&p)
			assert.ErrorIs(t, p.Validate(), mail.ErrInvalidParams)
		})
	}
}
