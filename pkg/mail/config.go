package mail

// Config holds mail delivery configuration.
// Postmark tokens are optional so development environments can run with the
// filesystem sender instead.
type Config struct {
	PostmarkServerToken  string `env:"POSTMARK_SERVER_TOKEN"`
	PostmarkAccountToken string `env:"POSTMARK_ACCOUNT_TOKEN"`
	SenderEmail          string `env:"SENDER_EMAIL,required"`
	BillingEmail         string `env:"BILLING_EMAIL,required"`
}
