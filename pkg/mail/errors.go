package mail

import "errors"

var (
	ErrFailedToSend  = errors.New("mail.errors.failed_to_send")
	ErrInvalidConfig = errors.New("mail.errors.invalid_config")
	ErrInvalidParams = errors.New("mail.errors.invalid_params")
)
