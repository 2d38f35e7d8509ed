package email

import (
	"context"
	"errors"
)

// ErrInvalidMessage is returned when a message lacks a recipient or subject.
var ErrInvalidMessage = errors.New("email: message requires recipient and subject")

// Message is a transactional email with an HTML body.
type Message struct {
	To       string
	Subject  string
	HTMLBody string
	// Tag groups messages in provider dashboards, e.g. "password-reset".
	Tag string
}

// Validate checks the fields every sender needs.
func (m Message) Validate() error {
	if m.To == "" || m.Subject == "" {
		return ErrInvalidMessage
	}
	return nil
}

// EmailSender delivers transactional email.
type EmailSender interface {
	Send(ctx context.Context, msg Message) error
}
