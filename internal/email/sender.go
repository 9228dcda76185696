package email

import "context"

// Message is one transactional email. Text is required; HTML is an optional
// rich alternative part.
type Message struct {
	To      string
	Subject string
	Text    string
	HTML    string
}

// Sender delivers transactional email.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}
