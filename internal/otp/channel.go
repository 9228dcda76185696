package otp

import "context"

// Channel issues a challenge to a recipient and later validates a response
// against the stored record. Implementations: SMSChannel, EmailChannel, and
// MockChannel (non-production only).
type Channel interface {
	// Kind returns the delivery channel this adapter serves.
	Kind() ChannelKind

	// Issue delivers a challenge to the recipient and returns the token to
	// persist as the challenge secret.
	Issue(ctx context.Context, recipient string) (*DeliveryResult, error)

	// Verify checks the user-supplied response against the stored challenge
	// and returns the verified identifier on success.
	Verify(ctx context.Context, ch *Challenge, response string) (string, error)
}
