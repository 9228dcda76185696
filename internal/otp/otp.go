// Package otp implements the one-time-password core: challenge issuance and
// verification over pluggable delivery channels (SMS via the telecom SOAP
// auth gateway, email via SMTP), with a Postgres-backed credential store and
// configurable fallback policy.
package otp

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ChannelKind identifies a delivery channel for a challenge.
type ChannelKind string

const (
	ChannelSMS   ChannelKind = "sms"
	ChannelEmail ChannelKind = "email"
)

// ParseChannel validates a wire-level delivery method string.
func ParseChannel(s string) (ChannelKind, error) {
	switch ChannelKind(s) {
	case ChannelSMS, ChannelEmail:
		return ChannelKind(s), nil
	default:
		return "", fmt.Errorf("%w: invalid delivery method %q (use \"sms\" or \"email\")", ErrValidation, s)
	}
}

// DefaultChallengeTTL is the lifetime of a stored challenge.
const DefaultChallengeTTL = 5 * time.Minute

// Challenge is a stored one-time credential tied to a recipient and channel.
// For SMS the secret is a signed token binding the recipient to the gateway
// transaction; for email it is the plain numeric code shown to the user.
type Challenge struct {
	ID        uuid.UUID   `json:"id"`
	Recipient string      `json:"recipient"`
	Channel   ChannelKind `json:"channel"`
	Secret    string      `json:"-"`
	CreatedAt time.Time   `json:"created_at"`
	ExpiresAt time.Time   `json:"expires_at"`
}

// Expired reports whether the challenge lifetime has passed at the given instant.
func (c *Challenge) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// DeliveryResult is the uniform outcome of a successful channel issue,
// regardless of which channel produced it.
type DeliveryResult struct {
	Token   string
	Channel ChannelKind
	Message string
}

// IssueResult is returned to callers of Service.Issue. The token identifies
// the live challenge and is handed back on verify; it is not secret from the
// client, only the code or signature inside it is unforgeable.
type IssueResult struct {
	Token      string      `json:"token"`
	Identifier string      `json:"identifier"`
	Channel    ChannelKind `json:"delivery_method"`
	Message    string      `json:"message"`
}

// VerifyResult is returned to callers of Service.Verify.
type VerifyResult struct {
	Identifier string      `json:"identifier"`
	Channel    ChannelKind `json:"delivery_method"`
	Message    string      `json:"message"`
}
