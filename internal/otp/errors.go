package otp

import (
	"errors"
	"fmt"
)

// Sentinel errors for the OTP core. Callers route on these with errors.Is;
// wrapped messages carry the remote diagnostic codes for operators.
var (
	// ErrValidation is a missing or malformed identifier, channel, token,
	// or response. Never retryable as-is.
	ErrValidation = errors.New("otp validation failed")

	// ErrChannelUnavailable means the delivery channel could not be reached
	// (gateway unreachable or timed out). Retryable via a different channel.
	ErrChannelUnavailable = errors.New("delivery channel unavailable")

	// ErrChannelRejected means the remote gateway responded but declined the
	// request. Carries the gateway result code in the wrapped message.
	ErrChannelRejected = errors.New("delivery channel rejected the request")

	// ErrInvalidCredential covers signature failure, expiry, and wrong codes
	// at verify time. The challenge is deleted as part of raising this.
	ErrInvalidCredential = errors.New("invalid or expired OTP")

	// ErrChallengeNotFound means no live challenge matches the token and
	// channel; covers both never-issued and expired-and-reaped.
	ErrChallengeNotFound = errors.New("token not found or expired")
)

// SuggestedChannelError decorates a channel failure with an alternate channel
// the caller may retry on. Raised by the orchestrator in suggest mode; it
// never switches channels itself — the caller decides.
type SuggestedChannelError struct {
	Suggested ChannelKind
	Err       error
}

func (e *SuggestedChannelError) Error() string {
	return fmt.Sprintf("%s; please use %s OTP instead", e.Err.Error(), e.Suggested)
}

func (e *SuggestedChannelError) Unwrap() error { return e.Err }
