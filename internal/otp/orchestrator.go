package otp

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// FallbackMode selects what happens when SMS issuance fails. It is fixed at
// construction from configuration; the behaviors are never blended.
type FallbackMode string

const (
	// FallbackOff propagates the SMS error untouched.
	FallbackOff FallbackMode = "off"
	// FallbackSuggest surfaces a channel-unavailable error carrying a
	// suggested alternate channel; the caller decides whether to retry.
	FallbackSuggest FallbackMode = "suggest"
	// FallbackMock transparently substitutes the mock channel. Refused in
	// production environments.
	FallbackMock FallbackMode = "mock"
)

// ParseFallbackMode validates a configured fallback mode string.
func ParseFallbackMode(s string) (FallbackMode, error) {
	switch FallbackMode(s) {
	case FallbackOff, FallbackSuggest, FallbackMock:
		return FallbackMode(s), nil
	case "":
		return FallbackOff, nil
	default:
		return "", fmt.Errorf("invalid fallback mode %q (use off, suggest, or mock)", s)
	}
}

// Orchestrator routes issue and verify calls to the right channel and
// applies the fallback policy when the SMS path fails at issue time.
// Verify always targets whatever channel the live challenge is on.
type Orchestrator struct {
	sms    Channel
	email  Channel
	mock   *MockChannel
	mode   FallbackMode
	logger *zap.Logger
}

// NewOrchestrator wires the channels under the given policy. mock must be
// non-nil when mode is FallbackMock, and FallbackMock is rejected outright
// when environment is "production" — the mock must never run there.
func NewOrchestrator(sms, email Channel, mock *MockChannel, mode FallbackMode, environment string, logger *zap.Logger) (*Orchestrator, error) {
	if mode == FallbackMock {
		if environment == "production" {
			return nil, fmt.Errorf("fallback mode %q is not allowed in production", FallbackMock)
		}
		if mock == nil {
			return nil, fmt.Errorf("fallback mode %q requires a mock channel", FallbackMock)
		}
	}
	return &Orchestrator{sms: sms, email: email, mock: mock, mode: mode, logger: logger}, nil
}

// Issue produces a challenge on the requested channel. Email always goes
// straight through; SMS failures are handled per the fallback mode.
func (o *Orchestrator) Issue(ctx context.Context, identifier string, kind ChannelKind) (*DeliveryResult, error) {
	if kind == ChannelEmail {
		return o.email.Issue(ctx, identifier)
	}

	res, err := o.sms.Issue(ctx, identifier)
	if err == nil {
		return res, nil
	}
	if !errors.Is(err, ErrChannelUnavailable) && !errors.Is(err, ErrChannelRejected) {
		return nil, err
	}

	switch o.mode {
	case FallbackSuggest:
		o.logger.Warn("sms issuance failed, suggesting email fallback",
			zap.String("mdn", identifier),
			zap.Error(err),
		)
		return nil, &SuggestedChannelError{Suggested: ChannelEmail, Err: err}
	case FallbackMock:
		o.logger.Warn("sms issuance failed, substituting mock channel",
			zap.String("mdn", identifier),
			zap.Error(err),
		)
		return o.mock.Issue(ctx, identifier)
	default:
		return nil, err
	}
}

// Verify dispatches to the channel that issued the stored challenge. Tokens
// minted by the mock channel are recognized by their transaction-id prefix,
// and only when the mock policy is active.
func (o *Orchestrator) Verify(ctx context.Context, ch *Challenge, response string) (string, error) {
	if ch.Channel == ChannelEmail {
		return o.email.Verify(ctx, ch, response)
	}
	if o.mode == FallbackMock && o.mock != nil && o.mock.Minted(ch.Secret) {
		return o.mock.Verify(ctx, ch, response)
	}
	return o.sms.Verify(ctx, ch, response)
}
