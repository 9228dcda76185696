package otp

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Service is the public OTP lifecycle contract: issue a challenge to an
// identifier over a channel, verify a response against it. Every challenge
// is single-use and lives for ChallengeTTL; a verify attempt — right or
// wrong — consumes it.
type Service struct {
	store        ChallengeStore
	orchestrator *Orchestrator
	challengeTTL time.Duration
	logger       *zap.Logger
}

// NewService creates a Service. ttl defaults to DefaultChallengeTTL when zero.
func NewService(store ChallengeStore, orchestrator *Orchestrator, ttl time.Duration, logger *zap.Logger) *Service {
	if ttl == 0 {
		ttl = DefaultChallengeTTL
	}
	return &Service{
		store:        store,
		orchestrator: orchestrator,
		challengeTTL: ttl,
		logger:       logger,
	}
}

// Issue clears any prior live challenge for the identifier and channel,
// obtains a delivery result from the orchestrator, and persists the new
// challenge. Nothing is persisted when delivery fails.
func (s *Service) Issue(ctx context.Context, identifier string, kind ChannelKind) (*IssueResult, error) {
	if identifier == "" {
		return nil, fmt.Errorf("%w: identifier is required", ErrValidation)
	}
	if kind != ChannelSMS && kind != ChannelEmail {
		return nil, fmt.Errorf("%w: invalid delivery method %q", ErrValidation, kind)
	}

	res, err := s.orchestrator.Issue(ctx, identifier, kind)
	if err != nil {
		return nil, err
	}

	// Put deletes prior challenges for the pair in the same transaction,
	// which also covers the case where delivery succeeded on a substituted
	// channel of the same kind.
	if _, err := s.store.Put(ctx, identifier, res.Channel, res.Token, s.challengeTTL); err != nil {
		return nil, fmt.Errorf("persist challenge: %w", err)
	}

	s.logger.Info("OTP challenge issued",
		zap.String("identifier", identifier),
		zap.String("channel", string(res.Channel)),
	)

	return &IssueResult{
		Token:      res.Token,
		Identifier: identifier,
		Channel:    res.Channel,
		Message:    res.Message,
	}, nil
}

// Verify looks up the challenge by token and channel, delegates to the
// issuing channel's adapter, and deletes the challenge on every terminal
// outcome. A wrong attempt invalidates the challenge — there is no retry
// window against the same token.
func (s *Service) Verify(ctx context.Context, token, response string, kind ChannelKind) (*VerifyResult, error) {
	if token == "" || response == "" {
		return nil, fmt.Errorf("%w: token and OTP are required", ErrValidation)
	}
	if kind != ChannelSMS && kind != ChannelEmail {
		return nil, fmt.Errorf("%w: invalid delivery method %q", ErrValidation, kind)
	}

	ch, err := s.store.GetBySecret(ctx, token, kind)
	if err != nil {
		// Not-found (including expired-and-reaped) fails before any adapter
		// call is made.
		return nil, err
	}

	if ch.Expired(time.Now()) {
		s.discard(ctx, ch)
		return nil, fmt.Errorf("%w: challenge expired", ErrInvalidCredential)
	}

	identifier, verr := s.orchestrator.Verify(ctx, ch, response)
	if verr != nil {
		// Delete before propagating so a failed attempt cannot be retried.
		s.discard(ctx, ch)
		s.logger.Info("OTP verification failed",
			zap.String("channel", string(ch.Channel)),
			zap.Error(verr),
		)
		return nil, verr
	}

	if err := s.store.Delete(ctx, ch.ID); err != nil {
		return nil, fmt.Errorf("consume challenge: %w", err)
	}

	s.logger.Info("OTP verified",
		zap.String("identifier", identifier),
		zap.String("channel", string(ch.Channel)),
	)

	return &VerifyResult{
		Identifier: identifier,
		Channel:    ch.Channel,
		Message:    "OTP verified successfully",
	}, nil
}

// DeleteExpired reaps expired challenges; wired to the background sweep.
func (s *Service) DeleteExpired(ctx context.Context) (int64, error) {
	n, err := s.store.DeleteExpired(ctx)
	if err != nil {
		return 0, fmt.Errorf("reap expired challenges: %w", err)
	}
	if n > 0 {
		s.logger.Info("reaped expired OTP challenges", zap.Int64("count", n))
	}
	return n, nil
}

func (s *Service) discard(ctx context.Context, ch *Challenge) {
	if err := s.store.Delete(ctx, ch.ID); err != nil {
		s.logger.Warn("discard challenge", zap.String("id", ch.ID.String()), zap.Error(err))
	}
}
