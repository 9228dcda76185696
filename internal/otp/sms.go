package otp

import (
	"context"
	"fmt"

	"github.com/rest-ntc/membership/internal/soapgw"
	"go.uber.org/zap"
)

// Gateway is the subset of the SOAP auth-gateway client the SMS channel
// needs. *soapgw.Client satisfies it; tests use a stub.
type Gateway interface {
	GenerateAuthPassword(ctx context.Context, mdn string) (soapgw.Result, error)
	ValidateOTP(ctx context.Context, mdn, code, trID string) (soapgw.Result, error)
}

// SMSChannel delivers challenges through the telecom auth gateway. The
// gateway itself generates and texts the code; the channel's secret is a
// signed token binding the recipient to the remote transaction.
type SMSChannel struct {
	gw     Gateway
	tokens *TokenSigner
	logger *zap.Logger
}

// NewSMSChannel creates an SMSChannel.
func NewSMSChannel(gw Gateway, tokens *TokenSigner, logger *zap.Logger) *SMSChannel {
	return &SMSChannel{gw: gw, tokens: tokens, logger: logger}
}

func (s *SMSChannel) Kind() ChannelKind { return ChannelSMS }

// Issue opens a gateway transaction for the mobile number and returns a
// signed {mdn, trId} token as the challenge secret.
func (s *SMSChannel) Issue(ctx context.Context, recipient string) (*DeliveryResult, error) {
	res, err := s.gw.GenerateAuthPassword(ctx, recipient)
	if err != nil {
		// Transport failures and malformed responses are both connectivity
		// problems from the caller's point of view.
		return nil, fmt.Errorf("%w: %v", ErrChannelUnavailable, err)
	}
	if !res.OK() {
		s.logger.Warn("gateway declined OTP request",
			zap.String("mdn", recipient),
			zap.String("result_code", res.Code),
		)
		return nil, fmt.Errorf("%w: gateway code %s", ErrChannelRejected, res.Code)
	}

	token, err := s.tokens.Sign(recipient, res.TransactionID)
	if err != nil {
		return nil, err
	}

	return &DeliveryResult{
		Token:   token,
		Channel: ChannelSMS,
		Message: "OTP sent successfully via SMS",
	}, nil
}

// Verify validates the signed token, then asks the gateway to check the
// user-supplied code against the original transaction. The verified mobile
// number is recovered from the token, not from the stored record.
func (s *SMSChannel) Verify(ctx context.Context, ch *Challenge, response string) (string, error) {
	mdn, trID, err := s.tokens.Parse(ch.Secret)
	if err != nil {
		return "", err
	}

	res, err := s.gw.ValidateOTP(ctx, mdn, response, trID)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrChannelUnavailable, err)
	}
	if !res.OK() {
		s.logger.Info("gateway rejected OTP",
			zap.String("mdn", mdn),
			zap.String("tr_id", trID),
			zap.String("result_code", res.Code),
		)
		return "", fmt.Errorf("%w: gateway code %s", ErrInvalidCredential, res.Code)
	}
	return mdn, nil
}
