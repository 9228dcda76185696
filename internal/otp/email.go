package otp

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"

	"github.com/rest-ntc/membership/internal/email"
	"go.uber.org/zap"
)

const emailCodeLength = 6

// EmailChannel delivers challenges as a locally generated numeric code sent
// over email. The challenge secret is the code itself, not a signed blob —
// the asymmetry with the SMS path is deliberate and both live in the same
// secret field.
type EmailChannel struct {
	sender email.Sender
	logger *zap.Logger
}

// NewEmailChannel creates an EmailChannel.
func NewEmailChannel(sender email.Sender, logger *zap.Logger) *EmailChannel {
	return &EmailChannel{sender: sender, logger: logger}
}

func (e *EmailChannel) Kind() ChannelKind { return ChannelEmail }

// Issue generates a fresh code and emails it to the recipient.
func (e *EmailChannel) Issue(ctx context.Context, recipient string) (*DeliveryResult, error) {
	code, err := GenerateCode(emailCodeLength)
	if err != nil {
		return nil, fmt.Errorf("generate email OTP: %w", err)
	}

	msg := email.Message{
		To:      recipient,
		Subject: "Your OTP Code - Rest NTC",
		Text:    fmt.Sprintf("Your OTP code is %s. It will expire in 5 minutes.", code),
		HTML:    otpEmailHTML(code),
	}
	if err := e.sender.Send(ctx, msg); err != nil {
		e.logger.Warn("email OTP send failed", zap.String("to", recipient), zap.Error(err))
		return nil, fmt.Errorf("%w: send OTP email: %v", ErrChannelUnavailable, err)
	}

	return &DeliveryResult{
		Token:   code,
		Channel: ChannelEmail,
		Message: "OTP sent successfully via email",
	}, nil
}

// Verify is a pure comparison against the stored code; the identifier is
// the stored recipient. No remote call is made.
func (e *EmailChannel) Verify(_ context.Context, ch *Challenge, response string) (string, error) {
	if subtle.ConstantTimeCompare([]byte(ch.Secret), []byte(response)) != 1 {
		return "", fmt.Errorf("%w: wrong code", ErrInvalidCredential)
	}
	return ch.Recipient, nil
}

// GenerateCode returns a random numeric code of n digits, zero-padded.
func GenerateCode(n int) (string, error) {
	max := big.NewInt(1)
	for i := 0; i < n; i++ {
		max.Mul(max, big.NewInt(10))
	}
	v, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", n, v), nil
}

func otpEmailHTML(code string) string {
	return fmt.Sprintf(`<div style="font-family: Arial, sans-serif; max-width: 500px; margin: 0 auto;">
  <h2 style="color: #333;">Your OTP Code</h2>
  <p>Your OTP code is:</p>
  <div style="font-size: 24px; font-weight: bold; color: #007bff; padding: 10px; background: #f8f9fa; text-align: center; border-radius: 5px; margin: 20px 0;">%s</div>
  <p style="color: #666; font-size: 14px;">This code will expire in 5 minutes.</p>
  <p style="color: #666; font-size: 12px;">If you didn't request this code, please ignore this email.</p>
</div>`, code)
}
