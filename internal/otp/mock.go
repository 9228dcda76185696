package otp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// mockTransactionPrefix marks transaction ids minted by the mock channel so
// that verify can route them without guessing. A production deployment never
// constructs a MockChannel, so the prefix is inert there.
const mockTransactionPrefix = "MOCK_"

// MockChannel is a deterministic stand-in for the SMS gateway, used when the
// real gateway is unreachable in non-production configurations. It issues
// the same signed token format and accepts a single fixed code.
type MockChannel struct {
	tokens     *TokenSigner
	acceptCode string
	logger     *zap.Logger
}

// NewMockChannel creates a MockChannel. acceptCode defaults to "123456".
func NewMockChannel(tokens *TokenSigner, acceptCode string, logger *zap.Logger) *MockChannel {
	if acceptCode == "" {
		acceptCode = "123456"
	}
	return &MockChannel{tokens: tokens, acceptCode: acceptCode, logger: logger}
}

func (m *MockChannel) Kind() ChannelKind { return ChannelSMS }

// Issue mints a signed token against a synthetic transaction id. The accept
// code is logged so developers can complete the flow.
func (m *MockChannel) Issue(_ context.Context, recipient string) (*DeliveryResult, error) {
	trID := fmt.Sprintf("%s%d", mockTransactionPrefix, time.Now().UnixNano())
	token, err := m.tokens.Sign(recipient, trID)
	if err != nil {
		return nil, err
	}

	m.logger.Info("mock OTP issued",
		zap.String("mdn", recipient),
		zap.String("tr_id", trID),
		zap.String("accept_code", m.acceptCode),
	)

	return &DeliveryResult{
		Token:   token,
		Channel: ChannelSMS,
		Message: "Mock OTP sent successfully",
	}, nil
}

// Verify validates the token and compares the response to the fixed code.
func (m *MockChannel) Verify(_ context.Context, ch *Challenge, response string) (string, error) {
	mdn, trID, err := m.tokens.Parse(ch.Secret)
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(trID, mockTransactionPrefix) {
		return "", fmt.Errorf("%w: not a mock transaction", ErrInvalidCredential)
	}
	if response != m.acceptCode {
		return "", fmt.Errorf("%w: wrong code", ErrInvalidCredential)
	}
	return mdn, nil
}

// Minted reports whether the secret was issued by the mock channel, i.e.
// whether its transaction id carries the mock prefix.
func (m *MockChannel) Minted(secret string) bool {
	_, trID, err := m.tokens.Parse(secret)
	return err == nil && strings.HasPrefix(trID, mockTransactionPrefix)
}
