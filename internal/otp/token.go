package otp

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// smsTokenClaims bind a verify call to the specific gateway transaction
// opened at issue time, without re-querying the gateway for session state.
type smsTokenClaims struct {
	jwt.RegisteredClaims
	MDN  string `json:"mdn"`
	TrID string `json:"trId"`
}

// TokenSigner issues and verifies the signed, time-limited tokens used as
// the secret on the SMS path.
type TokenSigner struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenSigner creates a TokenSigner. ttl defaults to the challenge
// lifetime when zero.
func NewTokenSigner(secret string, ttl time.Duration) *TokenSigner {
	if ttl == 0 {
		ttl = DefaultChallengeTTL
	}
	return &TokenSigner{secret: []byte(secret), ttl: ttl}
}

// Sign packages {mdn, trId} into an HS256 token.
func (s *TokenSigner) Sign(mdn, trID string) (string, error) {
	now := time.Now().UTC()
	claims := smsTokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
		MDN:  mdn,
		TrID: trID,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign sms token: %w", err)
	}
	return signed, nil
}

// Parse validates the token signature and expiry and extracts {mdn, trId}.
// It fails closed: any signature or expiry problem is ErrInvalidCredential,
// never a retryable error.
func (s *TokenSigner) Parse(tokenStr string) (mdn, trID string, err error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&smsTokenClaims{},
		func(tok *jwt.Token) (any, error) {
			if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	claims, ok := token.Claims.(*smsTokenClaims)
	if !ok || !token.Valid {
		return "", "", fmt.Errorf("%w: invalid token claims", ErrInvalidCredential)
	}
	return claims.MDN, claims.TrID, nil
}
