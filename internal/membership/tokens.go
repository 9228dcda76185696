package membership

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	accessTokenTTL  = 24 * time.Hour
	refreshTokenTTL = 7 * 24 * time.Hour
	resetTokenTTL   = 15 * time.Minute

	purposeAccess  = "access"
	purposeRefresh = "refresh"
	purposeReset   = "password_reset"
)

// sessionClaims are the JWT claims for member access, refresh, and
// password-reset tokens; Purpose keeps the three from being interchangeable.
type sessionClaims struct {
	jwt.RegisteredClaims
	MemberID string `json:"member_id"`
	Email    string `json:"email,omitempty"`
	Role     string `json:"role,omitempty"`
	Purpose  string `json:"purpose"`
}

// TokenIssuer signs and verifies member session tokens with HS256.
type TokenIssuer struct {
	secret []byte
}

// NewTokenIssuer creates a TokenIssuer.
func NewTokenIssuer(secret string) *TokenIssuer {
	return &TokenIssuer{secret: []byte(secret)}
}

// IssueSession returns an access/refresh token pair for the member.
func (t *TokenIssuer) IssueSession(m *Member) (access, refresh string, err error) {
	access, err = t.sign(m.ID, m.Email, string(m.Role), purposeAccess, accessTokenTTL)
	if err != nil {
		return "", "", err
	}
	refresh, err = t.sign(m.ID, "", "", purposeRefresh, refreshTokenTTL)
	if err != nil {
		return "", "", err
	}
	return access, refresh, nil
}

// IssueReset returns a short-lived token that only ResetPassword accepts.
func (t *TokenIssuer) IssueReset(memberID uuid.UUID) (string, error) {
	return t.sign(memberID, "", "", purposeReset, resetTokenTTL)
}

// VerifyReset validates a password-reset token and returns the member id.
func (t *TokenIssuer) VerifyReset(tokenStr string) (uuid.UUID, error) {
	claims, err := t.parse(tokenStr)
	if err != nil || claims.Purpose != purposeReset {
		return uuid.Nil, ErrResetTokenInvalid
	}
	id, err := uuid.Parse(claims.MemberID)
	if err != nil {
		return uuid.Nil, ErrResetTokenInvalid
	}
	return id, nil
}

// VerifyAccess validates an access token and returns the member id and role.
func (t *TokenIssuer) VerifyAccess(tokenStr string) (uuid.UUID, Role, error) {
	claims, err := t.parse(tokenStr)
	if err != nil || claims.Purpose != purposeAccess {
		return uuid.Nil, "", fmt.Errorf("invalid access token")
	}
	id, err := uuid.Parse(claims.MemberID)
	if err != nil {
		return uuid.Nil, "", fmt.Errorf("invalid access token")
	}
	return id, Role(claims.Role), nil
}

func (t *TokenIssuer) sign(id uuid.UUID, email, role, purpose string, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.New().String(),
		},
		MemberID: id.String(),
		Email:    email,
		Role:     role,
		Purpose:  purpose,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", purpose, err)
	}
	return signed, nil
}

func (t *TokenIssuer) parse(tokenStr string) (*sessionClaims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&sessionClaims{},
		func(tok *jwt.Token) (any, error) {
			if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
			}
			return t.secret, nil
		},
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*sessionClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}
