package membership

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rest-ntc/membership/internal/otp"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// memberRepo is the storage interface consumed by Service.
// *MemberRepository satisfies it; tests use a stub.
type memberRepo interface {
	Create(ctx context.Context, m *Member) error
	SetStatus(ctx context.Context, id uuid.UUID, status Status) error
	GetByID(ctx context.Context, id uuid.UUID) (*Member, error)
	GetByEmail(ctx context.Context, email string) (*Member, error)
	GetByMobileNumber(ctx context.Context, mobile string) (*Member, error)
	SetPasswordHash(ctx context.Context, id uuid.UUID, hash string) error
	SetRefreshToken(ctx context.Context, id uuid.UUID, token string) error
	ClearRefreshToken(ctx context.Context, id uuid.UUID) error
}

// otpService is the OTP core contract consumed by the login and
// password-reset flows; *otp.Service satisfies it.
type otpService interface {
	Issue(ctx context.Context, identifier string, kind otp.ChannelKind) (*otp.IssueResult, error)
	Verify(ctx context.Context, token, response string, kind otp.ChannelKind) (*otp.VerifyResult, error)
}

// Service implements member login and password reset on top of the OTP core.
type Service struct {
	repo   memberRepo
	otp    otpService
	tokens *TokenIssuer
	// emailFallback permits retrying password-reset delivery over email
	// when SMS issuance fails or no mobile number is on file.
	emailFallback bool
	logger        *zap.Logger
}

// NewService creates a Service.
func NewService(repo memberRepo, otpSvc otpService, tokens *TokenIssuer, emailFallback bool, logger *zap.Logger) *Service {
	return &Service{
		repo:          repo,
		otp:           otpSvc,
		tokens:        tokens,
		emailFallback: emailFallback,
		logger:        logger,
	}
}

// RegisterInput is the payload for a new member application.
type RegisterInput struct {
	EmployeeID   string `json:"employee_id"`
	Username     string `json:"username"`
	Surname      string `json:"surname"`
	Email        string `json:"email"`
	MobileNumber string `json:"mobile_number"`
	Password     string `json:"password"`
}

// Register creates a pending member account. Approval is a separate admin
// action; pending members can log in but the frontend gates what they see.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*Member, error) {
	if in.Username == "" || in.Email == "" {
		return nil, fmt.Errorf("username and email are required")
	}
	if len(in.Password) < 8 {
		return nil, fmt.Errorf("password must be at least 8 characters")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	m := &Member{
		EmployeeID:   in.EmployeeID,
		Username:     in.Username,
		Surname:      in.Surname,
		Email:        strings.ToLower(strings.TrimSpace(in.Email)),
		MobileNumber: in.MobileNumber,
		PasswordHash: string(hash),
		Role:         RoleMember,
		Status:       StatusPending,
	}
	if err := s.repo.Create(ctx, m); err != nil {
		return nil, err
	}

	s.logger.Info("member registered",
		zap.String("member_id", m.ID.String()),
		zap.String("employee_id", m.EmployeeID),
	)
	return m, nil
}

// SetMemberStatus moves a member between the pending, approved, and declined
// states. Callers enforce that only admins reach this.
func (s *Service) SetMemberStatus(ctx context.Context, id uuid.UUID, status Status) error {
	switch status {
	case StatusPending, StatusApproved, StatusDeclined:
	default:
		return fmt.Errorf("invalid membership status %q", status)
	}
	if err := s.repo.SetStatus(ctx, id, status); err != nil {
		return err
	}
	s.logger.Info("membership status changed",
		zap.String("member_id", id.String()),
		zap.String("status", string(status)),
	)
	return nil
}

// StartLogin checks the password, resolves the recipient for the requested
// channel, and issues an OTP challenge. adminSurface marks requests from the
// admin dashboard, which only admin accounts may use.
func (s *Service) StartLogin(ctx context.Context, email, password string, kind otp.ChannelKind, adminSurface bool) (*otp.IssueResult, error) {
	m, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrMemberNotFound) {
			return nil, ErrInvalidLogin
		}
		return nil, fmt.Errorf("lookup member: %w", err)
	}
	if adminSurface && m.Role != RoleAdmin {
		return nil, ErrNotAdmin
	}
	if err := bcrypt.CompareHashAndPassword([]byte(m.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidLogin
	}

	identifier := m.Email
	if kind == otp.ChannelSMS {
		identifier = m.MobileNumber
	}
	if identifier == "" {
		return nil, fmt.Errorf("%w: no %s registered", ErrNoDeliverableChannel, kind)
	}

	return s.otp.Issue(ctx, identifier, kind)
}

// CompleteLogin verifies the OTP response, looks up the member by the
// verified identifier, and returns a session token pair.
func (s *Service) CompleteLogin(ctx context.Context, token, code string, kind otp.ChannelKind, adminSurface bool) (*Member, string, string, error) {
	res, err := s.otp.Verify(ctx, token, code, kind)
	if err != nil {
		return nil, "", "", err
	}

	m, err := s.memberByIdentifier(ctx, res.Identifier, res.Channel)
	if err != nil {
		return nil, "", "", err
	}
	if adminSurface && m.Role != RoleAdmin {
		return nil, "", "", ErrNotAdmin
	}

	access, refresh, err := s.tokens.IssueSession(m)
	if err != nil {
		return nil, "", "", err
	}
	if err := s.repo.SetRefreshToken(ctx, m.ID, refresh); err != nil {
		return nil, "", "", fmt.Errorf("store refresh token: %w", err)
	}

	s.logger.Info("member logged in",
		zap.String("member_id", m.ID.String()),
		zap.String("channel", string(res.Channel)),
	)
	return m, access, refresh, nil
}

// ResetDelivery reports where the password-reset OTP went, so the caller
// can verify on the same channel.
type ResetDelivery struct {
	Token   string          `json:"token"`
	Channel otp.ChannelKind `json:"delivery_method"`
	Message string          `json:"message"`
}

// RequestPasswordReset issues a reset OTP, preferring SMS when a mobile
// number is on file and retrying over email when permitted. An unknown email
// returns (nil, nil) so responses cannot reveal whether an account exists.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (*ResetDelivery, error) {
	m, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrMemberNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("lookup member: %w", err)
	}

	if m.MobileNumber != "" {
		res, smsErr := s.otp.Issue(ctx, m.MobileNumber, otp.ChannelSMS)
		if smsErr == nil {
			return &ResetDelivery{Token: res.Token, Channel: otp.ChannelSMS, Message: res.Message}, nil
		}
		if !s.emailFallback || m.Email == "" {
			return nil, smsErr
		}
		s.logger.Warn("reset OTP via SMS failed, retrying via email",
			zap.String("member_id", m.ID.String()),
			zap.Error(smsErr),
		)
		res, err := s.otp.Issue(ctx, m.Email, otp.ChannelEmail)
		if err != nil {
			return nil, err
		}
		return &ResetDelivery{Token: res.Token, Channel: otp.ChannelEmail, Message: res.Message}, nil
	}

	if s.emailFallback && m.Email != "" {
		res, err := s.otp.Issue(ctx, m.Email, otp.ChannelEmail)
		if err != nil {
			return nil, err
		}
		return &ResetDelivery{Token: res.Token, Channel: otp.ChannelEmail, Message: res.Message}, nil
	}

	return nil, fmt.Errorf("%w: no mobile number on file", ErrNoDeliverableChannel)
}

// VerifyPasswordReset verifies the reset OTP on its issuing channel and
// returns a short-lived reset token.
func (s *Service) VerifyPasswordReset(ctx context.Context, token, code string, kind otp.ChannelKind) (string, error) {
	res, err := s.otp.Verify(ctx, token, code, kind)
	if err != nil {
		return "", err
	}

	m, err := s.memberByIdentifier(ctx, res.Identifier, res.Channel)
	if err != nil {
		return "", err
	}

	resetToken, err := s.tokens.IssueReset(m.ID)
	if err != nil {
		return "", err
	}
	return resetToken, nil
}

// ResetPassword consumes the reset token and sets the new password. All
// refresh tokens are cleared so existing sessions are forced to re-login.
func (s *Service) ResetPassword(ctx context.Context, resetToken, newPassword string) error {
	if len(newPassword) < 8 {
		return fmt.Errorf("password must be at least 8 characters")
	}

	id, err := s.tokens.VerifyReset(resetToken)
	if err != nil {
		return err
	}
	m, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("get member: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.repo.SetPasswordHash(ctx, m.ID, string(hash)); err != nil {
		return fmt.Errorf("set password: %w", err)
	}
	if err := s.repo.ClearRefreshToken(ctx, m.ID); err != nil {
		s.logger.Warn("clear refresh token after reset", zap.Error(err))
	}

	s.logger.Info("password reset", zap.String("member_id", m.ID.String()))
	return nil
}

// Logout invalidates the member's refresh token.
func (s *Service) Logout(ctx context.Context, memberID uuid.UUID) error {
	return s.repo.ClearRefreshToken(ctx, memberID)
}

func (s *Service) memberByIdentifier(ctx context.Context, identifier string, kind otp.ChannelKind) (*Member, error) {
	var (
		m   *Member
		err error
	)
	if kind == otp.ChannelSMS {
		m, err = s.repo.GetByMobileNumber(ctx, identifier)
	} else {
		m, err = s.repo.GetByEmail(ctx, identifier)
	}
	if err != nil {
		if errors.Is(err, ErrMemberNotFound) {
			return nil, fmt.Errorf("%w: no member for verified %s", ErrMemberNotFound, kind)
		}
		return nil, fmt.Errorf("lookup member by %s: %w", kind, err)
	}
	return m, nil
}
