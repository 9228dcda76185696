// Package membership holds the member accounts of the retired-employees'
// society and the login and password-reset flows that consume the OTP core.
package membership

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Status is the membership approval state of an account.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusDeclined Status = "declined"
)

// Role distinguishes ordinary members from dashboard administrators.
type Role string

const (
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
)

// Member is a society member account.
type Member struct {
	ID           uuid.UUID `json:"id"             db:"id"`
	EmployeeID   string    `json:"employee_id"    db:"employee_id"`
	Username     string    `json:"username"       db:"username"`
	Surname      string    `json:"surname"        db:"surname"`
	Email        string    `json:"email"          db:"email"`
	MobileNumber string    `json:"mobile_number"  db:"mobile_number"`
	PasswordHash string    `json:"-"              db:"password_hash"`
	Role         Role      `json:"role"           db:"role"`
	Status       Status    `json:"status"         db:"status"`
	RefreshToken string    `json:"-"              db:"refresh_token"`
	CreatedAt    time.Time `json:"created_at"     db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"     db:"updated_at"`
}

// Sentinel errors for the membership package.
var (
	ErrMemberNotFound = errors.New("member not found")
	ErrDuplicateEmail = errors.New("email already registered")

	// ErrInvalidLogin covers both unknown accounts and wrong passwords, so
	// responses cannot be used to enumerate members.
	ErrInvalidLogin = errors.New("invalid email or password")

	// ErrNotAdmin is returned when a non-admin account logs in through the
	// admin dashboard surface.
	ErrNotAdmin = errors.New("this interface is for admin users only")

	// ErrNoDeliverableChannel means the account has no recipient address
	// usable for the requested or permitted channels.
	ErrNoDeliverableChannel = errors.New("no deliverable channel on file for this account")

	// ErrResetTokenInvalid covers expired, malformed, or wrong-purpose
	// password-reset tokens.
	ErrResetTokenInvalid = errors.New("invalid or expired reset token")
)
