package membership

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const memberColumns = `id, employee_id, username, surname, email, mobile_number,
	password_hash, role, status, COALESCE(refresh_token, ''), created_at, updated_at`

// MemberRepository provides Postgres persistence for members.
type MemberRepository struct {
	db *pgxpool.Pool
}

// NewMemberRepository creates a MemberRepository.
func NewMemberRepository(db *pgxpool.Pool) *MemberRepository {
	return &MemberRepository{db: db}
}

// Create inserts a new member. Email uniqueness is enforced by the schema;
// a violation maps to ErrDuplicateEmail.
func (r *MemberRepository) Create(ctx context.Context, m *Member) error {
	m.ID = uuid.New()
	now := time.Now().UTC()
	m.CreatedAt = now
	m.UpdatedAt = now
	if m.Role == "" {
		m.Role = RoleMember
	}
	if m.Status == "" {
		m.Status = StatusPending
	}

	_, err := r.db.Exec(ctx,
		`INSERT INTO members (id, employee_id, username, surname, email, mobile_number,
		                      password_hash, role, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		m.ID, m.EmployeeID, m.Username, m.Surname, m.Email, m.MobileNumber,
		m.PasswordHash, m.Role, m.Status, m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "members_email_key") {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("insert member: %w", err)
	}
	return nil
}

// GetByID returns a member by id.
func (r *MemberRepository) GetByID(ctx context.Context, id uuid.UUID) (*Member, error) {
	return r.get(ctx, `SELECT `+memberColumns+` FROM members WHERE id = $1`, id)
}

// GetByEmail returns a member by normalized email.
func (r *MemberRepository) GetByEmail(ctx context.Context, email string) (*Member, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	return r.get(ctx, `SELECT `+memberColumns+` FROM members WHERE email = $1`, email)
}

// GetByMobileNumber returns a member by mobile number.
func (r *MemberRepository) GetByMobileNumber(ctx context.Context, mobile string) (*Member, error) {
	return r.get(ctx, `SELECT `+memberColumns+` FROM members WHERE mobile_number = $1`, mobile)
}

func (r *MemberRepository) get(ctx context.Context, query string, arg any) (*Member, error) {
	m := &Member{}
	err := r.db.QueryRow(ctx, query, arg).Scan(
		&m.ID, &m.EmployeeID, &m.Username, &m.Surname, &m.Email, &m.MobileNumber,
		&m.PasswordHash, &m.Role, &m.Status, &m.RefreshToken, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMemberNotFound
		}
		return nil, fmt.Errorf("get member: %w", err)
	}
	return m, nil
}

// SetPasswordHash replaces the member's password hash.
func (r *MemberRepository) SetPasswordHash(ctx context.Context, id uuid.UUID, hash string) error {
	return r.update(ctx,
		`UPDATE members SET password_hash = $2, updated_at = now() WHERE id = $1`, id, hash)
}

// SetRefreshToken stores the member's current refresh token.
func (r *MemberRepository) SetRefreshToken(ctx context.Context, id uuid.UUID, token string) error {
	return r.update(ctx,
		`UPDATE members SET refresh_token = $2, updated_at = now() WHERE id = $1`, id, token)
}

// ClearRefreshToken forces re-login everywhere.
func (r *MemberRepository) ClearRefreshToken(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE members SET refresh_token = NULL, updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("clear refresh token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrMemberNotFound
	}
	return nil
}

// SetStatus updates the membership approval state.
func (r *MemberRepository) SetStatus(ctx context.Context, id uuid.UUID, status Status) error {
	return r.update(ctx,
		`UPDATE members SET status = $2, updated_at = now() WHERE id = $1`, id, string(status))
}

func (r *MemberRepository) update(ctx context.Context, query string, id uuid.UUID, arg any) error {
	tag, err := r.db.Exec(ctx, query, id, arg)
	if err != nil {
		return fmt.Errorf("update member: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrMemberNotFound
	}
	return nil
}
