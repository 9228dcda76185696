package otp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ChallengeStore is the persistence contract for challenges. Implemented by
// PostgresStore; tests use an in-memory stub.
type ChallengeStore interface {
	// Put atomically deletes any existing challenges for the
	// (recipient, channel) pair and inserts a fresh one — the at-most-one
	// invariant is enforced here, not by callers.
	Put(ctx context.Context, recipient string, kind ChannelKind, secret string, ttl time.Duration) (*Challenge, error)

	// GetBySecret returns the live challenge matching the secret and
	// channel, or ErrChallengeNotFound. Expired rows are never returned.
	GetBySecret(ctx context.Context, secret string, kind ChannelKind) (*Challenge, error)

	// Delete removes a challenge by id; removing a missing row is not an error.
	Delete(ctx context.Context, id uuid.UUID) error

	// DeleteExpired reaps challenges past their expiry, returning the count.
	DeleteExpired(ctx context.Context) (int64, error)
}

// PostgresStore persists challenges in the otp_challenges table.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore creates a PostgresStore.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// Put runs the delete-then-insert pair in one transaction so two concurrent
// issues for the same pair cannot leave two live challenges.
func (s *PostgresStore) Put(ctx context.Context, recipient string, kind ChannelKind, secret string, ttl time.Duration) (*Challenge, error) {
	now := time.Now().UTC()
	ch := &Challenge{
		ID:        uuid.New(),
		Recipient: recipient,
		Channel:   kind,
		Secret:    secret,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin put challenge: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx,
		`DELETE FROM otp_challenges WHERE recipient = $1 AND channel = $2`,
		recipient, kind,
	); err != nil {
		return nil, fmt.Errorf("clear prior challenges: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO otp_challenges (id, recipient, channel, secret, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		ch.ID, ch.Recipient, ch.Channel, ch.Secret, ch.CreatedAt, ch.ExpiresAt,
	); err != nil {
		return nil, fmt.Errorf("insert challenge: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit put challenge: %w", err)
	}
	return ch, nil
}

// GetBySecret filters out expired rows so an expired challenge is never
// served as valid, even before the sweep has reaped it.
func (s *PostgresStore) GetBySecret(ctx context.Context, secret string, kind ChannelKind) (*Challenge, error) {
	ch := &Challenge{}
	err := s.db.QueryRow(ctx,
		`SELECT id, recipient, channel, secret, created_at, expires_at
		 FROM otp_challenges
		 WHERE secret = $1 AND channel = $2 AND expires_at > now()`,
		secret, kind,
	).Scan(&ch.ID, &ch.Recipient, &ch.Channel, &ch.Secret, &ch.CreatedAt, &ch.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrChallengeNotFound
		}
		return nil, fmt.Errorf("get challenge: %w", err)
	}
	return ch, nil
}

// Delete is idempotent: deleting an already-removed challenge succeeds.
func (s *PostgresStore) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := s.db.Exec(ctx,
		`DELETE FROM otp_challenges WHERE id = $1`, id,
	); err != nil {
		return fmt.Errorf("delete challenge: %w", err)
	}
	return nil
}

// DeleteExpired removes all challenges past their expiry. Safe to call from
// a background goroutine.
func (s *PostgresStore) DeleteExpired(ctx context.Context) (int64, error) {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM otp_challenges WHERE expires_at <= now()`,
	)
	if err != nil {
		return 0, fmt.Errorf("delete expired challenges: %w", err)
	}
	return tag.RowsAffected(), nil
}
