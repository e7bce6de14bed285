// Package logintoken provides issuance, validation, and single-use
// consumption of Telegram login tokens.
package logintoken

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sorulabs/tgbridge/internal/db"
)

// TTL is the fixed validity window of a login token. Short enough to deter
// replay, long enough for a user to tap the link.
const TTL = 10 * time.Minute

const maxTokenRetries = 5

const (
	insertTokenSQL = `
INSERT INTO login_tokens (token, chat_user_id, chat_username, first_name, last_name, expires_at)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id, token, chat_user_id, chat_username, first_name, last_name, created_at, expires_at, consumed_at`

	selectValidTokenSQL = `
SELECT id, token, chat_user_id, chat_username, first_name, last_name, created_at, expires_at, consumed_at
FROM login_tokens
WHERE token = $1 AND consumed_at IS NULL AND expires_at > now()`

	consumeTokenSQL = `
UPDATE login_tokens
SET consumed_at = now()
WHERE token = $1 AND consumed_at IS NULL
RETURNING id`

	sweepTokensSQL = `
DELETE FROM login_tokens
WHERE (consumed_at IS NOT NULL OR expires_at < now()) AND created_at < $1`
)

// Service manages the login token lifecycle against PostgreSQL.
type Service struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewService creates a login token service.
func NewService(log *slog.Logger, pool *pgxpool.Pool) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		pool:   pool,
		logger: log.With(slog.String("service", "logintoken")),
	}
}

// Issue generates a token, persists it with a 10 minute expiry, and returns
// the full row. Generation retries on a token unique violation; uniqueness is
// enforced by the login_tokens_token_unique constraint.
func (s *Service) Issue(ctx context.Context, params IssueParams) (Token, error) {
	if s.pool == nil {
		return Token{}, errors.New("logintoken pool not configured")
	}
	if params.ChatUserID == 0 {
		return Token{}, errors.New("chat user id is required")
	}

	expiresAt := time.Now().UTC().Add(TTL)
	for range maxTokenRetries {
		token, err := Generate()
		if err != nil {
			return Token{}, err
		}
		row := s.pool.QueryRow(ctx, insertTokenSQL,
			token,
			params.ChatUserID,
			db.TextFromString(params.ChatUsername),
			db.TextFromString(params.FirstName),
			db.TextFromString(params.LastName),
			pgtype.Timestamptz{Time: expiresAt, Valid: true},
		)
		issued, err := scanToken(row)
		if err == nil {
			s.logger.Info("login token issued",
				slog.String("token_id", issued.ID),
				slog.Int64("chat_user_id", issued.ChatUserID),
				slog.Time("expires_at", issued.ExpiresAt),
			)
			return issued, nil
		}
		if db.IsUniqueViolation(err) {
			continue
		}
		return Token{}, fmt.Errorf("create login token: %w", err)
	}
	return Token{}, ErrTokenExists
}

// ValidateAndFetch returns the token row iff it exists, is unconsumed, and is
// unexpired. Unknown, expired, and consumed tokens all return
// ErrTokenNotFound so a caller cannot learn whether a token ever existed.
func (s *Service) ValidateAndFetch(ctx context.Context, token string) (Token, error) {
	if s.pool == nil {
		return Token{}, errors.New("logintoken pool not configured")
	}
	if token == "" {
		return Token{}, ErrTokenNotFound
	}
	row := s.pool.QueryRow(ctx, selectValidTokenSQL, token)
	found, err := scanToken(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Token{}, ErrTokenNotFound
		}
		return Token{}, fmt.Errorf("fetch login token: %w", err)
	}
	return found, nil
}

// ConsumeFirst atomically marks the token consumed and reports whether this
// call performed the transition. A single conditional update closes the
// check-then-act double-spend race: exactly one caller ever wins it.
func (s *Service) ConsumeFirst(ctx context.Context, token string) (bool, error) {
	if s.pool == nil {
		return false, errors.New("logintoken pool not configured")
	}
	var id pgtype.UUID
	err := s.pool.QueryRow(ctx, consumeTokenSQL, token).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("consume login token: %w", err)
	}
	s.logger.Info("login token consumed", slog.String("token_id", id.String()))
	return true, nil
}

// Consume marks the token consumed. Consuming an already-consumed or unknown
// token is a no-op.
func (s *Service) Consume(ctx context.Context, token string) error {
	_, err := s.ConsumeFirst(ctx, token)
	return err
}

// SweepExpired deletes consumed and expired tokens created before the
// retention cutoff and returns the number of rows removed. Expiry stays
// logical on the request path; this only reclaims storage.
func (s *Service) SweepExpired(ctx context.Context, retention time.Duration) (int64, error) {
	if s.pool == nil {
		return 0, errors.New("logintoken pool not configured")
	}
	if retention < 0 {
		retention = 0
	}
	cutoff := time.Now().UTC().Add(-retention)
	tag, err := s.pool.Exec(ctx, sweepTokensSQL, pgtype.Timestamptz{Time: cutoff, Valid: true})
	if err != nil {
		return 0, fmt.Errorf("sweep login tokens: %w", err)
	}
	if tag.RowsAffected() > 0 {
		s.logger.Info("swept login tokens", slog.Int64("deleted", tag.RowsAffected()))
	}
	return tag.RowsAffected(), nil
}

func scanToken(row pgx.Row) (Token, error) {
	var (
		id           pgtype.UUID
		token        string
		chatUserID   int64
		chatUsername pgtype.Text
		firstName    pgtype.Text
		lastName     pgtype.Text
		createdAt    pgtype.Timestamptz
		expiresAt    pgtype.Timestamptz
		consumedAt   pgtype.Timestamptz
	)
	if err := row.Scan(&id, &token, &chatUserID, &chatUsername, &firstName, &lastName, &createdAt, &expiresAt, &consumedAt); err != nil {
		return Token{}, err
	}
	return Token{
		ID:           id.String(),
		Token:        token,
		ChatUserID:   chatUserID,
		ChatUsername: db.TextToString(chatUsername),
		FirstName:    db.TextToString(firstName),
		LastName:     db.TextToString(lastName),
		CreatedAt:    db.TimeFromPg(createdAt),
		ExpiresAt:    db.TimeFromPg(expiresAt),
		ConsumedAt:   db.TimeFromPg(consumedAt),
	}, nil
}
