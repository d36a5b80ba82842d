package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/railguard/sentinel/internal/domain/entities"
	"github.com/railguard/sentinel/internal/domain/services/session"
)

// RefreshSessionRepository is the Postgres-backed implementation of
// session.Repository, persisting against the refresh_sessions table.
type RefreshSessionRepository struct {
	db *sqlx.DB
}

func NewRefreshSessionRepository(db *sqlx.DB) *RefreshSessionRepository {
	return &RefreshSessionRepository{db: db}
}

func (r *RefreshSessionRepository) Create(ctx context.Context, s *entities.RefreshSession) error {
	query := `
		INSERT INTO refresh_sessions (
			id, user_id, hashed_token, family,
			device_id, device_name, user_agent, ip_address, location,
			created_at, last_used_at, expires_at, revoked, revoked_at, revoked_reason
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	_, err := r.db.ExecContext(ctx, query,
		s.ID, s.UserID, s.HashedToken, s.Family,
		s.Device.DeviceID, s.Device.DeviceName, s.Device.UserAgent, s.Device.IPAddress, s.Device.Location,
		s.CreatedAt, s.LastUsedAt, s.ExpiresAt, s.Revoked, s.RevokedAt, s.RevokedReason)

	if isUniqueViolation(err) {
		return session.ErrAlreadyRotated
	}
	if err != nil {
		return fmt.Errorf("refresh_sessions: insert: %w", err)
	}
	return nil
}

func (r *RefreshSessionRepository) GetByHash(ctx context.Context, hash string) (*entities.RefreshSession, error) {
	query := `
		SELECT id, user_id, hashed_token, family,
		       device_id, device_name, user_agent, ip_address, location,
		       created_at, last_used_at, expires_at, revoked, revoked_at, revoked_reason
		FROM refresh_sessions WHERE hashed_token = $1`

	var s entities.RefreshSession
	var location, revokedReason sql.NullString
	var revokedAt sql.NullTime

	err := r.db.QueryRowContext(ctx, query, hash).Scan(
		&s.ID, &s.UserID, &s.HashedToken, &s.Family,
		&s.Device.DeviceID, &s.Device.DeviceName, &s.Device.UserAgent, &s.Device.IPAddress, &location,
		&s.CreatedAt, &s.LastUsedAt, &s.ExpiresAt, &s.Revoked, &revokedAt, &revokedReason)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("refresh_sessions: get by hash: %w", err)
	}

	s.Device.Location = location.String
	s.RevokedReason = revokedReason.String
	if revokedAt.Valid {
		s.RevokedAt = &revokedAt.Time
	}
	return &s, nil
}

func (r *RefreshSessionRepository) Revoke(ctx context.Context, id, reason string) error {
	query := `UPDATE refresh_sessions SET revoked = true, revoked_at = $2, revoked_reason = $3 WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id, time.Now(), reason)
	if err != nil {
		return fmt.Errorf("refresh_sessions: revoke: %w", err)
	}
	return nil
}

func (r *RefreshSessionRepository) RevokeFamily(ctx context.Context, family, reason string) error {
	query := `UPDATE refresh_sessions SET revoked = true, revoked_at = $2, revoked_reason = $3 WHERE family = $1 AND revoked = false`
	_, err := r.db.ExecContext(ctx, query, family, time.Now(), reason)
	if err != nil {
		return fmt.Errorf("refresh_sessions: revoke family: %w", err)
	}
	return nil
}

func (r *RefreshSessionRepository) RevokeAllForUser(ctx context.Context, userID, reason string) error {
	query := `UPDATE refresh_sessions SET revoked = true, revoked_at = $2, revoked_reason = $3 WHERE user_id = $1 AND revoked = false`
	_, err := r.db.ExecContext(ctx, query, userID, time.Now(), reason)
	if err != nil {
		return fmt.Errorf("refresh_sessions: revoke all for user: %w", err)
	}
	return nil
}

func (r *RefreshSessionRepository) ListActive(ctx context.Context, userID string) ([]*entities.RefreshSession, error) {
	query := `
		SELECT id, user_id, hashed_token, family,
		       device_id, device_name, user_agent, ip_address, location,
		       created_at, last_used_at, expires_at, revoked, revoked_at, revoked_reason
		FROM refresh_sessions
		WHERE user_id = $1 AND revoked = false AND expires_at > NOW()
		ORDER BY last_used_at DESC`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("refresh_sessions: list active: %w", err)
	}
	defer rows.Close()

	var out []*entities.RefreshSession
	for rows.Next() {
		var s entities.RefreshSession
		var location, revokedReason sql.NullString
		var revokedAt sql.NullTime

		if err := rows.Scan(
			&s.ID, &s.UserID, &s.HashedToken, &s.Family,
			&s.Device.DeviceID, &s.Device.DeviceName, &s.Device.UserAgent, &s.Device.IPAddress, &location,
			&s.CreatedAt, &s.LastUsedAt, &s.ExpiresAt, &s.Revoked, &revokedAt, &revokedReason,
		); err != nil {
			return nil, fmt.Errorf("refresh_sessions: scan: %w", err)
		}
		s.Device.Location = location.String
		s.RevokedReason = revokedReason.String
		if revokedAt.Valid {
			s.RevokedAt = &revokedAt.Time
		}
		out = append(out, &s)
	}
	return out, rows.Err()
}

func (r *RefreshSessionRepository) UpdateLastUsed(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE refresh_sessions SET last_used_at = $2 WHERE id = $1`, id, time.Now())
	if err != nil {
		return fmt.Errorf("refresh_sessions: update last used: %w", err)
	}
	return nil
}

// DeleteExpired removes sessions that expired or were revoked more
// than a day ago, run from the periodic eviction sweep rather than on
// every request.
func (r *RefreshSessionRepository) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM refresh_sessions WHERE expires_at < NOW() OR (revoked = true AND revoked_at < NOW() - INTERVAL '1 day')`)
	if err != nil {
		return 0, fmt.Errorf("refresh_sessions: delete expired: %w", err)
	}
	return res.RowsAffected()
}

func (r *RefreshSessionRepository) CountActive(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM refresh_sessions WHERE user_id = $1 AND revoked = false AND expires_at > NOW()`,
		userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("refresh_sessions: count active: %w", err)
	}
	return count, nil
}

func (r *RefreshSessionRepository) OldestActive(ctx context.Context, userID string) (*entities.RefreshSession, error) {
	query := `
		SELECT id, user_id, hashed_token, family,
		       device_id, device_name, user_agent, ip_address, location,
		       created_at, last_used_at, expires_at, revoked, revoked_at, revoked_reason
		FROM refresh_sessions
		WHERE user_id = $1 AND revoked = false AND expires_at > NOW()
		ORDER BY created_at ASC
		LIMIT 1`

	var s entities.RefreshSession
	var location, revokedReason sql.NullString
	var revokedAt sql.NullTime

	err := r.db.QueryRowContext(ctx, query, userID).Scan(
		&s.ID, &s.UserID, &s.HashedToken, &s.Family,
		&s.Device.DeviceID, &s.Device.DeviceName, &s.Device.UserAgent, &s.Device.IPAddress, &location,
		&s.CreatedAt, &s.LastUsedAt, &s.ExpiresAt, &s.Revoked, &revokedAt, &revokedReason)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("refresh_sessions: oldest active: %w", err)
	}
	s.Device.Location = location.String
	s.RevokedReason = revokedReason.String
	if revokedAt.Valid {
		s.RevokedAt = &revokedAt.Time
	}
	return &s, nil
}
