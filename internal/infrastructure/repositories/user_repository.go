package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/railguard/sentinel/internal/domain/entities"
)

// UserRepository is the Postgres-backed implementation of
// authsvc.UserRepository, persisting against the users table.
// PasswordHistory and BackupCodeHashes are stored as JSONB columns
// since the User struct tags them db:"-" — sqlx's struct binding
// never touches them, they're marshaled/unmarshaled explicitly here.
type UserRepository struct {
	db *sqlx.DB
}

func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `
	id, email, name, password_hash, role, provider, token_version,
	is_email_verified, verification_token, verification_expires,
	password_reset_token, password_reset_expires,
	password_history, last_password_change,
	two_factor_enabled, two_factor_secret_enc, two_factor_temp_token, two_factor_temp_expires,
	backup_code_hashes, failed_login_attempts, failed_login_window_start, account_locked_until,
	created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (*entities.User, error) {
	var u entities.User
	var passwordHistory, backupCodeHashes []byte
	var verificationToken, passwordResetToken, twoFactorTempToken sql.NullString
	var verificationExpires, passwordResetExpires, twoFactorTempExpires sql.NullTime
	var failedLoginWindowStart, accountLockedUntil sql.NullTime

	err := row.Scan(
		&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.Role, &u.Provider, &u.TokenVersion,
		&u.IsEmailVerified, &verificationToken, &verificationExpires,
		&passwordResetToken, &passwordResetExpires,
		&passwordHistory, &u.LastPasswordChange,
		&u.TwoFactorEnabled, &u.TwoFactorSecretEnc, &twoFactorTempToken, &twoFactorTempExpires,
		&backupCodeHashes, &u.FailedLoginAttempts, &failedLoginWindowStart, &accountLockedUntil,
		&u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if verificationToken.Valid {
		u.VerificationToken = &verificationToken.String
	}
	if verificationExpires.Valid {
		u.VerificationExpires = &verificationExpires.Time
	}
	if passwordResetToken.Valid {
		u.PasswordResetToken = &passwordResetToken.String
	}
	if passwordResetExpires.Valid {
		u.PasswordResetExpires = &passwordResetExpires.Time
	}
	if twoFactorTempToken.Valid {
		u.TwoFactorTempToken = &twoFactorTempToken.String
	}
	if twoFactorTempExpires.Valid {
		u.TwoFactorTempExpires = &twoFactorTempExpires.Time
	}
	if failedLoginWindowStart.Valid {
		u.FailedLoginWindowStart = &failedLoginWindowStart.Time
	}
	if accountLockedUntil.Valid {
		u.AccountLockedUntil = &accountLockedUntil.Time
	}
	if len(passwordHistory) > 0 {
		if err := json.Unmarshal(passwordHistory, &u.PasswordHistory); err != nil {
			return nil, fmt.Errorf("users: decode password_history: %w", err)
		}
	}
	if len(backupCodeHashes) > 0 {
		if err := json.Unmarshal(backupCodeHashes, &u.BackupCodeHashes); err != nil {
			return nil, fmt.Errorf("users: decode backup_code_hashes: %w", err)
		}
	}
	return &u, nil
}

func (r *UserRepository) Create(ctx context.Context, u *entities.User) error {
	now := time.Now()
	u.CreatedAt, u.UpdatedAt = now, now
	if u.LastPasswordChange.IsZero() {
		u.LastPasswordChange = now
	}

	passwordHistory, err := json.Marshal(u.PasswordHistory)
	if err != nil {
		return fmt.Errorf("users: encode password_history: %w", err)
	}
	backupCodeHashes, err := json.Marshal(u.BackupCodeHashes)
	if err != nil {
		return fmt.Errorf("users: encode backup_code_hashes: %w", err)
	}

	query := `
		INSERT INTO users (
			id, email, name, password_hash, role, provider, token_version,
			is_email_verified, verification_token, verification_expires,
			password_history, last_password_change,
			two_factor_enabled, backup_code_hashes,
			failed_login_attempts, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`

	_, err = r.db.ExecContext(ctx, query,
		u.ID, u.Email, u.Name, u.PasswordHash, u.Role, u.Provider, u.TokenVersion,
		u.IsEmailVerified, u.VerificationToken, u.VerificationExpires,
		passwordHistory, u.LastPasswordChange,
		u.TwoFactorEnabled, backupCodeHashes,
		u.FailedLoginAttempts, u.CreatedAt, u.UpdatedAt)

	if isUniqueViolation(err) {
		return fmt.Errorf("users: email already registered")
	}
	if err != nil {
		return fmt.Errorf("users: insert: %w", err)
	}
	return nil
}

func (r *UserRepository) Update(ctx context.Context, u *entities.User) error {
	u.UpdatedAt = time.Now()

	passwordHistory, err := json.Marshal(u.PasswordHistory)
	if err != nil {
		return fmt.Errorf("users: encode password_history: %w", err)
	}
	backupCodeHashes, err := json.Marshal(u.BackupCodeHashes)
	if err != nil {
		return fmt.Errorf("users: encode backup_code_hashes: %w", err)
	}

	query := `
		UPDATE users SET
			name = $2, password_hash = $3, role = $4, token_version = $5,
			is_email_verified = $6, verification_token = $7, verification_expires = $8,
			password_reset_token = $9, password_reset_expires = $10,
			password_history = $11, last_password_change = $12,
			two_factor_enabled = $13, two_factor_secret_enc = $14,
			two_factor_temp_token = $15, two_factor_temp_expires = $16,
			backup_code_hashes = $17, failed_login_attempts = $18,
			failed_login_window_start = $19, account_locked_until = $20, updated_at = $21
		WHERE id = $1`

	_, err = r.db.ExecContext(ctx, query,
		u.ID, u.Name, u.PasswordHash, u.Role, u.TokenVersion,
		u.IsEmailVerified, u.VerificationToken, u.VerificationExpires,
		u.PasswordResetToken, u.PasswordResetExpires,
		passwordHistory, u.LastPasswordChange,
		u.TwoFactorEnabled, u.TwoFactorSecretEnc,
		u.TwoFactorTempToken, u.TwoFactorTempExpires,
		backupCodeHashes, u.FailedLoginAttempts,
		u.FailedLoginWindowStart, u.AccountLockedUntil, u.UpdatedAt)
	if err != nil {
		return fmt.Errorf("users: update: %w", err)
	}
	return nil
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*entities.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("users: get by email: %w", err)
	}
	return u, nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*entities.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("users: get by id: %w", err)
	}
	return u, nil
}

func (r *UserRepository) GetByVerificationToken(ctx context.Context, token string) (*entities.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE verification_token = $1`, token)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("users: get by verification token: %w", err)
	}
	return u, nil
}

func (r *UserRepository) GetByPasswordResetToken(ctx context.Context, token string) (*entities.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE password_reset_token = $1`, token)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("users: get by password reset token: %w", err)
	}
	return u, nil
}

func (r *UserRepository) GetByTwoFactorTempToken(ctx context.Context, token string) (*entities.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE two_factor_temp_token = $1`, token)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("users: get by two-factor temp token: %w", err)
	}
	return u, nil
}

// GetUserEmail satisfies payments.UserLookup: order settlement keys
// users by id and only needs the address a receipt goes to.
func (r *UserRepository) GetUserEmail(ctx context.Context, userID string) (string, error) {
	var email string
	err := r.db.QueryRowContext(ctx, `SELECT email FROM users WHERE id = $1`, userID).Scan(&email)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("users: no such user %s", userID)
	}
	if err != nil {
		return "", fmt.Errorf("users: get email: %w", err)
	}
	return email, nil
}
