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

// AuditRepository is the Postgres-backed implementation of
// audit.Repository. The audit_logs table's migration installs triggers
// that reject UPDATE and DELETE at the schema level — this type only
// ever inserts and selects, so nothing here could violate that even by
// accident.
type AuditRepository struct {
	db *sqlx.DB
}

func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) Insert(ctx context.Context, entry *entities.AuditLogEntry) error {
	changes, err := json.Marshal(entry.Changes)
	if err != nil {
		return fmt.Errorf("audit_logs: encode changes: %w", err)
	}
	metadata, err := json.Marshal(entry.Metadata)
	if err != nil {
		return fmt.Errorf("audit_logs: encode metadata: %w", err)
	}

	query := `
		INSERT INTO audit_logs (
			id, timestamp, event_type, user_id, action, resource, resource_id,
			changes, metadata, result, error_message, risk_score,
			signature, previous_hash
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`

	_, err = r.db.ExecContext(ctx, query,
		entry.ID, entry.Timestamp, entry.EventType, entry.UserID, entry.Action, entry.Resource, entry.ResourceID,
		changes, metadata, entry.Result, entry.ErrorMessage, entry.RiskScore,
		entry.Signature, entry.PreviousHash)
	if err != nil {
		return fmt.Errorf("audit_logs: insert: %w", err)
	}
	return nil
}

func scanAuditEntry(row interface{ Scan(...any) error }) (*entities.AuditLogEntry, error) {
	var e entities.AuditLogEntry
	var changes, metadata []byte
	var errorMessage sql.NullString
	var riskScore sql.NullInt64

	err := row.Scan(
		&e.ID, &e.Timestamp, &e.EventType, &e.UserID, &e.Action, &e.Resource, &e.ResourceID,
		&changes, &metadata, &e.Result, &errorMessage, &riskScore,
		&e.Signature, &e.PreviousHash)
	if err != nil {
		return nil, err
	}

	if errorMessage.Valid {
		e.ErrorMessage = &errorMessage.String
	}
	if riskScore.Valid {
		v := int(riskScore.Int64)
		e.RiskScore = &v
	}
	if len(changes) > 0 && string(changes) != "null" {
		if err := json.Unmarshal(changes, &e.Changes); err != nil {
			return nil, fmt.Errorf("audit_logs: decode changes: %w", err)
		}
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
			return nil, fmt.Errorf("audit_logs: decode metadata: %w", err)
		}
	}
	return &e, nil
}

const auditColumns = `
	id, timestamp, event_type, user_id, action, resource, resource_id,
	changes, metadata, result, error_message, risk_score,
	signature, previous_hash`

func (r *AuditRepository) Latest(ctx context.Context) (*entities.AuditLogEntry, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+auditColumns+` FROM audit_logs ORDER BY timestamp DESC LIMIT 1`)
	e, err := scanAuditEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("audit_logs: latest: %w", err)
	}
	return e, nil
}

func (r *AuditRepository) ListRange(ctx context.Context, start, end time.Time, limit int) ([]*entities.AuditLogEntry, error) {
	query := `SELECT ` + auditColumns + ` FROM audit_logs WHERE timestamp >= $1 AND timestamp <= $2 ORDER BY timestamp ASC LIMIT $3`
	rows, err := r.db.QueryContext(ctx, query, start, end, limit)
	if err != nil {
		return nil, fmt.Errorf("audit_logs: list range: %w", err)
	}
	defer rows.Close()

	var out []*entities.AuditLogEntry
	for rows.Next() {
		e, err := scanAuditEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("audit_logs: scan: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
