package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/akylbek/payment-system/fraud-engine/internal/models"
)

type AlertRepository struct {
	db *sql.DB
}

func NewAlertRepository(db *sql.DB) *AlertRepository {
	return &AlertRepository{db: db}
}

const alertColumns = `id, type, message, severity, alert_metadata, created_at, resolved_at`

func (r *AlertRepository) UpsertAlert(ctx context.Context, a *models.Alert) (*models.Alert, bool, error) {
	metadata, err := json.Marshal(a.Metadata)
	if err != nil {
		return nil, false, fmt.Errorf("failed to marshal alert metadata: %w", err)
	}

	var txID sql.NullString
	if a.Metadata.TransactionID != "" {
		txID = sql.NullString{String: a.Metadata.TransactionID, Valid: true}
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO alerts (id, type, message, severity, transaction_id, alert_metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT DO NOTHING
	`, a.ID, string(a.Type), a.Message, string(a.Severity), txID, metadata, a.CreatedAt)
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert alert: %w", err)
	}
	created := true
	if n, _ := res.RowsAffected(); n == 0 {
		created = false
	}

	var row *sql.Row
	if txID.Valid {
		row = r.db.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM alerts WHERE transaction_id = $1`, txID.String)
	} else {
		row = r.db.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id = $1`, a.ID)
	}
	stored, err := scanAlert(row)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read stored alert: %w", err)
	}
	return stored, created, nil
}

func (r *AlertRepository) ListAlerts(ctx context.Context, filter models.AlertFilter) ([]*models.Alert, error) {
	var (
		conds []string
		args  []any
	)
	if filter.Type != "" {
		args = append(args, string(filter.Type))
		conds = append(conds, fmt.Sprintf("type = $%d", len(args)))
	}
	if filter.Severity != "" {
		args = append(args, string(filter.Severity))
		conds = append(conds, fmt.Sprintf("severity = $%d", len(args)))
	}
	if !filter.Since.IsZero() {
		args = append(args, filter.Since)
		conds = append(conds, fmt.Sprintf("created_at >= $%d", len(args)))
	}

	query := `SELECT ` + alertColumns + ` FROM alerts`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, filter.Offset)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*models.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

func (r *AlertRepository) ResolveAlert(ctx context.Context, id string, at time.Time) (*models.Alert, error) {
	a, err := scanAlert(r.db.QueryRowContext(ctx, `
		UPDATE alerts SET resolved_at = COALESCE(resolved_at, $2)
		WHERE id = $1
		RETURNING `+alertColumns, id, at))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrAlertNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve alert: %w", err)
	}
	return a, nil
}

func scanAlert(row rowScanner) (*models.Alert, error) {
	var (
		a          models.Alert
		typ, sev   string
		metadata   []byte
		resolvedAt sql.NullTime
	)
	if err := row.Scan(&a.ID, &typ, &a.Message, &sev, &metadata, &a.CreatedAt, &resolvedAt); err != nil {
		return nil, err
	}
	a.Type = models.AlertType(typ)
	a.Severity = models.Severity(sev)
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &a.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode alert metadata: %w", err)
		}
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time
		a.ResolvedAt = &t
	}
	return &a, nil
}
