package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/zhouzirui/calma/backend/internal/model/risk"
)

// AlertRepo implements risk.AlertStore on SQLite.
type AlertRepo struct {
	db *sql.DB
}

var _ risk.AlertStore = (*AlertRepo)(nil)

func NewAlertRepo(db *sql.DB) *AlertRepo {
	return &AlertRepo{db: db}
}

func (r *AlertRepo) SaveAlert(ctx context.Context, alert risk.Alert) (risk.Alert, error) {
	if !alert.Complete() {
		return risk.Alert{}, risk.ErrInvalidAlert
	}
	alert.ID = uuid.NewString()

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO risk_alerts (id, user_id, score, risk_type, created_at) VALUES (?, ?, ?, ?, ?)`,
		alert.ID, alert.UserID, *alert.Score, alert.RiskType, alert.Timestamp.UTC())
	if err != nil {
		return risk.Alert{}, fmt.Errorf("failed to insert alert: %w", err)
	}
	return alert, nil
}

func (r *AlertRepo) ListAlerts(ctx context.Context, userID string) ([]risk.Alert, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, score, risk_type, created_at FROM risk_alerts WHERE user_id = ? ORDER BY created_at DESC, rowid DESC`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	alerts := make([]risk.Alert, 0)
	for rows.Next() {
		var (
			alert risk.Alert
			score int
		)
		if err := rows.Scan(&alert.ID, &alert.UserID, &score, &alert.RiskType, &alert.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		alert.Score = &score
		alert.Timestamp = alert.Timestamp.UTC()
		alerts = append(alerts, alert)
	}
	return alerts, rows.Err()
}
