package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/printforge/notify/internal/model"
)

type AlertStore struct {
	db *sql.DB
}

func NewAlertStore(db *sql.DB) *AlertStore {
	return &AlertStore{db: db}
}

// CreateDashboardEntry links a performance notification to an unresolved
// dashboard alert.
func (s *AlertStore) CreateDashboardEntry(notificationID int64, metric string, value, threshold float64, component string, severity model.Severity) error {
	_, err := s.db.Exec(
		`INSERT INTO performance_dashboard (notification_id, metric, metric_value, threshold_value, component, severity)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		notificationID, metric, value, threshold, component, string(severity),
	)
	if err != nil {
		return fmt.Errorf("create dashboard entry: %w", err)
	}
	return nil
}

// LogAlert appends an alert occurrence to the audit log.
func (s *AlertStore) LogAlert(metric string, value float64, component string, severity model.Severity, context map[string]any) error {
	var contextJSON *string
	if context != nil {
		raw, err := json.Marshal(context)
		if err != nil {
			return fmt.Errorf("marshal alert context: %w", err)
		}
		str := string(raw)
		contextJSON = &str
	}
	_, err := s.db.Exec(
		`INSERT INTO performance_alert_log (metric, metric_value, component, severity, context)
		 VALUES (?, ?, ?, ?, ?)`,
		metric, value, component, string(severity), contextJSON,
	)
	if err != nil {
		return fmt.Errorf("log alert: %w", err)
	}
	return nil
}

// Resolve marks the dashboard alert behind a performance notification as
// resolved. It only touches unresolved performance alerts; returns false
// when nothing matched.
func (s *AlertStore) Resolve(notificationID, resolvedBy int64, resolution string, now time.Time) (bool, error) {
	result, err := s.db.Exec(
		`UPDATE performance_dashboard
		 SET resolved = 1, resolved_by = ?, resolved_at = ?, resolution = ?
		 WHERE notification_id = ? AND resolved = 0`,
		resolvedBy, now.UTC(), resolution, notificationID,
	)
	if err != nil {
		return false, fmt.Errorf("resolve alert: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("resolve alert rows: %w", err)
	}
	return affected > 0, nil
}

// ActiveAlerts returns unresolved dashboard alerts, most severe first.
func (s *AlertStore) ActiveAlerts(limit int) ([]model.PerformanceAlert, error) {
	rows, err := s.db.Query(
		`SELECT id, notification_id, metric, metric_value, threshold_value, component, severity,
		        resolved, resolved_by, resolved_at, resolution, created_at
		 FROM performance_dashboard
		 WHERE resolved = 0
		 ORDER BY CASE severity
		     WHEN 'critical' THEN 0
		     WHEN 'high' THEN 1
		     WHEN 'medium' THEN 2
		     ELSE 3 END,
		   created_at DESC
		 LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("active alerts: %w", err)
	}
	defer rows.Close()
	return collectAlerts(rows)
}

// History returns dashboard alerts created since the cutoff, newest first,
// resolved or not.
func (s *AlertStore) History(since time.Time, limit int) ([]model.PerformanceAlert, error) {
	rows, err := s.db.Query(
		`SELECT id, notification_id, metric, metric_value, threshold_value, component, severity,
		        resolved, resolved_by, resolved_at, resolution, created_at
		 FROM performance_dashboard
		 WHERE created_at >= ?
		 ORDER BY created_at DESC
		 LIMIT ?`,
		since.UTC().Format("2006-01-02 15:04:05"), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("alert history: %w", err)
	}
	defer rows.Close()
	return collectAlerts(rows)
}

// Silence suppresses alerts for a metric until expiry. A nil component
// silences the metric for all components.
func (s *AlertStore) Silence(metric string, component *string, createdBy *int64, expiresAt time.Time) error {
	_, err := s.db.Exec(
		`INSERT INTO alert_silencing (metric, component, created_by, expires_at)
		 VALUES (?, ?, ?, ?)`,
		metric, component, createdBy, expiresAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("silence metric: %w", err)
	}
	return nil
}

// IsSilenced reports whether an unexpired silencing rule covers the metric,
// either for the given component or globally.
func (s *AlertStore) IsSilenced(metric, component string, now time.Time) (bool, error) {
	var count int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM alert_silencing
		 WHERE metric = ? AND (component = ? OR component IS NULL) AND expires_at > ?`,
		metric, component, now.UTC(),
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check silencing: %w", err)
	}
	return count > 0, nil
}

// Unsilence removes all silencing rules for a metric and returns how many
// were removed.
func (s *AlertStore) Unsilence(metric string) (int64, error) {
	result, err := s.db.Exec(`DELETE FROM alert_silencing WHERE metric = ?`, metric)
	if err != nil {
		return 0, fmt.Errorf("unsilence metric: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("unsilence metric rows: %w", err)
	}
	return affected, nil
}

// PurgeExpiredSilences drops silencing rules past their expiry.
func (s *AlertStore) PurgeExpiredSilences(now time.Time) (int64, error) {
	result, err := s.db.Exec(`DELETE FROM alert_silencing WHERE expires_at <= ?`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("purge silences: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge silences rows: %w", err)
	}
	return affected, nil
}

func collectAlerts(rows *sql.Rows) ([]model.PerformanceAlert, error) {
	var alerts []model.PerformanceAlert
	for rows.Next() {
		var a model.PerformanceAlert
		var severity string
		var resolved int
		var resolvedBy sql.NullInt64
		var resolvedAt sql.NullTime
		if err := rows.Scan(&a.ID, &a.NotificationID, &a.Metric, &a.Value, &a.Threshold, &a.Component,
			&severity, &resolved, &resolvedBy, &resolvedAt, &a.Resolution, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		a.Severity = model.Severity(severity)
		a.Resolved = resolved != 0
		if resolvedBy.Valid {
			v := resolvedBy.Int64
			a.ResolvedBy = &v
		}
		if resolvedAt.Valid {
			t := resolvedAt.Time
			a.ResolvedAt = &t
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}
