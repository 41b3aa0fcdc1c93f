package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/printforge/notify/internal/model"
)

type ThresholdStore struct {
	db *sql.DB
}

func NewThresholdStore(db *sql.DB) *ThresholdStore {
	return &ThresholdStore{db: db}
}

// ListActive returns every active threshold definition.
func (s *ThresholdStore) ListActive() ([]model.Threshold, error) {
	rows, err := s.db.Query(
		`SELECT metric, threshold_value, operator, description, active, created_at, updated_at
		 FROM performance_thresholds WHERE active = 1 ORDER BY metric`,
	)
	if err != nil {
		return nil, fmt.Errorf("list thresholds: %w", err)
	}
	defer rows.Close()

	var thresholds []model.Threshold
	for rows.Next() {
		var t model.Threshold
		var op string
		var active int
		if err := rows.Scan(&t.Metric, &t.Value, &op, &t.Description, &active, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan threshold: %w", err)
		}
		t.Operator = model.NormalizeOperator(model.Operator(op))
		t.Active = active != 0
		thresholds = append(thresholds, t)
	}
	return thresholds, rows.Err()
}

// Upsert creates or replaces the threshold for a metric and reactivates it.
func (s *ThresholdStore) Upsert(metric string, value float64, op model.Operator, description string) error {
	_, err := s.db.Exec(
		`INSERT INTO performance_thresholds (metric, threshold_value, operator, description, active)
		 VALUES (?, ?, ?, ?, 1)
		 ON CONFLICT(metric) DO UPDATE SET
		     threshold_value = excluded.threshold_value,
		     operator = excluded.operator,
		     description = excluded.description,
		     active = 1,
		     updated_at = CURRENT_TIMESTAMP`,
		metric, value, string(op), description,
	)
	if err != nil {
		return fmt.Errorf("upsert threshold: %w", err)
	}
	return nil
}

// EnsureDefault inserts a threshold only when the metric has no row at all,
// active or not. Operator tuning done before startup is preserved.
func (s *ThresholdStore) EnsureDefault(metric string, value float64, op model.Operator, description string) error {
	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO performance_thresholds (metric, threshold_value, operator, description, active)
		 VALUES (?, ?, ?, ?, 1)`,
		metric, value, string(op), description,
	)
	if err != nil {
		return fmt.Errorf("ensure default threshold: %w", err)
	}
	return nil
}

// Disable deactivates the threshold for a metric. Returns false when the
// metric had no threshold row.
func (s *ThresholdStore) Disable(metric string) (bool, error) {
	result, err := s.db.Exec(
		`UPDATE performance_thresholds SET active = 0, updated_at = CURRENT_TIMESTAMP WHERE metric = ?`,
		metric,
	)
	if err != nil {
		return false, fmt.Errorf("disable threshold: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("disable threshold rows: %w", err)
	}
	return affected > 0, nil
}

// RecordMetric stores one measurement sample.
func (s *ThresholdStore) RecordMetric(component, metricName string, value float64, recordedAt time.Time) error {
	_, err := s.db.Exec(
		`INSERT INTO performance_metrics (component, metric_name, metric_value, recorded_at)
		 VALUES (?, ?, ?, ?)`,
		component, metricName, value, recordedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("record metric: %w", err)
	}
	return nil
}

// SampleValues returns the raw measurement values for a metric recorded
// since the cutoff, oldest first.
func (s *ThresholdStore) SampleValues(metricName string, since time.Time) ([]float64, error) {
	rows, err := s.db.Query(
		`SELECT metric_value FROM performance_metrics
		 WHERE metric_name = ? AND recorded_at >= ?
		 ORDER BY recorded_at`,
		metricName, since.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("metric samples: %w", err)
	}
	defer rows.Close()

	var values []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan metric sample: %w", err)
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

// LatestMetrics returns the most recent sample per metric name.
func (s *ThresholdStore) LatestMetrics() ([]model.MetricSample, error) {
	rows, err := s.db.Query(
		`SELECT m.component, m.metric_name, m.metric_value, m.recorded_at
		 FROM performance_metrics m
		 JOIN (SELECT metric_name, MAX(recorded_at) AS latest
		       FROM performance_metrics GROUP BY metric_name) l
		   ON m.metric_name = l.metric_name AND m.recorded_at = l.latest
		 ORDER BY m.metric_name`,
	)
	if err != nil {
		return nil, fmt.Errorf("latest metrics: %w", err)
	}
	defer rows.Close()

	var samples []model.MetricSample
	for rows.Next() {
		var sm model.MetricSample
		if err := rows.Scan(&sm.Component, &sm.MetricName, &sm.Value, &sm.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan latest metric: %w", err)
		}
		samples = append(samples, sm)
	}
	return samples, rows.Err()
}
