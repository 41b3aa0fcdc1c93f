// Package threshold keeps performance threshold definitions in a small
// read-through cache and evaluates measured values against them.
package threshold

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/printforge/notify/internal/model"
	"github.com/printforge/notify/internal/store"
)

const defaultTTL = 5 * time.Minute

// Auto-adjust bounds.
const (
	minAdjustDays = 7
	maxAdjustDays = 90
	minFactor     = 1.0
	maxFactor     = 5.0
)

// Cache holds active thresholds in memory, refreshed from the store when
// older than the TTL. A failed refresh keeps serving the last good snapshot.
type Cache struct {
	store  *store.ThresholdStore
	logger *slog.Logger
	ttl    time.Duration
	now    func() time.Time

	mu          sync.Mutex
	entries     map[string]model.Threshold
	refreshedAt time.Time
}

type Option func(*Cache)

// WithTTL overrides the refresh interval.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) { c.ttl = ttl }
}

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

func NewCache(ts *store.ThresholdStore, logger *slog.Logger, opts ...Option) *Cache {
	c := &Cache{
		store:  ts,
		logger: logger.With("component", "threshold_cache"),
		ttl:    defaultTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Store exposes the backing threshold store for metric sample writes.
func (c *Cache) Store() *store.ThresholdStore {
	return c.store
}

// Get returns the active threshold for a metric, or nil when none exists.
func (c *Cache) Get(metric string) *model.Threshold {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshIfStale()
	if t, ok := c.entries[metric]; ok {
		return &t
	}
	return nil
}

// All returns a snapshot of every cached active threshold.
func (c *Cache) All() []model.Threshold {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshIfStale()
	out := make([]model.Threshold, 0, len(c.entries))
	for _, t := range c.entries {
		out = append(out, t)
	}
	return out
}

// refreshIfStale rebuilds the map from the store once the snapshot ages past
// the TTL. The new map replaces the old one only after a full successful
// read, so a store error leaves the stale snapshot in place.
func (c *Cache) refreshIfStale() {
	now := c.now()
	if c.entries != nil && now.Sub(c.refreshedAt) < c.ttl {
		return
	}
	thresholds, err := c.store.ListActive()
	if err != nil {
		c.logger.Error("threshold refresh failed, serving stale data", "error", err)
		if c.entries == nil {
			c.entries = map[string]model.Threshold{}
		}
		c.refreshedAt = now
		return
	}
	entries := make(map[string]model.Threshold, len(thresholds))
	for _, t := range thresholds {
		entries[t.Metric] = t
	}
	c.entries = entries
	c.refreshedAt = now
}

// Upsert writes the threshold through to the store and the cache.
func (c *Cache) Upsert(metric string, value float64, op model.Operator, description string) error {
	op = model.NormalizeOperator(op)
	if err := c.store.Upsert(metric, value, op, description); err != nil {
		return fmt.Errorf("upsert threshold: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries == nil {
		c.entries = map[string]model.Threshold{}
	}
	now := c.now()
	c.entries[metric] = model.Threshold{
		Metric:      metric,
		Value:       value,
		Operator:    op,
		Description: description,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	return nil
}

// Disable deactivates a threshold in the store and evicts it from the cache.
func (c *Cache) Disable(metric string) (bool, error) {
	ok, err := c.store.Disable(metric)
	if err != nil {
		return false, fmt.Errorf("disable threshold: %w", err)
	}
	c.mu.Lock()
	delete(c.entries, metric)
	c.mu.Unlock()
	return ok, nil
}

// IsBreached reports whether the value violates the metric's threshold.
// Metrics without an active threshold never breach.
func (c *Cache) IsBreached(metric string, value float64) bool {
	t := c.Get(metric)
	if t == nil {
		return false
	}
	return t.Operator.Compare(value, t.Value)
}

// PercentExceeded quantifies how far a value is past its threshold, as a
// percentage of the threshold magnitude. Non-breaching values still get a
// number; callers gate on IsBreached.
func PercentExceeded(value float64, t model.Threshold) float64 {
	switch t.Operator {
	case model.OpGreater, model.OpGreaterEqual:
		if t.Value <= 0 {
			if value > 0 {
				return 100
			}
			return 0
		}
		return (value - t.Value) / math.Abs(t.Value) * 100
	case model.OpLess, model.OpLessEqual:
		if t.Value <= 0 {
			if value < 0 {
				return math.Abs((value - t.Value) / 0.01)
			}
			return 0
		}
		return (t.Value - value) / t.Value * 100
	case model.OpEqual:
		if value != t.Value {
			return 100
		}
		return 0
	}
	return 0
}

// SeverityForPercent bands a percent-exceeded figure into a severity level.
func SeverityForPercent(percent float64) model.Severity {
	switch {
	case percent <= 10:
		return model.SeverityLow
	case percent <= 50:
		return model.SeverityMedium
	case percent <= 100:
		return model.SeverityHigh
	default:
		return model.SeverityCritical
	}
}

// AutoAdjust recomputes a metric's threshold from recent samples as
// mean + stddev*factor for upper-bound operators and mean - stddev*factor
// for lower-bound ones. Days clamps to [7, 90] and factor to [1.0, 5.0].
// Returns false without touching the threshold when the metric has no
// active threshold or no samples in the window.
func (c *Cache) AutoAdjust(metric string, days int, factor float64) (bool, error) {
	t := c.Get(metric)
	if t == nil {
		return false, nil
	}
	if days < minAdjustDays {
		days = minAdjustDays
	} else if days > maxAdjustDays {
		days = maxAdjustDays
	}
	if factor < minFactor {
		factor = minFactor
	} else if factor > maxFactor {
		factor = maxFactor
	}

	since := c.now().AddDate(0, 0, -days)
	values, err := c.store.SampleValues(metric, since)
	if err != nil {
		return false, fmt.Errorf("auto-adjust samples: %w", err)
	}
	if len(values) == 0 {
		return false, nil
	}

	mean, stddev := meanStddev(values)
	var newValue float64
	switch t.Operator {
	case model.OpLess, model.OpLessEqual:
		newValue = mean - stddev*factor
	default:
		newValue = mean + stddev*factor
	}

	if err := c.Upsert(metric, newValue, t.Operator, t.Description); err != nil {
		return false, err
	}
	c.logger.Info("threshold auto-adjusted",
		"metric", metric, "old", t.Value, "new", newValue, "samples", len(values))
	return true, nil
}

// meanStddev returns the mean and population standard deviation of values.
func meanStddev(values []float64) (float64, float64) {
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	var variance float64
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(values))
	return mean, math.Sqrt(variance)
}

// SeedDefaults installs the baseline thresholds for metrics that have no
// row yet. Existing definitions, including disabled ones, are left alone.
func (c *Cache) SeedDefaults() error {
	defaults := []model.Threshold{
		{Metric: "response_time", Value: 1.5, Operator: model.OpGreater, Description: "Page response time in seconds"},
		{Metric: "memory_usage", Value: 128, Operator: model.OpGreater, Description: "Memory usage in MB"},
		{Metric: "cpu_usage", Value: 85, Operator: model.OpGreater, Description: "CPU usage percent"},
		{Metric: "query_time", Value: 0.5, Operator: model.OpGreater, Description: "Database query time in seconds"},
		{Metric: "cache_hit_ratio", Value: 60, Operator: model.OpLess, Description: "Cache hit ratio percent"},
		{Metric: "error_rate", Value: 1, Operator: model.OpGreater, Description: "Error rate percent"},
		{Metric: "concurrent_users", Value: 50, Operator: model.OpGreater, Description: "Concurrent active users"},
		{Metric: "disk_usage", Value: 90, Operator: model.OpGreater, Description: "Disk usage percent"},
	}
	for _, d := range defaults {
		if err := c.store.EnsureDefault(d.Metric, d.Value, d.Operator, d.Description); err != nil {
			return fmt.Errorf("seed %s: %w", d.Metric, err)
		}
	}
	// Force the next read to pick up whatever was inserted.
	c.mu.Lock()
	c.entries = nil
	c.mu.Unlock()
	return nil
}
