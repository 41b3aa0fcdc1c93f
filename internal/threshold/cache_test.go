package threshold

import (
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/printforge/notify/internal/database"
	"github.com/printforge/notify/internal/model"
	"github.com/printforge/notify/internal/store"
)

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func setupCache(t *testing.T) (*Cache, *store.ThresholdStore, *testClock, func() error) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	ts := store.NewThresholdStore(db)
	clock := &testClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	logger := slog.New(slog.DiscardHandler)
	c := NewCache(ts, logger, WithClock(clock.Now))
	return c, ts, clock, db.Close
}

func TestCacheServesUntilTTL(t *testing.T) {
	c, ts, clock, _ := setupCache(t)
	ts.Upsert("cpu_usage", 85, model.OpGreater, "")

	if got := c.Get("cpu_usage"); got == nil || got.Value != 85 {
		t.Fatalf("Get = %v, want threshold 85", got)
	}

	// Change behind the cache's back; within the TTL the old value holds.
	ts.Upsert("cpu_usage", 90, model.OpGreater, "")
	clock.Advance(4 * time.Minute)
	if got := c.Get("cpu_usage"); got.Value != 85 {
		t.Errorf("Get within TTL = %v, want cached 85", got.Value)
	}

	clock.Advance(2 * time.Minute)
	if got := c.Get("cpu_usage"); got.Value != 90 {
		t.Errorf("Get after TTL = %v, want refreshed 90", got.Value)
	}
}

func TestCacheKeepsLastGoodOnRefreshFailure(t *testing.T) {
	c, ts, clock, closeDB := setupCache(t)
	ts.Upsert("cpu_usage", 85, model.OpGreater, "")

	if got := c.Get("cpu_usage"); got == nil {
		t.Fatal("expected initial load")
	}

	closeDB()
	clock.Advance(10 * time.Minute)
	got := c.Get("cpu_usage")
	if got == nil || got.Value != 85 {
		t.Errorf("Get after failed refresh = %v, want stale 85", got)
	}
}

func TestUpsertWritesThrough(t *testing.T) {
	c, ts, _, _ := setupCache(t)

	if err := c.Upsert("error_rate", 2, model.OpGreater, "percent"); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	// Visible immediately, without waiting out the TTL.
	if got := c.Get("error_rate"); got == nil || got.Value != 2 {
		t.Errorf("Get = %v, want write-through 2", got)
	}
	stored, _ := ts.ListActive()
	if len(stored) != 1 || stored[0].Value != 2 {
		t.Errorf("stored = %v, want persisted threshold", stored)
	}
}

func TestDisableEvicts(t *testing.T) {
	c, _, _, _ := setupCache(t)
	c.Upsert("cpu_usage", 85, model.OpGreater, "")

	ok, err := c.Disable("cpu_usage")
	if err != nil {
		t.Fatalf("disable: %v", err)
	}
	if !ok {
		t.Error("expected disable to report true")
	}
	if got := c.Get("cpu_usage"); got != nil {
		t.Errorf("Get after disable = %v, want nil", got)
	}
	if c.IsBreached("cpu_usage", 500) {
		t.Error("metric without an active threshold must never breach")
	}
}

func TestBreachBoundary(t *testing.T) {
	c, _, _, _ := setupCache(t)
	c.Upsert("concurrent_users", 100, model.OpGreater, "")

	cases := []struct {
		value float64
		want  bool
	}{
		{90, false},
		{100, false},
		{101, true},
	}
	for _, tc := range cases {
		if got := c.IsBreached("concurrent_users", tc.value); got != tc.want {
			t.Errorf("IsBreached(%v) = %v, want %v", tc.value, got, tc.want)
		}
	}

	c.Upsert("concurrent_users", 100, model.OpGreaterEqual, "")
	if !c.IsBreached("concurrent_users", 100) {
		t.Error("value equal to a >= threshold must breach")
	}
}

func TestPercentExceeded(t *testing.T) {
	cases := []struct {
		name  string
		value float64
		t     model.Threshold
		want  float64
	}{
		{"above upper", 110, model.Threshold{Value: 100, Operator: model.OpGreater}, 10},
		{"double upper", 200, model.Threshold{Value: 100, Operator: model.OpGreater}, 100},
		{"upper zero threshold positive value", 5, model.Threshold{Value: 0, Operator: model.OpGreater}, 100},
		{"upper zero threshold zero value", 0, model.Threshold{Value: 0, Operator: model.OpGreater}, 0},
		{"below lower", 45, model.Threshold{Value: 60, Operator: model.OpLess}, 25},
		{"lower zero threshold negative value", -0.5, model.Threshold{Value: 0, Operator: model.OpLess}, 50},
		{"lower zero threshold positive value", 3, model.Threshold{Value: 0, Operator: model.OpLess}, 0},
		{"equal mismatch", 5, model.Threshold{Value: 7, Operator: model.OpEqual}, 100},
		{"equal match", 7, model.Threshold{Value: 7, Operator: model.OpEqual}, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := PercentExceeded(tc.value, tc.t)
			if math.Abs(got-tc.want) > 1e-9 {
				t.Errorf("PercentExceeded(%v, %+v) = %v, want %v", tc.value, tc.t, got, tc.want)
			}
		})
	}
}

func TestSeverityBands(t *testing.T) {
	cases := []struct {
		percent float64
		want    model.Severity
	}{
		{0, model.SeverityLow},
		{10, model.SeverityLow},
		{10.01, model.SeverityMedium},
		{50, model.SeverityMedium},
		{50.01, model.SeverityHigh},
		{100, model.SeverityHigh},
		{100.01, model.SeverityCritical},
	}
	for _, tc := range cases {
		if got := SeverityForPercent(tc.percent); got != tc.want {
			t.Errorf("SeverityForPercent(%v) = %q, want %q", tc.percent, got, tc.want)
		}
	}
}

func TestAutoAdjust(t *testing.T) {
	c, ts, clock, _ := setupCache(t)
	c.Upsert("response_time", 1.5, model.OpGreater, "")

	// Samples 1, 2, 3: mean 2, population stddev sqrt(2/3).
	for i, v := range []float64{1, 2, 3} {
		ts.RecordMetric("api", "response_time", v, clock.Now().AddDate(0, 0, -i-1))
	}

	ok, err := c.AutoAdjust("response_time", 30, 2.0)
	if err != nil {
		t.Fatalf("auto-adjust: %v", err)
	}
	if !ok {
		t.Fatal("expected adjustment")
	}
	want := 2 + math.Sqrt(2.0/3.0)*2
	got := c.Get("response_time")
	if math.Abs(got.Value-want) > 1e-9 {
		t.Errorf("adjusted value = %v, want %v", got.Value, want)
	}
}

func TestAutoAdjustLowerBoundDirection(t *testing.T) {
	c, ts, clock, _ := setupCache(t)
	c.Upsert("cache_hit_ratio", 60, model.OpLess, "")
	for _, v := range []float64{80, 80, 80} {
		ts.RecordMetric("cache", "cache_hit_ratio", v, clock.Now().Add(-time.Hour))
	}

	ok, err := c.AutoAdjust("cache_hit_ratio", 30, 2.0)
	if err != nil || !ok {
		t.Fatalf("auto-adjust: ok=%v err=%v", ok, err)
	}
	// Zero spread keeps the threshold at the mean, below the samples.
	if got := c.Get("cache_hit_ratio"); got.Value != 80 {
		t.Errorf("adjusted value = %v, want 80", got.Value)
	}
}

func TestAutoAdjustNoSamples(t *testing.T) {
	c, _, _, _ := setupCache(t)
	c.Upsert("disk_usage", 90, model.OpGreater, "")

	ok, err := c.AutoAdjust("disk_usage", 30, 2.0)
	if err != nil {
		t.Fatalf("auto-adjust: %v", err)
	}
	if ok {
		t.Error("expected no adjustment without samples")
	}
	if got := c.Get("disk_usage"); got.Value != 90 {
		t.Errorf("threshold = %v, want untouched 90", got.Value)
	}
}

func TestAutoAdjustUnknownMetric(t *testing.T) {
	c, _, _, _ := setupCache(t)
	ok, err := c.AutoAdjust("nonexistent", 30, 2.0)
	if err != nil {
		t.Fatalf("auto-adjust: %v", err)
	}
	if ok {
		t.Error("unknown metric must not adjust")
	}
}

func TestSeedDefaults(t *testing.T) {
	c, ts, _, _ := setupCache(t)
	// Pre-existing definition wins over the default.
	ts.Upsert("cpu_usage", 70, model.OpGreater, "custom")

	if err := c.SeedDefaults(); err != nil {
		t.Fatalf("seed defaults: %v", err)
	}
	all := c.All()
	if len(all) != 8 {
		t.Fatalf("thresholds = %d, want 8", len(all))
	}
	if got := c.Get("cpu_usage"); got.Value != 70 {
		t.Errorf("cpu_usage = %v, want preserved 70", got.Value)
	}
	if got := c.Get("cache_hit_ratio"); got.Operator != model.OpLess || got.Value != 60 {
		t.Errorf("cache_hit_ratio = %+v, want < 60", got)
	}
}
