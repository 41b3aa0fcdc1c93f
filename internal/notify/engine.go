package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/printforge/notify/internal/model"
	"github.com/printforge/notify/internal/store"
	"github.com/printforge/notify/internal/threshold"
)

// Input validation errors, mapped to 400 responses by the HTTP layer.
var (
	ErrTitleRequired   = errors.New("title is required")
	ErrTitleTooLong    = errors.New("title exceeds 255 characters")
	ErrMessageRequired = errors.New("message is required")
	ErrUnknownUser     = errors.New("user does not exist")
)

const (
	maxTitleLen     = 255
	maxContextBytes = 65535

	minCleanupDays = 7
	maxCleanupDays = 365
	minListLimit   = 1
	maxListLimit   = 100
	minStatsLimit  = 1
	maxStatsLimit  = 90
	minSilence     = 5 * time.Minute
	maxSilence     = 7 * 24 * time.Hour

	// Fan-out width when notifying a set of users.
	notifyFanout = 4
)

// Context keys carrying secrets never reach storage. Exact names only, so
// keys like process_token pass through.
var sensitiveContextKeys = map[string]bool{"password": true, "token": true, "csrf": true}

// Engine is the write side of the notification system: it validates,
// persists, and dispatches notifications, and evaluates performance
// metrics against thresholds.
type Engine struct {
	notifications *store.NotificationStore
	users         *store.UserStore
	alerts        *store.AlertStore
	thresholds    *threshold.Cache
	dispatcher    *Dispatcher
	logger        *slog.Logger
	now           func() time.Time
}

func NewEngine(
	ns *store.NotificationStore,
	us *store.UserStore,
	as *store.AlertStore,
	tc *threshold.Cache,
	dispatcher *Dispatcher,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		notifications: ns,
		users:         us,
		alerts:        as,
		thresholds:    tc,
		dispatcher:    dispatcher,
		logger:        logger.With("component", "engine"),
		now:           time.Now,
	}
}

// CreateNotification validates, persists, and dispatches one notification.
// Persistence failures are returned; channel delivery failures are logged
// by the dispatcher and never fail the call.
func (e *Engine) CreateNotification(ctx context.Context, userID int64, title, message string, typ model.NotificationType, notifContext map[string]any, channels []model.Channel) (*model.Notification, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, ErrTitleRequired
	}
	if len(title) > maxTitleLen {
		return nil, ErrTitleTooLong
	}
	if strings.TrimSpace(message) == "" {
		return nil, ErrMessageRequired
	}
	if !model.ValidType(typ) {
		typ = model.TypeInfo
	}
	exists, err := e.users.Exists(userID)
	if err != nil {
		return nil, fmt.Errorf("check user: %w", err)
	}
	if !exists {
		return nil, ErrUnknownUser
	}

	effective := EffectiveChannels(channels)
	channelsJSON, err := json.Marshal(effective)
	if err != nil {
		return nil, fmt.Errorf("marshal channels: %w", err)
	}

	cleanContext := sanitizeContext(notifContext)
	var contextJSON *string
	if cleanContext != nil {
		raw, err := json.Marshal(cleanContext)
		if err != nil || len(raw) > maxContextBytes {
			// Keep the notification; replace the unusable context.
			cleanContext = map[string]any{"error": "Context data too large"}
			raw, _ = json.Marshal(cleanContext)
		}
		str := string(raw)
		contextJSON = &str
	}

	id, err := e.notifications.Create(userID, title, message, typ, contextJSON, string(channelsJSON))
	if err != nil {
		return nil, fmt.Errorf("persist notification: %w", err)
	}

	n := &model.Notification{
		ID:        id,
		UserID:    userID,
		Title:     title,
		Message:   message,
		Type:      typ,
		Context:   cleanContext,
		Channels:  effective,
		Status:    model.StatusUnread,
		CreatedAt: e.now(),
	}

	result := e.dispatcher.Dispatch(ctx, n)
	for ch, ok := range result.Channels {
		if !ok && ch != model.ChannelDatabase {
			e.logger.Debug("channel delivery unsuccessful",
				"notification_id", id, "channel", ch, "dispatch_id", result.DispatchID)
		}
	}
	return n, nil
}

// sanitizeContext drops keys that look like they carry credentials.
// Returns nil for an empty result so no context row is stored.
func sanitizeContext(ctx map[string]any) map[string]any {
	if ctx == nil {
		return nil
	}
	clean := make(map[string]any, len(ctx))
	for k, v := range ctx {
		if sensitiveContextKeys[strings.ToLower(k)] {
			continue
		}
		clean[k] = v
	}
	if len(clean) == 0 {
		return nil
	}
	return clean
}

func (e *Engine) MarkAsRead(id, userID int64) (bool, error) {
	return e.notifications.MarkAsRead(id, userID, e.now())
}

func (e *Engine) MarkAllAsRead(userID int64) (int64, error) {
	return e.notifications.MarkAllAsRead(userID, e.now())
}

// List returns a page of the user's notifications. The limit clamps to
// [1, 100]; unknown status filters fall back to "all".
func (e *Engine) List(userID int64, status string, limit, offset int) ([]model.Notification, error) {
	if status != model.StatusUnread && status != model.StatusRead {
		status = "all"
	}
	limit = clampInt(limit, minListLimit, maxListLimit)
	if offset < 0 {
		offset = 0
	}
	return e.notifications.ListByUser(userID, status, limit, offset)
}

func (e *Engine) CountUnread(userID int64) (int, error) {
	return e.notifications.CountUnread(userID)
}

func (e *Engine) Delete(id, userID int64) (bool, error) {
	return e.notifications.Delete(id, userID)
}

// Stats aggregates notification counts per period. Unknown periods fall
// back to "day"; the bucket limit clamps to [1, 90].
func (e *Engine) Stats(period string, limit int) ([]model.StatBucket, error) {
	if period != "week" && period != "month" {
		period = "day"
	}
	limit = clampInt(limit, minStatsLimit, maxStatsLimit)
	return e.notifications.Stats(period, limit)
}

// CleanupOldNotifications deletes notifications older than the retention
// window, which clamps to [7, 365] days. Unresolved performance alerts are
// retained regardless of age.
func (e *Engine) CleanupOldNotifications(days int) (int64, error) {
	days = clampInt(days, minCleanupDays, maxCleanupDays)
	cutoff := e.now().AddDate(0, 0, -days)
	deleted, err := e.notifications.CleanupBefore(cutoff)
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		e.logger.Info("old notifications cleaned up", "deleted", deleted, "retention_days", days)
	}
	return deleted, nil
}

// CreatePerformanceAlert evaluates one measurement and, when it breaches
// its threshold and is not silenced, notifies every user holding any of
// the recipient roles, defaulting to the admins. Metrics without an
// active threshold are a no-op.
func (e *Engine) CreatePerformanceAlert(ctx context.Context, metric string, value float64, component string, roles ...string) error {
	t := e.thresholds.Get(metric)
	if t == nil {
		return nil
	}
	if !t.Operator.Compare(value, t.Value) {
		return nil
	}
	silenced, err := e.alerts.IsSilenced(metric, component, e.now())
	if err != nil {
		e.logger.Error("silencing check failed, alerting anyway", "metric", metric, "error", err)
	} else if silenced {
		e.logger.Debug("alert suppressed by silencing rule", "metric", metric, "component", component)
		return nil
	}

	percent := threshold.PercentExceeded(value, *t)
	severity := threshold.SeverityForPercent(percent)

	title := fmt.Sprintf("Performance Alert: %s", metric)
	if severity == model.SeverityCritical {
		title = "CRITICAL: " + title
	}
	message := alertMessage(metric, value, *t, severity, percent, component)

	perfContext := model.ContextMap(model.PerformanceContext{
		Metric:          metric,
		Value:           value,
		Threshold:       t.Value,
		Component:       component,
		Severity:        severity,
		PercentExceeded: percent,
		Timestamp:       e.now().Unix(),
	})

	channels := alertChannels(severity)
	if len(roles) == 0 {
		roles = []string{"admin"}
	}
	recipients, err := e.users.ListIDsByRole(roles...)
	if err != nil {
		return fmt.Errorf("list alert recipients: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(notifyFanout)
	for _, userID := range recipients {
		userID := userID
		g.Go(func() error {
			_, err := e.CreateNotification(ctx, userID, title, message, model.TypePerformance, perfContext, channels)
			if err != nil {
				e.logger.Error("performance alert delivery failed", "user_id", userID, "metric", metric, "error", err)
			}
			return nil
		})
	}
	g.Wait()

	if err := e.alerts.LogAlert(metric, value, component, severity, perfContext); err != nil {
		e.logger.Error("alert log write failed", "metric", metric, "error", err)
	}
	return nil
}

// alertChannels escalates delivery with severity: every alert is stored
// and shown on the dashboard, medium adds push, high and critical add
// push and email.
func alertChannels(severity model.Severity) []model.Channel {
	channels := []model.Channel{model.ChannelDatabase, model.ChannelDashboard}
	switch severity {
	case model.SeverityMedium:
		channels = append(channels, model.ChannelPush)
	case model.SeverityHigh, model.SeverityCritical:
		channels = append(channels, model.ChannelPush, model.ChannelEmail)
	}
	return channels
}

func alertMessage(metric string, value float64, t model.Threshold, severity model.Severity, percent float64, component string) string {
	var urgency string
	switch severity {
	case model.SeverityCritical:
		urgency = "requires immediate attention"
	case model.SeverityHigh:
		urgency = "needs investigation"
	case model.SeverityMedium:
		urgency = "should be reviewed"
	default:
		urgency = "is slightly elevated"
	}
	msg := fmt.Sprintf("Metric %s measured %.2f against threshold %s %.2f (%.1f%% over) and %s.",
		metric, value, t.Operator, t.Value, percent, urgency)
	if component != "" {
		msg += fmt.Sprintf(" Component: %s.", component)
	}
	return msg
}

// RecordPerformanceMetrics stores a batch of measurements under one shared
// timestamp and evaluates each against its threshold. Storage errors for
// one metric do not stop the rest of the batch.
func (e *Engine) RecordPerformanceMetrics(ctx context.Context, component string, metrics map[string]float64) error {
	recordedAt := e.now()
	ts := e.thresholds.Store()
	var firstErr error
	for name, value := range metrics {
		if err := ts.RecordMetric(component, name, value, recordedAt); err != nil {
			e.logger.Error("metric write failed", "metric", name, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if err := e.CreatePerformanceAlert(ctx, name, value, component); err != nil {
			e.logger.Error("alert evaluation failed", "metric", name, "error", err)
		}
	}
	return firstErr
}

// ResolvePerformanceAlert marks the dashboard alert behind a performance
// notification as resolved. Returns false when there was nothing
// unresolved to act on.
func (e *Engine) ResolvePerformanceAlert(notificationID, resolvedBy int64, resolution string) (bool, error) {
	ok, err := e.alerts.Resolve(notificationID, resolvedBy, resolution, e.now())
	if err != nil {
		return false, err
	}
	if ok {
		e.logger.Info("performance alert resolved",
			"notification_id", notificationID, "resolved_by", resolvedBy)
	}
	return ok, nil
}

// SilenceMetric suppresses alerts for a metric. The duration clamps to
// [5m, 168h]. A nil component silences the metric for all components.
func (e *Engine) SilenceMetric(metric string, component *string, createdBy *int64, duration time.Duration) (time.Time, error) {
	if duration < minSilence {
		duration = minSilence
	} else if duration > maxSilence {
		duration = maxSilence
	}
	expiresAt := e.now().Add(duration)
	if err := e.alerts.Silence(metric, component, createdBy, expiresAt); err != nil {
		return time.Time{}, err
	}
	return expiresAt, nil
}

func (e *Engine) UnsilenceMetric(metric string) (int64, error) {
	return e.alerts.Unsilence(metric)
}

func (e *Engine) IsMetricSilenced(metric, component string) (bool, error) {
	return e.alerts.IsSilenced(metric, component, e.now())
}

// System notification roles.
var allowedSystemRoles = map[string]bool{"user": true, "admin": true, "manager": true}

// CreateSystemNotification sends one notification to every user holding
// any of the given roles. Unknown roles are dropped; an empty result falls
// back to users and admins. Returns how many notifications were created.
func (e *Engine) CreateSystemNotification(ctx context.Context, title, message string, typ model.NotificationType, roles []string) (int, error) {
	var valid []string
	for _, r := range roles {
		if allowedSystemRoles[r] {
			valid = append(valid, r)
		}
	}
	if len(valid) == 0 {
		valid = []string{"user", "admin"}
	}

	ids, err := e.users.ListIDsByRole(valid...)
	if err != nil {
		return 0, fmt.Errorf("list recipients: %w", err)
	}

	var created int
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(notifyFanout)
	results := make([]bool, len(ids))
	for i, userID := range ids {
		i, userID := i, userID
		g.Go(func() error {
			_, err := e.CreateNotification(ctx, userID, title, message, typ, nil, []model.Channel{model.ChannelDatabase})
			if err != nil {
				e.logger.Error("system notification failed", "user_id", userID, "error", err)
				return nil
			}
			results[i] = true
			return nil
		})
	}
	g.Wait()
	for _, ok := range results {
		if ok {
			created++
		}
	}
	return created, nil
}

func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
