// Package events turns domain events (async process updates, print queue
// changes) into notifications. Handlers are a degrade-and-log boundary:
// they report delivery problems through the logger and only return errors
// for malformed input.
package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/printforge/notify/internal/model"
	"github.com/printforge/notify/internal/notify"
	"github.com/printforge/notify/internal/store"
)

// Preference type codes.
const (
	prefProcessStatus     = "process_status"
	prefProcessProgress   = "process_progress"
	prefProcessExpiration = "process_expiration"
	prefQueueStatus       = "queue_status"
)

var (
	ErrInvalidToken = errors.New("invalid process token")

	processTokenPattern = regexp.MustCompile(`^[a-zA-Z0-9]{32}$`)
)

// ProcessConfig tunes the process event handler.
type ProcessConfig struct {
	// Milestones are the progress percentages worth announcing.
	Milestones []int
	// MilestoneMargin is how far a reported percentage may sit from a
	// milestone, inclusive, and still count as hitting it.
	MilestoneMargin int
	// PushFromPercent adds the push channel to milestone notifications at
	// or above this completion level.
	PushFromPercent int
	// ExpirationWarningHours is the wall-clock window for expiry warnings.
	ExpirationWarningHours int
}

func DefaultProcessConfig() ProcessConfig {
	return ProcessConfig{
		Milestones:             []int{25, 50, 75, 90},
		MilestoneMargin:        2,
		PushFromPercent:        75,
		ExpirationWarningHours: 24,
	}
}

// ProcessHandler reacts to async process lifecycle events.
type ProcessHandler struct {
	engine        *notify.Engine
	users         *store.UserStore
	notifications *store.NotificationStore
	cfg           ProcessConfig
	logger        *slog.Logger
	now           func() time.Time
}

func NewProcessHandler(engine *notify.Engine, us *store.UserStore, ns *store.NotificationStore, cfg ProcessConfig, logger *slog.Logger) *ProcessHandler {
	if len(cfg.Milestones) == 0 {
		cfg = DefaultProcessConfig()
	}
	return &ProcessHandler{
		engine:        engine,
		users:         us,
		notifications: ns,
		cfg:           cfg,
		logger:        logger.With("component", "process_events"),
		now:           time.Now,
	}
}

type processStatusInfo struct {
	title   string
	message string
	typ     model.NotificationType
	// forced statuses bypass the user's opt-out.
	forced   bool
	channels []model.Channel
}

var processStatuses = map[string]processStatusInfo{
	"queued": {
		title:    "Job Queued",
		message:  "Your job has been queued and will start shortly.",
		typ:      model.TypeInfo,
		channels: []model.Channel{model.ChannelDatabase},
	},
	"processing": {
		title:    "Job Started",
		message:  "Your job is now being processed.",
		typ:      model.TypeInfo,
		channels: []model.Channel{model.ChannelDatabase},
	},
	"completed": {
		title:    "Job Completed",
		message:  "Your job finished successfully. The results are ready to download.",
		typ:      model.TypeSuccess,
		forced:   true,
		channels: []model.Channel{model.ChannelDatabase, model.ChannelPush, model.ChannelEmail},
	},
	"failed": {
		title:    "Job Failed",
		message:  "Your job could not be completed. Our team has been notified.",
		typ:      model.TypeError,
		forced:   true,
		channels: []model.Channel{model.ChannelDatabase, model.ChannelPush, model.ChannelEmail},
	},
	"cancelled": {
		title:    "Job Cancelled",
		message:  "Your job was cancelled.",
		typ:      model.TypeWarning,
		channels: []model.Channel{model.ChannelDatabase},
	},
}

// HandleStatusChange notifies the owner of a process about a status
// transition. Users who opted out of process updates are skipped except
// for terminal statuses, which always go out. A failed process
// additionally alerts the admins.
func (h *ProcessHandler) HandleStatusChange(ctx context.Context, userID int64, token, oldStatus, newStatus string) error {
	if !processTokenPattern.MatchString(token) {
		return fmt.Errorf("%w: %q", ErrInvalidToken, token)
	}
	info, ok := processStatuses[newStatus]
	if !ok {
		h.logger.Debug("ignoring unknown process status", "status", newStatus)
		return nil
	}
	exists, err := h.users.Exists(userID)
	if err != nil {
		return fmt.Errorf("check user: %w", err)
	}
	if !exists {
		h.logger.Warn("process event for unknown user", "user_id", userID, "token", token)
		return nil
	}

	if !info.forced && !h.prefEnabled(userID, prefProcessStatus) {
		return nil
	}

	pctx := model.ContextMap(model.ProcessContext{
		ProcessToken: token,
		OldStatus:    oldStatus,
		NewStatus:    newStatus,
		URL:          "/jobs/" + token,
		Timestamp:    h.now().Unix(),
	})
	if _, err := h.engine.CreateNotification(ctx, userID, info.title, info.message, info.typ, pctx, info.channels); err != nil {
		h.logger.Error("status change notification failed", "user_id", userID, "token", token, "error", err)
	}

	if newStatus == "failed" {
		h.alertAdminsOnFailure(ctx, userID, token)
	}
	return nil
}

func (h *ProcessHandler) alertAdminsOnFailure(ctx context.Context, userID int64, token string) {
	admins, err := h.users.ListIDsByRole("admin")
	if err != nil {
		h.logger.Error("list admins failed", "error", err)
		return
	}
	pctx := model.ContextMap(model.ProcessContext{
		ProcessToken: token,
		NewStatus:    "failed",
		URL:          "/admin/jobs/" + token,
		Timestamp:    h.now().Unix(),
	})
	title := "Job Failure"
	message := fmt.Sprintf("Job %s of user %d failed and may need investigation.", token, userID)
	for _, adminID := range admins {
		if _, err := h.engine.CreateNotification(ctx, adminID, title, message, model.TypeError, pctx,
			[]model.Channel{model.ChannelDatabase, model.ChannelPush}); err != nil {
			h.logger.Error("admin failure alert failed", "admin_id", adminID, "error", err)
		}
	}
}

// HandleProgressUpdate announces progress milestones. The reported
// percentage clamps to [0, 100]; a milestone counts as hit when the
// percentage is within the configured margin, inclusive. Each milestone
// fires at most once per process.
func (h *ProcessHandler) HandleProgressUpdate(ctx context.Context, userID int64, token string, percent int) error {
	if !processTokenPattern.MatchString(token) {
		return fmt.Errorf("%w: %q", ErrInvalidToken, token)
	}
	if percent < 0 {
		percent = 0
	} else if percent > 100 {
		percent = 100
	}

	milestone := h.matchMilestone(percent)
	if milestone == 0 {
		return nil
	}
	if !h.prefEnabled(userID, prefProcessProgress) {
		return nil
	}
	sent, err := h.notifications.MilestoneSent(token, milestone)
	if err != nil {
		return fmt.Errorf("milestone check: %w", err)
	}
	if sent {
		return nil
	}

	channels := []model.Channel{model.ChannelDatabase}
	if milestone >= h.cfg.PushFromPercent {
		channels = append(channels, model.ChannelPush)
	}
	pctx := model.ContextMap(model.ProcessContext{
		ProcessToken:    token,
		PercentComplete: milestone,
		URL:             "/jobs/" + token,
		Timestamp:       h.now().Unix(),
	})
	title := fmt.Sprintf("Job %d%% Complete", milestone)
	message := fmt.Sprintf("Your job has reached %d%% completion.", milestone)
	if _, err := h.engine.CreateNotification(ctx, userID, title, message, model.TypeInfo, pctx, channels); err != nil {
		h.logger.Error("milestone notification failed", "user_id", userID, "token", token, "error", err)
		return nil
	}
	if err := h.notifications.RecordMilestone(token, milestone, userID); err != nil {
		h.logger.Error("milestone record failed", "token", token, "milestone", milestone, "error", err)
	}
	return nil
}

// prefEnabled resolves the user's opt-out for a notification type. A
// failed lookup sends anyway.
func (h *ProcessHandler) prefEnabled(userID int64, typeCode string) bool {
	enabled, err := h.users.IsPreferenceEnabled(userID, typeCode, model.ChannelDatabase)
	if err != nil {
		h.logger.Error("preference check failed, sending anyway", "user_id", userID, "type", typeCode, "error", err)
		return true
	}
	return enabled
}

// matchMilestone returns the first configured milestone within the margin
// of percent, or 0 when none matches.
func (h *ProcessHandler) matchMilestone(percent int) int {
	for _, m := range h.cfg.Milestones {
		diff := percent - m
		if diff < 0 {
			diff = -diff
		}
		if diff <= h.cfg.MilestoneMargin {
			return m
		}
	}
	return 0
}

// HandleResultsAvailable tells the owner their results can be downloaded.
// This always goes out regardless of preferences.
func (h *ProcessHandler) HandleResultsAvailable(ctx context.Context, userID int64, token, downloadURL string) error {
	if !processTokenPattern.MatchString(token) {
		return fmt.Errorf("%w: %q", ErrInvalidToken, token)
	}
	pctx := model.ContextMap(model.ProcessContext{
		ProcessToken: token,
		DownloadURL:  downloadURL,
		URL:          "/jobs/" + token,
		Timestamp:    h.now().Unix(),
	})
	_, err := h.engine.CreateNotification(ctx, userID, "Results Available",
		"Your results are ready. Download them before they expire.", model.TypeSuccess, pctx,
		[]model.Channel{model.ChannelDatabase, model.ChannelPush, model.ChannelEmail})
	if err != nil {
		h.logger.Error("results notification failed", "user_id", userID, "token", token, "error", err)
	}
	return nil
}

// HandleExpirationWarning warns the owner when their results expire within
// the configured window. Remaining time is measured in whole wall-clock
// hours; already-expired results produce no warning.
func (h *ProcessHandler) HandleExpirationWarning(ctx context.Context, userID int64, token string, expiresAt time.Time) error {
	if !processTokenPattern.MatchString(token) {
		return fmt.Errorf("%w: %q", ErrInvalidToken, token)
	}
	remaining := expiresAt.Sub(h.now())
	if remaining <= 0 {
		return nil
	}
	hours := int(remaining.Hours())
	if hours > h.cfg.ExpirationWarningHours {
		return nil
	}
	if !h.prefEnabled(userID, prefProcessExpiration) {
		return nil
	}

	pctx := model.ContextMap(model.ProcessContext{
		ProcessToken:   token,
		ExpiresAt:      expiresAt.UTC().Format(time.RFC3339),
		HoursRemaining: hours,
		URL:            "/jobs/" + token,
		Timestamp:      h.now().Unix(),
	})
	title := "Results Expiring Soon"
	message := fmt.Sprintf("Your results expire in %d hours. Download them now to keep them.", hours)
	if hours < 1 {
		message = "Your results expire in less than an hour. Download them now to keep them."
	}
	_, err := h.engine.CreateNotification(ctx, userID, title, message, model.TypeWarning, pctx,
		[]model.Channel{model.ChannelDatabase, model.ChannelPush})
	if err != nil {
		h.logger.Error("expiration warning failed", "user_id", userID, "token", token, "error", err)
	}
	return nil
}
