package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/printforge/notify/internal/model"
	"github.com/printforge/notify/internal/notify"
	"github.com/printforge/notify/internal/store"
)

// Admin escalation kicks in at this job priority.
const highPriorityThreshold = 8

// QueueHandler reacts to print queue lifecycle events.
type QueueHandler struct {
	engine *notify.Engine
	users  *store.UserStore
	logger *slog.Logger
	now    func() time.Time
}

func NewQueueHandler(engine *notify.Engine, us *store.UserStore, logger *slog.Logger) *QueueHandler {
	return &QueueHandler{
		engine: engine,
		users:  us,
		logger: logger.With("component", "queue_events"),
		now:    time.Now,
	}
}

type queueStatusInfo struct {
	title    string
	message  string
	typ      model.NotificationType
	forced   bool
	channels []model.Channel
}

var queueStatuses = map[string]queueStatusInfo{
	"pending": {
		title:    "Print Job Received",
		message:  "Your print job %q has been received and is awaiting confirmation.",
		typ:      model.TypeInfo,
		channels: []model.Channel{model.ChannelDatabase},
	},
	"confirmed": {
		title:    "Print Job Confirmed",
		message:  "Your print job %q has been confirmed and added to the queue.",
		typ:      model.TypeInfo,
		channels: []model.Channel{model.ChannelDatabase},
	},
	"queued": {
		title:    "Print Job Queued",
		message:  "Your print job %q is in the queue and will start soon.",
		typ:      model.TypeInfo,
		channels: []model.Channel{model.ChannelDatabase},
	},
	"preparing": {
		title:    "Printer Being Prepared",
		message:  "The printer is being prepared for your job %q.",
		typ:      model.TypeInfo,
		channels: []model.Channel{model.ChannelDatabase},
	},
	"printing": {
		title:    "Printing Started",
		message:  "Your job %q is now printing.",
		typ:      model.TypeInfo,
		channels: []model.Channel{model.ChannelDatabase, model.ChannelPush},
	},
	"paused": {
		title:    "Print Job Paused",
		message:  "Your job %q was paused. It will resume automatically.",
		typ:      model.TypeWarning,
		channels: []model.Channel{model.ChannelDatabase},
	},
	"completed": {
		title:    "Print Completed",
		message:  "Your job %q finished printing and is ready for pickup or shipping.",
		typ:      model.TypeSuccess,
		forced:   true,
		channels: []model.Channel{model.ChannelDatabase, model.ChannelPush, model.ChannelEmail},
	},
	"failed": {
		title:    "Print Failed",
		message:  "Your job %q failed during printing. Our team has been notified and will restart it.",
		typ:      model.TypeError,
		forced:   true,
		channels: []model.Channel{model.ChannelDatabase, model.ChannelPush, model.ChannelEmail},
	},
	"cancelled": {
		title:    "Print Job Cancelled",
		message:  "Your job %q was cancelled.",
		typ:      model.TypeWarning,
		channels: []model.Channel{model.ChannelDatabase},
	},
	"shipped": {
		title:    "Print Job Shipped",
		message:  "Your job %q has been shipped.",
		typ:      model.TypeSuccess,
		channels: []model.Channel{model.ChannelDatabase, model.ChannelPush},
	},
}

// HandleJobStatusChange notifies a job's owner about a status transition.
// Opt-outs apply except for terminal statuses. A failed job additionally
// alerts the admins.
func (h *QueueHandler) HandleJobStatusChange(ctx context.Context, userID, jobID int64, productName, oldStatus, newStatus string) error {
	info, ok := queueStatuses[newStatus]
	if !ok {
		h.logger.Debug("ignoring unknown queue status", "status", newStatus)
		return nil
	}
	exists, err := h.users.Exists(userID)
	if err != nil {
		return fmt.Errorf("check user: %w", err)
	}
	if !exists {
		h.logger.Warn("queue event for unknown user", "user_id", userID, "job_id", jobID)
		return nil
	}

	if !info.forced {
		enabled, err := h.users.IsPreferenceEnabled(userID, prefQueueStatus, model.ChannelDatabase)
		if err != nil {
			h.logger.Error("preference check failed, sending anyway", "user_id", userID, "error", err)
		} else if !enabled {
			return nil
		}
	}

	qctx := model.ContextMap(model.QueueContext{
		JobID:       jobID,
		OldStatus:   oldStatus,
		NewStatus:   newStatus,
		ProductName: productName,
		URL:         fmt.Sprintf("/queue/%d", jobID),
	})
	message := fmt.Sprintf(info.message, productName)
	if _, err := h.engine.CreateNotification(ctx, userID, info.title, message, info.typ, qctx, info.channels); err != nil {
		h.logger.Error("queue status notification failed", "user_id", userID, "job_id", jobID, "error", err)
	}

	if newStatus == "failed" {
		h.alertAdminsOnFailure(ctx, userID, jobID, productName)
	}
	return nil
}

func (h *QueueHandler) alertAdminsOnFailure(ctx context.Context, userID, jobID int64, productName string) {
	admins, err := h.users.ListIDsByRole("admin")
	if err != nil {
		h.logger.Error("list admins failed", "error", err)
		return
	}
	qctx := model.ContextMap(model.QueueContext{
		JobID:       jobID,
		NewStatus:   "failed",
		ProductName: productName,
		URL:         fmt.Sprintf("/admin/queue/%d", jobID),
	})
	title := "Print Job Failure"
	message := fmt.Sprintf("Print job #%d (%s) of user %d failed and needs attention.", jobID, productName, userID)
	for _, adminID := range admins {
		if _, err := h.engine.CreateNotification(ctx, adminID, title, message, model.TypeError, qctx,
			[]model.Channel{model.ChannelDatabase, model.ChannelPush}); err != nil {
			h.logger.Error("admin failure alert failed", "admin_id", adminID, "error", err)
		}
	}
}

// HandlePrinterAssignment tells the owner their job got a printer slot.
func (h *QueueHandler) HandlePrinterAssignment(ctx context.Context, userID, jobID, printerID int64, productName string) error {
	exists, err := h.users.Exists(userID)
	if err != nil {
		return fmt.Errorf("check user: %w", err)
	}
	if !exists {
		return nil
	}
	qctx := model.ContextMap(model.QueueContext{
		JobID:       jobID,
		PrinterID:   printerID,
		ProductName: productName,
		URL:         fmt.Sprintf("/queue/%d", jobID),
	})
	title := "Printer Assigned"
	message := fmt.Sprintf("Your job %q was assigned to printer #%d and will start soon.", productName, printerID)
	if _, err := h.engine.CreateNotification(ctx, userID, title, message, model.TypeInfo, qctx,
		[]model.Channel{model.ChannelDatabase}); err != nil {
		h.logger.Error("printer assignment notification failed", "user_id", userID, "job_id", jobID, "error", err)
	}
	return nil
}

// HandleCompletionReminder notifies the owner of a printing job how much
// time remains. Jobs in any other state are skipped.
func (h *QueueHandler) HandleCompletionReminder(ctx context.Context, userID, jobID int64, productName, status string, remainingMins float64) error {
	if status != "printing" {
		return nil
	}
	exists, err := h.users.Exists(userID)
	if err != nil {
		return fmt.Errorf("check user: %w", err)
	}
	if !exists {
		return nil
	}
	qctx := model.ContextMap(model.QueueContext{
		JobID:         jobID,
		NewStatus:     status,
		ProductName:   productName,
		RemainingMins: remainingMins,
		URL:           fmt.Sprintf("/queue/%d", jobID),
	})
	title := "Print Almost Done"
	message := fmt.Sprintf("Your job %q finishes in about %s.", productName, formatRemainingTime(remainingMins))
	if _, err := h.engine.CreateNotification(ctx, userID, title, message, model.TypeInfo, qctx,
		[]model.Channel{model.ChannelDatabase, model.ChannelPush}); err != nil {
		h.logger.Error("completion reminder failed", "user_id", userID, "job_id", jobID, "error", err)
	}
	return nil
}

// NotifyHighPriorityItem escalates high-priority jobs to the admins so
// they can expedite them. Jobs below the threshold are ignored.
func (h *QueueHandler) NotifyHighPriorityItem(ctx context.Context, jobID int64, productName string, priority int) error {
	if priority < highPriorityThreshold {
		return nil
	}
	admins, err := h.users.ListIDsByRole("admin")
	if err != nil {
		return fmt.Errorf("list admins: %w", err)
	}
	qctx := model.ContextMap(model.QueueContext{
		JobID:       jobID,
		ProductName: productName,
		Priority:    fmt.Sprintf("%d", priority),
		URL:         fmt.Sprintf("/admin/queue/%d", jobID),
	})
	title := "High Priority Print Job"
	message := fmt.Sprintf("Job #%d (%s) entered the queue with priority %d and should be expedited.", jobID, productName, priority)
	for _, adminID := range admins {
		if _, err := h.engine.CreateNotification(ctx, adminID, title, message, model.TypeWarning, qctx,
			[]model.Channel{model.ChannelDatabase, model.ChannelPush}); err != nil {
			h.logger.Error("high priority alert failed", "admin_id", adminID, "error", err)
		}
	}
	return nil
}

// formatRemainingTime renders a minute count the way people say it.
func formatRemainingTime(mins float64) string {
	if mins < 1 {
		return "less than a minute"
	}
	whole := int(mins)
	if whole < 60 {
		if whole == 1 {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", whole)
	}
	hours := whole / 60
	rem := whole % 60
	if rem == 0 {
		if hours == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", hours)
	}
	return fmt.Sprintf("%dh %dm", hours, rem)
}
