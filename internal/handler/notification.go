package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/printforge/notify/internal/model"
	"github.com/printforge/notify/internal/notify"
)

type NotificationHandler struct {
	engine *notify.Engine
	logger *slog.Logger
}

func NewNotificationHandler(engine *notify.Engine, logger *slog.Logger) *NotificationHandler {
	return &NotificationHandler{engine: engine, logger: logger}
}

// List handles GET /api/notifications
func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, err := requestUserID(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "missing user")
		return
	}
	status := r.URL.Query().Get("status")
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	notifications, err := h.engine.List(userID, status, limit, offset)
	if err != nil {
		h.logger.Error("list notifications", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list notifications")
		return
	}
	if notifications == nil {
		notifications = []model.Notification{}
	}
	writeJSON(w, http.StatusOK, notifications)
}

// UnreadCount handles GET /api/notifications/unread-count
func (h *NotificationHandler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	userID, err := requestUserID(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "missing user")
		return
	}
	count, err := h.engine.CountUnread(userID)
	if err != nil {
		h.logger.Error("count unread", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to count notifications")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"unread": count})
}

type createRequest struct {
	UserID   int64           `json:"user_id"`
	Title    string          `json:"title"`
	Message  string          `json:"message"`
	Type     string          `json:"type"`
	Context  map[string]any  `json:"context"`
	Channels []model.Channel `json:"channels"`
}

// Create handles POST /api/notifications
func (h *NotificationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	n, err := h.engine.CreateNotification(r.Context(), req.UserID, req.Title, req.Message,
		model.NotificationType(req.Type), req.Context, req.Channels)
	if err != nil {
		switch {
		case errors.Is(err, notify.ErrTitleRequired),
			errors.Is(err, notify.ErrTitleTooLong),
			errors.Is(err, notify.ErrMessageRequired),
			errors.Is(err, notify.ErrUnknownUser):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			h.logger.Error("create notification", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to create notification")
		}
		return
	}
	writeJSON(w, http.StatusCreated, n)
}

type systemRequest struct {
	Title   string   `json:"title"`
	Message string   `json:"message"`
	Type    string   `json:"type"`
	Roles   []string `json:"roles"`
}

// CreateSystem handles POST /api/notifications/system
func (h *NotificationHandler) CreateSystem(w http.ResponseWriter, r *http.Request) {
	var req systemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	created, err := h.engine.CreateSystemNotification(r.Context(), req.Title, req.Message,
		model.NotificationType(req.Type), req.Roles)
	if err != nil {
		h.logger.Error("create system notification", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create system notification")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int{"created": created})
}

// MarkRead handles POST /api/notifications/{id}/read
func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID, err := requestUserID(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "missing user")
		return
	}
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	ok, err := h.engine.MarkAsRead(id, userID)
	if err != nil {
		h.logger.Error("mark read", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update notification")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "notification not found or already read")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// MarkAllRead handles POST /api/notifications/read-all
func (h *NotificationHandler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	userID, err := requestUserID(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "missing user")
		return
	}
	affected, err := h.engine.MarkAllAsRead(userID)
	if err != nil {
		h.logger.Error("mark all read", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update notifications")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"updated": affected})
}

// Delete handles DELETE /api/notifications/{id}
func (h *NotificationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, err := requestUserID(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "missing user")
		return
	}
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	ok, err := h.engine.Delete(id, userID)
	if err != nil {
		h.logger.Error("delete notification", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete notification")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "notification not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Stats handles GET /api/notifications/stats
func (h *NotificationHandler) Stats(w http.ResponseWriter, r *http.Request) {
	period := r.URL.Query().Get("period")
	limit := queryInt(r, "limit", 30)

	buckets, err := h.engine.Stats(period, limit)
	if err != nil {
		h.logger.Error("notification stats", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to compute stats")
		return
	}
	if buckets == nil {
		buckets = []model.StatBucket{}
	}
	writeJSON(w, http.StatusOK, buckets)
}
