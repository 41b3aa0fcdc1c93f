package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/printforge/notify/internal/model"
	"github.com/printforge/notify/internal/push"
	"github.com/printforge/notify/internal/store"
)

type PushHandler struct {
	pushStore *store.PushStore
	userStore *store.UserStore
	service   *push.Service
	logger    *slog.Logger
}

func NewPushHandler(ps *store.PushStore, us *store.UserStore, svc *push.Service, logger *slog.Logger) *PushHandler {
	return &PushHandler{pushStore: ps, userStore: us, service: svc, logger: logger}
}

type subscribeRequest struct {
	Endpoint  string `json:"endpoint"`
	P256dh    string `json:"p256dh"`
	Auth      string `json:"auth"`
	UserAgent string `json:"user_agent"`
}

// Subscribe handles POST /api/push/subscribe
func (h *PushHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	userID, err := requestUserID(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "missing user")
		return
	}
	var req subscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Endpoint == "" || req.P256dh == "" || req.Auth == "" {
		writeError(w, http.StatusBadRequest, "endpoint, p256dh, and auth are required")
		return
	}

	id, err := h.pushStore.Register(userID, req.Endpoint, req.P256dh, req.Auth, req.UserAgent)
	if err != nil {
		h.logger.Error("register push subscription", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save subscription")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

type unsubscribeRequest struct {
	Endpoint string `json:"endpoint"`
}

// Unsubscribe handles POST /api/push/unsubscribe
func (h *PushHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	userID, err := requestUserID(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "missing user")
		return
	}
	var req unsubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	ok, err := h.pushStore.Unregister(userID, req.Endpoint)
	if err != nil {
		h.logger.Error("unregister push subscription", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to remove subscription")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "subscription not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListSubscriptions handles GET /api/push/subscriptions
func (h *PushHandler) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	userID, err := requestUserID(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "missing user")
		return
	}
	subs, err := h.pushStore.ListActive(userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list subscriptions")
		return
	}
	if subs == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	writeJSON(w, http.StatusOK, subs)
}

// GetVAPIDKey handles GET /api/push/vapid-key
func (h *PushHandler) GetVAPIDKey(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"public_key": h.service.VAPIDPublicKey()})
}

type preferenceRequest struct {
	TypeCode string `json:"type"`
	Channel  string `json:"channel"`
	Enabled  bool   `json:"enabled"`
}

// UpdatePreference handles PUT /api/preferences
func (h *PushHandler) UpdatePreference(w http.ResponseWriter, r *http.Request) {
	userID, err := requestUserID(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "missing user")
		return
	}
	var req preferenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	channel := model.Channel(req.Channel)
	if req.TypeCode == "" || !model.ValidChannel(channel) {
		writeError(w, http.StatusBadRequest, "type and a valid channel are required")
		return
	}
	if err := h.userStore.SetPreference(userID, req.TypeCode, channel, req.Enabled); err != nil {
		h.logger.Error("set preference", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update preference")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
