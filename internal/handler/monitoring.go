package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/printforge/notify/internal/model"
	"github.com/printforge/notify/internal/notify"
	"github.com/printforge/notify/internal/store"
	"github.com/printforge/notify/internal/threshold"
)

type MonitoringHandler struct {
	engine     *notify.Engine
	thresholds *threshold.Cache
	alerts     *store.AlertStore
	logger     *slog.Logger
}

func NewMonitoringHandler(engine *notify.Engine, tc *threshold.Cache, as *store.AlertStore, logger *slog.Logger) *MonitoringHandler {
	return &MonitoringHandler{engine: engine, thresholds: tc, alerts: as, logger: logger}
}

// ListThresholds handles GET /api/monitoring/thresholds
func (h *MonitoringHandler) ListThresholds(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.thresholds.All())
}

type thresholdRequest struct {
	Metric      string  `json:"metric"`
	Value       float64 `json:"value"`
	Operator    string  `json:"operator"`
	Description string  `json:"description"`
}

// UpsertThreshold handles PUT /api/monitoring/thresholds
func (h *MonitoringHandler) UpsertThreshold(w http.ResponseWriter, r *http.Request) {
	var req thresholdRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Metric == "" {
		writeError(w, http.StatusBadRequest, "metric is required")
		return
	}
	if err := h.thresholds.Upsert(req.Metric, req.Value, model.Operator(req.Operator), req.Description); err != nil {
		h.logger.Error("upsert threshold", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save threshold")
		return
	}
	writeJSON(w, http.StatusOK, h.thresholds.Get(req.Metric))
}

// DisableThreshold handles DELETE /api/monitoring/thresholds/{metric}
func (h *MonitoringHandler) DisableThreshold(w http.ResponseWriter, r *http.Request) {
	metric := r.PathValue("metric")
	ok, err := h.thresholds.Disable(metric)
	if err != nil {
		h.logger.Error("disable threshold", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to disable threshold")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "threshold not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type metricsRequest struct {
	Component string             `json:"component"`
	Metrics   map[string]float64 `json:"metrics"`
}

// RecordMetrics handles POST /api/monitoring/metrics
func (h *MonitoringHandler) RecordMetrics(w http.ResponseWriter, r *http.Request) {
	var req metricsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(req.Metrics) == 0 {
		writeError(w, http.StatusBadRequest, "metrics are required")
		return
	}
	if err := h.engine.RecordPerformanceMetrics(r.Context(), req.Component, req.Metrics); err != nil {
		h.logger.Error("record metrics", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to record metrics")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]int{"recorded": len(req.Metrics)})
}

// LatestMetrics handles GET /api/monitoring/metrics/latest
func (h *MonitoringHandler) LatestMetrics(w http.ResponseWriter, r *http.Request) {
	samples, err := h.thresholds.Store().LatestMetrics()
	if err != nil {
		h.logger.Error("latest metrics", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read metrics")
		return
	}
	if samples == nil {
		samples = []model.MetricSample{}
	}
	writeJSON(w, http.StatusOK, samples)
}

// ActiveAlerts handles GET /api/monitoring/alerts
func (h *MonitoringHandler) ActiveAlerts(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	alerts, err := h.alerts.ActiveAlerts(limit)
	if err != nil {
		h.logger.Error("active alerts", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list alerts")
		return
	}
	if alerts == nil {
		alerts = []model.PerformanceAlert{}
	}
	writeJSON(w, http.StatusOK, alerts)
}

// AlertHistory handles GET /api/monitoring/alerts/history
func (h *MonitoringHandler) AlertHistory(w http.ResponseWriter, r *http.Request) {
	days := queryInt(r, "days", 7)
	if days < 1 {
		days = 1
	}
	limit := queryInt(r, "limit", 100)
	alerts, err := h.alerts.History(time.Now().AddDate(0, 0, -days), limit)
	if err != nil {
		h.logger.Error("alert history", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list alert history")
		return
	}
	if alerts == nil {
		alerts = []model.PerformanceAlert{}
	}
	writeJSON(w, http.StatusOK, alerts)
}

type resolveRequest struct {
	Resolution string `json:"resolution"`
}

// ResolveAlert handles POST /api/monitoring/alerts/{id}/resolve
// The id is the performance notification behind the alert.
func (h *MonitoringHandler) ResolveAlert(w http.ResponseWriter, r *http.Request) {
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
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	ok, err := h.engine.ResolvePerformanceAlert(id, userID, req.Resolution)
	if err != nil {
		h.logger.Error("resolve alert", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to resolve alert")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "no unresolved alert for this notification")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type silenceRequest struct {
	Metric    string  `json:"metric"`
	Component *string `json:"component"`
	Minutes   int     `json:"minutes"`
}

// Silence handles POST /api/monitoring/silence
func (h *MonitoringHandler) Silence(w http.ResponseWriter, r *http.Request) {
	userID, err := requestUserID(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "missing user")
		return
	}
	var req silenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Metric == "" {
		writeError(w, http.StatusBadRequest, "metric is required")
		return
	}
	expiresAt, err := h.engine.SilenceMetric(req.Metric, req.Component, &userID, time.Duration(req.Minutes)*time.Minute)
	if err != nil {
		h.logger.Error("silence metric", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to silence metric")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"expires_at": expiresAt.UTC().Format(time.RFC3339)})
}

// Unsilence handles DELETE /api/monitoring/silence/{metric}
func (h *MonitoringHandler) Unsilence(w http.ResponseWriter, r *http.Request) {
	metric := r.PathValue("metric")
	removed, err := h.engine.UnsilenceMetric(metric)
	if err != nil {
		h.logger.Error("unsilence metric", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to unsilence metric")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"removed": removed})
}
