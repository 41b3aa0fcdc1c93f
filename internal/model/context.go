package model

import "encoding/json"

// Typed context variants carried by notifications. Each is flattened to an
// untyped map only at the persistence boundary; internal code passes the
// struct around so fields stay compile-time checked.

// PerformanceContext accompanies performance-type notifications.
type PerformanceContext struct {
	Metric          string   `json:"metric"`
	Value           float64  `json:"value"`
	Threshold       float64  `json:"threshold"`
	Component       string   `json:"component"`
	Severity        Severity `json:"severity"`
	PercentExceeded float64  `json:"percent_exceeded"`
	Timestamp       int64    `json:"timestamp"`
}

// ProcessContext accompanies async-process lifecycle notifications.
type ProcessContext struct {
	ProcessToken    string `json:"process_token"`
	OldStatus       string `json:"old_status,omitempty"`
	NewStatus       string `json:"new_status,omitempty"`
	Priority        string `json:"priority,omitempty"`
	ProcessType     string `json:"process_type,omitempty"`
	PercentComplete int    `json:"percent_complete,omitempty"`
	ExpiresAt       string `json:"expires_at,omitempty"`
	HoursRemaining  int    `json:"hours_remaining,omitempty"`
	DownloadURL     string `json:"download_url,omitempty"`
	URL             string `json:"url,omitempty"`
	Timestamp       int64  `json:"timestamp"`
}

// QueueContext accompanies print-queue lifecycle notifications.
type QueueContext struct {
	JobID         int64   `json:"job_id"`
	OldStatus     string  `json:"old_status,omitempty"`
	NewStatus     string  `json:"new_status,omitempty"`
	Priority      string  `json:"priority,omitempty"`
	ProductID     int64   `json:"product_id,omitempty"`
	ProductName   string  `json:"product_name,omitempty"`
	PrinterID     int64   `json:"printer_id,omitempty"`
	AdminID       int64   `json:"admin_id,omitempty"`
	RemainingMins float64 `json:"remaining_minutes,omitempty"`
	Notes         string  `json:"notes,omitempty"`
	URL           string  `json:"url,omitempty"`
}

// ContextMap flattens a typed context struct into the map form stored with
// the notification row. Returns nil when v is nil or cannot be marshaled.
func ContextMap(v any) map[string]any {
	if v == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}
