package model

import "time"

// NotificationType classifies a notification for display and routing.
type NotificationType string

const (
	TypeInfo        NotificationType = "info"
	TypeWarning     NotificationType = "warning"
	TypeSuccess     NotificationType = "success"
	TypeError       NotificationType = "error"
	TypePerformance NotificationType = "performance"
)

// ValidType reports whether t is one of the known notification types.
func ValidType(t NotificationType) bool {
	switch t {
	case TypeInfo, TypeWarning, TypeSuccess, TypeError, TypePerformance:
		return true
	}
	return false
}

// Channel is a delivery medium for a notification.
type Channel string

const (
	ChannelDatabase  Channel = "database"
	ChannelPush      Channel = "push"
	ChannelEmail     Channel = "email"
	ChannelDashboard Channel = "dashboard"
)

// ValidChannel reports whether c is one of the known delivery channels.
func ValidChannel(c Channel) bool {
	switch c {
	case ChannelDatabase, ChannelPush, ChannelEmail, ChannelDashboard:
		return true
	}
	return false
}

// Notification status values. The unread → read transition is monotonic.
const (
	StatusUnread = "unread"
	StatusRead   = "read"
)

type Notification struct {
	ID        int64            `json:"id"`
	UserID    int64            `json:"user_id"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	Type      NotificationType `json:"type"`
	Context   map[string]any   `json:"context,omitempty"`
	Channels  []Channel        `json:"channels"`
	Status    string           `json:"status"`
	CreatedAt time.Time        `json:"created_at"`
	ReadAt    *time.Time       `json:"read_at,omitempty"`
}

// StatBucket is one row of aggregated notification counts for a period.
type StatBucket struct {
	Period      string `json:"period"`
	Total       int    `json:"total"`
	Info        int    `json:"info"`
	Warning     int    `json:"warning"`
	Success     int    `json:"success"`
	Error       int    `json:"error"`
	Performance int    `json:"performance"`
}

// PerformanceAlert is a dashboard entry linked to a performance notification.
// It is resolved exactly once; unresolved alerts survive retention cleanup.
type PerformanceAlert struct {
	ID             int64      `json:"id"`
	NotificationID int64      `json:"notification_id"`
	Metric         string     `json:"metric"`
	Value          float64    `json:"value"`
	Threshold      float64    `json:"threshold"`
	Component      string     `json:"component"`
	Severity       Severity   `json:"severity"`
	Resolved       bool       `json:"resolved"`
	ResolvedBy     *int64     `json:"resolved_by,omitempty"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
	Resolution     string     `json:"resolution,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// AlertLogEntry is one audit row from the performance alert log.
type AlertLogEntry struct {
	ID        int64          `json:"id"`
	Metric    string         `json:"metric"`
	Value     float64        `json:"value"`
	Component string         `json:"component"`
	Severity  Severity       `json:"severity"`
	Context   map[string]any `json:"context,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// SilencingRule suppresses alerts for a metric until it expires. A nil
// component silences the metric globally.
type SilencingRule struct {
	ID        int64     `json:"id"`
	Metric    string    `json:"metric"`
	Component *string   `json:"component,omitempty"`
	CreatedBy *int64    `json:"created_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}
