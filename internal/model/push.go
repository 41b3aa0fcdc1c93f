package model

import "time"

type PushSubscription struct {
	ID            int64      `json:"id"`
	UserID        int64      `json:"user_id"`
	Endpoint      string     `json:"endpoint"`
	P256dhKey     string     `json:"p256dh_key"`
	AuthKey       string     `json:"auth_key"`
	UserAgent     string     `json:"user_agent"`
	Active        bool       `json:"active"`
	FailureCount  int        `json:"failure_count"`
	LastFailureAt *time.Time `json:"last_failure_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	LastUsed      *time.Time `json:"last_used,omitempty"`
}

type NotificationPreference struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	TypeCode  string    `json:"type_code"`
	Channel   string    `json:"channel"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type User struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}
