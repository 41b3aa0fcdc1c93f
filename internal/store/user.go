package store

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/printforge/notify/internal/model"
)

type UserStore struct {
	db *sql.DB
}

func NewUserStore(db *sql.DB) *UserStore {
	return &UserStore{db: db}
}

func (s *UserStore) Create(name, email, role string) (int64, error) {
	result, err := s.db.Exec(
		`INSERT INTO users (name, email, role) VALUES (?, ?, ?)`,
		name, email, role,
	)
	if err != nil {
		return 0, fmt.Errorf("create user: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("user insert id: %w", err)
	}
	return id, nil
}

func (s *UserStore) Exists(userID int64) (bool, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM users WHERE id = ?`, userID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check user exists: %w", err)
	}
	return count > 0, nil
}

// Email returns the user's email address, or "" when the user is missing
// or has no address on file.
func (s *UserStore) Email(userID int64) (string, error) {
	var email string
	err := s.db.QueryRow(`SELECT email FROM users WHERE id = ?`, userID).Scan(&email)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("user email: %w", err)
	}
	return email, nil
}

func (s *UserStore) Get(userID int64) (*model.User, error) {
	var u model.User
	err := s.db.QueryRow(
		`SELECT id, name, email, role, created_at FROM users WHERE id = ?`, userID,
	).Scan(&u.ID, &u.Name, &u.Email, &u.Role, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

// ListIDsByRole returns the ids of all users holding any of the roles.
func (s *UserStore) ListIDsByRole(roles ...string) ([]int64, error) {
	if len(roles) == 0 {
		return nil, nil
	}
	placeholders := strings.Repeat("?,", len(roles))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(roles))
	for i, r := range roles {
		args[i] = r
	}

	rows, err := s.db.Query(
		`SELECT id FROM users WHERE role IN (`+placeholders+`) ORDER BY id`, args...,
	)
	if err != nil {
		return nil, fmt.Errorf("list users by role: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// IsPreferenceEnabled reports whether the user accepts notifications of the
// given type on the given channel. Users are opted in by default; only an
// explicit disabled row opts them out.
func (s *UserStore) IsPreferenceEnabled(userID int64, typeCode string, channel model.Channel) (bool, error) {
	var enabled int
	err := s.db.QueryRow(
		`SELECT enabled FROM notification_preferences
		 WHERE user_id = ? AND type_code = ? AND channel = ?`,
		userID, typeCode, string(channel),
	).Scan(&enabled)
	if err == sql.ErrNoRows {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("check preference: %w", err)
	}
	return enabled != 0, nil
}

// SetPreference records an explicit opt-in or opt-out.
func (s *UserStore) SetPreference(userID int64, typeCode string, channel model.Channel, enabled bool) error {
	_, err := s.db.Exec(
		`INSERT INTO notification_preferences (user_id, type_code, channel, enabled)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(user_id, type_code, channel) DO UPDATE SET
		     enabled = excluded.enabled,
		     updated_at = CURRENT_TIMESTAMP`,
		userID, typeCode, string(channel), boolToInt(enabled),
	)
	if err != nil {
		return fmt.Errorf("set preference: %w", err)
	}
	return nil
}
