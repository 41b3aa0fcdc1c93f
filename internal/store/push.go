package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/printforge/notify/internal/model"
)

// Subscriptions deactivate after this many consecutive delivery failures.
const maxPushFailures = 3

type PushStore struct {
	db *sql.DB
}

func NewPushStore(db *sql.DB) *PushStore {
	return &PushStore{db: db}
}

// Register stores or refreshes a push subscription. Re-registering an
// endpoint the user already has reactivates it and resets the failure
// counter.
func (s *PushStore) Register(userID int64, endpoint, p256dh, auth, userAgent string) (int64, error) {
	var id int64
	err := s.db.QueryRow(
		`SELECT id FROM push_subscriptions WHERE user_id = ? AND endpoint = ?`,
		userID, endpoint,
	).Scan(&id)
	switch {
	case err == sql.ErrNoRows:
		result, err := s.db.Exec(
			`INSERT INTO push_subscriptions (user_id, endpoint, p256dh_key, auth_key, user_agent)
			 VALUES (?, ?, ?, ?, ?)`,
			userID, endpoint, p256dh, auth, userAgent,
		)
		if err != nil {
			return 0, fmt.Errorf("insert push subscription: %w", err)
		}
		id, err = result.LastInsertId()
		if err != nil {
			return 0, fmt.Errorf("push subscription insert id: %w", err)
		}
		return id, nil
	case err != nil:
		return 0, fmt.Errorf("lookup push subscription: %w", err)
	}

	_, err = s.db.Exec(
		`UPDATE push_subscriptions
		 SET p256dh_key = ?, auth_key = ?, user_agent = ?, active = 1, failure_count = 0, last_failure_at = NULL
		 WHERE id = ?`,
		p256dh, auth, userAgent, id,
	)
	if err != nil {
		return 0, fmt.Errorf("refresh push subscription: %w", err)
	}
	return id, nil
}

// ListActive returns the user's active subscriptions.
func (s *PushStore) ListActive(userID int64) ([]model.PushSubscription, error) {
	rows, err := s.db.Query(
		`SELECT id, user_id, endpoint, p256dh_key, auth_key, user_agent, active, failure_count, last_failure_at, created_at, last_used
		 FROM push_subscriptions WHERE user_id = ? AND active = 1`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list push subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []model.PushSubscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scan push subscription: %w", err)
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}

func (s *PushStore) GetByID(id int64) (*model.PushSubscription, error) {
	row := s.db.QueryRow(
		`SELECT id, user_id, endpoint, p256dh_key, auth_key, user_agent, active, failure_count, last_failure_at, created_at, last_used
		 FROM push_subscriptions WHERE id = ?`, id,
	)
	sub, err := scanSubscription(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get push subscription: %w", err)
	}
	return sub, nil
}

// RecordOutcome updates a subscription after a delivery attempt. A success
// stamps last_used and leaves the failure counter alone; only
// re-registration resets it. A failure increments the counter and
// deactivates the subscription once it reaches the limit.
func (s *PushStore) RecordOutcome(id int64, success bool, now time.Time) error {
	if success {
		_, err := s.db.Exec(
			`UPDATE push_subscriptions SET last_used = ? WHERE id = ?`,
			now.UTC(), id,
		)
		if err != nil {
			return fmt.Errorf("record push success: %w", err)
		}
		return nil
	}
	_, err := s.db.Exec(
		`UPDATE push_subscriptions
		 SET failure_count = failure_count + 1,
		     last_failure_at = ?,
		     active = CASE WHEN failure_count + 1 >= ? THEN 0 ELSE active END
		 WHERE id = ?`,
		now.UTC(), maxPushFailures, id,
	)
	if err != nil {
		return fmt.Errorf("record push failure: %w", err)
	}
	return nil
}

// Deactivate turns off a subscription immediately, for endpoints the push
// service reports as expired.
func (s *PushStore) Deactivate(id int64) error {
	_, err := s.db.Exec(`UPDATE push_subscriptions SET active = 0 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deactivate push subscription: %w", err)
	}
	return nil
}

// Unregister deactivates the user's subscription for an endpoint. Returns
// false when the user had no such subscription.
func (s *PushStore) Unregister(userID int64, endpoint string) (bool, error) {
	result, err := s.db.Exec(
		`UPDATE push_subscriptions SET active = 0 WHERE user_id = ? AND endpoint = ?`,
		userID, endpoint,
	)
	if err != nil {
		return false, fmt.Errorf("unregister push subscription: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("unregister push subscription rows: %w", err)
	}
	return affected > 0, nil
}

// LogDelivery appends one push delivery attempt to the audit log.
func (s *PushStore) LogDelivery(userID, subscriptionID int64, notificationID *int64, success bool) error {
	_, err := s.db.Exec(
		`INSERT INTO push_delivery_log (user_id, subscription_id, notification_id, success)
		 VALUES (?, ?, ?, ?)`,
		userID, subscriptionID, notificationID, boolToInt(success),
	)
	if err != nil {
		return fmt.Errorf("log push delivery: %w", err)
	}
	return nil
}

func scanSubscription(row rowScanner) (*model.PushSubscription, error) {
	var sub model.PushSubscription
	var active int
	var lastFailure, lastUsed sql.NullTime
	err := row.Scan(&sub.ID, &sub.UserID, &sub.Endpoint, &sub.P256dhKey, &sub.AuthKey, &sub.UserAgent,
		&active, &sub.FailureCount, &lastFailure, &sub.CreatedAt, &lastUsed)
	if err != nil {
		return nil, err
	}
	sub.Active = active != 0
	if lastFailure.Valid {
		t := lastFailure.Time
		sub.LastFailureAt = &t
	}
	if lastUsed.Valid {
		t := lastUsed.Time
		sub.LastUsed = &t
	}
	return &sub, nil
}
