package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/printforge/notify/internal/model"
)

type NotificationStore struct {
	db *sql.DB
}

func NewNotificationStore(db *sql.DB) *NotificationStore {
	return &NotificationStore{db: db}
}

// Create inserts a notification row with status unread. Context and channels
// arrive pre-serialized; validation happens in the engine.
func (s *NotificationStore) Create(userID int64, title, message string, typ model.NotificationType, contextJSON *string, channelsJSON string) (int64, error) {
	result, err := s.db.Exec(
		`INSERT INTO notifications (user_id, title, message, type, context, channels, status)
		 VALUES (?, ?, ?, ?, ?, ?, 'unread')`,
		userID, title, message, string(typ), contextJSON, channelsJSON,
	)
	if err != nil {
		return 0, fmt.Errorf("create notification: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("notification insert id: %w", err)
	}
	return id, nil
}

func (s *NotificationStore) GetByID(id, userID int64) (*model.Notification, error) {
	row := s.db.QueryRow(
		`SELECT id, user_id, title, message, type, context, channels, status, created_at, read_at
		 FROM notifications WHERE id = ? AND user_id = ?`, id, userID,
	)
	n, err := scanNotification(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get notification: %w", err)
	}
	return n, nil
}

// MarkAsRead flips an owned unread notification to read. Returns false when
// the row is missing, owned by someone else, or already read.
func (s *NotificationStore) MarkAsRead(id, userID int64, now time.Time) (bool, error) {
	result, err := s.db.Exec(
		`UPDATE notifications SET status = 'read', read_at = ?
		 WHERE id = ? AND user_id = ? AND status = 'unread'`,
		now.UTC(), id, userID,
	)
	if err != nil {
		return false, fmt.Errorf("mark notification read: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark notification read rows: %w", err)
	}
	return affected > 0, nil
}

// MarkAllAsRead marks every unread notification of the user as read and
// returns how many rows changed.
func (s *NotificationStore) MarkAllAsRead(userID int64, now time.Time) (int64, error) {
	result, err := s.db.Exec(
		`UPDATE notifications SET status = 'read', read_at = ?
		 WHERE user_id = ? AND status = 'unread'`,
		now.UTC(), userID,
	)
	if err != nil {
		return 0, fmt.Errorf("mark all notifications read: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mark all notifications read rows: %w", err)
	}
	return affected, nil
}

// ListByUser returns a newest-first page of the user's notifications.
// Status must be "all", "unread", or "read".
func (s *NotificationStore) ListByUser(userID int64, status string, limit, offset int) ([]model.Notification, error) {
	query := `SELECT id, user_id, title, message, type, context, channels, status, created_at, read_at
	          FROM notifications WHERE user_id = ?`
	args := []any{userID}
	if status != "all" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var notifications []model.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		notifications = append(notifications, *n)
	}
	return notifications, rows.Err()
}

func (s *NotificationStore) CountUnread(userID int64) (int, error) {
	var count int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM notifications WHERE user_id = ? AND status = 'unread'`, userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return count, nil
}

// Delete removes a notification owned by the user. Returns false when no
// row matched.
func (s *NotificationStore) Delete(id, userID int64) (bool, error) {
	result, err := s.db.Exec(`DELETE FROM notifications WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return false, fmt.Errorf("delete notification: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete notification rows: %w", err)
	}
	return affected > 0, nil
}

// Stats aggregates notification counts per period. Period must be "day",
// "week", or "month".
func (s *NotificationStore) Stats(period string, limit int) ([]model.StatBucket, error) {
	var groupBy string
	switch period {
	case "week":
		groupBy = `strftime('%Y-%W', created_at)`
	case "month":
		groupBy = `strftime('%Y-%m', created_at)`
	default:
		groupBy = `strftime('%Y-%m-%d', created_at)`
	}

	rows, err := s.db.Query(fmt.Sprintf(
		`SELECT %s AS period,
		        COUNT(*) AS total,
		        SUM(CASE WHEN type = 'info' THEN 1 ELSE 0 END),
		        SUM(CASE WHEN type = 'warning' THEN 1 ELSE 0 END),
		        SUM(CASE WHEN type = 'success' THEN 1 ELSE 0 END),
		        SUM(CASE WHEN type = 'error' THEN 1 ELSE 0 END),
		        SUM(CASE WHEN type = 'performance' THEN 1 ELSE 0 END)
		 FROM notifications
		 GROUP BY period
		 ORDER BY period DESC
		 LIMIT ?`, groupBy), limit)
	if err != nil {
		return nil, fmt.Errorf("notification stats: %w", err)
	}
	defer rows.Close()

	var buckets []model.StatBucket
	for rows.Next() {
		var b model.StatBucket
		if err := rows.Scan(&b.Period, &b.Total, &b.Info, &b.Warning, &b.Success, &b.Error, &b.Performance); err != nil {
			return nil, fmt.Errorf("scan stat bucket: %w", err)
		}
		buckets = append(buckets, b)
	}
	return buckets, rows.Err()
}

// CleanupBefore deletes notifications created before the cutoff, retaining
// performance notifications whose dashboard alert is still unresolved.
func (s *NotificationStore) CleanupBefore(cutoff time.Time) (int64, error) {
	// created_at defaults to CURRENT_TIMESTAMP, so compare in the same
	// 'YYYY-MM-DD HH:MM:SS' text form.
	result, err := s.db.Exec(
		`DELETE FROM notifications
		 WHERE created_at < ?
		   AND (type != 'performance' OR id IN (
		        SELECT notification_id FROM performance_dashboard WHERE resolved = 1))`,
		cutoff.UTC().Format("2006-01-02 15:04:05"),
	)
	if err != nil {
		return 0, fmt.Errorf("cleanup notifications: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("cleanup notifications rows: %w", err)
	}
	return affected, nil
}

// RecordDelivery logs a delivery attempt outcome for a channel.
func (s *NotificationStore) RecordDelivery(notificationID int64, channel model.Channel, success bool, detail string) error {
	_, err := s.db.Exec(
		`INSERT INTO notification_deliveries (notification_id, channel, success, detail)
		 VALUES (?, ?, ?, ?)`,
		notificationID, string(channel), boolToInt(success), detail,
	)
	if err != nil {
		return fmt.Errorf("record delivery: %w", err)
	}
	return nil
}

// RecordMilestone records that a progress milestone notification was sent
// for a process. Duplicate milestones are ignored.
func (s *NotificationStore) RecordMilestone(processToken string, milestone int, userID int64) error {
	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO sent_milestones (process_token, milestone, user_id)
		 VALUES (?, ?, ?)`,
		processToken, milestone, userID,
	)
	if err != nil {
		return fmt.Errorf("record milestone: %w", err)
	}
	return nil
}

// MilestoneSent checks whether a milestone notification already went out
// for the process.
func (s *NotificationStore) MilestoneSent(processToken string, milestone int) (bool, error) {
	var count int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM sent_milestones WHERE process_token = ? AND milestone = ?`,
		processToken, milestone,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check milestone: %w", err)
	}
	return count > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNotification(row rowScanner) (*model.Notification, error) {
	var n model.Notification
	var typ string
	var contextJSON sql.NullString
	var channelsJSON string
	var readAt sql.NullTime
	if err := row.Scan(&n.ID, &n.UserID, &n.Title, &n.Message, &typ, &contextJSON, &channelsJSON, &n.Status, &n.CreatedAt, &readAt); err != nil {
		return nil, err
	}
	n.Type = model.NotificationType(typ)
	if readAt.Valid {
		t := readAt.Time
		n.ReadAt = &t
	}
	if contextJSON.Valid && contextJSON.String != "" {
		// Corrupt stored context degrades to nil rather than failing the read.
		var ctx map[string]any
		if err := json.Unmarshal([]byte(contextJSON.String), &ctx); err == nil {
			n.Context = ctx
		}
	}
	var channels []model.Channel
	if err := json.Unmarshal([]byte(channelsJSON), &channels); err == nil {
		n.Channels = channels
	}
	return &n, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
