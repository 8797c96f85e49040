package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"trainhub/internal/models"
)

const taskColumns = `id, task_type, booking_id, payload, status, retry_count, last_error, created_at, processed_at, next_retry_at`

func (db *DB) CreateNotificationTask(ctx context.Context, task *models.NotificationTask) error {
	query := `INSERT INTO notification_queue (task_type, booking_id, payload, status, retry_count, last_error, created_at, next_retry_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	if task.Status == "" {
		task.Status = models.TaskStatusPending
	}
	now := time.Now().UTC()
	result, err := db.ExecContext(ctx, query,
		task.TaskType,
		task.BookingID,
		task.Payload,
		task.Status,
		task.RetryCount,
		task.LastError,
		now,
		task.NextRetryAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create notification task: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	task.ID = id
	task.CreatedAt = now

	return nil
}

func (db *DB) GetNotificationTask(ctx context.Context, id int64) (*models.NotificationTask, error) {
	query := `SELECT ` + taskColumns + ` FROM notification_queue WHERE id = ?`
	t, err := scanTask(db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("failed to get notification task: %w", err)
	}
	return t, nil
}

// GetPendingNotificationTasks returns due tasks oldest first.
func (db *DB) GetPendingNotificationTasks(ctx context.Context, limit int) ([]models.NotificationTask, error) {
	query := `SELECT ` + taskColumns + ` FROM notification_queue
              WHERE status IN (?, ?) AND (next_retry_at IS NULL OR next_retry_at <= ?)
              ORDER BY created_at ASC LIMIT ?`
	rows, err := db.QueryContext(ctx, query, models.TaskStatusPending, models.TaskStatusRetry, time.Now().UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending notification tasks: %w", err)
	}
	return scanTasks(rows)
}

// ClaimNotificationTask moves a due pending or retry task to processing.
// It reports false when another consumer already took the task.
func (db *DB) ClaimNotificationTask(ctx context.Context, id int64) (bool, error) {
	query := `UPDATE notification_queue SET status = ?
              WHERE id = ? AND status IN (?, ?) AND (next_retry_at IS NULL OR next_retry_at <= ?)`
	result, err := db.ExecContext(ctx, query,
		models.TaskStatusProcessing, id, models.TaskStatusPending, models.TaskStatusRetry, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("failed to claim notification task: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n == 1, nil
}

// RequeueProcessingTasks returns tasks left in processing by a previous run
// to the retry state.
func (db *DB) RequeueProcessingTasks(ctx context.Context) (int64, error) {
	result, err := db.ExecContext(ctx,
		`UPDATE notification_queue SET status = ?, next_retry_at = NULL WHERE status = ?`,
		models.TaskStatusRetry, models.TaskStatusProcessing)
	if err != nil {
		return 0, fmt.Errorf("failed to requeue processing tasks: %w", err)
	}
	return result.RowsAffected()
}

func (db *DB) UpdateNotificationTaskStatus(ctx context.Context, id int64, status, errMsg string, nextRetryAt *time.Time) error {
	var query string
	var args []interface{}
	now := time.Now().UTC()

	var lastError sql.NullString
	if errMsg != "" {
		lastError = sql.NullString{String: errMsg, Valid: true}
	}

	switch status {
	case models.TaskStatusRetry:
		query = `UPDATE notification_queue SET status = ?, last_error = ?, next_retry_at = ?, retry_count = retry_count + 1 WHERE id = ?`
		args = []interface{}{status, lastError, nextRetryAt, id}
	case models.TaskStatusCompleted, models.TaskStatusFailed:
		query = `UPDATE notification_queue SET status = ?, last_error = ?, next_retry_at = ?, processed_at = ? WHERE id = ?`
		args = []interface{}{status, lastError, nextRetryAt, now, id}
	default:
		query = `UPDATE notification_queue SET status = ?, last_error = ?, next_retry_at = ? WHERE id = ?`
		args = []interface{}{status, lastError, nextRetryAt, id}
	}

	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to update notification task status: %w", err)
	}
	return nil
}

func (db *DB) GetFailedNotificationTasks(ctx context.Context) ([]models.NotificationTask, error) {
	query := `SELECT ` + taskColumns + ` FROM notification_queue WHERE status = ? ORDER BY created_at DESC`
	rows, err := db.QueryContext(ctx, query, models.TaskStatusFailed)
	if err != nil {
		return nil, fmt.Errorf("failed to get failed notification tasks: %w", err)
	}
	return scanTasks(rows)
}

func scanTask(s rowScanner) (*models.NotificationTask, error) {
	var (
		t           models.NotificationTask
		lastError   sql.NullString
		processedAt sql.NullTime
		nextRetryAt sql.NullTime
	)
	err := s.Scan(
		&t.ID, &t.TaskType, &t.BookingID, &t.Payload, &t.Status, &t.RetryCount,
		&lastError, &t.CreatedAt, &processedAt, &nextRetryAt,
	)
	if err != nil {
		return nil, err
	}
	if lastError.Valid {
		msg := lastError.String
		t.LastError = &msg
	}
	if processedAt.Valid {
		ts := processedAt.Time
		t.ProcessedAt = &ts
	}
	if nextRetryAt.Valid {
		ts := nextRetryAt.Time
		t.NextRetryAt = &ts
	}
	return &t, nil
}

func scanTasks(rows *sql.Rows) ([]models.NotificationTask, error) {
	defer rows.Close()

	tasks := make([]models.NotificationTask, 0)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification task: %w", err)
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}
