package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"trainhub/internal/booking"
	"trainhub/internal/models"
)

const userColumns = `id, name, email, role, is_approved, hourly_rate, availability,
	telegram_chat_id, rating_sum, rating_count, created_at, updated_at`

// UpsertUser inserts the user or refreshes its profile fields. The rating
// aggregate is never overwritten from here.
func (db *DB) UpsertUser(ctx context.Context, user *models.User) error {
	var availability sql.NullString
	if user.Availability != nil {
		raw, err := json.Marshal(user.Availability)
		if err != nil {
			return fmt.Errorf("failed to encode availability: %w", err)
		}
		availability = sql.NullString{String: string(raw), Valid: true}
	}

	var id interface{}
	if user.ID != 0 {
		id = user.ID
	}

	query := `INSERT INTO users (
				id, name, email, role, is_approved, hourly_rate, availability,
				telegram_chat_id, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
              ON CONFLICT(id) DO UPDATE SET
                name = excluded.name,
                email = excluded.email,
                role = excluded.role,
                is_approved = excluded.is_approved,
                hourly_rate = excluded.hourly_rate,
                availability = excluded.availability,
                telegram_chat_id = excluded.telegram_chat_id,
                updated_at = excluded.updated_at`
	now := time.Now().UTC()
	result, err := db.ExecContext(ctx, query,
		id,
		user.Name,
		user.Email,
		user.Role,
		user.IsApproved,
		user.HourlyRate,
		availability,
		user.TelegramChatID,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to create or update user: %w", err)
	}

	if user.ID == 0 {
		if user.ID, err = result.LastInsertId(); err != nil {
			return fmt.Errorf("failed to get last insert id: %w", err)
		}
		user.CreatedAt = now
	}
	user.UpdatedAt = now
	db.invalidateUser(user.ID)
	return nil
}

func (db *DB) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	db.mu.RLock()
	cached, ok := db.usersCache[id]
	db.mu.RUnlock()
	if ok {
		u := *cached
		return &u, nil
	}

	query := `SELECT ` + userColumns + ` FROM users WHERE id = ?`
	u, err := scanUser(db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	db.mu.Lock()
	db.usersCache[id] = u
	db.mu.Unlock()

	copied := *u
	return &copied, nil
}

func (db *DB) GetAllUsers(ctx context.Context) ([]*models.User, error) {
	return db.queryUsers(ctx, `SELECT `+userColumns+` FROM users ORDER BY id`)
}

func (db *DB) GetUsersByRole(ctx context.Context, role string) ([]*models.User, error) {
	return db.queryUsers(ctx, `SELECT `+userColumns+` FROM users WHERE role = ? ORDER BY id`, role)
}

func (db *DB) queryUsers(ctx context.Context, query string, args ...interface{}) ([]*models.User, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get users: %w", err)
	}
	defer rows.Close()

	users := make([]*models.User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func scanUser(s rowScanner) (*models.User, error) {
	var (
		u            models.User
		hourlyRate   sql.NullFloat64
		availability sql.NullString
		sum, count   int64
	)
	err := s.Scan(
		&u.ID, &u.Name, &u.Email, &u.Role, &u.IsApproved, &hourlyRate, &availability,
		&u.TelegramChatID, &sum, &count, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if hourlyRate.Valid {
		rate := hourlyRate.Float64
		u.HourlyRate = &rate
	}
	if availability.Valid {
		u.Availability = &models.Availability{}
		if err := json.Unmarshal([]byte(availability.String), u.Availability); err != nil {
			return nil, fmt.Errorf("user %d: bad availability: %w", u.ID, err)
		}
	}
	u.Rating = booking.NewRating(sum, count)
	return &u, nil
}

// RecomputeTrainerRating rebuilds the trainer's {sum, count} aggregate from
// every rated completed booking. Soft-deleted bookings keep counting, the
// same way the incremental update never takes a rating back on delete.
func (db *DB) RecomputeTrainerRating(ctx context.Context, trainerID int64) (models.Rating, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return models.Rating{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var sum, count int64
	query := `SELECT COALESCE(SUM(client_rating), 0), COUNT(client_rating) FROM bookings
              WHERE trainer_id = ? AND status = ? AND client_rating IS NOT NULL`
	if err := tx.QueryRowContext(ctx, query, trainerID, models.StatusCompleted).Scan(&sum, &count); err != nil {
		return models.Rating{}, fmt.Errorf("failed to aggregate ratings: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE users SET rating_sum = ?, rating_count = ?, updated_at = ? WHERE id = ?`,
		sum, count, time.Now().UTC(), trainerID)
	if err != nil {
		return models.Rating{}, fmt.Errorf("failed to store rating: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.Rating{}, ErrUserNotFound
	}

	if err := tx.Commit(); err != nil {
		return models.Rating{}, fmt.Errorf("failed to commit transaction: %w", err)
	}
	db.invalidateUser(trainerID)
	return booking.NewRating(sum, count), nil
}
