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

const bookingColumns = `id, client_id, trainer_id, status, session_date, start_time, end_time, duration,
	session_type, location, meeting_link, goals, client_notes, trainer_notes,
	payment_amount, payment_currency, payment_status, paid_at,
	responses, cancellation, completion, is_deleted, deleted_at,
	created_at, updated_at, version`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanBooking(s rowScanner) (*models.Booking, error) {
	var (
		b            models.Booking
		date         string
		goals        string
		responses    string
		cancellation sql.NullString
		completion   sql.NullString
		paidAt       sql.NullTime
		deletedAt    sql.NullTime
	)
	err := s.Scan(
		&b.ID, &b.ClientID, &b.TrainerID, &b.Status, &date, &b.SessionTime.Start, &b.SessionTime.End, &b.Duration,
		&b.Session.Type, &b.Session.Location, &b.Session.MeetingLink, &goals, &b.ClientNotes, &b.TrainerNotes,
		&b.Payment.Amount, &b.Payment.Currency, &b.Payment.Status, &paidAt,
		&responses, &cancellation, &completion, &b.IsDeleted, &deletedAt,
		&b.CreatedAt, &b.UpdatedAt, &b.Version,
	)
	if err != nil {
		return nil, err
	}

	if b.SessionDate, err = time.Parse(models.DateLayout, date); err != nil {
		return nil, fmt.Errorf("booking %d: bad session date %q: %w", b.ID, date, err)
	}
	if paidAt.Valid {
		t := paidAt.Time
		b.Payment.PaidAt = &t
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		b.DeletedAt = &t
	}
	if err := json.Unmarshal([]byte(goals), &b.Goals); err != nil {
		return nil, fmt.Errorf("booking %d: bad goals: %w", b.ID, err)
	}
	if err := json.Unmarshal([]byte(responses), &b.Responses); err != nil {
		return nil, fmt.Errorf("booking %d: bad responses: %w", b.ID, err)
	}
	if b.Responses == nil {
		b.Responses = []models.Response{}
	}
	if cancellation.Valid {
		b.Cancellation = &models.Cancellation{}
		if err := json.Unmarshal([]byte(cancellation.String), b.Cancellation); err != nil {
			return nil, fmt.Errorf("booking %d: bad cancellation: %w", b.ID, err)
		}
	}
	if completion.Valid {
		b.Completion = &models.Completion{}
		if err := json.Unmarshal([]byte(completion.String), b.Completion); err != nil {
			return nil, fmt.Errorf("booking %d: bad completion: %w", b.ID, err)
		}
	}
	return &b, nil
}

func scanBookings(rows *sql.Rows) ([]*models.Booking, error) {
	defer rows.Close()

	bookings := make([]*models.Booking, 0)
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

// documentColumns serializes the nested parts of a booking into their text columns.
type documentColumns struct {
	goals        string
	responses    string
	cancellation sql.NullString
	completion   sql.NullString
	clientRating sql.NullInt64
}

func encodeDocuments(b *models.Booking) (documentColumns, error) {
	var d documentColumns

	goals := b.Goals
	if goals == nil {
		goals = []string{}
	}
	raw, err := json.Marshal(goals)
	if err != nil {
		return d, err
	}
	d.goals = string(raw)

	responses := b.Responses
	if responses == nil {
		responses = []models.Response{}
	}
	if raw, err = json.Marshal(responses); err != nil {
		return d, err
	}
	d.responses = string(raw)

	if b.Cancellation != nil {
		if raw, err = json.Marshal(b.Cancellation); err != nil {
			return d, err
		}
		d.cancellation = sql.NullString{String: string(raw), Valid: true}
	}
	if b.Completion != nil {
		if raw, err = json.Marshal(b.Completion); err != nil {
			return d, err
		}
		d.completion = sql.NullString{String: string(raw), Valid: true}
	}
	if r := b.ClientRating(); r != 0 {
		d.clientRating = sql.NullInt64{Int64: int64(r), Valid: true}
	}
	return d, nil
}

func (db *DB) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = ? AND is_deleted = 0`
	b, err := scanBooking(db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBookingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return b, nil
}

// CreateBookingWithLock checks both parties for a buffered overlap and
// inserts the booking in one write transaction.
func (db *DB) CreateBookingWithLock(ctx context.Context, b *models.Booking, bufferMinutes int) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// 1. Check both parties inside transaction
	if err := checkParties(ctx, tx, b, bufferMinutes); err != nil {
		return err
	}

	// 2. Create booking
	docs, err := encodeDocuments(b)
	if err != nil {
		return fmt.Errorf("failed to encode booking: %w", err)
	}

	query := `INSERT INTO bookings (
				client_id, trainer_id, status, session_date, start_time, end_time, duration,
				session_type, location, meeting_link, goals, client_notes, trainer_notes,
				payment_amount, payment_currency, payment_status, paid_at,
				responses, cancellation, completion, client_rating,
				is_deleted, created_at, updated_at, version
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?, 1)`
	now := time.Now().UTC()
	if !b.CreatedAt.IsZero() {
		now = b.CreatedAt
	}
	result, err := tx.ExecContext(ctx, query,
		b.ClientID, b.TrainerID, b.Status, b.SessionDate.Format(models.DateLayout),
		b.SessionTime.Start, b.SessionTime.End, b.Duration,
		b.Session.Type, b.Session.Location, b.Session.MeetingLink, docs.goals, b.ClientNotes, b.TrainerNotes,
		b.Payment.Amount, b.Payment.Currency, b.Payment.Status, b.Payment.PaidAt,
		docs.responses, docs.cancellation, docs.completion, docs.clientRating,
		now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrSlotTaken
		}
		return fmt.Errorf("failed to create booking: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return ErrSlotTaken
		}
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	b.ID = id
	b.CreatedAt = now
	b.UpdatedAt = now
	b.Version = 1

	db.logger.Debug().
		Int64("booking_id", id).
		Int64("trainer_id", b.TrainerID).
		Int64("client_id", b.ClientID).
		Msg("booking created")
	return nil
}

// RescheduleBookingWithLock moves an active booking to its new date and
// window, re-running the conflict check without the booking itself.
func (db *DB) RescheduleBookingWithLock(ctx context.Context, b *models.Booking, bufferMinutes int) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := checkParties(ctx, tx, b, bufferMinutes); err != nil {
		return err
	}
	if err := updateBooking(ctx, tx, b); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	b.Version++
	return nil
}

// UpdateBookingWithVersion writes the mutable part of b if the stored
// version still equals b.Version.
func (db *DB) UpdateBookingWithVersion(ctx context.Context, b *models.Booking) error {
	if err := updateBooking(ctx, db.DB, b); err != nil {
		return err
	}
	b.Version++
	return nil
}

// RateBookingWithVersion stores a client rating and moves the trainer's
// {sum, count} aggregate in the same transaction. prevRating is the rating
// the booking carried at b.Version (0 when unrated).
func (db *DB) RateBookingWithVersion(ctx context.Context, b *models.Booking, prevRating int) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := updateBooking(ctx, tx, b); err != nil {
		return err
	}

	sumDelta, countDelta := booking.RatingDelta(prevRating, b.ClientRating())
	query := `UPDATE users SET rating_sum = rating_sum + ?, rating_count = rating_count + ?, updated_at = ? WHERE id = ?`
	res, err := tx.ExecContext(ctx, query, sumDelta, countDelta, time.Now().UTC(), b.TrainerID)
	if err != nil {
		return fmt.Errorf("failed to update trainer rating: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrUserNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	b.Version++
	db.invalidateUser(b.TrainerID)
	return nil
}

func updateBooking(ctx context.Context, q querier, b *models.Booking) error {
	docs, err := encodeDocuments(b)
	if err != nil {
		return fmt.Errorf("failed to encode booking: %w", err)
	}

	query := `UPDATE bookings SET
				status = ?, session_date = ?, start_time = ?, end_time = ?, duration = ?,
				trainer_notes = ?, payment_status = ?, paid_at = ?,
				responses = ?, cancellation = ?, completion = ?, client_rating = ?,
				is_deleted = ?, deleted_at = ?, updated_at = ?, version = version + 1
			WHERE id = ? AND version = ?`
	now := time.Now().UTC()
	if !b.UpdatedAt.IsZero() {
		now = b.UpdatedAt
	}
	result, err := q.ExecContext(ctx, query,
		b.Status, b.SessionDate.Format(models.DateLayout), b.SessionTime.Start, b.SessionTime.End, b.Duration,
		b.TrainerNotes, b.Payment.Status, b.Payment.PaidAt,
		docs.responses, docs.cancellation, docs.completion, docs.clientRating,
		b.IsDeleted, b.DeletedAt, now,
		b.ID, b.Version,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrSlotTaken
		}
		return fmt.Errorf("failed to update booking: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		var exists bool
		err := q.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM bookings WHERE id = ? AND is_deleted = 0)`, b.ID).Scan(&exists)
		if err == nil && !exists {
			return ErrBookingNotFound
		}
		return ErrConcurrentModification
	}
	b.UpdatedAt = now
	return nil
}

func checkParties(ctx context.Context, q querier, b *models.Booking, bufferMinutes int) error {
	parties := []struct {
		party string
		id    int64
		err   error
	}{
		{models.PartyTrainer, b.TrainerID, ErrTrainerBusy},
		{models.PartyClient, b.ClientID, ErrClientBusy},
	}
	for _, p := range parties {
		busy, err := hasConflict(ctx, q, models.ConflictQuery{
			Party:            p.party,
			PartyID:          p.id,
			Date:             b.SessionDate,
			Start:            b.SessionTime.Start,
			Duration:         b.Duration,
			ExcludeBookingID: b.ID,
			BufferMinutes:    bufferMinutes,
		})
		if err != nil {
			return err
		}
		if busy {
			return p.err
		}
	}
	return nil
}

// HasConflict reports whether the party already holds an active booking on
// the date whose buffered window overlaps the proposed one.
func (db *DB) HasConflict(ctx context.Context, cq models.ConflictQuery) (bool, error) {
	return hasConflict(ctx, db.DB, cq)
}

func hasConflict(ctx context.Context, q querier, cq models.ConflictQuery) (bool, error) {
	proposed, err := booking.NewWindow(cq.Start, cq.Duration)
	if err != nil {
		return false, err
	}

	var column string
	switch cq.Party {
	case models.PartyTrainer:
		column = "trainer_id"
	case models.PartyClient:
		column = "client_id"
	default:
		return false, fmt.Errorf("unknown party %q", cq.Party)
	}

	query := `SELECT start_time, duration FROM bookings
              WHERE ` + column + ` = ? AND session_date = ? AND status IN (?, ?) AND is_deleted = 0 AND id != ?`
	rows, err := q.QueryContext(ctx, query,
		cq.PartyID, cq.Date.Format(models.DateLayout), models.StatusPending, models.StatusApproved, cq.ExcludeBookingID)
	if err != nil {
		return false, fmt.Errorf("failed to check conflicts: %w", err)
	}
	defer rows.Close()

	var existing []booking.Window
	for rows.Next() {
		var start string
		var duration int
		if err := rows.Scan(&start, &duration); err != nil {
			return false, fmt.Errorf("failed to scan booking window: %w", err)
		}
		w, err := booking.NewWindow(start, duration)
		if err != nil {
			return false, err
		}
		existing = append(existing, w)
	}
	if err := rows.Err(); err != nil {
		return false, err
	}
	return booking.Conflicts(existing, proposed, cq.BufferMinutes), nil
}

// GetUserBookings lists the bookings where the user is either party, newest
// session first. An empty status means any.
func (db *DB) GetUserBookings(ctx context.Context, userID int64, status string) ([]*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings
              WHERE (client_id = ? OR trainer_id = ?) AND is_deleted = 0`
	args := []interface{}{userID, userID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY session_date DESC, start_time DESC`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get user bookings: %w", err)
	}
	return scanBookings(rows)
}

// GetActiveTrainerBookings returns the trainer's pending and approved
// sessions on date ordered by start time.
func (db *DB) GetActiveTrainerBookings(ctx context.Context, trainerID int64, date time.Time) ([]*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings
              WHERE trainer_id = ? AND session_date = ? AND status IN (?, ?) AND is_deleted = 0
              ORDER BY start_time`
	rows, err := db.QueryContext(ctx, query,
		trainerID, date.Format(models.DateLayout), models.StatusPending, models.StatusApproved)
	if err != nil {
		return nil, fmt.Errorf("failed to get trainer bookings: %w", err)
	}
	return scanBookings(rows)
}

// GetTrainerBookingsByDateRange returns every non-deleted trainer booking
// with a session date in [start, end].
func (db *DB) GetTrainerBookingsByDateRange(ctx context.Context, trainerID int64, start, end time.Time) ([]*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings
              WHERE trainer_id = ? AND session_date BETWEEN ? AND ? AND is_deleted = 0
              ORDER BY session_date, start_time`
	rows, err := db.QueryContext(ctx, query,
		trainerID, start.Format(models.DateLayout), end.Format(models.DateLayout))
	if err != nil {
		return nil, fmt.Errorf("failed to get bookings by date range: %w", err)
	}
	return scanBookings(rows)
}
