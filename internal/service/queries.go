package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"trainhub/internal/booking"
	"trainhub/internal/database"
	"trainhub/internal/domain"
	"trainhub/internal/events"
	"trainhub/internal/export"
	"trainhub/internal/models"

	"github.com/xuri/excelize/v2"
)

// maxReportDays caps the date range of an XLSX report.
const maxReportDays = 366

var bookingStatuses = map[string]bool{
	models.StatusPending:   true,
	models.StatusApproved:  true,
	models.StatusRejected:  true,
	models.StatusCancelled: true,
	models.StatusCompleted: true,
}

// Get returns a booking visible to the actor: its client, its trainer or
// an administrator.
func (s *BookingService) Get(ctx context.Context, actor booking.Actor, id int64) (*models.Booking, error) {
	b, err := s.repo.GetBooking(ctx, id)
	if err != nil {
		return nil, s.translate(err, id)
	}
	if actor.ID != b.ClientID && actor.ID != b.TrainerID && !actor.IsAdmin() {
		return nil, domain.Forbiddenf("booking %d belongs to other users", id)
	}
	return b, nil
}

// List returns the actor's bookings as client or trainer, newest first.
func (s *BookingService) List(ctx context.Context, actor booking.Actor, status string) ([]*models.Booking, error) {
	status = strings.ToLower(strings.TrimSpace(status))
	if status != "" && !bookingStatuses[status] {
		return nil, domain.Validationf("unknown status %q", status)
	}
	bookings, err := s.repo.GetUserBookings(ctx, actor.ID, status)
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	return bookings, nil
}

// TrainerProfile returns the public trainer record with its rating.
func (s *BookingService) TrainerProfile(ctx context.Context, trainerID int64) (*models.User, error) {
	return s.loadTrainer(ctx, trainerID)
}

// Availability lists the free slots of a trainer on date (YYYY-MM-DD).
func (s *BookingService) Availability(ctx context.Context, trainerID int64, date string) (*models.DaySchedule, error) {
	day, err := time.Parse(models.DateLayout, strings.TrimSpace(date))
	if err != nil {
		return nil, domain.Validationf("invalid date %q, expected YYYY-MM-DD", date)
	}

	trainer, err := s.loadTrainer(ctx, trainerID)
	if err != nil {
		return nil, err
	}

	active, err := s.repo.GetActiveTrainerBookings(ctx, trainerID, day)
	if err != nil {
		return nil, fmt.Errorf("load trainer bookings: %w", err)
	}
	booked := make([]booking.Window, 0, len(active))
	for _, b := range active {
		w, err := booking.BookingWindow(b)
		if err != nil {
			s.logger.Warn().Err(err).Int64("booking_id", b.ID).Msg("skip booking with unreadable window")
			continue
		}
		booked = append(booked, w)
	}

	slots, msg := booking.AvailableSlots(trainer.Availability, day, booked, s.rules.SlotMinutes)
	return &models.DaySchedule{
		TrainerID:      trainerID,
		Date:           day.Format(models.DateLayout),
		AvailableSlots: slots,
		Message:        msg,
	}, nil
}

// RecomputeRating rebuilds a trainer's rating aggregate from the stored
// bookings. Admin only.
func (s *BookingService) RecomputeRating(ctx context.Context, actor booking.Actor, trainerID int64) (models.Rating, error) {
	if !actor.IsAdmin() {
		return models.Rating{}, domain.Forbiddenf("only an administrator can recompute ratings")
	}
	if _, err := s.loadTrainer(ctx, trainerID); err != nil {
		return models.Rating{}, err
	}

	rating, err := s.repo.RecomputeTrainerRating(ctx, trainerID)
	if err != nil {
		return models.Rating{}, s.translate(err, 0)
	}

	s.logger.Info().Int64("trainer_id", trainerID).Int64("count", rating.Count).Float64("average", rating.Average).Msg("trainer rating recomputed")
	if s.eventBus != nil {
		payload := map[string]interface{}{"trainerId": trainerID, "count": rating.Count, "average": rating.Average}
		if err := s.eventBus.PublishJSON(events.EventRatingRecomputed, payload); err != nil {
			s.logger.Error().Err(err).Int64("trainer_id", trainerID).Msg("publish event error")
		}
	}
	return rating, nil
}

// ExportTrainerReport builds the XLSX report of a trainer's bookings between
// from and to inclusive. The caller must Close the returned file.
func (s *BookingService) ExportTrainerReport(ctx context.Context, actor booking.Actor, trainerID int64, from, to string) (string, *excelize.File, error) {
	if actor.ID != trainerID && !actor.IsAdmin() {
		return "", nil, domain.Forbiddenf("only the trainer or an administrator can export bookings")
	}

	start, err := time.Parse(models.DateLayout, strings.TrimSpace(from))
	if err != nil {
		return "", nil, domain.Validationf("invalid from date %q, expected YYYY-MM-DD", from)
	}
	end, err := time.Parse(models.DateLayout, strings.TrimSpace(to))
	if err != nil {
		return "", nil, domain.Validationf("invalid to date %q, expected YYYY-MM-DD", to)
	}
	if end.Before(start) {
		return "", nil, domain.Validationf("to date must not be before from date")
	}
	if end.Sub(start) > maxReportDays*24*time.Hour {
		return "", nil, domain.Validationf("report range must not exceed %d days", maxReportDays)
	}

	trainer, err := s.loadTrainer(ctx, trainerID)
	if err != nil {
		return "", nil, err
	}

	bookings, err := s.repo.GetTrainerBookingsByDateRange(ctx, trainerID, start, end)
	if err != nil {
		return "", nil, fmt.Errorf("load trainer bookings: %w", err)
	}

	f, err := export.TrainerReport(trainer, bookings, start, end)
	if err != nil {
		return "", nil, fmt.Errorf("build report: %w", err)
	}
	return export.FileName(trainerID, start, end), f, nil
}

func (s *BookingService) loadTrainer(ctx context.Context, trainerID int64) (*models.User, error) {
	u, err := s.repo.GetUserByID(ctx, trainerID)
	if errors.Is(err, database.ErrUserNotFound) {
		return nil, domain.NotFoundf("trainer %d not found", trainerID)
	}
	if err != nil {
		return nil, fmt.Errorf("load trainer: %w", err)
	}
	if !u.IsTrainer() {
		return nil, domain.NotFoundf("trainer %d not found", trainerID)
	}
	return u, nil
}
