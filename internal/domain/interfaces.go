package domain

import (
	"context"
	"time"

	"trainhub/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type BookingRepository interface {
	GetBooking(ctx context.Context, id int64) (*models.Booking, error)
	CreateBookingWithLock(ctx context.Context, booking *models.Booking, bufferMinutes int) error
	RescheduleBookingWithLock(ctx context.Context, booking *models.Booking, bufferMinutes int) error
	UpdateBookingWithVersion(ctx context.Context, booking *models.Booking) error
	RateBookingWithVersion(ctx context.Context, booking *models.Booking, prevRating int) error
	HasConflict(ctx context.Context, q models.ConflictQuery) (bool, error)
	GetUserBookings(ctx context.Context, userID int64, status string) ([]*models.Booking, error)
	GetActiveTrainerBookings(ctx context.Context, trainerID int64, date time.Time) ([]*models.Booking, error)
	GetTrainerBookingsByDateRange(ctx context.Context, trainerID int64, start, end time.Time) ([]*models.Booking, error)
}

type UserRepository interface {
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
	RecomputeTrainerRating(ctx context.Context, trainerID int64) (models.Rating, error)
}

type Repository interface {
	BookingRepository
	UserRepository
}

// RequestStateRepository keeps short-lived per-client request state:
// idempotency keys of create requests and the create quota counters.
type RequestStateRepository interface {
	GetIdempotentBooking(ctx context.Context, clientID int64, key string) (int64, bool, error)
	SetIdempotentBooking(ctx context.Context, clientID int64, key string, bookingID int64, ttl time.Duration) error
	CheckRateLimit(ctx context.Context, userID int64, limit int, window time.Duration) (bool, error)
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

type NotificationQueue interface {
	EnqueueTask(ctx context.Context, event string, booking *models.Booking) error
}

// Notifier delivers a plain-text message to one user over one channel.
type Notifier interface {
	Channel() string
	Notify(ctx context.Context, recipient *models.User, text string) error
}

// LedgerWriter mirrors booking state into an external ledger.
type LedgerWriter interface {
	UpsertBooking(ctx context.Context, booking *models.Booking) error
	UpdateBookingStatus(ctx context.Context, bookingID int64, status string) error
}

type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}
