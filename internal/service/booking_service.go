package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"trainhub/internal/booking"
	"trainhub/internal/config"
	"trainhub/internal/database"
	"trainhub/internal/domain"
	"trainhub/internal/events"
	"trainhub/internal/metrics"
	"trainhub/internal/models"

	"github.com/rs/zerolog"
)

// maxWriteAttempts bounds the optimistic-lock retry loop of a transition.
const maxWriteAttempts = 3

type BookingService struct {
	repo           domain.Repository
	state          domain.RequestStateRepository
	eventBus       domain.EventPublisher
	outbox         domain.NotificationQueue
	rules          booking.Rules
	idempotencyTTL time.Duration
	quota          int
	quotaWindow    time.Duration
	logger         *zerolog.Logger
	now            func() time.Time
}

// RulesFromConfig converts the booking section of the configuration.
func RulesFromConfig(cfg config.BookingConfig) booking.Rules {
	rules := booking.DefaultRules()
	if cfg.ConflictBufferMinutes > 0 {
		rules.BufferMinutes = cfg.ConflictBufferMinutes
	}
	if cfg.SlotMinutes > 0 {
		rules.SlotMinutes = cfg.SlotMinutes
	}
	if cfg.DefaultDurationMinutes > 0 {
		rules.DefaultDuration = cfg.DefaultDurationMinutes
	}
	if cfg.DefaultHourlyRate > 0 {
		rules.DefaultHourlyRate = cfg.DefaultHourlyRate
	}
	if cfg.Currency != "" {
		rules.Currency = cfg.Currency
	}
	if cfg.MaxBookingDays > 0 {
		rules.MaxBookingDays = cfg.MaxBookingDays
	}
	rules.StrictSessionDetails = cfg.EnforceSessionDetails
	return rules
}

// NewBookingService wires the lifecycle orchestration. state, eventBus and
// outbox are optional.
func NewBookingService(
	repo domain.Repository,
	state domain.RequestStateRepository,
	eventBus domain.EventPublisher,
	outbox domain.NotificationQueue,
	cfg config.BookingConfig,
	logger *zerolog.Logger,
) *BookingService {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	ttl := time.Duration(cfg.IdempotencyTTL) * time.Second
	if ttl <= 0 {
		ttl = models.DefaultIdempotencyTTL * time.Second
	}
	window := time.Duration(cfg.CreateQuotaWindow) * time.Second
	if window <= 0 {
		window = models.CreateQuotaWindow * time.Second
	}
	return &BookingService{
		repo:           repo,
		state:          state,
		eventBus:       eventBus,
		outbox:         outbox,
		rules:          RulesFromConfig(cfg),
		idempotencyTTL: ttl,
		quota:          cfg.CreateQuota,
		quotaWindow:    window,
		logger:         logger,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

func (s *BookingService) Rules() booking.Rules { return s.rules }

// Create books a session for the acting client. A non-empty idempotencyKey
// makes retries of the same request return the booking created first.
func (s *BookingService) Create(ctx context.Context, actor booking.Actor, req booking.CreateRequest, idempotencyKey string) (*models.Booking, bool, error) {
	if req.ClientID == 0 {
		req.ClientID = actor.ID
	}
	if req.ClientID != actor.ID && !actor.IsAdmin() {
		return nil, false, domain.Forbiddenf("cannot book on behalf of user %d", req.ClientID)
	}
	idempotencyKey = strings.TrimSpace(idempotencyKey)

	if existing := s.idempotentBooking(ctx, req.ClientID, idempotencyKey); existing != nil {
		return existing, false, nil
	}

	if err := s.checkQuota(ctx, req.ClientID); err != nil {
		metrics.IncTransition("create", domain.Kind(err))
		return nil, false, err
	}

	if _, err := s.repo.GetUserByID(ctx, req.ClientID); err != nil {
		if errors.Is(err, database.ErrUserNotFound) {
			return nil, false, domain.NotFoundf("client %d not found", req.ClientID)
		}
		return nil, false, fmt.Errorf("load client: %w", err)
	}

	var trainer *models.User
	if req.TrainerID != 0 {
		u, err := s.repo.GetUserByID(ctx, req.TrainerID)
		if err != nil && !errors.Is(err, database.ErrUserNotFound) {
			return nil, false, fmt.Errorf("load trainer: %w", err)
		}
		trainer = u
	}

	b, err := booking.NewBooking(req, trainer, s.rules, s.now())
	if err != nil {
		metrics.IncTransition("create", domain.Kind(err))
		return nil, false, err
	}

	if err := s.repo.CreateBookingWithLock(ctx, b, s.rules.BufferMinutes); err != nil {
		err = s.translate(err, 0)
		metrics.IncTransition("create", domain.Kind(err))
		return nil, false, err
	}
	metrics.IncTransition("create", "ok")

	if idempotencyKey != "" && s.state != nil {
		if err := s.state.SetIdempotentBooking(ctx, b.ClientID, idempotencyKey, b.ID, s.idempotencyTTL); err != nil {
			s.logger.Warn().Err(err).Int64("booking_id", b.ID).Msg("store idempotency key")
		}
	}

	s.logger.Info().
		Int64("booking_id", b.ID).
		Int64("client_id", b.ClientID).
		Int64("trainer_id", b.TrainerID).
		Str("date", b.SessionDate.Format(models.DateLayout)).
		Str("start", b.SessionTime.Start).
		Msg("booking created")

	s.afterCommit(ctx, events.EventBookingCreated, b, actor.ID, "")
	return b, true, nil
}

func (s *BookingService) idempotentBooking(ctx context.Context, clientID int64, key string) *models.Booking {
	if key == "" || s.state == nil {
		return nil
	}
	id, ok, err := s.state.GetIdempotentBooking(ctx, clientID, key)
	if err != nil {
		s.logger.Warn().Err(err).Int64("client_id", clientID).Msg("idempotency lookup failed")
		return nil
	}
	if !ok {
		return nil
	}
	b, err := s.repo.GetBooking(ctx, id)
	if err != nil {
		s.logger.Warn().Err(err).Int64("booking_id", id).Msg("idempotent booking is gone")
		return nil
	}
	return b
}

func (s *BookingService) checkQuota(ctx context.Context, clientID int64) error {
	if s.state == nil || s.quota <= 0 {
		return nil
	}
	allowed, err := s.state.CheckRateLimit(ctx, clientID, s.quota, s.quotaWindow)
	if err != nil {
		// квота не должна блокировать бронирование
		s.logger.Warn().Err(err).Int64("client_id", clientID).Msg("create quota check failed")
		return nil
	}
	if !allowed {
		return domain.RateLimitedf("too many booking requests, try again later")
	}
	return nil
}

func (s *BookingService) Approve(ctx context.Context, actor booking.Actor, id int64, trainerNotes string) (*models.Booking, error) {
	return s.transition(ctx, id, booking.Command{Action: booking.ActionApprove, Actor: actor, TrainerNotes: trainerNotes})
}

func (s *BookingService) Reject(ctx context.Context, actor booking.Actor, id int64, reason string) (*models.Booking, error) {
	return s.transition(ctx, id, booking.Command{Action: booking.ActionReject, Actor: actor, Reason: reason})
}

func (s *BookingService) Cancel(ctx context.Context, actor booking.Actor, id int64, reason string) (*models.Booking, error) {
	return s.transition(ctx, id, booking.Command{Action: booking.ActionCancel, Actor: actor, Reason: reason})
}

// CompleteInput carries the optional fields of a completion.
type CompleteInput struct {
	SessionNotes   string
	ClientAttended *bool
	TrainerRating  *int
}

func (s *BookingService) Complete(ctx context.Context, actor booking.Actor, id int64, in CompleteInput) (*models.Booking, error) {
	return s.transition(ctx, id, booking.Command{
		Action:         booking.ActionComplete,
		Actor:          actor,
		SessionNotes:   in.SessionNotes,
		ClientAttended: in.ClientAttended,
		TrainerRating:  in.TrainerRating,
	})
}

// Rate stores the client's rating and updates the trainer aggregate in the
// same transaction.
func (s *BookingService) Rate(ctx context.Context, actor booking.Actor, id int64, rating int, review string) (*models.Booking, error) {
	return s.transition(ctx, id, booking.Command{Action: booking.ActionRate, Actor: actor, Rating: rating, Review: review})
}

// Reschedule moves a pending or approved booking. The payment amount is not
// recomputed.
func (s *BookingService) Reschedule(ctx context.Context, actor booking.Actor, id int64, date string, st models.SessionTime, duration int) (*models.Booking, error) {
	sched, err := booking.ParseSchedule(date, st, duration, s.rules, s.now())
	if err != nil {
		return nil, err
	}
	return s.transition(ctx, id, booking.Command{Action: booking.ActionReschedule, Actor: actor, Schedule: &sched})
}

// Delete soft-deletes a booking. Admin only.
func (s *BookingService) Delete(ctx context.Context, actor booking.Actor, id int64) error {
	_, err := s.transition(ctx, id, booking.Command{Action: booking.ActionDelete, Actor: actor})
	return err
}

// transition loads the booking, applies cmd and writes the result with a
// version check, re-reading on a lost race.
func (s *BookingService) transition(ctx context.Context, id int64, cmd booking.Command) (*models.Booking, error) {
	action := string(cmd.Action)

	for attempt := 1; ; attempt++ {
		current, err := s.repo.GetBooking(ctx, id)
		if err != nil {
			return nil, s.translate(err, id)
		}

		next, err := booking.Apply(*current, cmd, s.now())
		if err != nil {
			metrics.IncTransition(action, domain.Kind(err))
			return nil, err
		}

		err = s.write(ctx, current, &next, cmd.Action)
		if err == nil {
			metrics.IncTransition(action, "ok")
			s.logger.Info().
				Int64("booking_id", next.ID).
				Int64("actor_id", cmd.Actor.ID).
				Str("action", action).
				Str("status", next.Status).
				Msg("booking updated")
			s.afterCommit(ctx, eventFor(cmd.Action), &next, cmd.Actor.ID, strings.TrimSpace(cmd.Reason))
			return &next, nil
		}

		if errors.Is(err, database.ErrConcurrentModification) && attempt < maxWriteAttempts {
			metrics.IncCASRetry()
			s.logger.Debug().Int64("booking_id", id).Int("attempt", attempt).Msg("booking changed concurrently, retrying")
			continue
		}

		err = s.translate(err, id)
		metrics.IncTransition(action, domain.Kind(err))
		return nil, err
	}
}

func (s *BookingService) write(ctx context.Context, current, next *models.Booking, action booking.Action) error {
	switch action {
	case booking.ActionRate:
		return s.repo.RateBookingWithVersion(ctx, next, current.ClientRating())
	case booking.ActionReschedule:
		return s.repo.RescheduleBookingWithLock(ctx, next, s.rules.BufferMinutes)
	default:
		return s.repo.UpdateBookingWithVersion(ctx, next)
	}
}

func eventFor(a booking.Action) string {
	switch a {
	case booking.ActionApprove:
		return events.EventBookingApproved
	case booking.ActionReject:
		return events.EventBookingRejected
	case booking.ActionCancel:
		return events.EventBookingCancelled
	case booking.ActionComplete:
		return events.EventBookingCompleted
	case booking.ActionRate:
		return events.EventBookingRated
	case booking.ActionReschedule:
		return events.EventBookingRescheduled
	case booking.ActionDelete:
		return events.EventBookingDeleted
	default:
		return "booking." + string(a)
	}
}

// translate maps persistence errors to domain kinds. Errors that already
// carry a kind pass through.
func (s *BookingService) translate(err error, bookingID int64) error {
	switch {
	case errors.Is(err, database.ErrBookingNotFound):
		return domain.NotFoundf("booking %d not found", bookingID)
	case errors.Is(err, database.ErrUserNotFound):
		return domain.NotFoundf("user not found")
	case errors.Is(err, database.ErrTrainerBusy):
		metrics.IncConflict(models.PartyTrainer)
		return domain.Conflictf("trainer already has a session within %d minutes of this time", s.rules.BufferMinutes)
	case errors.Is(err, database.ErrClientBusy):
		metrics.IncConflict(models.PartyClient)
		return domain.Conflictf("client already has a session within %d minutes of this time", s.rules.BufferMinutes)
	case errors.Is(err, database.ErrSlotTaken):
		metrics.IncConflict("slot")
		return domain.Conflictf("this time slot has just been taken")
	case errors.Is(err, database.ErrConcurrentModification):
		return domain.Conflictf("booking %d is being changed by someone else, try again", bookingID)
	case domain.Kind(err) != domain.KindInternal:
		return err
	default:
		return fmt.Errorf("booking store: %w", err)
	}
}

// afterCommit publishes the event and enqueues notifications. Failures here
// never undo the committed change.
func (s *BookingService) afterCommit(ctx context.Context, event string, b *models.Booking, actorID int64, reason string) {
	if s.eventBus != nil {
		if err := s.eventBus.PublishJSON(event, events.NewBookingPayload(b, actorID, reason, s.now())); err != nil {
			s.logger.Error().Err(err).Str("event_type", event).Int64("booking_id", b.ID).Msg("publish event error")
		}
	}
	if s.outbox != nil {
		if err := s.outbox.EnqueueTask(ctx, event, b); err != nil {
			s.logger.Error().Err(err).Str("event_type", event).Int64("booking_id", b.ID).Msg("notification enqueue error")
		}
	}
}
