package service

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"trainhub/internal/booking"
	"trainhub/internal/config"
	"trainhub/internal/database"
	"trainhub/internal/domain"
	"trainhub/internal/events"
	"trainhub/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockRepo struct {
	mock.Mock
}

func (m *mockRepo) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Booking), args.Error(1)
}
func (m *mockRepo) CreateBookingWithLock(ctx context.Context, b *models.Booking, buffer int) error {
	return m.Called(ctx, b, buffer).Error(0)
}
func (m *mockRepo) RescheduleBookingWithLock(ctx context.Context, b *models.Booking, buffer int) error {
	return m.Called(ctx, b, buffer).Error(0)
}
func (m *mockRepo) UpdateBookingWithVersion(ctx context.Context, b *models.Booking) error {
	return m.Called(ctx, b).Error(0)
}
func (m *mockRepo) RateBookingWithVersion(ctx context.Context, b *models.Booking, prev int) error {
	return m.Called(ctx, b, prev).Error(0)
}
func (m *mockRepo) HasConflict(ctx context.Context, q models.ConflictQuery) (bool, error) {
	args := m.Called(ctx, q)
	return args.Bool(0), args.Error(1)
}
func (m *mockRepo) GetUserBookings(ctx context.Context, id int64, status string) ([]*models.Booking, error) {
	args := m.Called(ctx, id, status)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Booking), args.Error(1)
}
func (m *mockRepo) GetActiveTrainerBookings(ctx context.Context, id int64, d time.Time) ([]*models.Booking, error) {
	args := m.Called(ctx, id, d)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Booking), args.Error(1)
}
func (m *mockRepo) GetTrainerBookingsByDateRange(ctx context.Context, id int64, s, e time.Time) ([]*models.Booking, error) {
	args := m.Called(ctx, id, s, e)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Booking), args.Error(1)
}
func (m *mockRepo) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}
func (m *mockRepo) RecomputeTrainerRating(ctx context.Context, id int64) (models.Rating, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(models.Rating), args.Error(1)
}

type mockEventBus struct {
	mock.Mock
}

func (m *mockEventBus) PublishJSON(et string, p interface{}) error { return m.Called(et, p).Error(0) }

type mockOutbox struct {
	mock.Mock
}

func (m *mockOutbox) EnqueueTask(ctx context.Context, event string, b *models.Booking) error {
	return m.Called(ctx, event, b).Error(0)
}

var fixedNow = time.Date(2030, 1, 1, 8, 0, 0, 0, time.UTC)

func newMockService(repo *mockRepo, bus *mockEventBus, outbox *mockOutbox) *BookingService {
	logger := zerolog.New(io.Discard)
	svc := NewBookingService(repo, nil, bus, outbox, config.BookingConfig{}, &logger)
	svc.now = func() time.Time { return fixedNow }
	return svc
}

func pendingBooking(id int64) *models.Booking {
	return &models.Booking{
		ID:          id,
		ClientID:    2,
		TrainerID:   1,
		Status:      models.StatusPending,
		SessionDate: time.Date(2030, 1, 7, 0, 0, 0, 0, time.UTC),
		SessionTime: models.SessionTime{Start: "10:00", End: "11:00"},
		Duration:    60,
		Session:     models.SessionDetails{Type: models.SessionInPerson, Location: "Gym"},
		Payment:     models.Payment{Amount: 50, Currency: "USD", Status: models.PaymentPending},
		Responses:   []models.Response{},
		Version:     1,
	}
}

var (
	trainerActor = booking.Actor{ID: 1, Role: models.RoleTrainer}
	clientActor  = booking.Actor{ID: 2, Role: models.RoleClient}
	adminActor   = booking.Actor{ID: 9, Role: models.RoleAdmin}
)

func TestBookingService(t *testing.T) {
	repo := new(mockRepo)
	bus := new(mockEventBus)
	outbox := new(mockOutbox)
	svc := newMockService(repo, bus, outbox)
	ctx := context.Background()

	t.Run("Create", func(t *testing.T) {
		rate := 60.0
		trainer := &models.User{ID: 1, Role: models.RoleTrainer, IsApproved: true, HourlyRate: &rate}
		repo.On("GetUserByID", ctx, int64(2)).Return(&models.User{ID: 2, Role: models.RoleClient}, nil).Once()
		repo.On("GetUserByID", ctx, int64(1)).Return(trainer, nil).Once()
		repo.On("CreateBookingWithLock", ctx, mock.AnythingOfType("*models.Booking"), 30).
			Run(func(args mock.Arguments) { args.Get(1).(*models.Booking).ID = 20 }).
			Return(nil).Once()
		bus.On("PublishJSON", events.EventBookingCreated, mock.Anything).Return(nil).Once()
		outbox.On("EnqueueTask", ctx, events.EventBookingCreated, mock.AnythingOfType("*models.Booking")).Return(nil).Once()

		b, created, err := svc.Create(ctx, clientActor, booking.CreateRequest{
			TrainerID:   1,
			SessionDate: "2030-01-07",
			SessionTime: models.SessionTime{Start: "10:00"},
			Duration:    90,
			SessionType: models.SessionInPerson,
			Location:    "Gym",
		}, "")
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, int64(20), b.ID)
		assert.Equal(t, int64(2), b.ClientID)
		assert.Equal(t, 90.0, b.Payment.Amount)
		assert.Equal(t, models.StatusPending, b.Status)
		repo.AssertExpectations(t)
		bus.AssertExpectations(t)
		outbox.AssertExpectations(t)
	})

	t.Run("CreateForSomeoneElse", func(t *testing.T) {
		_, _, err := svc.Create(ctx, clientActor, booking.CreateRequest{ClientID: 3, TrainerID: 1}, "")
		assert.ErrorIs(t, err, domain.ErrForbidden)
	})

	t.Run("CreateUnknownTrainer", func(t *testing.T) {
		repo.On("GetUserByID", ctx, int64(2)).Return(&models.User{ID: 2, Role: models.RoleClient}, nil).Once()
		repo.On("GetUserByID", ctx, int64(77)).Return(nil, database.ErrUserNotFound).Once()

		_, _, err := svc.Create(ctx, clientActor, booking.CreateRequest{TrainerID: 77, SessionDate: "2030-01-07"}, "")
		assert.ErrorIs(t, err, domain.ErrNotFound)
		repo.AssertExpectations(t)
	})

	t.Run("CreateConflict", func(t *testing.T) {
		trainer := &models.User{ID: 1, Role: models.RoleTrainer, IsApproved: true}
		repo.On("GetUserByID", ctx, int64(2)).Return(&models.User{ID: 2, Role: models.RoleClient}, nil).Once()
		repo.On("GetUserByID", ctx, int64(1)).Return(trainer, nil).Once()
		repo.On("CreateBookingWithLock", ctx, mock.Anything, 30).Return(database.ErrTrainerBusy).Once()

		_, _, err := svc.Create(ctx, clientActor, booking.CreateRequest{
			TrainerID:   1,
			SessionDate: "2030-01-07",
			SessionTime: models.SessionTime{Start: "10:30"},
			Duration:    30,
			SessionType: models.SessionInPerson,
		}, "")
		assert.ErrorIs(t, err, domain.ErrConflict)
		assert.Contains(t, err.Error(), "trainer")
		repo.AssertExpectations(t)
	})

	t.Run("Approve", func(t *testing.T) {
		repo.On("GetBooking", ctx, int64(10)).Return(pendingBooking(10), nil).Once()
		repo.On("UpdateBookingWithVersion", ctx, mock.MatchedBy(func(b *models.Booking) bool {
			return b.Status == models.StatusApproved && b.TrainerNotes == "bring water"
		})).Return(nil).Once()
		bus.On("PublishJSON", events.EventBookingApproved, mock.Anything).Return(nil).Once()
		outbox.On("EnqueueTask", ctx, events.EventBookingApproved, mock.Anything).Return(nil).Once()

		b, err := svc.Approve(ctx, trainerActor, 10, "bring water")
		require.NoError(t, err)
		assert.Equal(t, models.StatusApproved, b.Status)
		require.Len(t, b.Responses, 1)
		assert.Equal(t, "approve", b.Responses[0].Action)
		repo.AssertExpectations(t)
	})

	t.Run("ApproveByClientForbidden", func(t *testing.T) {
		repo.On("GetBooking", ctx, int64(11)).Return(pendingBooking(11), nil).Once()

		_, err := svc.Approve(ctx, clientActor, 11, "")
		assert.ErrorIs(t, err, domain.ErrForbidden)
		repo.AssertExpectations(t)
	})

	t.Run("RetriesLostRace", func(t *testing.T) {
		repo.On("GetBooking", ctx, int64(12)).Return(pendingBooking(12), nil).Twice()
		repo.On("UpdateBookingWithVersion", ctx, mock.Anything).Return(database.ErrConcurrentModification).Once()
		repo.On("UpdateBookingWithVersion", ctx, mock.Anything).Return(nil).Once()
		bus.On("PublishJSON", events.EventBookingRejected, mock.Anything).Return(nil).Once()
		outbox.On("EnqueueTask", ctx, events.EventBookingRejected, mock.Anything).Return(nil).Once()

		b, err := svc.Reject(ctx, trainerActor, 12, "fully booked")
		require.NoError(t, err)
		assert.Equal(t, models.StatusRejected, b.Status)
		repo.AssertExpectations(t)
	})

	t.Run("GivesUpAfterRetries", func(t *testing.T) {
		repo.On("GetBooking", ctx, int64(13)).Return(pendingBooking(13), nil).Times(maxWriteAttempts)
		repo.On("UpdateBookingWithVersion", ctx, mock.Anything).Return(database.ErrConcurrentModification).Times(maxWriteAttempts)

		_, err := svc.Cancel(ctx, clientActor, 13, "")
		assert.ErrorIs(t, err, domain.ErrConflict)
		repo.AssertExpectations(t)
	})

	t.Run("NotFound", func(t *testing.T) {
		repo.On("GetBooking", ctx, int64(404)).Return(nil, database.ErrBookingNotFound).Once()

		_, err := svc.Cancel(ctx, clientActor, 404, "")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("SideEffectFailuresAreSwallowed", func(t *testing.T) {
		repo.On("GetBooking", ctx, int64(14)).Return(pendingBooking(14), nil).Once()
		repo.On("UpdateBookingWithVersion", ctx, mock.Anything).Return(nil).Once()
		bus.On("PublishJSON", events.EventBookingCancelled, mock.Anything).Return(errors.New("broker down")).Once()
		outbox.On("EnqueueTask", ctx, events.EventBookingCancelled, mock.Anything).Return(errors.New("disk full")).Once()

		b, err := svc.Cancel(ctx, clientActor, 14, "sick")
		require.NoError(t, err)
		assert.Equal(t, models.StatusCancelled, b.Status)
		assert.Equal(t, "sick", b.Cancellation.Reason)
	})

	t.Run("RatePassesPreviousRating", func(t *testing.T) {
		prev := 3
		completed := pendingBooking(15)
		completed.Status = models.StatusCompleted
		completed.Completion = &models.Completion{ClientAttended: true, ClientRating: &prev}

		repo.On("GetBooking", ctx, int64(15)).Return(completed, nil).Once()
		repo.On("RateBookingWithVersion", ctx, mock.MatchedBy(func(b *models.Booking) bool {
			return b.ClientRating() == 5
		}), 3).Return(nil).Once()
		bus.On("PublishJSON", events.EventBookingRated, mock.Anything).Return(nil).Once()
		outbox.On("EnqueueTask", ctx, events.EventBookingRated, mock.Anything).Return(nil).Once()

		b, err := svc.Rate(ctx, clientActor, 15, 5, "great")
		require.NoError(t, err)
		assert.Equal(t, 5, b.ClientRating())
		assert.Equal(t, "great", b.Completion.SessionNotes)
		repo.AssertExpectations(t)
	})

	t.Run("RescheduleValidatesFirst", func(t *testing.T) {
		_, err := svc.Reschedule(ctx, clientActor, 16, "not-a-date", models.SessionTime{Start: "10:00"}, 60)
		assert.ErrorIs(t, err, domain.ErrValidation)
	})

	t.Run("Reschedule", func(t *testing.T) {
		repo.On("GetBooking", ctx, int64(17)).Return(pendingBooking(17), nil).Once()
		repo.On("RescheduleBookingWithLock", ctx, mock.MatchedBy(func(b *models.Booking) bool {
			return b.SessionTime.Start == "14:00" && b.SessionTime.End == "15:00"
		}), 30).Return(nil).Once()
		bus.On("PublishJSON", events.EventBookingRescheduled, mock.Anything).Return(nil).Once()
		outbox.On("EnqueueTask", ctx, events.EventBookingRescheduled, mock.Anything).Return(nil).Once()

		b, err := svc.Reschedule(ctx, trainerActor, 17, "2030-01-08", models.SessionTime{Start: "14:00"}, 0)
		require.NoError(t, err)
		assert.Equal(t, "2030-01-08", b.SessionDate.Format(models.DateLayout))
		assert.Equal(t, 50.0, b.Payment.Amount)
		repo.AssertExpectations(t)
	})

	t.Run("DeleteRequiresAdmin", func(t *testing.T) {
		repo.On("GetBooking", ctx, int64(18)).Return(pendingBooking(18), nil).Once()

		err := svc.Delete(ctx, trainerActor, 18)
		assert.ErrorIs(t, err, domain.ErrForbidden)
	})

	t.Run("GetChecksParties", func(t *testing.T) {
		repo.On("GetBooking", ctx, int64(19)).Return(pendingBooking(19), nil).Times(3)

		_, err := svc.Get(ctx, booking.Actor{ID: 5, Role: models.RoleClient}, 19)
		assert.ErrorIs(t, err, domain.ErrForbidden)

		b, err := svc.Get(ctx, clientActor, 19)
		require.NoError(t, err)
		assert.Equal(t, int64(19), b.ID)

		_, err = svc.Get(ctx, adminActor, 19)
		assert.NoError(t, err)
	})

	t.Run("ListRejectsUnknownStatus", func(t *testing.T) {
		_, err := svc.List(ctx, clientActor, "archived")
		assert.ErrorIs(t, err, domain.ErrValidation)

		repo.On("GetUserBookings", ctx, int64(2), "approved").Return([]*models.Booking{}, nil).Once()
		list, err := svc.List(ctx, clientActor, "Approved")
		require.NoError(t, err)
		assert.Empty(t, list)
	})

	t.Run("RecomputeRating", func(t *testing.T) {
		_, err := svc.RecomputeRating(ctx, trainerActor, 1)
		assert.ErrorIs(t, err, domain.ErrForbidden)

		repo.On("GetUserByID", ctx, int64(1)).Return(&models.User{ID: 1, Role: models.RoleTrainer}, nil).Once()
		repo.On("RecomputeTrainerRating", ctx, int64(1)).Return(models.Rating{Sum: 13, Count: 3, Average: 4.3}, nil).Once()
		bus.On("PublishJSON", events.EventRatingRecomputed, mock.Anything).Return(nil).Once()

		rating, err := svc.RecomputeRating(ctx, adminActor, 1)
		require.NoError(t, err)
		assert.Equal(t, 4.3, rating.Average)
	})

	t.Run("TrainerProfileRejectsClients", func(t *testing.T) {
		repo.On("GetUserByID", ctx, int64(2)).Return(&models.User{ID: 2, Role: models.RoleClient}, nil).Once()

		_, err := svc.TrainerProfile(ctx, 2)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("InternalErrorsAreWrapped", func(t *testing.T) {
		repo.On("GetBooking", ctx, int64(500)).Return(nil, errors.New("disk I/O error")).Once()

		_, err := svc.Approve(ctx, trainerActor, 500, "")
		require.Error(t, err)
		assert.Equal(t, domain.KindInternal, domain.Kind(err))
	})
}

func TestRulesFromConfig(t *testing.T) {
	rules := RulesFromConfig(config.BookingConfig{ConflictBufferMinutes: 15, SlotMinutes: 30, EnforceSessionDetails: true})
	assert.Equal(t, 15, rules.BufferMinutes)
	assert.Equal(t, 30, rules.SlotMinutes)
	assert.True(t, rules.StrictSessionDetails)
	assert.Equal(t, models.DefaultDurationMinutes, rules.DefaultDuration)
	assert.Equal(t, models.DefaultHourlyRate, rules.DefaultHourlyRate)
}
