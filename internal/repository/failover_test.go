package repository

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockRepo struct {
	mock.Mock
}

func (m *mockRepo) GetIdempotentBooking(ctx context.Context, clientID int64, key string) (int64, bool, error) {
	args := m.Called(ctx, clientID, key)
	return args.Get(0).(int64), args.Bool(1), args.Error(2)
}

func (m *mockRepo) SetIdempotentBooking(ctx context.Context, clientID int64, key string, bookingID int64, ttl time.Duration) error {
	args := m.Called(ctx, clientID, key, bookingID, ttl)
	return args.Error(0)
}

func (m *mockRepo) CheckRateLimit(ctx context.Context, userID int64, limit int, window time.Duration) (bool, error) {
	args := m.Called(ctx, userID, limit, window)
	return args.Bool(0), args.Error(1)
}

func TestFailoverStateRepository(t *testing.T) {
	logger := zerolog.New(io.Discard)
	ctx := context.Background()

	t.Run("PrimaryHealthy", func(t *testing.T) {
		primary := new(mockRepo)
		fallback := NewMemoryStateRepository()
		repo := NewFailoverStateRepository(primary, fallback, &logger)

		primary.On("GetIdempotentBooking", ctx, int64(1), "k").Return(int64(5), true, nil).Once()

		id, ok, err := repo.GetIdempotentBooking(ctx, 1, "k")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, int64(5), id)
		primary.AssertExpectations(t)
	})

	t.Run("FallbackAndRecovery", func(t *testing.T) {
		primary := new(mockRepo)
		fallback := NewMemoryStateRepository()
		repo := NewFailoverStateRepository(primary, fallback, &logger)
		now := time.Date(2024, 7, 1, 9, 0, 0, 0, time.UTC)
		repo.now = func() time.Time { return now }

		primary.On("SetIdempotentBooking", ctx, int64(1), "k", int64(9), time.Hour).
			Return(errors.New("redis down")).Once()

		require.NoError(t, repo.SetIdempotentBooking(ctx, 1, "k", 9, time.Hour))
		assert.True(t, repo.isDown.Load())

		// пока primary лежит, чтение идёт из памяти без обращения к нему
		id, ok, err := repo.GetIdempotentBooking(ctx, 1, "k")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, int64(9), id)

		allowed, err := repo.CheckRateLimit(ctx, 1, 1, time.Minute)
		require.NoError(t, err)
		assert.True(t, allowed)

		// через минуту пробуем primary снова
		now = now.Add(2 * time.Minute)
		primary.On("CheckRateLimit", ctx, int64(1), 1, time.Minute).Return(true, nil).Once()

		allowed, err = repo.CheckRateLimit(ctx, 1, 1, time.Minute)
		require.NoError(t, err)
		assert.True(t, allowed)
		assert.False(t, repo.isDown.Load())
		primary.AssertExpectations(t)
	})

	t.Run("RecoveryProbeFails", func(t *testing.T) {
		primary := new(mockRepo)
		fallback := NewMemoryStateRepository()
		repo := NewFailoverStateRepository(primary, fallback, &logger)
		now := time.Date(2024, 7, 1, 9, 0, 0, 0, time.UTC)
		repo.now = func() time.Time { return now }

		primary.On("CheckRateLimit", ctx, int64(2), 5, time.Minute).Return(false, errors.New("redis down")).Twice()

		_, err := repo.CheckRateLimit(ctx, 2, 5, time.Minute)
		require.NoError(t, err)

		now = now.Add(2 * time.Minute)
		_, err = repo.CheckRateLimit(ctx, 2, 5, time.Minute)
		require.NoError(t, err)
		assert.True(t, repo.isDown.Load())

		// сразу после неудачной проверки primary не трогаем
		_, err = repo.CheckRateLimit(ctx, 2, 5, time.Minute)
		require.NoError(t, err)
		primary.AssertExpectations(t)
	})
}
