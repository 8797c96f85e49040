package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStateRepository(t *testing.T) {
	repo := NewMemoryStateRepository()
	now := time.Date(2024, 7, 1, 9, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return now }
	ctx := context.Background()

	t.Run("IdempotencyKey", func(t *testing.T) {
		require.NoError(t, repo.SetIdempotentBooking(ctx, 1, "k1", 100, time.Hour))
		require.NoError(t, repo.SetIdempotentBooking(ctx, 1, "k1", 200, time.Hour))

		id, ok, err := repo.GetIdempotentBooking(ctx, 1, "k1")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, int64(100), id)

		now = now.Add(2 * time.Hour)
		_, ok, err = repo.GetIdempotentBooking(ctx, 1, "k1")
		require.NoError(t, err)
		assert.False(t, ok)

		// истёкший ключ можно занять заново
		require.NoError(t, repo.SetIdempotentBooking(ctx, 1, "k1", 300, time.Hour))
		id, _, _ = repo.GetIdempotentBooking(ctx, 1, "k1")
		assert.Equal(t, int64(300), id)
	})

	t.Run("RateLimit", func(t *testing.T) {
		userID := int64(789)
		limit := 2
		window := 100 * time.Millisecond

		allowed, _ := repo.CheckRateLimit(ctx, userID, limit, window)
		assert.True(t, allowed)
		allowed, _ = repo.CheckRateLimit(ctx, userID, limit, window)
		assert.True(t, allowed)
		allowed, _ = repo.CheckRateLimit(ctx, userID, limit, window)
		assert.False(t, allowed)

		now = now.Add(150 * time.Millisecond)
		allowed, _ = repo.CheckRateLimit(ctx, userID, limit, window)
		assert.True(t, allowed)
	})
}

func TestMemoryStateRepository_ConcurrentRateLimit(t *testing.T) {
	repo := NewMemoryStateRepository()
	ctx := context.Background()

	const callers = 50
	var wg sync.WaitGroup
	var mu sync.Mutex
	allowedCount := 0

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			allowed, err := repo.CheckRateLimit(ctx, 1, 10, time.Hour)
			assert.NoError(t, err)
			if allowed {
				mu.Lock()
				allowedCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, allowedCount)
}
