package database

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"testing"

	"trainhub/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConcurrentBooking(t *testing.T) {
	logger := zerolog.New(io.Discard)
	dbPath := filepath.Join(t.TempDir(), "concurrency.db")
	db, err := NewDB(dbPath, &logger)
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	seedUsers(t, db)

	const numGoroutines = 10
	// отдельный клиент на каждую горутину, тренер общий
	for i := 0; i < numGoroutines; i++ {
		require.NoError(t, db.UpsertUser(ctx, &models.User{
			ID: int64(100 + i), Name: fmt.Sprintf("client-%d", i), Role: models.RoleClient,
		}))
	}

	var wg sync.WaitGroup
	wg.Add(numGoroutines)

	results := make(chan error, numGoroutines)

	for i := 0; i < numGoroutines; i++ {
		go func(id int) {
			defer wg.Done()
			b := newBooking(trainerID, int64(100+id), "10:00", 60)
			results <- db.CreateBookingWithLock(ctx, b, 30)
		}(i)
	}

	wg.Wait()
	close(results)

	successCount := 0
	conflictCount := 0
	for err := range results {
		switch {
		case err == nil:
			successCount++
		case errors.Is(err, ErrTrainerBusy), errors.Is(err, ErrSlotTaken):
			conflictCount++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}

	assert.Equal(t, 1, successCount, "Only one booking should succeed")
	assert.Equal(t, numGoroutines-1, conflictCount)

	active, err := db.GetActiveTrainerBookings(ctx, trainerID, sessionDay)
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestConcurrentUpdate_SingleWinner(t *testing.T) {
	logger := zerolog.New(io.Discard)
	db, err := NewDB(filepath.Join(t.TempDir(), "cas.db"), &logger)
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	seedUsers(t, db)

	b := newBooking(trainerID, clientID, "10:00", 60)
	require.NoError(t, db.CreateBookingWithLock(ctx, b, 30))

	const writers = 8
	var wg sync.WaitGroup
	results := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			copied := *b
			if i%2 == 0 {
				copied.Status = models.StatusApproved
			} else {
				copied.Status = models.StatusCancelled
			}
			results <- db.UpdateBookingWithVersion(ctx, &copied)
		}(i)
	}
	wg.Wait()
	close(results)

	wins := 0
	for err := range results {
		if err == nil {
			wins++
			continue
		}
		assert.ErrorIs(t, err, ErrConcurrentModification)
	}
	assert.Equal(t, 1, wins)

	stored, err := db.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stored.Version)
}
