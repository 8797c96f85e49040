package repository

import (
	"context"
	"sync"
	"time"
)

// MemoryStateRepository keeps request state in process memory. Entries
// expire lazily on read.
type MemoryStateRepository struct {
	mu          sync.Mutex
	idempotency map[string]idempotencyEntry
	rateLimits  sync.Map
	now         func() time.Time
}

type idempotencyEntry struct {
	bookingID int64
	expiresAt time.Time
}

func NewMemoryStateRepository() *MemoryStateRepository {
	return &MemoryStateRepository{
		idempotency: make(map[string]idempotencyEntry),
		now:         time.Now,
	}
}

func (r *MemoryStateRepository) GetIdempotentBooking(_ context.Context, clientID int64, key string) (int64, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := idempotencyKey(clientID, key)
	entry, ok := r.idempotency[k]
	if !ok {
		return 0, false, nil
	}
	if r.now().After(entry.expiresAt) {
		delete(r.idempotency, k)
		return 0, false, nil
	}
	return entry.bookingID, true, nil
}

func (r *MemoryStateRepository) SetIdempotentBooking(_ context.Context, clientID int64, key string, bookingID int64, ttl time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := idempotencyKey(clientID, key)
	now := r.now()
	if entry, ok := r.idempotency[k]; ok && !now.After(entry.expiresAt) {
		return nil
	}
	r.idempotency[k] = idempotencyEntry{bookingID: bookingID, expiresAt: now.Add(ttl)}
	return nil
}

type rateLimitEntry struct {
	mu        sync.Mutex
	count     int
	expiresAt time.Time
}

func (r *MemoryStateRepository) CheckRateLimit(_ context.Context, userID int64, limit int, window time.Duration) (bool, error) {
	now := r.now()
	val, _ := r.rateLimits.LoadOrStore(userID, &rateLimitEntry{})
	entry := val.(*rateLimitEntry)

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.count == 0 || now.After(entry.expiresAt) {
		entry.count = 1
		entry.expiresAt = now.Add(window)
	} else {
		entry.count++
	}
	return entry.count <= limit, nil
}
