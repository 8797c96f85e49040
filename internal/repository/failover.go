package repository

import (
	"context"
	"sync/atomic"
	"time"

	"trainhub/internal/domain"

	"github.com/rs/zerolog"
)

const recoveryInterval = time.Minute

// FailoverStateRepository serves from primary (Redis) and switches to the
// fallback while primary is failing, probing it again once a minute.
type FailoverStateRepository struct {
	primary   domain.RequestStateRepository
	fallback  domain.RequestStateRepository
	logger    *zerolog.Logger
	isDown    atomic.Bool
	lastCheck atomic.Int64
	now       func() time.Time
}

func NewFailoverStateRepository(primary, fallback domain.RequestStateRepository, logger *zerolog.Logger) *FailoverStateRepository {
	return &FailoverStateRepository{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
		now:      time.Now,
	}
}

// usePrimary reports whether the next call should go to primary.
func (r *FailoverStateRepository) usePrimary() bool {
	if !r.isDown.Load() {
		return true
	}
	// Try to recover after 1 minute
	return r.now().Sub(time.Unix(0, r.lastCheck.Load())) > recoveryInterval
}

func (r *FailoverStateRepository) markDown(err error) {
	if !r.isDown.Swap(true) {
		r.logger.Error().Err(err).Msg("Primary state repository failed, falling back to memory")
	}
	r.lastCheck.Store(r.now().UnixNano())
}

func (r *FailoverStateRepository) markUp() {
	if r.isDown.Swap(false) {
		r.logger.Info().Msg("Primary state repository recovered")
	}
}

func (r *FailoverStateRepository) GetIdempotentBooking(ctx context.Context, clientID int64, key string) (int64, bool, error) {
	if r.usePrimary() {
		id, ok, err := r.primary.GetIdempotentBooking(ctx, clientID, key)
		if err == nil {
			r.markUp()
			return id, ok, nil
		}
		r.markDown(err)
	}
	return r.fallback.GetIdempotentBooking(ctx, clientID, key)
}

func (r *FailoverStateRepository) SetIdempotentBooking(ctx context.Context, clientID int64, key string, bookingID int64, ttl time.Duration) error {
	if r.usePrimary() {
		err := r.primary.SetIdempotentBooking(ctx, clientID, key, bookingID, ttl)
		if err == nil {
			r.markUp()
			return nil
		}
		r.markDown(err)
	}
	return r.fallback.SetIdempotentBooking(ctx, clientID, key, bookingID, ttl)
}

func (r *FailoverStateRepository) CheckRateLimit(ctx context.Context, userID int64, limit int, window time.Duration) (bool, error) {
	if r.usePrimary() {
		allowed, err := r.primary.CheckRateLimit(ctx, userID, limit, window)
		if err == nil {
			r.markUp()
			return allowed, nil
		}
		r.markDown(err)
	}
	return r.fallback.CheckRateLimit(ctx, userID, limit, window)
}
