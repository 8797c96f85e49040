package booking

import (
	"trainhub/internal/domain"
	"trainhub/internal/models"
)

// ValidateRating checks the 1..5 integer scale.
func ValidateRating(r int) error {
	if r < models.MinRating || r > models.MaxRating {
		return domain.Validationf("rating must be an integer between %d and %d, got %d", models.MinRating, models.MaxRating, r)
	}
	return nil
}

// RatingAverage returns sum/count rounded half up to one decimal place.
// Integer arithmetic keeps 4.25 from drifting to 4.2.
func RatingAverage(sum, count int64) float64 {
	if count <= 0 {
		return 0
	}
	tenths := (20*sum + count) / (2 * count)
	return float64(tenths) / 10
}

// RatingDelta returns how the trainer's {sum, count} aggregate moves when a
// booking's client rating changes from prev to next (0 means unrated).
func RatingDelta(prev, next int) (sum, count int64) {
	sum = int64(next - prev)
	if prev == 0 && next != 0 {
		count = 1
	}
	if prev != 0 && next == 0 {
		count = -1
	}
	return sum, count
}

// NewRating builds the aggregate view from its stored sum and count.
func NewRating(sum, count int64) models.Rating {
	return models.Rating{Sum: sum, Count: count, Average: RatingAverage(sum, count)}
}
