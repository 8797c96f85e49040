package booking

import (
	"errors"
	"testing"

	"trainhub/internal/domain"
	"trainhub/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func approvedTrainer(rate float64) *models.User {
	return &models.User{ID: trainerID, Role: models.RoleTrainer, IsApproved: true, HourlyRate: &rate}
}

func validRequest() CreateRequest {
	return CreateRequest{
		ClientID:    clientID,
		TrainerID:   trainerID,
		SessionDate: "2024-06-01",
		SessionTime: models.SessionTime{Start: "10:00"},
		SessionType: models.SessionInPerson,
		Location:    "Main gym",
	}
}

func TestNewBooking_PaymentAmount(t *testing.T) {
	req := validRequest()
	req.Duration = 90

	b, err := NewBooking(req, approvedTrainer(60), DefaultRules(), testNow)
	require.NoError(t, err)

	assert.Equal(t, 90.0, b.Payment.Amount)
	assert.Equal(t, models.PaymentPending, b.Payment.Status)
	assert.Equal(t, models.StatusPending, b.Status)
	assert.Equal(t, models.SessionTime{Start: "10:00", End: "11:30"}, b.SessionTime)
	assert.Equal(t, "2024-06-01", b.SessionDate.Format(models.DateLayout))
}

func TestNewBooking_DefaultRateAndDuration(t *testing.T) {
	trainer := &models.User{ID: trainerID, Role: models.RoleTrainer, IsApproved: true}

	b, err := NewBooking(validRequest(), trainer, DefaultRules(), testNow)
	require.NoError(t, err)

	assert.Equal(t, 60, b.Duration)
	assert.Equal(t, 50.0, b.Payment.Amount)
	assert.Equal(t, "USD", b.Payment.Currency)
}

func TestNewBooking_DurationFromEnd(t *testing.T) {
	req := validRequest()
	req.SessionTime.End = "10:45"

	b, err := NewBooking(req, approvedTrainer(60), DefaultRules(), testNow)
	require.NoError(t, err)
	assert.Equal(t, 45, b.Duration)
	assert.Equal(t, 45.0, b.Payment.Amount)
}

func TestNewBooking_TrainerChecks(t *testing.T) {
	t.Run("MissingID", func(t *testing.T) {
		req := validRequest()
		req.TrainerID = 0
		_, err := NewBooking(req, nil, DefaultRules(), testNow)
		assert.True(t, errors.Is(err, domain.ErrValidation))
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := NewBooking(validRequest(), nil, DefaultRules(), testNow)
		assert.True(t, errors.Is(err, domain.ErrNotFound))
	})

	t.Run("NotATrainer", func(t *testing.T) {
		u := approvedTrainer(50)
		u.Role = models.RoleClient
		_, err := NewBooking(validRequest(), u, DefaultRules(), testNow)
		assert.True(t, errors.Is(err, domain.ErrValidation))
	})

	t.Run("NotApproved", func(t *testing.T) {
		u := approvedTrainer(50)
		u.IsApproved = false
		_, err := NewBooking(validRequest(), u, DefaultRules(), testNow)
		assert.True(t, errors.Is(err, domain.ErrValidation))
	})
}

func TestParseSchedule(t *testing.T) {
	rules := DefaultRules()

	tests := []struct {
		name     string
		date     string
		st       models.SessionTime
		duration int
		wantErr  bool
	}{
		{"valid", "2024-06-01", models.SessionTime{Start: "10:00"}, 60, false},
		{"bad date", "01/06/2024", models.SessionTime{Start: "10:00"}, 60, true},
		{"past date", "2024-05-31", models.SessionTime{Start: "10:00"}, 60, true},
		{"too far", "2025-06-01", models.SessionTime{Start: "10:00"}, 60, true},
		{"bad start", "2024-06-01", models.SessionTime{Start: "10am"}, 60, true},
		{"end before start", "2024-06-01", models.SessionTime{Start: "10:00", End: "09:00"}, 0, true},
		{"negative duration", "2024-06-01", models.SessionTime{Start: "10:00"}, -30, true},
		{"past midnight", "2024-06-01", models.SessionTime{Start: "23:30"}, 60, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSchedule(tt.date, tt.st, tt.duration, rules, testNow)
			if tt.wantErr {
				assert.True(t, errors.Is(err, domain.ErrValidation), "got %v", err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestParseSchedule_EndAndDuration(t *testing.T) {
	rules := DefaultRules()

	t.Run("DurationWins", func(t *testing.T) {
		sched, err := ParseSchedule("2024-06-01", models.SessionTime{Start: "10:00", End: "11:00"}, 30, rules, testNow)
		require.NoError(t, err)
		assert.Equal(t, 30, sched.Window.Duration())
		assert.Equal(t, models.SessionTime{Start: "10:00", End: "10:30"}, sched.Window.SessionTime())
	})

	t.Run("EndDerivesDuration", func(t *testing.T) {
		sched, err := ParseSchedule("2024-06-01", models.SessionTime{Start: "10:00", End: "11:30"}, 0, rules, testNow)
		require.NoError(t, err)
		assert.Equal(t, 90, sched.Window.Duration())
	})
}

func TestNewSessionDetails(t *testing.T) {
	t.Run("VariantKeepsOwnFields", func(t *testing.T) {
		s, err := NewSessionDetails("virtual", "Main gym", "https://meet.example/abc", false)
		require.NoError(t, err)
		assert.Equal(t, models.SessionDetails{Type: models.SessionVirtual, MeetingLink: "https://meet.example/abc"}, s)

		s, err = NewSessionDetails("in-person", "Main gym", "https://meet.example/abc", false)
		require.NoError(t, err)
		assert.Equal(t, models.SessionDetails{Type: models.SessionInPerson, Location: "Main gym"}, s)

		s, err = NewSessionDetails("hybrid", "Main gym", "https://meet.example/abc", false)
		require.NoError(t, err)
		assert.Equal(t, "Main gym", s.Location)
		assert.Equal(t, "https://meet.example/abc", s.MeetingLink)
	})

	t.Run("Lenient", func(t *testing.T) {
		s, err := NewSessionDetails("virtual", "", "", false)
		require.NoError(t, err)
		assert.Equal(t, models.SessionVirtual, s.Type)
	})

	t.Run("Strict", func(t *testing.T) {
		_, err := NewSessionDetails("virtual", "", "", true)
		assert.True(t, errors.Is(err, domain.ErrValidation))
		_, err = NewSessionDetails("in-person", "", "", true)
		assert.True(t, errors.Is(err, domain.ErrValidation))
		_, err = NewSessionDetails("hybrid", "gym", "", true)
		assert.True(t, errors.Is(err, domain.ErrValidation))
	})

	t.Run("UnknownType", func(t *testing.T) {
		_, err := NewSessionDetails("telepathic", "", "", false)
		assert.True(t, errors.Is(err, domain.ErrValidation))
	})
}
