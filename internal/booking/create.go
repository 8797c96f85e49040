package booking

import (
	"strings"
	"time"

	"trainhub/internal/domain"
	"trainhub/internal/models"
)

// Rules are the tunable scheduling and pricing parameters.
type Rules struct {
	BufferMinutes        int
	SlotMinutes          int
	DefaultDuration      int
	DefaultHourlyRate    float64
	Currency             string
	MaxBookingDays       int
	StrictSessionDetails bool
}

func DefaultRules() Rules {
	return Rules{
		BufferMinutes:     models.DefaultConflictBufferMinutes,
		SlotMinutes:       models.DefaultSlotMinutes,
		DefaultDuration:   models.DefaultDurationMinutes,
		DefaultHourlyRate: models.DefaultHourlyRate,
		Currency:          models.DefaultCurrency,
		MaxBookingDays:    models.DefaultMaxBookingDays,
	}
}

type CreateRequest struct {
	ClientID    int64
	TrainerID   int64
	SessionDate string
	SessionTime models.SessionTime
	Duration    int
	SessionType string
	Location    string
	MeetingLink string
	Goals       []string
	ClientNotes string
}

// Schedule is a validated session placement.
type Schedule struct {
	Date   time.Time
	Window Window
}

// ParseSchedule validates a requested date, start/end and duration. A zero
// duration is derived from the end bound when one is given, otherwise the
// default duration applies. When both are given, duration wins and the end is
// recomputed from it.
func ParseSchedule(date string, st models.SessionTime, duration int, rules Rules, now time.Time) (Schedule, error) {
	d, err := time.Parse(models.DateLayout, strings.TrimSpace(date))
	if err != nil {
		return Schedule{}, domain.Validationf("invalid sessionDate %q, expected YYYY-MM-DD", date)
	}

	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if d.Before(today) {
		return Schedule{}, domain.Validationf("sessionDate %s is in the past", date)
	}
	if rules.MaxBookingDays > 0 && d.After(today.AddDate(0, 0, rules.MaxBookingDays)) {
		return Schedule{}, domain.Validationf("sessionDate %s is more than %d days ahead", date, rules.MaxBookingDays)
	}

	start, err := ParseClock(st.Start)
	if err != nil {
		return Schedule{}, domain.Validationf("sessionTime.start: %v", err)
	}

	if duration < 0 {
		return Schedule{}, domain.Validationf("duration must be positive, got %d", duration)
	}
	if st.End != "" {
		end, err := ParseClock(st.End)
		if err != nil {
			return Schedule{}, domain.Validationf("sessionTime.end: %v", err)
		}
		if end <= start {
			return Schedule{}, domain.Validationf("sessionTime.end must be after start")
		}
		// duration побеждает, end пересчитывается
		if duration == 0 {
			duration = end - start
		}
	}
	if duration == 0 {
		duration = rules.DefaultDuration
		if duration <= 0 {
			duration = models.DefaultDurationMinutes
		}
	}

	w := Window{Start: start, End: start + duration}
	if w.End > minutesPerDay {
		return Schedule{}, domain.Validationf("session must end on the same day")
	}

	return Schedule{Date: d, Window: w}, nil
}

// NewBooking validates a create request against the referenced trainer and
// returns a pending booking priced at the trainer's hourly rate.
func NewBooking(req CreateRequest, trainer *models.User, rules Rules, now time.Time) (*models.Booking, error) {
	if req.TrainerID == 0 {
		return nil, domain.Validationf("trainerId is required")
	}
	if trainer == nil {
		return nil, domain.NotFoundf("trainer %d not found", req.TrainerID)
	}
	if !trainer.IsTrainer() {
		return nil, domain.Validationf("user %d is not a trainer", trainer.ID)
	}
	if !trainer.IsApproved {
		return nil, domain.Validationf("trainer %d is not approved", trainer.ID)
	}

	sched, err := ParseSchedule(req.SessionDate, req.SessionTime, req.Duration, rules, now)
	if err != nil {
		return nil, err
	}

	session, err := NewSessionDetails(req.SessionType, req.Location, req.MeetingLink, rules.StrictSessionDetails)
	if err != nil {
		return nil, err
	}

	rate := trainer.Rate(rules.DefaultHourlyRate)
	if rate <= 0 {
		rate = models.DefaultHourlyRate
	}
	currency := rules.Currency
	if currency == "" {
		currency = models.DefaultCurrency
	}

	return &models.Booking{
		ClientID:    req.ClientID,
		TrainerID:   trainer.ID,
		Status:      models.StatusPending,
		SessionDate: sched.Date,
		SessionTime: sched.Window.SessionTime(),
		Duration:    sched.Window.Duration(),
		Session:     session,
		Goals:       req.Goals,
		ClientNotes: strings.TrimSpace(req.ClientNotes),
		Payment: models.Payment{
			Amount:   PaymentAmount(sched.Window.Duration(), rate),
			Currency: currency,
			Status:   models.PaymentPending,
		},
		Responses: []models.Response{},
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}
