package models

import "time"

type Booking struct {
	ID           int64          `json:"id"`
	ClientID     int64          `json:"clientId"`
	TrainerID    int64          `json:"trainerId"`
	Status       string         `json:"status"` // pending, approved, rejected, cancelled, completed
	SessionDate  time.Time      `json:"sessionDate"`
	SessionTime  SessionTime    `json:"sessionTime"`
	Duration     int            `json:"duration"` // minutes
	Session      SessionDetails `json:"session"`
	Goals        []string       `json:"goals,omitempty"`
	ClientNotes  string         `json:"clientNotes,omitempty"`
	TrainerNotes string         `json:"trainerNotes,omitempty"`
	Payment      Payment        `json:"payment"`
	Responses    []Response     `json:"responses"`
	Cancellation *Cancellation  `json:"cancellation,omitempty"`
	Completion   *Completion    `json:"completion,omitempty"`
	IsDeleted    bool           `json:"isDeleted"`
	DeletedAt    *time.Time     `json:"deletedAt,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
	Version      int64          `json:"version"`
}

// IsActive reports whether the booking still occupies schedule space.
func (b *Booking) IsActive() bool {
	return !b.IsDeleted && (b.Status == StatusPending || b.Status == StatusApproved)
}

// ClientRating returns the client's rating or 0 when the booking is unrated.
func (b *Booking) ClientRating() int {
	if b.Completion == nil || b.Completion.ClientRating == nil {
		return 0
	}
	return *b.Completion.ClientRating
}

// SessionTime holds wall-clock "HH:MM" bounds of a session.
type SessionTime struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// SessionDetails is a tagged variant keyed by Type. Only the fields that
// belong to the variant are populated.
type SessionDetails struct {
	Type        string `json:"type"`
	Location    string `json:"location,omitempty"`
	MeetingLink string `json:"meetingLink,omitempty"`
}

type Payment struct {
	Amount   float64    `json:"amount"`
	Currency string     `json:"currency"`
	Status   string     `json:"status"` // pending, paid, refunded, failed
	PaidAt   *time.Time `json:"paidAt,omitempty"`
}

// Response is one append-only audit record of a lifecycle action.
type Response struct {
	RespondedBy int64     `json:"respondedBy"`
	Action      string    `json:"action"`
	Reason      string    `json:"reason,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

type Cancellation struct {
	CancelledBy int64     `json:"cancelledBy"`
	Reason      string    `json:"reason,omitempty"`
	CancelledAt time.Time `json:"cancelledAt"`
}

type Completion struct {
	CompletedAt    time.Time `json:"completedAt"`
	ClientAttended bool      `json:"clientAttended"`
	TrainerRating  *int      `json:"trainerRating,omitempty"`
	ClientRating   *int      `json:"clientRating,omitempty"`
	SessionNotes   string    `json:"sessionNotes,omitempty"`
}
