package models

import "time"

// User is a record of the identity store. The booking core only writes the
// rating aggregate.
type User struct {
	ID             int64         `json:"id" yaml:"id"`
	Name           string        `json:"name" yaml:"name"`
	Email          string        `json:"email" yaml:"email"`
	Role           string        `json:"role" yaml:"role"`
	IsApproved     bool          `json:"isApproved" yaml:"is_approved"`
	HourlyRate     *float64      `json:"hourlyRate,omitempty" yaml:"hourly_rate"`
	Availability   *Availability `json:"availability,omitempty" yaml:"availability"`
	TelegramChatID int64         `json:"-" yaml:"telegram_chat_id"`
	Rating         Rating        `json:"rating" yaml:"-"`
	CreatedAt      time.Time     `json:"createdAt" yaml:"-"`
	UpdatedAt      time.Time     `json:"updatedAt" yaml:"-"`
}

func (u *User) IsTrainer() bool { return u.Role == RoleTrainer }
func (u *User) IsAdmin() bool   { return u.Role == RoleAdmin }

// Rate returns the hourly rate or the provided fallback when unset.
func (u *User) Rate(fallback float64) float64 {
	if u.HourlyRate == nil || *u.HourlyRate <= 0 {
		return fallback
	}
	return *u.HourlyRate
}

// Rating is the incrementally maintained trainer rating aggregate.
type Rating struct {
	Sum     int64   `json:"-"`
	Count   int64   `json:"count"`
	Average float64 `json:"average"`
}
