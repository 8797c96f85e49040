package models

import "time"

// Availability is a trainer's recurring weekly template.
type Availability struct {
	Days      []string   `json:"days" yaml:"days"`
	TimeSlots []TimeSlot `json:"timeSlots" yaml:"time_slots"`
}

// TimeSlot is a wall-clock range, start inclusive and end exclusive.
type TimeSlot struct {
	Start string `json:"start" yaml:"start"`
	End   string `json:"end" yaml:"end"`
}

// DaySchedule is the result of an availability query for one date.
type DaySchedule struct {
	TrainerID      int64      `json:"trainerId"`
	Date           string     `json:"date"`
	AvailableSlots []TimeSlot `json:"availableSlots"`
	Message        string     `json:"message,omitempty"`
}

const (
	PartyTrainer = "trainer"
	PartyClient  = "client"
)

// ConflictQuery describes a proposed session window for one party.
type ConflictQuery struct {
	Party            string
	PartyID          int64
	Date             time.Time
	Start            string
	Duration         int
	ExcludeBookingID int64
	BufferMinutes    int
}
