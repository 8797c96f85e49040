package events

import (
	"encoding/json"
	"sync"
	"time"

	"trainhub/internal/models"
)

// Event types double as AMQP routing keys.
const (
	EventBookingCreated     = "booking.created"
	EventBookingApproved    = "booking.approved"
	EventBookingRejected    = "booking.rejected"
	EventBookingCancelled   = "booking.cancelled"
	EventBookingCompleted   = "booking.completed"
	EventBookingRated       = "booking.rated"
	EventBookingRescheduled = "booking.rescheduled"
	EventBookingDeleted     = "booking.deleted"
	EventRatingRecomputed   = "trainer.rating_recomputed"
)

// BookingEvents lists every booking lifecycle event type.
var BookingEvents = []string{
	EventBookingCreated,
	EventBookingApproved,
	EventBookingRejected,
	EventBookingCancelled,
	EventBookingCompleted,
	EventBookingRated,
	EventBookingRescheduled,
	EventBookingDeleted,
}

// BookingEventPayload describes the minimal booking snapshot for event consumers.
type BookingEventPayload struct {
	BookingID   int64     `json:"bookingId"`
	ClientID    int64     `json:"clientId"`
	TrainerID   int64     `json:"trainerId"`
	Status      string    `json:"status"`
	SessionDate string    `json:"sessionDate"`
	StartTime   string    `json:"startTime"`
	EndTime     string    `json:"endTime"`
	Reason      string    `json:"reason,omitempty"`
	ChangedByID int64     `json:"changedById,omitempty"`
	OccurredAt  time.Time `json:"occurredAt"`
}

// NewBookingPayload snapshots b for an event raised by actorID.
func NewBookingPayload(b *models.Booking, actorID int64, reason string, at time.Time) BookingEventPayload {
	return BookingEventPayload{
		BookingID:   b.ID,
		ClientID:    b.ClientID,
		TrainerID:   b.TrainerID,
		Status:      b.Status,
		SessionDate: b.SessionDate.Format(models.DateLayout),
		StartTime:   b.SessionTime.Start,
		EndTime:     b.SessionTime.End,
		Reason:      reason,
		ChangedByID: actorID,
		OccurredAt:  at,
	}
}

// Event represents a lightweight domain event.
type Event struct {
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// ErrorHandler receives handler failures; the bus itself never fails a publish.
type ErrorHandler func(event *Event, err error)

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	onError     ErrorHandler
	mu          sync.RWMutex
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

// OnError installs a sink for handler errors.
func (b *EventBus) OnError(h ErrorHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onError = h
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish notifies subscribers of the event type.
func (b *EventBus) Publish(event *Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	onError := b.onError
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		// Handlers run synchronously; caller decides concurrency model.
		if err := handler(event); err != nil && onError != nil {
			onError(event, err)
		}
	}
}

// PublishJSON serializes the payload and publishes an event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	b.Publish(&Event{Type: eventType, Payload: raw, CreatedAt: time.Now()})
	return nil
}
