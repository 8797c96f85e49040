package notify

import (
	"fmt"

	"trainhub/internal/events"
	"trainhub/internal/models"
)

// Recipients returns the user ids that hear about event on b.
func Recipients(event string, b *models.Booking) []int64 {
	switch event {
	case events.EventBookingCreated, events.EventBookingRated:
		return []int64{b.TrainerID}
	case events.EventBookingApproved, events.EventBookingRejected, events.EventBookingCompleted:
		return []int64{b.ClientID}
	case events.EventBookingCancelled, events.EventBookingRescheduled, events.EventBookingDeleted:
		return []int64{b.ClientID, b.TrainerID}
	default:
		return nil
	}
}

// Message renders the plain-text notification for event.
func Message(event string, b *models.Booking) string {
	when := fmt.Sprintf("%s %s-%s", b.SessionDate.Format(models.DateLayout), b.SessionTime.Start, b.SessionTime.End)

	switch event {
	case events.EventBookingCreated:
		return fmt.Sprintf("New booking request #%d for %s (%s).", b.ID, when, b.Session.Type)
	case events.EventBookingApproved:
		return fmt.Sprintf("Your session #%d on %s was approved.", b.ID, when)
	case events.EventBookingRejected:
		return withReason(fmt.Sprintf("Your session #%d on %s was declined.", b.ID, when), lastReason(b))
	case events.EventBookingCancelled:
		reason := ""
		if b.Cancellation != nil {
			reason = b.Cancellation.Reason
		}
		return withReason(fmt.Sprintf("Session #%d on %s was cancelled.", b.ID, when), reason)
	case events.EventBookingCompleted:
		return fmt.Sprintf("Session #%d on %s is complete. You can now rate your trainer.", b.ID, when)
	case events.EventBookingRated:
		return fmt.Sprintf("Session #%d was rated %d/5.", b.ID, b.ClientRating())
	case events.EventBookingRescheduled:
		return fmt.Sprintf("Session #%d moved to %s.", b.ID, when)
	case events.EventBookingDeleted:
		return fmt.Sprintf("Booking #%d was removed by an administrator.", b.ID)
	default:
		return fmt.Sprintf("Booking #%d: %s.", b.ID, event)
	}
}

func lastReason(b *models.Booking) string {
	if len(b.Responses) == 0 {
		return ""
	}
	return b.Responses[len(b.Responses)-1].Reason
}

func withReason(text, reason string) string {
	if reason == "" {
		return text
	}
	return text + " Reason: " + reason
}
