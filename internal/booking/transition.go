package booking

import (
	"strings"
	"time"

	"trainhub/internal/domain"
	"trainhub/internal/models"
)

type Action string

const (
	ActionApprove    Action = "approve"
	ActionReject     Action = "reject"
	ActionCancel     Action = "cancel"
	ActionComplete   Action = "complete"
	ActionRate       Action = "rate"
	ActionReschedule Action = "reschedule"
	ActionDelete     Action = "delete"
)

// Actor is the authenticated user performing a command.
type Actor struct {
	ID   int64
	Role string
}

func (a Actor) IsAdmin() bool { return a.Role == models.RoleAdmin }

// Command is a requested mutation of a booking. Fields not used by Action
// are ignored.
type Command struct {
	Action Action
	Actor  Actor

	Reason       string
	TrainerNotes string

	SessionNotes   string
	ClientAttended *bool
	TrainerRating  *int

	Rating int
	Review string

	// reschedule target, already validated by ParseSchedule
	Schedule *Schedule
}

// Apply returns the booking that results from cmd, or an error when the
// command is not allowed for the actor or the current status. b is never
// modified.
func Apply(b models.Booking, cmd Command, now time.Time) (models.Booking, error) {
	if b.IsDeleted {
		return b, domain.NotFoundf("booking %d not found", b.ID)
	}

	next := clone(b)
	next.UpdatedAt = now

	switch cmd.Action {
	case ActionApprove, ActionReject:
		if cmd.Actor.ID != b.TrainerID {
			return b, domain.Forbiddenf("only the booking's trainer can %s it", cmd.Action)
		}
		if b.Status != models.StatusPending {
			return b, invalidTransition(cmd.Action, b.Status)
		}
		if cmd.Action == ActionApprove {
			next.Status = models.StatusApproved
			if notes := strings.TrimSpace(cmd.TrainerNotes); notes != "" {
				next.TrainerNotes = notes
			}
		} else {
			next.Status = models.StatusRejected
		}
		next.Responses = append(next.Responses, response(cmd, now))

	case ActionCancel:
		if !isParty(b, cmd.Actor) && !cmd.Actor.IsAdmin() {
			return b, domain.Forbiddenf("only the client, the trainer or an administrator can cancel")
		}
		if b.Status != models.StatusPending && b.Status != models.StatusApproved {
			return b, invalidTransition(cmd.Action, b.Status)
		}
		next.Status = models.StatusCancelled
		next.Cancellation = &models.Cancellation{
			CancelledBy: cmd.Actor.ID,
			Reason:      strings.TrimSpace(cmd.Reason),
			CancelledAt: now,
		}
		next.Responses = append(next.Responses, response(cmd, now))

	case ActionComplete:
		if cmd.Actor.ID != b.TrainerID {
			return b, domain.Forbiddenf("only the booking's trainer can complete it")
		}
		if b.Status != models.StatusApproved {
			return b, invalidTransition(cmd.Action, b.Status)
		}
		if cmd.TrainerRating != nil {
			if err := ValidateRating(*cmd.TrainerRating); err != nil {
				return b, err
			}
		}
		attended := true
		if cmd.ClientAttended != nil {
			attended = *cmd.ClientAttended
		}
		next.Status = models.StatusCompleted
		next.Completion = &models.Completion{
			CompletedAt:    now,
			ClientAttended: attended,
			TrainerRating:  copyInt(cmd.TrainerRating),
			SessionNotes:   strings.TrimSpace(cmd.SessionNotes),
		}
		paidAt := now
		next.Payment.Status = models.PaymentPaid
		next.Payment.PaidAt = &paidAt
		next.Responses = append(next.Responses, response(cmd, now))

	case ActionRate:
		if err := ValidateRating(cmd.Rating); err != nil {
			return b, err
		}
		if cmd.Actor.ID != b.ClientID {
			return b, domain.Forbiddenf("only the booking's client can rate it")
		}
		if b.Status != models.StatusCompleted || b.Completion == nil {
			return b, invalidTransition(cmd.Action, b.Status)
		}
		rating := cmd.Rating
		next.Completion.ClientRating = &rating
		if review := strings.TrimSpace(cmd.Review); review != "" {
			next.Completion.SessionNotes = review
		}

	case ActionReschedule:
		if !isParty(b, cmd.Actor) && !cmd.Actor.IsAdmin() {
			return b, domain.Forbiddenf("only the client, the trainer or an administrator can reschedule")
		}
		if b.Status != models.StatusPending && b.Status != models.StatusApproved {
			return b, invalidTransition(cmd.Action, b.Status)
		}
		if cmd.Schedule == nil {
			return b, domain.Validationf("new schedule is required")
		}
		next.SessionDate = cmd.Schedule.Date
		next.SessionTime = cmd.Schedule.Window.SessionTime()
		next.Duration = cmd.Schedule.Window.Duration()
		next.Responses = append(next.Responses, response(cmd, now))

	case ActionDelete:
		if !cmd.Actor.IsAdmin() {
			return b, domain.Forbiddenf("only an administrator can delete bookings")
		}
		deletedAt := now
		next.IsDeleted = true
		next.DeletedAt = &deletedAt

	default:
		return b, domain.Validationf("unknown action %q", cmd.Action)
	}

	return next, nil
}

func invalidTransition(a Action, status string) error {
	return domain.InvalidStatef("cannot %s a booking in status %s", a, status)
}

func isParty(b models.Booking, a Actor) bool {
	return a.ID == b.ClientID || a.ID == b.TrainerID
}

func response(cmd Command, now time.Time) models.Response {
	reason := strings.TrimSpace(cmd.Reason)
	if cmd.Action == ActionApprove && reason == "" {
		reason = strings.TrimSpace(cmd.TrainerNotes)
	}
	return models.Response{
		RespondedBy: cmd.Actor.ID,
		Action:      string(cmd.Action),
		Reason:      reason,
		Timestamp:   now,
	}
}

// clone copies everything a transition may touch so the input stays intact.
func clone(b models.Booking) models.Booking {
	next := b
	next.Responses = append(make([]models.Response, 0, len(b.Responses)+1), b.Responses...)
	next.Goals = append([]string(nil), b.Goals...)
	if b.Cancellation != nil {
		c := *b.Cancellation
		next.Cancellation = &c
	}
	if b.Completion != nil {
		c := *b.Completion
		c.ClientRating = copyInt(b.Completion.ClientRating)
		c.TrainerRating = copyInt(b.Completion.TrainerRating)
		next.Completion = &c
	}
	if b.Payment.PaidAt != nil {
		t := *b.Payment.PaidAt
		next.Payment.PaidAt = &t
	}
	return next
}

func copyInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
