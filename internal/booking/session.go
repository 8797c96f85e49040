package booking

import (
	"math"
	"strings"

	"trainhub/internal/domain"
	"trainhub/internal/models"
)

// NewSessionDetails builds the variant for sessionType and keeps only the
// fields that belong to it. With strict set the variant's own fields are
// required as well.
func NewSessionDetails(sessionType, location, meetingLink string, strict bool) (models.SessionDetails, error) {
	location = strings.TrimSpace(location)
	meetingLink = strings.TrimSpace(meetingLink)

	switch strings.ToLower(strings.TrimSpace(sessionType)) {
	case models.SessionInPerson, "":
		if strict && location == "" {
			return models.SessionDetails{}, domain.Validationf("location is required for in-person sessions")
		}
		return models.SessionDetails{Type: models.SessionInPerson, Location: location}, nil
	case models.SessionVirtual:
		if strict && meetingLink == "" {
			return models.SessionDetails{}, domain.Validationf("meetingLink is required for virtual sessions")
		}
		return models.SessionDetails{Type: models.SessionVirtual, MeetingLink: meetingLink}, nil
	case models.SessionHybrid:
		if strict && (location == "" || meetingLink == "") {
			return models.SessionDetails{}, domain.Validationf("hybrid sessions require both location and meetingLink")
		}
		return models.SessionDetails{Type: models.SessionHybrid, Location: location, MeetingLink: meetingLink}, nil
	default:
		return models.SessionDetails{}, domain.Validationf("unknown session type %q", sessionType)
	}
}

// PaymentAmount prices a session at duration/60 of the hourly rate, rounded
// to cents.
func PaymentAmount(duration int, hourlyRate float64) float64 {
	amount := float64(duration) / 60 * hourlyRate
	return math.Round(amount*100) / 100
}
