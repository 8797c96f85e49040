package booking

import (
	"fmt"
	"time"

	"trainhub/internal/models"
)

const minutesPerDay = 24 * 60

// ParseClock converts "HH:MM" into minutes since midnight.
func ParseClock(s string) (int, error) {
	t, err := time.Parse(models.ClockLayout, s)
	if err != nil {
		return 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// FormatClock converts minutes since midnight back into "HH:MM".
func FormatClock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// Window is a half-open session interval [Start, End) in minutes since midnight.
type Window struct {
	Start int
	End   int
}

// NewWindow builds the window of a session that starts at start and lasts
// duration minutes.
func NewWindow(start string, duration int) (Window, error) {
	s, err := ParseClock(start)
	if err != nil {
		return Window{}, err
	}
	if duration <= 0 {
		return Window{}, fmt.Errorf("duration must be positive, got %d", duration)
	}
	return Window{Start: s, End: s + duration}, nil
}

func (w Window) Duration() int { return w.End - w.Start }

// SessionTime renders the window as wall-clock bounds.
func (w Window) SessionTime() models.SessionTime {
	return models.SessionTime{Start: FormatClock(w.Start), End: FormatClock(w.End)}
}

// Overlaps reports whether w and o intersect once o is padded by buffer
// minutes on both sides. Touching intervals do not overlap.
func (w Window) Overlaps(o Window, buffer int) bool {
	if buffer < 0 {
		buffer = 0
	}
	return w.Start < o.End+buffer && o.Start-buffer < w.End
}

// Conflicts reports whether proposed collides with any of the existing
// windows under the given buffer.
func Conflicts(existing []Window, proposed Window, buffer int) bool {
	for _, w := range existing {
		if proposed.Overlaps(w, buffer) {
			return true
		}
	}
	return false
}

// BookingWindow returns the occupied window of a stored booking.
func BookingWindow(b *models.Booking) (Window, error) {
	return NewWindow(b.SessionTime.Start, b.Duration)
}
