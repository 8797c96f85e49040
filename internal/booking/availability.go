package booking

import (
	"sort"
	"strings"
	"time"

	"trainhub/internal/models"
)

// NotAvailableMessage is returned when the trainer does not work on the
// requested weekday.
const NotAvailableMessage = "not available on this day"

// AvailableSlots enumerates the bookable sub-slots of a trainer's template on
// date. Template ranges are aligned down to the slot length, so with 60 minute
// slots a 09:30-12:00 range yields 09:00, 10:00 and 11:00. A sub-slot is
// dropped only when an active booking starts exactly at its start; partial
// overlaps stay listed and are rejected by the conflict check on create.
// The result is chronological.
func AvailableSlots(tmpl *models.Availability, date time.Time, booked []Window, slotMinutes int) ([]models.TimeSlot, string) {
	if slotMinutes <= 0 {
		slotMinutes = models.DefaultSlotMinutes
	}
	if tmpl == nil || !worksOn(tmpl.Days, date.Weekday()) {
		return []models.TimeSlot{}, NotAvailableMessage
	}

	seen := make(map[int]bool)
	var starts []int
	for _, ts := range tmpl.TimeSlots {
		from, err := ParseClock(ts.Start)
		if err != nil {
			continue
		}
		to, err := ParseClock(ts.End)
		if err != nil {
			continue
		}
		// "00:00" as an end bound means midnight
		if to == 0 {
			to = minutesPerDay
		}

		first := from - from%slotMinutes
		last := to - to%slotMinutes
		for s := first; s+slotMinutes <= last; s += slotMinutes {
			if seen[s] {
				continue
			}
			seen[s] = true
			starts = append(starts, s)
		}
	}

	sort.Ints(starts)

	taken := make(map[int]bool, len(booked))
	for _, b := range booked {
		taken[b.Start] = true
	}

	slots := make([]models.TimeSlot, 0, len(starts))
	for _, s := range starts {
		if taken[s] {
			continue
		}
		slots = append(slots, Window{Start: s, End: s + slotMinutes}.timeSlot())
	}
	return slots, ""
}

func (w Window) timeSlot() models.TimeSlot {
	return models.TimeSlot{Start: FormatClock(w.Start), End: FormatClock(w.End)}
}

func worksOn(days []string, wd time.Weekday) bool {
	name := strings.ToLower(wd.String())
	for _, d := range days {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == name || (len(d) == 3 && strings.HasPrefix(name, d)) {
			return true
		}
	}
	return false
}
