package export

import (
	"fmt"
	"math"
	"time"

	"trainhub/internal/booking"
	"trainhub/internal/models"

	"github.com/xuri/excelize/v2"
)

const (
	sessionsSheet = "Sessions"
	summarySheet  = "Summary"
)

// цвета строк по статусу
var statusFill = map[string]string{
	models.StatusPending:   "#FFEB9C",
	models.StatusApproved:  "#C6EFCE",
	models.StatusRejected:  "#FFC7CE",
	models.StatusCancelled: "#D9D9D9",
	models.StatusCompleted: "#DDEBF7",
}

var sessionHeaders = []string{
	"ID", "Date", "Start", "End", "Duration", "Client ID", "Type", "Location / Link",
	"Status", "Amount", "Currency", "Payment", "Client rating",
}

// FileName is the suggested download name of a trainer report.
func FileName(trainerID int64, from, to time.Time) string {
	return fmt.Sprintf("trainer_%d_%s_to_%s.xlsx", trainerID, from.Format(models.DateLayout), to.Format(models.DateLayout))
}

// TrainerReport builds a workbook with one row per booking and a summary
// sheet. The caller owns the returned file and must Close it.
func TrainerReport(trainer *models.User, bookings []*models.Booking, from, to time.Time) (*excelize.File, error) {
	f := excelize.NewFile()

	index, err := f.NewSheet(sessionsSheet)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("error creating sheet: %w", err)
	}
	f.SetActiveSheet(index)

	if err := writeSessions(f, bookings); err != nil {
		f.Close()
		return nil, err
	}
	if err := writeSummary(f, trainer, bookings, from, to); err != nil {
		f.Close()
		return nil, err
	}

	// Удаляем стандартный лист
	_ = f.DeleteSheet("Sheet1")
	return f, nil
}

func writeSessions(f *excelize.File, bookings []*models.Booking) error {
	headerStyle, err := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#E2EFDA"}, Pattern: 1},
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	if err != nil {
		return err
	}

	for i, h := range sessionHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sessionsSheet, cell, h)
	}
	lastHeader, _ := excelize.CoordinatesToCellName(len(sessionHeaders), 1)
	_ = f.SetCellStyle(sessionsSheet, "A1", lastHeader, headerStyle)

	styles := make(map[string]int, len(statusFill))
	for status, color := range statusFill {
		id, err := f.NewStyle(&excelize.Style{
			Fill: excelize.Fill{Type: "pattern", Color: []string{color}, Pattern: 1},
		})
		if err != nil {
			return err
		}
		styles[status] = id
	}

	for i, b := range bookings {
		row := i + 2
		place := b.Session.Location
		if place == "" {
			place = b.Session.MeetingLink
		}
		var rating interface{}
		if r := b.ClientRating(); r != 0 {
			rating = r
		}
		values := []interface{}{
			b.ID,
			b.SessionDate.Format(models.DateLayout),
			b.SessionTime.Start,
			b.SessionTime.End,
			b.Duration,
			b.ClientID,
			b.Session.Type,
			place,
			b.Status,
			b.Payment.Amount,
			b.Payment.Currency,
			b.Payment.Status,
			rating,
		}
		start, _ := excelize.CoordinatesToCellName(1, row)
		if err := f.SetSheetRow(sessionsSheet, start, &values); err != nil {
			return fmt.Errorf("write row %d: %w", row, err)
		}
		if style, ok := styles[b.Status]; ok {
			end, _ := excelize.CoordinatesToCellName(len(sessionHeaders), row)
			_ = f.SetCellStyle(sessionsSheet, start, end, style)
		}
	}

	_ = f.SetColWidth(sessionsSheet, "A", "G", 12)
	_ = f.SetColWidth(sessionsSheet, "H", "H", 30)
	_ = f.SetColWidth(sessionsSheet, "I", "M", 14)
	return nil
}

func writeSummary(f *excelize.File, trainer *models.User, bookings []*models.Booking, from, to time.Time) error {
	if _, err := f.NewSheet(summarySheet); err != nil {
		return fmt.Errorf("error creating sheet: %w", err)
	}

	counts := make(map[string]int)
	var paid float64
	var ratingSum, ratingCount int64
	for _, b := range bookings {
		counts[b.Status]++
		if b.Payment.Status == models.PaymentPaid {
			paid += b.Payment.Amount
		}
		if r := b.ClientRating(); r != 0 {
			ratingSum += int64(r)
			ratingCount++
		}
	}

	rows := [][]interface{}{
		{"Trainer", trainer.Name},
		{"Period", fmt.Sprintf("%s - %s", from.Format(models.DateLayout), to.Format(models.DateLayout))},
		{"Sessions", len(bookings)},
		{"Pending", counts[models.StatusPending]},
		{"Approved", counts[models.StatusApproved]},
		{"Completed", counts[models.StatusCompleted]},
		{"Cancelled", counts[models.StatusCancelled]},
		{"Rejected", counts[models.StatusRejected]},
		{"Paid total", math.Round(paid*100) / 100},
		{"Average rating (period)", booking.RatingAverage(ratingSum, ratingCount)},
		{"Average rating (all time)", trainer.Rating.Average},
	}
	for i, r := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(summarySheet, cell, &r); err != nil {
			return err
		}
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}
	_ = f.SetCellStyle(summarySheet, "A1", fmt.Sprintf("A%d", len(rows)), bold)
	_ = f.SetColWidth(summarySheet, "A", "A", 28)
	_ = f.SetColWidth(summarySheet, "B", "B", 26)
	return nil
}
