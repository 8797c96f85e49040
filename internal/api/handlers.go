package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"trainhub/internal/booking"
	"trainhub/internal/domain"
	"trainhub/internal/models"
	"trainhub/internal/service"

	"github.com/rs/zerolog"
)

const (
	idempotencyHeader = "Idempotency-Key"
	maxBodyBytes      = 1 << 20
	xlsxContentType   = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

type createBookingRequest struct {
	ClientID    int64              `json:"clientId"`
	TrainerID   int64              `json:"trainerId"`
	SessionDate string             `json:"sessionDate"`
	SessionTime models.SessionTime `json:"sessionTime"`
	Duration    int                `json:"duration"`
	SessionType string             `json:"sessionType"`
	Location    string             `json:"location"`
	MeetingLink string             `json:"meetingLink"`
	Goals       []string           `json:"goals"`
	ClientNotes string             `json:"clientNotes"`
}

type statusRequest struct {
	Action       string `json:"action"`
	Reason       string `json:"reason"`
	TrainerNotes string `json:"trainerNotes"`
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

type completeRequest struct {
	SessionNotes   string `json:"sessionNotes"`
	ClientAttended *bool  `json:"clientAttended"`
	TrainerRating  *int   `json:"trainerRating"`
}

type rateRequest struct {
	Rating int    `json:"rating"`
	Review string `json:"review"`
}

type rescheduleRequest struct {
	SessionDate string             `json:"sessionDate"`
	SessionTime models.SessionTime `json:"sessionTime"`
	Duration    int                `json:"duration"`
}

type listResponse struct {
	Bookings []*models.Booking `json:"bookings"`
	Count    int               `json:"count"`
}

func (s *HTTPServer) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	var req createBookingRequest
	if !decodeBody(w, r, &req) {
		return
	}

	created, isNew, err := s.svc.Create(r.Context(), actorFromContext(r.Context()), booking.CreateRequest{
		ClientID:    req.ClientID,
		TrainerID:   req.TrainerID,
		SessionDate: req.SessionDate,
		SessionTime: req.SessionTime,
		Duration:    req.Duration,
		SessionType: req.SessionType,
		Location:    req.Location,
		MeetingLink: req.MeetingLink,
		Goals:       req.Goals,
		ClientNotes: req.ClientNotes,
	}, strings.TrimSpace(r.Header.Get(idempotencyHeader)))
	if err != nil {
		// неизвестный тренер или клиент здесь ошибка запроса
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusBadRequest, domain.KindValidation, err.Error())
			return
		}
		s.writeServiceError(w, r, err)
		return
	}

	code := http.StatusCreated
	if !isNew {
		code = http.StatusOK
	}
	writeJSON(w, code, created)
}

func (s *HTTPServer) handleListBookings(w http.ResponseWriter, r *http.Request) {
	list, err := s.svc.List(r.Context(), actorFromContext(r.Context()), r.URL.Query().Get("status"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if list == nil {
		list = []*models.Booking{}
	}
	writeJSON(w, http.StatusOK, listResponse{Bookings: list, Count: len(list)})
}

func (s *HTTPServer) handleGetBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	b, err := s.svc.Get(r.Context(), actorFromContext(r.Context()), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *HTTPServer) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req statusRequest
	if !decodeBody(w, r, &req) {
		return
	}

	actor := actorFromContext(r.Context())
	var (
		b   *models.Booking
		err error
	)
	switch strings.ToLower(strings.TrimSpace(req.Action)) {
	case string(booking.ActionApprove):
		b, err = s.svc.Approve(r.Context(), actor, id, req.TrainerNotes)
	case string(booking.ActionReject):
		b, err = s.svc.Reject(r.Context(), actor, id, req.Reason)
	default:
		writeError(w, http.StatusBadRequest, domain.KindValidation, "action must be approve or reject")
		return
	}
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *HTTPServer) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req cancelRequest
	if !decodeBody(w, r, &req) {
		return
	}
	b, err := s.svc.Cancel(r.Context(), actorFromContext(r.Context()), id, req.Reason)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *HTTPServer) handleComplete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req completeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	b, err := s.svc.Complete(r.Context(), actorFromContext(r.Context()), id, service.CompleteInput{
		SessionNotes:   req.SessionNotes,
		ClientAttended: req.ClientAttended,
		TrainerRating:  req.TrainerRating,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *HTTPServer) handleRate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req rateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	b, err := s.svc.Rate(r.Context(), actorFromContext(r.Context()), id, req.Rating, req.Review)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *HTTPServer) handleReschedule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req rescheduleRequest
	if !decodeBody(w, r, &req) {
		return
	}
	b, err := s.svc.Reschedule(r.Context(), actorFromContext(r.Context()), id, req.SessionDate, req.SessionTime, req.Duration)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *HTTPServer) handleDeleteBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.svc.Delete(r.Context(), actorFromContext(r.Context()), id); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleTrainerProfile(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	trainer, err := s.svc.TrainerProfile(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, trainer)
}

func (s *HTTPServer) handleAvailability(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	date := strings.TrimSpace(r.URL.Query().Get("date"))
	if date == "" {
		writeError(w, http.StatusBadRequest, domain.KindValidation, "date is required")
		return
	}
	day, err := s.svc.Availability(r.Context(), id, date)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, day)
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	name, f, err := s.svc.ExportTrainerReport(r.Context(), actorFromContext(r.Context()), id, q.Get("from"), q.Get("to"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	defer func() { _ = f.Close() }()

	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	if _, err := f.WriteTo(w); err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Int64("trainer_id", id).Msg("failed to stream export")
	}
}

func (s *HTTPServer) handleRecomputeRating(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	rating, err := s.svc.RecomputeRating(r.Context(), actorFromContext(r.Context()), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"trainerId": id,
		"rating":    rating,
	})
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := r.PathValue("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, domain.KindValidation, fmt.Sprintf("invalid id %q", raw))
		return 0, false
	}
	return id, true
}

// decodeBody reads a JSON object into dst. An empty body leaves dst zeroed.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, domain.KindValidation, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func statusForKind(kind string) int {
	switch kind {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindForbidden:
		return http.StatusForbidden
	case domain.KindInvalidState, domain.KindConflict:
		return http.StatusConflict
	case domain.KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func (s *HTTPServer) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	kind := domain.Kind(err)
	if kind == domain.KindInternal {
		zerolog.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeError(w, http.StatusInternalServerError, kind, "internal error")
		return
	}
	writeError(w, statusForKind(kind), kind, err.Error())
}
