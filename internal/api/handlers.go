package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/schedule"
)

const idempotencyHeader = "Idempotency-Key"

type AppointmentService interface {
	GetAvailableSlots(ctx context.Context, doctorID uuid.UUID, date schedule.Date) ([]schedule.Slot, error)
	SlotsForStart(ctx context.Context, doctorID uuid.UUID, start time.Time) (schedule.Date, []schedule.Slot, error)
	CreateAppointment(ctx context.Context, req appointment.CreateRequest) (*appointment.CreateResult, error)
	GetAppointment(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	ListAppointments(ctx context.Context, f appointment.ListFilter) ([]appointment.Appointment, error)
	ConfirmAppointment(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	CancelAppointment(ctx context.Context, id, actorID uuid.UUID, reason string) (*appointment.Appointment, error)
	CompleteAppointment(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	MarkNoShow(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
}

type Handler struct {
	svc       AppointmentService
	validator *Validator
	logger    zerolog.Logger
}

func NewHandler(svc AppointmentService, logger zerolog.Logger) *Handler {
	return &Handler{svc: svc, validator: NewValidator(), logger: logger}
}

func (h *Handler) GetSlots(w http.ResponseWriter, r *http.Request) {
	doctorID, ok := parseUUIDParam(w, r, "doctorID", "doctor_id")
	if !ok {
		return
	}

	raw := r.URL.Query().Get("date")
	if raw == "" {
		writeError(w, http.StatusBadRequest, "invalid_date", "date query parameter is required (YYYY-MM-DD)")
		return
	}
	date, err := schedule.ParseDate(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date", "date must be formatted as YYYY-MM-DD")
		return
	}

	slots, err := h.svc.GetAvailableSlots(r.Context(), doctorID, date)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toSlotsResponse(doctorID, date, slots))
}

func (h *Handler) CreateAppointment(w http.ResponseWriter, r *http.Request) {
	var body CreateAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}
	if err := h.validator.Validate(body); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "validation_failed",
			Details: "request body is invalid",
			Fields:  h.validator.FormatValidationErrors(err),
		})
		return
	}

	start, err := time.Parse(time.RFC3339, body.Start)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_start", "start must be an RFC 3339 timestamp with offset")
		return
	}

	req := appointment.CreateRequest{
		PatientID:        uuid.MustParse(body.PatientID),
		DoctorID:         uuid.MustParse(body.DoctorID),
		Start:            start,
		Reason:           body.Reason,
		Notes:            body.Notes,
		ConsultationType: appointment.ConsultationType(body.ConsultationType),
		IdempotencyKey:   r.Header.Get(idempotencyHeader),
	}

	res, err := h.svc.CreateAppointment(r.Context(), req)
	if err != nil {
		if errors.Is(err, appointment.ErrSlotAlreadyBooked) || errors.Is(err, appointment.ErrSlotOutsideAvailability) {
			h.writeConflict(w, r, req, err)
			return
		}
		h.handleServiceError(w, r, err)
		return
	}

	status := http.StatusCreated
	if res.Replayed {
		w.Header().Set("Idempotent-Replayed", "true")
		status = http.StatusOK
	}
	writeJSON(w, status, toAppointmentResponse(res.Appointment))
}

// writeConflict answers a lost booking with the current slots of that day.
func (h *Handler) writeConflict(w http.ResponseWriter, r *http.Request, req appointment.CreateRequest, cause error) {
	code := "slot_already_booked"
	if errors.Is(cause, appointment.ErrSlotOutsideAvailability) {
		code = "slot_outside_availability"
	}
	resp := ConflictResponse{ErrorResponse: ErrorResponse{Error: code, Details: cause.Error()}}

	date, slots, err := h.svc.SlotsForStart(r.Context(), req.DoctorID, req.Start)
	if err != nil {
		h.logger.Warn().Err(err).Str("request_id", GetRequestID(r.Context())).Msg("could not refresh slots after conflict")
	} else {
		sr := toSlotsResponse(req.DoctorID, date, slots)
		resp.Slots = &sr
	}

	writeJSON(w, http.StatusConflict, resp)
}

func (h *Handler) GetAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, r, "id", "appointment_id")
	if !ok {
		return
	}

	appt, err := h.svc.GetAppointment(r.Context(), id)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *Handler) ListAppointments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var f appointment.ListFilter

	if raw := q.Get("patient_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
			return
		}
		f.PatientID = &id
	}
	if raw := q.Get("doctor_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
			return
		}
		f.DoctorID = &id
	}
	if raw := q.Get("status"); raw != "" {
		st := appointment.AppointmentStatus(raw)
		f.Status = &st
	}
	for _, tp := range []struct {
		name string
		dst  **time.Time
	}{{"from", &f.From}, {"to", &f.To}} {
		raw := q.Get(tp.name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_"+tp.name, tp.name+" must be an RFC 3339 timestamp")
			return
		}
		*tp.dst = &t
	}

	var err error
	if f.Limit, err = intQuery(q.Get("limit")); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be an integer")
		return
	}
	if f.Offset, err = intQuery(q.Get("offset")); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_offset", "offset must be an integer")
		return
	}

	appts, err := h.svc.ListAppointments(r.Context(), f)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	resp := ListAppointmentsResponse{
		Appointments: make([]AppointmentResponse, 0, len(appts)),
		Limit:        f.Limit,
		Offset:       f.Offset,
	}
	for i := range appts {
		resp.Appointments = append(resp.Appointments, toAppointmentResponse(&appts[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) ConfirmAppointment(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.ConfirmAppointment)
}

func (h *Handler) CompleteAppointment(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.CompleteAppointment)
}

func (h *Handler) MarkNoShow(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.MarkNoShow)
}

func (h *Handler) CancelAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, r, "id", "appointment_id")
	if !ok {
		return
	}

	var body CancelAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}
	if err := h.validator.Validate(body); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "validation_failed",
			Details: "request body is invalid",
			Fields:  h.validator.FormatValidationErrors(err),
		})
		return
	}

	appt, err := h.svc.CancelAppointment(r.Context(), id, uuid.MustParse(body.ActorID), body.Reason)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, fn func(context.Context, uuid.UUID) (*appointment.Appointment, error)) {
	id, ok := parseUUIDParam(w, r, "id", "appointment_id")
	if !ok {
		return
	}

	appt, err := fn(r.Context(), id)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *Handler) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *appointment.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "validation_failed",
			Details: verr.Error(),
			Fields:  map[string]string{verr.Field: verr.Reason},
		})
	case errors.Is(err, appointment.ErrDoctorNotFound):
		writeError(w, http.StatusNotFound, "doctor_not_found", err.Error())
	case errors.Is(err, appointment.ErrPatientNotFound):
		writeError(w, http.StatusNotFound, "patient_not_found", err.Error())
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, appointment.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	case errors.Is(err, appointment.ErrIdempotencyMismatch):
		writeError(w, http.StatusUnprocessableEntity, "idempotency_key_reused", err.Error())
	case errors.Is(err, appointment.ErrNotParticipant):
		writeError(w, http.StatusForbidden, "not_participant", err.Error())
	case errors.Is(err, appointment.ErrBookingTimeout):
		h.logFailure(r, err)
		writeError(w, http.StatusGatewayTimeout, "booking_timeout", "booking did not complete in time, nothing was booked")
	case errors.Is(err, appointment.ErrBookingOutcomeUnknown):
		h.logFailure(r, err)
		writeError(w, http.StatusServiceUnavailable, "booking_outcome_unknown",
			"the booking may or may not have been stored, retry with the same Idempotency-Key")
	case errors.Is(err, db.ErrTransient):
		h.logFailure(r, err)
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "please retry shortly")
	default:
		h.logFailure(r, err)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func (h *Handler) logFailure(r *http.Request, err error) {
	h.logger.Error().
		Err(err).
		Str("request_id", GetRequestID(r.Context())).
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Msg("request failed")
}

func parseUUIDParam(w http.ResponseWriter, r *http.Request, param, field string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+field, field+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func intQuery(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}
