package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/schedule"
)

type CreateAppointmentRequest struct {
	PatientID        string  `json:"patient_id" validate:"required,uuid"`
	DoctorID         string  `json:"doctor_id" validate:"required,uuid"`
	Start            string  `json:"start" validate:"required"`
	Reason           string  `json:"reason" validate:"max=500"`
	Notes            *string `json:"notes" validate:"omitempty,max=2000"`
	ConsultationType string  `json:"consultation_type" validate:"omitempty,oneof=in_person telemedicine urgent follow_up first_visit"`
}

type CancelAppointmentRequest struct {
	ActorID string `json:"actor_id" validate:"required,uuid"`
	Reason  string `json:"reason" validate:"max=500"`
}

type AppointmentResponse struct {
	ID               uuid.UUID  `json:"id"`
	PatientID        uuid.UUID  `json:"patient_id"`
	DoctorID         uuid.UUID  `json:"doctor_id"`
	Start            time.Time  `json:"start"`
	End              time.Time  `json:"end"`
	DurationMinutes  int        `json:"duration_minutes"`
	Status           string     `json:"status"`
	ConsultationType string     `json:"consultation_type"`
	Reason           string     `json:"reason,omitempty"`
	Notes            *string    `json:"notes,omitempty"`
	MeetingURL       *string    `json:"meeting_url,omitempty"`
	Price            *int64     `json:"price,omitempty"`
	CancelReason     *string    `json:"cancel_reason,omitempty"`
	CancelledBy      *uuid.UUID `json:"cancelled_by,omitempty"`
	ConfirmedAt      *time.Time `json:"confirmed_at,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	CancelledAt      *time.Time `json:"cancelled_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:               a.ID,
		PatientID:        a.PatientID,
		DoctorID:         a.DoctorID,
		Start:            a.StartAt,
		End:              a.EndAt,
		DurationMinutes:  a.DurationMinutes,
		Status:           string(a.Status),
		ConsultationType: string(a.ConsultationType),
		Reason:           a.Reason,
		Notes:            a.Notes,
		MeetingURL:       a.MeetingURL,
		Price:            a.Price,
		CancelReason:     a.CancelReason,
		CancelledBy:      a.CancelledBy,
		ConfirmedAt:      a.ConfirmedAt,
		CompletedAt:      a.CompletedAt,
		CancelledAt:      a.CancelledAt,
		CreatedAt:        a.CreatedAt,
	}
}

type ListAppointmentsResponse struct {
	Appointments []AppointmentResponse `json:"appointments"`
	Limit        int                   `json:"limit"`
	Offset       int                   `json:"offset"`
}

type SlotResponse struct {
	Time          string     `json:"time"`
	Start         time.Time  `json:"start"`
	End           time.Time  `json:"end"`
	Available     bool       `json:"available"`
	Conflict      string     `json:"conflict,omitempty"`
	AppointmentID *uuid.UUID `json:"appointment_id,omitempty"`
}

type SlotsResponse struct {
	DoctorID uuid.UUID      `json:"doctor_id"`
	Date     string         `json:"date"`
	Slots    []SlotResponse `json:"slots"`
}

func toSlotsResponse(doctorID uuid.UUID, date schedule.Date, slots []schedule.Slot) SlotsResponse {
	out := SlotsResponse{
		DoctorID: doctorID,
		Date:     date.String(),
		Slots:    make([]SlotResponse, 0, len(slots)),
	}
	for _, s := range slots {
		sr := SlotResponse{
			Time:      s.Time(),
			Start:     s.Start,
			End:       s.End,
			Available: s.Available,
			Conflict:  string(s.Conflict.Source),
		}
		if s.Conflict.Source == schedule.ConflictAppointment {
			id := s.Conflict.AppointmentID
			sr.AppointmentID = &id
		}
		out.Slots = append(out.Slots, sr)
	}
	return out
}

type ErrorResponse struct {
	Error   string            `json:"error"`
	Details string            `json:"details,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// ConflictResponse is returned with 409 when a booking loses its slot.
type ConflictResponse struct {
	ErrorResponse
	Slots *SlotsResponse `json:"slots,omitempty"`
}
