package appointment

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/schedule"
)

type AppointmentStatus string

const (
	StatusPending   AppointmentStatus = "pending"
	StatusConfirmed AppointmentStatus = "confirmed"
	StatusCompleted AppointmentStatus = "completed"
	StatusCancelled AppointmentStatus = "cancelled"
	StatusNoShow    AppointmentStatus = "no_show"
)

// ActiveStatuses are the statuses that occupy a doctor's calendar.
var ActiveStatuses = []AppointmentStatus{StatusPending, StatusConfirmed}

func (s AppointmentStatus) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

func (s AppointmentStatus) IsActive() bool {
	return s == StatusPending || s == StatusConfirmed
}

func (s AppointmentStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusNoShow
}

type ConsultationType string

const (
	ConsultationInPerson     ConsultationType = "in_person"
	ConsultationTelemedicine ConsultationType = "telemedicine"
	ConsultationUrgent       ConsultationType = "urgent"
	ConsultationFollowUp     ConsultationType = "follow_up"
	ConsultationFirstVisit   ConsultationType = "first_visit"
)

func (c ConsultationType) Valid() bool {
	switch c {
	case ConsultationInPerson, ConsultationTelemedicine, ConsultationUrgent,
		ConsultationFollowUp, ConsultationFirstVisit:
		return true
	}
	return false
}

type Patient struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Appointment struct {
	ID               uuid.UUID
	PatientID        uuid.UUID
	DoctorID         uuid.UUID
	StartAt          time.Time
	EndAt            time.Time
	DurationMinutes  int
	Status           AppointmentStatus
	ConsultationType ConsultationType
	Reason           string
	Notes            *string
	MeetingURL       *string
	Price            *int64
	IdempotencyKey   *string
	CancelReason     *string
	CancelledBy      *uuid.UUID
	CreatedAt        time.Time
	UpdatedAt        time.Time
	ConfirmedAt      *time.Time
	CompletedAt      *time.Time
	CancelledAt      *time.Time
}

func (a Appointment) Booking() schedule.Booking {
	return schedule.Booking{AppointmentID: a.ID, Start: a.StartAt, End: a.EndAt}
}

type ListFilter struct {
	PatientID *uuid.UUID
	DoctorID  *uuid.UUID
	Status    *AppointmentStatus
	From      *time.Time
	To        *time.Time
	Limit     int
	Offset    int
}
