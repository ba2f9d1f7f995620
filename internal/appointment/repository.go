package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/schedule"
)

var (
	ErrPatientNotFound     = errors.New("patient not found")
	ErrAppointmentNotFound = errors.New("appointment not found")
	// ErrDuplicateRequest is returned by InsertAppointment when the
	// patient already used the idempotency key.
	ErrDuplicateRequest = errors.New("idempotency key already used")
)

// ScheduleReader loads what is on a doctor's calendar. Appointments
// returned by ListActiveAppointments are pending or confirmed only.
type ScheduleReader interface {
	ListAvailability(ctx context.Context, doctorID uuid.UUID, weekday time.Weekday) ([]schedule.RecurringAvailability, error)
	ListTimeBlocks(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]schedule.TimeBlock, error)
	ListActiveAppointments(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]Appointment, error)
}

type NewAppointment struct {
	ID               uuid.UUID
	PatientID        uuid.UUID
	DoctorID         uuid.UUID
	StartAt          time.Time
	EndAt            time.Time
	DurationMinutes  int
	ConsultationType ConsultationType
	Reason           string
	Notes            *string
	MeetingURL       *string
	Price            *int64
	IdempotencyKey   *string
}

// BookingTx is the view of the store inside a booking transaction.
// Implementations must not be used concurrently.
type BookingTx interface {
	ScheduleReader
	InsertAppointment(ctx context.Context, in NewAppointment) (*Appointment, error)
}

type StatusChange struct {
	ID           uuid.UUID
	From         AppointmentStatus
	To           AppointmentStatus
	At           time.Time
	CancelReason *string
	CancelledBy  *uuid.UUID
}

// Repository contains all DB interactions needed by the service.
type Repository interface {
	ScheduleReader

	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	FindByIdempotencyKey(ctx context.Context, patientID uuid.UUID, key string) (*Appointment, error)
	ListAppointments(ctx context.Context, f ListFilter) ([]Appointment, error)

	// WithBookingTx runs fn in one transaction. Transactions for the same
	// doctor run one at a time and each sees the commits of the previous one.
	// Overlapping inserts fail with ErrSlotAlreadyBooked, retryable aborts
	// wrap db.ErrSerialization and a commit whose result is unknown wraps
	// ErrBookingOutcomeUnknown.
	WithBookingTx(ctx context.Context, doctorID uuid.UUID, fn func(ctx context.Context, tx BookingTx) error) error

	// UpdateAppointmentStatus applies ch only if the row is still in
	// ch.From. Otherwise it returns ErrAppointmentNotFound.
	UpdateAppointmentStatus(ctx context.Context, ch StatusChange) (*Appointment, error)

	// Expiry worker
	FindStalePending(ctx context.Context, startedBefore time.Time, limit int) ([]Appointment, error)
}
