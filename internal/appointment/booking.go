package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hackgods/clinic-scheduling/internal/activity"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/doctor"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
	"github.com/hackgods/clinic-scheduling/internal/schedule"
	"github.com/hackgods/clinic-scheduling/internal/telemetry"
)

type CreateRequest struct {
	PatientID        uuid.UUID
	DoctorID         uuid.UUID
	Start            time.Time
	Reason           string
	Notes            *string
	ConsultationType ConsultationType
	// IdempotencyKey makes retries of the same request return the
	// appointment created by the first attempt.
	IdempotencyKey string
}

type CreateResult struct {
	Appointment *Appointment
	Replayed    bool
}

// CreateAppointment books a pending appointment for the slot starting at
// req.Start. The slot is re-validated and inserted inside one store
// transaction, so of two concurrent requests for the same slot exactly one
// succeeds and the other gets ErrSlotAlreadyBooked.
func (s *Service) CreateAppointment(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	started := time.Now()
	ctx, span := s.tracer.Start(ctx, "appointment.CreateAppointment", trace.WithAttributes(
		attribute.String("doctor_id", req.DoctorID.String()),
		attribute.String("patient_id", req.PatientID.String()),
		attribute.String("start", req.Start.Format(time.RFC3339)),
	))
	defer span.End()

	res, err := s.createAppointment(ctx, req)

	outcome := bookingOutcome(res, err)
	s.metrics.BookingAttempt(ctx, outcome, time.Since(started))
	span.SetAttributes(attribute.String("outcome", outcome))
	if err != nil && (outcome == telemetry.OutcomeError || outcome == telemetry.OutcomeUnknown || outcome == telemetry.OutcomeTimeout) {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	}
	return res, err
}

func (s *Service) createAppointment(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	if err := req.normalize(); err != nil {
		return nil, err
	}

	doc, cfg, err := s.doctorConfig(ctx, req.DoctorID)
	if err != nil {
		return nil, err
	}
	if !doc.Active {
		return nil, ErrDoctorNotFound
	}

	if _, err := retryRead(ctx, s.opts, func() (*Patient, error) {
		return s.repo.GetPatientByID(ctx, req.PatientID)
	}); err != nil {
		if errors.Is(err, ErrPatientNotFound) {
			return nil, ErrPatientNotFound
		}
		return nil, fmt.Errorf("load patient: %w", err)
	}

	if req.IdempotencyKey != "" {
		existing, err := s.findReplay(ctx, req)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return &CreateResult{Appointment: existing, Replayed: true}, nil
		}
	}

	var (
		booked *Appointment
		ran    bool
	)
	key := redisclient.SlotKey{DoctorID: req.DoctorID, Start: req.Start}
	err = s.locker.WithSlotLock(ctx, key, func(lockCtx context.Context) error {
		ran = true
		a, err := s.book(lockCtx, req, cfg)
		booked = a
		return err
	})

	switch {
	case errors.Is(err, redisclient.ErrLockNotAcquired):
		s.logger.Info().
			Str("doctor_id", req.DoctorID.String()).
			Time("start", req.Start).
			Msg("slot lock held by a concurrent booking")
		if req.IdempotencyKey != "" {
			existing, ferr := s.findReplay(ctx, req)
			if ferr != nil {
				return nil, ferr
			}
			if existing != nil {
				return &CreateResult{Appointment: existing, Replayed: true}, nil
			}
		}
		if cerr := s.precheckSlot(ctx, req, cfg); cerr != nil {
			return nil, cerr
		}
		// The holder has not committed yet or gave up. The transaction decides.
		booked, err = s.book(ctx, req, cfg)
	case err != nil && !ran:
		s.logger.Warn().Err(err).Msg("slot lock unavailable, booking without it")
		booked, err = s.book(ctx, req, cfg)
	}

	if err != nil {
		if errors.Is(err, ErrDuplicateRequest) {
			existing, ferr := s.findReplay(ctx, req)
			if ferr != nil {
				return nil, ferr
			}
			if existing != nil {
				return &CreateResult{Appointment: existing, Replayed: true}, nil
			}
		}
		if errors.Is(err, ErrSlotAlreadyBooked) || errors.Is(err, ErrSlotOutsideAvailability) {
			s.logger.Info().
				Err(err).
				Str("doctor_id", req.DoctorID.String()).
				Time("start", req.Start).
				Msg("booking rejected")
		}
		return nil, err
	}

	payload := map[string]any{
		"start":             booked.StartAt,
		"duration_minutes":  booked.DurationMinutes,
		"consultation_type": string(booked.ConsultationType),
	}
	if booked.Reason != "" {
		payload["reason"] = booked.Reason
	}
	patientID := req.PatientID
	s.logEvent(ctx, booked, activity.EventAppointmentCreated, &patientID, payload)

	s.logger.Info().
		Str("appointment_id", booked.ID.String()).
		Str("doctor_id", booked.DoctorID.String()).
		Str("patient_id", booked.PatientID.String()).
		Time("start", booked.StartAt).
		Msg("appointment booked")

	return &CreateResult{Appointment: booked}, nil
}

// book runs the booking transaction, retrying only when the store reports
// that the transaction was aborted by a concurrent writer.
func (s *Service) book(ctx context.Context, req CreateRequest, cfg doctor.SchedulingConfig) (*Appointment, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.BookingTimeout)
	defer cancel()

	date := schedule.DateOf(req.Start.In(cfg.Location))
	in := s.newAppointment(req, cfg)

	attempt := 0
	appt, err := backoff.Retry(ctx, func() (*Appointment, error) {
		attempt++
		if attempt > 1 {
			s.metrics.BookingRetry(ctx)
		}

		var created *Appointment
		err := s.repo.WithBookingTx(ctx, req.DoctorID, func(ctx context.Context, tx BookingTx) error {
			day, err := loadDayTx(ctx, tx, req.DoctorID, date, cfg.Location)
			if err != nil {
				return err
			}
			slots, err := s.generate(day, cfg, date)
			if err != nil {
				return err
			}
			if err := checkSlot(slots, req.Start); err != nil {
				return err
			}
			created, err = tx.InsertAppointment(ctx, in)
			return err
		})
		if err == nil {
			return created, nil
		}
		if errors.Is(err, db.ErrSerialization) {
			s.logger.Debug().Err(err).Int("attempt", attempt).Msg("booking transaction aborted, retrying")
			return nil, err
		}
		return nil, backoff.Permanent(err)
	}, backoff.WithBackOff(newBackOff(s.opts.RetryInterval)), backoff.WithMaxTries(uint(s.opts.BookingMaxRetries+1)))

	if err != nil {
		if errors.Is(err, ErrBookingOutcomeUnknown) {
			return nil, err
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) &&
			(errors.Is(err, context.DeadlineExceeded) || errors.Is(err, db.ErrTransient)) {
			return nil, fmt.Errorf("%w after %s", ErrBookingTimeout, s.opts.BookingTimeout)
		}
		return nil, err
	}
	return appt, nil
}

// checkSlot verifies that start is a generated slot that is still free.
// precheckSlot reads the doctor's day outside any transaction and returns a
// conflict that is already visible for req.Start. Read failures are left to
// the booking transaction.
func (s *Service) precheckSlot(ctx context.Context, req CreateRequest, cfg doctor.SchedulingConfig) error {
	date := schedule.DateOf(req.Start.In(cfg.Location))
	day, err := s.loadDay(ctx, req.DoctorID, date, cfg.Location)
	if err != nil {
		s.logger.Debug().Err(err).Msg("slot precheck failed")
		return nil
	}
	slots, err := s.generate(day, cfg, date)
	if err != nil {
		return err
	}
	return checkSlot(slots, req.Start)
}

func checkSlot(slots []schedule.Slot, start time.Time) error {
	slot, ok := schedule.FindSlot(slots, start)
	if !ok {
		return ErrSlotOutsideAvailability
	}
	if slot.Available {
		return nil
	}
	if slot.Conflict.Source == schedule.ConflictAppointment {
		return ErrSlotAlreadyBooked
	}
	return fmt.Errorf("%w: time is blocked", ErrSlotOutsideAvailability)
}

func (s *Service) newAppointment(req CreateRequest, cfg doctor.SchedulingConfig) NewAppointment {
	id := uuid.New()
	in := NewAppointment{
		ID:               id,
		PatientID:        req.PatientID,
		DoctorID:         req.DoctorID,
		StartAt:          req.Start,
		EndAt:            req.Start.Add(cfg.SlotDuration),
		DurationMinutes:  cfg.SlotMinutes(),
		ConsultationType: req.ConsultationType,
		Reason:           req.Reason,
		Notes:            req.Notes,
		Price:            cfg.ConsultationPrice,
	}
	if req.ConsultationType == ConsultationTelemedicine {
		url := fmt.Sprintf("%s/cita-%s", s.opts.MeetingBaseURL, id.String()[:8])
		in.MeetingURL = &url
	}
	if req.IdempotencyKey != "" {
		key := req.IdempotencyKey
		in.IdempotencyKey = &key
	}
	return in
}

// findReplay returns the appointment a previous request with the same
// idempotency key created, or nil.
func (s *Service) findReplay(ctx context.Context, req CreateRequest) (*Appointment, error) {
	existing, err := retryRead(ctx, s.opts, func() (*Appointment, error) {
		return s.repo.FindByIdempotencyKey(ctx, req.PatientID, req.IdempotencyKey)
	})
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("lookup idempotency key: %w", err)
	}
	if existing.DoctorID != req.DoctorID || !existing.StartAt.Equal(req.Start) {
		return nil, ErrIdempotencyMismatch
	}
	return existing, nil
}

func bookingOutcome(res *CreateResult, err error) string {
	switch {
	case err == nil && res != nil && res.Replayed:
		return telemetry.OutcomeReplayed
	case err == nil:
		return telemetry.OutcomeBooked
	case errors.Is(err, ErrSlotAlreadyBooked):
		return telemetry.OutcomeConflict
	case errors.Is(err, ErrSlotOutsideAvailability):
		return telemetry.OutcomeUnavailable
	case errors.Is(err, ErrBookingTimeout):
		return telemetry.OutcomeTimeout
	case errors.Is(err, ErrBookingOutcomeUnknown):
		return telemetry.OutcomeUnknown
	default:
		return telemetry.OutcomeError
	}
}
