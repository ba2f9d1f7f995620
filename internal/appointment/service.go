package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/hackgods/clinic-scheduling/internal/activity"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/doctor"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
	"github.com/hackgods/clinic-scheduling/internal/telemetry"
)

var (
	ErrSlotAlreadyBooked       = errors.New("slot already booked")
	ErrSlotOutsideAvailability = errors.New("slot is outside the doctor's availability")
	ErrDoctorNotFound          = doctor.ErrDoctorNotFound
	ErrNotParticipant          = errors.New("actor is not a participant of the appointment")
	ErrIdempotencyMismatch     = errors.New("idempotency key was already used for a different booking")
	ErrBookingTimeout          = errors.New("booking timed out")
	ErrBookingOutcomeUnknown   = errors.New("booking outcome unknown")
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
	expiryBatchSize  = 200
	eventTimeout     = 2 * time.Second

	expiryCancelReason = "not confirmed before start"
)

type Options struct {
	DefaultSlotMinutes int
	LeadTime           time.Duration
	BookingTimeout     time.Duration
	BookingMaxRetries  int
	ReadMaxRetries     int
	RetryInterval      time.Duration
	PendingGrace       time.Duration
	MeetingBaseURL     string
	// Now is the service clock. Nil means time.Now.
	Now func() time.Time
}

func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		DefaultSlotMinutes: cfg.DefaultSlotMinutes,
		LeadTime:           cfg.BookingLeadTime,
		BookingTimeout:     cfg.BookingTimeout,
		BookingMaxRetries:  cfg.BookingMaxRetries,
		ReadMaxRetries:     cfg.ReadMaxRetries,
		RetryInterval:      50 * time.Millisecond,
		PendingGrace:       cfg.PendingGrace,
		MeetingBaseURL:     cfg.MeetingBaseURL,
	}
}

type Service struct {
	repo     Repository
	doctors  doctor.Directory
	locker   redisclient.Locker
	activity activity.Recorder
	opts     Options
	logger   zerolog.Logger
	metrics  *telemetry.BookingMetrics
	tracer   trace.Tracer
}

func NewService(repo Repository, doctors doctor.Directory, locker redisclient.Locker, recorder activity.Recorder, opts Options, logger zerolog.Logger) *Service {
	if locker == nil {
		locker = redisclient.NopLocker{}
	}
	if recorder == nil {
		recorder = activity.Nop{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.DefaultSlotMinutes <= 0 {
		opts.DefaultSlotMinutes = 30
	}
	if opts.BookingTimeout <= 0 {
		opts.BookingTimeout = 5 * time.Second
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = 50 * time.Millisecond
	}
	if opts.MeetingBaseURL == "" {
		opts.MeetingBaseURL = "https://meet.jit.si"
	}

	return &Service{
		repo:     repo,
		doctors:  doctors,
		locker:   locker,
		activity: recorder,
		opts:     opts,
		logger:   logger,
		metrics:  telemetry.NewBookingMetrics(),
		tracer:   otel.Tracer(telemetry.InstrumentationName),
	}
}

func (s *Service) now() time.Time {
	return s.opts.Now()
}

// ConfirmAppointment moves a pending appointment to confirmed.
func (s *Service) ConfirmAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, id, ActionConfirm, transitionOpts{})
}

// CancelAppointment cancels a pending or confirmed appointment on behalf of
// its patient or doctor. The slot becomes bookable again.
func (s *Service) CancelAppointment(ctx context.Context, id, actorID uuid.UUID, reason string) (*Appointment, error) {
	if actorID == uuid.Nil {
		return nil, invalid("actor_id", "is required")
	}
	reason = strings.TrimSpace(reason)
	if len(reason) > maxReasonLength {
		return nil, invalid("reason", fmt.Sprintf("must be at most %d characters", maxReasonLength))
	}

	opts := transitionOpts{actor: &actorID}
	if reason != "" {
		opts.reason = &reason
	}
	return s.transition(ctx, id, ActionCancel, opts)
}

func (s *Service) CompleteAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, id, ActionComplete, transitionOpts{})
}

func (s *Service) MarkNoShow(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, id, ActionNoShow, transitionOpts{})
}

type transitionOpts struct {
	actor  *uuid.UUID
	reason *string
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, action Action, opts transitionOpts) (*Appointment, error) {
	appt, err := s.getAppointment(ctx, id)
	if err != nil {
		return nil, err
	}

	if opts.actor != nil && *opts.actor != appt.PatientID && *opts.actor != appt.DoctorID {
		return nil, ErrNotParticipant
	}

	to, err := Transition(appt.Status, action)
	if err != nil {
		return nil, err
	}

	updated, err := s.repo.UpdateAppointmentStatus(ctx, StatusChange{
		ID:           appt.ID,
		From:         appt.Status,
		To:           to,
		At:           s.now(),
		CancelReason: opts.reason,
		CancelledBy:  opts.actor,
	})
	if err != nil {
		if !errors.Is(err, ErrAppointmentNotFound) {
			return nil, fmt.Errorf("%s appointment: %w", action, err)
		}
		// status moved between read and update
		current, gerr := s.getAppointment(ctx, id)
		if gerr != nil {
			return nil, gerr
		}
		return nil, fmt.Errorf("%w: appointment is now %s", ErrInvalidTransition, current.Status)
	}

	s.metrics.Transition(ctx, string(to))
	payload := map[string]any{"from": string(appt.Status), "to": string(to)}
	if opts.reason != nil {
		payload["reason"] = *opts.reason
	}
	s.logEvent(ctx, updated, transitionEvents[to], opts.actor, payload)

	s.logger.Info().
		Str("appointment_id", updated.ID.String()).
		Str("from", string(appt.Status)).
		Str("to", string(to)).
		Msg("appointment status changed")

	return updated, nil
}

var transitionEvents = map[AppointmentStatus]string{
	StatusConfirmed: activity.EventAppointmentConfirmed,
	StatusCancelled: activity.EventAppointmentCancelled,
	StatusCompleted: activity.EventAppointmentCompleted,
	StatusNoShow:    activity.EventAppointmentNoShow,
}

// ExpireStalePending cancels pending appointments that were never confirmed
// and whose start is more than PendingGrace in the past. It is called by
// the expiry worker.
func (s *Service) ExpireStalePending(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.opts.PendingGrace)

	stale, err := s.repo.FindStalePending(ctx, cutoff, expiryBatchSize)
	if err != nil {
		return 0, fmt.Errorf("find stale pending appointments: %w", err)
	}

	reason := expiryCancelReason
	expired := 0
	for _, appt := range stale {
		updated, err := s.repo.UpdateAppointmentStatus(ctx, StatusChange{
			ID:           appt.ID,
			From:         StatusPending,
			To:           StatusCancelled,
			At:           s.now(),
			CancelReason: &reason,
		})
		if err != nil {
			if !errors.Is(err, ErrAppointmentNotFound) {
				s.logger.Error().Err(err).Str("appointment_id", appt.ID.String()).Msg("failed to expire appointment")
			}
			continue
		}
		expired++
		s.metrics.Transition(ctx, string(StatusCancelled))
		s.logEvent(ctx, updated, activity.EventAppointmentExpired, nil, map[string]any{
			"reason": "worker",
		})
	}

	return expired, nil
}

func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.getAppointment(ctx, id)
}

func (s *Service) getAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := retryRead(ctx, s.opts, func() (*Appointment, error) {
		return s.repo.GetAppointmentByID(ctx, id)
	})
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, ErrAppointmentNotFound
		}
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	return appt, nil
}

// ListAppointments lists a patient's or a doctor's appointments, newest
// first.
func (s *Service) ListAppointments(ctx context.Context, f ListFilter) ([]Appointment, error) {
	if f.PatientID == nil && f.DoctorID == nil {
		return nil, invalid("filter", "patient_id or doctor_id is required")
	}
	if f.Status != nil && !f.Status.Valid() {
		return nil, invalid("status", fmt.Sprintf("unknown status %q", *f.Status))
	}
	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	if f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	appointments, err := retryRead(ctx, s.opts, func() ([]Appointment, error) {
		return s.repo.ListAppointments(ctx, f)
	})
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return appointments, nil
}

func (s *Service) logEvent(ctx context.Context, appt *Appointment, eventType string, actor *uuid.UUID, payload map[string]any) {
	ev := activity.Event{
		Type:          eventType,
		AppointmentID: appt.ID,
		DoctorID:      appt.DoctorID,
		PatientID:     appt.PatientID,
		ActorID:       actor,
		Payload:       payload,
		OccurredAt:    s.now(),
	}

	recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), eventTimeout)
	defer cancel()

	if err := s.activity.Record(recCtx, ev); err != nil {
		s.logger.Warn().
			Err(err).
			Str("event", eventType).
			Str("appointment_id", appt.ID.String()).
			Msg("failed to record activity event")
	}
}

func newBackOff(interval time.Duration) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = interval
	b.MaxInterval = 20 * interval
	return b
}

// retryRead retries op while it fails with a transient store error.
func retryRead[T any](ctx context.Context, opts Options, op func() (T, error)) (T, error) {
	tries := opts.ReadMaxRetries + 1
	if tries < 1 {
		tries = 1
	}

	return backoff.Retry(ctx, func() (T, error) {
		v, err := op()
		if err != nil && !errors.Is(err, db.ErrTransient) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, backoff.WithBackOff(newBackOff(opts.RetryInterval)), backoff.WithMaxTries(uint(tries)))
}
