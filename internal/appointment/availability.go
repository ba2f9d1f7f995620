package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/hackgods/clinic-scheduling/internal/doctor"
	"github.com/hackgods/clinic-scheduling/internal/schedule"
)

// daySchedule is everything on one doctor's calendar for one date.
type daySchedule struct {
	windows  []schedule.RecurringAvailability
	blocks   []schedule.TimeBlock
	bookings []schedule.Booking
}

// GetAvailableSlots lists every slot of the doctor's working hours on date,
// each marked available or not. Inactive doctors have no slots.
func (s *Service) GetAvailableSlots(ctx context.Context, doctorID uuid.UUID, date schedule.Date) ([]schedule.Slot, error) {
	ctx, span := s.tracer.Start(ctx, "appointment.GetAvailableSlots", trace.WithAttributes(
		attribute.String("doctor_id", doctorID.String()),
		attribute.String("date", date.String()),
	))
	defer span.End()

	doc, cfg, err := s.doctorConfig(ctx, doctorID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if !doc.Active {
		return []schedule.Slot{}, nil
	}

	day, err := s.loadDay(ctx, doctorID, date, cfg.Location)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "load schedule")
		return nil, fmt.Errorf("load schedule: %w", err)
	}

	slots, err := s.generate(day, cfg, date)
	if err != nil {
		return nil, err
	}

	available := 0
	for _, sl := range slots {
		if sl.Available {
			available++
		}
	}
	span.SetAttributes(attribute.Int("slots.total", len(slots)), attribute.Int("slots.available", available))
	s.metrics.SlotQuery(ctx, available)

	if slots == nil {
		slots = []schedule.Slot{}
	}
	return slots, nil
}

func (s *Service) doctorConfig(ctx context.Context, id uuid.UUID) (*doctor.Doctor, doctor.SchedulingConfig, error) {
	d, err := retryRead(ctx, s.opts, func() (*doctor.Doctor, error) {
		return s.doctors.GetDoctor(ctx, id)
	})
	if err != nil {
		if errors.Is(err, doctor.ErrDoctorNotFound) {
			return nil, doctor.SchedulingConfig{}, ErrDoctorNotFound
		}
		return nil, doctor.SchedulingConfig{}, fmt.Errorf("load doctor: %w", err)
	}

	cfg, err := d.SchedulingConfig(s.opts.DefaultSlotMinutes)
	if err != nil {
		return nil, doctor.SchedulingConfig{}, err
	}
	return d, cfg, nil
}

// loadDay fetches windows, blocks and active appointments concurrently.
func (s *Service) loadDay(ctx context.Context, doctorID uuid.UUID, date schedule.Date, loc *time.Location) (daySchedule, error) {
	from, to := date.Bounds(loc)

	var day daySchedule
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		w, err := retryRead(gctx, s.opts, func() ([]schedule.RecurringAvailability, error) {
			return s.repo.ListAvailability(gctx, doctorID, date.Weekday())
		})
		day.windows = w
		return err
	})
	g.Go(func() error {
		b, err := retryRead(gctx, s.opts, func() ([]schedule.TimeBlock, error) {
			return s.repo.ListTimeBlocks(gctx, doctorID, from, to)
		})
		day.blocks = b
		return err
	})
	g.Go(func() error {
		appts, err := retryRead(gctx, s.opts, func() ([]Appointment, error) {
			return s.repo.ListActiveAppointments(gctx, doctorID, from, to)
		})
		day.bookings = toBookings(appts)
		return err
	})

	if err := g.Wait(); err != nil {
		return daySchedule{}, err
	}
	return day, nil
}

// loadDayTx reads the same data as loadDay through a transaction, one
// query at a time.
func loadDayTx(ctx context.Context, tx ScheduleReader, doctorID uuid.UUID, date schedule.Date, loc *time.Location) (daySchedule, error) {
	from, to := date.Bounds(loc)

	windows, err := tx.ListAvailability(ctx, doctorID, date.Weekday())
	if err != nil {
		return daySchedule{}, fmt.Errorf("load availability: %w", err)
	}
	blocks, err := tx.ListTimeBlocks(ctx, doctorID, from, to)
	if err != nil {
		return daySchedule{}, fmt.Errorf("load time blocks: %w", err)
	}
	appts, err := tx.ListActiveAppointments(ctx, doctorID, from, to)
	if err != nil {
		return daySchedule{}, fmt.Errorf("load appointments: %w", err)
	}

	return daySchedule{windows: windows, blocks: blocks, bookings: toBookings(appts)}, nil
}

func toBookings(appts []Appointment) []schedule.Booking {
	out := make([]schedule.Booking, 0, len(appts))
	for _, a := range appts {
		if a.Status.IsActive() {
			out = append(out, a.Booking())
		}
	}
	return out
}

func (s *Service) generate(day daySchedule, cfg doctor.SchedulingConfig, date schedule.Date) ([]schedule.Slot, error) {
	return schedule.GenerateSlots(schedule.GenerateParams{
		Date:            date,
		Location:        cfg.Location,
		Windows:         schedule.ResolveDay(day.windows, date.Weekday()),
		DurationMinutes: cfg.SlotMinutes(),
		Now:             s.now(),
		LeadTime:        s.opts.LeadTime,
	}, schedule.NewLinearDetector(day.blocks, day.bookings))
}

// SlotsForStart returns the slot list of the doctor's local day containing
// start. Used to hand clients fresh alternatives after a booking conflict.
func (s *Service) SlotsForStart(ctx context.Context, doctorID uuid.UUID, start time.Time) (schedule.Date, []schedule.Slot, error) {
	_, cfg, err := s.doctorConfig(ctx, doctorID)
	if err != nil {
		return schedule.Date{}, nil, err
	}
	date := schedule.DateOf(start.In(cfg.Location))
	slots, err := s.GetAvailableSlots(ctx, doctorID, date)
	return date, slots, err
}
