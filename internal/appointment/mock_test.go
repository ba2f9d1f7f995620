package appointment

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/activity"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/doctor"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
	"github.com/hackgods/clinic-scheduling/internal/schedule"
)

// mockRepo is an in-memory Repository. Booking transactions are serialized
// and inserts enforce the no-overlap rule the database constraint enforces.
type mockRepo struct {
	mu   sync.Mutex
	txMu sync.Mutex

	patients     map[uuid.UUID]Patient
	windows      []schedule.RecurringAvailability
	blocks       []schedule.TimeBlock
	appointments map[uuid.UUID]Appointment

	serializationFailures int
	commitUnknown         bool
	availabilityFailures  int
	beforeTx              func(ctx context.Context) error
	beforeUpdate          func(id uuid.UUID)
	txCalls               int
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		patients:     make(map[uuid.UUID]Patient),
		appointments: make(map[uuid.UUID]Appointment),
	}
}

func (m *mockRepo) addPatient() uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New()
	m.patients[id] = Patient{ID: id, Name: "patient " + id.String()[:4]}
	return id
}

func (m *mockRepo) put(a Appointment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appointments[a.ID] = a
}

func (m *mockRepo) get(id uuid.UUID) Appointment {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appointments[id]
}

func (m *mockRepo) ListAvailability(_ context.Context, doctorID uuid.UUID, weekday time.Weekday) ([]schedule.RecurringAvailability, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.availabilityFailures > 0 {
		m.availabilityFailures--
		return nil, fmt.Errorf("%w: connection reset", db.ErrTransient)
	}
	var out []schedule.RecurringAvailability
	for _, w := range m.windows {
		if w.DoctorID == doctorID && w.DayOfWeek == weekday && w.Active {
			out = append(out, w)
		}
	}
	return out, nil
}

func (m *mockRepo) ListTimeBlocks(_ context.Context, doctorID uuid.UUID, from, to time.Time) ([]schedule.TimeBlock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []schedule.TimeBlock
	for _, b := range m.blocks {
		if b.DoctorID == doctorID && schedule.Overlaps(b.Start, b.End, from, to) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *mockRepo) ListActiveAppointments(_ context.Context, doctorID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeLocked(doctorID, from, to), nil
}

func (m *mockRepo) activeLocked(doctorID uuid.UUID, from, to time.Time) []Appointment {
	var out []Appointment
	for _, a := range m.appointments {
		if a.DoctorID == doctorID && a.Status.IsActive() && schedule.Overlaps(a.StartAt, a.EndAt, from, to) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartAt.Before(out[j].StartAt) })
	return out
}

func (m *mockRepo) GetPatientByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	return &p, nil
}

func (m *mockRepo) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (m *mockRepo) FindByIdempotencyKey(_ context.Context, patientID uuid.UUID, key string) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.appointments {
		if a.PatientID == patientID && a.IdempotencyKey != nil && *a.IdempotencyKey == key {
			return &a, nil
		}
	}
	return nil, ErrAppointmentNotFound
}

func (m *mockRepo) ListAppointments(_ context.Context, f ListFilter) ([]Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Appointment
	for _, a := range m.appointments {
		if f.PatientID != nil && a.PatientID != *f.PatientID {
			continue
		}
		if f.DoctorID != nil && a.DoctorID != *f.DoctorID {
			continue
		}
		if f.Status != nil && a.Status != *f.Status {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartAt.After(out[j].StartAt) })
	if f.Offset >= len(out) {
		return nil, nil
	}
	out = out[f.Offset:]
	if len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *mockRepo) WithBookingTx(ctx context.Context, doctorID uuid.UUID, fn func(ctx context.Context, tx BookingTx) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.Lock()
	m.txCalls++
	if m.serializationFailures > 0 {
		m.serializationFailures--
		m.mu.Unlock()
		return fmt.Errorf("%w: could not serialize access", db.ErrSerialization)
	}
	m.mu.Unlock()

	if m.beforeTx != nil {
		if err := m.beforeTx(ctx); err != nil {
			return err
		}
	}

	tx := &mockTx{repo: m}
	if err := fn(ctx, tx); err != nil {
		return err
	}

	if m.commitUnknown {
		return fmt.Errorf("%w: connection reset during commit", ErrBookingOutcomeUnknown)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range tx.staged {
		m.appointments[a.ID] = a
	}
	return nil
}

func (m *mockRepo) UpdateAppointmentStatus(_ context.Context, ch StatusChange) (*Appointment, error) {
	if m.beforeUpdate != nil {
		m.beforeUpdate(ch.ID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appointments[ch.ID]
	if !ok || a.Status != ch.From {
		return nil, ErrAppointmentNotFound
	}
	a.Status = ch.To
	a.UpdatedAt = ch.At
	switch ch.To {
	case StatusConfirmed:
		a.ConfirmedAt = &ch.At
	case StatusCompleted, StatusNoShow:
		a.CompletedAt = &ch.At
	case StatusCancelled:
		a.CancelledAt = &ch.At
	}
	if ch.CancelReason != nil {
		a.CancelReason = ch.CancelReason
	}
	if ch.CancelledBy != nil {
		a.CancelledBy = ch.CancelledBy
	}
	m.appointments[a.ID] = a
	return &a, nil
}

func (m *mockRepo) FindStalePending(_ context.Context, startedBefore time.Time, limit int) ([]Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Appointment
	for _, a := range m.appointments {
		if a.Status == StatusPending && a.StartAt.Before(startedBefore) {
			out = append(out, a)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type mockTx struct {
	repo   *mockRepo
	staged []Appointment
}

func (t *mockTx) ListAvailability(ctx context.Context, doctorID uuid.UUID, weekday time.Weekday) ([]schedule.RecurringAvailability, error) {
	return t.repo.ListAvailability(ctx, doctorID, weekday)
}

func (t *mockTx) ListTimeBlocks(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]schedule.TimeBlock, error) {
	return t.repo.ListTimeBlocks(ctx, doctorID, from, to)
}

func (t *mockTx) ListActiveAppointments(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	return t.repo.ListActiveAppointments(ctx, doctorID, from, to)
}

func (t *mockTx) InsertAppointment(_ context.Context, in NewAppointment) (*Appointment, error) {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()

	if len(t.repo.activeLocked(in.DoctorID, in.StartAt, in.EndAt)) > 0 {
		return nil, ErrSlotAlreadyBooked
	}
	if in.IdempotencyKey != nil {
		for _, a := range t.repo.appointments {
			if a.PatientID == in.PatientID && a.IdempotencyKey != nil && *a.IdempotencyKey == *in.IdempotencyKey {
				return nil, ErrDuplicateRequest
			}
		}
	}

	a := Appointment{
		ID:               in.ID,
		PatientID:        in.PatientID,
		DoctorID:         in.DoctorID,
		StartAt:          in.StartAt,
		EndAt:            in.EndAt,
		DurationMinutes:  in.DurationMinutes,
		Status:           StatusPending,
		ConsultationType: in.ConsultationType,
		Reason:           in.Reason,
		Notes:            in.Notes,
		MeetingURL:       in.MeetingURL,
		Price:            in.Price,
		IdempotencyKey:   in.IdempotencyKey,
	}
	t.staged = append(t.staged, a)
	return &a, nil
}

type mockDirectory struct {
	mu       sync.Mutex
	doctors  map[uuid.UUID]doctor.Doctor
	failures int
}

func (m *mockDirectory) GetDoctor(_ context.Context, id uuid.UUID) (*doctor.Doctor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failures > 0 {
		m.failures--
		return nil, fmt.Errorf("%w: connection reset", db.ErrTransient)
	}
	d, ok := m.doctors[id]
	if !ok {
		return nil, doctor.ErrDoctorNotFound
	}
	return &d, nil
}

type mockRecorder struct {
	mu     sync.Mutex
	events []activity.Event
	err    error
}

func (r *mockRecorder) Record(_ context.Context, ev activity.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.err
}

func (r *mockRecorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

type stubLocker struct {
	err error
	// runs before err is returned, standing in for the lock holder
	onContend func()
}

func (l stubLocker) WithSlotLock(ctx context.Context, _ redisclient.SlotKey, fn func(ctx context.Context) error) error {
	if l.err != nil {
		if l.onContend != nil {
			l.onContend()
		}
		return l.err
	}
	return fn(ctx)
}

var errRedisDown = errors.New("acquire slot lock: dial tcp: connection refused")
