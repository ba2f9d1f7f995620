package doctor

import (
	"context"
	"errors"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/hackgods/clinic-scheduling/internal/db"
)

type mockDirectory struct {
	doctors map[uuid.UUID]Doctor
	calls   int
}

func (m *mockDirectory) GetDoctor(_ context.Context, id uuid.UUID) (*Doctor, error) {
	m.calls++
	d, ok := m.doctors[id]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	return &d, nil
}

func TestSchedulingConfig(t *testing.T) {
	price := int64(5000)
	d := &Doctor{ID: uuid.New(), SlotDurationMinutes: 20, Timezone: "America/Sao_Paulo", ConsultationPrice: &price}

	cfg, err := d.SchedulingConfig(30)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.SlotDuration != 20*time.Minute || cfg.SlotMinutes() != 20 {
		t.Errorf("expected 20 minute slots, got %s", cfg.SlotDuration)
	}
	if cfg.Location.String() != "America/Sao_Paulo" {
		t.Errorf("expected America/Sao_Paulo, got %s", cfg.Location)
	}
	if cfg.ConsultationPrice == nil || *cfg.ConsultationPrice != 5000 {
		t.Errorf("expected price to carry over")
	}
}

func TestSchedulingConfigDefaults(t *testing.T) {
	d := &Doctor{ID: uuid.New()}

	cfg, err := d.SchedulingConfig(30)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.SlotMinutes() != 30 {
		t.Errorf("expected default 30 minutes, got %d", cfg.SlotMinutes())
	}
	if cfg.Location != time.UTC {
		t.Errorf("expected UTC, got %s", cfg.Location)
	}
}

func TestSchedulingConfigBadTimezone(t *testing.T) {
	d := &Doctor{ID: uuid.New(), Timezone: "Mars/Olympus_Mons"}
	if _, err := d.SchedulingConfig(30); err == nil {
		t.Fatal("expected error for unknown timezone")
	}
}

func TestCachedDirectory(t *testing.T) {
	id := uuid.New()
	mock := &mockDirectory{doctors: map[uuid.UUID]Doctor{id: {ID: id, Name: "Dr. Costa", Active: true}}}
	dir := NewCachedDirectory(mock, 10, time.Minute)

	for i := 0; i < 3; i++ {
		d, err := dir.GetDoctor(context.Background(), id)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if d.Name != "Dr. Costa" {
			t.Errorf("expected Dr. Costa, got %s", d.Name)
		}
	}
	if mock.calls != 1 {
		t.Errorf("expected 1 backing call, got %d", mock.calls)
	}

	dir.Invalidate(id)
	if _, err := dir.GetDoctor(context.Background(), id); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mock.calls != 2 {
		t.Errorf("expected reload after invalidate, got %d calls", mock.calls)
	}
}

func TestCachedDirectoryDoesNotCacheMisses(t *testing.T) {
	mock := &mockDirectory{doctors: map[uuid.UUID]Doctor{}}
	dir := NewCachedDirectory(mock, 10, time.Minute)
	id := uuid.New()

	for i := 0; i < 2; i++ {
		if _, err := dir.GetDoctor(context.Background(), id); !errors.Is(err, ErrDoctorNotFound) {
			t.Fatalf("expected ErrDoctorNotFound, got %v", err)
		}
	}
	if mock.calls != 2 {
		t.Errorf("expected misses to reach the backing directory, got %d calls", mock.calls)
	}
}

func TestLookupError(t *testing.T) {
	if err := lookupError(pgx.ErrNoRows); err != ErrDoctorNotFound {
		t.Fatalf("expected ErrDoctorNotFound, got %v", err)
	}

	err := lookupError(&pgconn.PgError{Code: "08006"})
	if !errors.Is(err, db.ErrTransient) {
		t.Errorf("expected connection failure to be transient, got %v", err)
	}

	err = lookupError(&pgconn.PgError{Code: "42P01"})
	if errors.Is(err, db.ErrTransient) || errors.Is(err, ErrDoctorNotFound) {
		t.Errorf("expected undefined table to stay permanent, got %v", err)
	}
}
