package doctor

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/clinic-scheduling/internal/db"
)

type Directory interface {
	GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error)
}

type PgDirectory struct {
	pool *pgxpool.Pool
}

func NewPgDirectory(pool *pgxpool.Pool) *PgDirectory {
	return &PgDirectory{pool: pool}
}

func (r *PgDirectory) GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	var d Doctor
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, specialty, slot_duration_minutes, timezone, active,
		       accepts_insurance, consultation_price, created_at, updated_at
		FROM doctors
		WHERE id = $1
	`, id).Scan(
		&d.ID,
		&d.Name,
		&d.Specialty,
		&d.SlotDurationMinutes,
		&d.Timezone,
		&d.Active,
		&d.AcceptsInsurance,
		&d.ConsultationPrice,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		return nil, lookupError(err)
	}
	return &d, nil
}

func lookupError(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrDoctorNotFound
	}
	return db.Classify(fmt.Errorf("load doctor: %w", err))
}
