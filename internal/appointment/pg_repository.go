package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/schedule"
)

const (
	constraintNoOverlap   = "appointments_no_overlap"
	constraintActiveStart = "appointments_doctor_start_active"
	constraintIdempotency = "appointments_patient_idempotency"
)

const appointmentColumns = `id, patient_id, doctor_id, start_at, end_at, duration_minutes, status,
	consultation_type, reason, notes, meeting_url, price, idempotency_key,
	cancel_reason, cancelled_by, created_at, updated_at, confirmed_at, completed_at, cancelled_at`

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient

	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.Email,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, db.Classify(err)
	}

	return &p, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.DoctorID,
		&a.StartAt,
		&a.EndAt,
		&a.DurationMinutes,
		&a.Status,
		&a.ConsultationType,
		&a.Reason,
		&a.Notes,
		&a.MeetingURL,
		&a.Price,
		&a.IdempotencyKey,
		&a.CancelReason,
		&a.CancelledBy,
		&a.CreatedAt,
		&a.UpdatedAt,
		&a.ConfirmedAt,
		&a.CompletedAt,
		&a.CancelledAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, db.Classify(err)
	}

	return &a, nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, db.Classify(err)
	}
	return result, nil
}

func statusStrings(in []AppointmentStatus) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}

// Schedule reads, shared by pool and transaction

func listAvailability(ctx context.Context, q querier, doctorID uuid.UUID, weekday time.Weekday) ([]schedule.RecurringAvailability, error) {
	rows, err := q.Query(ctx, `
		SELECT id, doctor_id, day_of_week, start_time, end_time, active
		FROM doctor_availability
		WHERE doctor_id = $1
		  AND day_of_week = $2
		  AND active
		ORDER BY start_time
	`, doctorID, int16(weekday))
	if err != nil {
		return nil, db.Classify(fmt.Errorf("query availability: %w", err))
	}
	defer rows.Close()

	var result []schedule.RecurringAvailability
	for rows.Next() {
		var (
			w          schedule.RecurringAvailability
			day        int16
			start, end pgtype.Time
		)
		if err := rows.Scan(&w.ID, &w.DoctorID, &day, &start, &end, &w.Active); err != nil {
			return nil, db.Classify(fmt.Errorf("scan availability: %w", err))
		}
		w.DayOfWeek = time.Weekday(day)
		w.StartMinute = minuteOfDay(start)
		w.EndMinute = minuteOfDay(end)
		result = append(result, w)
	}
	if err := rows.Err(); err != nil {
		return nil, db.Classify(err)
	}
	return result, nil
}

func minuteOfDay(t pgtype.Time) int {
	return int(t.Microseconds / int64(time.Minute/time.Microsecond))
}

func listTimeBlocks(ctx context.Context, q querier, doctorID uuid.UUID, from, to time.Time) ([]schedule.TimeBlock, error) {
	rows, err := q.Query(ctx, `
		SELECT id, doctor_id, start_at, end_at, reason
		FROM time_blocks
		WHERE doctor_id = $1
		  AND start_at < $3
		  AND end_at > $2
		ORDER BY start_at
	`, doctorID, from, to)
	if err != nil {
		return nil, db.Classify(fmt.Errorf("query time blocks: %w", err))
	}
	defer rows.Close()

	var result []schedule.TimeBlock
	for rows.Next() {
		var b schedule.TimeBlock
		if err := rows.Scan(&b.ID, &b.DoctorID, &b.Start, &b.End, &b.Reason); err != nil {
			return nil, db.Classify(fmt.Errorf("scan time block: %w", err))
		}
		result = append(result, b)
	}
	if err := rows.Err(); err != nil {
		return nil, db.Classify(err)
	}
	return result, nil
}

func listActiveAppointments(ctx context.Context, q querier, doctorID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	rows, err := q.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1
		  AND status = ANY($4)
		  AND start_at < $3
		  AND end_at > $2
		ORDER BY start_at
	`, doctorID, from, to, statusStrings(ActiveStatuses))
	if err != nil {
		return nil, db.Classify(fmt.Errorf("query active appointments: %w", err))
	}
	return collectAppointments(rows)
}

// Interface methods

func (r *PgRepository) ListAvailability(ctx context.Context, doctorID uuid.UUID, weekday time.Weekday) ([]schedule.RecurringAvailability, error) {
	return listAvailability(ctx, r.pool, doctorID, weekday)
}

func (r *PgRepository) ListTimeBlocks(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]schedule.TimeBlock, error) {
	return listTimeBlocks(ctx, r.pool, doctorID, from, to)
}

func (r *PgRepository) ListActiveAppointments(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	return listActiveAppointments(ctx, r.pool, doctorID, from, to)
}

func (r *PgRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, email, created_at, updated_at
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) FindByIdempotencyKey(ctx context.Context, patientID uuid.UUID, key string) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE patient_id = $1
		  AND idempotency_key = $2
	`, patientID, key)
	return scanAppointment(row)
}

func (r *PgRepository) ListAppointments(ctx context.Context, f ListFilter) ([]Appointment, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}

	if f.PatientID != nil {
		add("patient_id = $%d", *f.PatientID)
	}
	if f.DoctorID != nil {
		add("doctor_id = $%d", *f.DoctorID)
	}
	if f.Status != nil {
		add("status = $%d", string(*f.Status))
	}
	if f.From != nil {
		add("start_at >= $%d", *f.From)
	}
	if f.To != nil {
		add("start_at < $%d", *f.To)
	}

	sql := `SELECT ` + appointmentColumns + ` FROM appointments`
	if len(where) > 0 {
		sql += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, f.Limit, f.Offset)
	sql += fmt.Sprintf(` ORDER BY start_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, db.Classify(fmt.Errorf("list appointments: %w", err))
	}
	return collectAppointments(rows)
}

// WithBookingTx holds a per-doctor session advisory lock around a
// SERIALIZABLE transaction on the same connection. The lock is taken before
// BEGIN so the transaction snapshot is only taken once the previous holder
// has committed.
func (r *PgRepository) WithBookingTx(ctx context.Context, doctorID uuid.UUID, fn func(ctx context.Context, tx BookingTx) error) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return db.Classify(fmt.Errorf("acquire booking connection: %w", err))
	}
	defer conn.Release()

	lockKey := doctorID.String()
	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock(hashtextextended($1::text, 0))`, lockKey); err != nil {
		// A cancelled wait can still leave the lock granted.
		r.unlockDoctor(ctx, conn, lockKey)
		return db.Classify(fmt.Errorf("lock doctor calendar: %w", err))
	}
	defer r.unlockDoctor(ctx, conn, lockKey)

	tx, err := conn.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return db.Classify(fmt.Errorf("begin booking tx: %w", err))
	}
	defer func() {
		// no-op after a successful commit
		_ = tx.Rollback(context.WithoutCancel(ctx))
	}()

	if err := fn(ctx, &pgBookingTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		if db.IsServerError(err) {
			return db.Classify(fmt.Errorf("commit booking: %w", err))
		}
		return fmt.Errorf("%w: %w", ErrBookingOutcomeUnknown, err)
	}
	return nil
}

// unlockDoctor releases the session lock. If that fails the connection is
// closed so the pool does not hand out a connection still holding it.
func (r *PgRepository) unlockDoctor(ctx context.Context, conn *pgxpool.Conn, key string) {
	ctx = context.WithoutCancel(ctx)
	if _, err := conn.Exec(ctx, `SELECT pg_advisory_unlock(hashtextextended($1::text, 0))`, key); err != nil {
		_ = conn.Conn().Close(ctx)
	}
}

type pgBookingTx struct {
	tx pgx.Tx
}

func (t *pgBookingTx) ListAvailability(ctx context.Context, doctorID uuid.UUID, weekday time.Weekday) ([]schedule.RecurringAvailability, error) {
	return listAvailability(ctx, t.tx, doctorID, weekday)
}

func (t *pgBookingTx) ListTimeBlocks(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]schedule.TimeBlock, error) {
	return listTimeBlocks(ctx, t.tx, doctorID, from, to)
}

func (t *pgBookingTx) ListActiveAppointments(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	return listActiveAppointments(ctx, t.tx, doctorID, from, to)
}

func (t *pgBookingTx) InsertAppointment(ctx context.Context, in NewAppointment) (*Appointment, error) {
	row := t.tx.QueryRow(ctx, `
		INSERT INTO appointments (
			id, patient_id, doctor_id, start_at, end_at, duration_minutes, status,
			consultation_type, reason, notes, meeting_url, price, idempotency_key,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, 'pending', $7, $8, $9, $10, $11, $12, now(), now())
		RETURNING `+appointmentColumns,
		in.ID, in.PatientID, in.DoctorID, in.StartAt, in.EndAt, in.DurationMinutes,
		string(in.ConsultationType), in.Reason, in.Notes, in.MeetingURL, in.Price, in.IdempotencyKey,
	)

	appt, err := scanAppointment(row)
	if err != nil {
		if name, ok := db.ConstraintViolation(err); ok {
			switch name {
			case constraintNoOverlap, constraintActiveStart:
				return nil, ErrSlotAlreadyBooked
			case constraintIdempotency:
				return nil, ErrDuplicateRequest
			}
		}
		return nil, fmt.Errorf("insert appointment: %w", err)
	}
	return appt, nil
}

func (r *PgRepository) UpdateAppointmentStatus(ctx context.Context, ch StatusChange) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = $3,
		    confirmed_at = CASE WHEN $2 = 'confirmed' THEN $3 ELSE confirmed_at END,
		    completed_at = CASE WHEN $2 IN ('completed', 'no_show') THEN $3 ELSE completed_at END,
		    cancelled_at = CASE WHEN $2 = 'cancelled' THEN $3 ELSE cancelled_at END,
		    cancel_reason = COALESCE($5, cancel_reason),
		    cancelled_by = COALESCE($6, cancelled_by)
		WHERE id = $1
		  AND status = $4
		RETURNING `+appointmentColumns,
		ch.ID, string(ch.To), ch.At, string(ch.From), ch.CancelReason, ch.CancelledBy,
	)

	return scanAppointment(row)
}

func (r *PgRepository) FindStalePending(ctx context.Context, startedBefore time.Time, limit int) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status = 'pending'
		  AND start_at < $1
		ORDER BY start_at
		LIMIT $2
	`, startedBefore, limit)
	if err != nil {
		return nil, db.Classify(fmt.Errorf("find stale pending: %w", err))
	}
	return collectAppointments(rows)
}
