package activity

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PgRecorder appends events to the event_logs table.
type PgRecorder struct {
	pool *pgxpool.Pool
}

func NewPgRecorder(pool *pgxpool.Pool) *PgRecorder {
	return &PgRecorder{pool: pool}
}

func (r *PgRecorder) Record(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(eventPayload(ev))
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, actor_id, payload, created_at)
		VALUES ($1, $2, $3, $4, COALESCE($5, now()))
	`, ev.Type, ev.AppointmentID, ev.ActorID, payload, nullableTime(ev))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}
	return nil
}

func eventPayload(ev Event) map[string]any {
	out := make(map[string]any, len(ev.Payload)+2)
	for k, v := range ev.Payload {
		out[k] = v
	}
	out["doctor_id"] = ev.DoctorID.String()
	out["patient_id"] = ev.PatientID.String()
	return out
}

func nullableTime(ev Event) any {
	if ev.OccurredAt.IsZero() {
		return nil
	}
	return ev.OccurredAt
}
