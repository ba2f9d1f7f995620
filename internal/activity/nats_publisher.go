package activity

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

const SubjectPrefix = "clinic.appointment"

// NatsPublisher publishes events on clinic.appointment.<event>, e.g.
// clinic.appointment.created.
type NatsPublisher struct {
	nc *nats.Conn
}

func NewNatsPublisher(nc *nats.Conn) *NatsPublisher {
	return &NatsPublisher{nc: nc}
}

type message struct {
	Type          string         `json:"type"`
	AppointmentID uuid.UUID      `json:"appointment_id"`
	DoctorID      uuid.UUID      `json:"doctor_id"`
	PatientID     uuid.UUID      `json:"patient_id"`
	ActorID       *uuid.UUID     `json:"actor_id,omitempty"`
	Payload       map[string]any `json:"payload,omitempty"`
	OccurredAt    time.Time      `json:"occurred_at"`
}

func (p *NatsPublisher) Record(_ context.Context, ev Event) error {
	data, err := json.Marshal(message{
		Type:          ev.Type,
		AppointmentID: ev.AppointmentID,
		DoctorID:      ev.DoctorID,
		PatientID:     ev.PatientID,
		ActorID:       ev.ActorID,
		Payload:       ev.Payload,
		OccurredAt:    ev.OccurredAt,
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if err := p.nc.Publish(Subject(ev.Type), data); err != nil {
		return fmt.Errorf("publish %s: %w", ev.Type, err)
	}
	return nil
}

// Subject maps APPOINTMENT_NO_SHOW to clinic.appointment.no_show.
func Subject(eventType string) string {
	name := strings.ToLower(strings.TrimPrefix(eventType, "APPOINTMENT_"))
	return SubjectPrefix + "." + name
}

func Connect(url string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("clinic-scheduling"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return nc, nil
}
