package activity

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
)

type recordingSink struct {
	events []Event
	err    error
}

func (r *recordingSink) Record(_ context.Context, ev Event) error {
	r.events = append(r.events, ev)
	return r.err
}

func TestMultiDeliversToAll(t *testing.T) {
	failing := &recordingSink{err: errors.New("broker down")}
	ok := &recordingSink{}

	ev := Event{Type: EventAppointmentCreated, AppointmentID: uuid.New()}
	err := Multi{failing, nil, ok}.Record(context.Background(), ev)

	if err == nil {
		t.Fatal("expected the failing sink's error")
	}
	if len(ok.events) != 1 {
		t.Errorf("expected healthy sink to receive the event after a failure, got %d", len(ok.events))
	}
	if len(failing.events) != 1 {
		t.Errorf("expected failing sink to be attempted once, got %d", len(failing.events))
	}
}

func TestSubject(t *testing.T) {
	tests := map[string]string{
		EventAppointmentCreated: "clinic.appointment.created",
		EventAppointmentNoShow:  "clinic.appointment.no_show",
		"CUSTOM":                "clinic.appointment.custom",
	}
	for in, want := range tests {
		if got := Subject(in); got != want {
			t.Errorf("Subject(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestEventPayloadIncludesParticipants(t *testing.T) {
	doctorID, patientID := uuid.New(), uuid.New()
	p := eventPayload(Event{
		DoctorID:  doctorID,
		PatientID: patientID,
		Payload:   map[string]any{"reason": "checkup"},
	})

	if p["doctor_id"] != doctorID.String() || p["patient_id"] != patientID.String() {
		t.Errorf("expected participant ids in payload, got %v", p)
	}
	if p["reason"] != "checkup" {
		t.Errorf("expected original payload kept, got %v", p)
	}
}
