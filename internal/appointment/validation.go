package appointment

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const (
	maxReasonLength = 500
	maxNotesLength  = 2000
	maxKeyLength    = 128
)

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

func (r *CreateRequest) normalize() error {
	if r.PatientID == uuid.Nil {
		return invalid("patient_id", "is required")
	}
	if r.DoctorID == uuid.Nil {
		return invalid("doctor_id", "is required")
	}
	if r.Start.IsZero() {
		return invalid("start", "is required")
	}
	if r.Start.Second() != 0 || r.Start.Nanosecond() != 0 {
		return invalid("start", "must fall on a whole minute")
	}

	r.Reason = strings.TrimSpace(r.Reason)
	if len(r.Reason) > maxReasonLength {
		return invalid("reason", fmt.Sprintf("must be at most %d characters", maxReasonLength))
	}
	if r.Notes != nil {
		n := strings.TrimSpace(*r.Notes)
		if len(n) > maxNotesLength {
			return invalid("notes", fmt.Sprintf("must be at most %d characters", maxNotesLength))
		}
		if n == "" {
			r.Notes = nil
		} else {
			r.Notes = &n
		}
	}

	if r.ConsultationType == "" {
		r.ConsultationType = ConsultationInPerson
	}
	if !r.ConsultationType.Valid() {
		return invalid("consultation_type", fmt.Sprintf("unknown type %q", r.ConsultationType))
	}

	r.IdempotencyKey = strings.TrimSpace(r.IdempotencyKey)
	if len(r.IdempotencyKey) > maxKeyLength {
		return invalid("idempotency_key", fmt.Sprintf("must be at most %d characters", maxKeyLength))
	}
	return nil
}
