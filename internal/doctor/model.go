package doctor

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var ErrDoctorNotFound = errors.New("doctor not found")

type Doctor struct {
	ID                  uuid.UUID
	Name                string
	Specialty           *string
	SlotDurationMinutes int
	Timezone            string
	Active              bool
	AcceptsInsurance    bool
	ConsultationPrice   *int64 // minor currency units
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// SchedulingConfig is everything the booking path needs to know about a
// doctor, resolved once per request.
type SchedulingConfig struct {
	DoctorID          uuid.UUID
	SlotDuration      time.Duration
	Location          *time.Location
	AcceptsInsurance  bool
	ConsultationPrice *int64
}

func (c SchedulingConfig) SlotMinutes() int {
	return int(c.SlotDuration / time.Minute)
}

// SchedulingConfig falls back to defaultSlotMinutes when the stored
// duration is unset.
func (d *Doctor) SchedulingConfig(defaultSlotMinutes int) (SchedulingConfig, error) {
	minutes := d.SlotDurationMinutes
	if minutes <= 0 {
		minutes = defaultSlotMinutes
	}
	if minutes <= 0 {
		minutes = 30
	}

	tz := d.Timezone
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return SchedulingConfig{}, fmt.Errorf("doctor %s timezone %q: %w", d.ID, tz, err)
	}

	return SchedulingConfig{
		DoctorID:          d.ID,
		SlotDuration:      time.Duration(minutes) * time.Minute,
		Location:          loc,
		AcceptsInsurance:  d.AcceptsInsurance,
		ConsultationPrice: d.ConsultationPrice,
	}, nil
}
