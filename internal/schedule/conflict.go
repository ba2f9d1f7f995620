package schedule

import (
	"time"

	"github.com/google/uuid"
)

type ConflictSource string

const (
	ConflictNone        ConflictSource = ""
	ConflictAppointment ConflictSource = "appointment"
	ConflictBlock       ConflictSource = "block"
)

// Conflict describes why a candidate range is not bookable.
type Conflict struct {
	Source        ConflictSource
	AppointmentID uuid.UUID
	BlockID       uuid.UUID
}

func (c Conflict) Found() bool {
	return c.Source != ConflictNone
}

// Detector answers whether [start, end) collides with anything already on
// the doctor's calendar.
type Detector interface {
	Detect(start, end time.Time) Conflict
}

// Overlaps reports whether the half-open ranges [aStart, aEnd) and
// [bStart, bEnd) intersect. Touching endpoints do not overlap.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}

// LinearDetector scans blocks and bookings on every call. A doctor's day
// rarely holds more than a few dozen entries.
type LinearDetector struct {
	blocks   []TimeBlock
	bookings []Booking
}

func NewLinearDetector(blocks []TimeBlock, bookings []Booking) *LinearDetector {
	return &LinearDetector{blocks: blocks, bookings: bookings}
}

// Detect reports an appointment conflict ahead of a block conflict.
func (d *LinearDetector) Detect(start, end time.Time) Conflict {
	for _, b := range d.bookings {
		if Overlaps(start, end, b.Start, b.End) {
			return Conflict{Source: ConflictAppointment, AppointmentID: b.AppointmentID}
		}
	}
	for _, b := range d.blocks {
		if Overlaps(start, end, b.Start, b.End) {
			return Conflict{Source: ConflictBlock, BlockID: b.ID}
		}
	}
	return Conflict{}
}
