package schedule

import (
	"errors"
	"time"
)

var ErrInvalidDuration = errors.New("slot duration must be a positive number of minutes")

// Slot is a derived, bookable-or-not piece of a doctor's day.
type Slot struct {
	Start     time.Time
	End       time.Time
	Minute    int
	Available bool
	Conflict  Conflict
}

func (s Slot) Time() string {
	return FormatMinute(s.Minute)
}

type GenerateParams struct {
	Date            Date
	Location        *time.Location
	Windows         []Interval
	DurationMinutes int
	// Slots starting before Now+LeadTime are dropped.
	Now      time.Time
	LeadTime time.Duration
}

// GenerateSlots walks every window in fixed steps and tags each slot with
// the detector's verdict. Output is ordered by start.
func GenerateSlots(p GenerateParams, d Detector) ([]Slot, error) {
	if p.DurationMinutes <= 0 {
		return nil, ErrInvalidDuration
	}
	loc := p.Location
	if loc == nil {
		loc = time.UTC
	}
	cutoff := p.Now.Add(p.LeadTime)

	var (
		slots   []Slot
		prevEnd time.Time
	)
	for _, w := range MergeIntervals(p.Windows) {
		windowEnd := p.Date.At(w.End, loc)
		for m := w.Start; m+p.DurationMinutes <= w.End; m += p.DurationMinutes {
			start := p.Date.At(m, loc)
			end := start.Add(time.Duration(p.DurationMinutes) * time.Minute)
			// On DST transition days a wall time may not exist, and a slot
			// spanning the jump ends later on the wall clock than m+duration.
			if !wallClockIs(start, m) || start.Before(prevEnd) || end.After(windowEnd) {
				continue
			}
			prevEnd = end
			if start.Before(cutoff) {
				continue
			}

			slot := Slot{Start: start, End: end, Minute: m, Available: true}
			if d != nil {
				if c := d.Detect(start, end); c.Found() {
					slot.Available = false
					slot.Conflict = c
				}
			}
			slots = append(slots, slot)
		}
	}
	return slots, nil
}

func wallClockIs(t time.Time, minute int) bool {
	return t.Hour()*60+t.Minute() == minute
}

// FindSlot returns the generated slot starting exactly at start.
func FindSlot(slots []Slot, start time.Time) (Slot, bool) {
	for _, s := range slots {
		if s.Start.Equal(start) {
			return s, true
		}
	}
	return Slot{}, false
}
