package schedule

import (
	"sort"
	"time"
)

// Interval is a half-open range of minutes since midnight.
type Interval struct {
	Start int
	End   int
}

func (i Interval) Overlaps(o Interval) bool {
	return i.Start < o.End && o.Start < i.End
}

// MergeIntervals returns the sorted union of the given intervals.
// Overlapping and touching intervals collapse into one.
func MergeIntervals(in []Interval) []Interval {
	if len(in) == 0 {
		return nil
	}

	sorted := make([]Interval, 0, len(in))
	for _, iv := range in {
		if iv.Start < iv.End {
			sorted = append(sorted, iv)
		}
	}
	sort.Slice(sorted, func(a, b int) bool {
		if sorted[a].Start == sorted[b].Start {
			return sorted[a].End < sorted[b].End
		}
		return sorted[a].Start < sorted[b].Start
	})

	var out []Interval
	for _, iv := range sorted {
		if n := len(out); n > 0 && iv.Start <= out[n-1].End {
			if iv.End > out[n-1].End {
				out[n-1].End = iv.End
			}
			continue
		}
		out = append(out, iv)
	}
	return out
}

// ResolveDay selects the active windows for weekday and merges them.
// A day without windows yields nil.
func ResolveDay(windows []RecurringAvailability, weekday time.Weekday) []Interval {
	var ivs []Interval
	for _, w := range windows {
		if !w.Active || w.DayOfWeek != weekday {
			continue
		}
		start, end := clampMinute(w.StartMinute), clampMinute(w.EndMinute)
		if start >= end {
			continue
		}
		ivs = append(ivs, Interval{Start: start, End: end})
	}
	return MergeIntervals(ivs)
}

func clampMinute(m int) int {
	if m < 0 {
		return 0
	}
	if m > MinutesPerDay {
		return MinutesPerDay
	}
	return m
}
