package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Booking outcomes recorded on clinic_booking_attempts_total.
const (
	OutcomeBooked      = "booked"
	OutcomeReplayed    = "replayed"
	OutcomeConflict    = "conflict"
	OutcomeUnavailable = "outside_availability"
	OutcomeTimeout     = "timeout"
	OutcomeUnknown     = "unknown_outcome"
	OutcomeError       = "error"
)

// BookingMetrics groups the instruments the booking path reports to.
// Instruments come from the global meter, so a process that never calls
// Init records into a no-op provider.
type BookingMetrics struct {
	attempts    metric.Int64Counter
	retries     metric.Int64Counter
	transitions metric.Int64Counter
	duration    metric.Float64Histogram
	slotQueries metric.Int64Counter
}

func NewBookingMetrics() *BookingMetrics {
	meter := otel.Meter(InstrumentationName)

	attempts, _ := meter.Int64Counter(
		"clinic_booking_attempts_total",
		metric.WithDescription("Booking attempts by outcome"),
	)
	retries, _ := meter.Int64Counter(
		"clinic_booking_retries_total",
		metric.WithDescription("Booking transactions retried after a serialization failure"),
	)
	transitions, _ := meter.Int64Counter(
		"clinic_appointment_transitions_total",
		metric.WithDescription("Appointment status changes"),
	)
	duration, _ := meter.Float64Histogram(
		"clinic_booking_duration_ms",
		metric.WithDescription("End-to-end booking latency"),
		metric.WithUnit("ms"),
	)
	slotQueries, _ := meter.Int64Counter(
		"clinic_slot_queries_total",
		metric.WithDescription("Slot availability queries"),
	)

	return &BookingMetrics{
		attempts:    attempts,
		retries:     retries,
		transitions: transitions,
		duration:    duration,
		slotQueries: slotQueries,
	}
}

func (m *BookingMetrics) BookingAttempt(ctx context.Context, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.attempts.Add(ctx, 1, attrs)
	m.duration.Record(ctx, float64(elapsed.Microseconds())/1000, attrs)
}

func (m *BookingMetrics) BookingRetry(ctx context.Context) {
	if m == nil {
		return
	}
	m.retries.Add(ctx, 1)
}

func (m *BookingMetrics) Transition(ctx context.Context, to string) {
	if m == nil {
		return
	}
	m.transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("to", to)))
}

func (m *BookingMetrics) SlotQuery(ctx context.Context, available int) {
	if m == nil {
		return
	}
	m.slotQueries.Add(ctx, 1, metric.WithAttributes(attribute.Bool("empty", available == 0)))
}
