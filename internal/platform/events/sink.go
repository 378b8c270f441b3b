// Package events carries appointment and billing lifecycle events to
// external delivery (websocket subscribers, notification fan-out). The
// services publish through the Sink interface; delivery is best-effort
// and never fails or blocks the operation that produced the event.
package events

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Event types emitted by the core.
const (
	TypeAppointmentCreated   = "appointment.created"
	TypeAppointmentUpdated   = "appointment.updated"
	TypeAppointmentCancelled = "appointment.cancelled"
	TypeAppointmentArrived   = "appointment.arrived"
	TypePaymentCaptured      = "payment.captured"
	TypeRefundDecided        = "refund.decided"
)

// Event is one lifecycle notification. Data carries the full current
// projection of the entity (appointment with joined patient/doctor/
// service summaries, payment, refund decision) for external delivery.
type Event struct {
	Type      string      `json:"type"`
	Topic     string      `json:"topic"`
	EntityID  string      `json:"entity_id"`
	ActorID   string      `json:"actor_id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

// Sink receives events for external delivery.
type Sink interface {
	Publish(ctx context.Context, event Event) error
}

// emitTimeout bounds the best-effort delivery attempt.
const emitTimeout = 2 * time.Second

// Emit delivers an event asynchronously. Sink failures are logged and
// swallowed; the caller's transaction has already committed and must not
// be affected.
func Emit(logger zerolog.Logger, sink Sink, event Event) {
	if sink == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), emitTimeout)
		defer cancel()
		if err := sink.Publish(ctx, event); err != nil {
			logger.Warn().
				Err(err).
				Str("event_type", event.Type).
				Str("entity_id", event.EntityID).
				Msg("event delivery failed")
		}
	}()
}

// LogSink writes events to the structured log. Used as the delivery
// mechanism in development and as a tail behind MultiSink in production.
type LogSink struct {
	Logger zerolog.Logger
}

func (s LogSink) Publish(_ context.Context, event Event) error {
	s.Logger.Info().
		Str("event_type", event.Type).
		Str("topic", event.Topic).
		Str("entity_id", event.EntityID).
		Str("actor_id", event.ActorID).
		Msg("event")
	return nil
}

// MultiSink fans an event out to several sinks; every sink gets a
// delivery attempt and the first error is reported.
type MultiSink []Sink

func (m MultiSink) Publish(ctx context.Context, event Event) error {
	var first error
	for _, s := range m {
		if err := s.Publish(ctx, event); err != nil && first == nil {
			first = err
		}
	}
	return first
}
