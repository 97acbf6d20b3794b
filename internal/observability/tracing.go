package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Tracer returns a tracer for the given name
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}

// StartSpan starts a new span from context
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(instrumentationName).Start(ctx, name, opts...)
}

// StartStoreSpan starts a span for storage adapter operations
func StartStoreSpan(ctx context.Context, operation, collection string) (context.Context, trace.Span) {
	return StartSpan(ctx, fmt.Sprintf("Store %s %s", operation, collection),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("store.operation", operation),
			attribute.String("store.collection", collection),
		),
	)
}

// StartSessionSpan starts a span for session manager operations
func StartSessionSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	opts := []trace.SpanStartOption{
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(Operation(operation)),
	}
	if len(attrs) > 0 {
		opts = append(opts, trace.WithAttributes(attrs...))
	}
	return StartSpan(ctx, fmt.Sprintf("Session.%s", operation), opts...)
}

// RecordError records an error on the span
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSuccess marks the span as successful
func SetSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// SessionMetrics holds the session-layer counters.
type SessionMetrics struct {
	sessionsCreated    metric.Int64Counter
	sessionsJoined     metric.Int64Counter
	sessionsEnded      metric.Int64Counter
	slideAdvances      metric.Int64Counter
	snapshotsDelivered metric.Int64Counter
	watchEvents        metric.Int64Counter
	activeObservers    metric.Int64UpDownCounter
}

// NewSessionMetrics creates the session metric instruments.
func NewSessionMetrics() (*SessionMetrics, error) {
	meter := otel.Meter(instrumentationName)

	sessionsCreated, err := meter.Int64Counter(
		"syncslides.sessions.created",
		metric.WithDescription("Total number of sessions created on this device"),
		metric.WithUnit("{sessions}"),
	)
	if err != nil {
		return nil, err
	}

	sessionsJoined, err := meter.Int64Counter(
		"syncslides.sessions.joined",
		metric.WithDescription("Total number of sessions joined by this device"),
		metric.WithUnit("{sessions}"),
	)
	if err != nil {
		return nil, err
	}

	sessionsEnded, err := meter.Int64Counter(
		"syncslides.sessions.ended",
		metric.WithDescription("Total number of sessions ended by this device"),
		metric.WithUnit("{sessions}"),
	)
	if err != nil {
		return nil, err
	}

	slideAdvances, err := meter.Int64Counter(
		"syncslides.slides.advances",
		metric.WithDescription("Total number of slide navigation writes"),
		metric.WithUnit("{writes}"),
	)
	if err != nil {
		return nil, err
	}

	snapshotsDelivered, err := meter.Int64Counter(
		"syncslides.snapshots.delivered",
		metric.WithDescription("Total number of session snapshots delivered to observers"),
		metric.WithUnit("{snapshots}"),
	)
	if err != nil {
		return nil, err
	}

	watchEvents, err := meter.Int64Counter(
		"syncslides.watch.events",
		metric.WithDescription("Total number of row change events folded by session trackers"),
		metric.WithUnit("{events}"),
	)
	if err != nil {
		return nil, err
	}

	activeObservers, err := meter.Int64UpDownCounter(
		"syncslides.observers.active",
		metric.WithDescription("Number of active session observers"),
		metric.WithUnit("{observers}"),
	)
	if err != nil {
		return nil, err
	}

	return &SessionMetrics{
		sessionsCreated:    sessionsCreated,
		sessionsJoined:     sessionsJoined,
		sessionsEnded:      sessionsEnded,
		slideAdvances:      slideAdvances,
		snapshotsDelivered: snapshotsDelivered,
		watchEvents:        watchEvents,
		activeObservers:    activeObservers,
	}, nil
}

// RecordSessionCreated counts a createSession on this device.
func (m *SessionMetrics) RecordSessionCreated(ctx context.Context, deckID string) {
	if m == nil {
		return
	}
	m.sessionsCreated.Add(ctx, 1, metric.WithAttributes(DeckID(deckID)))
}

// RecordSessionJoined counts a joinSession on this device.
func (m *SessionMetrics) RecordSessionJoined(ctx context.Context, attempts int) {
	if m == nil {
		return
	}
	m.sessionsJoined.Add(ctx, 1, metric.WithAttributes(attribute.Int("join_attempts", attempts)))
}

// RecordSessionEnded counts an endSession on this device.
func (m *SessionMetrics) RecordSessionEnded(ctx context.Context) {
	if m == nil {
		return
	}
	m.sessionsEnded.Add(ctx, 1)
}

// RecordSlideAdvance counts a navigation write.
func (m *SessionMetrics) RecordSlideAdvance(ctx context.Context, asPresenter bool) {
	if m == nil {
		return
	}
	m.slideAdvances.Add(ctx, 1, metric.WithAttributes(attribute.Bool("presenter", asPresenter)))
}

// RecordSnapshot counts a snapshot delivered to one observer.
func (m *SessionMetrics) RecordSnapshot(ctx context.Context) {
	if m == nil {
		return
	}
	m.snapshotsDelivered.Add(ctx, 1)
}

// RecordWatchEvent counts a row change folded by a tracker.
func (m *SessionMetrics) RecordWatchEvent(ctx context.Context) {
	if m == nil {
		return
	}
	m.watchEvents.Add(ctx, 1)
}

// ObserverStarted tracks an observer subscription opening.
func (m *SessionMetrics) ObserverStarted(ctx context.Context) {
	if m == nil {
		return
	}
	m.activeObservers.Add(ctx, 1)
}

// ObserverStopped tracks an observer subscription closing.
func (m *SessionMetrics) ObserverStopped(ctx context.Context) {
	if m == nil {
		return
	}
	m.activeObservers.Add(ctx, -1)
}
