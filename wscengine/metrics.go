package wscengine

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Names of the metrics recorded by the engine.
const (
	metricMessagesReceived = namespace + ".messages.received"
	metricMessagesSent     = namespace + ".messages.sent"
	metricWritableSignals  = namespace + ".writable.signals"
	metricStateTransitions = namespace + ".state.transitions"
)

// Counters recorded by the engine.
type engineMetrics struct {
	messagesReceived metric.Int64Counter
	messagesSent     metric.Int64Counter
	writableSignals  metric.Int64Counter
	stateTransitions metric.Int64Counter
}

// Create the engine counters from the provided meter.
func newEngineMetrics(meter metric.Meter) (*engineMetrics, error) {
	received, err := meter.Int64Counter(metricMessagesReceived,
		metric.WithDescription("Number of data messages read from the server"),
		metric.WithUnit("{message}"))
	if err != nil {
		return nil, err
	}
	sent, err := meter.Int64Counter(metricMessagesSent,
		metric.WithDescription("Number of data messages written to the server"),
		metric.WithUnit("{message}"))
	if err != nil {
		return nil, err
	}
	writable, err := meter.Int64Counter(metricWritableSignals,
		metric.WithDescription("Number of OnWritable callback calls"),
		metric.WithUnit("{signal}"))
	if err != nil {
		return nil, err
	}
	transitions, err := meter.Int64Counter(metricStateTransitions,
		metric.WithDescription("Number of connection state transitions"),
		metric.WithUnit("{transition}"))
	if err != nil {
		return nil, err
	}
	return &engineMetrics{
		messagesReceived: received,
		messagesSent:     sent,
		writableSignals:  writable,
		stateTransitions: transitions,
	}, nil
}

func (m *engineMetrics) recordReceived(ctx context.Context, msgType string) {
	m.messagesReceived.Add(ctx, 1, metric.WithAttributes(attribute.String(attrMsgType, msgType)))
}

func (m *engineMetrics) recordSent(ctx context.Context, msgType string) {
	m.messagesSent.Add(ctx, 1, metric.WithAttributes(attribute.String(attrMsgType, msgType)))
}

func (m *engineMetrics) recordWritable(ctx context.Context) {
	m.writableSignals.Add(ctx, 1)
}

func (m *engineMetrics) recordTransition(ctx context.Context, from ConnectionState, to ConnectionState) {
	m.stateTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String(attrStateFrom, from.String()),
		attribute.String(attrStateTo, to.String()),
	))
}
