package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/quantarc/engine"

// EngineInstruments bundles the meters recorded by the engine loop.
type EngineInstruments struct {
	slices      metric.Int64Counter
	dataPoints  metric.Int64Counter
	orderEvents metric.Int64Counter
	stepLatency metric.Float64Histogram
}

// NewEngineInstruments registers the engine's instruments on the global meter provider.
func NewEngineInstruments() (*EngineInstruments, error) {
	meter := otel.GetMeterProvider().Meter(meterName)

	slices, err := meter.Int64Counter("engine.slices.processed",
		metric.WithDescription("Time slices delivered to the algorithm"))
	if err != nil {
		return nil, err
	}
	dataPoints, err := meter.Int64Counter("engine.data.points",
		metric.WithDescription("Data points aggregated into slices"))
	if err != nil {
		return nil, err
	}
	orderEvents, err := meter.Int64Counter("engine.order.events",
		metric.WithDescription("Order events applied to the portfolio"))
	if err != nil {
		return nil, err
	}
	stepLatency, err := meter.Float64Histogram("engine.step.latency",
		metric.WithDescription("Wall time spent processing one slice"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	return &EngineInstruments{
		slices:      slices,
		dataPoints:  dataPoints,
		orderEvents: orderEvents,
		stepLatency: stepLatency,
	}, nil
}

// RecordSlice accounts one processed slice and its payload size.
func (i *EngineInstruments) RecordSlice(ctx context.Context, dataPoints int, elapsed time.Duration) {
	if i == nil {
		return
	}
	i.slices.Add(ctx, 1)
	i.dataPoints.Add(ctx, int64(dataPoints))
	i.stepLatency.Record(ctx, float64(elapsed.Microseconds())/1000.0)
}

// RecordOrderEvents accounts order events emitted during a scan, labeled by terminal state.
func (i *EngineInstruments) RecordOrderEvents(ctx context.Context, status string, count int) {
	if i == nil || count == 0 {
		return
	}
	i.orderEvents.Add(ctx, int64(count), metric.WithAttributes(attribute.String("status", status)))
}
