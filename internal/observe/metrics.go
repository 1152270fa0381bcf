// Package observe holds the OpenTelemetry instruments recorded by the stream
// pipelines. A Prometheus exporter bridge is set up by [InitProvider] so the
// counters can be scraped from /metrics. Tests should use [NewMetrics] with
// their own [metric.MeterProvider].
package observe

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "github.com/Sarowar6362/streamer56"

// Metrics holds the instruments for one process. Safe for concurrent use.
type Metrics struct {
	// Frames counts frames that completed a stage. Attribute: stage.
	Frames metric.Int64Counter

	// Bytes counts compressed bytes sent or received. Attribute: direction.
	Bytes metric.Int64Counter

	// PacketSize records compressed packet sizes in bytes.
	PacketSize metric.Int64Histogram

	// StageDuration records per-frame stage latency in seconds. Attribute: stage.
	StageDuration metric.Float64Histogram

	// Errors counts fatal stage errors. Attributes: stage, kind.
	Errors metric.Int64Counter

	// RejectedPackets counts datagrams dropped before decoding. Attribute: reason.
	RejectedPackets metric.Int64Counter

	// Level records the signal level of frames in dBFS. Attribute: stage.
	Level metric.Float64Histogram
}

// stage latencies are well under a frame period
var stageBuckets = []float64{
	0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.02, 0.05, 0.1,
}

var packetBuckets = []float64{16, 32, 64, 128, 160, 200, 256, 320, 512, 1024, 4096}

var levelBuckets = []float64{-90, -60, -48, -36, -24, -18, -12, -6, -3, 0}

func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.Frames, err = m.Int64Counter("streamer.frames",
		metric.WithDescription("Frames that completed a pipeline stage."),
	); err != nil {
		return nil, err
	}
	if met.Bytes, err = m.Int64Counter("streamer.bytes",
		metric.WithDescription("Compressed bytes by direction."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.PacketSize, err = m.Int64Histogram("streamer.packet.size",
		metric.WithDescription("Compressed packet size."),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(packetBuckets...),
	); err != nil {
		return nil, err
	}
	if met.StageDuration, err = m.Float64Histogram("streamer.stage.duration",
		metric.WithDescription("Per-frame latency of a pipeline stage."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(stageBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Errors, err = m.Int64Counter("streamer.errors",
		metric.WithDescription("Fatal pipeline errors by stage and kind."),
	); err != nil {
		return nil, err
	}
	if met.RejectedPackets, err = m.Int64Counter("streamer.packets.rejected",
		metric.WithDescription("Datagrams dropped before decoding."),
	); err != nil {
		return nil, err
	}
	if met.Level, err = m.Float64Histogram("streamer.level",
		metric.WithDescription("Frame signal level."),
		metric.WithUnit("dBFS"),
		metric.WithExplicitBucketBoundaries(levelBuckets...),
	); err != nil {
		return nil, err
	}
	return met, nil
}

// Discard returns instruments that record nothing.
func Discard() *Metrics {
	m, _ := NewMetrics(noop.NewMeterProvider())
	return m
}

func (m *Metrics) RecordFrame(ctx context.Context, stage string, seconds float64) {
	attrs := metric.WithAttributes(attribute.String("stage", stage))
	m.Frames.Add(ctx, 1, attrs)
	m.StageDuration.Record(ctx, seconds, attrs)
}

func (m *Metrics) RecordPacket(ctx context.Context, direction string, size int) {
	m.Bytes.Add(ctx, int64(size), metric.WithAttributes(attribute.String("direction", direction)))
	m.PacketSize.Record(ctx, int64(size))
}

func (m *Metrics) RecordError(ctx context.Context, stage, kind string) {
	m.Errors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("stage", stage),
		attribute.String("kind", kind),
	))
}

func (m *Metrics) RecordRejected(ctx context.Context, reason string) {
	m.RejectedPackets.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordLevel skips silence, which has no finite dBFS value.
func (m *Metrics) RecordLevel(ctx context.Context, stage string, dbfs float64) {
	if dbfs < -1000 {
		return
	}
	m.Level.Record(ctx, dbfs, metric.WithAttributes(attribute.String("stage", stage)))
}
