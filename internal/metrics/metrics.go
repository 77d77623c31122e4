// Package metrics records pipeline health through the OpenTelemetry metrics
// API. A Prometheus bridge is wired up by [InitProvider] so the counters can be
// scraped from /metrics. Tests build their own [Metrics] with [New] and a
// no-op or manual-reader provider.
//
// Every method is safe on a nil *Metrics, which lets components record
// unconditionally.
package metrics

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/zokiio/halfduplex-voice"

type Metrics struct {
	// IntakePackets counts inbound packets by verdict (accepted, dtx, too_small, too_large).
	IntakePackets metric.Int64Counter
	// Evictions counts packets dropped from the head of a full jitter buffer.
	Evictions metric.Int64Counter
	// BufferDepth is the jitter buffer occupancy after each push or pop.
	BufferDepth metric.Int64Gauge
	// PlaybackTicks counts playback ticks by result.
	PlaybackTicks metric.Int64Counter
	// CaptureTicks counts capture ticks by result.
	CaptureTicks metric.Int64Counter
	// Transitions counts committed half-duplex mode changes by target mode.
	Transitions metric.Int64Counter
	// DecodeDuration is the time spent in the decoder per packet, in seconds.
	DecodeDuration metric.Float64Histogram
	// TransportPackets counts packets crossing the transport by direction.
	TransportPackets metric.Int64Counter
}

// New creates the instruments on mp.
func New(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var (
		out Metrics
		err error
	)
	if out.IntakePackets, err = m.Int64Counter("voice.intake.packets",
		metric.WithDescription("Inbound packets seen by intake, by verdict.")); err != nil {
		return nil, err
	}
	if out.Evictions, err = m.Int64Counter("voice.jitter.evictions",
		metric.WithDescription("Packets evicted from a full jitter buffer.")); err != nil {
		return nil, err
	}
	if out.BufferDepth, err = m.Int64Gauge("voice.jitter.depth",
		metric.WithDescription("Jitter buffer occupancy.")); err != nil {
		return nil, err
	}
	if out.PlaybackTicks, err = m.Int64Counter("voice.playback.ticks",
		metric.WithDescription("Playback ticks by result.")); err != nil {
		return nil, err
	}
	if out.CaptureTicks, err = m.Int64Counter("voice.capture.ticks",
		metric.WithDescription("Capture ticks by result.")); err != nil {
		return nil, err
	}
	if out.Transitions, err = m.Int64Counter("voice.arbiter.transitions",
		metric.WithDescription("Half-duplex mode transitions by target mode.")); err != nil {
		return nil, err
	}
	if out.DecodeDuration, err = m.Float64Histogram("voice.decode.duration",
		metric.WithDescription("Decoder latency per packet."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.02)); err != nil {
		return nil, err
	}
	if out.TransportPackets, err = m.Int64Counter("voice.transport.packets",
		metric.WithDescription("Packets sent or received by the transport.")); err != nil {
		return nil, err
	}
	return &out, nil
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// Default returns instruments on the global meter provider. Call it after
// [InitProvider] so the instruments bind to the exporting provider.
func Default() *Metrics {
	defaultOnce.Do(func() {
		m, err := New(otel.GetMeterProvider())
		if err != nil {
			panic("metrics: create default instruments: " + err.Error())
		}
		defaultMetrics = m
	})
	return defaultMetrics
}

func (m *Metrics) RecordIntake(verdict string) {
	if m == nil {
		return
	}
	m.IntakePackets.Add(context.Background(), 1, metric.WithAttributes(attribute.String("verdict", verdict)))
}

func (m *Metrics) RecordEviction() {
	if m == nil {
		return
	}
	m.Evictions.Add(context.Background(), 1)
}

func (m *Metrics) RecordDepth(n int) {
	if m == nil {
		return
	}
	m.BufferDepth.Record(context.Background(), int64(n))
}

func (m *Metrics) RecordPlayback(result string) {
	if m == nil {
		return
	}
	m.PlaybackTicks.Add(context.Background(), 1, metric.WithAttributes(attribute.String("result", result)))
}

func (m *Metrics) RecordCapture(result string) {
	if m == nil {
		return
	}
	m.CaptureTicks.Add(context.Background(), 1, metric.WithAttributes(attribute.String("result", result)))
}

func (m *Metrics) RecordTransition(to string) {
	if m == nil {
		return
	}
	m.Transitions.Add(context.Background(), 1, metric.WithAttributes(attribute.String("to", to)))
}

func (m *Metrics) RecordDecode(d time.Duration) {
	if m == nil {
		return
	}
	m.DecodeDuration.Record(context.Background(), d.Seconds())
}

func (m *Metrics) RecordTransport(direction string) {
	if m == nil {
		return
	}
	m.TransportPackets.Add(context.Background(), 1, metric.WithAttributes(attribute.String("direction", direction)))
}
