package runtime

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/murmurlabs/murmur-core/internal/audio"
	"github.com/murmurlabs/murmur-core/internal/bus"
	"github.com/murmurlabs/murmur-core/internal/protocol"
	"github.com/murmurlabs/murmur-core/internal/session"
	"github.com/murmurlabs/murmur-core/internal/stt"
	"github.com/murmurlabs/murmur-core/internal/wake"
)

// pipelineMetrics exposes the counters the pipeline components keep
// internally as OpenTelemetry instruments, plus a turn latency histogram
// fed from turn records on the bus.
type pipelineMetrics struct {
	log     *slog.Logger
	latency metric.Float64Histogram
	sub     *nats.Subscription
}

func newPipelineMetrics(queue *audio.FrameQueue, gate *wake.Gate, capturer *stt.Capturer, sess *session.Service, busClient *bus.Client, log *slog.Logger) (*pipelineMetrics, error) {
	m := &pipelineMetrics{log: log.With(slog.String("component", "metrics"))}
	meter := otel.Meter("github.com/murmurlabs/murmur-core/runtime")

	frames, err := meter.Int64ObservableCounter("murmur.wake.frames",
		metric.WithDescription("Audio frames scored by the wake engine"))
	if err != nil {
		return nil, err
	}
	detections, err := meter.Int64ObservableCounter("murmur.wake.detections",
		metric.WithDescription("Wake word detections"))
	if err != nil {
		return nil, err
	}
	overflows, err := meter.Int64ObservableCounter("murmur.wake.overflows",
		metric.WithDescription("Input overflows reported by the audio driver"))
	if err != nil {
		return nil, err
	}
	drops, err := meter.Int64ObservableCounter("murmur.audio.frame_drops",
		metric.WithDescription("Frames dropped because the capture queue was full"))
	if err != nil {
		return nil, err
	}
	timeouts, err := meter.Int64ObservableCounter("murmur.stt.capture_timeouts",
		metric.WithDescription("Capture windows that expired without speech"))
	if err != nil {
		return nil, err
	}
	turns, err := meter.Int64ObservableCounter("murmur.session.turns",
		metric.WithDescription("Completed conversation turns"))
	if err != nil {
		return nil, err
	}
	state, err := meter.Int64ObservableGauge("murmur.session.state",
		metric.WithDescription("Session state: 0 idle, 1 capturing, 2 responding"))
	if err != nil {
		return nil, err
	}
	_, err = meter.RegisterCallback(func(ctx context.Context, obs metric.Observer) error {
		obs.ObserveInt64(frames, int64(gate.Frames()))
		obs.ObserveInt64(detections, int64(gate.Detections()))
		obs.ObserveInt64(overflows, int64(gate.Overflows()))
		obs.ObserveInt64(drops, int64(queue.Dropped()))
		obs.ObserveInt64(timeouts, int64(capturer.Timeouts()))
		obs.ObserveInt64(turns, int64(sess.Turns()))
		obs.ObserveInt64(state, stateValue(sess.State()))
		return nil
	}, frames, detections, overflows, drops, timeouts, turns, state)
	if err != nil {
		return nil, err
	}

	m.latency, err = meter.Float64Histogram("murmur.session.turn_latency",
		metric.WithDescription("Wall time from final transcript to spoken reply"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	if busClient != nil {
		sub, err := busClient.Conn().Subscribe(protocol.SubjectSessionTurn, m.recordLatency)
		if err != nil {
			return nil, err
		}
		m.sub = sub
	}
	return m, nil
}

func (m *pipelineMetrics) Close() {
	if m.sub != nil {
		_ = m.sub.Drain()
	}
}

func (m *pipelineMetrics) recordLatency(msg *nats.Msg) {
	var record protocol.TurnRecord
	if err := json.Unmarshal(msg.Data, &record); err != nil {
		m.log.Warn("failed to decode turn record", slog.String("error", err.Error()))
		return
	}
	if record.Error != "" || record.CompletedAt.Before(record.StartedAt) {
		return
	}
	m.latency.Record(context.Background(), record.CompletedAt.Sub(record.StartedAt).Seconds())
}

func stateValue(state string) int64 {
	switch state {
	case session.StateCapturing:
		return 1
	case session.StateResponding:
		return 2
	default:
		return 0
	}
}
