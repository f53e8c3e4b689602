// Package observability collects Prometheus instruments for the bridge
// core and a bounded percentile window for per-call-stage latency.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the bridge core.
type Metrics struct {
	ActiveCalls        prometheus.Gauge
	CallEvents         *prometheus.CounterVec
	StateTransitions   *prometheus.CounterVec
	BusDrops           *prometheus.CounterVec
	ProviderErrors     *prometheus.CounterVec
	TransferOutcomes   *prometheus.CounterVec
	TicketFallbacks    *prometheus.CounterVec
	AudioFramesDropped *prometheus.CounterVec
	FirstAudioLatency  prometheus.Histogram
	CallStageLatency   *prometheus.HistogramVec
	BargeInLatency     prometheus.Histogram
	callStageWindow    *turnStageWindow
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveCalls: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_calls",
			Help:      "Number of calls currently bridged.",
		}),
		CallEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "call_events_total",
			Help:      "Voice bus events by kind.",
		}, []string{"kind"}),
		StateTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "Call state machine transitions by from/to state.",
		}, []string{"from", "to"}),
		BusDrops: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_drops_total",
			Help:      "Events dropped because a subscriber channel was full.",
		}, []string{"kind"}),
		ProviderErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "Provider adapter errors by provider and code.",
		}, []string{"provider", "code"}),
		TransferOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfer_outcomes_total",
			Help:      "Announced transfer attempts by outcome.",
		}, []string{"outcome"}),
		TicketFallbacks: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticket_fallbacks_total",
			Help:      "Ticket webhook fallbacks by result.",
		}, []string{"result"}),
		AudioFramesDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_dropped_total",
			Help:      "Audio frames dropped by direction and reason.",
		}, []string{"direction", "reason"}),
		FirstAudioLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "first_audio_latency_ms",
			Help:      "Latency to first assistant audio chunk in milliseconds.",
			Buckets:   []float64{100, 200, 300, 500, 700, 900, 1200, 2000},
		}),
		CallStageLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "call_stage_latency_ms",
			Help:      "Call-stage latency in milliseconds.",
			Buckets:   []float64{20, 50, 100, 150, 250, 400, 700, 1200, 2000, 4000, 7000, 10000},
		}, []string{"stage"}),
		BargeInLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "barge_in_latency_ms",
			Help:      "Time from detected barge-in to provider response cancel acknowledgement.",
			Buckets:   []float64{10, 25, 50, 100, 150, 250, 400, 700},
		}),
		callStageWindow: newTurnStageWindow(256),
	}
}

func (m *Metrics) ObserveFirstAudioLatency(d time.Duration) {
	m.FirstAudioLatency.Observe(float64(d.Milliseconds()))
}

func (m *Metrics) ObserveCallStage(stage string, d time.Duration) {
	ms := float64(d.Milliseconds())
	m.CallStageLatency.WithLabelValues(stage).Observe(ms)
	m.callStageWindow.Observe(stage, ms)
}

func (m *Metrics) ObserveBargeInLatency(d time.Duration) {
	m.BargeInLatency.Observe(float64(d.Milliseconds()))
}

func (m *Metrics) ObserveStateTransition(from, to string) {
	if m == nil || m.StateTransitions == nil {
		return
	}
	m.StateTransitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) ObserveBusDrop(kind string) {
	if m == nil || m.BusDrops == nil {
		return
	}
	m.BusDrops.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveCallEvent(kind string) {
	if m == nil || m.CallEvents == nil {
		return
	}
	m.CallEvents.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveTransferOutcome(outcome string) {
	if m == nil || m.TransferOutcomes == nil {
		return
	}
	m.TransferOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveTicketFallback(result string) {
	if m == nil || m.TicketFallbacks == nil {
		return
	}
	m.TicketFallbacks.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveAudioFrameDropped(direction, reason string) {
	if m == nil || m.AudioFramesDropped == nil {
		return
	}
	m.AudioFramesDropped.WithLabelValues(direction, reason).Inc()
}

func (m *Metrics) SnapshotCallStages() TurnStageSnapshot {
	if m.callStageWindow == nil {
		return TurnStageSnapshot{}
	}
	return m.callStageWindow.Snapshot()
}

func (m *Metrics) ResetCallStages() {
	if m == nil || m.callStageWindow == nil {
		return
	}
	m.callStageWindow.Reset()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
