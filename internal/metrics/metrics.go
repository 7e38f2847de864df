package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mirrorcast"

// Metrics holds every collector the pipeline reports to. It owns its own
// registry so several instances can coexist in tests.
type Metrics struct {
	reg *prometheus.Registry

	FramesCaptured  prometheus.Counter
	FramesConflated prometheus.Counter
	FramesEncoded   prometheus.Counter
	FramesSent      prometheus.Counter
	FramesDiscarded prometheus.Counter
	FramesCongested prometheus.Counter
	EncodeErrors    prometheus.Counter
	TransmitErrors  prometheus.Counter
	EncodeSeconds   prometheus.Histogram

	SessionsAttached   prometheus.Counter
	SessionsSuperseded prometheus.Counter
	SessionActive      prometheus.Gauge

	ParseErrors       prometheus.Counter
	ControlEvents     *prometheus.CounterVec
	StrokesDispatched prometheus.Counter
	InjectionFailures prometheus.Counter
	PointerRecoveries prometheus.Counter
	PointersRejected  prometheus.Counter
}

func New() *Metrics {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help})
	}

	m := &Metrics{
		reg: prometheus.NewRegistry(),

		FramesCaptured:  counter("frames_captured_total", "Frames published by the capture source."),
		FramesConflated: counter("frames_conflated_total", "Frames overwritten before the sender took them."),
		FramesEncoded:   counter("frames_encoded_total", "Frames successfully encoded."),
		FramesSent:      counter("frames_sent_total", "Encoded frames written to the active session."),
		FramesDiscarded: counter("frames_discarded_total", "Frames dropped because no session was attached."),
		FramesCongested: counter("frames_congested_total", "Frames skipped because the transport was congested."),
		EncodeErrors:    counter("encode_errors_total", "Frames that failed to encode."),
		TransmitErrors:  counter("transmit_errors_total", "Frame writes that failed and detached the session."),
		EncodeSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "encode_seconds",
			Help:      "Time spent encoding one frame.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 10),
		}),

		SessionsAttached:   counter("sessions_attached_total", "Viewer sessions attached."),
		SessionsSuperseded: counter("sessions_superseded_total", "Viewer sessions closed by a takeover."),
		SessionActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_active",
			Help:      "1 while a viewer session is attached.",
		}),

		ParseErrors: counter("control_parse_errors_total", "Control messages dropped as malformed."),
		ControlEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "control_events_total",
			Help:      "Parsed control events by kind.",
		}, []string{"kind"}),
		StrokesDispatched: counter("strokes_dispatched_total", "Strokes handed to the input injector."),
		InjectionFailures: counter("injection_failures_total", "Gesture dispatches reported as failed."),
		PointerRecoveries: counter("pointer_recoveries_total", "Moves received without a preceding down."),
		PointersRejected:  counter("pointers_rejected_total", "Pointer contacts dropped because too many were live."),
	}

	m.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.FramesCaptured, m.FramesConflated, m.FramesEncoded, m.FramesSent,
		m.FramesDiscarded, m.FramesCongested, m.EncodeErrors, m.TransmitErrors, m.EncodeSeconds,
		m.SessionsAttached, m.SessionsSuperseded, m.SessionActive,
		m.ParseErrors, m.ControlEvents, m.StrokesDispatched, m.InjectionFailures, m.PointerRecoveries, m.PointersRejected,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}
