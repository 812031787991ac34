// Package metrics exposes Prometheus counters and histograms for BookingPipe.
//
// Every Observe method is safe on a nil *Metrics so components can run without metrics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "bookingpipe"

// Metrics groups the collectors shared by the dialogue, interpretation and channel layers.
type Metrics struct {
	stageTotal       *prometheus.CounterVec
	turnLatency      *prometheus.HistogramVec
	interpretTotal   *prometheus.CounterVec
	interpretLatency *prometheus.HistogramVec
	operationTotal   *prometheus.CounterVec
	inboundTotal     *prometheus.CounterVec
}

// New creates the collectors and registers them with reg (the default registerer when nil).
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		stageTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dialogue",
			Name:      "stage_executions_total",
			Help:      "Dialogue stage executions by stage and routing target",
		}, []string{"stage", "next"}),
		turnLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dialogue",
			Name:      "turn_duration_seconds",
			Help:      "Time to process one user message",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		interpretTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "interpret",
			Name:      "calls_total",
			Help:      "Interpretation calls by task, backend and result",
		}, []string{"task", "backend", "result"}),
		interpretLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "interpret",
			Name:      "call_duration_seconds",
			Help:      "Latency of interpretation backend calls",
			Buckets:   prometheus.DefBuckets,
		}, []string{"backend"}),
		operationTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "operations_total",
			Help:      "Committed appointment operations by kind and result",
		}, []string{"operation", "result"}),
		inboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "inbound_total",
			Help:      "Inbound channel messages by channel and status",
		}, []string{"channel", "status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.stageTotal, m.turnLatency, m.interpretTotal, m.interpretLatency, m.operationTotal, m.inboundTotal)
	return m
}

func (m *Metrics) ObserveStage(stage, next string) {
	if m == nil {
		return
	}
	m.stageTotal.WithLabelValues(stage, next).Inc()
}

func (m *Metrics) ObserveTurn(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.turnLatency.WithLabelValues(outcome).Observe(seconds)
}

func (m *Metrics) ObserveInterpretation(task, backend, result string, seconds float64) {
	if m == nil {
		return
	}
	m.interpretTotal.WithLabelValues(task, backend, result).Inc()
	m.interpretLatency.WithLabelValues(backend).Observe(seconds)
}

func (m *Metrics) ObserveOperation(operation, result string) {
	if m == nil {
		return
	}
	m.operationTotal.WithLabelValues(operation, result).Inc()
}

func (m *Metrics) ObserveInbound(channel, status string) {
	if m == nil {
		return
	}
	m.inboundTotal.WithLabelValues(channel, status).Inc()
}
