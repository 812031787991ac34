package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.ObserveStage("intent", "datetime")
	m.ObserveStage("intent", "datetime")
	m.ObserveTurn("done", 0.02)
	m.ObserveInterpretation("classify_intent", "local", "ok", 0.001)
	m.ObserveOperation("book", "ok")
	m.ObserveInbound("twilio", "accepted")

	if got := testutil.ToFloat64(m.stageTotal.WithLabelValues("intent", "datetime")); got != 2 {
		t.Errorf("expected 2 stage executions, got %v", got)
	}
	if got := testutil.ToFloat64(m.operationTotal.WithLabelValues("book", "ok")); got != 1 {
		t.Errorf("expected 1 booking, got %v", got)
	}
}

func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics
	m.ObserveStage("intent", "end")
	m.ObserveTurn("waiting", 0.1)
	m.ObserveInterpretation("infer_mode", "remote", "error", 0.1)
	m.ObserveOperation("cancel", "none")
	m.ObserveInbound("whatsapp", "duplicate")
}
