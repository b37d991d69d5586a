package runtime

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsNilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordReceived("q", 1)
		m.RecordOutcome("user:created", outcomeSuccess)
		m.ObserveHandler("user:created", time.Second)
		m.RecordReplacement(replacementReason)
		m.SetWorkersAlive("q", 2)
		m.ObserveHealthCheck("q", time.Millisecond)
	})
	assert.Nil(t, m.Hooks().OnJobDone)
	snap := m.Snapshot()
	assert.NotNil(t, snap.Events)
	assert.Zero(t, snap.Received)
}

func TestMetricsRecordsCountersAndSnapshot(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	require.NoError(t, m.Register())
	require.NoError(t, m.Register())

	m.RecordReceived("memory://events", 3)
	m.RecordReceived("memory://events", 0)
	m.RecordOutcome("user:created", outcomeSuccess)
	m.RecordOutcome("user:created", outcomeRetry)
	m.RecordOutcome("", outcomeMalformed)
	m.RecordReplacement(replacementReason)
	m.SetWorkersAlive("memory://events", 2)

	assert.Equal(t, 3.0, gatheredValue(t, reg, "queueflow_consumer_messages_received_total", "memory://events"))
	assert.Equal(t, 1.0, gatheredValue(t, reg, "queueflow_consumer_outcomes_total", "user:created", outcomeRetry))
	assert.Equal(t, 1.0, gatheredValue(t, reg, "queueflow_consumer_outcomes_total", "unknown", outcomeMalformed))
	assert.Equal(t, 2.0, gatheredValue(t, reg, "queueflow_consumer_workers_alive", "memory://events"))

	snap := m.Snapshot()
	assert.Equal(t, uint64(3), snap.Received)
	assert.Equal(t, uint64(1), snap.WorkerReplacements)
	require.Contains(t, snap.Events, "user:created")
	assert.Equal(t, outcomeRetry, snap.Events["user:created"].LastOutcome)
	assert.Equal(t, uint64(1), snap.Events["user:created"].Outcomes[outcomeSuccess])

	// Snapshots are copies.
	snap.Events["user:created"].Outcomes[outcomeSuccess] = 99
	assert.Equal(t, uint64(1), m.Snapshot().Events["user:created"].Outcomes[outcomeSuccess])
}

func TestMetricsHooksObserveHandlerDuration(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	require.NoError(t, m.Register())

	hooks := m.Hooks()
	hooks.finish(JobContext{EventName: "user:created", Duration: 20 * time.Millisecond}, nil)

	assert.Equal(t, 1.0, gatheredValue(t, reg, "queueflow_consumer_handler_duration_seconds", "user:created"))
}

// gatheredValue returns the counter or gauge value, or the histogram sample
// count, of the series whose label values equal labels.
func gatheredValue(t *testing.T, reg *prometheus.Registry, name string, labels ...string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	series:
		for _, metric := range mf.GetMetric() {
			pairs := metric.GetLabel()
			if len(pairs) != len(labels) {
				continue
			}
			for i, pair := range pairs {
				if pair.GetValue() != labels[i] {
					continue series
				}
			}
			switch {
			case metric.GetCounter() != nil:
				return metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				return metric.GetGauge().GetValue()
			case metric.GetHistogram() != nil:
				return float64(metric.GetHistogram().GetSampleCount())
			}
		}
	}
	t.Fatalf("series %s%v not found", name, labels)
	return 0
}
