package runtime

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels recorded by Metrics.
const (
	outcomeSuccess    = "success"
	outcomeRetry      = "retry"
	outcomeGaveUp     = "gave_up"
	outcomeFailure    = "failure"
	outcomeMalformed  = "malformed"
	outcomeUnroutable = "unroutable"
)

// StatsRecorder receives per-message statistics. *Metrics implements it.
type StatsRecorder interface {
	RecordOutcome(eventName, outcome string)
	ObserveHandler(eventName string, d time.Duration)
}

// Metrics tracks consumer statistics. A nil *Metrics is valid and records
// nothing, so components can be built without observability.
type Metrics struct {
	mu sync.RWMutex

	events       map[string]*EventMetrics
	latency      map[string]*latencyWindow
	received     uint64
	replacements uint64
	resources    *resourceSampler

	receivedTotal       *prometheus.CounterVec
	outcomesTotal       *prometheus.CounterVec
	handlerDuration     *prometheus.HistogramVec
	replacementsTotal   *prometheus.CounterVec
	workersAlive        *prometheus.GaugeVec
	healthCheckDuration *prometheus.HistogramVec

	registerer prometheus.Registerer
	registered bool
}

// EventMetrics holds per event-name counters.
type EventMetrics struct {
	Outcomes      map[string]uint64 `json:"outcomes"`
	LastOutcome   string            `json:"last_outcome"`
	LastUpdatedAt time.Time         `json:"last_updated_at"`
	Latency       LatencyMetrics    `json:"latency"`
}

// MetricsSnapshot provides a point-in-time view of consumer metrics.
type MetricsSnapshot struct {
	Received           uint64                   `json:"received"`
	WorkerReplacements uint64                   `json:"worker_replacements"`
	Events             map[string]*EventMetrics `json:"events"`
	Resources          ResourceUsage            `json:"resources"`
	CollectedAt        time.Time                `json:"collected_at"`
}

func newCounterVec(name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "queueflow",
			Subsystem: "consumer",
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

func newGaugeVec(name, help string, labels []string) *prometheus.GaugeVec {
	return prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "queueflow",
			Subsystem: "consumer",
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

func newHistogramVec(name, help string, buckets []float64, labels []string) *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "queueflow",
			Subsystem: "consumer",
			Name:      name,
			Help:      help,
			Buckets:   buckets,
		},
		labels,
	)
}

// NewMetrics creates a collector set. A nil registerer uses the default one.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &Metrics{
		events:              make(map[string]*EventMetrics),
		latency:             make(map[string]*latencyWindow),
		resources:           newResourceSampler(),
		registerer:          registerer,
		receivedTotal:       newCounterVec("messages_received_total", "Messages received from the queue", []string{"queue"}),
		outcomesTotal:       newCounterVec("outcomes_total", "Message processing outcomes by event name", []string{"event", "outcome"}),
		handlerDuration:     newHistogramVec("handler_duration_seconds", "Duration of an event's handler chain", prometheus.DefBuckets, []string{"event"}),
		replacementsTotal:   newCounterVec("worker_replacements_total", "Worker processes killed and respawned", []string{"reason"}),
		workersAlive:        newGaugeVec("workers_alive", "Worker processes currently tracked by the supervisor", []string{"queue"}),
		healthCheckDuration: newHistogramVec("health_check_duration_seconds", "Duration of a full worker health check round", []float64{.001, .01, .1, .5, 1, 2, 5, 10}, []string{"queue"}),
	}
}

// Register registers the Prometheus collectors. Safe to call multiple times.
func (m *Metrics) Register() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}

	collectors := []prometheus.Collector{
		m.receivedTotal,
		m.outcomesTotal,
		m.handlerDuration,
		m.replacementsTotal,
		m.workersAlive,
		m.healthCheckDuration,
	}

	for _, c := range collectors {
		if err := m.registerer.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				return err
			}
		}
	}

	m.registered = true
	return nil
}

// RecordReceived counts a received batch.
func (m *Metrics) RecordReceived(queueURL string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.mu.Lock()
	m.received += uint64(n)
	m.mu.Unlock()
	m.receivedTotal.WithLabelValues(queueURL).Add(float64(n))
}

// RecordOutcome counts the final disposition of one message.
func (m *Metrics) RecordOutcome(eventName, outcome string) {
	if m == nil {
		return
	}
	if eventName == "" {
		eventName = "unknown"
	}
	m.mu.Lock()
	stats, ok := m.events[eventName]
	if !ok {
		stats = &EventMetrics{Outcomes: make(map[string]uint64)}
		m.events[eventName] = stats
	}
	stats.Outcomes[outcome]++
	stats.LastOutcome = outcome
	stats.LastUpdatedAt = time.Now()
	m.mu.Unlock()

	m.outcomesTotal.WithLabelValues(eventName, outcome).Inc()
}

// ObserveHandler records how long an event's handler chain took.
func (m *Metrics) ObserveHandler(eventName string, d time.Duration) {
	if m == nil {
		return
	}
	m.mu.Lock()
	window, ok := m.latency[eventName]
	if !ok {
		window = newLatencyWindow(latencySampleSize)
		m.latency[eventName] = window
	}
	window.add(d)
	m.mu.Unlock()
	m.handlerDuration.WithLabelValues(eventName).Observe(d.Seconds())
}

// RecordReplacement counts a killed and respawned worker.
func (m *Metrics) RecordReplacement(reason string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.replacements++
	m.mu.Unlock()
	m.replacementsTotal.WithLabelValues(reason).Inc()
}

// SetWorkersAlive reports the number of tracked worker processes.
func (m *Metrics) SetWorkersAlive(queueURL string, n int) {
	if m == nil {
		return
	}
	m.workersAlive.WithLabelValues(queueURL).Set(float64(n))
}

// ObserveHealthCheck records the duration of a health check round.
func (m *Metrics) ObserveHealthCheck(queueURL string, d time.Duration) {
	if m == nil {
		return
	}
	m.healthCheckDuration.WithLabelValues(queueURL).Observe(d.Seconds())
}

// Hooks exposes the metrics as job hooks.
func (m *Metrics) Hooks() JobHooks {
	if m == nil {
		return JobHooks{}
	}
	return MetricsHooks(nil, func(job JobContext) {
		m.ObserveHandler(job.EventName, job.Duration)
	}, func(job JobContext) {
		m.ObserveHandler(job.EventName, job.Duration)
	})
}

// Snapshot returns a deep copy of the in-memory counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{Events: map[string]*EventMetrics{}, CollectedAt: time.Now()}
	if m == nil {
		return snap
	}
	snap.Resources = m.resources.sample(snap.CollectedAt)

	m.mu.RLock()
	defer m.mu.RUnlock()

	snap.Received = m.received
	snap.WorkerReplacements = m.replacements
	for name, stats := range m.events {
		outcomes := make(map[string]uint64, len(stats.Outcomes))
		for k, v := range stats.Outcomes {
			outcomes[k] = v
		}
		snap.Events[name] = &EventMetrics{
			Outcomes:      outcomes,
			LastOutcome:   stats.LastOutcome,
			LastUpdatedAt: stats.LastUpdatedAt,
			Latency:       m.latency[name].snapshot(),
		}
	}
	return snap
}
