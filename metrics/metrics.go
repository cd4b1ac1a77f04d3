package metrics

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type MetricName string

const (
	MetricNameRoundsCompleted MetricName = "rounds_completed"
	MetricNameWaits           MetricName = "not_yet_advanced"
	MetricNameClampedTargets  MetricName = "clamped_targets"
	MetricNameRetries         MetricName = "retries"
)

func (m MetricName) String() string {
	return string(m)
}

const (
	Namespace             = "lightproof"
	SubsystemOrchestrator = "orchestrator"
	SubsystemPreprocessor = "preprocessor"
)

// Metrics holds the collectors of one orchestrator. Each instance registers
// on its own registry so several can coexist in a process.
type Metrics struct {
	registry      *prometheus.Registry
	counters      map[MetricName]prometheus.Counter
	failures      *prometheus.CounterVec
	state         *prometheus.GaugeVec
	trusted       prometheus.Gauge
	updateCounter prometheus.Gauge
	roundDuration prometheus.Histogram
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		counters: map[MetricName]prometheus.Counter{
			MetricNameRoundsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: SubsystemOrchestrator,
				Name:      MetricNameRoundsCompleted.String(),
				Help:      "Number of completed proving rounds",
			}),
			MetricNameWaits: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: SubsystemPreprocessor,
				Name:      MetricNameWaits.String(),
				Help:      "Number of polls where the remote head had not advanced",
			}),
			MetricNameClampedTargets: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: SubsystemPreprocessor,
				Name:      MetricNameClampedTargets.String(),
				Help:      "Number of targets clamped to the trust window",
			}),
			MetricNameRetries: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: SubsystemOrchestrator,
				Name:      MetricNameRetries.String(),
				Help:      "Number of stage retries after recoverable failures",
			}),
		},
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: SubsystemOrchestrator,
			Name:      "failures",
			Help:      "Number of stage failures by stage and class",
		}, []string{"stage", "class"}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: SubsystemOrchestrator,
			Name:      "state",
			Help:      "Current orchestrator state, 1 for the active state",
		}, []string{"state"}),
		trusted: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: SubsystemOrchestrator,
			Name:      "trusted_position",
			Help:      "Position of the trusted head",
		}),
		updateCounter: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: SubsystemOrchestrator,
			Name:      "update_counter",
			Help:      "Number of rounds committed to the state store",
		}),
		roundDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: SubsystemOrchestrator,
			Name:      "round_duration_seconds",
			Help:      "Wall time of a completed round",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 16),
		}),
	}
	for _, counter := range m.counters {
		m.registry.MustRegister(counter)
	}
	m.registry.MustRegister(m.failures, m.state, m.trusted, m.updateCounter, m.roundDuration)
	return m
}

func (m *Metrics) IncrCounter(name MetricName) {
	if counter, ok := m.counters[name]; ok {
		counter.Inc()
	}
}

func (m *Metrics) IncrFailure(stage, class string) {
	m.failures.WithLabelValues(stage, class).Inc()
}

// SetState marks state as the active state.
func (m *Metrics) SetState(state string) {
	m.state.Reset()
	m.state.WithLabelValues(state).Set(1)
}

func (m *Metrics) SetTrusted(position, updateCounter uint64) {
	m.trusted.Set(float64(position))
	m.updateCounter.Set(float64(updateCounter))
}

func (m *Metrics) ObserveRound(d time.Duration) {
	m.roundDuration.Observe(d.Seconds())
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RegisterHandlers(router *mux.Router) {
	router.Handle("/metrics", m.Handler()).Methods(http.MethodGet)
}
