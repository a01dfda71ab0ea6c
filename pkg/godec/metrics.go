package godec

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// sessionMetrics are labelled with the session id so that consecutive or
// parallel sessions can share one registerer.
type sessionMetrics struct {
	registerer prometheus.Registerer

	pushes      *prometheus.CounterVec
	pushErrors  *prometheus.CounterVec
	pulls       *prometheus.CounterVec
	pullWait    *prometheus.HistogramVec
	streamDepth *prometheus.GaugeVec
	streamDrops *prometheus.CounterVec
}

func newSessionMetrics(r prometheus.Registerer, sessionID string) (*sessionMetrics, error) {
	if r == nil {
		r = prometheus.NewRegistry()
	}
	labels := prometheus.Labels{"session": sessionID}
	m := &sessionMetrics{
		registerer: r,
		pushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "godec",
			Name:        "push_total",
			Help:        "Messages accepted by Push",
			ConstLabels: labels,
		}, []string{"endpoint"}),
		pushErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "godec",
			Name:        "push_errors_total",
			Help:        "Push calls rejected or failed inside the Engine",
			ConstLabels: labels,
		}, []string{"endpoint"}),
		pulls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "godec",
			Name:        "pull_total",
			Help:        "Pull calls by outcome",
			ConstLabels: labels,
		}, []string{"endpoint", "outcome"}),
		pullWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   "godec",
			Name:        "pull_wait_seconds",
			Help:        "Time a Pull spent waiting for its batch",
			ConstLabels: labels,
			Buckets:     []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
		}, []string{"endpoint"}),
		streamDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   "godec",
			Name:        "stream_depth",
			Help:        "Messages queued per aggregated stream",
			ConstLabels: labels,
		}, []string{"endpoint", "stream"}),
		streamDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "godec",
			Name:        "stream_dropped_total",
			Help:        "Messages dropped from a full stream queue",
			ConstLabels: labels,
		}, []string{"endpoint", "stream"}),
	}

	var registered []prometheus.Collector
	for _, c := range m.collectors() {
		if err := r.Register(c); err != nil {
			for _, done := range registered {
				r.Unregister(done)
			}
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				return nil, errors.New("session metrics already registered")
			}
			return nil, err
		}
		registered = append(registered, c)
	}
	return m, nil
}

func (m *sessionMetrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{m.pushes, m.pushErrors, m.pulls, m.pullWait, m.streamDepth, m.streamDrops}
}

func (m *sessionMetrics) unregister() {
	for _, c := range m.collectors() {
		m.registerer.Unregister(c)
	}
}
