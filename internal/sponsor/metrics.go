package sponsor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Requests      *prometheus.CounterVec
	RelayDuration prometheus.Histogram
}

// NewMetrics registers the pipeline collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sponsor_requests_total",
			Help: "Sponsorship submissions by outcome and reason.",
		}, []string{"outcome", "reason"}),
		RelayDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "sponsor_relay_duration_seconds",
			Help:    "Time spent in sendTransaction.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) observe(o Outcome) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(o.Kind.String(), o.Reason).Inc()
}
