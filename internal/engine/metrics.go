package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the engine's Prometheus collectors. A nil *Metrics records
// nothing.
type Metrics struct {
	rounds        prometheus.Counter
	converged     prometheus.Counter
	failed        prometheus.Counter
	exchangedRows prometheus.Counter
	roundDuration prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		rounds: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mutrec_loop_rounds_total",
			Help: "Rounds executed by recursive loops.",
		}),
		converged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mutrec_loop_converged_total",
			Help: "Recursive loops that reached a fixpoint.",
		}),
		failed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mutrec_loop_failed_total",
			Help: "Recursive loops that failed.",
		}),
		exchangedRows: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mutrec_exchange_rows_total",
			Help: "Rows sent between workers by the exchange.",
		}),
		roundDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mutrec_round_duration_seconds",
			Help:    "Wall time of one loop round.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
	}
	if reg != nil {
		reg.MustRegister(m.rounds, m.converged, m.failed, m.exchangedRows, m.roundDuration)
	}
	return m
}

func (m *Metrics) observeRound(d time.Duration, exchanged int64) {
	if m == nil {
		return
	}
	m.rounds.Inc()
	m.exchangedRows.Add(float64(exchanged))
	m.roundDuration.Observe(d.Seconds())
}

func (m *Metrics) observeEnd(state State) {
	if m == nil {
		return
	}
	switch state {
	case Converged:
		m.converged.Inc()
	case Failed:
		m.failed.Inc()
	}
}
