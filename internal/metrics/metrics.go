package metrics

import (
	"benritz/dtd/internal/types"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "dtd"

// Row outcomes.
const (
	OutcomeConverged    = "converged"
	OutcomeNotConverged = "not_converged"
	OutcomeFailed       = "failed"
)

// Metrics records calculator activity. It satisfies calc.Recorder.
type Metrics struct {
	rows       *prometheus.CounterVec
	runs       prometheus.Counter
	iterations prometheus.Histogram
	duration   prometheus.Histogram
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_total",
			Help:      "Rows processed by outcome.",
		}, []string{"outcome"}),
		runs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Completed batch runs.",
		}),
		iterations: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "solver_iterations",
			Help:      "Newton-Raphson iterations per solved row.",
			Buckets:   []float64{1, 2, 3, 5, 8, 13, 21, 50, 100, 1000},
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of a batch run.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	for _, c := range []prometheus.Collector{m.rows, m.runs, m.iterations, m.duration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func Outcome(res *types.Result) string {
	switch {
	case res.Failed():
		return OutcomeFailed
	case res.Converged:
		return OutcomeConverged
	default:
		return OutcomeNotConverged
	}
}

func (m *Metrics) ObserveResult(res *types.Result) {
	m.rows.WithLabelValues(Outcome(res)).Inc()
	if !res.Failed() {
		m.iterations.Observe(float64(res.Iterations))
	}
}

func (m *Metrics) ObserveReport(rep *types.Report) {
	m.runs.Inc()
	m.duration.Observe(rep.Duration.Seconds())
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
