package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	questionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askdata_questions_total",
			Help: "Total number of answered or failed questions by mode and status.",
		},
		[]string{"mode", "status"},
	)
	sqlBlockedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askdata_sql_blocked_total",
			Help: "Total number of statements rejected by the safety gate, by stage.",
		},
		[]string{"stage"},
	)
	repairsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askdata_repairs_total",
			Help: "Total number of repair attempts by result.",
		},
		[]string{"result"},
	)
	generationDurationMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "askdata_generation_duration_ms",
			Help:    "Model generation latency in milliseconds.",
			Buckets: []float64{50, 100, 250, 500, 1000, 2000, 5000, 10000, 30000, 60000},
		},
		[]string{"provider", "op"},
	)
	queryDurationMs = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "askdata_query_duration_ms",
			Help:    "DuckDB query latency in milliseconds for successful statements.",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000},
		},
	)
)

func init() {
	prometheus.MustRegister(
		questionsTotal,
		sqlBlockedTotal,
		repairsTotal,
		generationDurationMs,
		queryDurationMs,
	)
}

func ObserveQuestion(mode, status string) {
	questionsTotal.WithLabelValues(mode, status).Inc()
}

// IncrementSQLBlocked counts gate rejections; stage is "original" or "repaired".
func IncrementSQLBlocked(stage string) {
	sqlBlockedTotal.WithLabelValues(stage).Inc()
}

func IncrementRepair(result string) {
	repairsTotal.WithLabelValues(result).Inc()
}

func ObserveGeneration(provider, op string, elapsed time.Duration) {
	if provider == "" {
		provider = "unknown"
	}
	generationDurationMs.WithLabelValues(provider, op).Observe(float64(elapsed.Milliseconds()))
}

func ObserveQuery(elapsed time.Duration) {
	queryDurationMs.Observe(float64(elapsed.Milliseconds()))
}
