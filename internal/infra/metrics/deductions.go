package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		deductionsTotal,
		deductionLatencyMs,
		renewalsStoppedTotal,
	)
}

var (
	deductionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deductions_total",
			Help: "Total deduction attempts by gateway and outcome.",
		},
		[]string{"gateway", "outcome"}, // outcome: 'paid', 'pending', 'failed', 'error'
	)

	deductionLatencyMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "deduction_latency_ms",
			Help:    "Deduction gateway call latency distribution in milliseconds.",
			Buckets: []float64{10, 25, 50, 100, 200, 400, 800, 1600, 3000, 5000, 10000},
		},
		[]string{"gateway"},
	)

	renewalsStoppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "renewals_stopped_total",
			Help: "Renewals permanently disabled, by provider failure code.",
		},
		[]string{"code"},
	)
)

func ObserveDeduction(gateway, outcome string, latencyMs int64) {
	deductionsTotal.WithLabelValues(norm(gateway), norm(outcome)).Inc()
	deductionLatencyMs.WithLabelValues(norm(gateway)).Observe(float64(latencyMs))
}

func IncRenewalStopped(code string) {
	renewalsStoppedTotal.WithLabelValues(norm(code)).Inc()
}
