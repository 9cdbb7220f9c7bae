package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(opsRequestsTotal) }

var opsRequestsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "ops_requests_total",
		Help: "Tracks requests to the operational API.",
	},
	[]string{"route", "status"}, // status: 'ok', 'unauthorized', 'error'
)

func IncOpsRequest(route, status string) {
	opsRequestsTotal.WithLabelValues(norm(route), norm(status)).Inc()
}
