package metrics

import (
	"membership-engine/internal/domain/model"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		entitlementsExpiredTotal,
		entitlementsActivatedTotal,
		entitlementsPreemptedTotal,
		entitlementsTotal,
		activeByLevel,
		chainRepairsTotal,
		chainIssuesTotal,
		pointsOutstanding,
	)
}

var (
	entitlementsExpiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "entitlements_expired_total",
			Help: "Total number of entitlements completed by the expiry worker.",
		},
	)

	entitlementsActivatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "entitlements_activated_total",
			Help: "Total number of pending entitlements promoted by the activation worker.",
		},
	)

	entitlementsPreemptedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "entitlements_preempted_total",
			Help: "Total number of active entitlements paused by a higher-weight purchase.",
		},
	)

	entitlementsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "entitlements_total",
			Help: "Current number of entitlements by status.",
		},
		[]string{"status"}, // 'pending', 'active', 'completed', 'cancelled', 'paused'
	)

	activeByLevel = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "entitlements_active_by_level",
			Help: "Current number of active entitlements by tier level.",
		},
		[]string{"level"},
	)

	chainRepairsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chain_repairs_total",
			Help: "Total number of chains rewritten by the auditor or repair endpoint.",
		},
	)

	pointsOutstanding = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "membership_points_outstanding",
			Help: "Total unredeemed points across all memberships.",
		},
	)

	chainIssuesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chain_issues_total",
			Help: "Total chain invariant violations detected, by issue code.",
		},
		[]string{"code"}, // 'multiple_active', 'broken_link', 'bad_position'
	)
)

func IncEntitlementsExpired(count int) {
	entitlementsExpiredTotal.Add(float64(count))
}

func IncEntitlementsActivated(count int) {
	entitlementsActivatedTotal.Add(float64(count))
}

func IncEntitlementsPreempted() {
	entitlementsPreemptedTotal.Inc()
}

func SetEntitlementsTotal(counts map[model.EntitlementStatus]int) {
	statuses := []model.EntitlementStatus{
		model.EntitlementStatusPending,
		model.EntitlementStatusActive,
		model.EntitlementStatusCompleted,
		model.EntitlementStatusCancelled,
		model.EntitlementStatusPaused,
	}
	for _, status := range statuses {
		entitlementsTotal.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
}

func SetActiveByLevel(counts map[string]int) {
	for level, count := range counts {
		activeByLevel.WithLabelValues(norm(level)).Set(float64(count))
	}
}

func SetPointsOutstanding(total int64) {
	pointsOutstanding.Set(float64(total))
}

func IncChainRepaired() {
	chainRepairsTotal.Inc()
}

func IncChainIssue(code string) {
	chainIssuesTotal.WithLabelValues(norm(code)).Inc()
}
