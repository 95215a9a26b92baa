package registry

import (
	"math/big"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type registryMetrics struct {
	roundsCreated     prometheus.Counter
	votesCast         prometheus.Counter
	rejections        *prometheus.CounterVec
	roundsFinalized   prometheus.Counter
	paidOut           prometheus.Counter
	commissionBalance prometheus.Gauge
	withdrawals       prometheus.Counter
	conflicts         *prometheus.CounterVec
}

// initMetrics registers on reg; a nil reg yields working but unregistered
// collectors.
func (r *Registry) initMetrics(reg prometheus.Registerer) {
	promautoFactory := promauto.With(reg)
	r.metrics = &registryMetrics{}
	r.metrics.roundsCreated = promautoFactory.NewCounter(prometheus.CounterOpts{
		Name: "escrow_rounds_created_total",
		Help: "number of voting rounds created",
	})
	r.metrics.votesCast = promautoFactory.NewCounter(prometheus.CounterOpts{
		Name: "escrow_votes_cast_total",
		Help: "number of accepted votes",
	})
	r.metrics.rejections = promautoFactory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escrow_rejections_total",
			Help: "number of rejected operations by operation and reason",
		},
		[]string{"operation", "reason"},
	)
	r.metrics.roundsFinalized = promautoFactory.NewCounter(prometheus.CounterOpts{
		Name: "escrow_rounds_finalized_total",
		Help: "number of rounds paid out",
	})
	r.metrics.paidOut = promautoFactory.NewCounter(prometheus.CounterOpts{
		Name: "escrow_paid_out_wei_total",
		Help: "wei transferred to round leaders",
	})
	r.metrics.commissionBalance = promautoFactory.NewGauge(prometheus.GaugeOpts{
		Name: "escrow_commission_balance_wei",
		Help: "commission currently held for the owner",
	})
	r.metrics.withdrawals = promautoFactory.NewCounter(prometheus.CounterOpts{
		Name: "escrow_withdrawals_total",
		Help: "number of commission withdrawals",
	})
	r.metrics.conflicts = promautoFactory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escrow_commit_conflicts_total",
			Help: "number of commits refused because another writer committed first",
		},
		[]string{"operation"},
	)
}

func (m *registryMetrics) reject(operation string, err error) {
	m.rejections.WithLabelValues(operation, rejectionReason(err)).Inc()
}

// weiFloat converts for metric export only; precision loss is acceptable there.
func weiFloat(v *big.Int) float64 {
	f, _ := new(big.Float).SetInt(v).Float64()
	return f
}
