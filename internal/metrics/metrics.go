package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CallbacksTotal counts reconciliation outcomes.
	CallbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paygate_callbacks_total",
		Help: "Callback reconciliation outcomes",
	}, []string{"outcome"})

	// CallbackRejectedTotal counts callbacks dropped before processing.
	CallbackRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paygate_callback_rejected_total",
		Help: "Callbacks rejected before reconciliation",
	}, []string{"reason"})

	// RefundsTotal counts refund outcomes by terminal status.
	RefundsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paygate_refunds_total",
		Help: "Refund outcomes",
	}, []string{"outcome"})

	// ReviewFlagsTotal counts payments flagged for manual review.
	ReviewFlagsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "paygate_review_flags_total",
		Help: "Payments and refunds flagged for operator review",
	})
)
