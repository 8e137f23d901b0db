package exchange

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// operationsTotal counts processed operations by kind and outcome.
	operationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exchange_operations_total",
			Help: "Total operations processed by the exchange worker",
		},
		[]string{"op", "outcome"},
	)

	// tradesTotal counts trades produced by order matching.
	tradesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "exchange_trades_total",
			Help: "Total trades produced by order matching",
		},
	)
)

func outcomeLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
