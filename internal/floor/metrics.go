package floor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricWithheld = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gw_floor_withheld_chunks_total",
		Help: "AI audio chunks withheld while the user was speaking",
	})
	metricFlushes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gw_floor_flushes_total",
		Help: "Withheld queues released after the user stopped speaking",
	})
)
