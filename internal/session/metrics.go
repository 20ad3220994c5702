package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var metricActive = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "gw_sessions_active",
	Help: "Client sessions currently registered",
})
