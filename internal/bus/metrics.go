package bus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gw_bus_events_published_total",
		Help: "Events accepted by the bus",
	}, []string{"topic", "kind"})
	metricDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gw_bus_events_dropped_total",
		Help: "Events published after the bus was closed",
	}, []string{"topic"})
	metricPanics = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gw_bus_handler_panics_total",
		Help: "Handler panics recovered by the bus",
	}, []string{"topic"})
	metricMailboxes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gw_bus_mailboxes",
		Help: "Mailboxes currently draining",
	})
)
