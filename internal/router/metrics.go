package router

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gw_router_events_total",
		Help: "Upstream events routed to a live session",
	}, []string{"kind"})
	metricDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gw_router_events_dropped_total",
		Help: "Upstream events for sessions that no longer exist",
	}, []string{"kind"})
	metricTranscribeFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gw_router_transcribe_failures_total",
		Help: "AI audio transcriptions that fell back to the placeholder",
	})
	metricPersistFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gw_router_persist_failures_total",
		Help: "AI messages that could not be stored",
	})
)
