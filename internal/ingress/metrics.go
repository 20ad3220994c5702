package ingress

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricConnections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gw_ingress_connections_total",
		Help: "Client sockets accepted",
	})
	metricRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gw_ingress_rejected_total",
		Help: "Client sockets closed during setup",
	}, []string{"reason"})
	metricAuthFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gw_ingress_auth_failures_total",
		Help: "Tokens that failed verification (session continued anonymously)",
	})
	metricFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gw_ingress_audio_frames_total",
		Help: "Client audio frames by outcome",
	}, []string{"outcome"})
	metricStops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gw_ingress_stops_total",
		Help: "Turn end requests from clients",
	})
	metricTranscribeFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gw_ingress_transcribe_failures_total",
		Help: "User turns stored with the placeholder text",
	})
)
