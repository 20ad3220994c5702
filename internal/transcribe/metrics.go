package transcribe

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gw_transcribe_requests_total",
		Help: "Transcription requests by outcome",
	}, []string{"outcome"})
	metricLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "gw_transcribe_seconds",
		Help:    "Transcription request latency",
		Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16},
	})
)
