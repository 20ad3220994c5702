package vad

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gw_vad_frames_total",
		Help: "Total client audio frames classified by the VAD",
	})

	metricStarts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gw_vad_starts_total",
		Help: "Total silent to speaking transitions",
	})

	metricEnds = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gw_vad_ends_total",
		Help: "Total speaking to silent transitions after hangover",
	})
)
