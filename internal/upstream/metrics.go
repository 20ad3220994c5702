package upstream

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gw_upstream_connections_active",
		Help: "Open realtime sockets",
	})
	metricConnectLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "gw_upstream_connect_seconds",
		Help:    "Time from dial to open",
		Buckets: prometheus.DefBuckets,
	})
	metricConnectFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gw_upstream_connect_failures_total",
		Help: "Realtime dials that failed",
	})
	metricChunksSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gw_upstream_chunks_sent_total",
		Help: "input_audio_buffer.append frames written",
	})
	metricChunksBuffered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gw_upstream_chunks_buffered_total",
		Help: "Chunks queued before the socket opened",
	})
	metricChunksDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gw_upstream_chunks_dropped_total",
		Help: "Chunks for clients without a connection record",
	})
	metricCommits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gw_upstream_commits_total",
		Help: "Commits forwarded upstream",
	})
	metricCommitsSuppressed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gw_upstream_commits_suppressed_total",
		Help: "Commits dropped because nothing was sent this turn",
	})
	metricFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gw_upstream_frames_total",
		Help: "Server events received, by kind",
	}, []string{"kind"})
)
