// Package metrics exposes the service's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveSessions is the number of currently registered channels.
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "conference_active_sessions",
		Help: "Current number of registered client sessions",
	})

	// TranscriptsBroadcast counts transcripts fanned out to clients.
	TranscriptsBroadcast = promauto.NewCounter(prometheus.CounterOpts{
		Name: "conference_transcripts_broadcast_total",
		Help: "Total number of transcripts broadcast to clients",
	})

	// StreamRotations counts recognition stream rotations.
	StreamRotations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "conference_stream_rotations_total",
		Help: "Total number of recognition stream rotations",
	})

	// RotationFailures counts rotations that could not open a new stream.
	RotationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "conference_stream_rotation_failures_total",
		Help: "Total number of failed recognition stream rotations",
	})

	// ReapedConnections counts channels terminated by the liveness monitor.
	ReapedConnections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "conference_reaped_connections_total",
		Help: "Total number of connections reaped for missed heartbeats",
	})

	// AudioBytesIn counts raw audio bytes accepted into pipelines.
	AudioBytesIn = promauto.NewCounter(prometheus.CounterOpts{
		Name: "conference_audio_bytes_in_total",
		Help: "Total raw audio bytes fed into transcription pipelines",
	})
)
