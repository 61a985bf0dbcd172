package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voice_session_active_sessions",
		Help: "Number of active voice sessions (0 or 1)",
	})

	totalSessions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_session_sessions_total",
		Help: "Total number of voice sessions started",
	})

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_session_duration_seconds",
		Help:    "Duration of voice sessions in seconds",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
	})

	// Turn metrics
	turnsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_session_turns_total",
		Help: "Total number of completed conversation turns",
	})

	transcriptEntries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_session_transcript_entries_total",
		Help: "Total transcript entries finalized",
	}, []string{"role"})

	// Playback metrics
	chunksScheduled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_session_playback_chunks_total",
		Help: "Total audio chunks scheduled for playback",
	})

	interruptions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_session_interruptions_total",
		Help: "Total barge-in interruptions that flushed playback",
	})

	// Audio metrics
	audioBytesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_session_audio_bytes_total",
		Help: "Total audio bytes processed",
	}, []string{"direction"}) // direction: "in" or "out"

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_session_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})
)

// Metrics tracks metrics for a single voice session
type Metrics struct {
	sessionID string
	startTime time.Time
	mu        sync.Mutex
	started   bool
	ended     bool
}

// NewSessionMetrics creates a new metrics tracker for a session
func NewSessionMetrics(sessionID string) *Metrics {
	return &Metrics{
		sessionID: sessionID,
		startTime: time.Now(),
	}
}

// RecordSessionStart records the start of a session
func (m *Metrics) RecordSessionStart() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.started = true
	activeSessions.Inc()
	totalSessions.Inc()
}

// RecordSessionEnd records the end of a session. Safe to call more than once;
// only the first call is counted, and a session that never recorded a start
// leaves the gauge and duration histogram untouched.
func (m *Metrics) RecordSessionEnd() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started || m.ended {
		return
	}
	m.ended = true
	activeSessions.Dec()
	sessionDuration.Observe(time.Since(m.startTime).Seconds())
}

// RecordTurnComplete records a completed turn and its finalized entries
func (m *Metrics) RecordTurnComplete(roles []string) {
	turnsCompleted.Inc()
	for _, role := range roles {
		transcriptEntries.WithLabelValues(role).Inc()
	}
}

// RecordChunkScheduled records one audio chunk handed to the playback scheduler
func (m *Metrics) RecordChunkScheduled() {
	chunksScheduled.Inc()
}

// RecordInterruption records a barge-in playback flush
func (m *Metrics) RecordInterruption() {
	interruptions.Inc()
}

// RecordAudioBytes records audio bytes processed
func (m *Metrics) RecordAudioBytes(direction string, bytes int64) {
	audioBytesProcessed.WithLabelValues(direction).Add(float64(bytes))
}

// RecordError records an error
func (m *Metrics) RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}
