// Package playback schedules decoded audio chunks for gapless output.
package playback

import (
	"errors"
	"sync"
	"time"

	"github.com/parleyai/voice-session/internal/audio"
	"github.com/rs/zerolog"
)

// ErrSchedulerClosed is returned when a chunk is scheduled on a torn-down
// scheduler. Callers treat it as a no-op and log a warning; it never ends the
// session.
var ErrSchedulerClosed = errors.New("playback: scheduler is shut down")

// Handle identifies one in-flight playback chunk.
type Handle interface {
	// Done is closed when the chunk finishes playing or is stopped.
	Done() <-chan struct{}
}

// Output is the playback-output collaborator: an output clock plus the
// ability to start a buffer at an absolute clock position and to stop it.
type Output interface {
	Now() time.Duration
	ScheduleAt(buf *audio.Buffer, startAt time.Duration) (Handle, error)
	Stop(h Handle)
}

// Scheduler maintains the gapless playback queue: a monotonically advancing
// next-start cursor and the set of in-flight handles. Each arriving chunk is
// scheduled to start exactly when the previous one ends.
type Scheduler struct {
	out    Output
	logger zerolog.Logger

	mu     sync.Mutex
	cursor time.Duration
	active map[Handle]struct{}
	closed bool
}

// NewScheduler creates a scheduler on top of the given output
func NewScheduler(out Output, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		out:    out,
		logger: logger,
		active: make(map[Handle]struct{}),
	}
}

// Schedule queues a decoded chunk to begin exactly when the previous chunk
// ends (or immediately if the queue has drained). The cursor read and update
// happen atomically under the scheduler lock so concurrently arriving chunks
// never compute a stale start time.
func (s *Scheduler) Schedule(buf *audio.Buffer) error {
	if buf == nil || len(buf.Data) == 0 {
		return nil
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSchedulerClosed
	}

	startAt := s.out.Now()
	if s.cursor > startAt {
		startAt = s.cursor
	}

	h, err := s.out.ScheduleAt(buf, startAt)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.active[h] = struct{}{}
	s.cursor = startAt + buf.Duration()
	s.mu.Unlock()

	// Self-remove on natural completion
	go func() {
		<-h.Done()
		s.mu.Lock()
		delete(s.active, h)
		s.mu.Unlock()
	}()

	return nil
}

// Interrupt force-stops every in-flight chunk and resets the cursor, so the
// next chunk starts immediately relative to the output clock. Called on
// server-signaled barge-in.
func (s *Scheduler) Interrupt() {
	s.mu.Lock()
	stopped := s.drainLocked()
	s.mu.Unlock()

	if stopped > 0 {
		s.logger.Debug().Int("chunks", stopped).Msg("Playback interrupted")
	}
}

// Shutdown stops all active playback and rejects further scheduling.
// Idempotent.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	s.closed = true
	s.drainLocked()
	s.mu.Unlock()
}

// drainLocked stops and clears all active handles and zeroes the cursor.
// Caller holds s.mu.
func (s *Scheduler) drainLocked() int {
	stopped := len(s.active)
	for h := range s.active {
		s.out.Stop(h)
	}
	s.active = make(map[Handle]struct{})
	s.cursor = 0
	return stopped
}

// ActiveCount reports the number of chunks currently in flight
func (s *Scheduler) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Cursor reports the next-start position on the output clock
func (s *Scheduler) Cursor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}
