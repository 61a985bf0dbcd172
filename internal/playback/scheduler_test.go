package playback

import (
	"errors"
	"testing"
	"time"

	"github.com/parleyai/voice-session/internal/audio"
	"github.com/rs/zerolog"
)

type fakeHandle struct {
	startAt time.Duration
	buf     *audio.Buffer
	done    chan struct{}
	stopped bool
}

func (h *fakeHandle) Done() <-chan struct{} { return h.done }

// fakeOutput records scheduled chunks against a manually advanced clock.
type fakeOutput struct {
	now         time.Duration
	handles     []*fakeHandle
	scheduleErr error
}

func (o *fakeOutput) Now() time.Duration { return o.now }

func (o *fakeOutput) ScheduleAt(buf *audio.Buffer, startAt time.Duration) (Handle, error) {
	if o.scheduleErr != nil {
		return nil, o.scheduleErr
	}
	h := &fakeHandle{startAt: startAt, buf: buf, done: make(chan struct{})}
	o.handles = append(o.handles, h)
	return h, nil
}

func (o *fakeOutput) Stop(h Handle) {
	fh := h.(*fakeHandle)
	if !fh.stopped {
		fh.stopped = true
		close(fh.done)
	}
}

func monoBuffer(d time.Duration, rate int) *audio.Buffer {
	n := int(float64(rate) * d.Seconds())
	return &audio.Buffer{Data: make([]float32, n), SampleRate: rate, Channels: 1}
}

func newTestScheduler() (*Scheduler, *fakeOutput) {
	out := &fakeOutput{}
	return NewScheduler(out, zerolog.Nop()), out
}

func TestSchedule_Gapless(t *testing.T) {
	s, out := newTestScheduler()

	durations := []time.Duration{
		100 * time.Millisecond,
		250 * time.Millisecond,
		40 * time.Millisecond,
		500 * time.Millisecond,
	}
	for _, d := range durations {
		if err := s.Schedule(monoBuffer(d, 24000)); err != nil {
			t.Fatalf("Schedule failed: %v", err)
		}
	}

	if len(out.handles) != len(durations) {
		t.Fatalf("Expected %d scheduled chunks, got %d", len(durations), len(out.handles))
	}

	// start[i+1] = start[i] + d[i] exactly: no gap, no overlap
	for i := 1; i < len(out.handles); i++ {
		expected := out.handles[i-1].startAt + out.handles[i-1].buf.Duration()
		if out.handles[i].startAt != expected {
			t.Errorf("Chunk %d starts at %v, expected %v", i, out.handles[i].startAt, expected)
		}
	}
}

func TestSchedule_StartsAtClockWhenQueueDrained(t *testing.T) {
	s, out := newTestScheduler()

	if err := s.Schedule(monoBuffer(100*time.Millisecond, 24000)); err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}

	// Output clock has moved past the end of the queued audio
	out.now = 5 * time.Second
	if err := s.Schedule(monoBuffer(100*time.Millisecond, 24000)); err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}

	if out.handles[1].startAt != 5*time.Second {
		t.Errorf("Chunk starts at %v, expected output clock %v", out.handles[1].startAt, 5*time.Second)
	}
}

func TestInterrupt_ResetsCursorAndActiveSet(t *testing.T) {
	s, out := newTestScheduler()

	for i := 0; i < 3; i++ {
		if err := s.Schedule(monoBuffer(time.Second, 24000)); err != nil {
			t.Fatalf("Schedule failed: %v", err)
		}
	}
	if s.ActiveCount() != 3 {
		t.Fatalf("ActiveCount() = %d, expected 3", s.ActiveCount())
	}

	s.Interrupt()

	if s.ActiveCount() != 0 {
		t.Errorf("ActiveCount() after Interrupt = %d, expected 0", s.ActiveCount())
	}
	if s.Cursor() != 0 {
		t.Errorf("Cursor() after Interrupt = %v, expected 0", s.Cursor())
	}
	for i, h := range out.handles {
		if !h.stopped {
			t.Errorf("Handle %d not stopped by Interrupt", i)
		}
	}

	// Next chunk starts at the current output clock, not the old cursor
	out.now = 2 * time.Second
	if err := s.Schedule(monoBuffer(100*time.Millisecond, 24000)); err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}
	last := out.handles[len(out.handles)-1]
	if last.startAt != 2*time.Second {
		t.Errorf("Post-interrupt chunk starts at %v, expected %v", last.startAt, 2*time.Second)
	}
}

func TestNaturalCompletion_SelfRemoves(t *testing.T) {
	s, out := newTestScheduler()

	if err := s.Schedule(monoBuffer(time.Second, 24000)); err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}
	close(out.handles[0].done)
	out.handles[0].stopped = true

	deadline := time.After(time.Second)
	for s.ActiveCount() != 0 {
		select {
		case <-deadline:
			t.Fatal("Handle never removed from active set after completion")
		case <-time.After(time.Millisecond):
		}
	}
}

func TestShutdown_Idempotent(t *testing.T) {
	s, out := newTestScheduler()

	if err := s.Schedule(monoBuffer(time.Second, 24000)); err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}

	s.Shutdown()
	s.Shutdown() // second call is a no-op

	if s.ActiveCount() != 0 {
		t.Errorf("ActiveCount() after Shutdown = %d, expected 0", s.ActiveCount())
	}
	if !out.handles[0].stopped {
		t.Error("Handle not stopped by Shutdown")
	}

	if err := s.Schedule(monoBuffer(time.Second, 24000)); !errors.Is(err, ErrSchedulerClosed) {
		t.Errorf("Schedule after Shutdown returned %v, expected ErrSchedulerClosed", err)
	}
}

func TestSchedule_EmptyChunkIgnored(t *testing.T) {
	s, out := newTestScheduler()

	if err := s.Schedule(nil); err != nil {
		t.Errorf("Schedule(nil) returned %v", err)
	}
	if err := s.Schedule(&audio.Buffer{SampleRate: 24000, Channels: 1}); err != nil {
		t.Errorf("Schedule(empty) returned %v", err)
	}
	if len(out.handles) != 0 {
		t.Errorf("Empty chunks were scheduled: %d", len(out.handles))
	}
}

func TestSchedule_OutputError(t *testing.T) {
	s, out := newTestScheduler()
	out.scheduleErr = errors.New("device gone")

	if err := s.Schedule(monoBuffer(time.Second, 24000)); err == nil {
		t.Fatal("Expected error from output")
	}
	if s.ActiveCount() != 0 {
		t.Errorf("Failed schedule left %d active handles", s.ActiveCount())
	}
	if s.Cursor() != 0 {
		t.Errorf("Failed schedule advanced cursor to %v", s.Cursor())
	}
}
