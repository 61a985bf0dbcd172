package device

import (
	"fmt"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"
	"github.com/rs/zerolog"

	"github.com/parleyai/voice-session/internal/audio"
	"github.com/parleyai/voice-session/internal/playback"
)

// Speaker plays scheduled chunks on the default output device. Its clock
// is the number of samples handed to the device, so chunk boundaries land
// sample-accurately and back-to-back chunks are seamless.
type Speaker struct {
	sampleRate int
	logger     zerolog.Logger

	mu     sync.Mutex
	stream *portaudio.Stream
	clock  int64
	queue  []*speakerHandle
	closed bool
}

type speakerHandle struct {
	buf         *audio.Buffer
	startSample int64
	pos         int
	done        chan struct{}
	finished    bool
}

func (h *speakerHandle) Done() <-chan struct{} { return h.done }

// finish must be called with the speaker lock held.
func (h *speakerHandle) finish() {
	if !h.finished {
		h.finished = true
		close(h.done)
	}
}

// OpenSpeaker opens the default output device and starts its stream.
func OpenSpeaker(sampleRate, frameSamples int, logger zerolog.Logger) (*Speaker, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize audio host: %w", err)
	}
	s := &Speaker{
		sampleRate: sampleRate,
		logger:     logger.With().Str("component", "speaker").Logger(),
	}
	stream, err := portaudio.OpenDefaultStream(0, 1, float64(sampleRate), frameSamples, s.fill)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("open output stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("start output stream: %w", err)
	}
	s.stream = stream
	s.logger.Info().Int("sample_rate", sampleRate).Msg("Speaker output started")
	return s, nil
}

// fill is the device callback. It renders queued chunks at their scheduled
// sample positions and silence everywhere else.
func (s *Speaker) fill(out []float32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range out {
		out[i] = 0
	}

	i := 0
	for i < len(out) && len(s.queue) > 0 {
		h := s.queue[0]
		cur := s.clock + int64(i)
		if h.startSample > cur {
			gap := h.startSample - cur
			if gap >= int64(len(out)-i) {
				break
			}
			i += int(gap)
			continue
		}
		n := copy(out[i:], h.buf.Data[h.pos:])
		h.pos += n
		i += n
		if h.pos >= len(h.buf.Data) {
			h.finish()
			s.queue = s.queue[1:]
		}
	}
	s.clock += int64(len(out))
}

// Now reports the playback clock position.
func (s *Speaker) Now() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return samplesToDuration(s.clock, s.sampleRate)
}

// ScheduleAt queues a chunk to begin at the given clock position. A start
// already in the past plays immediately.
func (s *Speaker) ScheduleAt(buf *audio.Buffer, startAt time.Duration) (playback.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("speaker closed")
	}
	h := &speakerHandle{
		buf:         buf,
		startSample: durationToSamples(startAt, s.sampleRate),
		done:        make(chan struct{}),
	}
	s.queue = append(s.queue, h)
	return h, nil
}

// Stop removes a queued chunk and completes its handle.
func (s *Speaker) Stop(h playback.Handle) {
	sh, ok := h.(*speakerHandle)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, queued := range s.queue {
		if queued == sh {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			break
		}
	}
	sh.finish()
}

// Close stops the output stream and completes any queued handles.
func (s *Speaker) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for _, h := range s.queue {
		h.finish()
	}
	s.queue = nil
	stream := s.stream
	s.stream = nil
	s.mu.Unlock()

	// Stop outside the lock: the device callback takes it.
	err := stream.Stop()
	if closeErr := stream.Close(); err == nil {
		err = closeErr
	}
	if termErr := portaudio.Terminate(); err == nil {
		err = termErr
	}
	s.logger.Info().Msg("Speaker output stopped")
	return err
}

func samplesToDuration(samples int64, rate int) time.Duration {
	sec := samples / int64(rate)
	rem := samples % int64(rate)
	return time.Duration(sec)*time.Second + time.Duration(rem)*time.Second/time.Duration(rate)
}

func durationToSamples(d time.Duration, rate int) int64 {
	return int64(d) * int64(rate) / int64(time.Second)
}
