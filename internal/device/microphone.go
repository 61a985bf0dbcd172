// Package device binds the session to the host's audio hardware through
// portaudio. The microphone feeds fixed-size capture frames to the session
// and the speaker plays scheduled chunks on a sample-accurate clock.
package device

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gordonklaus/portaudio"
	"github.com/rs/zerolog"

	"github.com/parleyai/voice-session/internal/audio"
)

// Microphone captures mono float32 audio from the default input device.
// The device callback writes into a ring buffer and a pump goroutine
// re-slices it into fixed frames, so a slow consumer drops old audio
// instead of stalling the device.
type Microphone struct {
	sampleRate   int
	frameSamples int
	ringSamples  int
	logger       zerolog.Logger

	mu      sync.Mutex
	stream  *portaudio.Stream
	cancel  context.CancelFunc
	running bool

	dropped atomic.Int64
}

func NewMicrophone(sampleRate, frameSamples, ringSamples int, logger zerolog.Logger) *Microphone {
	return &Microphone{
		sampleRate:   sampleRate,
		frameSamples: frameSamples,
		ringSamples:  ringSamples,
		logger:       logger.With().Str("component", "microphone").Logger(),
	}
}

// Start opens the default input device and begins delivering frames of
// exactly frameSamples samples to onFrame until Stop is called or ctx is
// cancelled. onFrame runs on the pump goroutine, never on the device
// callback.
func (m *Microphone) Start(ctx context.Context, onFrame func([]float32)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return fmt.Errorf("microphone already started")
	}

	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("initialize audio host: %w", err)
	}

	ring := audio.NewRing(m.ringSamples)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(m.sampleRate), m.frameSamples,
		func(in []float32) {
			// Device callback: no locks, no logging. Overflow is counted
			// and reported when the stream stops.
			if n := ring.Write(in); n < len(in) {
				m.dropped.Add(int64(len(in) - n))
			}
		})
	if err != nil {
		_ = portaudio.Terminate()
		return fmt.Errorf("open input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return fmt.Errorf("start input stream: %w", err)
	}

	pumpCtx, cancel := context.WithCancel(ctx)
	m.stream = stream
	m.cancel = cancel
	m.running = true
	m.dropped.Store(0)

	go m.pump(pumpCtx, ring, onFrame)

	m.logger.Info().
		Int("sample_rate", m.sampleRate).
		Int("frame_samples", m.frameSamples).
		Msg("Microphone capture started")
	return nil
}

func (m *Microphone) pump(ctx context.Context, ring *audio.Ring, onFrame func([]float32)) {
	frameDur := time.Duration(m.frameSamples) * time.Second / time.Duration(m.sampleRate)
	ticker := time.NewTicker(frameDur / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		for ring.Available() >= m.frameSamples {
			frame := make([]float32, m.frameSamples)
			ring.Read(frame)
			onFrame(frame)
		}
	}
}

// Stop releases the input device. Safe to call more than once.
func (m *Microphone) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return nil
	}
	m.running = false
	m.cancel()

	err := m.stream.Stop()
	if closeErr := m.stream.Close(); err == nil {
		err = closeErr
	}
	if termErr := portaudio.Terminate(); err == nil {
		err = termErr
	}
	m.stream = nil

	if dropped := m.dropped.Load(); dropped > 0 {
		m.logger.Warn().Int64("samples", dropped).Msg("Capture overflow dropped audio")
	}
	m.logger.Info().Msg("Microphone capture stopped")
	return err
}
