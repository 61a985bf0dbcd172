package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/parleyai/voice-session/internal/audio"
	"github.com/parleyai/voice-session/internal/config"
	"github.com/parleyai/voice-session/internal/observability"
	"github.com/parleyai/voice-session/internal/playback"
	"github.com/parleyai/voice-session/internal/transcript"
	"github.com/rs/zerolog"
)

// State models the session lifecycle
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateActive     State = "active"
	StateClosing    State = "closing"
	StateClosed     State = "closed"
	StateErrored    State = "errored"
)

const eventQueueSize = 256

type eventKind int

const (
	evFrame eventKind = iota
	evOpen
	evMessage
	evError
	evClose
)

// event is one unit of work on the session's single ordered timeline.
// Microphone frames, inbound messages and connection state changes all flow
// through the same queue, so handlers never run in parallel.
type event struct {
	kind  eventKind
	frame []float32
	msg   ServerMessage
	err   error
}

// activeSession bundles the resources acquired for one session instance.
// Created on start, destroyed on stop/error/remote-close; exactly one exists
// at a time.
type activeSession struct {
	id     string
	cancel context.CancelFunc
	logger zerolog.Logger

	mic      Microphone
	resMu    sync.Mutex // guards conn, micOn and tornDown
	micOn    bool
	conn     Conn
	tornDown bool
	events   chan event
	done     chan struct{}
	cleanup  sync.Once

	scheduler  *playback.Scheduler
	aggregator *transcript.Aggregator
	store      *transcript.Store
	sources    *transcript.SourceSet
	meter      *audio.Meter
	metrics    *observability.Metrics
}

// adoptConn hands ownership of a freshly dialed connection to the session.
// If teardown already ran, the session refuses it and the caller must close
// the connection itself; the flag and the assignment share resMu so teardown
// can never slip between them.
func (s *activeSession) adoptConn(c Conn) bool {
	s.resMu.Lock()
	defer s.resMu.Unlock()
	if s.tornDown {
		return false
	}
	s.conn = c
	return true
}

func (s *activeSession) getConn() Conn {
	s.resMu.Lock()
	defer s.resMu.Unlock()
	return s.conn
}

func (s *activeSession) markMicAcquired() {
	s.resMu.Lock()
	s.micOn = true
	s.resMu.Unlock()
}

// post queues an ordered event, giving up if the session is done
func (s *activeSession) post(ev event) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

// postFrame queues a microphone frame without ever blocking the capture
// callback; a full queue drops the frame.
func (s *activeSession) postFrame(samples []float32) {
	select {
	case s.events <- event{kind: evFrame, frame: samples}:
	case <-s.done:
	default:
	}
}

// teardown releases every acquired resource. Failures in one step never
// prevent attempting the rest; safe to invoke any number of times.
func (s *activeSession) teardown() {
	s.cleanup.Do(func() {
		s.resMu.Lock()
		s.tornDown = true
		micOn := s.micOn
		s.resMu.Unlock()
		if micOn {
			if err := s.mic.Stop(); err != nil {
				s.logger.Warn().Err(err).Msg("Error releasing microphone")
			}
		}
		s.scheduler.Shutdown()
		if conn := s.getConn(); conn != nil {
			if err := conn.Close(); err != nil {
				s.logger.Warn().Err(err).Msg("Error closing live connection")
			}
		}
		s.cancel()
		close(s.done)
		s.metrics.RecordSessionEnd()
	})
}

// Controller is the session controller: it owns the lifecycle state machine
// and routes every inbound event to the playback scheduler, the transcription
// aggregator and the grounding source set.
type Controller struct {
	cfg       *config.Config
	logger    zerolog.Logger
	mic       Microphone
	transport Transport
	output    playback.Output

	// Visualizer, when set, receives the smoothed input level for every
	// captured frame, muted or not.
	Visualizer func(level float64)

	mu     sync.RWMutex
	state  State
	muted  bool
	status string
	sess   *activeSession
}

// NewController wires a controller to its collaborators
func NewController(cfg *config.Config, mic Microphone, transport Transport, output playback.Output, logger zerolog.Logger) *Controller {
	return &Controller{
		cfg:       cfg,
		logger:    logger,
		mic:       mic,
		transport: transport,
		output:    output,
		state:     StateIdle,
	}
}

// State returns the current lifecycle state
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Status returns the latest user-visible message. One message per failure
// class; a newer failure replaces the prior message.
func (c *Controller) Status() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// Muted reports whether captured frames are withheld from the transport
func (c *Controller) Muted() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.muted
}

// SetMuted gates whether captured frames are encoded and sent. It does not
// change lifecycle state, and captured audio keeps flowing to the visualizer.
func (c *Controller) SetMuted(muted bool) {
	c.mu.Lock()
	c.muted = muted
	c.mu.Unlock()
}

// Transcript returns a snapshot of the finalized transcript entries
func (c *Controller) Transcript() []transcript.Entry {
	c.mu.RLock()
	sess := c.sess
	c.mu.RUnlock()
	if sess == nil {
		return nil
	}
	return sess.store.Entries()
}

// Sources returns a snapshot of the deduplicated grounding sources
func (c *Controller) Sources() []transcript.Source {
	c.mu.RLock()
	sess := c.sess
	c.mu.RUnlock()
	if sess == nil {
		return nil
	}
	return sess.sources.Sources()
}

func (c *Controller) setState(state State) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
}

// Start acquires the microphone, opens the live connection and begins
// streaming. On microphone denial the controller returns to Idle; on a
// connection failure it tears down and lands in Errored. No automatic retry
// in either case.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateIdle, StateClosed, StateErrored:
		// startable
	default:
		c.mu.Unlock()
		return fmt.Errorf("session already %s", c.state)
	}

	sessCtx, cancel := context.WithCancel(ctx)
	sessID := observability.NewSessionID()
	logger := c.logger.With().Str("session_id", sessID).Logger()
	sess := &activeSession{
		id:         sessID,
		cancel:     cancel,
		logger:     logger,
		mic:        c.mic,
		events:     make(chan event, eventQueueSize),
		done:       make(chan struct{}),
		scheduler:  playback.NewScheduler(c.output, logger),
		aggregator: transcript.NewAggregator(),
		store:      transcript.NewStore(),
		sources:    transcript.NewSourceSet(),
		meter:      audio.NewMeter(0.8),
		metrics:    observability.NewSessionMetrics(sessID),
	}
	c.sess = sess
	c.state = StateConnecting
	c.status = ""
	c.mu.Unlock()

	go c.run(sess)

	if err := c.mic.Start(sessCtx, sess.postFrame); err != nil {
		sess.teardown()
		c.mu.Lock()
		if c.state == StateConnecting {
			c.state = StateIdle
			c.status = "Microphone unavailable. Check input permissions and try again."
		}
		c.mu.Unlock()
		logger.Error().Err(err).Msg("Microphone acquisition failed")
		return fmt.Errorf("%w: %v", ErrPermission, err)
	}
	sess.markMicAcquired()
	sess.metrics.RecordSessionStart()

	conn, err := c.transport.Connect(sessCtx, ConnectConfig{
		Model:            c.cfg.LiveModel,
		Voice:            c.cfg.VoiceName,
		SystemPrompt:     c.cfg.SystemPrompt,
		Tools:            c.cfg.Tools(),
		InputSampleRate:  c.cfg.InputSampleRate,
		OutputSampleRate: c.cfg.OutputSampleRate,
		Channels:         1,
	}, Callbacks{
		OnOpen:    func() { sess.post(event{kind: evOpen}) },
		OnMessage: func(msg ServerMessage) { sess.post(event{kind: evMessage, msg: msg}) },
		OnError:   func(err error) { sess.post(event{kind: evError, err: err}) },
		OnClose:   func() { sess.post(event{kind: evClose}) },
	})
	if err != nil {
		sess.teardown()
		c.mu.Lock()
		if c.state == StateConnecting {
			c.state = StateErrored
			c.status = "Could not reach the voice service. Please try again later."
		}
		c.mu.Unlock()
		logger.Error().Err(err).Msg("Live connection failed")
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}
	if !sess.adoptConn(conn) {
		// Stopped while the dial was in flight; don't leak the connection.
		_ = conn.Close()
		return nil
	}

	logger.Info().Str("model", c.cfg.LiveModel).Str("voice", c.cfg.VoiceName).Msg("Session connecting")
	return nil
}

// Stop ends the session and releases every acquired resource. Safe to call
// from any state; calling it on an already-closed or idle session is a no-op.
func (c *Controller) Stop() {
	c.mu.Lock()
	sess := c.sess
	switch c.state {
	case StateIdle, StateClosed, StateClosing:
		c.mu.Unlock()
		return
	}
	c.state = StateClosing
	c.mu.Unlock()

	if sess != nil {
		sess.teardown()
		sess.logger.Info().Msg("Session stopped")
	}
	c.setState(StateClosed)
}

// run is the session's single event-loop goroutine: the sole writer to the
// scheduler, aggregator and source set.
func (c *Controller) run(sess *activeSession) {
	for {
		select {
		case ev := <-sess.events:
			switch ev.kind {
			case evFrame:
				c.handleFrame(sess, ev.frame)
			case evOpen:
				c.setState(StateActive)
				sess.logger.Info().Msg("Live connection open")
			case evMessage:
				c.routeMessage(sess, ev.msg)
			case evError:
				c.handleConnectionError(sess, ev.err)
				return
			case evClose:
				c.handleRemoteClose(sess)
				return
			}
		case <-sess.done:
			return
		}
	}
}

func (c *Controller) handleFrame(sess *activeSession, samples []float32) {
	level := sess.meter.Process(samples)
	if c.Visualizer != nil {
		c.Visualizer(level)
	}

	c.mu.RLock()
	active := c.state == StateActive
	muted := c.muted
	c.mu.RUnlock()
	if !active || muted {
		return
	}

	conn := sess.getConn()
	if conn == nil {
		return
	}
	payload := audio.EncodeFrameBase64(samples)
	if err := conn.SendAudio(payload); err != nil {
		// Persistent failures surface through the transport's OnError.
		sess.logger.Warn().Err(err).Msg("Failed to send audio frame")
		sess.metrics.RecordError("send_frame", "transport")
		return
	}
	sess.metrics.RecordAudioBytes("in", int64(len(samples)*2))
}

// routeMessage dispatches one inbound message to the sub-components. A
// message may carry several payloads; interruption is handled first so
// flushed playback never includes audio from the same message.
func (c *Controller) routeMessage(sess *activeSession, msg ServerMessage) {
	if msg.Interrupted {
		sess.scheduler.Interrupt()
		sess.metrics.RecordInterruption()
		sess.logger.Debug().Msg("Barge-in: playback flushed")
	}

	if msg.Audio != "" {
		buf, err := audio.DecodeBase64Frame(msg.Audio, c.cfg.OutputSampleRate, 1)
		if err != nil {
			// Malformed chunk: drop and continue the session.
			sess.logger.Warn().Err(err).Msg("Dropping undecodable audio chunk")
			sess.metrics.RecordError("decode", "audio")
		} else if err := sess.scheduler.Schedule(buf); err != nil {
			if errors.Is(err, playback.ErrSchedulerClosed) {
				sess.logger.Warn().Msg("Audio chunk arrived after scheduler shutdown")
			} else {
				sess.logger.Warn().Err(err).Msg("Failed to schedule audio chunk")
				sess.metrics.RecordError("schedule", "playback")
			}
		} else {
			sess.metrics.RecordChunkScheduled()
			sess.metrics.RecordAudioBytes("out", int64(len(buf.Data)*2))
		}
	}

	if msg.InputTranscript != "" {
		sess.aggregator.Append(transcript.RoleUser, msg.InputTranscript)
	}
	if msg.OutputTranscript != "" {
		sess.aggregator.Append(transcript.RoleAssistant, msg.OutputTranscript)
	}

	if len(msg.Sources) > 0 {
		sess.sources.Merge(msg.Sources)
	}

	if msg.TurnComplete {
		entries := sess.aggregator.CompleteTurn(time.Now)
		if len(entries) > 0 {
			sess.store.Append(entries...)
		}
		roles := make([]string, len(entries))
		for i, e := range entries {
			roles[i] = string(e.Role)
		}
		sess.metrics.RecordTurnComplete(roles)
	}
}

func (c *Controller) handleConnectionError(sess *activeSession, err error) {
	sess.logger.Error().Err(err).Msg("Live connection error")
	sess.metrics.RecordError("connection", "transport")
	sess.teardown()

	// A user-initiated stop already racing this event wins the final state.
	c.mu.Lock()
	if c.state == StateConnecting || c.state == StateActive {
		c.state = StateErrored
		c.status = "Connection to the voice service was lost."
	}
	c.mu.Unlock()
}

func (c *Controller) handleRemoteClose(sess *activeSession) {
	sess.logger.Info().Msg("Live connection closed by remote")
	sess.teardown()

	c.mu.Lock()
	if c.state == StateConnecting || c.state == StateActive {
		c.state = StateClosed
	}
	c.mu.Unlock()
}
