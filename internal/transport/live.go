// Package transport implements the duplex websocket client for the live
// voice backend. It speaks a small JSON frame protocol: the client opens
// with a setup frame describing the session, then exchanges base64 PCM
// audio and typed server events until either side closes.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/parleyai/voice-session/internal/session"
	"github.com/parleyai/voice-session/internal/transcript"
)

const (
	defaultConnectTimeout = 15 * time.Second
	closeWriteTimeout     = 2 * time.Second
)

// ErrClosed is returned by writes on a connection that has been closed.
var ErrClosed = errors.New("transport: connection closed")

// audioFormat describes one direction of the PCM stream in the setup frame.
type audioFormat struct {
	Encoding     string `json:"encoding"`
	SampleRateHz int    `json:"sample_rate_hz"`
	Channels     int    `json:"channels"`
}

// setupFrame is the first frame sent after the websocket opens.
type setupFrame struct {
	Type         string      `json:"type"`
	Model        string      `json:"model"`
	Voice        string      `json:"voice"`
	SystemPrompt string      `json:"system_prompt,omitempty"`
	Tools        []string    `json:"tools,omitempty"`
	AudioIn      audioFormat `json:"audio_in"`
	AudioOut     audioFormat `json:"audio_out"`
}

// audioFrame carries one base64 PCM chunk, in either direction.
type audioFrame struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

// serverFrame is the envelope for every frame the backend sends. Only the
// fields matching the frame's type are populated.
type serverFrame struct {
	Type    string `json:"type"`
	Data    string `json:"data,omitempty"`
	Text    string `json:"text,omitempty"`
	Message string `json:"message,omitempty"`
	Sources []struct {
		Title string `json:"title"`
		URI   string `json:"uri"`
	} `json:"sources,omitempty"`
}

// Client dials the live backend and adapts its frame protocol to the
// session layer's message callbacks.
type Client struct {
	wsURL  string
	apiKey string
	logger zerolog.Logger
}

func NewClient(wsURL, apiKey string, logger zerolog.Logger) *Client {
	return &Client{
		wsURL:  wsURL,
		apiKey: apiKey,
		logger: logger.With().Str("component", "transport").Logger(),
	}
}

// Connect dials the backend, sends the setup frame, and waits for the
// server's ready acknowledgement before handing the connection back.
// Callbacks fire from a single reader goroutine.
func (c *Client) Connect(ctx context.Context, cfg session.ConnectConfig, cb session.Callbacks) (session.Conn, error) {
	headers := make(http.Header)
	if c.apiKey != "" {
		headers.Set("Authorization", "Bearer "+c.apiKey)
	}

	dialCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, defaultConnectTimeout)
		defer cancel()
	}

	ws, resp, err := websocket.DefaultDialer.DialContext(dialCtx, c.wsURL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s (status %d): %w", c.wsURL, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial %s: %w", c.wsURL, err)
	}

	setup := setupFrame{
		Type:         "setup",
		Model:        cfg.Model,
		Voice:        cfg.Voice,
		SystemPrompt: cfg.SystemPrompt,
		Tools:        cfg.Tools,
		AudioIn: audioFormat{
			Encoding:     "pcm_s16le",
			SampleRateHz: cfg.InputSampleRate,
			Channels:     cfg.Channels,
		},
		AudioOut: audioFormat{
			Encoding:     "pcm_s16le",
			SampleRateHz: cfg.OutputSampleRate,
			Channels:     cfg.Channels,
		},
	}
	if err := ws.WriteJSON(setup); err != nil {
		_ = ws.Close()
		return nil, fmt.Errorf("send setup: %w", err)
	}

	// The server answers setup with ready or error before anything else.
	_ = ws.SetReadDeadline(time.Now().Add(defaultConnectTimeout))
	var ack serverFrame
	if err := ws.ReadJSON(&ack); err != nil {
		_ = ws.Close()
		return nil, fmt.Errorf("read setup ack: %w", err)
	}
	_ = ws.SetReadDeadline(time.Time{})
	switch ack.Type {
	case "ready":
	case "error":
		_ = ws.Close()
		return nil, fmt.Errorf("setup rejected: %s", ack.Message)
	default:
		_ = ws.Close()
		return nil, fmt.Errorf("unexpected first frame type %q", ack.Type)
	}

	conn := &liveConn{ws: ws, cb: cb, logger: c.logger}
	go conn.readLoop()
	cb.OnOpen()
	return conn, nil
}

// liveConn is a single duplex websocket connection. The reader goroutine
// owns all reads; writeMu serializes writes from the session side.
type liveConn struct {
	ws     *websocket.Conn
	cb     session.Callbacks
	logger zerolog.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool
}

func (c *liveConn) SendAudio(payload string) error {
	if c.closed.Load() {
		return ErrClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteJSON(audioFrame{Type: "audio", Data: payload})
}

func (c *liveConn) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeWriteTimeout))
		c.writeMu.Unlock()
		_ = c.ws.Close()
	})
	return nil
}

func (c *liveConn) readLoop() {
	for {
		var frame serverFrame
		if err := c.ws.ReadJSON(&frame); err != nil {
			if c.closed.Load() ||
				websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.cb.OnClose()
				return
			}
			c.cb.OnError(err)
			return
		}
		c.dispatch(frame)
	}
}

func (c *liveConn) dispatch(frame serverFrame) {
	switch frame.Type {
	case "audio":
		c.cb.OnMessage(session.ServerMessage{Audio: frame.Data})
	case "interrupted":
		c.cb.OnMessage(session.ServerMessage{Interrupted: true})
	case "input_transcript":
		c.cb.OnMessage(session.ServerMessage{InputTranscript: frame.Text})
	case "output_transcript":
		c.cb.OnMessage(session.ServerMessage{OutputTranscript: frame.Text})
	case "turn_complete":
		c.cb.OnMessage(session.ServerMessage{TurnComplete: true})
	case "sources":
		sources := make([]transcript.Source, 0, len(frame.Sources))
		for _, s := range frame.Sources {
			sources = append(sources, transcript.Source{Title: s.Title, URI: s.URI})
		}
		c.cb.OnMessage(session.ServerMessage{Sources: sources})
	case "error":
		c.cb.OnError(fmt.Errorf("server error: %s", frame.Message))
	default:
		c.logger.Debug().Str("frame_type", frame.Type).Msg("Ignoring unknown frame")
	}
}
