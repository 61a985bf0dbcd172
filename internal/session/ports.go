// Package session owns the duplex voice session lifecycle: microphone
// capture, the live streaming connection, inbound message routing and full
// resource teardown.
package session

import (
	"context"
	"errors"

	"github.com/parleyai/voice-session/internal/transcript"
)

// ErrPermission indicates the microphone was denied or unavailable. Terminal
// for the attempted start; the user must retry manually.
var ErrPermission = errors.New("session: microphone permission denied")

// ErrConnection indicates a transport-reported failure at open or
// mid-session. Forces full teardown; no automatic reconnect.
var ErrConnection = errors.New("session: connection error")

// Microphone is the capture collaborator. It delivers fixed-size
// floating-point sample frames at a fixed input rate until stopped.
type Microphone interface {
	Start(ctx context.Context, onFrame func(samples []float32)) error
	Stop() error
}

// ServerMessage is one inbound message from the remote service. A message
// may carry zero or more of the fields below.
type ServerMessage struct {
	Audio            string // base64-encoded 16-bit PCM reply audio, empty when absent
	Interrupted      bool   // barge-in: flush in-flight playback immediately
	InputTranscript  string // partial transcription of the user's speech
	OutputTranscript string // partial transcription of the assistant's reply
	TurnComplete     bool   // the current exchange unit is finished
	Sources          []transcript.Source
}

// Callbacks are invoked by the transport as the connection progresses.
type Callbacks struct {
	OnOpen    func()
	OnMessage func(msg ServerMessage)
	OnError   func(err error)
	OnClose   func()
}

// ConnectConfig is forwarded opaquely to the remote service at
// connection-open time; the session does not interpret its values.
type ConnectConfig struct {
	Model            string
	Voice            string
	SystemPrompt     string
	Tools            []string
	InputSampleRate  int
	OutputSampleRate int
	Channels         int
}

// Conn is an open streaming connection.
type Conn interface {
	SendAudio(payload string) error
	Close() error
}

// Transport opens streaming connections to the remote conversational
// service.
type Transport interface {
	Connect(ctx context.Context, cfg ConnectConfig, cb Callbacks) (Conn, error)
}
