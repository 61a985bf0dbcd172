package audio

import (
	"encoding/base64"
	"fmt"
	"time"
)

// ErrDecode indicates a malformed inbound audio payload. Decode failures are
// contained by the caller: the offending chunk is dropped and the session
// continues.
var ErrDecode = fmt.Errorf("audio: decode error")

const bytesPerSample = 2 // 16-bit PCM

// Buffer is a decoded block of audio ready for playback
type Buffer struct {
	Data       []float32
	SampleRate int
	Channels   int
}

// Duration returns the playback duration of the buffer
func (b *Buffer) Duration() time.Duration {
	if b == nil || b.SampleRate <= 0 || b.Channels <= 0 {
		return 0
	}
	frames := len(b.Data) / b.Channels
	return time.Duration(float64(frames) / float64(b.SampleRate) * float64(time.Second))
}

// EncodeFrame converts floating-point samples in [-1,1] to 16-bit PCM
// (little-endian). Samples outside [-1,1] are clamped. Deterministic and
// lossy (quantization); safe for concurrent use.
func EncodeFrame(samples []float32) []byte {
	out := make([]byte, len(samples)*bytesPerSample)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		v := int16(s * 32767)
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}

// EncodeFrameBase64 encodes samples as 16-bit PCM wrapped in standard base64,
// the transport-safe text form sent on the wire.
func EncodeFrameBase64(samples []float32) string {
	return base64.StdEncoding.EncodeToString(EncodeFrame(samples))
}

// DecodeToBuffer interprets data as 16-bit little-endian PCM and rescales it
// to floating point in [-1,1] at the given rate and channel layout.
func DecodeToBuffer(data []byte, sampleRate, channels int) (*Buffer, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("%w: invalid sample rate %d", ErrDecode, sampleRate)
	}
	if channels <= 0 {
		return nil, fmt.Errorf("%w: invalid channel count %d", ErrDecode, channels)
	}
	if len(data)%bytesPerSample != 0 {
		return nil, fmt.Errorf("%w: payload length %d is not a multiple of the sample width", ErrDecode, len(data))
	}

	samples := make([]float32, len(data)/bytesPerSample)
	for i := range samples {
		v := int16(data[i*2]) | int16(data[i*2+1])<<8
		s := float32(v) / 32767
		// -32768 lands just below -1; keep the output inside the range
		// the playback device is promised.
		if s < -1 {
			s = -1
		}
		samples[i] = s
	}

	return &Buffer{
		Data:       samples,
		SampleRate: sampleRate,
		Channels:   channels,
	}, nil
}

// DecodeBase64Frame decodes a base64 wire payload into a playable buffer
func DecodeBase64Frame(payload string, sampleRate, channels int) (*Buffer, error) {
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base64 payload: %v", ErrDecode, err)
	}
	return DecodeToBuffer(raw, sampleRate, channels)
}
