package bargein

import (
	"encoding/binary"
	"fmt"
)

// Message types exchanged with the detector service.
const (
	msgSessionCreate  = "session.create"
	msgSessionClose   = "session.close"
	msgSessionCreated = "session.created"
	msgSessionClosed  = "session.closed"

	msgBargeinDetected = "bargein_detected"
	msgInferenceDone   = "inference_done"
	msgError           = "error"
)

type sessionSettings struct {
	SampleRate  int     `json:"sample_rate"`
	NumChannels int     `json:"num_channels"`
	Threshold   float64 `json:"threshold"`
	MinFrames   int     `json:"min_frames"`
	Encoding    string  `json:"encoding"`
}

type clientMessage struct {
	Type     string           `json:"type"`
	Settings *sessionSettings `json:"settings,omitempty"`
}

type serverMessage struct {
	Type               string    `json:"type"`
	CreatedAt          int64     `json:"created_at,omitempty"`
	Probabilities      []float64 `json:"probabilities,omitempty"`
	PredictionDuration float64   `json:"prediction_duration,omitempty"`
	IsBargein          *bool     `json:"is_bargein,omitempty"`
	Message            string    `json:"message,omitempty"`
	Code               string    `json:"code,omitempty"`
}

// ProtocolError is a fatal error reported by the detector service. It signals
// the whole detection capability is broken, not one request.
type ProtocolError struct {
	Code    string
	Message string
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("bargein service error: %s (code: %s)", e.Message, e.Code)
	}
	return fmt.Sprintf("bargein service error: %s", e.Message)
}

// frameHeaderSize is the binary prefix on every outbound audio frame.
const frameHeaderSize = 8

// encodeFrameTimestamp writes a millisecond timestamp as two little-endian
// 32-bit words, low word first. The split keeps the value byte-exact for
// peers without a lossless 64-bit integer type.
func encodeFrameTimestamp(ts int64) [frameHeaderSize]byte {
	var b [frameHeaderSize]byte
	binary.LittleEndian.PutUint32(b[0:4], uint32(ts&0xFFFFFFFF))
	binary.LittleEndian.PutUint32(b[4:8], uint32(ts>>32))
	return b
}

// decodeFrameTimestamp reverses encodeFrameTimestamp. b must hold at least
// frameHeaderSize bytes.
func decodeFrameTimestamp(b []byte) int64 {
	lo := int64(binary.LittleEndian.Uint32(b[0:4]))
	hi := int64(binary.LittleEndian.Uint32(b[4:8]))
	return hi<<32 | lo
}
