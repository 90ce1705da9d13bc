package bargein

import "time"

// Event is an element on the detector's output channel. Interruption
// decisions are emitted as *InterruptionEvent; any non-audio value pushed
// through Pipe is forwarded here untouched.
type Event any

// InterruptionEvent is emitted exactly once per overlap window when the
// detector service confirms a bargein. It is a snapshot; nothing mutates it
// after emission.
type InterruptionEvent struct {
	// Timestamp is the millisecond correlation key of the confirming span.
	Timestamp int64 `json:"timestamp"`

	// IsInterruption is always true on emitted events.
	IsInterruption bool `json:"is_interruption"`

	// TotalDurationS is the elapsed time from the chunk's send to the
	// verdict, in seconds.
	TotalDurationS float64 `json:"total_duration_s"`

	// PredictionDurationS is the server-side inference time in seconds.
	PredictionDurationS float64 `json:"prediction_duration_s"`

	// OverlapSpeechStartedAt is when the overlap window opened.
	OverlapSpeechStartedAt time.Time `json:"overlap_speech_started_at"`

	// SpeechInput is the raw audio of the confirming chunk, if the span was
	// still resident when the verdict arrived.
	SpeechInput []byte `json:"speech_input,omitempty"`

	// Probabilities is the per-frame probability series behind the verdict.
	Probabilities []float64 `json:"probabilities"`

	// DetectionDelayS is the elapsed time from the window opening to the
	// verdict, in seconds.
	DetectionDelayS float64 `json:"detection_delay_s"`

	// Probability is the single decision value derived from Probabilities.
	Probability float64 `json:"probability"`
}
