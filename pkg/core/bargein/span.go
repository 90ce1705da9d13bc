// Package bargein decides in real time whether audio overlapping agent speech
// is a genuine conversational interruption, by streaming candidate audio to a
// remote detector service and correlating its asynchronous responses back to
// locally buffered chunks.
package bargein

import "time"

// Span records one audio chunk's round trip through the detector service:
// when the chunk was sent, what was sent, and what the service said about it.
type Span struct {
	// CreatedAt is the correlation key: the chunk's local send time truncated
	// to integer milliseconds, or the server-supplied value when the span was
	// created from a response whose request had already been evicted.
	CreatedAt int64

	// RequestStartedAt is the high-resolution send time, used to compute the
	// round-trip duration precisely. Zero on spans created from a response.
	RequestStartedAt time.Time

	// SpeechInput is the raw audio payload, retained only on the originating
	// span.
	SpeechInput []byte

	// Derived timing in seconds; nil until a response merges them in.
	TotalDurationS      *float64
	PredictionDurationS *float64
	DetectionDelayS     *float64

	// Probabilities is the per-inference-frame probability series in time
	// order.
	Probabilities []float64

	// IsInterruption is nil while the verdict is pending.
	IsInterruption *bool
}

// SpanUpdate is a partial update to a Span. Nil fields leave the span's
// corresponding field untouched; a field can never be cleared through Merge.
type SpanUpdate struct {
	RequestStartedAt    *time.Time
	SpeechInput         []byte
	TotalDurationS      *float64
	PredictionDurationS *float64
	DetectionDelayS     *float64
	Probabilities       []float64
	IsInterruption      *bool
}

// Merge applies every defined field of u onto s.
func (s *Span) Merge(u SpanUpdate) {
	if u.RequestStartedAt != nil {
		s.RequestStartedAt = *u.RequestStartedAt
	}
	if u.SpeechInput != nil {
		s.SpeechInput = u.SpeechInput
	}
	if u.TotalDurationS != nil {
		s.TotalDurationS = u.TotalDurationS
	}
	if u.PredictionDurationS != nil {
		s.PredictionDurationS = u.PredictionDurationS
	}
	if u.DetectionDelayS != nil {
		s.DetectionDelayS = u.DetectionDelayS
	}
	if u.Probabilities != nil {
		s.Probabilities = u.Probabilities
	}
	if u.IsInterruption != nil {
		s.IsInterruption = u.IsInterruption
	}
}

// Probability derives the span's single decision value from its probability
// series. It is computed on demand so it always reflects the current series.
func (s *Span) Probability(windowSizeS float64) float64 {
	return EstimateProbability(s.Probabilities, windowSizeS)
}
