package align

import "fmt"

// TimeScale converts emission frame indices to seconds. It assumes the
// acoustic model has a constant frame stride.
type TimeScale struct {
	secondsPerFrame float64
}

// NewTimeScale derives the frame duration from the audio length and the
// number of emission frames produced for it.
func NewTimeScale(sampleCount, sampleRate, frames int) (TimeScale, error) {
	if sampleCount <= 0 || sampleRate <= 0 {
		return TimeScale{}, fmt.Errorf("%w: %d samples at %d Hz", ErrInvalidAudio, sampleCount, sampleRate)
	}
	if frames <= 0 {
		return TimeScale{}, ErrEmptyEmission
	}
	return TimeScale{secondsPerFrame: float64(sampleCount) / float64(frames) / float64(sampleRate)}, nil
}

// SecondsPerFrame returns the duration of one emission frame.
func (s TimeScale) SecondsPerFrame() float64 { return s.secondsPerFrame }

// Seconds converts a frame index to seconds.
func (s TimeScale) Seconds(frame int) float64 {
	return float64(frame) * s.secondsPerFrame
}

// Words converts word spans to timings, pairing them with their text.
func (s TimeScale) Words(words []string, spans []WordSpan) []WordTiming {
	out := make([]WordTiming, len(spans))
	for i, sp := range spans {
		out[i] = WordTiming{
			Word:  words[i],
			Start: s.Seconds(sp.Start),
			End:   s.Seconds(sp.End),
		}
	}
	return out
}
