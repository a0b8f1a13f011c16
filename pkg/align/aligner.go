// Package align recovers word-level timestamps for a known transcript from
// the frame-wise output of a CTC acoustic model.
package align

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

// WarningCode identifies a non-fatal alignment condition.
type WarningCode string

const (
	// WarnGeometricInfeasible means there are more tokens than frames, so
	// the path is compressed and timings are unreliable.
	WarnGeometricInfeasible WarningCode = "geometric_infeasible"

	// WarnExtrapolated means some words received no frames and were given
	// synthetic spans after the last aligned word.
	WarnExtrapolated WarningCode = "extrapolated"
)

// Warning describes a degraded but usable result.
type Warning struct {
	Code    WarningCode `json:"code"`
	Message string      `json:"message"`
}

// Config bounds and tunes an Aligner.
type Config struct {
	// MaxTrellisCells rejects requests whose (T+1)*(J+1) exceeds it. Zero disables the check.
	MaxTrellisCells int64
	// FallbackFrames is the width given to words the path never reached.
	FallbackFrames int
	Repair         RepairConfig
}

// DefaultConfig returns the service defaults.
func DefaultConfig() Config {
	return Config{
		MaxTrellisCells: 50_000_000,
		FallbackFrames:  10,
		Repair:          DefaultRepairConfig(),
	}
}

// Request is one alignment job.
type Request struct {
	// Words is the transcript in order; casing and punctuation are free.
	Words []string
	// Emission is the acoustic model output for the whole recording.
	Emission *EmissionMatrix
	// SampleCount and SampleRate describe the audio the emission was computed from.
	SampleCount int
	SampleRate  int
}

// Result is the outcome of a successful alignment.
type Result struct {
	Words        []WordTiming `json:"words"`
	Repaired     int          `json:"repaired"`
	Extrapolated int          `json:"extrapolated"`
	Warnings     []Warning    `json:"warnings,omitempty"`
	Frames       int          `json:"frames"`
	Tokens       int          `json:"tokens"`
	Score        float64      `json:"-"`
}

// Aligner runs CTC forced alignment against a fixed vocabulary. It holds no
// per-request state and may be shared between goroutines.
type Aligner struct {
	vocab  *Vocabulary
	config Config
	logger *logrus.Entry
}

// NewAligner creates an aligner for the given vocabulary.
func NewAligner(vocab *Vocabulary, config Config) *Aligner {
	return &Aligner{
		vocab:  vocab,
		config: config,
		logger: logrus.WithField("component", "align"),
	}
}

// Vocabulary returns the aligner's vocabulary.
func (a *Aligner) Vocabulary() *Vocabulary { return a.vocab }

// AlignText splits text on whitespace and aligns the resulting words.
func (a *Aligner) AlignText(text string, em *EmissionMatrix, sampleCount, sampleRate int) (*Result, error) {
	return a.Align(Request{
		Words:       strings.Fields(text),
		Emission:    em,
		SampleCount: sampleCount,
		SampleRate:  sampleRate,
	})
}

// Align maps every word of req to a time interval. The result has one
// timing per input word, in input order, with Start <= End <= next Start.
func (a *Aligner) Align(req Request) (*Result, error) {
	if len(req.Words) == 0 {
		return nil, ErrEmptyTranscript
	}
	em := req.Emission
	if em == nil || em.Frames == 0 || em.Symbols == 0 {
		return nil, ErrEmptyEmission
	}
	if len(em.Data) != em.Frames*em.Symbols {
		return nil, fmt.Errorf("%w: %d values for %dx%d", ErrMalformedEmission, len(em.Data), em.Frames, em.Symbols)
	}
	if a.vocab.Size() > em.Symbols {
		return nil, fmt.Errorf("%w: vocabulary has %d symbols, emission has %d", ErrSymbolOutOfRange, a.vocab.Size(), em.Symbols)
	}
	scale, err := NewTimeScale(req.SampleCount, req.SampleRate, em.Frames)
	if err != nil {
		return nil, err
	}

	tokens, counts := Tokenize(req.Words, a.vocab)
	if len(tokens) == 0 {
		return nil, ErrNoAlignableTokens
	}

	T, J := em.Frames, len(tokens)
	if limit := a.config.MaxTrellisCells; limit > 0 && int64(T+1)*int64(J+1) > limit {
		return nil, fmt.Errorf("%w: %d frames x %d tokens", ErrTrellisTooLarge, T, J)
	}

	res := &Result{Frames: T, Tokens: J}
	if J > T {
		res.Warnings = append(res.Warnings, Warning{
			Code:    WarnGeometricInfeasible,
			Message: fmt.Sprintf("%d tokens cannot fit in %d frames", J, T),
		})
		a.logger.WithFields(logrus.Fields{"frames": T, "tokens": J}).Debug("More tokens than frames, alignment will be compressed")
	}

	blank := a.vocab.Blank()
	trellis := BuildTrellis(em, tokens, blank)
	res.Score = trellis.Final()

	path := Backtrack(trellis, em, tokens, blank)
	segs := MergeRepeats(path, blank)
	spans := GroupWords(segs, tokens, counts, a.config.FallbackFrames)

	for _, sp := range spans {
		if sp.Extrapolated {
			res.Extrapolated++
		}
	}
	if res.Extrapolated > 0 {
		res.Warnings = append(res.Warnings, Warning{
			Code:    WarnExtrapolated,
			Message: fmt.Sprintf("%d word(s) were not reached by the alignment path", res.Extrapolated),
		})
	}

	res.Words = scale.Words(req.Words, spans)
	res.Repaired = RepairGaps(res.Words, a.config.Repair)

	a.logger.WithFields(logrus.Fields{
		"frames":       T,
		"tokens":       J,
		"words":        len(res.Words),
		"segments":     len(segs),
		"repaired":     res.Repaired,
		"extrapolated": res.Extrapolated,
	}).Debug("Alignment complete")

	return res, nil
}

// HasWarning reports whether the result carries the given warning.
func (r *Result) HasWarning(code WarningCode) bool {
	for _, w := range r.Warnings {
		if w.Code == code {
			return true
		}
	}
	return false
}
