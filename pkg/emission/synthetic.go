package emission

import (
	"unicode"

	"github.com/fankserver/voice-align-mcp/pkg/align"
)

// SamplesPerFrame is the frame stride of the wav2vec2 models at 16 kHz.
const SamplesPerFrame = 320

// Synthesize builds a peaky emission matrix that spells out words: two
// leading blank frames, then for each representable character
// framesPerToken frames where it dominates followed by one blank frame.
// It stands in for an acoustic model in benchmarks and smoke tests.
func Synthesize(words []string, vocab *align.Vocabulary, framesPerToken int) *Emissions {
	if framesPerToken < 1 {
		framesPerToken = 1
	}
	symbols := vocab.Size()
	blank := vocab.Blank()

	frame := func(sym int, p float64) []float64 {
		row := make([]float64, symbols)
		for k := range row {
			row[k] = -12
		}
		if sym == blank {
			row[blank] = -0.01
			return row
		}
		row[sym] = p
		row[blank] = -4
		return row
	}

	rows := [][]float64{frame(blank, 0), frame(blank, 0)}
	for _, word := range words {
		for _, r := range word {
			sym, ok := vocab.Lookup(unicode.ToUpper(r))
			if !ok {
				continue
			}
			for i := 0; i < framesPerToken; i++ {
				rows = append(rows, frame(sym, -0.05))
			}
			rows = append(rows, frame(blank, 0))
		}
	}

	return &Emissions{
		Matrix:      align.NewEmissionMatrix(rows),
		SampleCount: len(rows) * SamplesPerFrame,
		SampleRate:  16000,
	}
}
