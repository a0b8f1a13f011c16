package align

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

// span marks frames [from, to) as favouring label. The first frame scores
// highest unless flat is set, in which case every frame scores the same.
type span struct {
	from, to int
	label    string
	flat     bool
}

// buildEmission returns a log-softmax normalised T x K matrix. Frames covered
// by a span favour its label over blank; all other frames favour blank.
func buildEmission(t *testing.T, v *Vocabulary, frames int, spans []span) *EmissionMatrix {
	t.Helper()
	rows := make([][]float64, frames)
	for f := range rows {
		row := make([]float64, v.Size())
		for k := range row {
			row[k] = -10
		}
		row[v.Blank()] = 0
		rows[f] = row
	}
	for _, s := range spans {
		r := []rune(s.label)
		require.Len(t, r, 1)
		sym, ok := v.Lookup(r[0])
		require.True(t, ok, "label %q not in vocabulary", s.label)
		for f := s.from; f < s.to; f++ {
			rows[f][v.Blank()] = -3
			rows[f][sym] = -0.5
			if f == s.from || s.flat {
				rows[f][sym] = 0
			}
		}
	}
	for _, row := range rows {
		logSoftmax(row)
	}
	return NewEmissionMatrix(rows)
}

func logSoftmax(row []float64) {
	maxV := math.Inf(-1)
	for _, x := range row {
		maxV = math.Max(maxV, x)
	}
	sum := 0.0
	for _, x := range row {
		sum += math.Exp(x - maxV)
	}
	lse := maxV + math.Log(sum)
	for i := range row {
		row[i] -= lse
	}
}

// wordSpans lays the characters of each word out back to back, width frames
// per character, starting at frame start.
func wordSpans(start, width int, words ...string) []span {
	var out []span
	f := start
	for _, w := range words {
		for _, r := range w {
			out = append(out, span{from: f, to: f + width, label: string(r)})
			f += width
		}
	}
	return out
}

func assertMonotonic(t *testing.T, words []WordTiming) {
	t.Helper()
	for i, w := range words {
		require.LessOrEqual(t, w.Start, w.End, "word %d (%q) ends before it starts", i, w.Word)
		require.GreaterOrEqual(t, w.Start, 0.0, "word %d (%q) starts before zero", i, w.Word)
		if i+1 < len(words) {
			require.LessOrEqual(t, w.End, words[i+1].Start, "word %d (%q) overlaps the next word", i, w.Word)
		}
	}
}
