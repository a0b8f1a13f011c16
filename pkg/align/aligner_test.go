package align

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSampleRate = 16000
	// 0.1s per frame for a 100 frame matrix
	testSampleCount = 160000
)

func TestAlignScenarioWithDigits(t *testing.T) {
	v := DefaultVocabulary()
	spans := append(wordSpans(0, 10, "HI"), wordSpans(20, 8, "THERE")...)
	em := buildEmission(t, v, 100, spans)

	a := NewAligner(v, DefaultConfig())
	res, err := a.Align(Request{
		Words:       []string{"HI", "THERE", "42"},
		Emission:    em,
		SampleCount: testSampleCount,
		SampleRate:  testSampleRate,
	})
	require.NoError(t, err)
	require.Len(t, res.Words, 3)

	assert.Equal(t, "HI", res.Words[0].Word)
	assert.InDelta(t, 0.0, res.Words[0].Start, 1e-9)
	assert.InDelta(t, 2.0, res.Words[0].End, 1e-9)

	assert.Equal(t, "THERE", res.Words[1].Word)
	assert.InDelta(t, 2.0, res.Words[1].Start, 1e-9)
	assert.InDelta(t, 6.0, res.Words[1].End, 1e-9)

	assert.Equal(t, "42", res.Words[2].Word)
	assert.InDelta(t, 6.0, res.Words[2].Start, 1e-9)
	assert.InDelta(t, 6.2, res.Words[2].End, 1e-9)

	assert.Equal(t, 1, res.Repaired)
	assert.Zero(t, res.Extrapolated)
	assert.Empty(t, res.Warnings)
	assert.Equal(t, 100, res.Frames)
	assert.Equal(t, 7, res.Tokens)
	assertMonotonic(t, res.Words)
}

func TestAlignSingleCharacter(t *testing.T) {
	tests := []struct {
		name string
		peak span
	}{
		{name: "sharp_peak", peak: span{from: 5, to: 8, label: "A"}},
		{name: "flat_peak", peak: span{from: 5, to: 8, label: "A", flat: true}},
	}

	v := DefaultVocabulary()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			em := buildEmission(t, v, 20, []span{tt.peak})

			res, err := NewAligner(v, DefaultConfig()).Align(Request{
				Words:       []string{"a"},
				Emission:    em,
				SampleCount: 20 * 320,
				SampleRate:  testSampleRate,
			})
			require.NoError(t, err)
			require.Len(t, res.Words, 1)

			// 20ms frames, the segment covers every peak frame
			assert.InDelta(t, 0.10, res.Words[0].Start, 1e-9)
			assert.InDelta(t, 0.16, res.Words[0].End, 1e-9)
			assert.Zero(t, res.Repaired)
		})
	}
}

func TestAlignLeadingOutOfVocabularyWord(t *testing.T) {
	v := DefaultVocabulary()
	spans := append(wordSpans(0, 10, "HI"), wordSpans(20, 8, "THERE")...)
	em := buildEmission(t, v, 100, spans)

	res, err := NewAligner(v, DefaultConfig()).Align(Request{
		Words:       []string{"42", "HI", "THERE"},
		Emission:    em,
		SampleCount: testSampleCount,
		SampleRate:  testSampleRate,
	})
	require.NoError(t, err)
	require.Len(t, res.Words, 3)

	// "42" has no frames, so it is anchored at zero and pushes the rest forward
	assert.InDelta(t, 0.0, res.Words[0].Start, 1e-9)
	assert.InDelta(t, 0.2, res.Words[0].End, 1e-9)
	assert.InDelta(t, 0.2, res.Words[1].Start, 1e-9)
	assert.InDelta(t, 2.2, res.Words[1].End, 1e-9)
	assert.InDelta(t, 2.2, res.Words[2].Start, 1e-9)
	assert.InDelta(t, 6.2, res.Words[2].End, 1e-9)
	assert.Equal(t, 1, res.Repaired)
	assertMonotonic(t, res.Words)
}

func TestAlignOutOfVocabularyWordBetweenNeighbours(t *testing.T) {
	v := DefaultVocabulary()
	spans := append(wordSpans(0, 4, "HELLO"), wordSpans(20, 4, "WORLD")...)
	em := buildEmission(t, v, 60, spans)

	res, err := NewAligner(v, DefaultConfig()).AlignText("Hello, $42 world!", em, 60*1600, testSampleRate)
	require.NoError(t, err)
	require.Len(t, res.Words, 3)
	assert.Equal(t, []string{"Hello,", "$42", "world!"}, []string{res.Words[0].Word, res.Words[1].Word, res.Words[2].Word})

	// 0.1s frames: HELLO [0,2), $42 synthetic at 2.0, WORLD originally [2,4)
	assert.InDelta(t, 2.0, res.Words[0].End, 1e-9)
	assert.InDelta(t, 2.0, res.Words[1].Start, 1e-9)
	assert.InDelta(t, 0.2, res.Words[1].Duration(), 1e-9)
	assert.InDelta(t, 2.2, res.Words[2].Start, 1e-9)
	assert.InDelta(t, 4.2, res.Words[2].End, 1e-9)
	assert.Equal(t, 1, res.Repaired)
	assertMonotonic(t, res.Words)
}

func TestAlignIsDeterministic(t *testing.T) {
	v := DefaultVocabulary()
	em := buildEmission(t, v, 80, wordSpans(3, 5, "SAME", "INPUT"))
	a := NewAligner(v, DefaultConfig())

	req := Request{Words: []string{"same", "input", "#1"}, Emission: em, SampleCount: 80 * 320, SampleRate: testSampleRate}
	first, err := a.Align(req)
	require.NoError(t, err)
	second, err := a.Align(req)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestAlignMoreTokensThanFrames(t *testing.T) {
	v := DefaultVocabulary()
	em := buildEmission(t, v, 4, nil)

	res, err := NewAligner(v, DefaultConfig()).Align(Request{
		Words:       []string{"far", "too", "many", "letters"},
		Emission:    em,
		SampleCount: 4 * 320,
		SampleRate:  testSampleRate,
	})
	require.NoError(t, err)
	require.Len(t, res.Words, 4)
	assert.True(t, res.HasWarning(WarnGeometricInfeasible))
	assert.Greater(t, res.Extrapolated, 0)
	assert.True(t, res.HasWarning(WarnExtrapolated))
	assertMonotonic(t, res.Words)
}

func TestAlignInputErrors(t *testing.T) {
	v := DefaultVocabulary()
	em := buildEmission(t, v, 10, nil)

	tests := []struct {
		name string
		req  Request
		cfg  Config
		want error
	}{
		{
			name: "empty_transcript",
			req:  Request{Emission: em, SampleCount: 1600, SampleRate: testSampleRate},
			want: ErrEmptyTranscript,
		},
		{
			name: "nil_emission",
			req:  Request{Words: []string{"hi"}, SampleCount: 1600, SampleRate: testSampleRate},
			want: ErrEmptyEmission,
		},
		{
			name: "empty_emission",
			req:  Request{Words: []string{"hi"}, Emission: &EmissionMatrix{}, SampleCount: 1600, SampleRate: testSampleRate},
			want: ErrEmptyEmission,
		},
		{
			name: "malformed_emission",
			req:  Request{Words: []string{"hi"}, Emission: &EmissionMatrix{Frames: 2, Symbols: 29, Data: make([]float64, 3)}, SampleCount: 1600, SampleRate: testSampleRate},
			want: ErrMalformedEmission,
		},
		{
			name: "narrow_emission",
			req:  Request{Words: []string{"hi"}, Emission: NewEmissionMatrix([][]float64{{0, -1}, {0, -1}}), SampleCount: 1600, SampleRate: testSampleRate},
			want: ErrSymbolOutOfRange,
		},
		{
			name: "only_unknown_characters",
			req:  Request{Words: []string{"42", "$%"}, Emission: em, SampleCount: 1600, SampleRate: testSampleRate},
			want: ErrNoAlignableTokens,
		},
		{
			name: "zero_sample_rate",
			req:  Request{Words: []string{"hi"}, Emission: em, SampleCount: 1600},
			want: ErrInvalidAudio,
		},
		{
			name: "trellis_over_limit",
			req:  Request{Words: []string{"hello"}, Emission: em, SampleCount: 1600, SampleRate: testSampleRate},
			cfg:  Config{MaxTrellisCells: 10, FallbackFrames: 10, Repair: DefaultRepairConfig()},
			want: ErrTrellisTooLarge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			if cfg == (Config{}) {
				cfg = DefaultConfig()
			}
			res, err := NewAligner(v, cfg).Align(tt.req)
			assert.Nil(t, res)
			assert.ErrorIs(t, err, tt.want)
			assert.True(t, IsInputError(err))
		})
	}
}

func TestAlignMonotonicOnRandomEmissions(t *testing.T) {
	v := DefaultVocabulary()
	a := NewAligner(v, DefaultConfig())
	rng := rand.New(rand.NewSource(7))
	vocabWords := []string{"the", "cost", "was", "$42", "99%", "on", "3rd", "street", "ok", "--", "it's"}

	for i := 0; i < 50; i++ {
		frames := 5 + rng.Intn(120)
		rows := make([][]float64, frames)
		for f := range rows {
			row := make([]float64, v.Size())
			for k := range row {
				row[k] = -rng.Float64() * 8
			}
			logSoftmax(row)
			rows[f] = row
		}

		n := 1 + rng.Intn(8)
		words := make([]string, n)
		for w := range words {
			words[w] = vocabWords[rng.Intn(len(vocabWords))]
		}
		words[0] = "start"

		res, err := a.Align(Request{Words: words, Emission: NewEmissionMatrix(rows), SampleCount: frames * 320, SampleRate: testSampleRate})
		require.NoError(t, err, "case %d: %s", i, strings.Join(words, " "))
		require.Len(t, res.Words, n)
		for w := range words {
			assert.Equal(t, words[w], res.Words[w].Word)
		}
		assertMonotonic(t, res.Words)
	}
}
