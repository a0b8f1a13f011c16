package align

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMergeRepeats(t *testing.T) {
	path := []PathPoint{
		{Frame: 0, Token: -1, Symbol: 0},
		{Frame: 1, Token: 0, Symbol: 5},
		{Frame: 2, Token: 0, Symbol: 5},
		{Frame: 3, Token: 0, Symbol: 0},
		{Frame: 4, Token: 1, Symbol: 5},
		{Frame: 5, Token: 2, Symbol: 7},
		{Frame: 6, Token: 2, Symbol: 7},
	}

	segs := MergeRepeats(path, 0)
	assert.Equal(t, []Segment{
		{Token: 0, Start: 1, End: 3},
		{Token: 1, Start: 4, End: 5},
		{Token: 2, Start: 5, End: 7},
	}, segs)
	assert.Equal(t, 2, segs[0].Len())
}

func TestMergeRepeatsAllBlank(t *testing.T) {
	path := []PathPoint{{Frame: 0, Token: -1}, {Frame: 1, Token: -1}}
	assert.Empty(t, MergeRepeats(path, 0))
}

func TestGroupWords(t *testing.T) {
	tokens := []Token{
		{Symbol: 1, Word: 0}, {Symbol: 2, Word: 0, Char: 1},
		{Symbol: 3, Word: 2},
		{Symbol: 4, Word: 3},
	}
	counts := []int{2, 0, 1, 1}
	segs := []Segment{
		{Token: 0, Start: 2, End: 4},
		{Token: 1, Start: 4, End: 9},
		{Token: 2, Start: 12, End: 15},
	}

	spans := GroupWords(segs, tokens, counts, 10)
	assert.Equal(t, []WordSpan{
		{Start: 2, End: 9},
		{Start: 9, End: 9},
		{Start: 12, End: 15},
		{Start: 15, End: 25, Extrapolated: true},
	}, spans)
}
