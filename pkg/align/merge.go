package align

// Segment is a contiguous frame range [Start, End) assigned to one token.
type Segment struct {
	Token int
	Start int
	End   int
}

// Len returns the number of frames in the segment.
func (s Segment) Len() int { return s.End - s.Start }

// MergeRepeats collapses consecutive frames labelled with the same non-blank
// token into segments, in frame order.
func MergeRepeats(path []PathPoint, blank int) []Segment {
	var segs []Segment
	cur, start := -1, 0
	for _, p := range path {
		label := -1
		if p.Symbol != blank {
			label = p.Token
		}
		if label == cur {
			continue
		}
		if cur >= 0 {
			segs = append(segs, Segment{Token: cur, Start: start, End: p.Frame})
		}
		cur, start = label, p.Frame
	}
	if cur >= 0 {
		segs = append(segs, Segment{Token: cur, Start: start, End: len(path)})
	}
	return segs
}

// WordSpan is the frame range [Start, End) covered by one word.
type WordSpan struct {
	Start        int
	End          int
	Extrapolated bool
}

// GroupWords regroups character segments into one span per word. A word that
// contributed no tokens gets a zero-width span at the previous word's end. A
// word whose tokens received no frames, which happens when the path ran out
// before reaching them, gets a synthetic span of fallbackFrames after the
// previous word and is marked Extrapolated.
func GroupWords(segs []Segment, tokens []Token, counts []int, fallbackFrames int) []WordSpan {
	spans := make([]WordSpan, len(counts))
	seen := make([]bool, len(counts))
	for _, s := range segs {
		w := tokens[s.Token].Word
		if !seen[w] {
			spans[w] = WordSpan{Start: s.Start, End: s.End}
			seen[w] = true
			continue
		}
		if s.Start < spans[w].Start {
			spans[w].Start = s.Start
		}
		if s.End > spans[w].End {
			spans[w].End = s.End
		}
	}

	prevEnd := 0
	for w := range spans {
		switch {
		case counts[w] == 0:
			spans[w] = WordSpan{Start: prevEnd, End: prevEnd}
		case !seen[w]:
			spans[w] = WordSpan{Start: prevEnd, End: prevEnd + fallbackFrames, Extrapolated: true}
		}
		prevEnd = spans[w].End
	}
	return spans
}
