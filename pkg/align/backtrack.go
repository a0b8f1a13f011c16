package align

// PathPoint is the label of one emission frame on the best path. Token is
// the index into the token sequence the frame belongs to (-1 before the
// first token), Symbol is what the frame emits: the token's symbol for the
// frame that advances to it and for contiguous repeats, blank otherwise.
type PathPoint struct {
	Frame  int
	Token  int
	Symbol int
}

// Backtrack walks the trellis from (T, J) back to the first frame and
// returns one PathPoint per frame in increasing frame order. On ties the
// walk advances the token index.
func Backtrack(tr *Trellis, em *EmissionMatrix, tokens []Token, blank int) []PathPoint {
	path := make([]PathPoint, tr.Frames)

	t, j := tr.Frames, tr.Tokens
	for ; t > 0 && j > 0; t-- {
		stayed := tr.at(t-1, j) + em.At(t-1, blank)
		changed := tr.at(t-1, j-1) + em.At(t-1, tokens[j-1].Symbol)
		if changed >= stayed {
			path[t-1] = PathPoint{Frame: t - 1, Token: j - 1, Symbol: tokens[j-1].Symbol}
			j--
		} else {
			path[t-1] = PathPoint{Frame: t - 1, Token: j - 1, Symbol: blank}
		}
	}
	for ; t > 0; t-- {
		path[t-1] = PathPoint{Frame: t - 1, Token: -1, Symbol: blank}
	}

	labelRepeats(path, em, tokens, blank)
	return path
}

// labelRepeats relabels "stay" frames around each token's emission as
// repeats of that token while the token outscores blank. Forward, the first
// blank-dominated frame closes the token. Backward, frames before the
// advance frame are claimed down to the previous token's segment, so a flat
// peak whose last frame took the advance keeps its earlier frames.
func labelRepeats(path []PathPoint, em *EmissionMatrix, tokens []Token, blank int) {
	open := -1
	for i := range path {
		p := &path[i]
		if p.Token < 0 {
			continue
		}
		if p.Symbol != blank {
			if p.Token != open {
				open = p.Token
				continue
			}
		}
		sym := tokens[p.Token].Symbol
		if p.Token == open && em.At(p.Frame, sym) > em.At(p.Frame, blank) {
			p.Symbol = sym
			continue
		}
		open = -1
	}

	for i := range path {
		if path[i].Symbol == blank || (i > 0 && path[i-1].Symbol != blank && path[i-1].Token == path[i].Token) {
			continue
		}
		tok, sym := path[i].Token, path[i].Symbol
		for f := i - 1; f >= 0 && path[f].Symbol == blank && em.At(f, sym) > em.At(f, blank); f-- {
			path[f] = PathPoint{Frame: f, Token: tok, Symbol: sym}
		}
	}
}
