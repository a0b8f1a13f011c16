package align

// WordTiming is the aligned time interval of one transcript word, in seconds.
type WordTiming struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Duration returns End - Start.
func (w WordTiming) Duration() float64 { return w.End - w.Start }

// RepairConfig controls gap repair.
type RepairConfig struct {
	// MinWordDuration is the duration below which a word counts as failed.
	MinWordDuration float64
	// SyntheticWordDuration is assigned to each failed word.
	SyntheticWordDuration float64
}

// DefaultRepairConfig returns the thresholds used by the service.
func DefaultRepairConfig() RepairConfig {
	return RepairConfig{
		MinWordDuration:       0.05,
		SyntheticWordDuration: 0.2,
	}
}

// RepairGaps rewrites words in place so that every word has a plausible
// duration and the sequence is ordered and non-overlapping. Each maximal run
// of n words shorter than MinWordDuration is laid out back to back after the
// previous word's end, n*SyntheticWordDuration in total. When that runs past
// the next good word's start, that word and everything after it moves
// forward by the difference. Words only ever move forward. It returns the
// number of words that were given synthetic durations.
func RepairGaps(words []WordTiming, cfg RepairConfig) int {
	degenerate := func(w WordTiming) bool {
		return w.End-w.Start < cfg.MinWordDuration
	}

	repaired := 0
	shift := 0.0
	prevEnd, havePrev := 0.0, false

	for i := 0; i < len(words); {
		if !degenerate(words[i]) {
			words[i].Start += shift
			words[i].End += shift
			if havePrev && words[i].Start < prevEnd {
				d := prevEnd - words[i].Start
				words[i].Start += d
				words[i].End += d
				shift += d
			}
			prevEnd, havePrev = words[i].End, true
			i++
			continue
		}

		j := i
		for j < len(words) && degenerate(words[j]) {
			j++
		}

		anchor := prevEnd
		if !havePrev {
			anchor = words[i].Start + shift
			if anchor < 0 {
				anchor = 0
			}
		}
		for k := i; k < j; k++ {
			words[k].Start = anchor + float64(k-i)*cfg.SyntheticWordDuration
			words[k].End = words[k].Start + cfg.SyntheticWordDuration
		}
		needed := words[j-1].End

		if j < len(words) {
			if next := words[j].Start + shift; needed > next {
				shift += needed - next
			}
		}

		repaired += j - i
		prevEnd, havePrev = needed, true
		i = j
	}
	return repaired
}
