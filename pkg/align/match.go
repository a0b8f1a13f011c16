package align

import (
	"strings"
	"unicode/utf8"
)

const matchTrim = ".,!?;:'\"()-$"

// normalizeMatchWord lowercases w and trims surrounding punctuation.
func normalizeMatchWord(w string) string {
	return strings.Trim(strings.ToLower(strings.TrimSpace(w)), matchTrim)
}

// MatchWords assigns recognizer word timings to the words of a known
// transcript. Recognized words are consumed left to right: an exact match
// (or one differing only in trailing "l"s) takes one word; otherwise
// following fragments are concatenated until the text matches or grows five
// characters past the original, and a failed search falls back to the
// current recognized word. Original words left over after the recognizer
// output is exhausted get cfg.SyntheticWordDuration after the last end. The
// output has one timing per original word and goes through RepairGaps.
func MatchWords(original []string, recognized []WordTiming, cfg RepairConfig) ([]WordTiming, int) {
	out := make([]WordTiming, 0, len(original))
	idx := 0

	for _, word := range original {
		orig := normalizeMatchWord(word)

		if idx >= len(recognized) {
			start := 0.0
			if len(out) > 0 {
				start = out[len(out)-1].End
			}
			out = append(out, WordTiming{Word: word, Start: start, End: start + cfg.SyntheticWordDuration})
			continue
		}

		cur := normalizeMatchWord(recognized[idx].Word)
		if orig == cur || strings.TrimRight(orig, "l") == strings.TrimRight(cur, "l") {
			out = append(out, WordTiming{Word: word, Start: recognized[idx].Start, End: recognized[idx].End})
			idx++
			continue
		}

		combined := cur
		start, end := recognized[idx].Start, recognized[idx].End
		consumed := 1
		found := false
		limit := utf8.RuneCountInString(orig) + 5

		for idx+consumed < len(recognized) && utf8.RuneCountInString(combined) < limit {
			next := recognized[idx+consumed]
			combined += normalizeMatchWord(next.Word)
			end = next.End
			consumed++

			if combined == orig || strings.Contains(combined, orig) || strings.Contains(orig, combined) {
				found = true
				break
			}
		}

		if found {
			out = append(out, WordTiming{Word: word, Start: start, End: end})
			idx += consumed
			continue
		}
		out = append(out, WordTiming{Word: word, Start: recognized[idx].Start, End: recognized[idx].End})
		idx++
	}

	repaired := RepairGaps(out, cfg)
	return out, repaired
}
