package align

import "unicode"

// Token is one vocabulary symbol derived from the transcript, together with
// the position of the character that produced it.
type Token struct {
	Symbol int // index into the emission matrix columns
	Word   int // index of the source word
	Char   int // rune index of the source character within its word
}

// Tokenize maps words to a flat token sequence. Each character is uppercased
// and looked up in vocab; characters the vocabulary cannot represent are
// dropped. counts[i] is the number of tokens word i contributed and may be
// zero.
func Tokenize(words []string, vocab *Vocabulary) (tokens []Token, counts []int) {
	counts = make([]int, len(words))
	for w, word := range words {
		c := 0
		for _, r := range word {
			if sym, ok := vocab.Lookup(unicode.ToUpper(r)); ok {
				tokens = append(tokens, Token{Symbol: sym, Word: w, Char: c})
				counts[w]++
			}
			c++
		}
	}
	return tokens, counts
}
