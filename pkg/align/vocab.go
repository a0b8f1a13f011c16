package align

import (
	"encoding/json"
	"fmt"
	"os"
	"unicode/utf8"
)

// DefaultLabels is the character set of the wav2vec2 English CTC models
// (torchaudio WAV2VEC2_ASR_*_960H). Index 0 is the blank symbol and "|" is
// the word delimiter.
var DefaultLabels = []string{
	"-", "|", "E", "T", "A", "O", "I", "N", "S", "H", "R", "D", "L", "U", "M",
	"W", "C", "F", "G", "Y", "P", "B", "V", "K", "'", "X", "J", "Q", "Z",
}

// Vocabulary is a fixed bijection between characters and emission symbol
// indices. It is immutable after construction and safe for concurrent use.
type Vocabulary struct {
	labels []string
	index  map[rune]int
	blank  int
}

// NewVocabulary builds a vocabulary from labels ordered by symbol index.
// Only single-character labels are reachable from transcript text; longer
// labels such as "<pad>" or "<unk>" occupy an index but never match.
func NewVocabulary(labels []string, blank int) (*Vocabulary, error) {
	if len(labels) == 0 {
		return nil, fmt.Errorf("vocabulary has no labels")
	}
	if blank < 0 || blank >= len(labels) {
		return nil, fmt.Errorf("blank index %d out of range [0,%d)", blank, len(labels))
	}

	v := &Vocabulary{
		labels: append([]string(nil), labels...),
		index:  make(map[rune]int, len(labels)),
		blank:  blank,
	}
	for i, label := range labels {
		if i == blank || utf8.RuneCountInString(label) != 1 {
			continue
		}
		r, _ := utf8.DecodeRuneInString(label)
		if prev, dup := v.index[r]; dup {
			return nil, fmt.Errorf("label %q appears at both %d and %d", label, prev, i)
		}
		v.index[r] = i
	}
	return v, nil
}

// DefaultVocabulary returns the built-in wav2vec2 English vocabulary.
func DefaultVocabulary() *Vocabulary {
	v, err := NewVocabulary(DefaultLabels, 0)
	if err != nil {
		panic(err)
	}
	return v
}

// LoadVocabulary reads a Hugging Face style vocab.json mapping labels to
// symbol indices, e.g. {"<pad>": 0, "|": 4, "E": 5}. The blank label is
// resolved by name; "<pad>" and "-" are tried when blankLabel is empty.
func LoadVocabulary(path, blankLabel string) (*Vocabulary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading vocabulary: %w", err)
	}

	var raw map[string]int
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing vocabulary JSON: %w", err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("vocabulary %s is empty", path)
	}

	maxID := -1
	for label, id := range raw {
		if id < 0 {
			return nil, fmt.Errorf("invalid symbol index %d for %q", id, label)
		}
		if id > maxID {
			maxID = id
		}
	}

	labels := make([]string, maxID+1)
	for label, id := range raw {
		if labels[id] != "" {
			return nil, fmt.Errorf("symbol index %d assigned to both %q and %q", id, labels[id], label)
		}
		labels[id] = label
	}

	candidates := []string{blankLabel}
	if blankLabel == "" {
		candidates = []string{"<pad>", "-"}
	}
	for _, c := range candidates {
		if id, ok := raw[c]; ok {
			return NewVocabulary(labels, id)
		}
	}
	return nil, fmt.Errorf("blank label %q not found in %s", candidates[0], path)
}

// Blank returns the index of the blank symbol.
func (v *Vocabulary) Blank() int { return v.blank }

// Size returns the number of symbols, blank included.
func (v *Vocabulary) Size() int { return len(v.labels) }

// Label returns the label for a symbol index.
func (v *Vocabulary) Label(i int) string {
	if i < 0 || i >= len(v.labels) {
		return ""
	}
	return v.labels[i]
}

// Lookup returns the symbol index for a character. The blank symbol is never
// returned.
func (v *Vocabulary) Lookup(r rune) (int, bool) {
	i, ok := v.index[r]
	return i, ok
}
