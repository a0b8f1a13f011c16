package align

import "math"

// EmissionMatrix holds per-frame log-probabilities over the vocabulary,
// stored row-major: At(t, k) = Data[t*Symbols+k].
type EmissionMatrix struct {
	Frames  int
	Symbols int
	Data    []float64
}

// NewEmissionMatrix copies rows into a flat matrix. All rows must have the
// same length.
func NewEmissionMatrix(rows [][]float64) *EmissionMatrix {
	if len(rows) == 0 {
		return &EmissionMatrix{}
	}
	k := len(rows[0])
	m := &EmissionMatrix{Frames: len(rows), Symbols: k, Data: make([]float64, len(rows)*k)}
	for t, row := range rows {
		copy(m.Data[t*k:(t+1)*k], row)
	}
	return m
}

// At returns the log-probability of symbol k at frame t.
func (m *EmissionMatrix) At(t, k int) float64 {
	return m.Data[t*m.Symbols+k]
}

// Row returns the emission row for frame t.
func (m *EmissionMatrix) Row(t int) []float64 {
	return m.Data[t*m.Symbols : (t+1)*m.Symbols]
}

// Trellis is the (T+1) x (J+1) table of best cumulative log-probabilities:
// cell (t, j) scores having emitted the first j tokens after t frames.
type Trellis struct {
	Frames int // T
	Tokens int // J
	cells  []float64
}

func (tr *Trellis) at(t, j int) float64 {
	return tr.cells[t*(tr.Tokens+1)+j]
}

// Score returns the best cumulative log-probability of cell (t, j).
func (tr *Trellis) Score(t, j int) float64 {
	return tr.at(t, j)
}

// Final returns the score of the terminal cell (T, J).
func (tr *Trellis) Final() float64 {
	return tr.at(tr.Frames, tr.Tokens)
}

// BuildTrellis runs the CTC forced-alignment recurrence. Staying on a token
// consumes a blank; advancing consumes the next token's symbol. Ties keep
// the stay score. J > T is not rejected: the terminal cell is then -Inf.
func BuildTrellis(em *EmissionMatrix, tokens []Token, blank int) *Trellis {
	T := em.Frames
	J := len(tokens)
	width := J + 1

	tr := &Trellis{Frames: T, Tokens: J, cells: make([]float64, (T+1)*width)}
	negInf := math.Inf(-1)
	for j := 1; j <= J; j++ {
		tr.cells[j] = negInf
	}

	for t := 0; t < T; t++ {
		row := em.Row(t)
		pBlank := row[blank]
		prev := tr.cells[t*width : (t+1)*width]
		curr := tr.cells[(t+1)*width : (t+2)*width]

		curr[0] = prev[0] + pBlank
		for j := 0; j < J; j++ {
			stay := prev[j+1] + pBlank
			advance := prev[j] + row[tokens[j].Symbol]
			if advance > stay {
				curr[j+1] = advance
			} else {
				curr[j+1] = stay
			}
		}
	}
	return tr
}
