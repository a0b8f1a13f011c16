package align

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRepairGaps(t *testing.T) {
	tests := []struct {
		name     string
		in       []WordTiming
		want     []WordTiming
		repaired int
	}{
		{
			name: "nothing_degenerate",
			in:   []WordTiming{{"a", 0, 0.5}, {"b", 0.6, 1.0}},
			want: []WordTiming{{"a", 0, 0.5}, {"b", 0.6, 1.0}},
		},
		{
			name:     "trailing_degenerate",
			in:       []WordTiming{{"a", 0, 0.5}, {"42", 0.5, 0.5}},
			want:     []WordTiming{{"a", 0, 0.5}, {"42", 0.5, 0.7}},
			repaired: 1,
		},
		{
			name:     "gap_absorbs_synthetic_words",
			in:       []WordTiming{{"a", 0, 0.5}, {"1", 0.5, 0.5}, {"2", 0.5, 0.52}, {"b", 1.2, 1.5}},
			want:     []WordTiming{{"a", 0, 0.5}, {"1", 0.5, 0.7}, {"2", 0.7, 0.9}, {"b", 1.2, 1.5}},
			repaired: 2,
		},
		{
			name: "partial_gap_shifts_rest_forward",
			in: []WordTiming{
				{"a", 0, 0.5}, {"1", 0.5, 0.5}, {"2", 0.5, 0.5}, {"b", 0.6, 1.0}, {"c", 1.0, 1.4},
			},
			want: []WordTiming{
				{"a", 0, 0.5}, {"1", 0.5, 0.7}, {"2", 0.7, 0.9}, {"b", 0.9, 1.3}, {"c", 1.3, 1.7},
			},
			repaired: 2,
		},
		{
			name: "separate_runs",
			in: []WordTiming{
				{"1", 0.3, 0.3}, {"a", 0.3, 0.8}, {"2", 0.8, 0.8}, {"b", 0.8, 1.2},
			},
			want: []WordTiming{
				{"1", 0.3, 0.5}, {"a", 0.5, 1.0}, {"2", 1.0, 1.2}, {"b", 1.2, 1.6},
			},
			repaired: 2,
		},
		{
			name:     "leading_degenerate_anchors_at_zero",
			in:       []WordTiming{{"42", 0, 0}, {"a", 0, 0.5}, {"b", 0.6, 1.0}},
			want:     []WordTiming{{"42", 0, 0.2}, {"a", 0.2, 0.7}, {"b", 0.8, 1.2}},
			repaired: 1,
		},
		{
			name: "overlap_is_pushed_forward",
			in:   []WordTiming{{"a", 0, 0.6}, {"b", 0.4, 0.9}},
			want: []WordTiming{{"a", 0, 0.6}, {"b", 0.6, 1.1}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			words := append([]WordTiming(nil), tt.in...)
			n := RepairGaps(words, DefaultRepairConfig())

			assert.Equal(t, tt.repaired, n)
			assert.Len(t, words, len(tt.want))
			for i := range tt.want {
				assert.Equal(t, tt.want[i].Word, words[i].Word)
				assert.InDelta(t, tt.want[i].Start, words[i].Start, 1e-9, "start of %q", words[i].Word)
				assert.InDelta(t, tt.want[i].End, words[i].End, 1e-9, "end of %q", words[i].Word)
			}
			assertMonotonic(t, words)
		})
	}
}
