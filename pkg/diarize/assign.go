// Package diarize labels transcript segments with speakers from a
// diarization timeline.
package diarize

import (
	"sort"

	"github.com/fankserver/voice-align-mcp/pkg/align"
	"github.com/fankserver/voice-align-mcp/pkg/transcriber"
)

// Unknown labels a segment whose midpoint falls in no speaker turn.
const Unknown = "UNKNOWN"

// Turn is one diarization interval attributed to a speaker.
type Turn struct {
	Speaker string  `json:"speaker"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
}

// SpeakerSegment is a transcript segment with the speaker talking at its midpoint.
type SpeakerSegment struct {
	Speaker string             `json:"speaker"`
	Start   float64            `json:"start"`
	End     float64            `json:"end"`
	Text    string             `json:"text"`
	Words   []align.WordTiming `json:"words,omitempty"`
}

// SpeakerWord is a word timing with the speaker talking at its midpoint.
type SpeakerWord struct {
	align.WordTiming
	Speaker string `json:"speaker"`
}

// Timeline is a diarization result prepared for midpoint lookups.
type Timeline struct {
	turns []Turn
}

// NewTimeline copies turns and orders them by start time. Turns may overlap
// or leave gaps; equal starts keep their input order.
func NewTimeline(turns []Turn) *Timeline {
	sorted := append([]Turn(nil), turns...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })
	return &Timeline{turns: sorted}
}

// SpeakerAt returns the speaker of the first turn, by start time, whose
// closed interval contains t, or Unknown.
func (tl *Timeline) SpeakerAt(t float64) string {
	// turns starting after t cannot contain it
	n := sort.Search(len(tl.turns), func(i int) bool { return tl.turns[i].Start > t })
	for _, turn := range tl.turns[:n] {
		if t <= turn.End {
			return turn.Speaker
		}
	}
	return Unknown
}

// Speakers returns the distinct speaker labels in order of first appearance.
func (tl *Timeline) Speakers() []string {
	seen := make(map[string]bool)
	var out []string
	for _, turn := range tl.turns {
		if !seen[turn.Speaker] {
			seen[turn.Speaker] = true
			out = append(out, turn.Speaker)
		}
	}
	return out
}

// AssignSpeakers labels each segment with the speaker at its midpoint.
func AssignSpeakers(segments []transcriber.Segment, turns []Turn) []SpeakerSegment {
	tl := NewTimeline(turns)
	out := make([]SpeakerSegment, len(segments))
	for i, seg := range segments {
		out[i] = SpeakerSegment{
			Speaker: tl.SpeakerAt((seg.Start + seg.End) / 2),
			Start:   seg.Start,
			End:     seg.End,
			Text:    seg.Text,
			Words:   seg.Words,
		}
	}
	return out
}

// AssignWordSpeakers labels each word with the speaker at its midpoint.
func AssignWordSpeakers(words []align.WordTiming, turns []Turn) []SpeakerWord {
	tl := NewTimeline(turns)
	out := make([]SpeakerWord, len(words))
	for i, w := range words {
		out[i] = SpeakerWord{WordTiming: w, Speaker: tl.SpeakerAt((w.Start + w.End) / 2)}
	}
	return out
}
