// Package transcriber wraps speech-to-text backends that produce
// whisper-style segments with word timings.
package transcriber

import (
	"context"
	"strings"

	"github.com/fankserver/voice-align-mcp/pkg/align"
)

// PromptWordCount is the number of trailing words of a known transcript
// passed to the recognizer as its initial prompt.
const PromptWordCount = 30

// Segment is one recognized utterance.
type Segment struct {
	Start float64            `json:"start"`
	End   float64            `json:"end"`
	Text  string             `json:"text"`
	Words []align.WordTiming `json:"words,omitempty"`
}

// Options tune a single transcription.
type Options struct {
	// Language hint (e.g. "en"); empty or "auto" lets the model detect it.
	Language string

	// InitialPrompt biases the decoder toward expected vocabulary.
	InitialPrompt string
}

// Transcriber is the unified interface for all transcription backends.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string, opts Options) ([]Segment, error)

	// Name identifies the loaded model, e.g. for health checks.
	Name() string

	IsReady() bool
	Close() error
}

// Words flattens the word timings of all segments in order.
func Words(segments []Segment) []align.WordTiming {
	var words []align.WordTiming
	for _, seg := range segments {
		words = append(words, seg.Words...)
	}
	return words
}

// PromptFromText returns the last PromptWordCount words of text.
func PromptFromText(text string) string {
	words := strings.Fields(text)
	if len(words) > PromptWordCount {
		words = words[len(words)-PromptWordCount:]
	}
	return strings.Join(words, " ")
}

// MockTranscriber returns canned segments without running a model.
type MockTranscriber struct {
	Segments []Segment
	Err      error
}

func (mt *MockTranscriber) Transcribe(ctx context.Context, audioPath string, opts Options) ([]Segment, error) {
	if mt.Err != nil {
		return nil, mt.Err
	}
	return append([]Segment(nil), mt.Segments...), nil
}

func (mt *MockTranscriber) Name() string { return "mock" }

func (mt *MockTranscriber) IsReady() bool { return true }

func (mt *MockTranscriber) Close() error { return nil }
