// Package emission supplies CTC emission matrices for alignment, either by
// running an acoustic model or by reading precomputed matrices.
package emission

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"

	"github.com/fankserver/voice-align-mcp/pkg/align"
)

// Emissions is an emission matrix with the audio geometry it was computed
// from.
type Emissions struct {
	Matrix      *align.EmissionMatrix
	SampleCount int
	SampleRate  int

	// Labels names each symbol column when the source knows them.
	Labels []string
}

// Vocabulary builds a vocabulary from Labels, or returns fallback when the
// source did not report any.
func (e *Emissions) Vocabulary(fallback *align.Vocabulary) (*align.Vocabulary, error) {
	if len(e.Labels) == 0 {
		return fallback, nil
	}
	for i, l := range e.Labels {
		if l == "-" || l == "<pad>" {
			return align.NewVocabulary(e.Labels, i)
		}
	}
	return nil, fmt.Errorf("emission labels have no blank symbol")
}

// Source produces emissions for an audio file.
type Source interface {
	Emissions(ctx context.Context, path string) (*Emissions, error)
	Name() string
	Close() error
}

// fileFormat is the JSON layout shared by emission files and the wav2vec2
// script output.
type fileFormat struct {
	SampleCount int         `json:"sample_count"`
	SampleRate  int         `json:"sample_rate"`
	Labels      []string    `json:"labels,omitempty"`
	Emission    [][]float64 `json:"emission"`
	Error       string      `json:"error,omitempty"`
}

// Decode parses the emission JSON format.
func Decode(data []byte) (*Emissions, error) {
	var f fileFormat
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing emission JSON: %w", err)
	}
	if f.Error != "" {
		return nil, fmt.Errorf("emission backend: %s", f.Error)
	}

	return FromRows(f.Emission, f.SampleCount, f.SampleRate, f.Labels)
}

// FromRows validates a row-per-frame matrix and wraps it as Emissions.
func FromRows(rows [][]float64, sampleCount, sampleRate int, labels []string) (*Emissions, error) {
	var width int
	for t, row := range rows {
		if t == 0 {
			width = len(row)
		}
		if len(row) != width || width == 0 {
			return nil, fmt.Errorf("%w: row %d has %d symbols, want %d", align.ErrMalformedEmission, t, len(row), width)
		}
		for k, v := range row {
			if math.IsNaN(v) {
				return nil, fmt.Errorf("%w: NaN at frame %d symbol %d", align.ErrMalformedEmission, t, k)
			}
		}
	}
	if len(labels) > 0 && width > 0 && len(labels) != width {
		return nil, fmt.Errorf("%w: %d labels for %d symbols", align.ErrMalformedEmission, len(labels), width)
	}

	return &Emissions{
		Matrix:      align.NewEmissionMatrix(rows),
		SampleCount: sampleCount,
		SampleRate:  sampleRate,
		Labels:      labels,
	}, nil
}

// Encode writes emissions in the format Decode reads.
func Encode(e *Emissions) ([]byte, error) {
	rows := make([][]float64, e.Matrix.Frames)
	for t := range rows {
		rows[t] = e.Matrix.Row(t)
	}
	return json.Marshal(fileFormat{
		SampleCount: e.SampleCount,
		SampleRate:  e.SampleRate,
		Labels:      e.Labels,
		Emission:    rows,
	})
}

// FileSource reads precomputed emission matrices from JSON files.
type FileSource struct{}

func (FileSource) Emissions(ctx context.Context, path string) (*Emissions, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading emission file: %w", err)
	}
	return Decode(data)
}

func (FileSource) Name() string { return "file" }

func (FileSource) Close() error { return nil }

// StaticSource returns the same emissions for every path.
type StaticSource struct {
	Result *Emissions
	Err    error
}

func (s *StaticSource) Emissions(ctx context.Context, path string) (*Emissions, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	return s.Result, nil
}

func (s *StaticSource) Name() string { return "static" }

func (s *StaticSource) Close() error { return nil }
