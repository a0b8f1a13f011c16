// Package service runs one alignment, timestamp or speaker request end to
// end: audio preparation, collaborator calls and the alignment core.
package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/fankserver/voice-align-mcp/internal/audio"
	"github.com/fankserver/voice-align-mcp/pkg/align"
	"github.com/fankserver/voice-align-mcp/pkg/diarize"
	"github.com/fankserver/voice-align-mcp/pkg/emission"
	"github.com/fankserver/voice-align-mcp/pkg/transcriber"
	"github.com/sirupsen/logrus"
)

var (
	// ErrInvalidRequest marks malformed requests. It classifies as an
	// alignment input error.
	ErrInvalidRequest = fmt.Errorf("%w: invalid request", align.ErrInvalidInput)

	// ErrBackendUnavailable is returned when a request needs a backend that
	// is not configured.
	ErrBackendUnavailable = errors.New("backend not configured")

	// ErrNoWordsDetected is returned when the recognizer finds no words.
	ErrNoWordsDetected = errors.New("no words detected in audio")
)

// Backends are the external collaborators. Nil members disable the
// requests that need them.
type Backends struct {
	Emissions   emission.Source
	Transcriber transcriber.Transcriber
	Diarizer    diarize.Diarizer
	Converter   *audio.Converter
}

// Service executes requests. It is safe for concurrent use.
type Service struct {
	vocab    *align.Vocabulary
	config   align.Config
	aligner  *align.Aligner
	backends Backends
	files    emission.FileSource
	logger   *logrus.Entry
}

// New creates a service using vocab unless an emission source reports its
// own labels.
func New(vocab *align.Vocabulary, config align.Config, backends Backends) *Service {
	if backends.Converter == nil {
		backends.Converter = audio.NewConverter("", "")
	}
	return &Service{
		vocab:    vocab,
		config:   config,
		aligner:  align.NewAligner(vocab, config),
		backends: backends,
		logger:   logrus.WithField("component", "service"),
	}
}

// AlignRequest asks for word timings of a known transcript. Exactly one of
// AudioPath, EmissionPath or Emission supplies the acoustic evidence.
type AlignRequest struct {
	Text         string      `json:"text,omitempty"`
	Words        []string    `json:"words,omitempty"`
	AudioPath    string      `json:"audio_path,omitempty"`
	EmissionPath string      `json:"emission_path,omitempty"`
	Emission     [][]float64 `json:"emission,omitempty"`
	SampleCount  int         `json:"sample_count,omitempty"`
	SampleRate   int         `json:"sample_rate,omitempty"`
}

func (r AlignRequest) words() []string {
	if len(r.Words) > 0 {
		return r.Words
	}
	return strings.Fields(r.Text)
}

// Validate checks the request shape before it is queued.
func (r AlignRequest) Validate() error {
	if len(r.words()) == 0 {
		return align.ErrEmptyTranscript
	}
	sources := 0
	for _, set := range []bool{r.AudioPath != "", r.EmissionPath != "", len(r.Emission) > 0} {
		if set {
			sources++
		}
	}
	if sources != 1 {
		return fmt.Errorf("%w: exactly one of audio_path, emission_path or emission is required", ErrInvalidRequest)
	}
	return nil
}

// AlignResponse is the outcome of an alignment request.
type AlignResponse struct {
	Words        []align.WordTiming `json:"words"`
	Repaired     int                `json:"repaired"`
	Extrapolated int                `json:"extrapolated"`
	Warnings     []align.Warning    `json:"warnings,omitempty"`
	Frames       int                `json:"frames"`
	Tokens       int                `json:"tokens"`
	LatencyMS    float64            `json:"latency_ms"`
}

// Align runs CTC forced alignment for req.
func (s *Service) Align(ctx context.Context, req AlignRequest) (*AlignResponse, error) {
	start := time.Now()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	em, err := s.loadEmissions(ctx, req)
	if err != nil {
		return nil, err
	}
	sampleCount, sampleRate := em.SampleCount, em.SampleRate
	if req.SampleCount > 0 {
		sampleCount = req.SampleCount
	}
	if req.SampleRate > 0 {
		sampleRate = req.SampleRate
	}

	aligner := s.aligner
	if len(em.Labels) > 0 {
		vocab, err := em.Vocabulary(s.vocab)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", align.ErrMalformedEmission, err)
		}
		aligner = align.NewAligner(vocab, s.config)
	}

	// the DP pass itself is not interruptible
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res, err := aligner.Align(align.Request{
		Words:       req.words(),
		Emission:    em.Matrix,
		SampleCount: sampleCount,
		SampleRate:  sampleRate,
	})
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return &AlignResponse{
		Words:        res.Words,
		Repaired:     res.Repaired,
		Extrapolated: res.Extrapolated,
		Warnings:     res.Warnings,
		Frames:       res.Frames,
		Tokens:       res.Tokens,
		LatencyMS:    latencyMS(start),
	}, nil
}

func (s *Service) loadEmissions(ctx context.Context, req AlignRequest) (*emission.Emissions, error) {
	switch {
	case len(req.Emission) > 0:
		return emission.FromRows(req.Emission, req.SampleCount, req.SampleRate, nil)

	case req.EmissionPath != "":
		em, err := s.files.Emissions(ctx, req.EmissionPath)
		if err != nil {
			return nil, fmt.Errorf("emission source: %w", err)
		}
		return em, nil

	default:
		if s.backends.Emissions == nil {
			return nil, fmt.Errorf("%w: no emission backend for audio input", ErrBackendUnavailable)
		}
		prepared, err := s.backends.Converter.Prepare(ctx, req.AudioPath)
		if err != nil {
			return nil, err
		}
		defer s.closePrepared(prepared)

		em, err := s.backends.Emissions.Emissions(ctx, prepared.Path)
		if err != nil {
			return nil, fmt.Errorf("emission source: %w", err)
		}
		if em.SampleCount == 0 {
			// sources may share results between calls, so copy before filling in
			filled := *em
			filled.SampleCount = prepared.Info.SampleCount
			filled.SampleRate = prepared.Info.SampleRate
			em = &filled
		}
		return em, nil
	}
}

// TimestampsRequest asks for timings of original_text using the speech
// recognizer's word timestamps.
type TimestampsRequest struct {
	AudioPath    string `json:"audio_path"`
	OriginalText string `json:"original_text"`
	// UsePrompt passes the tail of the text to the recognizer as a prompt.
	UsePrompt bool `json:"use_prompt,omitempty"`
}

// Validate checks the request shape before it is queued.
func (r TimestampsRequest) Validate() error {
	if r.AudioPath == "" {
		return fmt.Errorf("%w: audio_path is required", ErrInvalidRequest)
	}
	return nil
}

// TimestampsResponse lists one timing per whitespace-separated word of the
// original text.
type TimestampsResponse struct {
	Words      []string  `json:"words"`
	StartTimes []float64 `json:"startTimes"`
	EndTimes   []float64 `json:"endTimes"`
	Repaired   int       `json:"repaired"`
	LatencyMS  float64   `json:"latency_ms"`
}

// Timestamps transcribes the audio and matches the recognized words to the
// original text.
func (s *Service) Timestamps(ctx context.Context, req TimestampsRequest) (*TimestampsResponse, error) {
	start := time.Now()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if _, err := os.Stat(req.AudioPath); err != nil {
		return nil, fmt.Errorf("audio file not found: %s: %w", req.AudioPath, err)
	}

	segments, err := s.transcribe(ctx, req.AudioPath, req.OriginalText, req.UsePrompt)
	if err != nil {
		return nil, err
	}
	recognized := transcriber.Words(segments)
	if len(recognized) == 0 {
		return nil, ErrNoWordsDetected
	}

	matched, repaired := align.MatchWords(strings.Fields(req.OriginalText), recognized, s.config.Repair)

	resp := &TimestampsResponse{
		Words:      make([]string, len(matched)),
		StartTimes: make([]float64, len(matched)),
		EndTimes:   make([]float64, len(matched)),
		Repaired:   repaired,
	}
	for i, w := range matched {
		resp.Words[i] = w.Word
		resp.StartTimes[i] = w.Start
		resp.EndTimes[i] = w.End
	}
	resp.LatencyMS = latencyMS(start)

	s.logger.WithFields(logrus.Fields{
		"words":      len(matched),
		"recognized": len(recognized),
		"repaired":   repaired,
		"duration":   time.Since(start),
	}).Debug("Timestamps matched")
	return resp, nil
}

// SpeakersRequest asks for speaker-labelled transcript segments. Turns, when
// given, replace the diarization backend.
type SpeakersRequest struct {
	AudioPath string         `json:"audio_path"`
	Turns     []diarize.Turn `json:"turns,omitempty"`
}

// Validate checks the request shape before it is queued.
func (r SpeakersRequest) Validate() error {
	if r.AudioPath == "" {
		return fmt.Errorf("%w: audio_path is required", ErrInvalidRequest)
	}
	return nil
}

// SpeakersResponse holds segment and word level speaker labels.
type SpeakersResponse struct {
	Segments  []diarize.SpeakerSegment `json:"segments"`
	Words     []diarize.SpeakerWord    `json:"words,omitempty"`
	Speakers  []string                 `json:"speakers"`
	LatencyMS float64                  `json:"latency_ms"`
}

// Speakers transcribes and diarizes the audio and labels each segment with
// the speaker at its midpoint.
func (s *Service) Speakers(ctx context.Context, req SpeakersRequest) (*SpeakersResponse, error) {
	start := time.Now()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if _, err := os.Stat(req.AudioPath); err != nil {
		return nil, fmt.Errorf("audio file not found: %s: %w", req.AudioPath, err)
	}

	turns := req.Turns
	if len(turns) == 0 {
		if s.backends.Diarizer == nil {
			return nil, fmt.Errorf("%w: no diarizer", ErrBackendUnavailable)
		}
		var err error
		if turns, err = s.backends.Diarizer.Diarize(ctx, req.AudioPath); err != nil {
			return nil, fmt.Errorf("diarizer: %w", err)
		}
	}

	segments, err := s.transcribe(ctx, req.AudioPath, "", false)
	if err != nil {
		return nil, err
	}

	resp := &SpeakersResponse{
		Segments:  diarize.AssignSpeakers(segments, turns),
		Words:     diarize.AssignWordSpeakers(transcriber.Words(segments), turns),
		Speakers:  diarize.NewTimeline(turns).Speakers(),
		LatencyMS: latencyMS(start),
	}
	if resp.Speakers == nil {
		resp.Speakers = []string{}
	}
	return resp, nil
}

func (s *Service) transcribe(ctx context.Context, audioPath, text string, usePrompt bool) ([]transcriber.Segment, error) {
	if s.backends.Transcriber == nil {
		return nil, fmt.Errorf("%w: no transcriber", ErrBackendUnavailable)
	}

	prepared, err := s.backends.Converter.Prepare(ctx, audioPath)
	if err != nil {
		return nil, err
	}
	defer s.closePrepared(prepared)

	opts := transcriber.Options{}
	if usePrompt {
		opts.InitialPrompt = transcriber.PromptFromText(text)
	}
	segments, err := s.backends.Transcriber.Transcribe(ctx, prepared.Path, opts)
	if err != nil {
		return nil, fmt.Errorf("transcriber: %w", err)
	}
	return segments, nil
}

func (s *Service) closePrepared(p *audio.Prepared) {
	if err := p.Close(); err != nil {
		s.logger.WithError(err).WithField("path", p.Path).Warn("Failed to remove converted audio")
	}
}

// Health describes the loaded backends.
type Health struct {
	Status      string `json:"status"`
	Model       string `json:"model,omitempty"`
	Emission    string `json:"emission,omitempty"`
	Diarization bool   `json:"diarization"`
}

// Health reports readiness of the configured backends.
func (s *Service) Health() Health {
	h := Health{Status: "ok", Diarization: s.backends.Diarizer != nil}
	if t := s.backends.Transcriber; t != nil {
		h.Model = t.Name()
		if !t.IsReady() {
			h.Status = "degraded"
		}
	}
	if e := s.backends.Emissions; e != nil {
		h.Emission = e.Name()
	}
	return h
}

// Close releases all backends.
func (s *Service) Close() error {
	var errs []error
	if s.backends.Emissions != nil {
		errs = append(errs, s.backends.Emissions.Close())
	}
	if s.backends.Transcriber != nil {
		errs = append(errs, s.backends.Transcriber.Close())
	}
	if s.backends.Diarizer != nil {
		errs = append(errs, s.backends.Diarizer.Close())
	}
	return errors.Join(errs...)
}

func latencyMS(start time.Time) float64 {
	ms := float64(time.Since(start).Microseconds()) / 1000
	return math.Round(ms*10) / 10
}
