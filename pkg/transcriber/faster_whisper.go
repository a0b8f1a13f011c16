package transcriber

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/fankserver/voice-align-mcp/internal/pyexec"
	"github.com/fankserver/voice-align-mcp/pkg/align"
	"github.com/sirupsen/logrus"
)

// FasterWhisperConfig configures the faster-whisper backend.
type FasterWhisperConfig struct {
	Model       string // default distil-large-v3
	Device      string // "auto", "cpu", "cuda"
	ComputeType string // "float16", "int8_float16", "int8"
	Language    string // default language when Options.Language is empty
	BeamSize    int
	Python      string
}

// FasterWhisperTranscriber uses faster-whisper for transcription with
// word timestamps enabled.
type FasterWhisperTranscriber struct {
	modelName   string
	language    string
	device      string
	computeType string
	beamSize    int
	pythonPath  string
}

// fasterWhisperResponse is the JSON printed by the transcription script.
type fasterWhisperResponse struct {
	Segments []fasterWhisperSegment `json:"segments"`
	Error    string                 `json:"error,omitempty"`
}

type fasterWhisperSegment struct {
	Start float64             `json:"start"`
	End   float64             `json:"end"`
	Text  string              `json:"text"`
	Words []fasterWhisperWord `json:"words"`
}

type fasterWhisperWord struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// NewFasterWhisperTranscriber creates a faster-whisper based transcriber.
func NewFasterWhisperTranscriber(ctx context.Context, cfg FasterWhisperConfig) (*FasterWhisperTranscriber, error) {
	if cfg.Model == "" {
		cfg.Model = "distil-large-v3"
	}
	if cfg.Device == "" {
		cfg.Device = "auto"
	}
	if cfg.ComputeType == "" {
		cfg.ComputeType = "float16"
	}
	if cfg.Language == "" {
		cfg.Language = "en"
	}
	if cfg.BeamSize < 1 || cfg.BeamSize > 5 {
		cfg.BeamSize = 5
	}

	pythonPath, err := pyexec.FindPython(cfg.Python)
	if err != nil {
		return nil, err
	}
	if err := pyexec.CheckModule(ctx, pythonPath, "faster_whisper"); err != nil {
		return nil, fmt.Errorf("faster-whisper not installed. Install with: pip install faster-whisper: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"python":       pythonPath,
		"model":        cfg.Model,
		"device":       cfg.Device,
		"compute_type": cfg.ComputeType,
		"language":     cfg.Language,
		"beam_size":    cfg.BeamSize,
	}).Info("FasterWhisper transcriber initialized successfully")

	return &FasterWhisperTranscriber{
		modelName:   cfg.Model,
		language:    cfg.Language,
		device:      cfg.Device,
		computeType: cfg.ComputeType,
		beamSize:    cfg.BeamSize,
		pythonPath:  pythonPath,
	}, nil
}

// Transcribe runs faster-whisper on a 16 kHz mono audio file.
func (ft *FasterWhisperTranscriber) Transcribe(ctx context.Context, audioPath string, opts Options) ([]Segment, error) {
	if _, err := os.Stat(audioPath); err != nil {
		return nil, fmt.Errorf("audio file: %w", err)
	}
	language := opts.Language
	if language == "" {
		language = ft.language
	}

	logrus.WithFields(logrus.Fields{
		"audio":      audioPath,
		"model":      ft.modelName,
		"language":   language,
		"has_prompt": opts.InitialPrompt != "",
	}).Debug("FasterWhisperTranscriber: Starting transcription")

	out, err := pyexec.Run(ctx, ft.pythonPath, ft.generatePythonScript(language, opts.InitialPrompt), audioPath)
	if err != nil {
		return nil, fmt.Errorf("faster-whisper transcription failed: %w", err)
	}

	segments, err := parseSegments(out)
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"segments": len(segments),
		"words":    len(Words(segments)),
	}).Debug("FasterWhisperTranscriber: Transcription complete")
	return segments, nil
}

func (ft *FasterWhisperTranscriber) Name() string { return ft.modelName }

func (ft *FasterWhisperTranscriber) IsReady() bool { return ft.pythonPath != "" }

func (ft *FasterWhisperTranscriber) Close() error { return nil }

func (ft *FasterWhisperTranscriber) generatePythonScript(language, prompt string) string {
	if language == "auto" {
		language = ""
	}
	return fmt.Sprintf(`
import sys
import json
import warnings

warnings.filterwarnings("ignore")

try:
    from faster_whisper import WhisperModel

    model = WhisperModel(%s, device=%s, compute_type=%s)
    segments, info = model.transcribe(
        sys.argv[1],
        word_timestamps=True,
        language=%s,
        beam_size=%d,
        initial_prompt=%s,
    )

    result = []
    for segment in segments:
        words = [
            {"word": w.word, "start": float(w.start), "end": float(w.end)}
            for w in (segment.words or [])
        ]
        result.append({
            "start": float(segment.start),
            "end": float(segment.end),
            "text": segment.text,
            "words": words,
        })
    print(json.dumps({"segments": result}))
except Exception as e:
    print(json.dumps({"segments": [], "error": str(e)}))
    print(str(e), file=sys.stderr)
    sys.exit(1)
`,
		pyexec.Quote(ft.modelName),
		pyexec.Quote(ft.device),
		pyexec.Quote(ft.computeType),
		pyexec.Quote(language),
		ft.beamSize,
		pyexec.Quote(prompt),
	)
}

func parseSegments(data []byte) ([]Segment, error) {
	var resp fasterWhisperResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parsing transcription output: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("transcription backend: %s", resp.Error)
	}

	segments := make([]Segment, 0, len(resp.Segments))
	for _, s := range resp.Segments {
		seg := Segment{
			Start: s.Start,
			End:   s.End,
			Text:  strings.TrimSpace(s.Text),
		}
		for _, w := range s.Words {
			word := strings.TrimSpace(w.Word)
			if word == "" {
				continue
			}
			seg.Words = append(seg.Words, align.WordTiming{Word: word, Start: w.Start, End: w.End})
		}
		segments = append(segments, seg)
	}
	return segments, nil
}
