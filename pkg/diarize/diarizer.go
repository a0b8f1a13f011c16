package diarize

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/fankserver/voice-align-mcp/internal/pyexec"
	"github.com/sirupsen/logrus"
)

// Diarizer produces the speaker timeline of an audio file.
type Diarizer interface {
	Diarize(ctx context.Context, audioPath string) ([]Turn, error)
	Close() error
}

// Static returns a fixed timeline. It stands in for a real diarizer when
// speaker turns are supplied by the caller or diarization is disabled.
type Static struct {
	Turns []Turn
}

func (s *Static) Diarize(ctx context.Context, audioPath string) ([]Turn, error) {
	return append([]Turn(nil), s.Turns...), nil
}

func (s *Static) Close() error { return nil }

// PyannoteDiarizer runs pyannote.audio in a Python subprocess.
type PyannoteDiarizer struct {
	model       string
	hfToken     string
	device      string
	numSpeakers int
	pythonPath  string
}

// PyannoteConfig configures the pyannote backend.
type PyannoteConfig struct {
	Model       string // defaults to pyannote/speaker-diarization-3.1
	HFToken     string // Hugging Face token for gated models
	Device      string // "cpu" or "cuda"
	NumSpeakers int    // 0 = auto-detect
	Python      string
}

// NewPyannoteDiarizer locates Python and checks that pyannote.audio is installed.
func NewPyannoteDiarizer(ctx context.Context, cfg PyannoteConfig) (*PyannoteDiarizer, error) {
	if cfg.Model == "" {
		cfg.Model = "pyannote/speaker-diarization-3.1"
	}
	if cfg.Device == "" {
		cfg.Device = "cpu"
	}

	pythonPath, err := pyexec.FindPython(cfg.Python)
	if err != nil {
		return nil, err
	}
	if err := pyexec.CheckModule(ctx, pythonPath, "pyannote.audio"); err != nil {
		return nil, fmt.Errorf("pyannote.audio not installed. Install with: pip install pyannote.audio: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"python":       pythonPath,
		"model":        cfg.Model,
		"device":       cfg.Device,
		"num_speakers": cfg.NumSpeakers,
	}).Info("Pyannote diarizer initialized successfully")

	return &PyannoteDiarizer{
		model:       cfg.Model,
		hfToken:     cfg.HFToken,
		device:      cfg.Device,
		numSpeakers: cfg.NumSpeakers,
		pythonPath:  pythonPath,
	}, nil
}

// Diarize returns the speaker turns of the audio file.
func (d *PyannoteDiarizer) Diarize(ctx context.Context, audioPath string) ([]Turn, error) {
	if _, err := os.Stat(audioPath); err != nil {
		return nil, fmt.Errorf("audio file: %w", err)
	}

	out, err := pyexec.Run(ctx, d.pythonPath, d.generatePythonScript(), audioPath)
	if err != nil {
		return nil, fmt.Errorf("pyannote diarization failed: %w", err)
	}

	turns, err := parseTurns(out)
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"audio": audioPath,
		"turns": len(turns),
	}).Debug("PyannoteDiarizer: Diarization complete")
	return turns, nil
}

func (d *PyannoteDiarizer) Close() error { return nil }

func (d *PyannoteDiarizer) generatePythonScript() string {
	return fmt.Sprintf(`
import sys
import json
import warnings

warnings.filterwarnings("ignore")

import torch
from pyannote.audio import Pipeline

pipeline = Pipeline.from_pretrained(%s, use_auth_token=%s)
pipeline.to(torch.device(%s))

kwargs = {}
if %d > 0:
    kwargs["num_speakers"] = %d

diarization = pipeline(sys.argv[1], **kwargs)
turns = [
    {"speaker": speaker, "start": float(turn.start), "end": float(turn.end)}
    for turn, _, speaker in diarization.itertracks(yield_label=True)
]
print(json.dumps({"turns": turns}))
`,
		pyexec.Quote(d.model),
		pyexec.Quote(d.hfToken),
		pyexec.Quote(d.device),
		d.numSpeakers,
		d.numSpeakers,
	)
}

type turnsResponse struct {
	Turns []Turn `json:"turns"`
	Error string `json:"error,omitempty"`
}

func parseTurns(data []byte) ([]Turn, error) {
	var resp turnsResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parsing diarization output: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("diarization backend: %s", resp.Error)
	}
	for i, t := range resp.Turns {
		if t.End < t.Start {
			return nil, fmt.Errorf("turn %d ends before it starts (%.3f < %.3f)", i, t.End, t.Start)
		}
	}
	return resp.Turns, nil
}
