package emission

import (
	"context"
	"fmt"

	"github.com/fankserver/voice-align-mcp/internal/pyexec"
	"github.com/sirupsen/logrus"
)

// Wav2Vec2Config configures the torchaudio wav2vec2 backend.
type Wav2Vec2Config struct {
	Bundle string // torchaudio.pipelines attribute, default WAV2VEC2_ASR_BASE_960H
	Device string // "cpu" or "cuda"
	Python string
}

// Wav2Vec2Source computes emissions with a torchaudio wav2vec2 CTC model.
type Wav2Vec2Source struct {
	bundle     string
	device     string
	pythonPath string
}

// NewWav2Vec2Source locates Python and checks that torchaudio is installed.
func NewWav2Vec2Source(ctx context.Context, cfg Wav2Vec2Config) (*Wav2Vec2Source, error) {
	if cfg.Bundle == "" {
		cfg.Bundle = "WAV2VEC2_ASR_BASE_960H"
	}
	if cfg.Device == "" {
		cfg.Device = "cpu"
	}

	pythonPath, err := pyexec.FindPython(cfg.Python)
	if err != nil {
		return nil, err
	}
	if err := pyexec.CheckModule(ctx, pythonPath, "torchaudio"); err != nil {
		return nil, fmt.Errorf("torchaudio not installed. Install with: pip install torch torchaudio: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"python": pythonPath,
		"bundle": cfg.Bundle,
		"device": cfg.Device,
	}).Info("Wav2Vec2 emission source initialized successfully")

	return &Wav2Vec2Source{bundle: cfg.Bundle, device: cfg.Device, pythonPath: pythonPath}, nil
}

// Emissions runs the acoustic model over a WAV file.
func (s *Wav2Vec2Source) Emissions(ctx context.Context, path string) (*Emissions, error) {
	out, err := pyexec.Run(ctx, s.pythonPath, s.generatePythonScript(), path)
	if err != nil {
		return nil, fmt.Errorf("wav2vec2 inference failed: %w", err)
	}
	em, err := Decode(out)
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"path":    path,
		"frames":  em.Matrix.Frames,
		"symbols": em.Matrix.Symbols,
		"samples": em.SampleCount,
	}).Debug("Wav2Vec2Source: Emissions computed")
	return em, nil
}

func (s *Wav2Vec2Source) Name() string { return s.bundle }

func (s *Wav2Vec2Source) Close() error { return nil }

func (s *Wav2Vec2Source) generatePythonScript() string {
	return fmt.Sprintf(`
import sys
import json
import warnings

warnings.filterwarnings("ignore")

try:
    import torch
    import torchaudio

    bundle = getattr(torchaudio.pipelines, %s)
    device = torch.device(%s)
    model = bundle.get_model().to(device)

    waveform, sample_rate = torchaudio.load(sys.argv[1])
    if waveform.shape[0] > 1:
        waveform = waveform.mean(dim=0, keepdim=True)
    if sample_rate != bundle.sample_rate:
        waveform = torchaudio.functional.resample(waveform, sample_rate, bundle.sample_rate)
        sample_rate = bundle.sample_rate

    with torch.inference_mode():
        emissions, _ = model(waveform.to(device))
        emissions = torch.log_softmax(emissions, dim=-1)

    print(json.dumps({
        "sample_count": int(waveform.shape[1]),
        "sample_rate": int(sample_rate),
        "labels": list(bundle.get_labels()),
        "emission": emissions[0].cpu().tolist(),
    }))
except Exception as e:
    print(json.dumps({"error": str(e)}))
    print(str(e), file=sys.stderr)
    sys.exit(1)
`,
		pyexec.Quote(s.bundle),
		pyexec.Quote(s.device),
	)
}
