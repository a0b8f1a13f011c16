package main

import (
	"context"
	"strings"

	"github.com/fankserver/voice-align-mcp/internal/config"
	"github.com/fankserver/voice-align-mcp/internal/service"
	"github.com/fankserver/voice-align-mcp/pkg/diarize"
	"github.com/fankserver/voice-align-mcp/pkg/emission"
	"github.com/fankserver/voice-align-mcp/pkg/transcriber"
	"github.com/sirupsen/logrus"
)

// newBackends creates the configured model backends. A backend that fails
// to start is logged and left unset, so requests needing it fail with
// service.ErrBackendUnavailable while the rest keep working.
func newBackends(ctx context.Context, cfg *config.Config) service.Backends {
	var b service.Backends

	switch strings.ToLower(cfg.Emission.Backend) {
	case "wav2vec2":
		source, err := emission.NewWav2Vec2Source(ctx, emission.Wav2Vec2Config{
			Bundle: cfg.Emission.Model,
			Device: cfg.Emission.Device,
			Python: cfg.Emission.Python,
		})
		if err != nil {
			logrus.WithError(err).Error("Failed to initialize wav2vec2 emission source, audio alignment disabled")
		} else {
			b.Emissions = source
			logrus.WithField("model", cfg.Emission.Model).Info("Using wav2vec2 emission source")
		}
	case "file":
		logrus.Info("Audio alignment disabled, accepting precomputed emissions only")
	default:
		logrus.Info("Emission backend disabled")
	}

	switch strings.ToLower(cfg.Transcriber.Backend) {
	case "faster-whisper":
		trans, err := transcriber.NewFasterWhisperTranscriber(ctx, transcriber.FasterWhisperConfig{
			Model:       cfg.Transcriber.Model,
			Device:      cfg.Transcriber.Device,
			ComputeType: cfg.Transcriber.ComputeType,
			Language:    cfg.Transcriber.Language,
			BeamSize:    cfg.Transcriber.BeamSize,
			Python:      cfg.Transcriber.Python,
		})
		if err != nil {
			logrus.WithError(err).Error("Failed to initialize faster-whisper transcriber, transcription disabled")
		} else {
			b.Transcriber = trans
			logrus.WithFields(logrus.Fields{
				"model":  cfg.Transcriber.Model,
				"device": cfg.Transcriber.Device,
			}).Info("Using faster-whisper transcriber")
		}
	case "mock":
		b.Transcriber = &transcriber.MockTranscriber{}
		logrus.Info("Using mock transcriber")
	}

	switch strings.ToLower(cfg.Diarizer.Backend) {
	case "pyannote":
		d, err := diarize.NewPyannoteDiarizer(ctx, diarize.PyannoteConfig{
			Model:       cfg.Diarizer.Model,
			HFToken:     cfg.Diarizer.HFToken,
			Device:      cfg.Diarizer.Device,
			NumSpeakers: cfg.Diarizer.NumSpeakers,
			Python:      cfg.Diarizer.Python,
		})
		if err != nil {
			logrus.WithError(err).Error("Failed to initialize pyannote diarizer, diarization disabled")
		} else {
			b.Diarizer = d
			logrus.WithField("model", cfg.Diarizer.Model).Info("Using pyannote diarizer")
		}
	default:
		logrus.Debug("Diarization disabled, speaker requests need explicit turns")
	}

	return b
}
