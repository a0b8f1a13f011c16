package audio

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

// Converter normalizes audio files to 16 kHz mono WAV with ffmpeg.
type Converter struct {
	ffmpeg string
	tmpDir string
	logger *logrus.Entry
}

// NewConverter creates a converter. An empty ffmpeg path resolves ffmpeg
// from PATH lazily, so WAV-only deployments work without it.
func NewConverter(ffmpegPath, tmpDir string) *Converter {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &Converter{
		ffmpeg: ffmpegPath,
		tmpDir: tmpDir,
		logger: logrus.WithField("component", "audio_converter"),
	}
}

// Prepared is an audio file ready for the models. Close removes any
// temporary file created for it.
type Prepared struct {
	Path string
	Info Info

	temp bool
}

// Close removes the converted file, if one was created.
func (p *Prepared) Close() error {
	if !p.temp {
		return nil
	}
	if err := os.Remove(p.Path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Prepare returns path unchanged when it already is a 16 kHz mono WAV, and
// otherwise converts it into a temporary file.
func (c *Converter) Prepare(ctx context.Context, path string) (*Prepared, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("audio file: %w", err)
	}

	if strings.EqualFold(filepath.Ext(path), ".wav") {
		info, err := Inspect(path)
		if err == nil && info.IsModelReady() {
			return &Prepared{Path: path, Info: info}, nil
		}
		if err != nil {
			c.logger.WithError(err).WithField("path", path).Debug("WAV not directly usable, converting")
		}
	}

	out, err := os.CreateTemp(c.tmpDir, "align-*.wav")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	out.Close()

	if err := c.convert(ctx, path, out.Name()); err != nil {
		os.Remove(out.Name())
		return nil, err
	}

	info, err := Inspect(out.Name())
	if err != nil {
		os.Remove(out.Name())
		return nil, err
	}

	c.logger.WithFields(logrus.Fields{
		"source":   path,
		"samples":  info.SampleCount,
		"duration": info.Duration(),
	}).Debug("Converted audio to 16 kHz mono WAV")
	return &Prepared{Path: out.Name(), Info: info, temp: true}, nil
}

func (c *Converter) convert(ctx context.Context, src, dst string) error {
	// #nosec G204 - ffmpeg path comes from server configuration
	cmd := exec.CommandContext(ctx, c.ffmpeg, ffmpegArgs(src, dst)...)
	var errBuf bytes.Buffer
	cmd.Stderr = &errBuf

	if err := cmd.Run(); err != nil {
		c.logger.WithFields(logrus.Fields{
			"error":  err,
			"stderr": errBuf.String(),
		}).Error("ffmpeg conversion failed")
		return fmt.Errorf("ffmpeg error: %w", err)
	}
	return nil
}

func ffmpegArgs(src, dst string) []string {
	return []string{
		"-y", "-loglevel", "error",
		"-i", src,
		"-ar", strconv.Itoa(TargetSampleRate),
		"-ac", "1",
		"-c:a", "pcm_s16le",
		dst,
	}
}
