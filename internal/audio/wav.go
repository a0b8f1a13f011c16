// Package audio inspects and normalizes audio files before alignment.
package audio

import (
	"errors"
	"fmt"
	"os"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// TargetSampleRate is the rate the acoustic and speech models expect.
const TargetSampleRate = 16000

// ErrNotWAV is returned for files without a valid RIFF/WAVE header.
var ErrNotWAV = errors.New("not a valid WAV file")

// Info describes decoded WAV audio.
type Info struct {
	SampleRate int
	Channels   int
	BitDepth   int
	// SampleCount is the number of samples per channel.
	SampleCount int
}

// Duration returns the playback length.
func (i Info) Duration() time.Duration {
	if i.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(i.SampleCount) / float64(i.SampleRate) * float64(time.Second))
}

// IsModelReady reports whether the audio can be fed to the models as is.
func (i Info) IsModelReady() bool {
	return i.SampleRate == TargetSampleRate && i.Channels == 1
}

// Inspect decodes a WAV file and returns its geometry.
func Inspect(path string) (Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return Info{}, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return Info{}, fmt.Errorf("%s: %w", path, ErrNotWAV)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return Info{}, fmt.Errorf("decode WAV: %w", err)
	}

	channels := int(dec.NumChans)
	if channels < 1 {
		channels = 1
	}
	return Info{
		SampleRate:  int(dec.SampleRate),
		Channels:    channels,
		BitDepth:    int(dec.BitDepth),
		SampleCount: len(buf.Data) / channels,
	}, nil
}

// WriteWAV writes interleaved 16-bit PCM samples to path.
func WriteWAV(path string, samples []int, sampleRate, channels int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	enc := wav.NewEncoder(f, sampleRate, 16, channels, 1)
	err = enc.Write(&goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:           samples,
		SourceBitDepth: 16,
	})
	if err == nil {
		err = enc.Close()
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("write WAV: %w", err)
	}
	return nil
}
