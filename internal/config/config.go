// Package config loads server configuration from defaults, an optional YAML
// file, a .env file and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/fankserver/voice-align-mcp/internal/pipeline"
	"github.com/fankserver/voice-align-mcp/pkg/align"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Mode           string            `yaml:"mode"` // "mcp", "http" or "both"
	HTTPAddr       string            `yaml:"http_addr"`
	VocabularyPath string            `yaml:"vocabulary_path"`
	FFmpegPath     string            `yaml:"ffmpeg_path"`
	Emission       EmissionConfig    `yaml:"emission"`
	Transcriber    TranscriberConfig `yaml:"transcriber"`
	Diarizer       DiarizerConfig    `yaml:"diarizer"`
	Queue          QueueConfig       `yaml:"queue"`
	Align          AlignConfig       `yaml:"align"`
	ExportDir      string            `yaml:"export_dir"`
	JobRetention   time.Duration     `yaml:"job_retention"` // 0 keeps finished jobs forever
	LogLevel       string            `yaml:"log_level"`
}

// EmissionConfig selects the acoustic model backend.
type EmissionConfig struct {
	Backend string `yaml:"backend"` // "wav2vec2", "file" or "none"
	Model   string `yaml:"model"`
	Device  string `yaml:"device"`
	Python  string `yaml:"python"`
}

// TranscriberConfig selects the speech-to-text backend.
type TranscriberConfig struct {
	Backend     string `yaml:"backend"` // "faster-whisper" or "mock"
	Model       string `yaml:"model"`
	Device      string `yaml:"device"`
	ComputeType string `yaml:"compute_type"`
	Language    string `yaml:"language"`
	BeamSize    int    `yaml:"beam_size"`
	Python      string `yaml:"python"`
}

// DiarizerConfig selects the speaker diarization backend.
type DiarizerConfig struct {
	Backend     string `yaml:"backend"` // "pyannote" or "none"
	Model       string `yaml:"model"`
	HFToken     string `yaml:"hf_token"`
	Device      string `yaml:"device"`
	NumSpeakers int    `yaml:"num_speakers"`
	Python      string `yaml:"python"`
}

// QueueConfig sizes the worker pool.
type QueueConfig struct {
	Workers        int           `yaml:"workers"`
	QueueSize      int           `yaml:"queue_size"`
	MaxRetries     int           `yaml:"max_retries"`
	RetryDelay     time.Duration `yaml:"retry_delay"`
	ProcessTimeout time.Duration `yaml:"process_timeout"`
}

// AlignConfig tunes the alignment core.
type AlignConfig struct {
	MaxTrellisCells       int64   `yaml:"max_trellis_cells"`
	MinWordDuration       float64 `yaml:"min_word_duration"`
	SyntheticWordDuration float64 `yaml:"synthetic_word_duration"`
	FallbackFrames        int     `yaml:"fallback_frames"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	core := align.DefaultConfig()
	return &Config{
		Mode:     "mcp",
		HTTPAddr: ":8881",
		Emission: EmissionConfig{
			Backend: "wav2vec2",
			Model:   "WAV2VEC2_ASR_BASE_960H",
			Device:  "cpu",
		},
		Transcriber: TranscriberConfig{
			Backend:     "faster-whisper",
			Model:       "distil-large-v3",
			Device:      "auto",
			ComputeType: "float16",
			Language:    "en",
			BeamSize:    5,
		},
		Diarizer: DiarizerConfig{
			Backend: "none",
			Model:   "pyannote/speaker-diarization-3.1",
			Device:  "cpu",
		},
		Queue: QueueConfig{
			Workers:        runtime.NumCPU(),
			QueueSize:      100,
			MaxRetries:     1,
			RetryDelay:     time.Second,
			ProcessTimeout: 5 * time.Minute,
		},
		Align: AlignConfig{
			MaxTrellisCells:       core.MaxTrellisCells,
			MinWordDuration:       core.Repair.MinWordDuration,
			SyntheticWordDuration: core.Repair.SyntheticWordDuration,
			FallbackFrames:        core.FallbackFrames,
		},
		ExportDir:    "exports",
		JobRetention: 24 * time.Hour,
		LogLevel:     "info",
	}
}

// Load reads and parses a YAML config file. Missing fields keep their
// defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.VocabularyPath = expandTilde(cfg.VocabularyPath)
	cfg.ExportDir = expandTilde(cfg.ExportDir)
	return cfg, nil
}

// FromEnvironment builds the configuration the server starts with: the YAML
// file named by path or ALIGN_CONFIG (if any), then .env and process
// environment overrides.
func FromEnvironment(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logrus.WithError(err).Debug("Error loading .env file, using environment variables")
	}

	if path == "" {
		path = os.Getenv("ALIGN_CONFIG")
	}

	cfg := Default()
	if path != "" {
		var err error
		if cfg, err = Load(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from environment variables.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	strs := []struct {
		key string
		dst *string
	}{
		{"ALIGN_MODE", &c.Mode},
		{"HTTP_ADDR", &c.HTTPAddr},
		{"VOCABULARY_PATH", &c.VocabularyPath},
		{"FFMPEG_PATH", &c.FFmpegPath},
		{"EMISSION_BACKEND", &c.Emission.Backend},
		{"EMISSION_MODEL", &c.Emission.Model},
		{"EMISSION_DEVICE", &c.Emission.Device},
		{"TRANSCRIBER_TYPE", &c.Transcriber.Backend},
		{"FASTER_WHISPER_MODEL", &c.Transcriber.Model},
		{"FASTER_WHISPER_DEVICE", &c.Transcriber.Device},
		{"FASTER_WHISPER_COMPUTE_TYPE", &c.Transcriber.ComputeType},
		{"FASTER_WHISPER_LANGUAGE", &c.Transcriber.Language},
		{"DIARIZER_BACKEND", &c.Diarizer.Backend},
		{"DIARIZER_MODEL", &c.Diarizer.Model},
		{"HF_TOKEN", &c.Diarizer.HFToken},
		{"EXPORT_DIR", &c.ExportDir},
		{"LOG_LEVEL", &c.LogLevel},
	}
	for _, s := range strs {
		if v, ok := lookup(s.key); ok && v != "" {
			*s.dst = v
		}
	}

	if v, ok := lookup("PYTHON_PATH"); ok && v != "" {
		c.Emission.Python = v
		c.Transcriber.Python = v
		c.Diarizer.Python = v
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"FASTER_WHISPER_BEAM_SIZE", &c.Transcriber.BeamSize},
		{"DIARIZER_NUM_SPEAKERS", &c.Diarizer.NumSpeakers},
		{"QUEUE_WORKERS", &c.Queue.Workers},
		{"QUEUE_SIZE", &c.Queue.QueueSize},
		{"MAX_RETRIES", &c.Queue.MaxRetries},
		{"FALLBACK_FRAMES", &c.Align.FallbackFrames},
	}
	for _, i := range ints {
		if v, ok := lookup(i.key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s: %w", i.key, err)
			}
			*i.dst = n
		}
	}

	if v, ok := lookup("MAX_TRELLIS_CELLS"); ok && v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("MAX_TRELLIS_CELLS: %w", err)
		}
		c.Align.MaxTrellisCells = n
	}
	if v, ok := lookup("PROCESS_TIMEOUT"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("PROCESS_TIMEOUT: %w", err)
		}
		c.Queue.ProcessTimeout = d
	}
	if v, ok := lookup("JOB_RETENTION"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("JOB_RETENTION: %w", err)
		}
		c.JobRetention = d
	}
	return nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	var errs []error

	switch c.Mode {
	case "mcp", "http", "both":
	default:
		errs = append(errs, fmt.Errorf("mode must be \"mcp\", \"http\" or \"both\", got %q", c.Mode))
	}
	if c.Mode != "mcp" && c.HTTPAddr == "" {
		errs = append(errs, errors.New("http_addr must not be empty"))
	}

	switch c.Emission.Backend {
	case "wav2vec2", "file", "none":
	default:
		errs = append(errs, fmt.Errorf("emission.backend must be wav2vec2, file, or none, got %q", c.Emission.Backend))
	}
	switch c.Transcriber.Backend {
	case "faster-whisper", "mock":
	default:
		errs = append(errs, fmt.Errorf("transcriber.backend must be faster-whisper or mock, got %q", c.Transcriber.Backend))
	}
	switch c.Diarizer.Backend {
	case "pyannote", "none":
	default:
		errs = append(errs, fmt.Errorf("diarizer.backend must be pyannote or none, got %q", c.Diarizer.Backend))
	}
	if c.Diarizer.NumSpeakers < 0 {
		errs = append(errs, errors.New("diarizer.num_speakers must be >= 0"))
	}

	if c.Queue.Workers < 1 {
		errs = append(errs, errors.New("queue.workers must be > 0"))
	}
	if c.Queue.QueueSize < 4 {
		errs = append(errs, errors.New("queue.queue_size must be >= 4"))
	}
	if c.Queue.MaxRetries < 1 {
		errs = append(errs, errors.New("queue.max_retries must be >= 1"))
	}
	if c.Queue.ProcessTimeout <= 0 {
		errs = append(errs, errors.New("queue.process_timeout must be > 0"))
	}

	if c.Align.MaxTrellisCells < 0 {
		errs = append(errs, errors.New("align.max_trellis_cells must be >= 0"))
	}
	if c.Align.MinWordDuration < 0 {
		errs = append(errs, errors.New("align.min_word_duration must be >= 0"))
	}
	if c.Align.SyntheticWordDuration <= c.Align.MinWordDuration {
		errs = append(errs, errors.New("align.synthetic_word_duration must exceed align.min_word_duration"))
	}
	if c.Align.FallbackFrames < 1 {
		errs = append(errs, errors.New("align.fallback_frames must be > 0"))
	}

	if c.ExportDir == "" {
		errs = append(errs, errors.New("export_dir must not be empty"))
	}
	if c.JobRetention < 0 {
		errs = append(errs, errors.New("job_retention must be >= 0"))
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel))
	}

	return errors.Join(errs...)
}

// AlignerConfig converts the align section to the core's configuration.
func (c *Config) AlignerConfig() align.Config {
	return align.Config{
		MaxTrellisCells: c.Align.MaxTrellisCells,
		FallbackFrames:  c.Align.FallbackFrames,
		Repair: align.RepairConfig{
			MinWordDuration:       c.Align.MinWordDuration,
			SyntheticWordDuration: c.Align.SyntheticWordDuration,
		},
	}
}

// PipelineConfig converts the queue section to the worker pool configuration.
func (c *Config) PipelineConfig() pipeline.QueueConfig {
	q := pipeline.DefaultQueueConfig()
	q.WorkerCount = c.Queue.Workers
	q.QueueSize = c.Queue.QueueSize
	q.MaxRetries = c.Queue.MaxRetries
	q.ProcessTimeout = c.Queue.ProcessTimeout
	if c.Queue.RetryDelay > 0 {
		q.RetryDelay = c.Queue.RetryDelay
	}
	return q
}

// ParseLogLevel maps log_level to a logrus level, defaulting to info.
func ParseLogLevel(level string) logrus.Level {
	switch strings.ToLower(level) {
	case "debug":
		return logrus.DebugLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
