package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fankserver/voice-align-mcp/internal/audio"
	"github.com/fankserver/voice-align-mcp/internal/feedback"
	"github.com/fankserver/voice-align-mcp/internal/jobs"
	"github.com/fankserver/voice-align-mcp/internal/pipeline"
	"github.com/fankserver/voice-align-mcp/internal/service"
	"github.com/fankserver/voice-align-mcp/pkg/align"
	"github.com/fankserver/voice-align-mcp/pkg/diarize"
	"github.com/fankserver/voice-align-mcp/pkg/transcriber"
	"github.com/gin-gonic/gin"
	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, backends service.Backends) *Server {
	t.Helper()
	cfg := pipeline.DefaultQueueConfig()
	cfg.WorkerCount = 1
	cfg.Retryable = service.Retryable
	queue := pipeline.NewJobQueue(cfg)
	queue.Start()
	bus := feedback.NewEventBus(10)
	t.Cleanup(func() {
		queue.Stop()
		bus.Stop()
	})

	if backends.Converter == nil {
		backends.Converter = audio.NewConverter("ffmpeg-not-installed", "")
	}
	svc := service.New(align.DefaultVocabulary(), align.DefaultConfig(), backends)
	s := NewServer(":0", service.NewDispatcher(svc, queue, jobs.NewStore(t.TempDir()), bus))
	gin.SetMode(gin.TestMode)
	return s
}

func do(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

// emissionRows is a 3 frame matrix where "a" peaks at frame 1.
func emissionRows(t *testing.T) [][]float64 {
	t.Helper()
	v := align.DefaultVocabulary()
	a, ok := v.Lookup('A')
	require.True(t, ok)

	rows := make([][]float64, 3)
	for f := range rows {
		rows[f] = make([]float64, v.Size())
		for k := range rows[f] {
			rows[f][k] = -10
		}
		rows[f][v.Blank()] = -0.01
	}
	rows[1][a], rows[1][v.Blank()] = -0.01, -10
	return rows
}

// writeWAV writes 0.1s of 16 kHz mono silence.
func writeWAV(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.wav")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	enc := wav.NewEncoder(f, 16000, 16, 1, 1)
	require.NoError(t, enc.Write(&goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: 16000},
		Data:           make([]int, 1600),
		SourceBitDepth: 16,
	}))
	require.NoError(t, enc.Close())
	return path
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, service.Backends{Transcriber: &transcriber.MockTranscriber{}})

	rec := do(t, s, http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","model":"mock","diarization":false}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestAlign(t *testing.T) {
	s := newTestServer(t, service.Backends{})

	rec := do(t, s, http.MethodPost, "/align", map[string]any{
		"text":         "a",
		"emission":     emissionRows(t),
		"sample_count": 4800,
		"sample_rate":  16000,
	})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp service.AlignResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Words, 1)
	assert.InDelta(t, 0.1, resp.Words[0].Start, 1e-9)
	assert.InDelta(t, 0.2, resp.Words[0].End, 1e-9)
	assert.NotEmpty(t, rec.Header().Get("X-Job-Id"))
}

func TestAlignErrors(t *testing.T) {
	s := newTestServer(t, service.Backends{})

	tests := []struct {
		name string
		body any
		want int
	}{
		{name: "malformed_json", body: "{", want: http.StatusBadRequest},
		{name: "no_source", body: map[string]any{"text": "a"}, want: http.StatusBadRequest},
		{name: "no_alignable_characters", body: map[string]any{"text": "42", "emission": emissionRows(t), "sample_count": 4800, "sample_rate": 16000}, want: http.StatusBadRequest},
		{name: "missing_emission_file", body: map[string]any{"text": "a", "emission_path": filepath.Join(t.TempDir(), "missing.json")}, want: http.StatusNotFound},
		{name: "no_emission_backend", body: map[string]any{"text": "a", "audio_path": writeWAV(t)}, want: http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, http.MethodPost, "/align", tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
			assert.Contains(t, rec.Body.String(), `"error"`)
		})
	}
}

func TestAlignAsyncAndJobLookup(t *testing.T) {
	s := newTestServer(t, service.Backends{})

	rec := do(t, s, http.MethodPost, "/align?async=true", map[string]any{
		"words":        []string{"a"},
		"emission":     emissionRows(t),
		"sample_count": 4800,
		"sample_rate":  16000,
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var accepted struct {
		JobID string `json:"job_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &accepted))
	require.NotEmpty(t, accepted.JobID)

	assert.Eventually(t, func() bool {
		rec := do(t, s, http.MethodGet, "/jobs/"+accepted.JobID, nil)
		if rec.Code != http.StatusOK {
			return false
		}
		var job struct {
			Status string `json:"status"`
		}
		return json.Unmarshal(rec.Body.Bytes(), &job) == nil && job.Status == "completed"
	}, 2*time.Second, 10*time.Millisecond)

	rec = do(t, s, http.MethodGet, "/jobs", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), accepted.JobID)
}

func TestGetJobNotFound(t *testing.T) {
	s := newTestServer(t, service.Backends{})

	rec := do(t, s, http.MethodGet, "/jobs/does-not-exist", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "job not found")
}

func TestTimestamps(t *testing.T) {
	mock := &transcriber.MockTranscriber{Segments: []transcriber.Segment{{
		Words: []align.WordTiming{
			{Word: "Hello", Start: 0.0, End: 0.5},
			{Word: "world.", Start: 0.6, End: 1.2},
		},
	}}}
	s := newTestServer(t, service.Backends{Transcriber: mock})
	path := writeWAV(t)

	rec := do(t, s, http.MethodPost, "/timestamps", map[string]any{"audio_path": path, "original_text": "Hello world"})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp struct {
		Words      []string  `json:"words"`
		StartTimes []float64 `json:"startTimes"`
		EndTimes   []float64 `json:"endTimes"`
		LatencyMS  *float64  `json:"latency_ms"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []string{"Hello", "world"}, resp.Words)
	assert.Equal(t, []float64{0, 0.6}, resp.StartTimes)
	assert.Equal(t, []float64{0.5, 1.2}, resp.EndTimes)
	assert.NotNil(t, resp.LatencyMS)
}

func TestTimestampsErrors(t *testing.T) {
	empty := &transcriber.MockTranscriber{}
	s := newTestServer(t, service.Backends{Transcriber: empty})

	tests := []struct {
		name string
		body map[string]any
		want int
	}{
		{name: "missing_file", body: map[string]any{"audio_path": filepath.Join(t.TempDir(), "gone.wav"), "original_text": "hi"}, want: http.StatusNotFound},
		{name: "no_words_detected", body: map[string]any{"audio_path": writeWAV(t), "original_text": "hi"}, want: http.StatusInternalServerError},
		{name: "missing_audio_path", body: map[string]any{"original_text": "hi"}, want: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, http.MethodPost, "/timestamps", tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestSpeakers(t *testing.T) {
	mock := &transcriber.MockTranscriber{Segments: []transcriber.Segment{
		{Start: 0, End: 1, Text: "first"},
		{Start: 1, End: 3, Text: "second"},
	}}
	s := newTestServer(t, service.Backends{Transcriber: mock})

	rec := do(t, s, http.MethodPost, "/speakers", service.SpeakersRequest{
		AudioPath: writeWAV(t),
		Turns: []diarize.Turn{
			{Speaker: "SPEAKER_00", Start: 0, End: 1.2},
			{Speaker: "SPEAKER_01", Start: 1.2, End: 3},
		},
	})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp service.SpeakersResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Segments, 2)
	assert.Equal(t, "SPEAKER_00", resp.Segments[0].Speaker)
	assert.Equal(t, "SPEAKER_01", resp.Segments[1].Speaker)
}

func TestQueueStatus(t *testing.T) {
	s := newTestServer(t, service.Backends{})

	rec := do(t, s, http.MethodGet, "/queue", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	var status service.QueueStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, 1, status.Workers)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "input_error", err: align.ErrEmptyTranscript, want: http.StatusBadRequest},
		{name: "missing_file", err: fmt.Errorf("audio file not found: %w", fs.ErrNotExist), want: http.StatusNotFound},
		{name: "missing_job", err: jobs.ErrJobNotFound, want: http.StatusNotFound},
		{name: "process_timeout", err: pipeline.ErrProcessTimeout, want: http.StatusGatewayTimeout},
		{name: "deadline", err: context.DeadlineExceeded, want: http.StatusGatewayTimeout},
		{name: "queue_full", err: pipeline.ErrQueueFull, want: http.StatusServiceUnavailable},
		{name: "backend_unavailable", err: service.ErrBackendUnavailable, want: http.StatusServiceUnavailable},
		{name: "no_words", err: service.ErrNoWordsDetected, want: http.StatusInternalServerError},
		{name: "collaborator_failure", err: errors.New("transcriber: exit status 1"), want: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}

func TestStartStop(t *testing.T) {
	s := newTestServer(t, service.Backends{})
	s.httpServer.Addr = "127.0.0.1:0"

	require.NoError(t, s.Start())
	assert.NoError(t, s.Stop(context.Background()))
}
