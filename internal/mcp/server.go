package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fankserver/voice-align-mcp/internal/jobs"
	"github.com/fankserver/voice-align-mcp/internal/service"
	"github.com/fankserver/voice-align-mcp/pkg/diarize"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"
)

// Server exposes the alignment service as MCP tools over stdio.
type Server struct {
	mcpServer  *mcp.Server
	dispatcher *service.Dispatcher
	logger     *logrus.Entry
}

// Tool input types

type EmptyInput struct{}

type AlignTranscriptInput struct {
	Text         string   `json:"text,omitempty" jsonschema:"transcript to align, split on whitespace"`
	Words        []string `json:"words,omitempty" jsonschema:"pre-split transcript words, used instead of text"`
	AudioPath    string   `json:"audio_path,omitempty" jsonschema:"audio file to run the acoustic model on"`
	EmissionPath string   `json:"emission_path,omitempty" jsonschema:"JSON file with a precomputed emission matrix"`
	SampleCount  int      `json:"sample_count,omitempty" jsonschema:"number of audio samples the emission covers"`
	SampleRate   int      `json:"sample_rate,omitempty" jsonschema:"audio sample rate in Hz"`
	Async        bool     `json:"async,omitempty" jsonschema:"queue the job and return its ID without waiting"`
}

type GetTimestampsInput struct {
	AudioPath    string `json:"audio_path" jsonschema:"audio file to transcribe"`
	OriginalText string `json:"original_text" jsonschema:"known transcript of the audio"`
	UsePrompt    bool   `json:"use_prompt,omitempty" jsonschema:"seed the recognizer with the end of the transcript"`
}

type AssignSpeakersInput struct {
	AudioPath string         `json:"audio_path" jsonschema:"audio file to transcribe and diarize"`
	Turns     []diarize.Turn `json:"turns,omitempty" jsonschema:"speaker turns to use instead of running the diarizer"`
	Async     bool           `json:"async,omitempty" jsonschema:"queue the job and return its ID without waiting"`
}

type JobInput struct {
	JobID string `json:"job_id" jsonschema:"job ID returned by a previous call"`
}

// NewServer creates a new MCP server with all tools registered.
func NewServer(dispatcher *service.Dispatcher, version string) *Server {
	s := &Server{
		dispatcher: dispatcher,
		logger:     logrus.WithField("component", "mcp"),
	}

	s.mcpServer = mcp.NewServer(&mcp.Implementation{
		Name:    "voice-align-mcp",
		Version: version,
	}, nil)

	s.registerTools()
	return s
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "align_transcript",
		Description: "Force-align a known transcript to audio or to a precomputed emission matrix and return word start/end times",
	}, s.handleAlignTranscript)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "get_timestamps",
		Description: "Transcribe audio with word timestamps and map them onto the original text",
	}, s.handleGetTimestamps)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "assign_speakers",
		Description: "Transcribe and diarize audio, labelling each segment and word with a speaker",
	}, s.handleAssignSpeakers)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "get_job",
		Description: "Get the status and result of a job",
	}, s.handleGetJob)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "list_jobs",
		Description: "List all jobs",
	}, s.handleListJobs)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "export_job",
		Description: "Export a job to a JSON file",
	}, s.handleExportJob)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "get_queue_status",
		Description: "Show worker pool and job queue status",
	}, s.handleGetQueueStatus)
}

// Start runs the server on stdio until ctx ends or the client disconnects.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("MCP server started")
	return s.mcpServer.Run(ctx, mcp.NewStdioTransport())
}

func (s *Server) handleAlignTranscript(ctx context.Context, _ *mcp.ServerSession, params *mcp.CallToolParamsFor[AlignTranscriptInput]) (*mcp.CallToolResultFor[any], error) {
	in := params.Arguments
	req := service.AlignRequest{
		Text:         in.Text,
		Words:        in.Words,
		AudioPath:    in.AudioPath,
		EmissionPath: in.EmissionPath,
		SampleCount:  in.SampleCount,
		SampleRate:   in.SampleRate,
	}

	if in.Async {
		id, err := s.dispatcher.AlignAsync(req)
		if err != nil {
			return nil, fmt.Errorf("failed to queue alignment: %w", err)
		}
		return textResult(fmt.Sprintf("Alignment queued as job %s. Use get_job to fetch the result.", id)), nil
	}

	resp, id, err := s.dispatcher.Align(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("alignment failed: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Aligned %d words (job %s, %.1f ms)\n", len(resp.Words), id, resp.LatencyMS)
	if resp.Repaired > 0 || resp.Extrapolated > 0 {
		fmt.Fprintf(&b, "Repaired: %d, extrapolated: %d\n", resp.Repaired, resp.Extrapolated)
	}
	for _, w := range resp.Warnings {
		fmt.Fprintf(&b, "Warning [%s]: %s\n", w.Code, w.Message)
	}
	b.WriteString("\n")
	for _, w := range resp.Words {
		fmt.Fprintf(&b, "%.3f-%.3f %s\n", w.Start, w.End, w.Word)
	}
	return textResult(b.String()), nil
}

func (s *Server) handleGetTimestamps(ctx context.Context, _ *mcp.ServerSession, params *mcp.CallToolParamsFor[GetTimestampsInput]) (*mcp.CallToolResultFor[any], error) {
	in := params.Arguments
	resp, _, err := s.dispatcher.Timestamps(ctx, service.TimestampsRequest{
		AudioPath:    in.AudioPath,
		OriginalText: in.OriginalText,
		UsePrompt:    in.UsePrompt,
	})
	if err != nil {
		return nil, fmt.Errorf("timestamps failed: %w", err)
	}
	return jsonResult(resp)
}

func (s *Server) handleAssignSpeakers(ctx context.Context, _ *mcp.ServerSession, params *mcp.CallToolParamsFor[AssignSpeakersInput]) (*mcp.CallToolResultFor[any], error) {
	in := params.Arguments
	req := service.SpeakersRequest{AudioPath: in.AudioPath, Turns: in.Turns}

	if in.Async {
		id, err := s.dispatcher.SpeakersAsync(req)
		if err != nil {
			return nil, fmt.Errorf("failed to queue speaker assignment: %w", err)
		}
		return textResult(fmt.Sprintf("Speaker assignment queued as job %s. Use get_job to fetch the result.", id)), nil
	}

	resp, _, err := s.dispatcher.Speakers(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("speaker assignment failed: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d segments, speakers: %s\n\n", len(resp.Segments), strings.Join(resp.Speakers, ", "))
	for _, seg := range resp.Segments {
		fmt.Fprintf(&b, "[%.2f-%.2f] %s: %s\n", seg.Start, seg.End, seg.Speaker, seg.Text)
	}
	return textResult(b.String()), nil
}

func (s *Server) handleGetJob(ctx context.Context, _ *mcp.ServerSession, params *mcp.CallToolParamsFor[JobInput]) (*mcp.CallToolResultFor[any], error) {
	job, err := s.dispatcher.Store().Get(params.Arguments.JobID)
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return jsonResult(job)
}

func (s *Server) handleListJobs(ctx context.Context, _ *mcp.ServerSession, params *mcp.CallToolParamsFor[EmptyInput]) (*mcp.CallToolResultFor[any], error) {
	list := s.dispatcher.Store().List()
	if len(list) == 0 {
		return textResult("No jobs found"), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d job(s):\n", len(list))
	for _, job := range list {
		fmt.Fprintf(&b, "- %s [%s] %s, submitted %s", job.ID, job.Kind, job.Status, job.SubmittedAt.Format("15:04:05"))
		if job.Status == jobs.StatusFailed {
			fmt.Fprintf(&b, ": %s", job.Error)
		}
		b.WriteString("\n")
	}
	return textResult(b.String()), nil
}

func (s *Server) handleExportJob(ctx context.Context, _ *mcp.ServerSession, params *mcp.CallToolParamsFor[JobInput]) (*mcp.CallToolResultFor[any], error) {
	path, err := s.dispatcher.Store().Export(params.Arguments.JobID)
	if err != nil {
		return nil, fmt.Errorf("failed to export job: %w", err)
	}
	return textResult(fmt.Sprintf("Job exported to %s", path)), nil
}

func (s *Server) handleGetQueueStatus(ctx context.Context, _ *mcp.ServerSession, params *mcp.CallToolParamsFor[EmptyInput]) (*mcp.CallToolResultFor[any], error) {
	status := s.dispatcher.Status()

	var b strings.Builder
	fmt.Fprintf(&b, "Workers: %d (%d active)\n", status.Workers, status.ActiveWorkers)
	fmt.Fprintf(&b, "Queue depth: %d (urgent %d, high %d, normal %d)\n", status.QueueDepth, status.UrgentDepth, status.HighDepth, status.NormalDepth)
	fmt.Fprintf(&b, "Tasks: %d queued, %d processed, %d failed, %d retried\n", status.TasksQueued, status.TasksProcessed, status.TasksFailed, status.TasksRetried)
	fmt.Fprintf(&b, "Average process time: %d ms\n", status.AverageProcessTime)
	for _, st := range []jobs.Status{jobs.StatusQueued, jobs.StatusRunning, jobs.StatusCompleted, jobs.StatusFailed} {
		fmt.Fprintf(&b, "Jobs %s: %d\n", st, status.Jobs[st])
	}
	return textResult(b.String()), nil
}

func textResult(text string) *mcp.CallToolResultFor[any] {
	return &mcp.CallToolResultFor[any]{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

func jsonResult(v any) (*mcp.CallToolResultFor[any], error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("error marshaling result: %w", err)
	}
	return textResult(string(data)), nil
}
