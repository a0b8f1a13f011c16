package httpapi

import (
	"context"
	"errors"
	"io/fs"
	"net/http"

	"github.com/fankserver/voice-align-mcp/internal/jobs"
	"github.com/fankserver/voice-align-mcp/internal/pipeline"
	"github.com/fankserver/voice-align-mcp/internal/service"
	"github.com/fankserver/voice-align-mcp/pkg/align"
	"github.com/gin-gonic/gin"
)

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case align.IsInputError(err):
		return http.StatusBadRequest
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, jobs.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, pipeline.ErrProcessTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, pipeline.ErrQueueFull), errors.Is(err, pipeline.ErrQueueStopped), errors.Is(err, service.ErrBackendUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, jobID string, err error) {
	body := gin.H{"error": err.Error()}
	if jobID != "" {
		body["job_id"] = jobID
	}
	c.JSON(statusFor(err), body)
}

func bindJSON(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return false
	}
	return true
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, s.dispatcher.Service().Health())
}

func (s *Server) handleTimestamps(c *gin.Context) {
	var req service.TimestampsRequest
	if !bindJSON(c, &req) {
		return
	}
	resp, id, err := s.dispatcher.Timestamps(c.Request.Context(), req)
	if err != nil {
		respondError(c, id, err)
		return
	}
	c.Header("X-Job-Id", id)
	c.JSON(http.StatusOK, resp)
}

// handleAlign runs an alignment. With ?async=true it returns 202 and the
// job ID instead of waiting.
func (s *Server) handleAlign(c *gin.Context) {
	var req service.AlignRequest
	if !bindJSON(c, &req) {
		return
	}

	if c.Query("async") == "true" {
		id, err := s.dispatcher.AlignAsync(req)
		if err != nil {
			respondError(c, id, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"job_id": id})
		return
	}

	resp, id, err := s.dispatcher.Align(c.Request.Context(), req)
	if err != nil {
		respondError(c, id, err)
		return
	}
	c.Header("X-Job-Id", id)
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleSpeakers(c *gin.Context) {
	var req service.SpeakersRequest
	if !bindJSON(c, &req) {
		return
	}

	if c.Query("async") == "true" {
		id, err := s.dispatcher.SpeakersAsync(req)
		if err != nil {
			respondError(c, id, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"job_id": id})
		return
	}

	resp, id, err := s.dispatcher.Speakers(c.Request.Context(), req)
	if err != nil {
		respondError(c, id, err)
		return
	}
	c.Header("X-Job-Id", id)
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleGetJob(c *gin.Context) {
	job, err := s.dispatcher.Store().Get(c.Param("id"))
	if err != nil {
		respondError(c, "", err)
		return
	}
	c.JSON(http.StatusOK, job)
}

func (s *Server) handleListJobs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"jobs": s.dispatcher.Store().List()})
}

func (s *Server) handleQueueStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.dispatcher.Status())
}
