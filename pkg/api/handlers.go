package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/openagentd/agentd/pkg/models"
	"github.com/openagentd/agentd/pkg/service"
)

type createAgentRequest struct {
	UserID   string              `json:"user_id" binding:"required"`
	FlowType string              `json:"flow_type"`
	LLM      models.LLMOverrides `json:"llm"`
}

type createAgentResponse struct {
	AgentID string `json:"agent_id"`
	Status  string `json:"status"`
}

func (s *Server) createAgent(c *gin.Context) {
	var req createAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	record, err := s.svc.CreateAgent(c.Request.Context(), req.UserID, req.FlowType, req.LLM)
	if err != nil {
		c.JSON(mapServiceError(err), errorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusCreated, createAgentResponse{
		AgentID: record.AgentID,
		Status:  string(record.Status),
	})
}

func (s *Server) getAgent(c *gin.Context) {
	record, err := s.svc.GetAgent(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(mapServiceError(err), errorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, record)
}

func (s *Server) deleteAgent(c *gin.Context) {
	if err := s.svc.DeleteAgent(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(mapServiceError(err), errorResponse{Error: err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) listFlows(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"flows": s.svc.Flows()})
}

type sendMessageRequest struct {
	Message   string     `json:"message" binding:"required"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
	FileIDs   []string   `json:"file_ids,omitempty"`
}

func (s *Server) sendMessage(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	message := req.Message
	if len(req.FileIDs) > 0 {
		message = fmt.Sprintf("%s\n\n[attached files: %s]", message, strings.Join(req.FileIDs, ", "))
	}
	if err := s.svc.SendMessage(c.Request.Context(), c.Param("id"), message); err != nil {
		c.JSON(mapServiceError(err), errorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

// streamEvents serves the resumable SSE stream: a replay of persisted events
// from from_sequence, then live delivery. The event sequence doubles as the
// SSE id, so clients resume with Last-Event-ID semantics by passing it back
// as from_sequence + 1.
func (s *Server) streamEvents(c *gin.Context) {
	from := int64(1)
	if raw := c.Query("from_sequence"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 1 {
			c.JSON(http.StatusBadRequest, errorResponse{Error: "from_sequence must be a positive integer"})
			return
		}
		from = parsed
	}

	stream, err := s.svc.OpenStream(c.Request.Context(), c.Param("id"), from)
	if err != nil {
		c.JSON(mapServiceError(err), errorResponse{Error: err.Error()})
		return
	}
	defer stream.Close()

	header := c.Writer.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	ctx := c.Request.Context()
	for {
		ev, err := stream.Next(ctx)
		switch {
		case err != nil:
			// Done, subscriber dropped, or client cancelled; all of them
			// terminate the stream.
			return
		case ev == nil:
			// Keep-alive tick.
			if _, werr := fmt.Fprint(c.Writer, ": keep-alive\n\n"); werr != nil {
				return
			}
			c.Writer.Flush()
		default:
			if _, werr := fmt.Fprintf(c.Writer, "id: %d\nevent: %s\ndata: %s\n\n",
				ev.Sequence, ev.Type, ev.Payload); werr != nil {
				return
			}
			c.Writer.Flush()
		}
	}
}

func (s *Server) execShell(c *gin.Context) {
	var req service.ShellRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	result, err := s.svc.ExecShell(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		c.JSON(mapServiceError(err), errorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) writeFile(c *gin.Context) {
	var req service.FileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	result, err := s.svc.WriteFile(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		c.JSON(mapServiceError(err), errorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

type listFilesRequest struct {
	Path string `json:"path" binding:"required"`
}

func (s *Server) listFiles(c *gin.Context) {
	var req listFilesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	result, err := s.svc.ListFiles(c.Request.Context(), c.Param("id"), req.Path)
	if err != nil {
		c.JSON(mapServiceError(err), errorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) downloadFile(c *gin.Context) {
	path := c.Query("path")
	if path == "" {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "path query parameter is required"})
		return
	}
	data, err := s.svc.DownloadFile(c.Request.Context(), c.Param("id"), path)
	if err != nil {
		c.JSON(mapServiceError(err), errorResponse{Error: err.Error()})
		return
	}
	c.Data(http.StatusOK, "application/octet-stream", data)
}
