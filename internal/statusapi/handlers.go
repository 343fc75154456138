package statusapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/kingrea/stepflow/internal/workflow/engine"
)

// ErrorResponse is the JSON body of every non-2xx reply.
type ErrorResponse struct {
	Error   string   `json:"error"`
	Status  int      `json:"status"`
	Reasons []string `json:"reasons,omitempty"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status        ServerStatus `json:"status"`
	Version       int          `json:"version"`
	EngineID      string       `json:"engine_id"`
	UptimeSeconds int64        `json:"uptime_seconds"`
}

// ExecuteResponse is returned by POST /workflow/steps/:id/execute.
type ExecuteResponse struct {
	StepID  string            `json:"step_id"`
	Success bool              `json:"success"`
	Step    engine.StepStatus `json:"step"`
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:        s.Status(),
		Version:       APIVersion,
		EngineID:      s.engine.ID(),
		UptimeSeconds: s.uptimeSeconds(),
	})
}

func (s *Server) handleState(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.Snapshot())
}

func (s *Server) listSteps(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"steps": s.engine.Snapshot().Steps})
}

func (s *Server) getStep(c *gin.Context) {
	id := c.Param("stepID")
	step, ok := s.engine.Snapshot().Step(id)
	if !ok {
		s.writeError(c, http.StatusNotFound, engine.ErrStepNotFound.Error()+": "+id, nil)
		return
	}
	c.JSON(http.StatusOK, step)
}

func (s *Server) listExecutable(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"executable": s.engine.Snapshot().Executable})
}

func (s *Server) listBlocked(c *gin.Context) {
	blocked := s.engine.BlockedSteps()
	if blocked == nil {
		blocked = map[string][]string{}
	}
	c.JSON(http.StatusOK, gin.H{"blocked": blocked})
}

func (s *Server) executeStep(c *gin.Context) {
	id := c.Param("stepID")
	var opts []engine.ExecuteOption
	if queryBool(c, "fail") {
		opts = append(opts, engine.WithForcedFailure())
	}
	if queryBool(c, "rerun") {
		opts = append(opts, engine.WithRerun())
	}
	ok, err := s.engine.ExecuteStep(c.Request.Context(), id, opts...)
	if err != nil {
		var transition *engine.TransitionError
		switch {
		case errors.Is(err, engine.ErrStepNotFound):
			s.writeError(c, http.StatusNotFound, err.Error(), nil)
		case errors.As(err, &transition):
			s.writeError(c, http.StatusConflict, err.Error(), transition.Reasons)
		case errors.Is(err, engine.ErrStepReset):
			s.writeError(c, http.StatusConflict, err.Error(), nil)
		default:
			s.writeError(c, http.StatusInternalServerError, err.Error(), nil)
		}
		return
	}
	step, _ := s.engine.Snapshot().Step(id)
	c.JSON(http.StatusOK, ExecuteResponse{StepID: id, Success: ok, Step: step})
}

func (s *Server) resetWorkflow(c *gin.Context) {
	s.engine.Reset()
	c.JSON(http.StatusOK, s.engine.Snapshot())
}

func (s *Server) writeError(c *gin.Context, status int, message string, reasons []string) {
	s.logger.Warn("status api request failed", "path", c.Request.URL.Path, "status", status, "error", message)
	c.JSON(status, ErrorResponse{Error: message, Status: status, Reasons: reasons})
}

func queryBool(c *gin.Context, key string) bool {
	value, ok := c.GetQuery(key)
	if !ok {
		return false
	}
	if value == "" {
		return true
	}
	parsed, err := strconv.ParseBool(value)
	return err == nil && parsed
}
