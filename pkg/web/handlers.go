package web

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-blue/pkg/hub"
	"github.com/teslashibe/go-blue/pkg/live"
	"github.com/teslashibe/go-blue/pkg/tools"
	"github.com/teslashibe/go-blue/pkg/voicesession"
)

// StatusResponse is returned by /api/status and the session endpoints.
type StatusResponse struct {
	Status    voicesession.Status   `json:"status"`
	SessionID string                `json:"session_id,omitempty"`
	LastError string                `json:"last_error,omitempty"`
	Clients   int                   `json:"clients"`
	Dropped   int64                 `json:"dropped_events"`
	Metrics   *voicesession.Metrics `json:"metrics,omitempty"`
}

// ToolInfo describes an available tool
type ToolInfo struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Parameters  []string `json:"parameters"`
}

func (s *Server) status(withMetrics bool) StatusResponse {
	resp := StatusResponse{
		Status:    s.session.Status(),
		SessionID: s.session.SessionID(),
		LastError: s.getLastError(),
		Clients:   s.events.ClientCount(),
		Dropped:   s.events.Dropped(),
	}
	if withMetrics {
		m := s.session.Metrics()
		resp.Metrics = &m
	}
	return resp
}

// handleStart opens a session. It returns once the session is active.
func (s *Server) handleStart(c *fiber.Ctx) error {
	if err := s.session.Start(s.ctx, s.Callbacks()); err != nil {
		s.logger.Warn("session start failed", "error", err)
		code := fiber.StatusBadGateway
		if live.IsRetryable(err) {
			code = fiber.StatusServiceUnavailable
		}
		return c.Status(code).JSON(fiber.Map{
			"error":  err.Error(),
			"status": s.session.Status(),
		})
	}
	return c.JSON(s.status(false))
}

// handleStop ends the session. Stopping an idle session is not an error.
func (s *Server) handleStop(c *fiber.Ctx) error {
	s.session.Stop()
	return c.JSON(s.status(false))
}

// handleStatus returns the session state and counters
func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(s.status(true))
}

// handleListTools returns the tool manifest
func (s *Server) handleListTools(c *fiber.Ctx) error {
	out := []ToolInfo{}
	if s.manifest != nil {
		for _, t := range s.manifest.Tools {
			out = append(out, ToolInfo{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  tools.Parameters(t),
			})
		}
	}
	return c.JSON(out)
}

// handleHistory returns finished turns
func (s *Server) handleHistory(c *fiber.Ctx) error {
	return c.JSON(s.History())
}

// handleEventsWS streams session events, starting with the current status.
func (s *Server) handleEventsWS(c *websocket.Conn) {
	initial, err := hub.Encode(Event{
		Type:      EventStatus,
		Status:    s.session.Status(),
		SessionID: s.session.SessionID(),
	})
	if err != nil {
		s.logger.Warn("encoding status", "error", err)
		return
	}
	hub.NewClient(s.events, c, initial).Run()
}
