package web

import (
	"time"

	"github.com/teslashibe/go-blue/pkg/live"
	"github.com/teslashibe/go-blue/pkg/voicesession"
)

// Event types streamed on /ws/events.
const (
	EventStatus       = "status"
	EventTranscript   = "transcript"
	EventFunctionCall = "function_call"
	EventError        = "error"
)

// Event is one message on /ws/events.
type Event struct {
	Type string    `json:"type"`
	Time time.Time `json:"time"`

	Status    voicesession.Status `json:"status,omitempty"`
	SessionID string              `json:"session_id,omitempty"`

	Final bool   `json:"final,omitempty"`
	User  string `json:"user,omitempty"`
	Model string `json:"model,omitempty"`

	Call  *live.ToolCall `json:"call,omitempty"`
	Error string         `json:"error,omitempty"`
}

func (s *Server) publish(ev Event) {
	ev.Time = time.Now()
	if err := s.events.BroadcastJSON(ev); err != nil {
		s.logger.Warn("encoding event", "type", ev.Type, "error", err)
	}
}

// Callbacks returns session callbacks that feed the dashboard.
func (s *Server) Callbacks() voicesession.Callbacks {
	return voicesession.Callbacks{
		OnStatusChange: func(status voicesession.Status) {
			s.publish(Event{Type: EventStatus, Status: status, SessionID: s.session.SessionID()})
		},
		OnTranscriptionUpdate: func(final bool, user, model string) {
			if final {
				s.addTurn(user, model)
			}
			s.publish(Event{Type: EventTranscript, Final: final, User: user, Model: model})
		},
		OnFunctionCall: func(call live.ToolCall) {
			s.publish(Event{Type: EventFunctionCall, Call: &call})
		},
		OnError: func(err error) {
			s.setLastError(err.Error())
			s.publish(Event{Type: EventError, Error: err.Error()})
		},
		Dispatch: s.dispatch,
	}
}
