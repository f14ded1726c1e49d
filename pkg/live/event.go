package live

import "fmt"

// EventKind discriminates the Event union.
type EventKind int

const (
	// EventAudioChunk carries base64 PCM16 model audio, 24 kHz mono.
	EventAudioChunk EventKind = iota + 1
	// EventInputTranscript carries a delta of the user's transcript.
	EventInputTranscript
	// EventOutputTranscript carries a delta of the model's transcript.
	EventOutputTranscript
	// EventTurnComplete marks the end of a model turn.
	EventTurnComplete
	// EventToolCall carries one or more tool invocation requests.
	EventToolCall
	// EventInterrupted reports that the user barged in on model audio.
	EventInterrupted
	// EventSetupComplete acknowledges the session setup.
	EventSetupComplete
	// EventSessionError reports a fatal error. It is the last event.
	EventSessionError
	// EventSessionClosed reports a remote close. It is the last event.
	EventSessionClosed
)

var kindNames = map[EventKind]string{
	EventAudioChunk:       "audio_chunk",
	EventInputTranscript:  "input_transcript",
	EventOutputTranscript: "output_transcript",
	EventTurnComplete:     "turn_complete",
	EventToolCall:         "tool_call",
	EventInterrupted:      "interrupted",
	EventSetupComplete:    "setup_complete",
	EventSessionError:     "session_error",
	EventSessionClosed:    "session_closed",
}

// String returns the snake_case kind name.
func (k EventKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("event(%d)", int(k))
}

// Event is one inbound server event.
type Event struct {
	Kind EventKind

	// Audio is the base64 payload of an EventAudioChunk.
	Audio string

	// MIMEType is the declared type of Audio, if the endpoint sent one.
	MIMEType string

	// Text is the delta of a transcript event.
	Text string

	// ToolCalls are the requests of an EventToolCall.
	ToolCalls []ToolCall

	// Err is the cause of an EventSessionError.
	Err error
}

// AudioEvent builds an EventAudioChunk.
func AudioEvent(data, mimeType string) Event {
	return Event{Kind: EventAudioChunk, Audio: data, MIMEType: mimeType}
}

// InputTranscriptEvent builds an EventInputTranscript.
func InputTranscriptEvent(text string) Event {
	return Event{Kind: EventInputTranscript, Text: text}
}

// OutputTranscriptEvent builds an EventOutputTranscript.
func OutputTranscriptEvent(text string) Event {
	return Event{Kind: EventOutputTranscript, Text: text}
}

// ToolCallEvent builds an EventToolCall.
func ToolCallEvent(calls ...ToolCall) Event {
	return Event{Kind: EventToolCall, ToolCalls: calls}
}

// ToolCall is one tool invocation requested by the model.
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// ToolResult answers exactly one ToolCall.
type ToolResult struct {
	// ID and Name echo the ToolCall.
	ID   string `json:"id"`
	Name string `json:"name"`

	// Response is the structured result returned to the model.
	Response map[string]any `json:"response"`
}

// AckResult is the acknowledgement sent when no dispatcher handles a call.
func AckResult(call ToolCall) ToolResult {
	return ToolResult{ID: call.ID, Name: call.Name, Response: map[string]any{"result": "ok"}}
}

// ErrorResult reports a dispatch failure back to the model.
func ErrorResult(call ToolCall, err error) ToolResult {
	return ToolResult{ID: call.ID, Name: call.Name, Response: map[string]any{"error": err.Error()}}
}
