package gemini

import (
	"encoding/json"
	"fmt"

	"github.com/teslashibe/go-blue/pkg/live"
)

// Outbound messages use the protocol's snake_case field names.

type clientMessage struct {
	Setup         *setupMessage         `json:"setup,omitempty"`
	RealtimeInput *realtimeInputMessage `json:"realtime_input,omitempty"`
	ToolResponse  *toolResponseMessage  `json:"tool_response,omitempty"`
}

type setupMessage struct {
	Model                    string            `json:"model"`
	GenerationConfig         generationConfig  `json:"generation_config"`
	SystemInstruction        *content          `json:"system_instruction,omitempty"`
	Tools                    []toolDeclaration `json:"tools,omitempty"`
	InputAudioTranscription  *struct{}         `json:"input_audio_transcription,omitempty"`
	OutputAudioTranscription *struct{}         `json:"output_audio_transcription,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string      `json:"response_modalities"`
	SpeechConfig       *speechConfig `json:"speech_config,omitempty"`
}

type speechConfig struct {
	VoiceConfig  *voiceConfig `json:"voice_config,omitempty"`
	LanguageCode string       `json:"language_code,omitempty"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoiceConfig `json:"prebuilt_voice_config"`
}

type prebuiltVoiceConfig struct {
	VoiceName string `json:"voice_name"`
}

type toolDeclaration struct {
	FunctionDeclarations []live.Tool `json:"function_declarations,omitempty"`
	CodeExecution        *struct{}   `json:"code_execution,omitempty"`
}

type realtimeInputMessage struct {
	Audio *blob `json:"audio"`
}

type toolResponseMessage struct {
	FunctionResponses []functionResponse `json:"function_responses"`
}

type functionResponse struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

// Inbound messages arrive with camelCase field names.

type serverMessage struct {
	SetupComplete        *struct{}             `json:"setupComplete"`
	ServerContent        *serverContent        `json:"serverContent"`
	ToolCall             *toolCall             `json:"toolCall"`
	ToolCallCancellation *toolCallCancellation `json:"toolCallCancellation"`
	GoAway               *goAway               `json:"goAway"`
}

type serverContent struct {
	ModelTurn           *content       `json:"modelTurn"`
	TurnComplete        bool           `json:"turnComplete"`
	Interrupted         bool           `json:"interrupted"`
	InputTranscription  *transcription `json:"inputTranscription"`
	OutputTranscription *transcription `json:"outputTranscription"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text       string `json:"text,omitempty"`
	InlineData *blob  `json:"inlineData,omitempty"`
}

// blob marshals with the outbound name but accepts both spellings.
type blob struct {
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"`
}

func (b *blob) UnmarshalJSON(data []byte) error {
	var raw struct {
		MIMETypeCamel string `json:"mimeType"`
		MIMEType      string `json:"mime_type"`
		Data          string `json:"data"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	b.MIMEType = raw.MIMETypeCamel
	if b.MIMEType == "" {
		b.MIMEType = raw.MIMEType
	}
	b.Data = raw.Data
	return nil
}

type transcription struct {
	Text string `json:"text"`
}

type toolCall struct {
	FunctionCalls []functionCall `json:"functionCalls"`
}

type functionCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

type toolCallCancellation struct {
	IDs []string `json:"ids"`
}

type goAway struct {
	TimeLeft string `json:"timeLeft"`
}

// buildSetup converts a live.Setup into the wire setup message.
func buildSetup(setup live.Setup, model string) clientMessage {
	msg := &setupMessage{
		Model: model,
		GenerationConfig: generationConfig{
			ResponseModalities: []string{string(setup.ResponseModality)},
		},
	}
	if setup.Voice != "" || setup.Language != "" {
		sc := &speechConfig{LanguageCode: setup.Language}
		if setup.Voice != "" {
			sc.VoiceConfig = &voiceConfig{PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: setup.Voice}}
		}
		msg.GenerationConfig.SpeechConfig = sc
	}
	if setup.SystemInstruction != "" {
		msg.SystemInstruction = &content{Parts: []part{{Text: setup.SystemInstruction}}}
	}
	if len(setup.Tools) > 0 {
		msg.Tools = append(msg.Tools, toolDeclaration{FunctionDeclarations: setup.Tools})
	}
	if setup.CodeExecution {
		msg.Tools = append(msg.Tools, toolDeclaration{CodeExecution: &struct{}{}})
	}
	if setup.InputTranscription {
		msg.InputAudioTranscription = &struct{}{}
	}
	if setup.OutputTranscription {
		msg.OutputAudioTranscription = &struct{}{}
	}
	return clientMessage{Setup: msg}
}

// decodeMessage converts one server message into events. Within a message,
// events are ordered: interruption, tool calls, output transcript, input
// transcript, audio, turn completion.
func decodeMessage(data []byte) ([]live.Event, error) {
	var msg serverMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decode server message: %w", err)
	}

	var events []live.Event

	if msg.SetupComplete != nil {
		events = append(events, live.Event{Kind: live.EventSetupComplete})
	}

	sc := msg.ServerContent
	if sc != nil && sc.Interrupted {
		events = append(events, live.Event{Kind: live.EventInterrupted})
	}

	if msg.ToolCall != nil && len(msg.ToolCall.FunctionCalls) > 0 {
		calls := make([]live.ToolCall, 0, len(msg.ToolCall.FunctionCalls))
		for _, fc := range msg.ToolCall.FunctionCalls {
			calls = append(calls, live.ToolCall{ID: fc.ID, Name: fc.Name, Args: fc.Args})
		}
		events = append(events, live.ToolCallEvent(calls...))
	}

	if sc == nil {
		return events, nil
	}

	if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
		events = append(events, live.OutputTranscriptEvent(sc.OutputTranscription.Text))
	}
	if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
		events = append(events, live.InputTranscriptEvent(sc.InputTranscription.Text))
	}
	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			if p.InlineData != nil && p.InlineData.Data != "" {
				events = append(events, live.AudioEvent(p.InlineData.Data, p.InlineData.MIMEType))
			}
		}
	}
	if sc.TurnComplete {
		events = append(events, live.Event{Kind: live.EventTurnComplete})
	}

	return events, nil
}
