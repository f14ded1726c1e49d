package live

import (
	"errors"
	"time"
)

// Modality is a response modality requested from the model.
type Modality string

const (
	ModalityAudio Modality = "AUDIO"
	ModalityText  Modality = "TEXT"
)

// Defaults for the Blue assistant.
const (
	DefaultModel = "gemini-2.5-flash-native-audio-preview-09-2025"
	DefaultVoice = "Zephyr"

	DefaultCloseTimeout     = 2 * time.Second
	DefaultHandshakeTimeout = 15 * time.Second
)

// Setup is sent once when the session opens.
type Setup struct {
	Model             string
	ResponseModality  Modality
	Voice             string
	SystemInstruction string

	// Language is a BCP-47 speech language code, empty for the default.
	Language string

	// Tools are passed through to the endpoint unchanged.
	Tools []Tool

	// CodeExecution enables the endpoint's built-in code execution tool.
	CodeExecution bool

	InputTranscription  bool
	OutputTranscription bool
}

// DefaultSetup returns an audio setup with both transcriptions enabled.
func DefaultSetup() Setup {
	return Setup{
		Model:               DefaultModel,
		ResponseModality:    ModalityAudio,
		Voice:               DefaultVoice,
		InputTranscription:  true,
		OutputTranscription: true,
	}
}

// Validate checks that the setup can be sent.
func (s Setup) Validate() error {
	if s.Model == "" {
		return errors.New("live: setup model is required")
	}
	switch s.ResponseModality {
	case ModalityAudio, ModalityText:
	default:
		return errors.New("live: setup response modality must be AUDIO or TEXT")
	}
	seen := make(map[string]bool, len(s.Tools))
	for _, t := range s.Tools {
		if t.Name == "" {
			return errors.New("live: tool name is required")
		}
		if seen[t.Name] {
			return errors.New("live: duplicate tool " + t.Name)
		}
		seen[t.Name] = true
	}
	return nil
}

// Tool declares a function the model may call.
type Tool struct {
	Name        string  `yaml:"name" json:"name"`
	Description string  `yaml:"description" json:"description"`
	Parameters  *Schema `yaml:"parameters,omitempty" json:"parameters,omitempty"`
}

// Schema types, as the endpoint spells them.
const (
	TypeObject  = "OBJECT"
	TypeString  = "STRING"
	TypeNumber  = "NUMBER"
	TypeInteger = "INTEGER"
	TypeBoolean = "BOOLEAN"
	TypeArray   = "ARRAY"
)

// Schema is an OpenAPI-style parameter schema.
type Schema struct {
	Type        string             `yaml:"type" json:"type"`
	Description string             `yaml:"description,omitempty" json:"description,omitempty"`
	Properties  map[string]*Schema `yaml:"properties,omitempty" json:"properties,omitempty"`
	Required    []string           `yaml:"required,omitempty" json:"required,omitempty"`
	Items       *Schema            `yaml:"items,omitempty" json:"items,omitempty"`
	Enum        []string           `yaml:"enum,omitempty" json:"enum,omitempty"`
}
