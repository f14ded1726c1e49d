// Package config loads the blue.yaml configuration file and applies
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/teslashibe/go-blue/pkg/audioio"
	"github.com/teslashibe/go-blue/pkg/live"
	"github.com/teslashibe/go-blue/pkg/tools"
)

// DefaultPath is the config file read when --config is not given.
const DefaultPath = "blue.yaml"

// Transport names.
const (
	TransportWebsocket = "gemini-ws"
	TransportGenAI     = "genai"
)

// Config is the top-level structure of blue.yaml.
type Config struct {
	Version   int             `yaml:"version"`
	Endpoint  EndpointConfig  `yaml:"endpoint"`
	Voice     VoiceConfig     `yaml:"voice"`
	Audio     AudioConfig     `yaml:"audio"`
	Tools     ToolsConfig     `yaml:"tools"`
	Dashboard DashboardConfig `yaml:"dashboard"`
	Log       LogConfig       `yaml:"log"`
}

// EndpointConfig selects the streaming endpoint.
type EndpointConfig struct {
	Transport string `yaml:"transport"` // "gemini-ws" | "genai"
	Model     string `yaml:"model"`

	// APIKey is usually left empty and read from APIKeyEnv.
	APIKey    string `yaml:"api_key,omitempty"`
	APIKeyEnv string `yaml:"api_key_env"`

	// Project and Location select Vertex AI instead of the Gemini API.
	Project  string `yaml:"project,omitempty"`
	Location string `yaml:"location,omitempty"`

	// URL overrides the websocket endpoint.
	URL string `yaml:"url,omitempty"`

	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	CloseTimeout     time.Duration `yaml:"close_timeout"`
}

// VoiceConfig controls the model's voice and instructions.
type VoiceConfig struct {
	Name string `yaml:"name"`

	// Language is a BCP-47 code, empty for the model default.
	Language string `yaml:"language,omitempty"`

	// SystemPrompt replaces the manifest's instructions when set.
	SystemPrompt string `yaml:"system_prompt,omitempty"`

	InputTranscription  bool `yaml:"input_transcription"`
	OutputTranscription bool `yaml:"output_transcription"`
}

// AudioConfig holds the microphone and speaker settings.
type AudioConfig struct {
	Capture audioio.Config `yaml:"capture"`
	Output  audioio.Config `yaml:"output"`
}

// ToolsConfig controls the tool manifest and dispatch.
type ToolsConfig struct {
	// Manifest is a YAML tool manifest, empty for the built-in one.
	Manifest string        `yaml:"manifest,omitempty"`
	Timeout  time.Duration `yaml:"timeout"`
}

// DashboardConfig controls the HTTP dashboard.
type DashboardConfig struct {
	Addr         string `yaml:"addr"`
	HistoryLimit int    `yaml:"history_limit"`
}

// LogConfig controls logging.
type LogConfig struct {
	Level  string `yaml:"level"`            // debug | info | warn | error
	Format string `yaml:"format,omitempty"` // text | json; empty picks from GO_ENV
}

// DefaultConfig returns a Config populated with defaults.
func DefaultConfig() *Config {
	return &Config{
		Version: 1,
		Endpoint: EndpointConfig{
			Transport:        TransportWebsocket,
			Model:            live.DefaultModel,
			APIKeyEnv:        "GEMINI_API_KEY",
			HandshakeTimeout: live.DefaultHandshakeTimeout,
			CloseTimeout:     live.DefaultCloseTimeout,
		},
		Voice: VoiceConfig{
			Name:                live.DefaultVoice,
			InputTranscription:  true,
			OutputTranscription: true,
		},
		Audio: AudioConfig{
			Capture: audioio.DefaultCaptureConfig(),
			Output:  audioio.DefaultOutputConfig(),
		},
		Tools: ToolsConfig{
			Timeout: 10 * time.Second,
		},
		Dashboard: DashboardConfig{
			Addr:         ":8181",
			HistoryLimit: 200,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads path over the defaults and applies environment overrides. A
// missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("reading config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}

	cfg.ApplyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Write saves cfg to path, creating parent directories.
func Write(path string, cfg *Config) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// ApplyEnv overrides fields from the environment.
func (c *Config) ApplyEnv() {
	if c.Endpoint.APIKey == "" {
		for _, name := range []string{c.Endpoint.APIKeyEnv, "GEMINI_API_KEY", "GOOGLE_API_KEY"} {
			if name == "" {
				continue
			}
			if key := os.Getenv(name); key != "" {
				c.Endpoint.APIKey = key
				break
			}
		}
	}
	if v := os.Getenv("BLUE_TRANSPORT"); v != "" {
		c.Endpoint.Transport = v
	}
	if v := os.Getenv("BLUE_MODEL"); v != "" {
		c.Endpoint.Model = v
	}
	if v := os.Getenv("BLUE_VOICE"); v != "" {
		c.Voice.Name = v
	}
	if v := os.Getenv("BLUE_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("BLUE_LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
	if v := os.Getenv("BLUE_DASHBOARD_ADDR"); v != "" {
		c.Dashboard.Addr = v
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	switch c.Endpoint.Transport {
	case TransportWebsocket, TransportGenAI:
	default:
		return fmt.Errorf("endpoint.transport must be %q or %q, got %q", TransportWebsocket, TransportGenAI, c.Endpoint.Transport)
	}
	if c.Endpoint.Model == "" {
		return errors.New("endpoint.model is required")
	}
	if (c.Endpoint.Project == "") != (c.Endpoint.Location == "") {
		return errors.New("endpoint.project and endpoint.location must be set together")
	}
	if c.Endpoint.HandshakeTimeout <= 0 {
		return fmt.Errorf("endpoint.handshake_timeout must be positive, got %v", c.Endpoint.HandshakeTimeout)
	}
	if c.Endpoint.CloseTimeout <= 0 {
		return fmt.Errorf("endpoint.close_timeout must be positive, got %v", c.Endpoint.CloseTimeout)
	}
	if err := c.Audio.Capture.Validate(); err != nil {
		return fmt.Errorf("audio.capture: %w", err)
	}
	if err := c.Audio.Output.Validate(); err != nil {
		return fmt.Errorf("audio.output: %w", err)
	}
	if c.Tools.Timeout <= 0 {
		return fmt.Errorf("tools.timeout must be positive, got %v", c.Tools.Timeout)
	}
	if c.Dashboard.HistoryLimit < 0 {
		return fmt.Errorf("dashboard.history_limit must not be negative, got %d", c.Dashboard.HistoryLimit)
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn or error, got %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}

// Vertex reports whether the endpoint targets Vertex AI.
func (c *Config) Vertex() bool {
	return c.Endpoint.Project != "" && c.Endpoint.Location != ""
}

// RequireCredentials fails when no API key is set for the Gemini API.
// Vertex AI uses Application Default Credentials.
func (c *Config) RequireCredentials() error {
	if c.Vertex() || c.Endpoint.APIKey != "" {
		return nil
	}
	return fmt.Errorf("%w: set %s or endpoint.api_key", live.ErrMissingAPIKey, c.Endpoint.APIKeyEnv)
}

// Setup builds the session setup from the voice section and a manifest.
func (c *Config) Setup(m *tools.Manifest) live.Setup {
	setup := live.DefaultSetup()
	setup.Model = c.Endpoint.Model
	setup.Voice = c.Voice.Name
	setup.Language = c.Voice.Language
	setup.SystemInstruction = c.Voice.SystemPrompt
	setup.InputTranscription = c.Voice.InputTranscription
	setup.OutputTranscription = c.Voice.OutputTranscription
	if m != nil {
		m.Apply(&setup)
	}
	return setup
}
