// Package genailive implements live.Transport with the Google Gen AI SDK's
// Live client. It supports the same endpoints as package gemini but lets the
// SDK own the wire protocol and credential discovery.
package genailive

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
	"google.golang.org/genai"

	"github.com/teslashibe/go-blue/internal/httpc"
	"github.com/teslashibe/go-blue/pkg/audioio"
	"github.com/teslashibe/go-blue/pkg/live"
)

// Name is the transport name.
const Name = "genai"

// Config selects the backend. APIKey targets the Gemini API; Project and
// Location target Vertex AI with Application Default Credentials.
type Config struct {
	APIKey   string
	Project  string
	Location string
}

// Transport dials Live sessions through the SDK.
type Transport struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	client *genai.Client
}

// New creates an SDK transport. The client is created on first Dial.
func New(cfg Config, logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{
		cfg:    cfg,
		logger: logger.With("component", "live.genai"),
	}
}

// Name returns "genai".
func (t *Transport) Name() string {
	return Name
}

func (t *Transport) clientFor(ctx context.Context) (*genai.Client, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.client != nil {
		return t.client, nil
	}

	cc := &genai.ClientConfig{}
	switch {
	case t.cfg.Project != "" && t.cfg.Location != "":
		cc.Backend = genai.BackendVertexAI
		cc.Project = t.cfg.Project
		cc.Location = t.cfg.Location
	case t.cfg.APIKey != "":
		cc.Backend = genai.BackendGeminiAPI
		cc.APIKey = t.cfg.APIKey
		cc.HTTPClient = httpc.Client
	default:
		return nil, live.ErrMissingAPIKey
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}
	t.client = client
	return client, nil
}

// Dial connects a Live session. The SDK completes the setup exchange
// before Connect returns.
func (t *Transport) Dial(ctx context.Context, setup live.Setup) (live.Stream, error) {
	client, err := t.clientFor(ctx)
	if err != nil {
		return nil, &live.ConnectError{Transport: Name, Cause: err}
	}

	session, err := client.Live.Connect(ctx, setup.Model, connectConfig(setup))
	if err != nil {
		return nil, &live.ConnectError{Transport: Name, Cause: err}
	}

	t.logger.Info("genai live connected", "model", setup.Model)
	return newStream(session, t.logger), nil
}

func connectConfig(setup live.Setup) *genai.LiveConnectConfig {
	cfg := &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{genai.Modality(setup.ResponseModality)},
	}
	if setup.Voice != "" || setup.Language != "" {
		cfg.SpeechConfig = &genai.SpeechConfig{LanguageCode: setup.Language}
		if setup.Voice != "" {
			cfg.SpeechConfig.VoiceConfig = &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: setup.Voice},
			}
		}
	}
	if setup.SystemInstruction != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: setup.SystemInstruction}}}
	}
	if len(setup.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(setup.Tools))
		for _, tool := range setup.Tools {
			decls = append(decls, &genai.FunctionDeclaration{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  convertSchema(tool.Parameters),
			})
		}
		cfg.Tools = append(cfg.Tools, &genai.Tool{FunctionDeclarations: decls})
	}
	if setup.CodeExecution {
		cfg.Tools = append(cfg.Tools, &genai.Tool{CodeExecution: &genai.ToolCodeExecution{}})
	}
	if setup.InputTranscription {
		cfg.InputAudioTranscription = &genai.AudioTranscriptionConfig{}
	}
	if setup.OutputTranscription {
		cfg.OutputAudioTranscription = &genai.AudioTranscriptionConfig{}
	}
	return cfg
}

func convertSchema(s *live.Schema) *genai.Schema {
	if s == nil {
		return nil
	}
	out := &genai.Schema{
		Type:        genai.Type(s.Type),
		Description: s.Description,
		Required:    s.Required,
		Enum:        s.Enum,
		Items:       convertSchema(s.Items),
	}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(s.Properties))
		for name, prop := range s.Properties {
			out.Properties[name] = convertSchema(prop)
		}
	}
	return out
}

type received struct {
	msg *genai.LiveServerMessage
	err error
}

// stream adapts a *genai.Session. Receive is not context aware, so a
// single pump goroutine feeds Recv.
type stream struct {
	session *genai.Session
	logger  *slog.Logger

	writeMu sync.Mutex

	msgs chan received
	done chan struct{}
	once sync.Once
}

func newStream(session *genai.Session, logger *slog.Logger) *stream {
	s := &stream{
		session: session,
		logger:  logger,
		msgs:    make(chan received),
		done:    make(chan struct{}),
	}
	go s.pump()
	return s
}

func (s *stream) pump() {
	for {
		msg, err := s.session.Receive()
		select {
		case s.msgs <- received{msg: msg, err: err}:
		case <-s.done:
			return
		}
		if err != nil {
			return
		}
	}
}

// SendAudio sends one frame as realtime input.
func (s *stream) SendAudio(ctx context.Context, frame audioio.Frame) error {
	data, err := base64.StdEncoding.DecodeString(frame.Data)
	if err != nil {
		return fmt.Errorf("frame %d: %w", frame.Seq, err)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.session.SendRealtimeInput(genai.LiveRealtimeInput{
		Audio: &genai.Blob{Data: data, MIMEType: frame.MIMEType()},
	})
}

// SendToolResponse sends function responses.
func (s *stream) SendToolResponse(ctx context.Context, results []live.ToolResult) error {
	responses := make([]*genai.FunctionResponse, 0, len(results))
	for _, r := range results {
		responses = append(responses, &genai.FunctionResponse{ID: r.ID, Name: r.Name, Response: r.Response})
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.session.SendToolResponse(genai.LiveToolResponseInput{FunctionResponses: responses})
}

// Recv returns the events of the next server message.
func (s *stream) Recv(ctx context.Context) ([]live.Event, error) {
	var r received
	select {
	case r = <-s.msgs:
	case <-s.done:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if r.err != nil {
		var ce *websocket.CloseError
		if errors.As(r.err, &ce) {
			if ce.Code == websocket.CloseNormalClosure || ce.Code == websocket.CloseGoingAway {
				return nil, io.EOF
			}
			return nil, &live.ServerError{Code: ce.Code, Message: ce.Text}
		}
		return nil, r.err
	}
	return convertMessage(r.msg), nil
}

// convertMessage orders events the same way as package gemini.
func convertMessage(msg *genai.LiveServerMessage) []live.Event {
	if msg == nil {
		return nil
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
			if fc == nil {
				continue
			}
			calls = append(calls, live.ToolCall{ID: fc.ID, Name: fc.Name, Args: fc.Args})
		}
		events = append(events, live.ToolCallEvent(calls...))
	}

	if sc == nil {
		return events
	}

	if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
		events = append(events, live.OutputTranscriptEvent(sc.OutputTranscription.Text))
	}
	if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
		events = append(events, live.InputTranscriptEvent(sc.InputTranscription.Text))
	}
	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			if p == nil || p.InlineData == nil || len(p.InlineData.Data) == 0 {
				continue
			}
			events = append(events, live.AudioEvent(
				base64.StdEncoding.EncodeToString(p.InlineData.Data),
				p.InlineData.MIMEType,
			))
		}
	}
	if sc.TurnComplete {
		events = append(events, live.Event{Kind: live.EventTurnComplete})
	}
	return events
}

// Close closes the session and stops the pump.
func (s *stream) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.session.Close()
	})
	return err
}

var (
	_ live.Transport = (*Transport)(nil)
	_ live.Stream    = (*stream)(nil)
)
