package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/oauth2"

	"github.com/teslashibe/go-blue/pkg/audioio"
	"github.com/teslashibe/go-blue/pkg/live"
)

// fakeServer is a scripted Gemini Live endpoint.
type fakeServer struct {
	server   *httptest.Server
	setup    chan map[string]any
	received chan map[string]any
	script   func(conn *websocket.Conn)
	lastReq  chan *http.Request
}

func newFakeServer(t *testing.T, script func(conn *websocket.Conn)) *fakeServer {
	fs := &fakeServer{
		setup:    make(chan map[string]any, 1),
		received: make(chan map[string]any, 32),
		script:   script,
		lastReq:  make(chan *http.Request, 1),
	}
	upgrader := websocket.Upgrader{}
	fs.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fs.lastReq <- r
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var setup map[string]any
		if err := conn.ReadJSON(&setup); err != nil {
			return
		}
		fs.setup <- setup
		fs.script(conn)
	}))
	t.Cleanup(fs.server.Close)
	return fs
}

func (fs *fakeServer) url() string {
	return "ws" + strings.TrimPrefix(fs.server.URL, "http")
}

// readLoop forwards client messages until the socket closes.
func (fs *fakeServer) readLoop(conn *websocket.Conn) {
	for {
		var msg map[string]any
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		fs.received <- msg
	}
}

func setupComplete(conn *websocket.Conn) {
	conn.WriteMessage(websocket.TextMessage, []byte(`{"setupComplete":{}}`))
}

func testSetup() live.Setup {
	setup := live.DefaultSetup()
	setup.SystemInstruction = "You are Blue."
	setup.CodeExecution = true
	setup.Tools = []live.Tool{{
		Name:        "navigateToView",
		Description: "Navigate to a view",
		Parameters: &live.Schema{
			Type:       live.TypeObject,
			Properties: map[string]*live.Schema{"viewName": {Type: live.TypeString}},
			Required:   []string{"viewName"},
		},
	}}
	return setup
}

func recvEvents(t *testing.T, s live.Stream, n int) []live.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var out []live.Event
	for len(out) < n {
		evs, err := s.Recv(ctx)
		if err != nil {
			t.Fatalf("Recv failed after %d events: %v", len(out), err)
		}
		out = append(out, evs...)
	}
	return out
}

func TestDial_SendsSetup(t *testing.T) {
	fs := newFakeServer(t, func(conn *websocket.Conn) {
		setupComplete(conn)
		conn.ReadMessage()
	})

	tr := New(WithAPIKey("test-key"), WithEndpoint(fs.url()))
	stream, err := tr.Dial(context.Background(), testSetup())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer stream.Close()

	req := <-fs.lastReq
	if got := req.URL.Query().Get("key"); got != "test-key" {
		t.Errorf("Expected API key in query, got %q", got)
	}

	setup := (<-fs.setup)["setup"].(map[string]any)
	if setup["model"] != "models/"+live.DefaultModel {
		t.Errorf("Unexpected model %v", setup["model"])
	}
	gen := setup["generation_config"].(map[string]any)
	if mods := gen["response_modalities"].([]any); len(mods) != 1 || mods[0] != "AUDIO" {
		t.Errorf("Unexpected modalities %v", mods)
	}
	voice := gen["speech_config"].(map[string]any)["voice_config"].(map[string]any)["prebuilt_voice_config"].(map[string]any)
	if voice["voice_name"] != "Zephyr" {
		t.Errorf("Unexpected voice %v", voice["voice_name"])
	}
	if _, ok := setup["input_audio_transcription"]; !ok {
		t.Error("Input transcription should be enabled")
	}
	if _, ok := setup["output_audio_transcription"]; !ok {
		t.Error("Output transcription should be enabled")
	}
	tools := setup["tools"].([]any)
	if len(tools) != 2 {
		t.Fatalf("Expected function declarations and code execution, got %v", tools)
	}
	decls := tools[0].(map[string]any)["function_declarations"].([]any)
	if decls[0].(map[string]any)["name"] != "navigateToView" {
		t.Errorf("Unexpected declaration %v", decls[0])
	}
	if _, ok := tools[1].(map[string]any)["code_execution"]; !ok {
		t.Error("Code execution tool should be declared")
	}
}

func TestDial_BearerToken(t *testing.T) {
	fs := newFakeServer(t, func(conn *websocket.Conn) {
		setupComplete(conn)
		conn.ReadMessage()
	})

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "tok123", TokenType: "Bearer"})
	tr := New(WithTokenSource(ts), WithVertex("proj", "us-central1"), WithEndpoint(fs.url()))
	stream, err := tr.Dial(context.Background(), testSetup())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer stream.Close()

	req := <-fs.lastReq
	if got := req.Header.Get("Authorization"); got != "Bearer tok123" {
		t.Errorf("Expected bearer header, got %q", got)
	}
	if req.URL.Query().Get("key") != "" {
		t.Error("API key should not be sent with a token source")
	}
	setup := (<-fs.setup)["setup"].(map[string]any)
	want := "projects/proj/locations/us-central1/publishers/google/models/" + live.DefaultModel
	if setup["model"] != want {
		t.Errorf("Expected model %q, got %v", want, setup["model"])
	}
}

func TestDial_MissingCredentials(t *testing.T) {
	_, err := New().Dial(context.Background(), testSetup())
	if !errors.Is(err, live.ErrConnect) || !errors.Is(err, live.ErrMissingAPIKey) {
		t.Fatalf("Expected connect error for missing key, got %v", err)
	}
}

func TestDial_Rejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer server.Close()

	tr := New(WithAPIKey("bad"), WithEndpoint("ws"+strings.TrimPrefix(server.URL, "http")))
	_, err := tr.Dial(context.Background(), testSetup())

	var connErr *live.ConnectError
	if !errors.As(err, &connErr) {
		t.Fatalf("Expected *ConnectError, got %v", err)
	}
	if connErr.StatusCode != http.StatusForbidden {
		t.Errorf("Expected status 403, got %d", connErr.StatusCode)
	}
	if connErr.IsRetryable() {
		t.Error("403 should not be retryable")
	}
}

func TestDial_SetupRejectedByClose(t *testing.T) {
	fs := newFakeServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "model not found"))
	})

	_, err := New(WithAPIKey("k"), WithEndpoint(fs.url())).Dial(context.Background(), testSetup())
	var serverErr *live.ServerError
	if !errors.As(err, &serverErr) {
		t.Fatalf("Expected server error, got %v", err)
	}
	if serverErr.Code != websocket.ClosePolicyViolation || serverErr.Message != "model not found" {
		t.Errorf("Unexpected server error %+v", serverErr)
	}
}

func TestDial_HandshakeTimeout(t *testing.T) {
	fs := newFakeServer(t, func(conn *websocket.Conn) {
		// Never acknowledge setup.
		conn.ReadMessage()
	})

	tr := New(WithAPIKey("k"), WithEndpoint(fs.url()), WithHandshakeTimeout(100*time.Millisecond))
	start := time.Now()
	_, err := tr.Dial(context.Background(), testSetup())
	if !errors.Is(err, live.ErrConnect) {
		t.Fatalf("Expected connect error, got %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("Handshake timeout was not honoured")
	}
}

func TestStream_DecodesServerContent(t *testing.T) {
	messages := []string{
		`{"serverContent":{"inputTranscription":{"text":"ol"}}}`,
		`{"serverContent":{"inputTranscription":{"text":"á"}}}`,
		`{"serverContent":{"outputTranscription":{"text":"hi"}}}`,
		`{"serverContent":{"modelTurn":{"parts":[{"inlineData":{"mimeType":"audio/pcm;rate=24000","data":"AAABAA=="}}]}}}`,
		`{"toolCall":{"functionCalls":[{"id":"call-1","name":"navigateToView","args":{"viewName":"Dashboard"}}]}}`,
		`{"serverContent":{"interrupted":true}}`,
		`{"serverContent":{"turnComplete":true}}`,
	}
	fs := newFakeServer(t, func(conn *websocket.Conn) {
		setupComplete(conn)
		for _, m := range messages {
			conn.WriteMessage(websocket.TextMessage, []byte(m))
		}
		conn.ReadMessage()
	})

	stream, err := New(WithAPIKey("k"), WithEndpoint(fs.url())).Dial(context.Background(), testSetup())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer stream.Close()

	events := recvEvents(t, stream, 7)
	want := []live.EventKind{
		live.EventInputTranscript,
		live.EventInputTranscript,
		live.EventOutputTranscript,
		live.EventAudioChunk,
		live.EventToolCall,
		live.EventInterrupted,
		live.EventTurnComplete,
	}
	for i, kind := range want {
		if events[i].Kind != kind {
			t.Errorf("Event %d: expected %s, got %s", i, kind, events[i].Kind)
		}
	}
	if events[0].Text+events[1].Text != "olá" {
		t.Errorf("Unexpected transcript deltas %q %q", events[0].Text, events[1].Text)
	}
	if events[3].Audio != "AAABAA==" || events[3].MIMEType != "audio/pcm;rate=24000" {
		t.Errorf("Unexpected audio event %+v", events[3])
	}
	call := events[4].ToolCalls[0]
	if call.ID != "call-1" || call.Name != "navigateToView" || call.Args["viewName"] != "Dashboard" {
		t.Errorf("Unexpected tool call %+v", call)
	}
}

func TestStream_SendsAudioAndToolResponse(t *testing.T) {
	var fs *fakeServer
	fs = newFakeServer(t, func(conn *websocket.Conn) {
		setupComplete(conn)
		fs.readLoop(conn)
	})

	stream, err := New(WithAPIKey("k"), WithEndpoint(fs.url())).Dial(context.Background(), testSetup())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer stream.Close()

	frame := audioio.Frame{Data: "AAAA", Samples: 2, SampleRate: 16000, Channels: 1}
	if err := stream.SendAudio(context.Background(), frame); err != nil {
		t.Fatalf("SendAudio failed: %v", err)
	}
	results := []live.ToolResult{{ID: "call-1", Name: "getTasks", Response: map[string]any{"result": "ok"}}}
	if err := stream.SendToolResponse(context.Background(), results); err != nil {
		t.Fatalf("SendToolResponse failed: %v", err)
	}

	audio := waitMessage(t, fs)["realtime_input"].(map[string]any)["audio"].(map[string]any)
	if audio["mime_type"] != "audio/pcm;rate=16000" || audio["data"] != "AAAA" {
		t.Errorf("Unexpected audio message %v", audio)
	}

	resp := waitMessage(t, fs)["tool_response"].(map[string]any)["function_responses"].([]any)[0].(map[string]any)
	if resp["id"] != "call-1" || resp["name"] != "getTasks" {
		t.Errorf("Unexpected tool response %v", resp)
	}
	if resp["response"].(map[string]any)["result"] != "ok" {
		t.Errorf("Unexpected tool payload %v", resp["response"])
	}
}

func waitMessage(t *testing.T, fs *fakeServer) map[string]any {
	t.Helper()
	select {
	case msg := <-fs.received:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for client message")
		return nil
	}
}

func TestStream_RemoteClose(t *testing.T) {
	fs := newFakeServer(t, func(conn *websocket.Conn) {
		setupComplete(conn)
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		time.Sleep(100 * time.Millisecond)
	})

	stream, err := New(WithAPIKey("k"), WithEndpoint(fs.url())).Dial(context.Background(), testSetup())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer stream.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := stream.Recv(ctx); !errors.Is(err, io.EOF) {
		t.Errorf("Expected io.EOF on normal close, got %v", err)
	}
}

func TestStream_AbnormalClose(t *testing.T) {
	fs := newFakeServer(t, func(conn *websocket.Conn) {
		setupComplete(conn)
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "internal error"))
		time.Sleep(100 * time.Millisecond)
	})

	stream, err := New(WithAPIKey("k"), WithEndpoint(fs.url())).Dial(context.Background(), testSetup())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer stream.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = stream.Recv(ctx)
	var serverErr *live.ServerError
	if !errors.As(err, &serverErr) || serverErr.Code != websocket.CloseInternalServerErr {
		t.Errorf("Expected server error 1011, got %v", err)
	}
}

func TestStream_CloseUnblocksRecv(t *testing.T) {
	fs := newFakeServer(t, func(conn *websocket.Conn) {
		setupComplete(conn)
		conn.ReadMessage()
	})

	stream, err := New(WithAPIKey("k"), WithEndpoint(fs.url())).Dial(context.Background(), testSetup())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		_, err := stream.Recv(context.Background())
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	stream.Close()
	stream.Close()

	select {
	case err := <-errCh:
		if err == nil {
			t.Error("Recv should fail after Close")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Recv did not unblock after Close")
	}
}

func TestDecodeMessage_Malformed(t *testing.T) {
	if _, err := decodeMessage([]byte("{not json")); err == nil {
		t.Error("Malformed JSON should fail to decode")
	}
	events, err := decodeMessage([]byte(`{"goAway":{"timeLeft":"10s"}}`))
	if err != nil || len(events) != 0 {
		t.Errorf("goAway should decode to no events, got %v %v", events, err)
	}
}

func TestBuildSetup_OmitsOptional(t *testing.T) {
	setup := live.DefaultSetup()
	setup.Voice = ""
	setup.InputTranscription = false
	setup.OutputTranscription = false

	data, err := json.Marshal(buildSetup(setup, "models/x"))
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	s := string(data)
	for _, key := range []string{"speech_config", "system_instruction", "tools", "input_audio_transcription", "output_audio_transcription"} {
		if strings.Contains(s, key) {
			t.Errorf("Setup should omit %s: %s", key, s)
		}
	}
}
