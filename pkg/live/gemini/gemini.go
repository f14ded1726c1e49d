// Package gemini implements live.Transport over the Gemini Live
// BidiGenerateContent websocket, against either the Gemini API (API key)
// or Vertex AI (OAuth bearer token).
package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/teslashibe/go-blue/internal/httpc"
	"github.com/teslashibe/go-blue/pkg/live"
)

const (
	// Gemini API websocket endpoint.
	geminiLiveURL = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

	// Vertex AI websocket endpoint; %s is the location.
	vertexLiveURL = "wss://%s-aiplatform.googleapis.com/ws/google.cloud.aiplatform.v1.LlmBidiService/BidiGenerateContent"

	cloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

	// Name is the transport name.
	Name = "gemini-ws"
)

// Transport dials Gemini Live over a websocket.
type Transport struct {
	apiKey           string
	tokenSource      oauth2.TokenSource
	project          string
	location         string
	endpoint         string
	handshakeTimeout time.Duration
	closeGrace       time.Duration
	dialer           *websocket.Dialer
	logger           *slog.Logger
}

// Option configures a Transport.
type Option func(*Transport)

// WithAPIKey authenticates with a Gemini API key.
func WithAPIKey(key string) Option {
	return func(t *Transport) {
		t.apiKey = key
	}
}

// WithVertex targets Vertex AI in the given project and location. Without
// an explicit token source, Application Default Credentials are used.
func WithVertex(project, location string) Option {
	return func(t *Transport) {
		t.project = project
		t.location = location
	}
}

// WithTokenSource authenticates with OAuth bearer tokens.
func WithTokenSource(ts oauth2.TokenSource) Option {
	return func(t *Transport) {
		t.tokenSource = ts
	}
}

// WithEndpoint overrides the websocket URL.
func WithEndpoint(u string) Option {
	return func(t *Transport) {
		t.endpoint = u
	}
}

// WithHandshakeTimeout bounds the upgrade plus setup exchange.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(t *Transport) {
		if d > 0 {
			t.handshakeTimeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Transport) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// New creates a Gemini Live websocket transport.
func New(opts ...Option) *Transport {
	t := &Transport{
		handshakeTimeout: live.DefaultHandshakeTimeout,
		closeGrace:       time.Second,
		logger:           slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.dialer = &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: t.handshakeTimeout,
	}
	t.logger = t.logger.With("component", "live.gemini")
	return t
}

// Name returns "gemini-ws".
func (t *Transport) Name() string {
	return Name
}

func (t *Transport) vertex() bool {
	return t.project != "" && t.location != ""
}

func (t *Transport) modelPath(model string) string {
	if strings.Contains(model, "/") {
		return model
	}
	if t.vertex() {
		return fmt.Sprintf("projects/%s/locations/%s/publishers/google/models/%s", t.project, t.location, model)
	}
	return "models/" + model
}

// dialTarget returns the URL and headers for the upgrade request.
func (t *Transport) dialTarget(ctx context.Context) (string, http.Header, error) {
	header := make(http.Header)

	endpoint := t.endpoint
	if endpoint == "" {
		if t.vertex() {
			endpoint = fmt.Sprintf(vertexLiveURL, t.location)
		} else {
			endpoint = geminiLiveURL
		}
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return "", nil, fmt.Errorf("parse endpoint: %w", err)
	}

	ts := t.tokenSource
	if ts == nil && t.vertex() {
		ts, err = google.DefaultTokenSource(httpc.OAuthContext(ctx), cloudPlatformScope)
		if err != nil {
			return "", nil, fmt.Errorf("default credentials: %w", err)
		}
	}

	switch {
	case ts != nil:
		tok, err := ts.Token()
		if err != nil {
			return "", nil, fmt.Errorf("fetch token: %w", err)
		}
		tok.SetAuthHeader(&http.Request{Header: header})
	case t.apiKey != "":
		q := u.Query()
		q.Set("key", t.apiKey)
		u.RawQuery = q.Encode()
	default:
		return "", nil, live.ErrMissingAPIKey
	}

	return u.String(), header, nil
}

// Dial upgrades the connection, sends setup and waits for setupComplete.
func (t *Transport) Dial(ctx context.Context, setup live.Setup) (live.Stream, error) {
	ctx, cancel := context.WithTimeout(ctx, t.handshakeTimeout)
	defer cancel()

	target, header, err := t.dialTarget(ctx)
	if err != nil {
		return nil, &live.ConnectError{Transport: Name, Cause: err}
	}

	conn, resp, err := t.dialer.DialContext(ctx, target, header)
	if err != nil {
		connErr := &live.ConnectError{Transport: Name, Cause: err}
		if resp != nil {
			connErr.StatusCode = resp.StatusCode
			resp.Body.Close()
		}
		return nil, connErr
	}

	// The read deadline bounds the setup exchange; ctx cancellation closes
	// the socket.
	deadline, _ := ctx.Deadline()
	_ = conn.SetReadDeadline(deadline)
	stop := context.AfterFunc(ctx, func() { conn.Close() })

	err = t.handshake(conn, setup)
	if !stop() {
		err = errors.Join(err, ctx.Err())
	}
	if err != nil {
		conn.Close()
		return nil, &live.ConnectError{Transport: Name, Cause: err}
	}
	_ = conn.SetReadDeadline(time.Time{})

	t.logger.Info("gemini live connected", "model", setup.Model, "vertex", t.vertex())
	return newStream(conn, t.closeGrace, t.logger), nil
}

func (t *Transport) handshake(conn *websocket.Conn, setup live.Setup) error {
	if err := conn.WriteJSON(buildSetup(setup, t.modelPath(setup.Model))); err != nil {
		return fmt.Errorf("send setup: %w", err)
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("await setup: %w", closeCause(err))
		}
		events, err := decodeMessage(data)
		if err != nil {
			return err
		}
		for _, ev := range events {
			if ev.Kind == live.EventSetupComplete {
				return nil
			}
		}
	}
}

// closeCause converts a protocol close frame into a *live.ServerError.
func closeCause(err error) error {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return &live.ServerError{Code: ce.Code, Message: ce.Text}
	}
	return err
}

var _ live.Transport = (*Transport)(nil)
