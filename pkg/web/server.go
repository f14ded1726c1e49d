// Package web serves the session dashboard: a small REST API to start and
// stop the voice session and a websocket that streams its events.
package web

import (
	"context"
	"embed"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/filesystem"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-blue/pkg/hub"
	"github.com/teslashibe/go-blue/pkg/live"
	"github.com/teslashibe/go-blue/pkg/tools"
	"github.com/teslashibe/go-blue/pkg/voicesession"
)

//go:embed static
var staticFiles embed.FS

// DefaultHistoryLimit is the number of finished turns kept.
const DefaultHistoryLimit = 200

// Session is the voice session the dashboard controls.
// *voicesession.Controller satisfies it.
type Session interface {
	Start(ctx context.Context, cb voicesession.Callbacks) error
	Stop()
	Status() voicesession.Status
	SessionID() string
	Metrics() voicesession.Metrics
}

// TranscriptionTurn is one finished exchange.
type TranscriptionTurn struct {
	User      string    `json:"user"`
	Model     string    `json:"model"`
	Timestamp time.Time `json:"timestamp"`
}

// Options configures a Server.
type Options struct {
	// Addr is the listen address, e.g. ":8181".
	Addr string

	// Manifest lists the tools shown by /api/tools.
	Manifest *tools.Manifest

	// HistoryLimit bounds /api/history. Default: 200.
	HistoryLimit int

	// Dispatch, when set, executes tool calls for sessions started from
	// the dashboard.
	Dispatch func(ctx context.Context, call live.ToolCall) (map[string]any, error)

	Logger *slog.Logger
}

// Server is the web dashboard server
type Server struct {
	app    *fiber.App
	addr   string
	logger *slog.Logger

	session  Session
	manifest *tools.Manifest
	dispatch func(ctx context.Context, call live.ToolCall) (map[string]any, error)

	// Session lifetime, independent of any request.
	ctx    context.Context
	cancel context.CancelFunc

	// Hub for websocket broadcast
	events *hub.Hub

	historyLimit int
	historyMu    sync.RWMutex
	history      []TranscriptionTurn
	lastError    string
}

// NewServer creates a new web dashboard server
func NewServer(session Session, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = DefaultHistoryLimit
	}

	s := &Server{
		addr:         opts.Addr,
		logger:       opts.Logger.With("component", "web"),
		session:      session,
		manifest:     opts.Manifest,
		dispatch:     opts.Dispatch,
		events:       hub.New("events", opts.Logger),
		historyLimit: opts.HistoryLimit,
		history:      make([]TranscriptionTurn, 0, opts.HistoryLimit),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	app := fiber.New(fiber.Config{
		AppName:               "Blue Dashboard",
		DisableStartupMessage: true,
	})

	// CORS for local development
	app.Use(cors.New())

	// API routes
	api := app.Group("/api")
	api.Post("/session/start", s.handleStart)
	api.Post("/session/stop", s.handleStop)
	api.Get("/status", s.handleStatus)
	api.Get("/tools", s.handleListTools)
	api.Get("/history", s.handleHistory)

	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/events", websocket.New(s.handleEventsWS))

	// Static files
	static, _ := fs.Sub(staticFiles, "static")
	app.Use("/", filesystem.New(filesystem.Config{
		Root:  http.FS(static),
		Index: "index.html",
	}))

	s.app = app
	go s.events.Run(s.ctx)
	return s
}

// App returns the fiber app, for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Start listens on the configured address. It blocks until Shutdown.
func (s *Server) Start() error {
	s.logger.Info("dashboard listening", "addr", s.addr)
	return s.app.Listen(s.addr)
}

// Serve accepts connections on ln. It blocks until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("dashboard listening", "addr", ln.Addr().String())
	return s.app.Listener(ln)
}

// Shutdown stops the session and the server.
func (s *Server) Shutdown() error {
	s.session.Stop()
	s.cancel()
	return s.app.Shutdown()
}

// History returns finished turns, oldest first.
func (s *Server) History() []TranscriptionTurn {
	s.historyMu.RLock()
	defer s.historyMu.RUnlock()
	out := make([]TranscriptionTurn, len(s.history))
	copy(out, s.history)
	return out
}

func (s *Server) addTurn(user, model string) TranscriptionTurn {
	turn := TranscriptionTurn{User: user, Model: model, Timestamp: time.Now()}

	s.historyMu.Lock()
	s.history = append(s.history, turn)
	if len(s.history) > s.historyLimit {
		s.history = s.history[len(s.history)-s.historyLimit:]
	}
	s.historyMu.Unlock()
	return turn
}

func (s *Server) setLastError(msg string) {
	s.historyMu.Lock()
	s.lastError = msg
	s.historyMu.Unlock()
}

func (s *Server) getLastError() string {
	s.historyMu.RLock()
	defer s.historyMu.RUnlock()
	return s.lastError
}
