package cli

import (
	"fmt"
	"log/slog"

	"github.com/teslashibe/go-blue/internal/config"
	"github.com/teslashibe/go-blue/pkg/audioio"
	"github.com/teslashibe/go-blue/pkg/live"
	"github.com/teslashibe/go-blue/pkg/live/gemini"
	"github.com/teslashibe/go-blue/pkg/live/genailive"
	"github.com/teslashibe/go-blue/pkg/tools"
	"github.com/teslashibe/go-blue/pkg/voicesession"
)

// newTransport builds the transport selected by endpoint.transport.
func newTransport(cfg *config.Config, logger *slog.Logger) (live.Transport, error) {
	ep := cfg.Endpoint

	switch ep.Transport {
	case config.TransportGenAI:
		return genailive.New(genailive.Config{
			APIKey:   ep.APIKey,
			Project:  ep.Project,
			Location: ep.Location,
		}, logger), nil

	case config.TransportWebsocket:
		opts := []gemini.Option{
			gemini.WithHandshakeTimeout(ep.HandshakeTimeout),
			gemini.WithLogger(logger),
		}
		if cfg.Vertex() {
			opts = append(opts, gemini.WithVertex(ep.Project, ep.Location))
		} else {
			opts = append(opts, gemini.WithAPIKey(ep.APIKey))
		}
		if ep.URL != "" {
			opts = append(opts, gemini.WithEndpoint(ep.URL))
		}
		return gemini.New(opts...), nil
	}
	return nil, fmt.Errorf("unknown transport %q", ep.Transport)
}

// sessionConfig assembles everything a voice session needs from cfg.
func sessionConfig(cfg *config.Config, logger *slog.Logger) (voicesession.Config, *tools.Manifest, error) {
	if err := cfg.RequireCredentials(); err != nil {
		return voicesession.Config{}, nil, err
	}

	manifest, err := tools.Load(cfg.Tools.Manifest)
	if err != nil {
		return voicesession.Config{}, nil, err
	}

	transport, err := newTransport(cfg, logger)
	if err != nil {
		return voicesession.Config{}, nil, err
	}

	capture, err := audioio.NewCapture(cfg.Audio.Capture, logger)
	if err != nil {
		return voicesession.Config{}, nil, fmt.Errorf("opening microphone backend: %w", err)
	}

	output := cfg.Audio.Output
	return voicesession.Config{
		Transport: transport,
		Setup:     cfg.Setup(manifest),
		Capture:   capture,
		NewOutput: voicesession.SinkOutput(func() (audioio.Sink, error) {
			return audioio.NewSink(output, logger)
		}, logger),
		ToolTimeout:  cfg.Tools.Timeout,
		CloseTimeout: cfg.Endpoint.CloseTimeout,
		Logger:       logger,
	}, manifest, nil
}
