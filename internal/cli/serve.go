// serve.go implements "blue serve", the session dashboard.
package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-blue/internal/config"
	"github.com/teslashibe/go-blue/internal/log"
	"github.com/teslashibe/go-blue/pkg/voicesession"
	"github.com/teslashibe/go-blue/pkg/web"
)

var (
	serveAddr  string
	serveWatch bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the session dashboard",
	Long: `Serve a dashboard that starts and stops the voice session and streams
its status, transcripts and tool calls over a websocket. With --watch the
config file is reloaded on change; the next session uses it.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides dashboard.addr)")
	serveCmd.Flags().BoolVar(&serveWatch, "watch", true, "Reload the config file when it changes")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := log.L()

	scfg, manifest, err := sessionConfig(cfg, logger)
	if err != nil {
		return err
	}
	ctrl, err := voicesession.New(scfg)
	if err != nil {
		return err
	}

	addr := cfg.Dashboard.Addr
	if serveAddr != "" {
		addr = serveAddr
	}
	srv := web.NewServer(ctrl, web.Options{
		Addr:         addr,
		Manifest:     manifest,
		HistoryLimit: cfg.Dashboard.HistoryLimit,
		Logger:       logger,
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmdLog := log.Component("serve")
	if serveWatch {
		err := config.Watch(ctx, configPath, logger, func(next *config.Config) {
			ncfg, _, err := sessionConfig(next, logger)
			if err != nil {
				cmdLog.Warn("ignoring config change", "error", err)
				return
			}
			if err := ctrl.Reconfigure(ncfg); err != nil {
				cmdLog.Warn("ignoring config change", "error", err)
			}
		})
		if err != nil {
			cmdLog.Warn("config watch disabled", "error", err)
		}
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case <-ctx.Done():
		cmdLog.Info("shutting down")
		return srv.Shutdown()
	case err := <-errCh:
		return err
	}
}
