// run.go implements "blue run", a voice session in the terminal.
package cli

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/teslashibe/go-blue/internal/log"
	"github.com/teslashibe/go-blue/pkg/voicesession"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start a voice session in the terminal",
	Long: `Open a live voice session using the configured microphone and speaker.
Transcripts and tool calls are printed as they arrive. Press Ctrl-C to stop.`,
	RunE: runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := log.L()

	scfg, _, err := sessionConfig(cfg, logger)
	if err != nil {
		return err
	}
	ctrl, err := voicesession.New(scfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	printer := newTranscriptPrinter(out, term.IsTerminal(int(os.Stdout.Fd())))

	ended := make(chan voicesession.Status, 1)
	var lastErr error
	cb := printer.callbacks()
	cb.OnStatusChange = func(s voicesession.Status) {
		printer.status(s)
		if s == voicesession.StatusError || s == voicesession.StatusStopped {
			select {
			case ended <- s:
			default:
			}
		}
	}
	cb.OnError = func(err error) {
		lastErr = err
		printer.err(err)
	}

	if err := ctrl.Start(ctx, cb); err != nil {
		return err
	}
	fmt.Fprintln(out, "Listening. Press Ctrl-C to stop.")

	select {
	case <-ctx.Done():
		ctrl.Stop()
	case s := <-ended:
		if s == voicesession.StatusError {
			if lastErr == nil {
				lastErr = errors.New("session failed")
			}
			return fmt.Errorf("session ended: %w", lastErr)
		}
	}
	return nil
}
