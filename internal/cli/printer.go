package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/teslashibe/go-blue/pkg/live"
	"github.com/teslashibe/go-blue/pkg/voicesession"
)

// transcriptPrinter renders session callbacks on a terminal. On a TTY the
// in-progress turn is redrawn in place; otherwise only finished turns are
// printed.
type transcriptPrinter struct {
	mu      sync.Mutex
	w       io.Writer
	tty     bool
	pending bool
}

func newTranscriptPrinter(w io.Writer, tty bool) *transcriptPrinter {
	return &transcriptPrinter{w: w, tty: tty}
}

// clearLocked erases the in-progress line.
func (p *transcriptPrinter) clearLocked() {
	if p.pending {
		fmt.Fprint(p.w, "\r\033[K")
		p.pending = false
	}
}

func (p *transcriptPrinter) transcript(final bool, user, model string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !final {
		if !p.tty {
			return
		}
		fmt.Fprintf(p.w, "\r\033[K… %s | %s", user, model)
		p.pending = true
		return
	}

	p.clearLocked()
	if user != "" {
		fmt.Fprintf(p.w, "you:  %s\n", user)
	}
	if model != "" {
		fmt.Fprintf(p.w, "blue: %s\n", model)
	}
}

func (p *transcriptPrinter) functionCall(call live.ToolCall) {
	args, err := json.Marshal(call.Args)
	if err != nil || call.Args == nil {
		args = []byte("{}")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.clearLocked()
	fmt.Fprintf(p.w, "→ %s(%s)\n", call.Name, args)
}

func (p *transcriptPrinter) status(s voicesession.Status) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clearLocked()
	fmt.Fprintf(p.w, "[%s]\n", s)
}

func (p *transcriptPrinter) err(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clearLocked()
	fmt.Fprintf(p.w, "error: %v\n", err)
}

// callbacks wires the printer to a session.
func (p *transcriptPrinter) callbacks() voicesession.Callbacks {
	return voicesession.Callbacks{
		OnStatusChange:        p.status,
		OnTranscriptionUpdate: p.transcript,
		OnFunctionCall:        p.functionCall,
		OnError:               p.err,
	}
}
