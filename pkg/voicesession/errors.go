package voicesession

import "errors"

var (
	// ErrToolTimeout is reported to the model when Dispatch does not return
	// within the tool timeout.
	ErrToolTimeout = errors.New("voicesession: tool dispatch timed out")

	// ErrNoTransport indicates Config.Transport is nil.
	ErrNoTransport = errors.New("voicesession: transport is required")

	// ErrNoCapture indicates Config.Capture is nil.
	ErrNoCapture = errors.New("voicesession: capture is required")

	// ErrNoOutput indicates Config.NewOutput is nil.
	ErrNoOutput = errors.New("voicesession: output factory is required")
)
