// Package voicesession runs one real-time voice session at a time: it owns
// the microphone, the connection to the live endpoint and the playback
// scheduler, and fans server events out to caller callbacks.
//
// # Architecture
//
//	┌──────────┐  frames  ┌────────────┐  events  ┌────────────┐
//	│ Capture  │─────────▶│ Connection │─────────▶│  dispatch  │──▶ Callbacks
//	└──────────┘          └────────────┘          └─────┬──────┘
//	                            ▲ tool results          │ audio
//	                            └───────────────────────┤
//	                                                    ▼
//	                                              ┌───────────┐
//	                                              │ Scheduler │──▶ Output
//	                                              └───────────┘
//
// # Usage
//
//	ctrl, err := voicesession.New(voicesession.Config{
//	    Transport: gemini.New(gemini.WithAPIKey(key)),
//	    Setup:     setup,
//	    Capture:   mic,
//	    NewOutput: voicesession.SinkOutput(newSink, logger),
//	})
//
//	err = ctrl.Start(ctx, voicesession.Callbacks{
//	    OnTranscriptionUpdate: func(final bool, user, model string) {
//	        if final {
//	            fmt.Printf("you: %s\nblue: %s\n", user, model)
//	        }
//	    },
//	    OnError: func(err error) { log.Println(err) },
//	})
//	defer ctrl.Stop()
//
// # Lifecycle
//
// Start reports StatusConnecting, opens the speaker, acquires the microphone
// and performs the handshake. Frames flow only after the connection is
// active. A fatal error tears the session down and reports StatusError; a
// remote close or Stop reports StatusStopped. The next Start begins a fresh
// session.
//
// Callbacks of a session never overlap. Start's goroutine runs them until
// the session is active, then the dispatch goroutine runs them in server
// order. The final status and OnError wait for the current owner to finish,
// so after Stop they can arrive once the running callback returns. A Start
// made while a teardown is still in progress is ignored.
package voicesession
