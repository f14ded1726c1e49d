// Package live manages one bidirectional streaming session with a
// speech-capable model endpoint.
//
// A Connection owns the lifecycle state machine:
//
//	Idle -> Connecting -> Active -> Closing -> Closed
//
// with Error absorbing failures from any state after Idle. The wire protocol
// lives behind the Transport interface; transports decode protocol messages
// into the Event union so the rest of the engine never sees JSON.
//
// Example usage:
//
//	conn := live.NewConnection(gemini.New(gemini.WithAPIKey(key)), setup)
//	if err := conn.Open(ctx); err != nil {
//	    return err
//	}
//	defer conn.Close(context.Background())
//
//	for ev := range conn.Events() {
//	    switch ev.Kind {
//	    case live.EventAudioChunk:
//	        // decode and schedule ev.Audio
//	    case live.EventToolCall:
//	        // answer every call with conn.SendToolResult
//	    }
//	}
package live
