// Package capture defines the boundary between however packets arrive
// (TZSP relay, a future pcap/AF_PACKET source, a test fixture) and the
// accounting engine, which only ever sees Frames.
package capture

import (
	"context"
	"time"
)

// Frame is one captured link-layer frame handed to the engine.
type Frame struct {
	// Data is the raw Ethernet frame.
	Data []byte
	// IPFrameLen is the frame's length as measured at the IP layer,
	// used for byte accounting. It may differ from len(Data) when the
	// capture source only reports a truncated snapshot length.
	IPFrameLen uint32
	// Timestamp is when the frame was captured.
	Timestamp time.Time
}

// Source produces a stream of Frames until its context is cancelled or
// it is explicitly stopped. Implementations must be safe to Stop from
// a goroutine other than the one running Run.
type Source interface {
	// Run delivers frames to handle until ctx is cancelled or an
	// unrecoverable error occurs. handle is called synchronously from
	// Run's goroutine; it must not block for long.
	Run(ctx context.Context, handle func(Frame)) error
	// Stop requests Run to return promptly.
	Stop() error
}
