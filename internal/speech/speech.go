package speech

import "context"

// Event signals queue playback transitions. Started is emitted before the
// first item of a burst plays; Ended after the last queued item completes.
type Event int

const (
	EventStarted Event = iota
	EventEnded
)

// Synthesizer streams 48kHz PCM mono audio for the given text.
type Synthesizer interface {
	StreamPCM48k(ctx context.Context, text string) (<-chan []byte, <-chan error)
}

// Sink consumes 48kHz PCM bytes and performs delivery (e.g. Opus encode to a
// WebRTC track). Implementations buffer internally and pace delivery.
type Sink interface {
	WritePCM(pcm []byte)
	FlushTail()
	// Reset drops any queued frames immediately (used when the agent yields).
	Reset()
}

// NopSink discards audio. Used when no playback path is attached.
type NopSink struct{}

func (NopSink) WritePCM(_ []byte) {}
func (NopSink) FlushTail()        {}
func (NopSink) Reset()            {}
