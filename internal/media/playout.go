package media

import (
	"sync"
	"time"

	"github.com/hraban/opus"
	"github.com/pion/webrtc/v3/pkg/media"
)

const (
	playoutRate     = 48000
	frameSamples    = 960 // 20ms at 48kHz mono
	frameInterval   = 20 * time.Millisecond
	tailSilence     = 10 // frames appended after a flush so playback does not clip
	frameQueueDepth = 512
)

// sampleWriter is the slice of the outbound track the playout needs.
type sampleWriter interface {
	WriteSample(s media.Sample) error
}

// Playout encodes 48kHz mono PCM to Opus and writes one 20ms frame per tick to
// the outbound track, so synthesized audio arrives at the browser in real time
// regardless of how fast the synthesizer produced it.
type Playout struct {
	enc    *opus.Encoder
	track  sampleWriter
	frames chan []byte
	stopCh chan struct{}

	mu      sync.Mutex
	pcmBuf  []int16
	stopped bool
}

// NewPlayout constructs a playout writer for the given track and starts its
// pacing loop.
func NewPlayout(track sampleWriter) (*Playout, error) {
	enc, err := opus.NewEncoder(playoutRate, 1, opus.AppVoIP)
	if err != nil {
		return nil, err
	}
	p := &Playout{
		enc:    enc,
		track:  track,
		frames: make(chan []byte, frameQueueDepth),
		stopCh: make(chan struct{}),
	}
	go p.pace()
	return p, nil
}

// WritePCM buffers little-endian 48kHz mono PCM and emits full Opus frames.
func (p *Playout) WritePCM(pcm []byte) {
	if len(pcm) < 2 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	need := len(pcm) / 2
	start := len(p.pcmBuf)
	if cap(p.pcmBuf)-start < need {
		grown := make([]int16, start, start+need+2048)
		copy(grown, p.pcmBuf)
		p.pcmBuf = grown
	}
	p.pcmBuf = p.pcmBuf[:start+need]
	for i := 0; i < need; i++ {
		p.pcmBuf[start+i] = int16(uint16(pcm[2*i]) | uint16(pcm[2*i+1])<<8)
	}

	opusBuf := make([]byte, 4000)
	for len(p.pcmBuf) >= frameSamples {
		p.encodeFrame(p.pcmBuf[:frameSamples], opusBuf)
		copy(p.pcmBuf, p.pcmBuf[frameSamples:])
		p.pcmBuf = p.pcmBuf[:len(p.pcmBuf)-frameSamples]
	}
}

// FlushTail zero-pads the remaining samples to a full frame and appends a short
// silence tail.
func (p *Playout) FlushTail() {
	opusBuf := make([]byte, 4000)
	p.mu.Lock()
	if len(p.pcmBuf) > 0 {
		padded := make([]int16, frameSamples)
		copy(padded, p.pcmBuf)
		p.encodeFrame(padded, opusBuf)
		p.pcmBuf = p.pcmBuf[:0]
	}
	p.mu.Unlock()

	silence := make([]int16, frameSamples)
	for i := 0; i < tailSilence; i++ {
		p.encodeFrame(silence, opusBuf)
	}
}

// Reset drops all buffered samples and queued frames. Used when the agent is
// interrupted mid-utterance.
func (p *Playout) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for {
		select {
		case <-p.frames:
		default:
			p.pcmBuf = p.pcmBuf[:0]
			return
		}
	}
}

// Close stops the pacing loop. Queued frames are discarded.
func (p *Playout) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.stopped {
		p.stopped = true
		close(p.stopCh)
	}
}

func (p *Playout) encodeFrame(frame []int16, opusBuf []byte) {
	n, err := p.enc.Encode(frame, opusBuf)
	if err != nil || n == 0 {
		return
	}
	pkt := make([]byte, n)
	copy(pkt, opusBuf[:n])
	p.push(pkt)
}

// push blocks until the queue has room; backpressure throttles the synthesizer
// instead of dropping audio.
func (p *Playout) push(pkt []byte) {
	select {
	case <-p.stopCh:
	case p.frames <- pkt:
	}
}

func (p *Playout) pace() {
	ticker := time.NewTicker(frameInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			select {
			case frame := <-p.frames:
				_ = p.track.WriteSample(media.Sample{Data: frame, Duration: frameInterval})
			default:
			}
		}
	}
}
