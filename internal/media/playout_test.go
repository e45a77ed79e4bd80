package media

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/pion/webrtc/v3/pkg/media"
)

type fakeTrack struct{ writes int32 }

func (f *fakeTrack) WriteSample(s media.Sample) error {
	atomic.AddInt32(&f.writes, 1)
	return nil
}

func newTestPlayout(track sampleWriter) *Playout {
	// Encoder left nil; tests exercise queueing and pacing only.
	return &Playout{
		track:  track,
		frames: make(chan []byte, 8),
		stopCh: make(chan struct{}),
	}
}

func TestPlayoutPacesQueuedFrames(t *testing.T) {
	ft := &fakeTrack{}
	p := newTestPlayout(ft)
	done := make(chan struct{})
	go func() { p.pace(); close(done) }()

	for i := 0; i < 3; i++ {
		p.push([]byte{0x01, 0x02})
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && atomic.LoadInt32(&ft.writes) == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	p.Close()
	<-done

	if atomic.LoadInt32(&ft.writes) == 0 {
		t.Fatal("pacer never wrote a frame")
	}
}

func TestPlayoutResetDrains(t *testing.T) {
	p := newTestPlayout(&fakeTrack{})
	p.pcmBuf = []int16{1, 2, 3}
	p.frames <- []byte{0x01}
	p.frames <- []byte{0x02}

	p.Reset()

	select {
	case <-p.frames:
		t.Fatal("frames channel not drained")
	default:
	}
	if len(p.pcmBuf) != 0 {
		t.Fatalf("pcm buffer not cleared, len=%d", len(p.pcmBuf))
	}
}

func TestPlayoutCloseIdempotent(t *testing.T) {
	p := newTestPlayout(&fakeTrack{})
	p.Close()
	p.Close()
}

type retainingConsumer struct{ chunks [][]byte }

func (c *retainingConsumer) SendPCM16KLE(pcm []byte) error {
	c.chunks = append(c.chunks, pcm)
	return nil
}

func TestForwardMicPCMChunksSurviveBufferReuse(t *testing.T) {
	c := &retainingConsumer{}
	p := NewPeer(c, nil)

	// One full chunk (3200 bytes) plus an 800-byte remainder.
	first := make([]int16, 2000)
	for i := range first {
		first[i] = 0x0101
	}
	buf := p.forwardMicPCM(nil, first)
	if len(c.chunks) != 1 {
		t.Fatalf("chunks after first write = %d, want 1", len(c.chunks))
	}
	if len(buf) != 800 {
		t.Fatalf("remainder = %d bytes, want 800", len(buf))
	}

	// The next write shifts the buffer; a chunk still held by the consumer
	// must not change underneath it.
	second := make([]int16, 1200)
	for i := range second {
		second[i] = 0x0202
	}
	buf = p.forwardMicPCM(buf, second)
	if len(c.chunks) != 2 {
		t.Fatalf("chunks after second write = %d, want 2", len(c.chunks))
	}
	if len(buf) != 0 {
		t.Fatalf("remainder = %d bytes, want 0", len(buf))
	}
	for i, b := range c.chunks[0] {
		if b != 0x01 {
			t.Fatalf("first chunk corrupted at byte %d: %#x", i, b)
		}
	}
	for i, b := range c.chunks[1] {
		want := byte(0x02)
		if i < 800 {
			want = 0x01
		}
		if b != want {
			t.Fatalf("second chunk wrong at byte %d: %#x, want %#x", i, b, want)
		}
	}
}

func TestPeerDropsAudioBeforeNegotiation(t *testing.T) {
	p := NewPeer(nil, nil)
	// No playout exists yet; these must be harmless no-ops.
	p.WritePCM([]byte{0x00, 0x01})
	p.FlushTail()
	p.Reset()
	if !p.MicEnabled() {
		t.Error("microphone should start enabled")
	}
	p.SetMicEnabled(false)
	if p.MicEnabled() {
		t.Error("microphone toggle did not stick")
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := p.Answer(SessionDescription{Type: "offer", SDP: "v=0"}); err != ErrPeerClosed {
		t.Fatalf("answer after close = %v, want ErrPeerClosed", err)
	}
}

func TestPeerRejectsInvalidOffer(t *testing.T) {
	p := NewPeer(nil, nil)
	defer p.Close()
	if _, err := p.Answer(SessionDescription{Type: "answer", SDP: "v=0"}); err == nil {
		t.Fatal("expected rejection of non-offer description")
	}
	if _, err := p.Answer(SessionDescription{Type: "offer"}); err == nil {
		t.Fatal("expected rejection of empty SDP")
	}
}
