package media

import (
	"encoding/binary"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/hraban/opus"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// SessionDescription keeps pion types out of the transport layer.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// PCMConsumer receives decoded 16kHz mono little-endian microphone audio.
type PCMConsumer interface {
	SendPCM16KLE(pcm []byte) error
}

var (
	// ErrNegotiated is returned for a second offer; a peer owns at most one
	// connection for its lifetime.
	ErrNegotiated = errors.New("peer already negotiated")
	// ErrPeerClosed is returned when negotiating against a closed peer.
	ErrPeerClosed = errors.New("peer connection closed")
)

const (
	micRate       = 16000
	micChunkBytes = 3200 // 100ms of 16kHz mono PCM
)

// Peer owns the browser-facing WebRTC connection for one session: it decodes
// the remote microphone track into the transcription stream and carries the
// agent's synthesized audio back out through a paced Opus track. The zero
// playout state (before negotiation or after teardown) silently drops audio.
type Peer struct {
	log      *zap.Logger
	consumer PCMConsumer

	mic       atomic.Bool
	cam       atomic.Bool
	playout   atomic.Pointer[Playout]
	micTaken  atomic.Bool
	downFired atomic.Bool
	onDown    func()

	mu     sync.Mutex
	pc     *webrtc.PeerConnection
	closed bool
}

// NewPeer constructs an unnegotiated peer. The microphone and camera start
// enabled.
func NewPeer(consumer PCMConsumer, log *zap.Logger) *Peer {
	if log == nil {
		log = zap.NewNop()
	}
	p := &Peer{log: log, consumer: consumer}
	p.mic.Store(true)
	p.cam.Store(true)
	return p
}

// OnDisconnect registers a callback fired once when the connection drops or
// fails. Must be set before Answer.
func (p *Peer) OnDisconnect(fn func()) { p.onDown = fn }

// SetMicEnabled toggles delivery of decoded microphone audio. The track keeps
// flowing; disabled audio is discarded before transcription.
func (p *Peer) SetMicEnabled(on bool) {
	p.mic.Store(on)
	p.log.Debug("microphone toggled", zap.Bool("enabled", on))
}

// SetCameraEnabled toggles the camera flag. Video is never consumed server
// side; the flag exists so session state can reflect the user's choice.
func (p *Peer) SetCameraEnabled(on bool) { p.cam.Store(on) }

// MicEnabled reports the current microphone toggle.
func (p *Peer) MicEnabled() bool { return p.mic.Load() }

// CameraEnabled reports the current camera toggle.
func (p *Peer) CameraEnabled() bool { return p.cam.Load() }

// Answer performs the single offer/answer exchange for this peer. ICE
// candidates are gathered before the answer is returned, so no trickle
// signaling channel is needed.
func (p *Peer) Answer(offer SessionDescription) (SessionDescription, error) {
	if offer.Type != "offer" || offer.SDP == "" {
		return SessionDescription{}, errors.New("invalid offer")
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return SessionDescription{}, ErrPeerClosed
	}
	if p.pc != nil {
		p.mu.Unlock()
		return SessionDescription{}, ErrNegotiated
	}
	p.mu.Unlock()

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return SessionDescription{}, err
	}
	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return SessionDescription{}, err
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine), webrtc.WithInterceptorRegistry(registry))

	pc, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}},
	})
	if err != nil {
		return SessionDescription{}, err
	}

	outTrack, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: playoutRate, Channels: 1},
		"agent-audio", "agent",
	)
	if err != nil {
		_ = pc.Close()
		return SessionDescription{}, err
	}
	if _, err := pc.AddTrack(outTrack); err != nil {
		_ = pc.Close()
		return SessionDescription{}, err
	}
	playout, err := NewPlayout(outTrack)
	if err != nil {
		_ = pc.Close()
		return SessionDescription{}, err
	}

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		p.log.Info("peer connection state", zap.String("state", state.String()))
		switch state {
		case webrtc.PeerConnectionStateFailed,
			webrtc.PeerConnectionStateClosed,
			webrtc.PeerConnectionStateDisconnected:
			playout.Close()
			if p.onDown != nil && !p.downFired.Swap(true) {
				p.onDown()
			}
		}
	})

	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if remote.Kind() != webrtc.RTPCodecTypeAudio {
			return
		}
		if p.micTaken.Swap(true) {
			p.log.Warn("ignoring extra audio track", zap.String("codec", remote.Codec().MimeType))
			return
		}
		p.log.Info("remote audio track attached", zap.String("codec", remote.Codec().MimeType))
		dec, derr := opus.NewDecoder(micRate, 1)
		if derr != nil {
			p.log.Error("opus decoder init failed", zap.Error(derr))
			return
		}
		go p.readMic(remote, dec)
	})

	p.mu.Lock()
	p.pc = pc
	p.mu.Unlock()
	p.playout.Store(playout)

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer.SDP}); err != nil {
		_ = p.Close()
		return SessionDescription{}, err
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		_ = p.Close()
		return SessionDescription{}, err
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		_ = p.Close()
		return SessionDescription{}, err
	}
	<-gathered
	local := pc.LocalDescription()
	if local == nil {
		_ = p.Close()
		return SessionDescription{}, errors.New("no local description")
	}
	return SessionDescription{Type: "answer", SDP: local.SDP}, nil
}

// readMic decodes remote Opus packets and forwards fixed-size 16kHz PCM chunks
// to the consumer. Runs until the track read fails on teardown.
func (p *Peer) readMic(remote *webrtc.TrackRemote, dec *opus.Decoder) {
	samples := make([]int16, 1920)
	buf := make([]byte, 0, micChunkBytes*4)
	for {
		pkt, _, err := remote.ReadRTP()
		if err != nil {
			p.log.Debug("microphone track ended", zap.Error(err))
			return
		}
		if len(pkt.Payload) == 0 {
			continue
		}
		n, err := dec.Decode(pkt.Payload, samples)
		if err != nil {
			p.log.Warn("opus decode failed", zap.Error(err))
			continue
		}
		if !p.mic.Load() {
			buf = buf[:0]
			continue
		}
		buf = p.forwardMicPCM(buf, samples[:n])
	}
}

// forwardMicPCM appends decoded samples to buf and sends full chunks to the
// consumer, returning the remainder. Each chunk is copied out first: the
// consumer queues chunks asynchronously, and buf's backing array is reused.
func (p *Peer) forwardMicPCM(buf []byte, samples []int16) []byte {
	start := len(buf)
	buf = append(buf, make([]byte, len(samples)*2)...)
	out := buf[start:]
	for i, v := range samples {
		binary.LittleEndian.PutUint16(out[i*2:(i+1)*2], uint16(v))
	}
	for len(buf) >= micChunkBytes {
		chunk := make([]byte, micChunkBytes)
		copy(chunk, buf[:micChunkBytes])
		if err := p.consumer.SendPCM16KLE(chunk); err != nil {
			p.log.Warn("transcription send failed", zap.Error(err))
		}
		copy(buf, buf[micChunkBytes:])
		buf = buf[:len(buf)-micChunkBytes]
	}
	return buf
}

// WritePCM forwards synthesized audio to the negotiated playout, dropping it
// when no connection exists yet.
func (p *Peer) WritePCM(pcm []byte) {
	if pl := p.playout.Load(); pl != nil {
		pl.WritePCM(pcm)
	}
}

// FlushTail flushes the active playout.
func (p *Peer) FlushTail() {
	if pl := p.playout.Load(); pl != nil {
		pl.FlushTail()
	}
}

// Reset drops queued playout audio.
func (p *Peer) Reset() {
	if pl := p.playout.Load(); pl != nil {
		pl.Reset()
	}
}

// Close tears the connection down. Idempotent.
func (p *Peer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	pc := p.pc
	p.mu.Unlock()

	if pl := p.playout.Load(); pl != nil {
		pl.Close()
	}
	if pc != nil {
		return pc.Close()
	}
	return nil
}
