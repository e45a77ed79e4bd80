// Package transcript streams microphone audio to a realtime transcription
// backend and turns its running partial transcripts into finalized utterance
// segments based on silence.
package transcript

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const defaultEndpoint = "wss://streaming.assemblyai.com/v3/ws"

// Result is one recognition event: a running partial or a confirmed segment.
type Result struct {
	Text       string
	IsFinal    bool
	Confidence float64
}

// Service is a streaming speech recognizer. It accepts PCM 16kHz
// little-endian mono audio and emits live results plus silence-finalized
// utterance deltas.
type Service struct {
	apiKey   string
	endpoint string
	log      *zap.Logger

	results chan Result
	finals  chan string
	audio   chan []byte
	stopCh  chan struct{}

	mu        sync.RWMutex
	conn      *websocket.Conn
	connected bool

	fin *finalizer

	voiceMu   sync.Mutex
	lastVoice time.Time
}

// wire messages from the streaming API.
type turnMessage struct {
	Type       string  `json:"type"`
	Transcript string  `json:"transcript"`
	Confidence float64 `json:"end_of_turn_confidence"`
	Formatted  bool    `json:"turn_is_formatted"`
}

type errorMessage struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// NewService creates a streaming recognizer for the given API key.
func NewService(apiKey string, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Service{
		apiKey:   apiKey,
		endpoint: defaultEndpoint,
		log:      log,
		results:  make(chan Result, 100),
		finals:   make(chan string, 10),
		audio:    make(chan []byte, 1000),
		stopCh:   make(chan struct{}),
	}
	s.fin = newFinalizer(s.emitFinal, s.sinceVoice)
	return s
}

// Results streams live recognition events (partials and finals) for display.
func (s *Service) Results() <-chan Result { return s.results }

// Finals delivers finalized utterance deltas, one per detected end of speech.
func (s *Service) Finals() <-chan string { return s.finals }

// Start opens the streaming connection. The context bounds the dial only;
// the stream runs until Close.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connected {
		return nil
	}
	if s.apiKey == "" {
		return fmt.Errorf("transcription api key is empty")
	}

	params := url.Values{}
	params.Set("sample_rate", "16000")
	params.Set("format_turns", "false")
	params.Set("encoding", "pcm_s16le")
	wsURL := s.endpoint + "?" + params.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, wsURL, map[string][]string{"Authorization": {s.apiKey}})
	if err != nil {
		if resp != nil {
			s.log.Warn("transcription connect rejected", zap.Int("status", resp.StatusCode))
		}
		return fmt.Errorf("connect transcription stream: %w", err)
	}

	s.conn = conn
	s.connected = true
	s.touchVoice()
	go s.readLoop()
	go s.writeLoop()
	s.log.Info("transcription stream connected")
	return nil
}

// SendPCM16KLE queues one chunk of microphone audio. Dropping under
// backpressure is preferred over stalling the audio path.
func (s *Service) SendPCM16KLE(pcm []byte) error {
	s.mu.RLock()
	connected := s.connected
	s.mu.RUnlock()
	if !connected {
		return fmt.Errorf("transcription stream not connected")
	}
	if detectVoice(pcm) {
		s.touchVoice()
	}
	select {
	case s.audio <- pcm:
	default:
		s.log.Debug("audio buffer full, dropping chunk")
	}
	return nil
}

// RecentlyDetectedVoice reports whether voice energy was seen within window.
func (s *Service) RecentlyDetectedVoice(window time.Duration) bool {
	return s.sinceVoice() <= window
}

// Close terminates the stream and flushes any pending utterance delta.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return nil
	}
	close(s.stopCh)
	s.fin.stop()
	if s.conn != nil {
		_ = s.conn.WriteJSON(map[string]string{"type": "Terminate"})
		_ = s.conn.Close()
	}
	s.connected = false
	s.conn = nil
	s.fin.flush()
	// The channels stay open: the finalizer timer or a producer may lose the
	// shutdown race and still send, and receivers stop on their own. stopCh
	// is the only teardown signal.
	s.log.Info("transcription stream closed")
	return nil
}

func (s *Service) emitFinal(delta string) {
	// Bounded rather than gated on stopCh so the shutdown flush can still
	// deliver the last words.
	select {
	case s.finals <- delta:
	case <-time.After(time.Second):
		s.log.Warn("timed out delivering final transcript delta")
	}
}

func (s *Service) touchVoice() {
	s.voiceMu.Lock()
	s.lastVoice = time.Now()
	s.voiceMu.Unlock()
}

func (s *Service) sinceVoice() time.Duration {
	s.voiceMu.Lock()
	defer s.voiceMu.Unlock()
	return time.Since(s.lastVoice)
}

func (s *Service) readLoop() {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("recovered in transcript read loop", zap.Any("panic", r))
		}
	}()
	for {
		select {
		case <-s.stopCh:
			return
		default:
		}
		s.mu.RLock()
		conn := s.conn
		s.mu.RUnlock()
		if conn == nil {
			return
		}
		_, message, err := conn.ReadMessage()
		if err != nil {
			// Mid-session stream errors are non-fatal for the interview.
			s.log.Warn("transcript read error", zap.Error(err))
			return
		}
		s.processMessage(message)
	}
}

func (s *Service) processMessage(message []byte) {
	var base struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(message, &base); err != nil {
		s.log.Warn("unparseable transcript message", zap.Error(err))
		return
	}
	switch base.Type {
	case "Begin":
		s.log.Debug("transcription session began")
	case "Turn":
		var msg turnMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			s.log.Warn("bad turn message", zap.Error(err))
			return
		}
		if msg.Transcript == "" {
			return
		}
		select {
		case s.results <- Result{Text: msg.Transcript, IsFinal: msg.Formatted, Confidence: msg.Confidence}:
		default:
		}
		s.fin.observe(msg.Transcript)
	case "Termination":
		s.log.Debug("transcription session terminated by backend")
		s.fin.flush()
	case "Error":
		var msg errorMessage
		_ = json.Unmarshal(message, &msg)
		s.log.Warn("transcription backend error", zap.String("error", msg.Error))
	default:
		s.log.Debug("unknown transcript message type", zap.String("type", base.Type))
	}
}

func (s *Service) writeLoop() {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("recovered in transcript write loop", zap.Any("panic", r))
		}
	}()
	for {
		select {
		case <-s.stopCh:
			return
		case chunk, ok := <-s.audio:
			if !ok {
				return
			}
			s.mu.RLock()
			conn := s.conn
			s.mu.RUnlock()
			if conn == nil {
				return
			}
			if err := conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
				s.log.Warn("transcript audio send error", zap.Error(err))
				return
			}
		}
	}
}

// detectVoice reports whether a PCM16LE chunk carries voice-level energy.
func detectVoice(pcm []byte) bool {
	const minSamples = 160 // 10ms at 16kHz
	if len(pcm) < minSamples*2 {
		return false
	}
	step := 2
	if len(pcm) > 3200 {
		step = 4
	}
	var sumSquares float64
	count := 0
	for i := 0; i+1 < len(pcm); i += 2 * step {
		v := int16(binary.LittleEndian.Uint16(pcm[i : i+2]))
		sumSquares += float64(v) * float64(v)
		count++
	}
	if count == 0 {
		return false
	}
	const voiceRMS = 250.0
	return math.Sqrt(sumSquares/float64(count)) >= voiceRMS
}
