package speech

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Queue serializes text utterances into sequential spoken-audio playback.
// Consecutive Enqueue calls while playing extend the current burst; items play
// back-to-back in submission order without overlap. One item failing does not
// halt the queue.
type Queue struct {
	tts  Synthesizer
	sink Sink
	log  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	items    []string
	speaking bool
	itemStop context.CancelFunc
	cleared  bool

	events chan Event
}

// NewQueue builds a playback queue. A nil synthesizer is allowed: items then
// complete instantly (events still fire), which keeps sessions usable when no
// TTS backend is configured.
func NewQueue(tts Synthesizer, sink Sink, log *zap.Logger) *Queue {
	if sink == nil {
		sink = NopSink{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		tts:    tts,
		sink:   sink,
		log:    log,
		ctx:    ctx,
		cancel: cancel,
		events: make(chan Event, 64),
	}
}

// Events reports burst start/end transitions.
func (q *Queue) Events() <-chan Event { return q.events }

// Speaking reports whether a burst is currently playing.
func (q *Queue) Speaking() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.speaking
}

// Enqueue appends text and, if idle, begins sequential playback.
func (q *Queue) Enqueue(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	q.mu.Lock()
	q.items = append(q.items, text)
	if !q.speaking {
		q.speaking = true
		// Emitted under the lock so Started/Ended order always matches the
		// speaking transitions.
		q.emit(EventStarted)
		go q.drain()
	}
	q.mu.Unlock()
}

// Clear discards unplayed items and cancels the in-flight one. Queued audio
// frames are dropped so interruption is immediate.
func (q *Queue) Clear() {
	q.mu.Lock()
	q.items = q.items[:0]
	q.cleared = true
	stop := q.itemStop
	q.mu.Unlock()
	if stop != nil {
		stop()
	}
	q.sink.Reset()
}

// Close stops playback permanently.
func (q *Queue) Close() {
	q.Clear()
	q.cancel()
}

func (q *Queue) drain() {
	for {
		q.mu.Lock()
		if len(q.items) == 0 || q.ctx.Err() != nil {
			q.speaking = false
			q.itemStop = nil
			q.cleared = false
			q.emit(EventEnded)
			q.mu.Unlock()
			return
		}
		item := q.items[0]
		q.items = q.items[1:]
		itemCtx, stop := context.WithCancel(q.ctx)
		q.itemStop = stop
		q.cleared = false
		q.mu.Unlock()

		interrupted := q.play(itemCtx, item)
		stop()
		if !interrupted {
			q.sink.FlushTail()
		}
	}
}

// play streams one utterance into the sink. Returns true when playback was
// cut short by Clear or shutdown.
func (q *Queue) play(ctx context.Context, text string) bool {
	if q.tts == nil {
		return false
	}
	pcmCh, errCh := q.tts.StreamPCM48k(ctx, text)
	openPCM, openErr := true, true
	for openPCM || openErr {
		select {
		case b, ok := <-pcmCh:
			if !ok {
				openPCM = false
				continue
			}
			if len(b) > 0 && !q.wasCleared() {
				q.sink.WritePCM(b)
			}
		case e, ok := <-errCh:
			if ok && e != nil {
				// Per-utterance failures are non-fatal: log and move on.
				q.log.Warn("tts stream error", zap.Error(e))
			}
			openErr = false
		case <-ctx.Done():
			return true
		}
	}
	return q.wasCleared()
}

func (q *Queue) wasCleared() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.cleared
}

func (q *Queue) emit(ev Event) {
	select {
	case q.events <- ev:
	default:
		q.log.Warn("speech queue event dropped", zap.Int("event", int(ev)))
	}
}
