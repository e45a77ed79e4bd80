package speech

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

// scripted synthesizer: emits a few PCM chunks per item, optionally failing
// for selected texts.
type fakeSynth struct {
	failOn string
	chunks int32
	delay  time.Duration
}

func (f *fakeSynth) StreamPCM48k(ctx context.Context, text string) (<-chan []byte, <-chan error) {
	pcm := make(chan []byte, 10)
	errc := make(chan error, 1)
	go func() {
		defer close(pcm)
		defer close(errc)
		if text == f.failOn {
			errc <- errors.New("synthesis refused")
			return
		}
		for i := 0; i < 3; i++ {
			select {
			case <-ctx.Done():
				return
			default:
			}
			pcm <- []byte{1, 0, 2, 0}
			atomic.AddInt32(&f.chunks, 1)
			if f.delay > 0 {
				time.Sleep(f.delay)
			}
		}
	}()
	return pcm, errc
}

type countingSink struct {
	wrote   int32
	flushes int32
	resets  int32
}

func (s *countingSink) WritePCM(p []byte) { atomic.AddInt32(&s.wrote, 1) }
func (s *countingSink) FlushTail()        { atomic.AddInt32(&s.flushes, 1) }
func (s *countingSink) Reset()            { atomic.AddInt32(&s.resets, 1) }

func collectEvents(t *testing.T, q *Queue, want int, timeout time.Duration) []Event {
	t.Helper()
	var got []Event
	deadline := time.After(timeout)
	for len(got) < want {
		select {
		case ev := <-q.Events():
			got = append(got, ev)
		case <-deadline:
			t.Fatalf("timed out waiting for %d events, got %v", want, got)
		}
	}
	return got
}

func TestQueue_BurstPlaysInOrderWithOneStartEnd(t *testing.T) {
	synth := &fakeSynth{delay: 2 * time.Millisecond}
	sink := &countingSink{}
	q := NewQueue(synth, sink, nil)
	defer q.Close()

	q.Enqueue("closing remark for the last question")
	q.Enqueue("next question text")

	evs := collectEvents(t, q, 2, time.Second)
	if evs[0] != EventStarted || evs[1] != EventEnded {
		t.Fatalf("expected one started and one ended, got %v", evs)
	}
	if atomic.LoadInt32(&sink.wrote) == 0 {
		t.Fatalf("expected audio written to sink")
	}
	// Both items flushed (two tails) despite a single burst.
	if atomic.LoadInt32(&sink.flushes) != 2 {
		t.Fatalf("expected 2 tail flushes, got %d", sink.flushes)
	}
	if q.Speaking() {
		t.Fatalf("expected idle after burst end")
	}
}

func TestQueue_FailingItemDoesNotHaltQueue(t *testing.T) {
	synth := &fakeSynth{failOn: "broken"}
	sink := &countingSink{}
	q := NewQueue(synth, sink, nil)
	defer q.Close()

	q.Enqueue("broken")
	q.Enqueue("still plays")

	collectEvents(t, q, 2, time.Second)
	if atomic.LoadInt32(&sink.wrote) == 0 {
		t.Fatalf("expected the second item to play after the first failed")
	}
}

func TestQueue_ClearDropsUnplayedAndResetsSink(t *testing.T) {
	synth := &fakeSynth{delay: 10 * time.Millisecond}
	sink := &countingSink{}
	q := NewQueue(synth, sink, nil)
	defer q.Close()

	q.Enqueue("first long utterance being spoken")
	q.Enqueue("second queued utterance")

	// Wait until playback begins, then clear.
	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) && atomic.LoadInt32(&synth.chunks) == 0 {
		time.Sleep(time.Millisecond)
	}
	q.Clear()

	collectEvents(t, q, 2, time.Second) // started + ended
	if atomic.LoadInt32(&sink.resets) == 0 {
		t.Fatalf("expected sink reset on clear")
	}
	if q.Speaking() {
		t.Fatalf("expected idle after clear")
	}
}

func TestQueue_NilSynthesizerStillSignals(t *testing.T) {
	q := NewQueue(nil, nil, nil)
	defer q.Close()
	q.Enqueue("anything")
	evs := collectEvents(t, q, 2, time.Second)
	if evs[0] != EventStarted || evs[1] != EventEnded {
		t.Fatalf("expected started then ended, got %v", evs)
	}
}

func TestQueue_EventsAlternateUnderChurn(t *testing.T) {
	q := NewQueue(nil, nil, nil)
	defer q.Close()

	// Drain while enqueuing so no event is shed from the buffer.
	var evs []Event
	done := make(chan struct{})
	go func() {
		defer close(done)
		quiet := time.NewTimer(300 * time.Millisecond)
		defer quiet.Stop()
		for {
			select {
			case ev := <-q.Events():
				evs = append(evs, ev)
				quiet.Reset(300 * time.Millisecond)
			case <-quiet.C:
				return
			}
		}
	}()

	// Repeatedly racing Enqueue against burst completion must never show a
	// Started before the previous burst's Ended.
	for i := 0; i < 50; i++ {
		q.Enqueue("line")
		time.Sleep(time.Millisecond)
	}
	<-done
	if len(evs) < 2 {
		t.Fatalf("expected multiple events, got %v", evs)
	}
	want := EventStarted
	for i, ev := range evs {
		if ev != want {
			t.Fatalf("event %d = %v, want %v (sequence %v)", i, ev, want, evs)
		}
		if want == EventStarted {
			want = EventEnded
		} else {
			want = EventStarted
		}
	}
	if evs[len(evs)-1] != EventEnded {
		t.Fatalf("sequence should end with Ended, got %v", evs)
	}
}

func TestQueue_EmptyTextIgnored(t *testing.T) {
	q := NewQueue(nil, nil, nil)
	defer q.Close()
	q.Enqueue("   ")
	select {
	case ev := <-q.Events():
		t.Fatalf("expected no events for empty text, got %v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}
