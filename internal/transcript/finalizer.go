package transcript

import (
	"strings"
	"sync"
	"time"
	"unicode"
)

// silenceHold is the base inactivity window required before an utterance is
// considered complete. Conservative, to avoid cutting the speaker
// mid-sentence.
const silenceHold = 700 * time.Millisecond

// continuationExtension is added to the hold when the last word suggests the
// speaker will continue ("and", "if", "um", ...).
const continuationExtension = 1200 * time.Millisecond

// stabilizationGrace absorbs late transcript updates from the backend after
// the silence window has elapsed, before committing the segment.
const stabilizationGrace = 250 * time.Millisecond

// finalizer accumulates the running full transcript and emits only the delta
// since the last committed segment once enough silence has passed.
type finalizer struct {
	mu         sync.Mutex
	latest     string
	committed  string
	lastUpdate time.Time
	timer      *time.Timer
	stopped    bool

	emit       func(delta string)
	sinceVoice func() time.Duration
}

func newFinalizer(emit func(string), sinceVoice func() time.Duration) *finalizer {
	return &finalizer{emit: emit, sinceVoice: sinceVoice}
}

// observe records the latest running transcript and (re)arms the silence
// timer.
func (f *finalizer) observe(fullTranscript string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopped {
		return
	}
	f.latest = fullTranscript
	f.lastUpdate = time.Now()
	f.arm(silenceHold)
}

// arm must be called with f.mu held.
func (f *finalizer) arm(d time.Duration) {
	if d < 10*time.Millisecond {
		d = 10 * time.Millisecond
	}
	if f.timer == nil {
		f.timer = time.AfterFunc(d, f.due)
		return
	}
	f.timer.Stop()
	f.timer.Reset(d)
}

func (f *finalizer) stop() {
	f.mu.Lock()
	f.stopped = true
	if f.timer != nil {
		f.timer.Stop()
		f.timer = nil
	}
	f.mu.Unlock()
}

// due fires after the silence window. It re-checks inactivity (the window
// stretches when the last word implies continuation), waits a short grace for
// late updates, and then commits the delta.
func (f *finalizer) due() {
	f.mu.Lock()
	if f.stopped {
		f.mu.Unlock()
		return
	}
	hold := f.holdFor(f.latest)
	sinceText := time.Since(f.lastUpdate)
	sinceVoice := f.sinceVoice()
	if sinceText < hold || sinceVoice < hold {
		wait := hold
		if rem := hold - sinceText; sinceText < hold && rem < wait {
			wait = rem
		}
		if rem := hold - sinceVoice; sinceVoice < hold && rem < wait {
			wait = rem
		}
		f.arm(wait)
		f.mu.Unlock()
		return
	}
	observedAt := f.lastUpdate
	f.mu.Unlock()

	time.Sleep(stabilizationGrace)

	f.mu.Lock()
	if f.stopped {
		f.mu.Unlock()
		return
	}
	if f.lastUpdate.After(observedAt) {
		// A late update arrived during the grace window; push forward.
		f.arm(f.holdFor(f.latest))
		f.mu.Unlock()
		return
	}
	delta := f.commitLocked()
	f.mu.Unlock()

	if delta != "" {
		f.emit(delta)
	}
}

// flush commits any pending delta immediately (used on shutdown so the last
// words are not lost).
func (f *finalizer) flush() {
	f.mu.Lock()
	delta := f.commitLocked()
	f.mu.Unlock()
	if delta != "" {
		f.emit(delta)
	}
}

// commitLocked computes the delta between the latest and committed
// transcripts and advances the committed marker. Caller holds f.mu.
func (f *finalizer) commitLocked() string {
	delta := strings.TrimSpace(strings.TrimPrefix(f.latest, f.committed))
	if delta == "" && f.committed != "" {
		if idx := strings.LastIndex(f.latest, f.committed); idx >= 0 {
			delta = strings.TrimSpace(f.latest[idx+len(f.committed):])
		}
	}
	f.committed = f.latest
	return delta
}

func (f *finalizer) holdFor(text string) time.Duration {
	if isContinuationLikely(text) {
		return silenceHold + continuationExtension
	}
	return silenceHold
}

// isContinuationLikely returns true if the last meaningful word indicates the
// speaker is likely to continue (conjunctions, prepositions, fillers).
func isContinuationLikely(text string) bool {
	w := lastWord(text)
	if w == "" {
		return false
	}
	_, ok := continuationWords[w]
	return ok
}

func lastWord(text string) string {
	trim := strings.TrimSpace(text)
	if trim == "" {
		return ""
	}
	fields := strings.FieldsFunc(trim, func(r rune) bool { return !unicode.IsLetter(r) })
	if len(fields) == 0 {
		return ""
	}
	return strings.ToLower(fields[len(fields)-1])
}

var continuationWords = map[string]struct{}{
	// coordinating conjunctions
	"and": {}, "or": {}, "but": {}, "nor": {}, "yet": {}, "so": {},
	// subordinating conjunctions / conditionals
	"if": {}, "when": {}, "while": {}, "though": {}, "although": {},
	"because": {}, "since": {}, "unless": {}, "until": {}, "whereas": {},
	// discourse markers / fillers
	"also": {}, "plus": {}, "um": {}, "uh": {}, "like": {},
	// prepositions that rarely end a finished sentence
	"about": {}, "with": {}, "to": {}, "of": {}, "for": {}, "on": {}, "in": {}, "at": {},
}
