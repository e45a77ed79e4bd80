package interview

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/prepcall/interview-agent/internal/speech"
)

// Config carries the session controller tunables.
type Config struct {
	SessionDuration  time.Duration
	QuestionDuration time.Duration
	// ReplyDelay is how long the agent waits after a final transcript before
	// reacting, approximating conversational latency. A newer final restarts
	// the delay so only the most recent stable utterance triggers a reply.
	ReplyDelay time.Duration
	// MinReplyWords guards against reacting to filler or false-positive
	// transcription fragments.
	MinReplyWords int
	// TickInterval is the countdown granularity. Defaults to one second;
	// tests stretch it and drive ticks directly.
	TickInterval time.Duration
}

func (c *Config) applyDefaults() {
	if c.SessionDuration <= 0 {
		c.SessionDuration = 300 * time.Second
	}
	if c.QuestionDuration <= 0 {
		c.QuestionDuration = 60 * time.Second
	}
	if c.ReplyDelay <= 0 {
		c.ReplyDelay = 2 * time.Second
	}
	if c.MinReplyWords <= 0 {
		c.MinReplyWords = 8
	}
	if c.TickInterval <= 0 {
		c.TickInterval = time.Second
	}
}

// Deps are the four adapters a session composes. Speaker and Responder are
// required; Recognizer and Capture may be nil when no media stream exists.
type Deps struct {
	Recognizer Recognizer
	Speaker    Speaker
	Capture    Capture
	Responder  Responder
	Log        *zap.Logger
}

// Snapshot is a consistent copy of session state, taken from inside the event
// loop so observers never see a half-applied transition.
type Snapshot struct {
	Status                Status
	ErrMsg                string
	Company               string
	Role                  string
	Questions             []Question
	CurrentQuestionIndex  int
	SessionTimeRemaining  int
	QuestionTimeRemaining int
	TranscriptBuffer      string
	Speaking              bool
	ConversationLog       []Turn
	Responses             []Response
	AdvancePending        bool
	GeneratingFeedback    bool
	Feedback              *Feedback
}

// Session drives one mock interview: question progression, per-question and
// whole-session countdowns, conversational turn-taking and end-of-session
// feedback assembly. A single goroutine owns all state; public methods and
// adapter callbacks submit events to it.
type Session struct {
	cfg Config
	rec Recognizer
	spk Speaker
	cap Capture
	gen Responder
	log *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	events chan any
	done   chan struct{}
}

// loop-owned state; never touched outside run().
type sessionState struct {
	status  Status
	errMsg  string
	company string
	role    string

	questions []Question
	index     int

	sessionRemaining  int
	questionRemaining int
	questionArmed     bool

	buffer    []string
	convLog   []Turn
	responses []Response

	speaking       bool
	advancePending bool
	replied        bool
	replySeq       int
	replyTimer     *time.Timer

	generating bool
	feedback   *Feedback

	ticker *time.Ticker
	tickCh <-chan time.Time
	finals <-chan string
}

// command and event payloads consumed by the loop.
type (
	cmdStart struct {
		company, role string
		reply         chan error
	}
	cmdPause  struct{ reply chan error }
	cmdResume struct{ reply chan error }
	cmdSkip   struct{ reply chan error }
	cmdEnd    struct{ reply chan error }

	evTick        struct{}
	evFinal       struct{ text string }
	evReplyDue    struct{ seq int }
	evReplyReady  struct {
		seq  int
		text string
	}
	evRemarkReady struct{ utterance string }
	evFeedback    struct {
		report *Feedback
		err    error
	}
	reqSnapshot struct{ reply chan Snapshot }
)

const (
	remarkTimeout   = 10 * time.Second
	replyTimeout    = 8 * time.Second
	feedbackTimeout = 60 * time.Second
)

// NewSession constructs a session in the NotStarted state and starts its event
// loop.
func NewSession(cfg Config, deps Deps) *Session {
	cfg.applyDefaults()
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		cfg:    cfg,
		rec:    deps.Recognizer,
		spk:    deps.Speaker,
		cap:    deps.Capture,
		gen:    deps.Responder,
		log:    log,
		ctx:    ctx,
		cancel: cancel,
		events: make(chan any, 128),
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

// Start begins the interview. Valid only from NotStarted.
func (s *Session) Start(company, role string) error {
	reply := make(chan error, 1)
	if err := s.post(cmdStart{company: company, role: role, reply: reply}); err != nil {
		return err
	}
	return s.await(reply)
}

// Pause suspends countdowns and recognition.
func (s *Session) Pause() error { return s.command(func(r chan error) any { return cmdPause{r} }) }

// Resume continues from the remaining countdown values.
func (s *Session) Resume() error { return s.command(func(r chan error) any { return cmdResume{r} }) }

// Skip advances to the next question on user request.
func (s *Session) Skip() error { return s.command(func(r chan error) any { return cmdSkip{r} }) }

// End finalizes the session immediately with the responses recorded so far.
func (s *Session) End() error { return s.command(func(r chan error) any { return cmdEnd{r} }) }

// Snapshot returns a consistent copy of the session state.
func (s *Session) Snapshot() Snapshot {
	reply := make(chan Snapshot, 1)
	if err := s.post(reqSnapshot{reply: reply}); err != nil {
		return Snapshot{Status: StatusError, ErrMsg: "session closed"}
	}
	select {
	case snap := <-reply:
		return snap
	case <-s.ctx.Done():
		return Snapshot{Status: StatusError, ErrMsg: "session closed"}
	}
}

// Close tears the session down. Any in-flight generation result is discarded.
func (s *Session) Close() {
	s.cancel()
	<-s.done
}

func (s *Session) command(build func(chan error) any) error {
	reply := make(chan error, 1)
	if err := s.post(build(reply)); err != nil {
		return err
	}
	return s.await(reply)
}

func (s *Session) post(ev any) error {
	select {
	case s.events <- ev:
		return nil
	case <-s.ctx.Done():
		return fmt.Errorf("%w: session closed", ErrInvalidState)
	}
}

func (s *Session) await(reply chan error) error {
	select {
	case err := <-reply:
		return err
	case <-s.ctx.Done():
		return fmt.Errorf("%w: session closed", ErrInvalidState)
	}
}

func (s *Session) run() {
	defer close(s.done)
	st := &sessionState{status: StatusNotStarted}
	defer s.teardown(st)

	var speakerEvents <-chan speech.Event
	if s.spk != nil {
		speakerEvents = s.spk.Events()
	}

	for {
		select {
		case <-s.ctx.Done():
			return
		case ev := <-s.events:
			s.handle(st, ev)
		case <-st.tickCh:
			s.handleTick(st)
		case text, ok := <-st.finals:
			if !ok {
				st.finals = nil
				continue
			}
			s.handleFinal(st, text)
		case sev, ok := <-speakerEvents:
			if !ok {
				speakerEvents = nil
				continue
			}
			s.handleSpeech(st, sev)
		}
	}
}

func (s *Session) teardown(st *sessionState) {
	s.stopTimers(st)
	if s.rec != nil {
		_ = s.rec.Close()
	}
	if s.cap != nil {
		_ = s.cap.Close()
	}
	if s.spk != nil {
		s.spk.Clear()
	}
}

func (s *Session) handle(st *sessionState, ev any) {
	switch e := ev.(type) {
	case cmdStart:
		e.reply <- s.handleStart(st, e.company, e.role)
	case cmdPause:
		e.reply <- s.handlePause(st)
	case cmdResume:
		e.reply <- s.handleResume(st)
	case cmdSkip:
		e.reply <- s.handleSkip(st)
	case cmdEnd:
		e.reply <- s.handleEnd(st)
	case evTick:
		s.handleTick(st)
	case evFinal:
		s.handleFinal(st, e.text)
	case evReplyDue:
		s.handleReplyDue(st, e.seq)
	case evReplyReady:
		s.handleReplyReady(st, e)
	case evRemarkReady:
		s.handleRemarkReady(st, e.utterance)
	case evFeedback:
		s.handleFeedback(st, e)
	case reqSnapshot:
		e.reply <- s.snapshot(st)
	}
}

func (s *Session) handleStart(st *sessionState, company, role string) error {
	if st.status != StatusNotStarted {
		return fmt.Errorf("%w: start from %s", ErrInvalidState, st.status)
	}
	st.company, st.role = company, role
	st.questions = GenerateQuestions(company, role)
	st.index = 0
	st.sessionRemaining = int(s.cfg.SessionDuration / time.Second)
	st.questionRemaining = int(s.cfg.QuestionDuration / time.Second)
	st.questionArmed = false

	if s.rec != nil {
		if err := s.rec.Start(s.ctx); err != nil {
			st.status = StatusError
			st.errMsg = "could not start speech recognition"
			s.log.Error("recognition start failed", zap.Error(err))
			return fmt.Errorf("%w: %v", ErrTranscription, err)
		}
		st.finals = s.rec.Finals()
	}

	st.status = StatusActive
	st.ticker = time.NewTicker(s.cfg.TickInterval)
	st.tickCh = st.ticker.C

	s.say(st, WelcomeLine(company, role)+" "+st.questions[0].Text)
	s.log.Info("interview started",
		zap.String("company", company),
		zap.String("role", role),
		zap.Int("questions", len(st.questions)),
	)
	return nil
}

func (s *Session) handlePause(st *sessionState) error {
	if st.status != StatusActive {
		return fmt.Errorf("%w: pause from %s", ErrInvalidState, st.status)
	}
	st.status = StatusPaused
	s.cancelReply(st)
	if s.cap != nil {
		s.cap.SetMicEnabled(false)
	}
	return nil
}

func (s *Session) handleResume(st *sessionState) error {
	if st.status != StatusPaused {
		return fmt.Errorf("%w: resume from %s", ErrInvalidState, st.status)
	}
	st.status = StatusActive
	if s.cap != nil {
		s.cap.SetMicEnabled(true)
	}
	return nil
}

func (s *Session) handleSkip(st *sessionState) error {
	if st.status != StatusActive {
		return fmt.Errorf("%w: skip from %s", ErrInvalidState, st.status)
	}
	s.advance(st, false)
	return nil
}

func (s *Session) handleEnd(st *sessionState) error {
	switch st.status {
	case StatusNotStarted, StatusError:
		return fmt.Errorf("%w: end from %s", ErrInvalidState, st.status)
	case StatusComplete:
		return nil // double-finish is a no-op
	}
	s.finish(st, false)
	return nil
}

func (s *Session) handleTick(st *sessionState) {
	if st.status != StatusActive {
		return
	}
	if st.sessionRemaining > 0 {
		st.sessionRemaining--
	}
	if st.sessionRemaining == 0 {
		s.finish(st, true)
		return
	}
	// The question countdown runs only once its question has been spoken and
	// while the agent is quiet; an in-flight advance freezes it.
	if !st.questionArmed || st.speaking || st.advancePending {
		return
	}
	if st.questionRemaining > 0 {
		st.questionRemaining--
	}
	if st.questionRemaining == 0 {
		s.advance(st, true)
	}
}

func (s *Session) handleFinal(st *sessionState, text string) {
	text = strings.TrimSpace(text)
	if text == "" || st.status != StatusActive {
		return
	}
	st.buffer = append(st.buffer, text)
	st.convLog = append(st.convLog, Turn{Speaker: SpeakerUser, Text: text, At: time.Now()})

	if st.speaking {
		// The agent never evaluates speech while talking. Sustained speech
		// from the candidate yields the floor instead.
		if wordCount(text) >= s.cfg.MinReplyWords && s.spk != nil {
			s.log.Debug("yielding to candidate speech")
			s.spk.Clear()
		}
		return
	}
	if st.replied || st.advancePending {
		return
	}
	if wordCount(strings.Join(st.buffer, " ")) < s.cfg.MinReplyWords {
		return
	}
	s.scheduleReply(st)
}

func (s *Session) scheduleReply(st *sessionState) {
	st.replySeq++
	seq := st.replySeq
	if st.replyTimer != nil {
		st.replyTimer.Stop()
	}
	st.replyTimer = time.AfterFunc(s.cfg.ReplyDelay, func() {
		_ = s.post(evReplyDue{seq: seq})
	})
}

func (s *Session) cancelReply(st *sessionState) {
	st.replySeq++ // invalidates any due event already in flight
	if st.replyTimer != nil {
		st.replyTimer.Stop()
		st.replyTimer = nil
	}
}

func (s *Session) handleReplyDue(st *sessionState, seq int) {
	if seq != st.replySeq {
		return // superseded by a newer final or canceled
	}
	if st.status != StatusActive || st.speaking || st.replied || st.advancePending {
		return
	}
	st.replied = true
	req := ReplyRequest{
		Question: st.questions[st.index],
		Answer:   strings.Join(st.buffer, " "),
		Index:    st.index,
		Total:    len(st.questions),
	}
	go func() {
		ctx, cancel := context.WithTimeout(s.ctx, replyTimeout)
		defer cancel()
		text := s.gen.ConversationalReply(ctx, req)
		_ = s.post(evReplyReady{seq: seq, text: text})
	}()
}

func (s *Session) handleReplyReady(st *sessionState, e evReplyReady) {
	if e.seq != st.replySeq {
		return // generated for an answer the session has moved past
	}
	if st.status != StatusActive || st.speaking || st.advancePending {
		return // the moment has passed; drop the reply
	}
	if e.text == "" {
		return
	}
	s.say(st, e.text)
}

// advance moves to the next question. At most one advance can be in flight:
// competing triggers (timeout vs. user skip) collapse into the first one.
func (s *Session) advance(st *sessionState, timeRanOut bool) {
	if st.advancePending {
		return
	}
	s.cancelReply(st)

	answered := st.questions[st.index]
	answer := strings.TrimSpace(strings.Join(st.buffer, " "))
	st.responses = append(st.responses, Response{QuestionID: answered.ID, Text: answer})
	st.index++
	st.buffer = nil
	st.replied = false

	if st.index >= len(st.questions) {
		s.finish(st, false)
		return
	}

	st.questionRemaining = int(s.cfg.QuestionDuration / time.Second)
	st.questionArmed = false
	st.advancePending = true
	s.log.Debug("advancing question",
		zap.Int("index", st.index),
		zap.Bool("time_ran_out", timeRanOut),
	)

	req := TransitionRequest{
		Question: answered,
		Answer:   answer,
		Index:    st.index - 1,
		Total:    len(st.questions),
	}
	next := st.questions[st.index].Text
	go func() {
		ctx, cancel := context.WithTimeout(s.ctx, remarkTimeout)
		defer cancel()
		remark := s.gen.TransitionRemark(ctx, req)
		utterance := strings.TrimSpace(remark + " " + next)
		_ = s.post(evRemarkReady{utterance: utterance})
	}()
}

func (s *Session) handleRemarkReady(st *sessionState, utterance string) {
	if !st.advancePending {
		return
	}
	st.advancePending = false
	if st.status != StatusActive && st.status != StatusPaused {
		return
	}
	s.say(st, utterance)
}

// finish is idempotent. recordCurrent captures the in-progress answer when the
// whole-session countdown expires mid-question; user-initiated End leaves
// unanswered questions unrecorded.
func (s *Session) finish(st *sessionState, recordCurrent bool) {
	if st.status == StatusComplete {
		return
	}
	if recordCurrent && st.index < len(st.questions) {
		st.responses = append(st.responses, Response{
			QuestionID: st.questions[st.index].ID,
			Text:       strings.TrimSpace(strings.Join(st.buffer, " ")),
		})
		st.index++
		st.buffer = nil
	}
	s.stopTimers(st)
	if s.rec != nil {
		_ = s.rec.Close()
	}
	if s.cap != nil {
		s.cap.SetMicEnabled(false)
	}
	if s.spk != nil {
		s.spk.Clear()
	}
	st.status = StatusComplete
	st.advancePending = false
	st.generating = true

	req := FeedbackRequest{
		Company:   st.company,
		Role:      st.role,
		Questions: append([]Question(nil), st.questions...),
		Responses: append([]Response(nil), st.responses...),
		Log:       append([]Turn(nil), st.convLog...),
	}
	s.log.Info("interview complete",
		zap.Int("responses", len(st.responses)),
		zap.Int("questions", len(st.questions)),
	)
	go func() {
		ctx, cancel := context.WithTimeout(s.ctx, feedbackTimeout)
		defer cancel()
		report, err := s.gen.FeedbackReport(ctx, req)
		_ = s.post(evFeedback{report: report, err: err})
	}()
}

func (s *Session) handleFeedback(st *sessionState, e evFeedback) {
	if !st.generating || st.status != StatusComplete {
		return // stale result for an already-resolved or closed session
	}
	st.generating = false
	if e.err != nil || e.report == nil {
		s.log.Warn("feedback generation failed, using fallback", zap.Error(e.err))
		st.feedback = FallbackReport(st.role, st.questions, st.responses)
		return
	}
	st.feedback = e.report
}

func (s *Session) handleSpeech(st *sessionState, ev speech.Event) {
	switch ev {
	case speech.EventStarted:
		st.speaking = true
		s.cancelReply(st)
	case speech.EventEnded:
		st.speaking = false
		if st.status == StatusActive || st.status == StatusPaused {
			st.questionArmed = true
		}
	}
}

func (s *Session) say(st *sessionState, text string) {
	if s.spk != nil {
		s.spk.Enqueue(text)
	}
	st.convLog = append(st.convLog, Turn{Speaker: SpeakerAI, Text: text, At: time.Now()})
}

func (s *Session) stopTimers(st *sessionState) {
	if st.ticker != nil {
		st.ticker.Stop()
		st.ticker = nil
		st.tickCh = nil
	}
	s.cancelReply(st)
}

func (s *Session) snapshot(st *sessionState) Snapshot {
	return Snapshot{
		Status:                st.status,
		ErrMsg:                st.errMsg,
		Company:               st.company,
		Role:                  st.role,
		Questions:             append([]Question(nil), st.questions...),
		CurrentQuestionIndex:  st.index,
		SessionTimeRemaining:  st.sessionRemaining,
		QuestionTimeRemaining: st.questionRemaining,
		TranscriptBuffer:      strings.Join(st.buffer, " "),
		Speaking:              st.speaking,
		ConversationLog:       append([]Turn(nil), st.convLog...),
		Responses:             append([]Response(nil), st.responses...),
		AdvancePending:        st.advancePending,
		GeneratingFeedback:    st.generating,
		Feedback:              st.feedback,
	}
}

func wordCount(s string) int { return len(strings.Fields(s)) }
