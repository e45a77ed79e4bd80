// Package respond generates the interviewer's side of the conversation: short
// remarks between questions, in-the-moment acknowledgments, and the structured
// end-of-session feedback report. Every backend failure degrades to canned
// content so the interview flow is never interrupted.
package respond

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/prepcall/interview-agent/internal/interview"
	"github.com/prepcall/interview-agent/internal/llm"
)

// TransitionFallbacks are the canned transition lines, keyed by the type of
// the question just answered.
var TransitionFallbacks = map[interview.QuestionType][]string{
	interview.QuestionIntro: {
		"Thanks for that introduction. Let's keep going.",
		"Good, that gives me a picture of your background. Moving on.",
	},
	interview.QuestionTechnical: {
		"Interesting approach. Let's switch gears.",
		"Thanks for walking me through that. Next question.",
	},
	interview.QuestionBehavioral: {
		"I appreciate you sharing that experience. Let's continue.",
		"That's a useful example. On to the next one.",
	},
	interview.QuestionSituational: {
		"Good thinking. Let's move forward.",
		"Thanks, that tells me how you'd operate. Next up.",
	},
	interview.QuestionClosing: {
		"Great, thanks for that.",
		"Perfect, noted.",
	},
}

// ReplyFallbacks are the canned conversational acknowledgments, type-agnostic.
var ReplyFallbacks = []string{
	"I see, go on.",
	"That makes sense.",
	"Interesting, tell me more.",
	"Right, I follow you.",
}

// Responder implements interview.Responder over a text-generation backend.
type Responder struct {
	gen llm.Generator
	log *zap.Logger
	rng *rand.Rand
}

// Option configures a Responder.
type Option func(*Responder)

// WithRand injects the randomness source used for fallback selection, so
// tests can make it deterministic.
func WithRand(r *rand.Rand) Option {
	return func(rs *Responder) { rs.rng = r }
}

// New builds a Responder. gen may be nil: every call then returns fallback
// content, which keeps sessions usable without an LLM key.
func New(gen llm.Generator, log *zap.Logger, opts ...Option) *Responder {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Responder{
		gen: gen,
		log: log,
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

const interviewerSystem = "You are a warm but professional job interviewer running a mock interview. Speak naturally, as your words will be read aloud. Never use markdown or emoji."

// TransitionRemark returns a short encouraging line spoken between questions.
func (r *Responder) TransitionRemark(ctx context.Context, req interview.TransitionRequest) string {
	prompt := fmt.Sprintf(
		"The candidate just answered question %d of %d (%s): %q\nTheir answer: %q\nReply with one encouraging transition remark of at most 30 words. Do not ask a new question.",
		req.Index+1, req.Total, req.Question.Type, req.Question.Text, clip(req.Answer, 600),
	)
	out, err := r.generate(ctx, prompt, 80)
	if err != nil {
		r.log.Debug("transition remark fallback", zap.Error(err))
		return r.pick(TransitionFallbacks[req.Question.Type])
	}
	return out
}

// ConversationalReply returns a brief in-the-moment acknowledgment of what the
// candidate is saying.
func (r *Responder) ConversationalReply(ctx context.Context, req interview.ReplyRequest) string {
	prompt := fmt.Sprintf(
		"Mid-answer, the candidate said: %q\nThe current question is: %q\nReply with one natural acknowledgment of at most 20 words. Do not ask a new question and do not evaluate.",
		clip(req.Answer, 600), req.Question.Text,
	)
	out, err := r.generate(ctx, prompt, 60)
	if err != nil {
		r.log.Debug("conversational reply fallback", zap.Error(err))
		return r.pick(ReplyFallbacks)
	}
	return out
}

func (r *Responder) generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	if r.gen == nil {
		return "", fmt.Errorf("no generation backend configured")
	}
	out, err := r.gen.Generate(ctx, llm.Request{
		System:      interviewerSystem,
		Prompt:      prompt,
		MaxTokens:   maxTokens,
		Temperature: 0.7,
	})
	if err != nil {
		return "", err
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", fmt.Errorf("empty generation result")
	}
	return out, nil
}

func (r *Responder) pick(pool []string) string {
	if len(pool) == 0 {
		return "Thanks, let's continue."
	}
	return pool[r.rng.Intn(len(pool))]
}

func clip(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
