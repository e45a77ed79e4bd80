package interview

import (
	"context"
	"errors"
	"time"

	"github.com/prepcall/interview-agent/internal/speech"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusActive     Status = "active"
	StatusPaused     Status = "paused"
	StatusComplete   Status = "complete"
	StatusError      Status = "error"
)

// QuestionType classifies the fixed question plan entries.
type QuestionType string

const (
	QuestionIntro       QuestionType = "intro"
	QuestionTechnical   QuestionType = "technical"
	QuestionBehavioral  QuestionType = "behavioral"
	QuestionSituational QuestionType = "situational"
	QuestionClosing     QuestionType = "closing"
)

// Question is one entry of the fixed interview plan; immutable after start.
type Question struct {
	ID   string       `json:"id"`
	Type QuestionType `json:"type"`
	Text string       `json:"text"`
}

// Speaker identifies who produced a conversation turn.
type TurnSpeaker string

const (
	SpeakerAI   TurnSpeaker = "ai"
	SpeakerUser TurnSpeaker = "user"
)

// Turn is one entry of the append-only conversation log.
type Turn struct {
	Speaker TurnSpeaker `json:"speaker"`
	Text    string      `json:"text"`
	At      time.Time   `json:"timestamp"`
}

// Response is the final transcript recorded for one completed question.
type Response struct {
	QuestionID string `json:"questionId"`
	Text       string `json:"response"`
}

// QuestionFeedback is the per-question section of a feedback report.
type QuestionFeedback struct {
	QuestionID string `json:"questionId"`
	Question   string `json:"question"`
	Response   string `json:"response"`
	Comment    string `json:"comment"`
}

// Feedback is the structured end-of-session report.
type Feedback struct {
	OverallRating int                `json:"overallRating"`
	Assessment    string             `json:"assessment"`
	Strengths     []string           `json:"strengths"`
	Improvements  []string           `json:"improvementAreas"`
	Tips          []string           `json:"tips"`
	PerQuestion   []QuestionFeedback `json:"questionFeedback"`
}

// Session error taxonomy.
var (
	// ErrDeviceUnavailable indicates microphone/camera acquisition failed.
	ErrDeviceUnavailable = errors.New("media device unavailable")
	// ErrTranscription indicates the recognition stream failed.
	ErrTranscription = errors.New("transcription failed")
	// ErrInvalidState indicates an action invoked in a state that does not
	// permit it; callers treat it as a no-op.
	ErrInvalidState = errors.New("invalid session state for action")
)

// Recognizer is the speech recognition adapter contract. Finals delivers
// confirmed utterance segments; interim results are not the controller's
// concern.
type Recognizer interface {
	Start(ctx context.Context) error
	Finals() <-chan string
	Close() error
}

// Speaker is the speech synthesis queue contract. Enqueue never blocks on
// playback; Events reports burst start/end transitions.
type Speaker interface {
	Enqueue(text string)
	Clear()
	Speaking() bool
	Events() <-chan speech.Event
}

// Capture is the media capture adapter contract. The controller only toggles
// the microphone; track ownership stays with the adapter.
type Capture interface {
	SetMicEnabled(on bool)
	Close() error
}

// TransitionRequest asks for a short remark spoken between questions.
type TransitionRequest struct {
	Question Question
	Answer   string
	Index    int
	Total    int
}

// ReplyRequest asks for an in-the-moment conversational acknowledgment.
type ReplyRequest struct {
	Question Question
	Answer   string
	Index    int
	Total    int
}

// FeedbackRequest carries the whole session context for report generation.
type FeedbackRequest struct {
	Company   string
	Role      string
	Questions []Question
	Responses []Response
	Log       []Turn
}

// Responder generates interviewer speech and the final report. Remark methods
// never fail: implementations substitute canned fallback lines on backend
// errors. FeedbackReport may fail; the controller then builds a local
// deterministic report.
type Responder interface {
	TransitionRemark(ctx context.Context, req TransitionRequest) string
	ConversationalReply(ctx context.Context, req ReplyRequest) string
	FeedbackReport(ctx context.Context, req FeedbackRequest) (*Feedback, error)
}
