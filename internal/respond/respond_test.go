package respond

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prepcall/interview-agent/internal/interview"
	"github.com/prepcall/interview-agent/internal/llm"
)

type fakeGen struct {
	reply string
	err   error
	last  llm.Request
}

func (f *fakeGen) Generate(ctx context.Context, req llm.Request) (string, error) {
	f.last = req
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func transitionReq() interview.TransitionRequest {
	return interview.TransitionRequest{
		Question: interview.Question{ID: "q2", Type: interview.QuestionTechnical, Text: "Explain a hard bug."},
		Answer:   "I chased a race condition for two days.",
		Index:    1,
		Total:    6,
	}
}

func TestTransitionRemark_UsesBackend(t *testing.T) {
	gen := &fakeGen{reply: "Nice work, let's keep moving."}
	r := New(gen, nil)
	out := r.TransitionRemark(context.Background(), transitionReq())
	assert.Equal(t, "Nice work, let's keep moving.", out)
	assert.Contains(t, gen.last.Prompt, "Explain a hard bug.")
}

func TestTransitionRemark_FallbackIsFromTypedPool(t *testing.T) {
	gen := &fakeGen{err: errors.New("backend down")}
	r := New(gen, nil, WithRand(rand.New(rand.NewSource(1))))
	out := r.TransitionRemark(context.Background(), transitionReq())
	assert.Contains(t, TransitionFallbacks[interview.QuestionTechnical], out)
}

func TestConversationalReply_FallbackIsFromSharedPool(t *testing.T) {
	r := New(nil, nil, WithRand(rand.New(rand.NewSource(7))))
	out := r.ConversationalReply(context.Background(), interview.ReplyRequest{
		Question: interview.Question{ID: "q1", Type: interview.QuestionIntro, Text: "Tell me about yourself."},
		Answer:   "I started out in embedded systems.",
	})
	assert.Contains(t, ReplyFallbacks, out)
}

func feedbackReq() interview.FeedbackRequest {
	questions := interview.GenerateQuestions("Acme", "Backend Engineer")
	return interview.FeedbackRequest{
		Company:   "Acme",
		Role:      "Backend Engineer",
		Questions: questions,
		Responses: []interview.Response{
			{QuestionID: "q1", Text: "I am a backend engineer with five years of Go."},
			{QuestionID: "q2", Text: ""},
		},
	}
}

const validFeedbackJSON = `{
  "overallRating": 7,
  "assessment": "Solid fundamentals with room to grow.",
  "strengths": ["clear speech"],
  "improvementAreas": ["structure"],
  "tips": ["use STAR"],
  "questionFeedback": [
    {"questionId": "q1", "comment": "Good introduction."},
    {"questionId": "q2", "comment": "No answer given."}
  ]
}`

func TestFeedbackReport_ValidJSON(t *testing.T) {
	gen := &fakeGen{reply: validFeedbackJSON}
	r := New(gen, nil)
	report, err := r.FeedbackReport(context.Background(), feedbackReq())
	require.NoError(t, err)
	assert.Equal(t, 7, report.OverallRating)
	require.Len(t, report.PerQuestion, 2)
	assert.Equal(t, "q1", report.PerQuestion[0].QuestionID)
	assert.Equal(t, "I am a backend engineer with five years of Go.", report.PerQuestion[0].Response)
	assert.Equal(t, "", report.PerQuestion[1].Response)
}

func TestFeedbackReport_StripsMarkdownFences(t *testing.T) {
	gen := &fakeGen{reply: "```json\n" + validFeedbackJSON + "\n```"}
	r := New(gen, nil)
	report, err := r.FeedbackReport(context.Background(), feedbackReq())
	require.NoError(t, err)
	assert.Equal(t, 7, report.OverallRating)
}

func TestFeedbackReport_RejectsMalformedPayloads(t *testing.T) {
	cases := []struct {
		name  string
		reply string
	}{
		{"not_json", "I think the candidate did well overall!"},
		{"rating_out_of_range", strings.Replace(validFeedbackJSON, `"overallRating": 7`, `"overallRating": 14`, 1)},
		{"missing_assessment", strings.Replace(validFeedbackJSON, `"Solid fundamentals with room to grow."`, `""`, 1)},
		{"wrong_entry_count", strings.Replace(validFeedbackJSON, `,
    {"questionId": "q2", "comment": "No answer given."}`, "", 1)},
		{"wrong_question_id", strings.Replace(validFeedbackJSON, `"questionId": "q2"`, `"questionId": "q9"`, 1)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gen := &fakeGen{reply: tc.reply}
			r := New(gen, nil)
			_, err := r.FeedbackReport(context.Background(), feedbackReq())
			assert.Error(t, err)
		})
	}
}

func TestFeedbackReport_BackendErrorPropagates(t *testing.T) {
	gen := &fakeGen{err: errors.New("timeout")}
	r := New(gen, nil)
	_, err := r.FeedbackReport(context.Background(), feedbackReq())
	assert.Error(t, err)
}

func TestStripFences(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"{\"a\":1}", "{\"a\":1}"},
		{"```json\n{\"a\":1}\n```", "{\"a\":1}"},
		{"```\n{\"a\":1}\n```", "{\"a\":1}"},
		{"Here you go:\n{\"a\":1}\nHope that helps!", "{\"a\":1}"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, StripFences(tc.in), "input %q", tc.in)
	}
}
