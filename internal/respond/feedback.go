package respond

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/prepcall/interview-agent/internal/interview"
	"github.com/prepcall/interview-agent/internal/llm"
)

const feedbackPromptHeader = `You are reviewing a completed mock interview. Rate the candidate and give concrete, kind, specific feedback.

Return ONLY a JSON object with this exact structure, no markdown fences, no commentary:
{
  "overallRating": <integer 1-10>,
  "assessment": "<2-3 sentence overall assessment>",
  "strengths": ["<strength>", ...],
  "improvementAreas": ["<area>", ...],
  "tips": ["<actionable tip>", ...],
  "questionFeedback": [
    {"questionId": "<id>", "comment": "<1-2 sentence comment on this answer>"}
  ]
}
Include one questionFeedback entry for every question listed below, in order.`

// FeedbackReport asks the backend for a structured report and validates it.
// Any malformed or missing output is returned as an error; the session
// controller then falls back to a deterministic local report.
func (r *Responder) FeedbackReport(ctx context.Context, req interview.FeedbackRequest) (*interview.Feedback, error) {
	if r.gen == nil {
		return nil, fmt.Errorf("no generation backend configured")
	}

	var b strings.Builder
	b.WriteString(feedbackPromptHeader)
	fmt.Fprintf(&b, "\n\nRole: %s at %s\n\nQuestions and answers:\n", req.Role, req.Company)
	for _, resp := range req.Responses {
		q := questionByID(req.Questions, resp.QuestionID)
		answer := resp.Text
		if answer == "" {
			answer = "(no answer recorded)"
		}
		fmt.Fprintf(&b, "[%s] (%s) %s\nAnswer: %s\n\n", q.ID, q.Type, q.Text, clip(answer, 1500))
	}
	if len(req.Log) > 0 {
		b.WriteString("Conversation transcript:\n")
		for _, t := range req.Log {
			fmt.Fprintf(&b, "[%s] %s\n", strings.ToUpper(string(t.Speaker)), clip(t.Text, 400))
		}
	}

	out, err := r.gen.Generate(ctx, llm.Request{
		System:      interviewerSystem,
		Prompt:      b.String(),
		MaxTokens:   1500,
		Temperature: 0.4,
	})
	if err != nil {
		return nil, fmt.Errorf("feedback generation: %w", err)
	}

	report, err := parseFeedback(out, req)
	if err != nil {
		r.log.Warn("feedback payload rejected", zap.Error(err))
		return nil, err
	}
	return report, nil
}

// rawFeedback is the wire shape the backend is asked to produce.
type rawFeedback struct {
	OverallRating int      `json:"overallRating"`
	Assessment    string   `json:"assessment"`
	Strengths     []string `json:"strengths"`
	Improvements  []string `json:"improvementAreas"`
	Tips          []string `json:"tips"`
	PerQuestion   []struct {
		QuestionID string `json:"questionId"`
		Comment    string `json:"comment"`
	} `json:"questionFeedback"`
}

// parseFeedback validates the model output after stripping any formatting
// wrapper. The report must cover exactly the recorded responses.
func parseFeedback(out string, req interview.FeedbackRequest) (*interview.Feedback, error) {
	payload := StripFences(out)
	var raw rawFeedback
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		return nil, fmt.Errorf("malformed feedback JSON: %w", err)
	}
	if raw.OverallRating < 1 || raw.OverallRating > 10 {
		return nil, fmt.Errorf("feedback rating out of range: %d", raw.OverallRating)
	}
	if strings.TrimSpace(raw.Assessment) == "" {
		return nil, fmt.Errorf("feedback missing assessment")
	}
	if len(raw.PerQuestion) != len(req.Responses) {
		return nil, fmt.Errorf("feedback covers %d questions, want %d", len(raw.PerQuestion), len(req.Responses))
	}

	perQuestion := make([]interview.QuestionFeedback, 0, len(raw.PerQuestion))
	for i, item := range raw.PerQuestion {
		resp := req.Responses[i]
		if item.QuestionID != "" && item.QuestionID != resp.QuestionID {
			return nil, fmt.Errorf("feedback entry %d references %q, want %q", i, item.QuestionID, resp.QuestionID)
		}
		if strings.TrimSpace(item.Comment) == "" {
			return nil, fmt.Errorf("feedback entry %d has no comment", i)
		}
		q := questionByID(req.Questions, resp.QuestionID)
		perQuestion = append(perQuestion, interview.QuestionFeedback{
			QuestionID: resp.QuestionID,
			Question:   q.Text,
			Response:   resp.Text,
			Comment:    strings.TrimSpace(item.Comment),
		})
	}

	return &interview.Feedback{
		OverallRating: raw.OverallRating,
		Assessment:    strings.TrimSpace(raw.Assessment),
		Strengths:     raw.Strengths,
		Improvements:  raw.Improvements,
		Tips:          raw.Tips,
		PerQuestion:   perQuestion,
	}, nil
}

// StripFences removes a markdown code fence wrapper if the backend added one,
// and trims to the outermost JSON object.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}
	if start := strings.Index(s, "{"); start > 0 {
		s = s[start:]
	}
	if end := strings.LastIndex(s, "}"); end >= 0 && end < len(s)-1 {
		s = s[:end+1]
	}
	return s
}

func questionByID(questions []interview.Question, id string) interview.Question {
	for _, q := range questions {
		if q.ID == id {
			return q
		}
	}
	return interview.Question{ID: id}
}
