package interview

import (
	"fmt"
	"strings"
)

// questionPlan is the fixed shape of every interview: six questions in a set
// order. Texts are templated from company and role at session start; the AI
// backend is not involved in producing them.
var questionPlan = []struct {
	typ      QuestionType
	template string
}{
	{QuestionIntro, "Tell me about yourself and why you're interested in the %[2]s position at %[1]s."},
	{QuestionTechnical, "Walk me through a technically challenging problem you solved recently, and how you'd apply that experience as a %[2]s."},
	{QuestionBehavioral, "Describe a time you disagreed with a teammate about an important decision. How did you handle it?"},
	{QuestionSituational, "Imagine your first month at %[1]s: a critical production issue lands on you with incomplete context. What do you do first?"},
	{QuestionBehavioral, "Tell me about a project you're proud of. What was your specific contribution?"},
	{QuestionClosing, "Why do you think you're a strong fit for %[1]s, and what questions do you have for us?"},
}

// GenerateQuestions builds the fixed, ordered question sequence for a session.
func GenerateQuestions(company, role string) []Question {
	qs := make([]Question, 0, len(questionPlan))
	for i, p := range questionPlan {
		text := p.template
		// Some templates are fixed text; formatting those would append
		// EXTRA-argument noise.
		if strings.Contains(text, "%") {
			text = fmt.Sprintf(text, company, role)
		}
		qs = append(qs, Question{
			ID:   fmt.Sprintf("q%d", i+1),
			Type: p.typ,
			Text: text,
		})
	}
	return qs
}

// WelcomeLine is the opening spoken by the agent before question one.
func WelcomeLine(company, role string) string {
	return fmt.Sprintf("Welcome to your mock interview for the %s role at %s. Take your time with each answer, and speak naturally. Let's begin.", role, company)
}
