package interview

import (
	"strings"
	"testing"
)

func TestGenerateQuestionsPlan(t *testing.T) {
	qs := GenerateQuestions("Globex", "Data Engineer")
	if len(qs) != 6 {
		t.Fatalf("got %d questions, want 6", len(qs))
	}
	wantTypes := []QuestionType{
		QuestionIntro, QuestionTechnical, QuestionBehavioral,
		QuestionSituational, QuestionBehavioral, QuestionClosing,
	}
	for i, q := range qs {
		if q.ID != "q"+string(rune('1'+i)) {
			t.Errorf("question %d id = %s", i, q.ID)
		}
		if q.Type != wantTypes[i] {
			t.Errorf("question %d type = %s, want %s", i, q.Type, wantTypes[i])
		}
		if q.Text == "" {
			t.Errorf("question %d has no text", i)
		}
		if strings.Contains(q.Text, "%!") {
			t.Errorf("question %d text corrupted: %q", i, q.Text)
		}
	}
	if !strings.Contains(qs[0].Text, "Globex") || !strings.Contains(qs[0].Text, "Data Engineer") {
		t.Errorf("intro not templated: %q", qs[0].Text)
	}
	if !strings.Contains(qs[3].Text, "Globex") {
		t.Errorf("situational not templated: %q", qs[3].Text)
	}
}

func TestGenerateQuestionsDeterministic(t *testing.T) {
	a := GenerateQuestions("Acme", "SRE")
	b := GenerateQuestions("Acme", "SRE")
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("question %d differs between runs", i)
		}
	}
}

func TestWelcomeLine(t *testing.T) {
	line := WelcomeLine("Acme", "Backend Engineer")
	if !strings.Contains(line, "Acme") || !strings.Contains(line, "Backend Engineer") {
		t.Errorf("welcome missing company/role: %q", line)
	}
}
