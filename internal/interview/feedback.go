package interview

import "fmt"

// FallbackReport builds a deterministic local report when the generation
// backend fails. Per-question entries cover exactly the recorded responses:
// questions never reached are omitted, matching the early-end policy.
func FallbackReport(role string, questions []Question, responses []Response) *Feedback {
	byID := make(map[string]Question, len(questions))
	for _, q := range questions {
		byID[q.ID] = q
	}

	perQuestion := make([]QuestionFeedback, 0, len(responses))
	answered := 0
	for _, r := range responses {
		q := byID[r.QuestionID]
		comment := "No answer was recorded for this question. Practice thinking aloud so the interviewer can follow your reasoning."
		if r.Text != "" {
			answered++
			comment = "You gave an answer here. Review it against the question and consider tightening the structure: situation, action, result."
		}
		perQuestion = append(perQuestion, QuestionFeedback{
			QuestionID: q.ID,
			Question:   q.Text,
			Response:   r.Text,
			Comment:    comment,
		})
	}

	rating := 3
	if len(responses) > 0 {
		// Answered share maps onto a 3..8 band; detailed scoring needs the
		// AI reviewer, which was unavailable.
		rating = 3 + (5*answered)/len(responses)
	}

	return &Feedback{
		OverallRating: rating,
		Assessment: fmt.Sprintf(
			"Automated review was unavailable for this session, so this is a summary based on your participation. You worked through %d of %d questions for the %s role.",
			len(responses), len(questions), role),
		Strengths: []string{
			"You completed a timed, spoken interview simulation, which is the hardest format to practice.",
		},
		Improvements: []string{
			"Answer every question aloud, even partially; silence gives the interviewer nothing to work with.",
			"Keep answers inside the per-question time window.",
		},
		Tips: []string{
			"Re-run the session and aim to address each question directly in the first two sentences.",
			"Use the STAR structure for behavioral questions: situation, task, action, result.",
		},
		PerQuestion: perQuestion,
	}
}
