package model

// AnswerDetail is the per-question breakdown of a scored attempt.
type AnswerDetail struct {
	QuestionID     ID      `json:"questionId"`
	DisplayNumber  int     `json:"displayNumber"`
	Text           string  `json:"text,omitempty"`
	SelectedOption *string `json:"selectedOption"`
	CorrectOption  string  `json:"correctOption"`
	Correct        bool    `json:"correct"`
	Marks          float64 `json:"marks"`
	Awarded        float64 `json:"awarded"`
}

// TestResult is the scored outcome of a finished session.
type TestResult struct {
	Session      Session        `json:"session"`
	Score        float64        `json:"score"`
	TotalMarks   float64        `json:"totalMarks"`
	Percentage   float64        `json:"percentage"`
	CorrectCount int            `json:"correctCount"`
	Total        int            `json:"total"`
	Answers      []AnswerDetail `json:"answers"`
}

// Detailed reports whether the result carries the full answer breakdown.
// Some completion routes only return a minimal payload.
func (r *TestResult) Detailed() bool {
	return r != nil && !r.Session.ID.IsZero() && len(r.Answers) > 0
}
