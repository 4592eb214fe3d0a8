package simulator

import (
	"math"

	"github.com/stemsi/exstem-attempt/internal/model"
)

// DefaultPassPercentage applies when a test does not set its own.
const DefaultPassPercentage = 50

// score grades answers against the test in session order.
func score(def *model.TestDefinition, order []model.ID, answers map[string]string) model.TestResult {
	byID := make(map[model.ID]*model.BankQuestion, len(def.Questions))
	for i := range def.Questions {
		byID[def.Questions[i].ID] = &def.Questions[i]
	}

	var r model.TestResult
	r.Answers = make([]model.AnswerDetail, 0, len(order))
	for i, id := range order {
		q, ok := byID[id]
		if !ok {
			continue
		}
		marks := q.MarksOrDefault()
		d := model.AnswerDetail{
			QuestionID:    q.ID,
			DisplayNumber: i + 1,
			Text:          q.Text,
			CorrectOption: q.CorrectOption,
			Marks:         marks,
		}
		if sel, ok := answers[id.String()]; ok && sel != "" {
			s := sel
			d.SelectedOption = &s
			if sel == q.CorrectOption {
				d.Correct = true
				d.Awarded = marks
				r.CorrectCount++
			}
		}
		r.Score += d.Awarded
		r.TotalMarks += marks
		r.Answers = append(r.Answers, d)
	}
	r.Total = len(r.Answers)
	if r.TotalMarks > 0 {
		r.Percentage = math.Round(r.Score/r.TotalMarks*10000) / 100
	}
	return r
}

// passed applies the test's pass mark to a percentage.
func passed(def *model.TestDefinition, percentage float64) bool {
	mark := def.PassPercentage
	if mark <= 0 {
		mark = DefaultPassPercentage
	}
	return percentage >= mark
}
