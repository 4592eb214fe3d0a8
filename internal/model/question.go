package model

import "encoding/json"

// PageSize is the number of questions the backend serves per navigation step.
const PageSize = 2

// Question is a question as delivered during an attempt.
//
// DisplayNumber is the 1-based position of the question in the session's
// ordered list and is stable for the lifetime of the session. Options is the
// raw field as sent by the backend; use the options package to normalise it.
type Question struct {
	ID                ID              `json:"id"`
	Text              string          `json:"text"`
	Options           json.RawMessage `json:"options"`
	Marks             float64         `json:"marks"`
	BankID            ID              `json:"bankId"`
	DisplayNumber     int             `json:"displayNumber"`
	SelectedOption    *string         `json:"selectedOption"`
	ImageURL          string          `json:"imageUrl,omitempty"`
	ComprehensionText string          `json:"comprehensionText,omitempty"`
}

// FirstDisplayNumber returns the lowest display number in the batch, or 0 for
// an empty batch.
func FirstDisplayNumber(questions []Question) int {
	first := 0
	for _, q := range questions {
		if q.DisplayNumber <= 0 {
			continue
		}
		if first == 0 || q.DisplayNumber < first {
			first = q.DisplayNumber
		}
	}
	return first
}

// AnchorForIndex converts a 1-based question index into the first display
// number of the pair that contains it.
func AnchorForIndex(index int) int {
	if index < 1 {
		return 1
	}
	return ((index-1)/PageSize)*PageSize + 1
}
