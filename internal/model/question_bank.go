package model

// BankQuestion is a question as stored in a question bank, including the
// correct option. It never leaves the backend in this form.
type BankQuestion struct {
	ID                ID       `json:"id" yaml:"id"`
	BankID            ID       `json:"bank_id" yaml:"bank_id"`
	Text              string   `json:"text" yaml:"text"`
	Options           []string `json:"options" yaml:"options"`
	CorrectOption     string   `json:"correct_option" yaml:"correct_option"`
	Marks             float64  `json:"marks" yaml:"marks"`
	ImageURL          string   `json:"image_url,omitempty" yaml:"image_url,omitempty"`
	ComprehensionText string   `json:"comprehension_text,omitempty" yaml:"comprehension_text,omitempty"`
	// RawOptions overrides Options on the wire, for banks imported with
	// legacy single-quoted option strings.
	RawOptions string `json:"raw_options,omitempty" yaml:"raw_options,omitempty"`
}

// TestDefinition is a scheduled test together with its ordered questions.
type TestDefinition struct {
	ID              ID             `json:"id" yaml:"id"`
	Title           string         `json:"title" yaml:"title"`
	Course          Course         `json:"course" yaml:"course"`
	DurationSeconds int            `json:"duration_seconds" yaml:"duration_seconds"`
	PassPercentage  float64        `json:"pass_percentage" yaml:"pass_percentage"`
	Questions       []BankQuestion `json:"questions" yaml:"questions"`
}

// TotalMarks sums the marks of every question; unmarked questions count as 1.
func (t *TestDefinition) TotalMarks() float64 {
	var total float64
	for _, q := range t.Questions {
		total += q.MarksOrDefault()
	}
	return total
}

// MarksOrDefault returns the question's marks, defaulting to 1.
func (q *BankQuestion) MarksOrDefault() float64 {
	if q.Marks <= 0 {
		return 1
	}
	return q.Marks
}
