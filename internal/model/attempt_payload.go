package model

// StartSessionRequest is the payload of POST /start-session.
type StartSessionRequest struct {
	TestID ID `json:"testId" binding:"required,notblank,max=64"`
}

// StartSessionResponse is returned by POST /start-session.
type StartSessionResponse struct {
	Session   Session    `json:"session"`
	Questions []Question `json:"questions"`
	Progress  Progress   `json:"progress"`
	Student   Student    `json:"student"`
	Course    Course     `json:"course"`
}

// FetchByNumberRequest is the payload of POST /fetch-by-number.
type FetchByNumberRequest struct {
	SessionID      ID  `json:"sessionId" binding:"required,notblank,max=64"`
	QuestionNumber int `json:"questionNumber" binding:"required,min=1"`
}

// AnsweredEntry reports the server's view of one question in the session.
type AnsweredEntry struct {
	QuestionID     ID      `json:"questionId"`
	DisplayNumber  int     `json:"displayNumber"`
	Answered       bool    `json:"answered"`
	PreviousAnswer *string `json:"previousAnswer,omitempty"`
}

// FetchByNumberResponse is returned by POST /fetch-by-number. Index is the
// 1-based position that was requested.
type FetchByNumberResponse struct {
	Questions        []Question      `json:"questions"`
	Total            int             `json:"total"`
	AnsweredList     []AnsweredEntry `json:"answeredList"`
	Finished         bool            `json:"finished"`
	ShowSubmitButton bool            `json:"showSubmitButton"`
	Index            int             `json:"index"`
}

// AnswerSubmission is one question of the displayed page. SelectedOption is
// omitted when the question is unattempted.
type AnswerSubmission struct {
	QuestionID     ID      `json:"questionId" binding:"required,notblank,max=64"`
	SelectedOption *string `json:"selectedOption,omitempty" binding:"omitempty,max=1000"`
}

// SubmitAnswersRequest is the payload of submit-and-next and submit-and-previous.
type SubmitAnswersRequest struct {
	SessionID ID                 `json:"sessionId" binding:"required,notblank,max=64"`
	Answers   []AnswerSubmission `json:"answers" binding:"max=10,dive"`
}

// SubmitNextResponse is returned by POST /submit-and-next. When Finished is
// true, Result may be detailed, minimal or absent.
type SubmitNextResponse struct {
	Finished         bool        `json:"finished"`
	NextQuestions    []Question  `json:"nextQuestions,omitempty"`
	Progress         *Progress   `json:"progress,omitempty"`
	ShowSubmitButton bool        `json:"showSubmitButton"`
	Result           *TestResult `json:"result,omitempty"`
	Message          string      `json:"message,omitempty"`
}

// SubmitPreviousResponse is returned by POST /submit-and-previous.
type SubmitPreviousResponse struct {
	PreviousQuestions []Question `json:"previousQuestions"`
	Progress          Progress   `json:"progress"`
	ShowSubmitButton  bool       `json:"showSubmitButton"`
}

// SubmitSessionRequest is the payload of POST /submit-session.
type SubmitSessionRequest struct {
	SessionID ID `json:"sessionId" binding:"required,notblank,max=64"`
}
