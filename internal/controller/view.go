package controller

import (
	"github.com/stemsi/exstem-attempt/internal/attempt"
	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stemsi/exstem-attempt/internal/options"
)

// QuestionView is one question ready to render.
type QuestionView struct {
	ID            model.ID
	DisplayNumber int
	Text          string
	Options       []string

	// Corrupt is set when the raw options could not be parsed; Options is
	// then empty.
	Corrupt bool

	Selected          string
	Marks             float64
	ImageURL          string
	ComprehensionText string
}

// View is the render model of the attempt screen.
type View struct {
	Phase       attempt.Phase
	SessionID   model.ID
	TestID      model.ID
	StudentName string
	CourseTitle string
	Questions   []QuestionView
	Grid        []attempt.Cell
	Progress    model.Progress

	// CurrentPage is the display-number anchor; PageIndex is zero-based.
	CurrentPage      int
	PageIndex        int
	CanPrevious      bool
	ShowSubmitButton bool
	Remaining        *int
	Total            *int
	Busy             bool
}

// View builds the render model from the store and the timer.
func (c *AttemptController) View() View {
	snap := c.store.Snapshot()
	st := c.Timer()

	v := View{
		Phase:            snap.Phase,
		Progress:         snap.Progress,
		CurrentPage:      snap.CurrentPage,
		PageIndex:        attempt.PageIndexOf(snap.CurrentPage),
		ShowSubmitButton: snap.ShowSubmitButton,
		Remaining:        st.Remaining,
		Total:            st.Total,
		Busy:             c.busy.Load(),
		Grid:             c.store.Grid(snap.Progress.Total),
	}
	v.CanPrevious = v.PageIndex > 0
	if snap.Session != nil {
		v.SessionID = snap.Session.ID
		v.TestID = snap.Session.TestID
	}
	if snap.Student != nil {
		v.StudentName = snap.Student.Name
	}
	if snap.Course != nil {
		v.CourseTitle = snap.Course.Title
	}

	v.Questions = make([]QuestionView, 0, len(snap.Questions))
	for _, q := range snap.Questions {
		qv := QuestionView{
			ID:                q.ID,
			DisplayNumber:     q.DisplayNumber,
			Text:              q.Text,
			Selected:          snap.Answers[q.ID],
			Marks:             q.Marks,
			ImageURL:          q.ImageURL,
			ComprehensionText: q.ComprehensionText,
		}
		opts, err := options.ParseRaw(q.Options)
		if err != nil {
			qv.Options = []string{}
			qv.Corrupt = true
		} else {
			qv.Options = opts
		}
		v.Questions = append(v.Questions, qv)
	}
	return v
}
