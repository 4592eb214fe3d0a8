package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/stemsi/exstem-attempt/internal/controller"
	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stemsi/exstem-attempt/internal/timer"
	"golang.org/x/term"
)

const defaultWidth = 80

// screen prints navigation and toasts to the terminal. It implements the
// service's Navigator and Notifier.
type screen struct {
	mu    sync.Mutex
	out   io.Writer
	width int
	ended chan model.ID

	lastMinute int
}

func newScreen(out io.Writer) *screen {
	return &screen{
		out:        out,
		width:      terminalWidth(out),
		ended:      make(chan model.ID, 1),
		lastMinute: -1,
	}
}

func (s *screen) printf(format string, args ...interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.out, format, args...)
}

func (s *screen) ToAttempt(sessionID, testID model.ID) {
	s.printf("Started test %s (session %s)\n", testID, sessionID)
}

func (s *screen) ToTestEnded(sessionID model.ID) {
	s.printf("Test ended.\n")
	select {
	case s.ended <- sessionID:
	default:
	}
}

func (s *screen) ToTestList() {
	s.printf("No test selected. Run `attempt tests` to pick one.\n")
}

func (s *screen) Error(msg string) {
	s.printf("error: %s\n", msg)
}

func (s *screen) Success(msg string) {
	s.printf("%s\n", msg)
}

// timer prints the countdown once a minute and every second of the last ten.
func (s *screen) timer(st timer.State) {
	if st.Expired {
		s.printf("Time is up. Submitting your answers...\n")
		return
	}
	if st.Remaining == nil {
		return
	}
	left := *st.Remaining
	s.mu.Lock()
	minute := left / 60
	show := left <= 10 || minute != s.lastMinute
	s.lastMinute = minute
	s.mu.Unlock()
	if show {
		s.printf("[%s left]\n", clock(left))
	}
}

// render draws the attempt screen.
func (s *screen) render(v controller.View) {
	var b strings.Builder

	header := v.CourseTitle
	if v.StudentName != "" {
		header += " / " + v.StudentName
	}
	if v.Remaining != nil {
		header += "  [" + clock(*v.Remaining) + "]"
	}
	fmt.Fprintf(&b, "\n%s\n", header)
	fmt.Fprintf(&b, "Answered %d of %d\n\n", v.Progress.AnsweredCount, v.Progress.Total)

	for _, q := range v.Questions {
		fmt.Fprintf(&b, "%d. %s\n", q.DisplayNumber, q.Text)
		if q.ComprehensionText != "" {
			fmt.Fprintf(&b, "   %s\n", q.ComprehensionText)
		}
		if q.ImageURL != "" {
			fmt.Fprintf(&b, "   image: %s\n", q.ImageURL)
		}
		if q.Corrupt {
			b.WriteString("   (options unavailable)\n")
		}
		for i, opt := range q.Options {
			mark := " "
			if opt == q.Selected {
				mark = "*"
			}
			fmt.Fprintf(&b, "  %s %c) %s\n", mark, 'a'+i, opt)
		}
		b.WriteString("\n")
	}

	b.WriteString(gridLine(v, s.width))
	b.WriteString("\n")
	b.WriteString(promptLine(v))

	s.mu.Lock()
	defer s.mu.Unlock()
	io.WriteString(s.out, b.String())
}

// gridLine renders the navigator, wrapped to width.
func gridLine(v controller.View, width int) string {
	var b strings.Builder
	col := 0
	for _, c := range v.Grid {
		cell := fmt.Sprintf("%d", c.DisplayNumber)
		switch {
		case c.Current:
			cell = "[" + cell + "]"
		case c.Answered:
			cell = "(" + cell + ")"
		default:
			cell = " " + cell + " "
		}
		if col > 0 && col+len(cell)+1 > width {
			b.WriteString("\n")
			col = 0
		}
		if col > 0 {
			b.WriteString(" ")
			col++
		}
		b.WriteString(cell)
		col += len(cell)
	}
	b.WriteString("\n")
	return b.String()
}

func promptLine(v controller.View) string {
	actions := []string{"<n> <letter> answer", "n next"}
	if v.CanPrevious {
		actions = append(actions, "p previous")
	}
	actions = append(actions, "g <n> go to")
	if v.ShowSubmitButton {
		actions = append(actions, "s submit")
	}
	actions = append(actions, "q quit")
	return strings.Join(actions, " | ") + "\n> "
}

func clock(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}

func terminalWidth(out io.Writer) int {
	f, ok := out.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return defaultWidth
	}
	w, _, err := term.GetSize(int(f.Fd()))
	if err != nil || w <= 0 {
		return defaultWidth
	}
	return w
}

func isInteractive(in io.Reader) bool {
	f, ok := in.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
