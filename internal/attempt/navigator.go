package attempt

import "github.com/stemsi/exstem-attempt/internal/model"

// Cell is one square of the navigator grid.
type Cell struct {
	DisplayNumber int
	Answered      bool
	Current       bool
}

// IsAnswered reports whether any question id mapped to displayNumber has a
// recorded answer. The lookup goes through every id mapped to the number
// rather than assuming the mapping is one to one.
func (s *Store) IsAnswered(displayNumber int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return isAnswered(s.st.questionMap, s.st.answers, displayNumber)
}

// Grid builds the navigator for a test of total questions. Cells of the
// shown batch are flagged Current.
func (s *Store) Grid(total int) []Cell {
	s.mu.RLock()
	defer s.mu.RUnlock()

	answered := answeredNumbers(s.st.questionMap, s.st.answers)
	current := make(map[int]bool, len(s.st.questions))
	for _, q := range s.st.questions {
		current[q.DisplayNumber] = true
	}

	cells := make([]Cell, 0, total)
	for n := 1; n <= total; n++ {
		cells = append(cells, Cell{
			DisplayNumber: n,
			Answered:      answered[n],
			Current:       current[n],
		})
	}
	return cells
}

func isAnswered(qmap map[model.ID]int, answers map[model.ID]string, displayNumber int) bool {
	for id, n := range qmap {
		if n != displayNumber {
			continue
		}
		if opt, ok := answers[id]; ok && opt != "" {
			return true
		}
	}
	return false
}

func answeredNumbers(qmap map[model.ID]int, answers map[model.ID]string) map[int]bool {
	out := make(map[int]bool, len(answers))
	for id, n := range qmap {
		if opt, ok := answers[id]; ok && opt != "" {
			out[n] = true
		}
	}
	return out
}
