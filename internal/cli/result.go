package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stemsi/exstem-attempt/internal/resultstore"
)

func newResultCmd(newApp func(*cobra.Command) (*app, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "result [sessionID]",
		Short: "Show a stored result, or the latest one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			var sessionID model.ID
			if len(args) == 1 {
				sessionID = model.ID(args[0])
			}
			return runResult(cmd.Context(), a, sessionID, cmd.OutOrStdout())
		},
	}
}

func runResult(ctx context.Context, a *app, sessionID model.ID, out io.Writer) error {
	var (
		r   *model.TestResult
		err error
	)
	if sessionID.IsZero() {
		r, err = a.results.Latest(ctx, model.ID(a.api.StudentID()))
	} else {
		r, err = a.results.Get(ctx, sessionID)
	}
	if errors.Is(err, resultstore.ErrNotFound) && !a.persistent() {
		return fmt.Errorf("%w: results are only kept across runs when REDIS_URL is set", err)
	}
	if err != nil {
		return err
	}
	printResult(out, r)
	return nil
}

func printResult(out io.Writer, r *model.TestResult) {
	fmt.Fprintf(out, "Session %s: %s\n", r.Session.ID, r.Session.Status)
	fmt.Fprintf(out, "Score %.2f / %.2f (%.1f%%), %d of %d correct\n",
		r.Score, r.TotalMarks, r.Percentage, r.CorrectCount, r.Total)
	for _, d := range r.Answers {
		selected := "-"
		if d.SelectedOption != nil {
			selected = *d.SelectedOption
		}
		mark := "x"
		if d.Correct {
			mark = "v"
		}
		fmt.Fprintf(out, "  %s %d. %s (correct: %s)\n", mark, d.DisplayNumber, selected, d.CorrectOption)
	}
}
