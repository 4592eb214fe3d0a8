package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stemsi/exstem-attempt/internal/querycache"
)

func newTestsCmd(newApp func(*cobra.Command) (*app, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "tests",
		Short: "List the tests available to the student",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			return runTests(cmd.Context(), a, cmd.OutOrStdout())
		},
	}
}

func runTests(ctx context.Context, a *app, out io.Writer) error {
	tests, err := querycache.Fetch(ctx, a.queries, querycache.ScopeTests, a.api.StudentID(),
		func(ctx context.Context) ([]model.TestSummary, error) {
			return a.api.ListTests(ctx)
		})
	if err != nil {
		return err
	}

	if len(tests) == 0 {
		fmt.Fprintln(out, "No tests available.")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tCOURSE\tQUESTIONS\tDURATION\tATTEMPTS\tSTATUS")
	for _, t := range tests {
		status := "open"
		if t.Completed {
			status = "completed"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%d\t%s\n",
			t.ID, t.Title, t.CourseTitle, t.QuestionCount, clock(t.DurationSeconds), t.Attempts, status)
	}
	return tw.Flush()
}
