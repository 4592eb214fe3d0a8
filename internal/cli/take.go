package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/stemsi/exstem-attempt/internal/attempt"
	"github.com/stemsi/exstem-attempt/internal/controller"
	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stemsi/exstem-attempt/internal/resultstore"
	"github.com/stemsi/exstem-attempt/internal/service"
	"github.com/stemsi/exstem-attempt/internal/timer"
)

var errQuit = errors.New("left the test without submitting")

func newTakeCmd(newApp func(*cobra.Command) (*app, error)) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "take <testID>",
		Short: "Start a test and answer it interactively",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			in := cmd.InOrStdin()
			confirm := !yes && isInteractive(in)
			return runTake(cmd.Context(), a, model.ID(args[0]), in, cmd.OutOrStdout(), confirm)
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "submit without asking for confirmation")
	return cmd
}

// runTake drives one attempt from start to the end screen.
func runTake(ctx context.Context, a *app, testID model.ID, in io.Reader, out io.Writer, confirm bool) error {
	scr := newScreen(out)

	if err := a.channel.Acquire(ctx); err != nil {
		a.log.Warn().Err(err).Msg("Realtime channel unavailable, the timer will retry")
	} else {
		defer a.channel.Release()
	}

	svc := service.NewAttemptService(a.api, attempt.NewStore(), a.results, a.queries, scr, scr, a.log)
	ctrl := controller.New(svc, a.channel, timer.DefaultOptions(), a.log)
	defer ctrl.Close()
	ctrl.OnTimer(scr.timer)

	if err := ctrl.Start(ctx, testID); err != nil {
		return err
	}
	scr.render(ctrl.View())

	done := make(chan struct{})
	defer close(done)
	lines := readLines(in, done)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case sessionID := <-scr.ended:
			showResult(ctx, a, scr, sessionID)
			return nil

		case line, ok := <-lines:
			if !ok {
				return errQuit
			}
			err := handleLine(ctx, ctrl, scr, strings.TrimSpace(line), confirm, lines)
			switch {
			case errors.Is(err, errQuit):
				return err
			case errors.Is(err, controller.ErrNoSession), errors.Is(err, attempt.ErrStaleSession):
				// The session ended underneath the command; the ended
				// channel carries the rest.
			case err != nil:
				a.log.Debug().Err(err).Msg("Command failed")
			}
			if ctrl.View().Phase == attempt.PhaseActive {
				scr.render(ctrl.View())
			}
		}
	}
}

func handleLine(ctx context.Context, ctrl *controller.AttemptController, scr *screen, line string, confirm bool, lines <-chan string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}

	switch strings.ToLower(fields[0]) {
	case "n", "next":
		return ctrl.Next(ctx)

	case "p", "prev", "previous":
		return ctrl.Previous(ctx)

	case "g", "goto":
		if len(fields) < 2 {
			scr.Error("usage: g <question number>")
			return nil
		}
		n, err := strconv.Atoi(fields[1])
		if err != nil || n < 1 {
			scr.Error("question number must be a positive integer")
			return nil
		}
		return ctrl.Jump(ctx, n)

	case "s", "submit":
		if !ctrl.View().ShowSubmitButton {
			scr.Error("submit is available once you reach the last page")
			return nil
		}
		if confirm {
			scr.printf("Submit the test? You cannot change answers afterwards. [y/N] ")
			answer, ok := <-lines
			if !ok {
				return errQuit
			}
			if a := strings.ToLower(strings.TrimSpace(answer)); a != "y" && a != "yes" {
				return nil
			}
		}
		return ctrl.Finish(ctx)

	case "q", "quit":
		return errQuit

	case "h", "help":
		return nil
	}

	n, err := strconv.Atoi(fields[0])
	if err != nil {
		scr.Error(fmt.Sprintf("unknown command %q", fields[0]))
		return nil
	}
	return selectAnswer(ctrl, scr, n, fields[1:])
}

// selectAnswer handles "<display number> <letter|text>". A bare number
// clears the answer.
func selectAnswer(ctrl *controller.AttemptController, scr *screen, displayNumber int, rest []string) error {
	v := ctrl.View()
	for _, q := range v.Questions {
		if q.DisplayNumber != displayNumber {
			continue
		}
		if len(rest) == 0 {
			ctrl.Select(q.ID, "")
			return nil
		}
		choice := strings.Join(rest, " ")
		if len(choice) == 1 {
			if i := int(strings.ToLower(choice)[0] - 'a'); i >= 0 && i < len(q.Options) {
				ctrl.Select(q.ID, q.Options[i])
				return nil
			}
		}
		for _, opt := range q.Options {
			if strings.EqualFold(opt, choice) {
				ctrl.Select(q.ID, opt)
				return nil
			}
		}
		scr.Error(fmt.Sprintf("question %d has no option %q", displayNumber, choice))
		return nil
	}
	scr.Error(fmt.Sprintf("question %d is not on this page", displayNumber))
	return nil
}

func showResult(ctx context.Context, a *app, scr *screen, sessionID model.ID) {
	r, err := a.results.Get(ctx, sessionID)
	if err != nil {
		if !errors.Is(err, resultstore.ErrNotFound) {
			a.log.Warn().Err(err).Msg("Failed to read result")
		}
		scr.printf("Your answers were submitted.\n")
		return
	}
	printResult(scr.out, r)
}

// readLines feeds input lines to a channel so the command loop can also
// watch for the session ending.
func readLines(in io.Reader, done <-chan struct{}) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-done:
				return
			}
		}
	}()
	return lines
}
