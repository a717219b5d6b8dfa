package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pavelanni/medcode/internal/model"
	"github.com/pavelanni/medcode/internal/quiz"
)

func takeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "take QUIZ_ID",
		Short: "Take a timed quiz in the terminal",
		Args:  cobra.ExactArgs(1),
		RunE:  runTake,
	}
	commonFlags(cmd)
	return cmd
}

const takeHelp = "Answer with a letter (A-D). n = next, p = previous, g N = go to question N, s = submit, q = quit without submitting."

func runTake(cmd *cobra.Command, args []string) error {
	t, err := openTerminal(cmd)
	if err != nil {
		return err
	}
	defer t.Close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	s, _, err := t.session(ctx)
	if err != nil {
		return err
	}

	ctrl := quiz.NewController(s, quiz.RealClock())
	if err := ctrl.Start(ctx, args[0]); err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	snap := ctrl.Snapshot()
	fmt.Fprintf(out, "%s: %d questions, %s\n", snap.Quiz.Title, len(snap.Questions), formatRemaining(snap.Remaining))
	if snap.Empty() {
		fmt.Fprintln(out, "This quiz has no questions.")
		return nil
	}
	fmt.Fprintln(out, takeHelp)

	go ctrl.Run(ctx)

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(cmd.InOrStdin())
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		printQuestion(out, ctrl.Snapshot())
		select {
		case <-ctrl.Done():
			// The countdown reached zero and the answers went in on their own.
			fmt.Fprintln(out, "\nTime is up.")
			return printOutcome(out, ctrl.Snapshot())
		case line, ok := <-lines:
			if !ok {
				ctrl.Cancel()
				return errors.New("input closed, attempt abandoned")
			}
			done, err := handleTakeInput(ctx, out, ctrl, line)
			if err != nil {
				fmt.Fprintln(out, "!", err)
			}
			if done {
				return printOutcome(out, ctrl.Snapshot())
			}
		}
	}
}

// handleTakeInput applies one command line; done reports that the attempt ended.
func handleTakeInput(ctx context.Context, out io.Writer, ctrl *quiz.Controller, line string) (done bool, err error) {
	fields := strings.Fields(strings.ToLower(line))
	if len(fields) == 0 {
		return false, nil
	}
	snap := ctrl.Snapshot()
	switch cmd := fields[0]; {
	case cmd == "n":
		if !snap.CanProceed() {
			return false, errors.New("answer this question first")
		}
		ctrl.Advance(1)
	case cmd == "p":
		ctrl.Advance(-1)
	case cmd == "g" && len(fields) == 2:
		n, err := strconv.Atoi(fields[1])
		if err != nil {
			return false, fmt.Errorf("not a question number: %s", fields[1])
		}
		ctrl.Seek(n - 1)
	case cmd == "s":
		if unanswered := len(snap.Questions) - len(snap.Answers); unanswered > 0 {
			fmt.Fprintf(out, "%d question(s) unanswered.\n", unanswered)
		}
		err := ctrl.Submit(ctx)
		var se *quiz.SubmissionError
		switch {
		case err == nil:
			return true, nil
		case errors.As(err, &se) && se.Terminal:
			return true, nil
		case errors.Is(err, quiz.ErrNotActive):
			return true, nil
		default:
			return false, fmt.Errorf("submit failed, try again: %w", err)
		}
	case cmd == "q":
		ctrl.Cancel()
		return true, nil
	case len(cmd) == 1 && cmd[0] >= 'a' && cmd[0] < 'a'+model.OptionCount:
		q := snap.Question()
		if q == nil {
			return false, nil
		}
		if err := ctrl.SelectAnswer(q.ID, int(cmd[0]-'a')); err != nil {
			return false, err
		}
		if !snap.IsLast() {
			ctrl.Advance(1)
		}
	default:
		fmt.Fprintln(out, takeHelp)
	}
	return false, nil
}

func printQuestion(out io.Writer, snap quiz.Snapshot) {
	q := snap.Question()
	if q == nil || snap.State != quiz.InProgress {
		return
	}
	fmt.Fprintf(out, "\n[%s] Question %d/%d (%d answered)\n%s\n",
		formatRemaining(snap.Remaining), snap.Current+1, len(snap.Questions), len(snap.Answers), q.Question)
	for i, opt := range q.Options {
		mark := " "
		if snap.IsSelected(q.ID, i) {
			mark = "*"
		}
		fmt.Fprintf(out, " %s %c. %s\n", mark, 'A'+i, opt)
	}
	fmt.Fprint(out, "> ")
}

func printOutcome(out io.Writer, snap quiz.Snapshot) error {
	switch snap.State {
	case quiz.Finished:
		r := snap.Result
		verdict := "NOT PASSED"
		if r.Passed {
			verdict = "PASSED"
		}
		fmt.Fprintf(out, "\n%s: %.0f/%.0f (%.0f%%) in %s\n", verdict, r.Score, r.Total, r.Percentage, formatRemaining(r.TimeTaken))
		for i, q := range snap.Questions {
			res, ok := r.ResultFor(q.ID)
			if !ok {
				continue
			}
			mark := "✘"
			if res.IsCorrect {
				mark = "✔"
			}
			fmt.Fprintf(out, " %s %d. %s\n", mark, i+1, q.Question)
			if !res.IsCorrect && res.CorrectAnswer != nil && *res.CorrectAnswer < len(q.Options) {
				fmt.Fprintf(out, "     correct: %c. %s\n", 'A'+*res.CorrectAnswer, q.Options[*res.CorrectAnswer])
			}
			if res.Explanation != "" {
				fmt.Fprintf(out, "     %s\n", res.Explanation)
			}
		}
		return nil
	case quiz.Abandoned:
		if snap.Err != nil {
			return fmt.Errorf("attempt abandoned: %w", snap.Err)
		}
		fmt.Fprintln(out, "Attempt abandoned.")
		return nil
	default:
		return fmt.Errorf("attempt ended in state %s", snap.State)
	}
}

func formatRemaining(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}
