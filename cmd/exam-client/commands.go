package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/stemsi/exstem-session/internal/client"
	"github.com/stemsi/exstem-session/internal/matching"
	"github.com/stemsi/exstem-session/internal/session"
	"github.com/stemsi/exstem-session/internal/timer"
)

var errUsage = errors.New("wrong arguments, type 'help'")

// execute runs one command line and reports whether the client should exit.
func execute(ctx context.Context, ctrl *session.Controller, stream *client.Stream, t *terminal, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	cmd, args := fields[0], fields[1:]

	var err error
	switch cmd {
	case "help", "?":
		t.printf("%s", helpText)
	case "list", "ls":
		t.list(ctrl)
	case "show":
		var id int64
		if id, err = argID(args, 0); err == nil {
			q, ok := findQuestion(ctrl, id)
			if !ok {
				err = fmt.Errorf("no question %d", id)
				break
			}
			t.show(ctrl, q)
		}
	case "pick":
		err = withIDs(args, 2, func(ids []int64) error { return ctrl.SelectOption(ids[0], ids[1]) })
	case "toggle":
		err = withIDs(args, 2, func(ids []int64) error { return ctrl.ToggleOption(ids[0], ids[1]) })
	case "text":
		var id int64
		if id, err = argID(args, 0); err == nil {
			err = ctrl.SetText(id, strings.Join(args[1:], " "))
		}
	case "order":
		if len(args) < 2 {
			err = errUsage
			break
		}
		err = withIDs(args, len(args), func(ids []int64) error { return ctrl.SetOrder(ids[0], ids[1:]) })
	case "move":
		err = withIDs(args, 3, func(ids []int64) error { return ctrl.MoveOption(ids[0], int(ids[1]), int(ids[2])) })
	case "match":
		err = withIDs(args, 3, func(ids []int64) error { return match(ctrl, ids[0], ids[1], ids[2]) })
	case "prompt", "target":
		err = withIDs(args, 2, func(ids []int64) error {
			click := ctrl.ClickMatchPrompt
			if cmd == "target" {
				click = ctrl.ClickMatchTarget
			}
			out, err := click(ids[0], ids[1])
			if err == nil {
				t.printf("%s\n", out)
			}
			return err
		})
	case "clear":
		err = withIDs(args, 1, func(ids []int64) error { return ctrl.ClearAnswer(ids[0]) })
	case "mark":
		err = withIDs(args, 1, func(ids []int64) error {
			on, err := ctrl.ToggleBookmark(ids[0])
			if err == nil {
				t.printf("bookmark %v\n", on)
			}
			return err
		})
	case "save":
		if err = ctrl.SaveAll(ctx); err == nil {
			t.printf("saved\n")
		}
	case "time":
		s := ctrl.Timer()
		t.printf("%s remaining (%s, offset %s)\n", timer.Format(s.RemainingSeconds), s.Phase, s.ServerOffset)
	case "report":
		if len(args) == 0 {
			err = errUsage
			break
		}
		if stream == nil {
			err = errors.New("exam stream is not connected")
			break
		}
		err = stream.ReportEvent(ctx, args[0], strings.Join(args[1:], " "))
	case "submit":
		_, err = ctrl.Submit(ctx, session.TriggerManual)
		if errors.Is(err, session.ErrSubmitDeclined) {
			t.printf("submission cancelled\n")
			err = nil
		}
	case "quit", "exit":
		return true
	default:
		err = fmt.Errorf("unknown command %q, type 'help'", cmd)
	}

	if err != nil {
		t.printf("error: %v\n", err)
	}
	return false
}

// match pairs prompt with target, unpairing the prompt first if needed. A
// target already paired with another prompt is refused before any click.
func match(ctrl *session.Controller, questionID, prompt, target int64) error {
	if p, ok := ctrl.MatchPartner(questionID, matching.SideTarget, target); ok {
		if p == prompt {
			return nil
		}
		return fmt.Errorf("target %d is already matched with prompt %d", target, p)
	}

	if armed, ok := ctrl.ArmedPrompt(questionID); !ok || armed != prompt {
		out, err := ctrl.ClickMatchPrompt(questionID, prompt)
		if err != nil {
			return err
		}
		if out == matching.OutcomeRemoved {
			if _, err := ctrl.ClickMatchPrompt(questionID, prompt); err != nil {
				return err
			}
		}
	}

	out, err := ctrl.ClickMatchTarget(questionID, target)
	if err != nil {
		return err
	}
	if out != matching.OutcomeConnected {
		return fmt.Errorf("target %d was not connected (%s)", target, out)
	}
	return nil
}

func argID(args []string, i int) (int64, error) {
	if i >= len(args) {
		return 0, errUsage
	}
	id, err := strconv.ParseInt(args[i], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%q is not a number", args[i])
	}
	return id, nil
}

// withIDs parses exactly n numeric arguments and passes them to fn.
func withIDs(args []string, n int, fn func(ids []int64) error) error {
	if len(args) != n {
		return errUsage
	}
	ids := make([]int64, n)
	for i := range n {
		id, err := argID(args, i)
		if err != nil {
			return err
		}
		ids[i] = id
	}
	return fn(ids)
}
