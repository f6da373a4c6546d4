package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/romashorodok/conferencing-platform/internal/admission"
	"github.com/romashorodok/conferencing-platform/internal/micstate"
)

var (
	ErrUnknownCommand  = errors.New("unknown command")
	ErrMissingArgument = errors.New("missing argument")
)

type micController interface {
	RequestMic(ctx context.Context) error
	LeaveMic(ctx context.Context) error
	Approve(ctx context.Context, target string) error
	Kick(ctx context.Context, target string) error
	Mute(ctx context.Context, target string) error
	Unmute(ctx context.Context, target string) error
	SetMicDisabled(ctx context.Context, target string, disabled bool) error
	UpdateMaxMicSlots(ctx context.Context, slots int) error
	RetryRepair(ctx context.Context) error
	Roster() []micstate.Snapshot
	Policy() admission.Policy
}

const usage = `commands:
  request            request a mic slot
  leave              leave the mic
  approve <id>       put a participant on the mic
  kick <id>          take a participant off the mic
  mute <id>          mute a participant on the mic
  unmute <id>        unmute a participant
  disable <id>       block a participant from the mic
  enable <id>        lift the block
  slots <n>          change the number of mic slots
  retry              retry a failed mic repair
  roster             show the mic panel
  help               show this message
`

// reportable reports whether a command error still has to be printed. Policy
// rejections have already reached the user as an informational notice.
func reportable(err error) bool {
	return err != nil &&
		!errors.Is(err, admission.ErrRejected) &&
		!errors.Is(err, micstate.ErrRoleForbidden)
}

func targetOf(fields []string) (string, error) {
	if len(fields) < 2 || fields[1] == "" {
		return "", fmt.Errorf("%w: %s <id>", ErrMissingArgument, fields[0])
	}
	return fields[1], nil
}

// execute runs one command line against ctrl.
func execute(ctx context.Context, ctrl micController, line string, out io.Writer) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}

	targeted := map[string]func(context.Context, string) error{
		"approve": ctrl.Approve,
		"kick":    ctrl.Kick,
		"mute":    ctrl.Mute,
		"unmute":  ctrl.Unmute,
		"disable": func(ctx context.Context, target string) error { return ctrl.SetMicDisabled(ctx, target, true) },
		"enable":  func(ctx context.Context, target string) error { return ctrl.SetMicDisabled(ctx, target, false) },
	}

	command := strings.ToLower(fields[0])
	if fn, ok := targeted[command]; ok {
		target, err := targetOf(fields)
		if err != nil {
			return err
		}
		return fn(ctx, target)
	}

	switch command {
	case "request":
		return ctrl.RequestMic(ctx)
	case "leave":
		return ctrl.LeaveMic(ctx)
	case "retry":
		return ctrl.RetryRepair(ctx)
	case "slots":
		if len(fields) < 2 {
			return fmt.Errorf("%w: slots <n>", ErrMissingArgument)
		}
		slots, err := strconv.Atoi(fields[1])
		if err != nil {
			return err
		}
		return ctrl.UpdateMaxMicSlots(ctx, slots)
	case "roster":
		return printRoster(out, ctrl)
	case "help":
		_, err := io.WriteString(out, usage)
		return err
	}
	return fmt.Errorf("%w: %s", ErrUnknownCommand, fields[0])
}

func printRoster(out io.Writer, ctrl micController) error {
	roster := ctrl.Roster()
	policy := ctrl.Policy()

	occupancy := admission.Roster(roster).Occupancy()
	if _, err := fmt.Fprintf(out, "mic slots %d/%d (%s)\n", occupancy, policy.MaxMicSlots, policy.Source); err != nil {
		return err
	}
	for _, p := range roster {
		if _, err := fmt.Fprintf(out, "  %-10s %-8s %s\n", p.Status, p.Role, p.DisplayName); err != nil {
			return err
		}
	}
	return nil
}
