package micstate

import (
	"fmt"
	"strconv"
	"time"

	"github.com/romashorodok/conferencing-platform/pkg/protocol"
)

type Action int

const (
	ActionRequest Action = iota
	ActionApprove
	ActionKick
	ActionLeave
	ActionMute
	ActionUnmute
	// ActionRepair is the self re-approve issued when the local participant is
	// declared on the mic without the publish grant.
	ActionRepair
)

var actionNames = map[Action]string{
	ActionRequest: "request",
	ActionApprove: "approved",
	ActionKick:    "kicked",
	ActionLeave:   "left",
	ActionMute:    "muted",
	ActionUnmute:  "unmuted",
	ActionRepair:  "approved",
}

// LastAction is the value written to the last_action attribute.
func (a Action) LastAction() string {
	return actionNames[a]
}

func (a Action) String() string {
	switch a {
	case ActionRequest:
		return "request"
	case ActionApprove:
		return "approve"
	case ActionKick:
		return "kick"
	case ActionLeave:
		return "leave"
	case ActionMute:
		return "mute"
	case ActionUnmute:
		return "unmute"
	case ActionRepair:
		return "repair"
	}
	return "unknown"
}

// SelfService reports whether the action is performed by a participant on its
// own record. Every other action goes through the admin gateway.
func (a Action) SelfService() bool {
	return a == ActionRequest || a == ActionLeave || a == ActionRepair
}

// Authorize checks that actor may perform action. self is true when the actor is
// the target. It never touches the network.
func Authorize(action Action, actor Role, self bool) error {
	switch action {
	case ActionRequest:
		if !self {
			return ErrNotSelf
		}
		if actor != Member {
			return fmt.Errorf("%w: %s cannot request the mic", ErrRoleForbidden, actor)
		}
	case ActionLeave, ActionRepair:
		if !self {
			return ErrNotSelf
		}
	case ActionApprove, ActionKick, ActionMute, ActionUnmute:
		if !actor.Privileged() {
			return fmt.Errorf("%w: %s cannot %s", ErrRoleForbidden, actor, action)
		}
		if self {
			return ErrSelfAdmin
		}
	default:
		return ErrUnknownAction
	}
	return nil
}

var transitions = map[Action]map[Status]Status{
	ActionRequest: {
		OffMic: Requesting,
	},
	ActionApprove: {
		Requesting: OnMic,
		OnMic:      OnMic,
	},
	ActionKick: {
		OffMic:     OffMic,
		Requesting: OffMic,
		OnMic:      OffMic,
		Muted:      OffMic,
	},
	ActionLeave: {
		OnMic: OffMic,
		Muted: OffMic,
	},
	ActionMute: {
		OnMic: Muted,
		Muted: Muted,
	},
	ActionUnmute: {
		Muted: OnMic,
		OnMic: OnMic,
	},
	ActionRepair: {
		OnMic: OnMic,
	},
}

// Transition returns the status reached by applying action in status from.
// Repeating an admin action on its own target state is legal and yields the same
// state.
func Transition(from Status, action Action) (Status, error) {
	edges, ok := transitions[action]
	if !ok {
		return from, ErrUnknownAction
	}
	to, ok := edges[from]
	if ok {
		return to, nil
	}
	if action == ActionRequest {
		return from, ErrDuplicateRequest
	}
	return from, fmt.Errorf("%w: %s from %s", ErrIllegalTransition, action, from)
}

// Delta builds the attribute write for action. Deltas never carry the role
// attribute, so a kick or leave cannot demote a participant.
func Delta(action Action, operator string, now time.Time) (map[string]string, error) {
	to, ok := targetStatus(action)
	if !ok {
		return nil, ErrUnknownAction
	}

	delta := map[string]string{
		protocol.AttrMicStatus:     to.String(),
		protocol.AttrDisplayStatus: DisplayFor(to).String(),
		protocol.AttrLastAction:    action.LastAction(),
	}

	switch action {
	case ActionRequest:
		delta[protocol.AttrRequestTime] = FormatTime(now)
	case ActionKick:
		delta[protocol.AttrKickTime] = FormatTime(now)
	}

	if operator != "" && action != ActionRequest && action != ActionLeave {
		delta[protocol.AttrOperatorID] = operator
	}
	return delta, nil
}

func targetStatus(action Action) (Status, bool) {
	switch action {
	case ActionRequest:
		return Requesting, true
	case ActionApprove, ActionUnmute, ActionRepair:
		return OnMic, true
	case ActionKick, ActionLeave:
		return OffMic, true
	case ActionMute:
		return Muted, true
	}
	return OffMic, false
}

// FormatTime encodes t as unix milliseconds.
func FormatTime(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func ParseTime(value string) time.Time {
	ms, err := strconv.ParseInt(value, 10, 64)
	if err != nil || ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
