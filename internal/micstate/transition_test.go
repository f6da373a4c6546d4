package micstate

import (
	"errors"
	"testing"
	"time"

	"github.com/romashorodok/conferencing-platform/pkg/protocol"
	"github.com/stretchr/testify/require"
)

func TestAuthorize(t *testing.T) {
	for name, tc := range map[string]struct {
		action Action
		actor  Role
		self   bool
		err    error
	}{
		"MemberRequests":   {ActionRequest, Member, true, nil},
		"GuestRequests":    {ActionRequest, Guest, true, ErrRoleForbidden},
		"HostRequests":     {ActionRequest, Host, true, ErrRoleForbidden},
		"AdminRequests":    {ActionRequest, Admin, true, ErrRoleForbidden},
		"RequestForOther":  {ActionRequest, Member, false, ErrNotSelf},
		"HostApproves":     {ActionApprove, Host, false, nil},
		"AdminKicks":       {ActionKick, Admin, false, nil},
		"MemberApproves":   {ActionApprove, Member, false, ErrRoleForbidden},
		"GuestKicks":       {ActionKick, Guest, false, ErrRoleForbidden},
		"HostApprovesSelf": {ActionApprove, Host, true, ErrSelfAdmin},
		"MemberLeaves":     {ActionLeave, Member, true, nil},
		"MemberRepairs":    {ActionRepair, Member, true, nil},
		"RepairForOther":   {ActionRepair, Host, false, ErrNotSelf},
		"MemberMutes":      {ActionMute, Member, false, ErrRoleForbidden},
		"HostUnmutes":      {ActionUnmute, Host, false, nil},
		"UnknownAction":    {Action(99), Admin, false, ErrUnknownAction},
	} {
		tc := tc
		t.Run(name, func(t *testing.T) {
			err := Authorize(tc.action, tc.actor, tc.self)
			if tc.err == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tc.err)
		})
	}
}

func TestGuestNeverReachesTheMic(t *testing.T) {
	for _, action := range []Action{ActionRequest, ActionApprove, ActionUnmute} {
		require.Error(t, Authorize(action, Guest, true))
	}
}

func TestTransition(t *testing.T) {
	for name, tc := range map[string]struct {
		from   Status
		action Action
		to     Status
		err    error
	}{
		"Request":                {OffMic, ActionRequest, Requesting, nil},
		"RequestWhileRequesting": {Requesting, ActionRequest, Requesting, ErrDuplicateRequest},
		"RequestWhileOnMic":      {OnMic, ActionRequest, OnMic, ErrDuplicateRequest},
		"Approve":                {Requesting, ActionApprove, OnMic, nil},
		"ApproveTwice":           {OnMic, ActionApprove, OnMic, nil},
		"ApproveWithoutRequest":  {OffMic, ActionApprove, OffMic, ErrIllegalTransition},
		"Kick":                   {OnMic, ActionKick, OffMic, nil},
		"KickMuted":              {Muted, ActionKick, OffMic, nil},
		"KickRequesting":         {Requesting, ActionKick, OffMic, nil},
		"KickTwice":              {OffMic, ActionKick, OffMic, nil},
		"Leave":                  {OnMic, ActionLeave, OffMic, nil},
		"LeaveWhileRequesting":   {Requesting, ActionLeave, Requesting, ErrIllegalTransition},
		"Mute":                   {OnMic, ActionMute, Muted, nil},
		"Unmute":                 {Muted, ActionUnmute, OnMic, nil},
		"MuteOffMic":             {OffMic, ActionMute, OffMic, ErrIllegalTransition},
		"Repair":                 {OnMic, ActionRepair, OnMic, nil},
		"RepairOffMic":           {OffMic, ActionRepair, OffMic, ErrIllegalTransition},
	} {
		tc := tc
		t.Run(name, func(t *testing.T) {
			to, err := Transition(tc.from, tc.action)
			if tc.err != nil {
				require.ErrorIs(t, err, tc.err)
			} else {
				require.NoError(t, err)
			}
			require.Equal(t, tc.to, to)
		})
	}
}

func TestDeltaNeverCarriesRole(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	for _, action := range []Action{ActionRequest, ActionApprove, ActionKick, ActionLeave, ActionMute, ActionUnmute, ActionRepair} {
		delta, err := Delta(action, "host-1", now)
		require.NoError(t, err)
		_, hasRole := delta[protocol.AttrRole]
		require.False(t, hasRole, "delta of %s carries role", action)

		snapshot := FromAttributes("member-1", delta)
		require.NoError(t, snapshot.Validate(), "delta of %s breaks display invariant", action)
	}
}

func TestDelta(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)

	request, err := Delta(ActionRequest, "member-1", now)
	require.NoError(t, err)
	require.Equal(t, map[string]string{
		protocol.AttrMicStatus:     "requesting",
		protocol.AttrDisplayStatus: "visible",
		protocol.AttrRequestTime:   "1700000000000",
		protocol.AttrLastAction:    "request",
	}, request)

	kick, err := Delta(ActionKick, "host-1", now)
	require.NoError(t, err)
	require.Equal(t, map[string]string{
		protocol.AttrMicStatus:     "off_mic",
		protocol.AttrDisplayStatus: "hidden",
		protocol.AttrKickTime:      "1700000000000",
		protocol.AttrLastAction:    "kicked",
		protocol.AttrOperatorID:    "host-1",
	}, kick)

	leave, err := Delta(ActionLeave, "member-1", now)
	require.NoError(t, err)
	require.Equal(t, "left", leave[protocol.AttrLastAction])
	require.NotContains(t, leave, protocol.AttrOperatorID)

	_, err = Delta(Action(42), "", now)
	require.True(t, errors.Is(err, ErrUnknownAction))
}
