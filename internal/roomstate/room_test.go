package roomstate

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/romashorodok/conferencing-platform/internal/micstate"
	"github.com/romashorodok/conferencing-platform/pkg/protocol"
	"github.com/stretchr/testify/require"
)

func newTestRoom(t *testing.T) *Room {
	t.Helper()
	return NewRoom(NewRoomParams{
		Name:        "room-1",
		MaxMicSlots: 2,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) add(event Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *eventLog) kinds() []EventKind {
	l.mu.Lock()
	defer l.mu.Unlock()
	var kinds []EventKind
	for _, event := range l.events {
		kinds = append(kinds, event.Kind)
	}
	return kinds
}

func TestJoinDefaults(t *testing.T) {
	room := newTestRoom(t)

	member, err := room.Join("member-1", "Alice", micstate.Member)
	require.NoError(t, err)
	require.Equal(t, "off_mic", member.Attributes[protocol.AttrMicStatus])
	require.Equal(t, "hidden", member.Attributes[protocol.AttrDisplayStatus])
	require.Equal(t, "1", member.Attributes[protocol.AttrRole])
	require.False(t, member.Permissions.CanPublish)
	require.True(t, member.Permissions.CanSubscribe)

	host, err := room.Join("host-1", "", micstate.Host)
	require.NoError(t, err)
	require.Equal(t, "host-1", host.Name)
	require.True(t, host.Permissions.CanPublish)

	_, err = room.Join("member-1", "Alice", micstate.Member)
	require.ErrorIs(t, err, ErrParticipantExists)

	_, err = room.Join("", "", micstate.Member)
	require.ErrorIs(t, err, ErrEmptyIdentity)

	require.Equal(t, `{"maxMicSlots":2}`, room.Metadata())
}

func TestApplyEmitsOnlyChanges(t *testing.T) {
	room := newTestRoom(t)
	_, err := room.Join("member-1", "Alice", micstate.Member)
	require.NoError(t, err)

	log := &eventLog{}
	unsubscribe := room.Subscribe(log.add)
	defer unsubscribe()

	_, err = room.Apply("member-1", map[string]string{protocol.AttrMicStatus: "on_mic"}, func(p *protocol.Permissions) {
		p.CanPublish = true
	})
	require.NoError(t, err)
	require.Equal(t, []EventKind{EventAttributes, EventPermissions}, log.kinds())

	// Same values again: nothing to notify.
	_, err = room.Apply("member-1", map[string]string{protocol.AttrMicStatus: "on_mic"}, func(p *protocol.Permissions) {
		p.CanPublish = true
	})
	require.NoError(t, err)
	require.Len(t, log.kinds(), 2)

	_, err = room.Apply("ghost", nil, nil)
	require.ErrorIs(t, err, ErrParticipantNotFound)
}

func TestSelfUpdateRules(t *testing.T) {
	room := newTestRoom(t)
	_, err := room.Join("member-1", "Alice", micstate.Member)
	require.NoError(t, err)

	for name, delta := range map[string]map[string]string{
		"PromoteRole":   {protocol.AttrRole: "3"},
		"SelfApprove":   {protocol.AttrMicStatus: "on_mic"},
		"SelfUnmute":    {protocol.AttrMicStatus: "muted"},
		"GarbageStatus": {protocol.AttrMicStatus: "speaking"},
		"Operator":      {protocol.AttrOperatorID: "member-1"},
		"Enable":        {protocol.AttrMicDisabled: "false"},
	} {
		_, err := room.SelfUpdate("member-1", delta)
		require.Error(t, err, name)
	}

	state, err := room.SelfUpdate("member-1", map[string]string{
		protocol.AttrMicStatus:     "requesting",
		protocol.AttrDisplayStatus: "visible",
	})
	require.NoError(t, err)
	require.Equal(t, "requesting", state.Attributes[protocol.AttrMicStatus])
}

func TestOnlyMembersSelfRequest(t *testing.T) {
	room := newTestRoom(t)
	for identity, role := range map[string]micstate.Role{
		"guest-1": micstate.Guest,
		"host-1":  micstate.Host,
		"admin-1": micstate.Admin,
	} {
		_, err := room.Join(identity, identity, role)
		require.NoError(t, err)

		delta, err := micstate.Delta(micstate.ActionRequest, "", time.Now())
		require.NoError(t, err)
		_, err = room.SelfUpdate(identity, delta)
		require.ErrorIs(t, err, ErrRoleCannotRequest, identity)

		state, ok := room.Participant(identity)
		require.True(t, ok)
		require.Equal(t, "off_mic", state.Attributes[protocol.AttrMicStatus])
	}

	_, err := room.SelfUpdate("ghost", map[string]string{protocol.AttrMicStatus: "off_mic"})
	require.ErrorIs(t, err, ErrParticipantNotFound)
}

func TestSelfLeaveRevokesPublish(t *testing.T) {
	room := newTestRoom(t)
	_, err := room.Join("member-1", "Alice", micstate.Member)
	require.NoError(t, err)
	_, err = room.Apply("member-1", map[string]string{protocol.AttrMicStatus: "on_mic"}, func(p *protocol.Permissions) {
		p.CanPublish = true
	})
	require.NoError(t, err)

	delta, err := micstate.Delta(micstate.ActionLeave, "", time.Now())
	require.NoError(t, err)
	state, err := room.SelfUpdate("member-1", delta)
	require.NoError(t, err)

	require.Equal(t, "off_mic", state.Attributes[protocol.AttrMicStatus])
	require.Equal(t, "1", state.Attributes[protocol.AttrRole])
	require.False(t, state.Permissions.CanPublish)
}

func TestSetMaxMicSlotsKeepsOtherMetadata(t *testing.T) {
	room := newTestRoom(t)
	room.SetMetadata(`{"maxMicSlots":2,"topic":"weekly"}`)

	log := &eventLog{}
	defer room.Subscribe(log.add)()

	require.NoError(t, room.SetMaxMicSlots(5))
	require.JSONEq(t, `{"maxMicSlots":5,"topic":"weekly"}`, room.Metadata())
	require.Equal(t, []EventKind{EventMetadata}, log.kinds())

	require.ErrorIs(t, room.SetMaxMicSlots(0), ErrInvalidMicSlotsCount)
}

func TestSetMaxMicSlotsReportsMalformedMetadata(t *testing.T) {
	var logs bytes.Buffer
	room := NewRoom(NewRoomParams{
		Name:   "room-1",
		Logger: slog.New(slog.NewJSONHandler(&logs, nil)),
	})
	room.SetMetadata(`{"maxMicSlots":`)

	require.NoError(t, room.SetMaxMicSlots(3))
	require.JSONEq(t, `{"maxMicSlots":3}`, room.Metadata())
	require.Contains(t, logs.String(), "room metadata is not a json object")
	require.Contains(t, logs.String(), `"room":"room-1"`)
}

func TestViewNotifications(t *testing.T) {
	room := newTestRoom(t)
	_, err := room.Join("member-1", "Alice", micstate.Member)
	require.NoError(t, err)
	view := room.View("member-1")

	var (
		mu          sync.Mutex
		attributes  []string
		permissions []bool
		metadata    []string
	)
	defer view.OnAttributesChanged("member-1", func(identity string, attrs map[string]string) {
		mu.Lock()
		defer mu.Unlock()
		attributes = append(attributes, attrs[protocol.AttrMicStatus])
	})()
	defer view.OnPermissionsChanged("", func(identity string, p protocol.Permissions) {
		mu.Lock()
		defer mu.Unlock()
		permissions = append(permissions, p.CanPublish)
	})()
	defer view.OnMetadataChanged(func(m string) {
		mu.Lock()
		defer mu.Unlock()
		metadata = append(metadata, m)
	})()

	_, err = room.Join("other", "Bob", micstate.Member)
	require.NoError(t, err)

	require.NoError(t, view.SetAttributes(context.Background(), map[string]string{protocol.AttrMicStatus: "requesting"}))
	_, err = room.Apply("member-1", map[string]string{protocol.AttrMicStatus: "on_mic"}, func(p *protocol.Permissions) { p.CanPublish = true })
	require.NoError(t, err)
	require.NoError(t, room.SetMaxMicSlots(3))
	require.NoError(t, room.Leave("member-1"))

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"requesting", "on_mic", ""}, attributes)
	require.Equal(t, []bool{true}, permissions)
	require.Equal(t, []string{`{"maxMicSlots":3}`}, metadata)

	require.Equal(t, []string{"other"}, view.Identities())
	_, ok := view.GetAttributes("member-1")
	require.False(t, ok)
}
