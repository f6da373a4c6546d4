package roomstate

import (
	"context"
	"maps"

	"github.com/romashorodok/conferencing-platform/pkg/protocol"
)

// View is the room as seen by one joined participant. It applies local writes
// through the self write path and delivers notifications synchronously.
type View struct {
	room     *Room
	identity string
}

var _ protocol.Room = (*View)(nil)

func (r *Room) View(identity string) *View {
	return &View{room: r, identity: identity}
}

func (v *View) Name() protocol.RoomID {
	return v.room.Name()
}

func (v *View) LocalIdentity() protocol.Identity {
	return v.identity
}

func (v *View) Identities() []protocol.Identity {
	participants := v.room.Participants()
	result := make([]protocol.Identity, 0, len(participants))
	for _, p := range participants {
		result = append(result, p.Identity)
	}
	return result
}

func (v *View) GetAttributes(identity protocol.Identity) (map[string]string, bool) {
	state, ok := v.room.Participant(identity)
	if !ok {
		return nil, false
	}
	return maps.Clone(state.Attributes), true
}

func (v *View) SetAttributes(_ context.Context, delta map[string]string) error {
	_, err := v.room.SelfUpdate(v.identity, delta)
	return err
}

func (v *View) GetPermissions(identity protocol.Identity) (protocol.Permissions, bool) {
	state, ok := v.room.Participant(identity)
	if !ok {
		return protocol.Permissions{}, false
	}
	return state.Permissions, true
}

// OnAttributesChanged also fires on join, and on leave with nil attributes.
func (v *View) OnAttributesChanged(identity protocol.Identity, fn protocol.AttributesChangedFunc) func() {
	return v.room.Subscribe(func(event Event) {
		if identity != "" && event.Participant.Identity != identity {
			return
		}
		switch event.Kind {
		case EventJoined, EventAttributes:
			fn(event.Participant.Identity, event.Participant.Attributes)
		case EventLeft:
			fn(event.Participant.Identity, nil)
		}
	})
}

func (v *View) OnPermissionsChanged(identity protocol.Identity, fn protocol.PermissionsChangedFunc) func() {
	return v.room.Subscribe(func(event Event) {
		if event.Kind != EventPermissions {
			return
		}
		if identity != "" && event.Participant.Identity != identity {
			return
		}
		fn(event.Participant.Identity, event.Participant.Permissions)
	})
}

func (v *View) Metadata() string {
	return v.room.Metadata()
}

func (v *View) OnMetadataChanged(fn func(metadata string)) func() {
	return v.room.Subscribe(func(event Event) {
		if event.Kind == EventMetadata {
			fn(event.Metadata)
		}
	})
}
