package micstate

import (
	"fmt"
	"time"

	"github.com/romashorodok/conferencing-platform/pkg/protocol"
)

// Snapshot is the mic view of one participant decoded from its attributes.
type Snapshot struct {
	Identity    string
	DisplayName string
	Role        Role
	Status      Status
	Display     Display
	RequestTime time.Time
	KickTime    time.Time
	LastAction  string
	OperatorID  string
	Disabled    bool
}

func FromAttributes(identity string, attributes map[string]string) Snapshot {
	name := attributes[protocol.AttrUserName]
	if name == "" {
		name = identity
	}

	return Snapshot{
		Identity:    identity,
		DisplayName: name,
		Role:        ParseRole(attributes[protocol.AttrRole]),
		Status:      ParseStatus(attributes[protocol.AttrMicStatus]),
		Display:     ParseDisplay(attributes[protocol.AttrDisplayStatus]),
		RequestTime: ParseTime(attributes[protocol.AttrRequestTime]),
		KickTime:    ParseTime(attributes[protocol.AttrKickTime]),
		LastAction:  attributes[protocol.AttrLastAction],
		OperatorID:  attributes[protocol.AttrOperatorID],
		Disabled:    attributes[protocol.AttrMicDisabled] == "true",
	}
}

// InitialAttributes are the attributes of a participant that just joined.
func InitialAttributes(name string, role Role) map[string]string {
	return map[string]string{
		protocol.AttrMicStatus:     OffMic.String(),
		protocol.AttrDisplayStatus: Hidden.String(),
		protocol.AttrUserName:      name,
		protocol.AttrRole:          role.Attribute(),
	}
}

// Validate checks the display invariant of the snapshot.
func (s Snapshot) Validate() error {
	if s.Status != OffMic && s.Display != Visible {
		return fmt.Errorf("%w: %s is %s but %s", ErrDisplayInvariant, s.Identity, s.Status, s.Display)
	}
	return nil
}
