package protocol

import "context"

type (
	RoomID   = string
	Identity = string
)

// Attribute keys replicated on every participant record.
const (
	AttrMicStatus     = "mic_status"
	AttrDisplayStatus = "display_status"
	AttrRequestTime   = "request_time"
	AttrLastAction    = "last_action"
	AttrOperatorID    = "operator_id"
	AttrKickTime      = "kick_time"
	AttrUserName      = "user_name"
	AttrRole          = "role"
	AttrMicDisabled   = "mic_disabled"
)

// Permissions is the server-held grant record of one participant. Clients only
// ever observe it.
type Permissions struct {
	CanPublish        bool `json:"canPublish"`
	CanSubscribe      bool `json:"canSubscribe"`
	CanPublishData    bool `json:"canPublishData"`
	CanUpdateMetadata bool `json:"canUpdateMetadata"`
}

func DefaultPermissions() Permissions {
	return Permissions{
		CanSubscribe:      true,
		CanPublishData:    true,
		CanUpdateMetadata: true,
	}
}

type AttributesChangedFunc func(identity Identity, attributes map[string]string)

type PermissionsChangedFunc func(identity Identity, permissions Permissions)

// AttributeStore is the replicated per-participant key/value record.
// Subscriptions registered with an empty identity observe every participant.
type AttributeStore interface {
	LocalIdentity() Identity
	Identities() []Identity
	GetAttributes(identity Identity) (map[string]string, bool)
	// SetAttributes merges delta into the local participant's attributes. The
	// effect is observed later through OnAttributesChanged.
	SetAttributes(ctx context.Context, delta map[string]string) error
	OnAttributesChanged(identity Identity, fn AttributesChangedFunc) (unsubscribe func())
}

// PermissionLedger exposes read-only snapshots of the server grants.
type PermissionLedger interface {
	GetPermissions(identity Identity) (Permissions, bool)
	OnPermissionsChanged(identity Identity, fn PermissionsChangedFunc) (unsubscribe func())
}

// Room is the handle of one joined room as seen by the local participant.
type Room interface {
	AttributeStore
	PermissionLedger

	Name() RoomID
	Metadata() string
	OnMetadataChanged(fn func(metadata string)) (unsubscribe func())
}
