package protocol

import "encoding/json"

// Websocket events of the attribute replication channel.
const (
	EventSnapshot           = "snapshot"
	EventAttributes         = "attributes"
	EventPermissions        = "permissions"
	EventParticipantJoined  = "participant-joined"
	EventParticipantLeft    = "participant-left"
	EventMetadata           = "metadata"
	EventSetAttributes      = "set-attributes"
	EventSetAttributesError = "set-attributes-error"
	EventError              = "error"
)

type WebsocketMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type ParticipantState struct {
	Identity    string            `json:"identity"`
	Name        string            `json:"name"`
	Attributes  map[string]string `json:"attributes"`
	Permissions Permissions       `json:"permissions"`
}

type RoomSnapshot struct {
	Room         string             `json:"room"`
	Identity     string             `json:"identity"`
	Metadata     string             `json:"metadata"`
	Participants []ParticipantState `json:"participants"`
}

type SetAttributesMessage struct {
	Attributes map[string]string `json:"attributes"`
}

type RoomMetadataMessage struct {
	Metadata string `json:"metadata"`
}

type ErrorMessage struct {
	Message string `json:"message"`
}
