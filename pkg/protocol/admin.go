package protocol

type AdminAction string

const (
	AdminActionApproveMic  AdminAction = "approve_mic"
	AdminActionKickFromMic AdminAction = "kick_from_mic"
	AdminActionMuteMic     AdminAction = "mute_mic"
	AdminActionUnmuteMic   AdminAction = "unmute_mic"
	// Disabling takes the participant off the mic and blocks further requests.
	AdminActionDisableMic AdminAction = "disable_mic"
	AdminActionEnableMic  AdminAction = "enable_mic"
)

func (a AdminAction) Valid() bool {
	switch a {
	case AdminActionApproveMic, AdminActionKickFromMic, AdminActionMuteMic, AdminActionUnmuteMic,
		AdminActionDisableMic, AdminActionEnableMic:
		return true
	}
	return false
}

const (
	AdminControlPath  = "/admin-control-participants"
	AdminSettingsPath = "/admin-room-settings"
	RoomInfoPath      = "/room-info"
	RoomListPath      = "/rooms"
	RoomJoinPath      = "/rooms/:room/join"
)

type AdminControlRequest struct {
	RoomName         string      `json:"room_name"`
	TargetIdentity   string      `json:"target_identity"`
	OperatorIdentity string      `json:"operator_identity"`
	Action           AdminAction `json:"action"`
}

type AdminSettingsRequest struct {
	RoomName         string `json:"room_name"`
	OperatorIdentity string `json:"operator_identity"`
	MaxMicSlots      int    `json:"max_mic_slots"`
}

type AdminResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type RoomInfo struct {
	MaxMicSlots int    `json:"max_mic_slots"`
	RoomName    string `json:"room_name"`
	RoomState   string `json:"room_state"`
}

type RoomInfoResponse struct {
	Success bool      `json:"success"`
	Error   string    `json:"error,omitempty"`
	Data    *RoomInfo `json:"data,omitempty"`
}

// RoomMetadata is the replicated room metadata document.
type RoomMetadata struct {
	MaxMicSlots int `json:"maxMicSlots,omitempty"`
}
