package miccontrol

import "errors"

var (
	ErrNotJoined          = errors.New("local participant is not in the room")
	ErrInvalidMicSlots    = errors.New("mic slot count must be positive")
	ErrRepairNotAvailable = errors.New("no halted mic repair to retry")
)
