package reconcile

import "errors"

var (
	ErrRepairIneffective = errors.New("publish grant still missing after repair")
	ErrNotHalted         = errors.New("reconciliation is not halted")
	ErrNotJoined         = errors.New("local participant is not in the room")
)
