package roomstate

import "errors"

var (
	ErrParticipantExists    = errors.New("participant already joined")
	ErrParticipantNotFound  = errors.New("participant not found")
	ErrEmptyIdentity        = errors.New("identity is empty")
	ErrForbiddenAttribute   = errors.New("attribute is not self writable")
	ErrForbiddenSelfStatus  = errors.New("mic status is not self writable")
	ErrRoleCannotRequest    = errors.New("only members may request the mic")
	ErrInvalidMicSlotsCount = errors.New("max mic slots must be positive")
)
