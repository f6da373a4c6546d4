package micstate

import "errors"

var (
	ErrRoleForbidden     = errors.New("role is not allowed to perform this action")
	ErrNotSelf           = errors.New("action may only be performed on the local participant")
	ErrSelfAdmin         = errors.New("action may only be performed on another participant")
	ErrDuplicateRequest  = errors.New("mic request already outstanding or granted")
	ErrIllegalTransition = errors.New("illegal mic state transition")
	ErrDisplayInvariant  = errors.New("participant on the mic roster must be visible")
	ErrUnknownAction     = errors.New("unknown mic action")
)
