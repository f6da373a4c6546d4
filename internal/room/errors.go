package room

import "errors"

var (
	ErrRoomAlreadyExists = errors.New("room already exists")
	ErrRoomNotExist      = errors.New("room not exist")
	ErrRoomIDIsEmpty     = errors.New("room id is empty")
	ErrRoomCancelByUser  = errors.New("room canceled by user")
	ErrEmptyField        = errors.New("empty field")
	ErrUnknownAction     = errors.New("unknown admin action")
	ErrOperatorNotFound  = errors.New("operator is not in the room")
	ErrOperatorForbidden = errors.New("operator is not allowed to manage the mic")
	ErrTargetDisabled    = errors.New("participant is not allowed on the mic")
	ErrTargetRole        = errors.New("only members can be put on the mic")
	ErrUnauthorized      = errors.New("invalid admin token")
)
