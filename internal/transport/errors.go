package transport

import "errors"

var (
	ErrNotConnected     = errors.New("replica is not connected")
	ErrNoSnapshot       = errors.New("expected room snapshot as first message")
	ErrUnexpectedSchema = errors.New("unexpected replication message")
)
