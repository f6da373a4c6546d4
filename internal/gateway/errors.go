package gateway

import (
	"errors"
	"fmt"
)

var (
	ErrAdminCallFailed = errors.New("admin call failed")
	ErrEmptyBaseURL    = errors.New("admin gateway base url is empty")
	ErrEmptyField      = errors.New("empty field")
)

// AdminCallError is returned for transport failures, non-2xx responses and
// responses with success=false. Reason carries the server message when there is one.
type AdminCallError struct {
	Operation string
	Status    int
	Reason    string
	Err       error
}

func (e *AdminCallError) Error() string {
	switch {
	case e.Reason != "":
		return fmt.Sprintf("%s %s: %s", ErrAdminCallFailed, e.Operation, e.Reason)
	case e.Err != nil:
		return fmt.Sprintf("%s %s: %s", ErrAdminCallFailed, e.Operation, e.Err)
	default:
		return fmt.Sprintf("%s %s: status %d", ErrAdminCallFailed, e.Operation, e.Status)
	}
}

func (e *AdminCallError) Unwrap() error {
	return e.Err
}

func (e *AdminCallError) Is(target error) bool {
	return target == ErrAdminCallFailed
}

// Message is the text surfaced to the operator.
func (e *AdminCallError) Message() string {
	if e.Reason != "" {
		return e.Reason
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("status %d", e.Status)
}
