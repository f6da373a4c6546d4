package admission

import (
	"errors"
	"fmt"
)

var (
	ErrRejected        = errors.New("admission rejected")
	ErrInvalidMetadata = errors.New("room metadata carries no mic slot count")
)

// Rejection is a policy rejection. It is handled on the client and never sent to
// the backend.
type Rejection struct {
	Decision Decision
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("%s: %s", ErrRejected, r.Decision.Reason)
}

func (r *Rejection) Is(target error) bool {
	return target == ErrRejected
}

// ReasonOf extracts the rejection reason of err, if any.
func ReasonOf(err error) (Reason, bool) {
	var rejection *Rejection
	if errors.As(err, &rejection) {
		return rejection.Decision.Reason, true
	}
	return ReasonNone, false
}
