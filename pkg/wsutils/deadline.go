package wsutils

import "time"

const closeWriteTimeout = time.Second

func deadlineNow() time.Time {
	return time.Now().Add(closeWriteTimeout)
}
