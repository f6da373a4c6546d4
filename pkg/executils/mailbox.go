package executils

import (
	"context"
	"errors"
)

var ErrMailboxClosed = errors.New("mailbox is not running")

// Mailbox runs posted functions one at a time on the goroutine that called Run.
// Everything posted to one Mailbox is serialized, so handlers may share state
// without locks.
type Mailbox struct {
	inbox chan func()
	done  chan struct{}
}

func NewMailbox(size int) *Mailbox {
	return &Mailbox{
		inbox: make(chan func(), size),
		done:  make(chan struct{}),
	}
}

// Post enqueues fn. It blocks while the inbox is full and returns false once the
// mailbox has stopped.
func (m *Mailbox) Post(fn func()) bool {
	select {
	case <-m.done:
		return false
	default:
	}

	select {
	case <-m.done:
		return false
	case m.inbox <- fn:
		return true
	}
}

// TryPost enqueues fn without blocking. Used from notification callbacks that
// must not stall the notifier.
func (m *Mailbox) TryPost(fn func()) bool {
	select {
	case <-m.done:
		return false
	default:
	}

	select {
	case m.inbox <- fn:
		return true
	default:
		return false
	}
}

// Call runs fn on the mailbox goroutine and waits for it to return.
func (m *Mailbox) Call(ctx context.Context, fn func() error) error {
	result := make(chan error, 1)
	if !m.Post(func() { result <- fn() }) {
		return ErrMailboxClosed
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-m.done:
		select {
		case err := <-result:
			return err
		default:
			return ErrMailboxClosed
		}
	case err := <-result:
		return err
	}
}

// Run processes posted functions until ctx is done. A Mailbox runs once.
func (m *Mailbox) Run(ctx context.Context) error {
	defer close(m.done)

	for {
		select {
		case <-ctx.Done():
			return nil
		case fn := <-m.inbox:
			fn()
		}
	}
}
