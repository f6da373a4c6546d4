package reconcile

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/romashorodok/conferencing-platform/internal/micstate"
	"github.com/romashorodok/conferencing-platform/internal/roomstate"
	"github.com/romashorodok/conferencing-platform/pkg/executils"
	"github.com/romashorodok/conferencing-platform/pkg/protocol"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

type fakeRepairer struct {
	room  *roomstate.Room
	calls *atomic.Int64
	fix   bool
	err   error
}

func (r *fakeRepairer) ApproveMic(_ context.Context, roomID, target, operator string) error {
	r.calls.Inc()
	if r.err != nil {
		return r.err
	}
	if r.fix {
		_, err := r.room.Apply(target, nil, func(p *protocol.Permissions) { p.CanPublish = true })
		return err
	}
	return nil
}

type harness struct {
	room     *roomstate.Room
	loop     *Loop
	mailbox  *executils.Mailbox
	clock    *clock.Mock
	repairer *fakeRepairer
	halted   *atomic.Int64
	repaired *atomic.Int64
}

func newHarness(t *testing.T, repairer *fakeRepairer, declared micstate.Status, canPublish bool) *harness {
	t.Helper()
	return newHarnessWithPoll(t, repairer, declared, canPublish, nil)
}

func newHarnessWithPoll(t *testing.T, repairer *fakeRepairer, declared micstate.Status, canPublish bool, onPoll func(*Loop, context.Context)) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	room := roomstate.NewRoom(roomstate.NewRoomParams{Name: "room-1", MaxMicSlots: 2, Logger: logger})
	_, err := room.Join("member-1", "Alice", micstate.Member)
	require.NoError(t, err)
	_, err = room.Apply("member-1", map[string]string{protocol.AttrMicStatus: declared.String()}, func(p *protocol.Permissions) {
		p.CanPublish = canPublish
	})
	require.NoError(t, err)

	repairer.room = room
	repairer.calls = atomic.NewInt64(0)

	h := &harness{
		room:     room,
		mailbox:  executils.NewMailbox(16),
		clock:    clock.NewMock(),
		repairer: repairer,
		halted:   atomic.NewInt64(0),
		repaired: atomic.NewInt64(0),
	}
	h.loop = NewLoop(NewLoopParams{
		Room:     room.View("member-1"),
		Repairer: repairer,
		Post:     h.mailbox.Post,
		Clock:    h.clock,
		Settle:   time.Second,
		Interval: 5 * time.Second,
		Logger:   logger,
		Hooks: Hooks{
			OnHalted:   func(error) { h.halted.Inc() },
			OnRepaired: func() { h.repaired.Inc() },
		},
	})
	if onPoll != nil {
		h.loop.hooks.OnPoll = func(ctx context.Context) { onPoll(h.loop, ctx) }
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go h.mailbox.Run(ctx)
	go h.loop.Run(ctx)
	return h
}

func (h *harness) check(t *testing.T) {
	t.Helper()
	require.NoError(t, h.mailbox.Call(context.Background(), func() error {
		h.loop.Check(context.Background())
		return nil
	}))
}

func (h *harness) state(t *testing.T) State {
	t.Helper()
	var state State
	require.NoError(t, h.mailbox.Call(context.Background(), func() error {
		state = h.loop.State()
		return nil
	}))
	return state
}

func TestDetect(t *testing.T) {
	require.True(t, Detect(micstate.OnMic, protocol.Permissions{}))
	require.False(t, Detect(micstate.OnMic, protocol.Permissions{CanPublish: true}))
	require.False(t, Detect(micstate.Muted, protocol.Permissions{}))
	require.False(t, Detect(micstate.OffMic, protocol.Permissions{CanPublish: true}))
}

func TestConsistentStateIssuesNoRepair(t *testing.T) {
	h := newHarness(t, &fakeRepairer{fix: true}, micstate.OnMic, true)

	for i := 0; i < 5; i++ {
		h.check(t)
		h.clock.Add(5 * time.Second)
	}
	require.Zero(t, h.repairer.calls.Load())
	require.Equal(t, StateIdle, h.state(t))
}

func TestRepairRestoresGrant(t *testing.T) {
	h := newHarness(t, &fakeRepairer{fix: true}, micstate.OnMic, false)

	h.check(t)
	require.Eventually(t, func() bool { return h.state(t) == StateSettling }, time.Second, time.Millisecond)

	h.clock.Add(time.Second)
	require.Eventually(t, func() bool { return h.repaired.Load() == 1 }, time.Second, time.Millisecond)
	require.Equal(t, StateIdle, h.state(t))
	require.EqualValues(t, 1, h.repairer.calls.Load())
}

func TestIneffectiveRepairIssuesExactlyOneCall(t *testing.T) {
	h := newHarness(t, &fakeRepairer{fix: false}, micstate.OnMic, false)

	h.check(t)
	require.Eventually(t, func() bool { return h.state(t) == StateSettling }, time.Second, time.Millisecond)
	h.clock.Add(time.Second)
	require.Eventually(t, func() bool { return h.halted.Load() == 1 }, time.Second, time.Millisecond)

	// Polls and notifications keep coming; the halted loop stays quiet.
	for i := 0; i < 5; i++ {
		h.clock.Add(5 * time.Second)
		h.check(t)
	}
	require.EqualValues(t, 1, h.repairer.calls.Load())
	require.Equal(t, StateHalted, h.state(t))

	var lastErr error
	require.NoError(t, h.mailbox.Call(context.Background(), func() error {
		lastErr = h.loop.LastError()
		return nil
	}))
	require.ErrorIs(t, lastErr, ErrRepairIneffective)
}

func TestFailedRepairHaltsUntilRetry(t *testing.T) {
	h := newHarness(t, &fakeRepairer{err: errors.New("backend down")}, micstate.OnMic, false)

	h.check(t)
	require.Eventually(t, func() bool { return h.state(t) == StateHalted }, time.Second, time.Millisecond)
	h.check(t)
	require.EqualValues(t, 1, h.repairer.calls.Load())

	require.NoError(t, h.mailbox.Call(context.Background(), func() error {
		return h.loop.Retry(context.Background())
	}))
	require.Eventually(t, func() bool { return h.repairer.calls.Load() == 2 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return h.state(t) == StateHalted }, time.Second, time.Millisecond)
}

func TestRetryRequiresHalt(t *testing.T) {
	h := newHarness(t, &fakeRepairer{}, micstate.OffMic, false)
	require.ErrorIs(t, h.mailbox.Call(context.Background(), func() error {
		return h.loop.Retry(context.Background())
	}), ErrNotHalted)
}

func TestHaltClearsWhenStateConverges(t *testing.T) {
	h := newHarness(t, &fakeRepairer{err: errors.New("backend down")}, micstate.OnMic, false)

	h.check(t)
	require.Eventually(t, func() bool { return h.state(t) == StateHalted }, time.Second, time.Millisecond)

	// The host re-approves out of band.
	_, err := h.room.Apply("member-1", nil, func(p *protocol.Permissions) { p.CanPublish = true })
	require.NoError(t, err)
	h.check(t)
	require.Equal(t, StateIdle, h.state(t))
}

func TestPollingFallbackDetectsMissedNotification(t *testing.T) {
	h := newHarness(t, &fakeRepairer{fix: true}, micstate.OnMic, false)

	// Nobody calls Check directly: only the poll ticker can find the fault.
	require.Eventually(t, func() bool {
		h.clock.Add(5 * time.Second)
		return h.repairer.calls.Load() == 1
	}, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		h.clock.Add(time.Second)
		return h.repaired.Load() == 1
	}, time.Second, 5*time.Millisecond)
	require.EqualValues(t, 1, h.repairer.calls.Load())
}

func TestKickWhileSettlingIsNotReportedAsRepaired(t *testing.T) {
	h := newHarness(t, &fakeRepairer{fix: false}, micstate.OnMic, false)

	h.check(t)
	require.Eventually(t, func() bool { return h.state(t) == StateSettling }, time.Second, time.Millisecond)

	kick, err := micstate.Delta(micstate.ActionKick, "host-1", time.Now())
	require.NoError(t, err)
	_, err = h.room.Apply("member-1", kick, func(p *protocol.Permissions) { p.CanPublish = false })
	require.NoError(t, err)

	h.clock.Add(time.Second)
	require.Eventually(t, func() bool { return h.state(t) == StateIdle }, time.Second, time.Millisecond)
	require.Zero(t, h.repaired.Load())
	require.Zero(t, h.halted.Load())
	require.EqualValues(t, 1, h.repairer.calls.Load())
}

func TestPollHookReplacesCheck(t *testing.T) {
	polls := atomic.NewInt64(0)
	h := newHarnessWithPoll(t, &fakeRepairer{fix: true}, micstate.OnMic, false, func(l *Loop, ctx context.Context) {
		polls.Inc()
		l.Check(ctx)
	})

	require.Eventually(t, func() bool {
		h.clock.Add(5 * time.Second)
		return h.repairer.calls.Load() == 1
	}, time.Second, 5*time.Millisecond)
	require.Positive(t, polls.Load())
}
