package reconcile

import (
	"context"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/romashorodok/conferencing-platform/internal/micstate"
	"github.com/romashorodok/conferencing-platform/pkg/protocol"
)

type State int

const (
	StateIdle State = iota
	StateRepairing
	StateSettling
	StateHalted
)

func (s State) String() string {
	switch s {
	case StateRepairing:
		return "repairing"
	case StateSettling:
		return "settling"
	case StateHalted:
		return "halted"
	}
	return "idle"
}

// Repairer issues the administrative re-approve of the local participant.
type Repairer interface {
	ApproveMic(ctx context.Context, roomID, target, operator string) error
}

// Post runs fn on the serialized state-update path.
type Post func(fn func()) bool

// Detect reports the only drift this loop repairs: declared on the mic while
// the ledger withholds publish. Granted-but-declared-off is left to the server.
func Detect(status micstate.Status, permissions protocol.Permissions) bool {
	return status == micstate.OnMic && !permissions.CanPublish
}

type Hooks struct {
	OnFault    func(snapshot micstate.Snapshot)
	OnRepaired func()
	OnHalted   func(err error)
	// OnPoll, when set, handles a poll tick in place of Check. It runs on the
	// post path and is expected to call Check itself.
	OnPoll func(ctx context.Context)
}

// Loop detects and repairs drift between the local participant's declared mic
// status and its publish grant. Check, and every continuation of a repair, runs
// through post, so Loop state is only touched from one goroutine.
type Loop struct {
	room     protocol.Room
	repairer Repairer
	post     Post
	clock    clock.Clock
	settle   time.Duration
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger
	hooks    Hooks

	state   State
	lastErr error
	repairs int
}

type NewLoopParams struct {
	Room     protocol.Room
	Repairer Repairer
	Post     Post
	Clock    clock.Clock
	// Settle is the wait between an acknowledged repair and the re-check.
	Settle time.Duration
	// Interval is the polling fallback for missed notifications.
	Interval time.Duration
	// Timeout bounds one repair call. Zero leaves it to the repairer.
	Timeout time.Duration
	Logger  *slog.Logger
	Hooks   Hooks
}

func NewLoop(params NewLoopParams) *Loop {
	c := params.Clock
	if c == nil {
		c = clock.New()
	}
	logger := params.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		room:     params.Room,
		repairer: params.Repairer,
		post:     params.Post,
		clock:    c,
		settle:   params.Settle,
		interval: params.Interval,
		timeout:  params.Timeout,
		logger:   logger,
		hooks:    params.Hooks,
	}
}

func (l *Loop) State() State {
	return l.state
}

func (l *Loop) LastError() error {
	return l.lastErr
}

// Repairs is the number of repair calls issued so far.
func (l *Loop) Repairs() int {
	return l.repairs
}

func (l *Loop) read() (micstate.Snapshot, protocol.Permissions, error) {
	identity := l.room.LocalIdentity()
	attributes, ok := l.room.GetAttributes(identity)
	if !ok {
		return micstate.Snapshot{}, protocol.Permissions{}, ErrNotJoined
	}
	permissions, _ := l.room.GetPermissions(identity)
	return micstate.FromAttributes(identity, attributes), permissions, nil
}

// Check re-reads the local state and starts a repair when a fresh fault is found.
func (l *Loop) Check(ctx context.Context) {
	snapshot, permissions, err := l.read()
	if err != nil {
		return
	}
	fault := Detect(snapshot.Status, permissions)

	switch l.state {
	case StateIdle:
		if fault {
			l.startRepair(ctx, snapshot)
		}
	case StateHalted:
		if !fault {
			l.logger.Info("mic state consistent again, auto repair re-armed", slog.String("identity", snapshot.Identity))
			l.state = StateIdle
			l.lastErr = nil
		}
	}
}

func (l *Loop) startRepair(ctx context.Context, snapshot micstate.Snapshot) {
	l.state = StateRepairing
	l.repairs++

	l.logger.Warn("declared on mic without publish grant, requesting re-approve",
		slog.String("room", l.room.Name()),
		slog.String("identity", snapshot.Identity),
		slog.Int("attempt", l.repairs),
	)
	if l.hooks.OnFault != nil {
		l.hooks.OnFault(snapshot)
	}

	roomID, identity := l.room.Name(), snapshot.Identity
	go func() {
		callCtx := ctx
		if l.timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, l.timeout)
			defer cancel()
		}

		err := l.repairer.ApproveMic(callCtx, roomID, identity, identity)
		l.post(func() { l.repaired(ctx, err) })
	}()
}

func (l *Loop) repaired(ctx context.Context, err error) {
	if err != nil {
		l.halt(err)
		return
	}

	l.state = StateSettling
	l.clock.AfterFunc(l.settle, func() {
		l.post(func() { l.settled(ctx) })
	})
}

func (l *Loop) settled(ctx context.Context) {
	if l.state != StateSettling {
		return
	}

	snapshot, permissions, err := l.read()
	if err != nil {
		l.halt(err)
		return
	}
	if Detect(snapshot.Status, permissions) {
		l.halt(ErrRepairIneffective)
		return
	}

	l.state = StateIdle
	if snapshot.Status != micstate.OnMic {
		l.logger.Info("left the mic while the repair settled", slog.String("identity", snapshot.Identity))
		return
	}
	l.logger.Info("publish grant restored", slog.String("identity", snapshot.Identity))
	if l.hooks.OnRepaired != nil {
		l.hooks.OnRepaired()
	}
}

func (l *Loop) halt(err error) {
	l.state = StateHalted
	l.lastErr = err
	l.logger.Error("mic repair failed, waiting for manual retry",
		slog.String("identity", l.room.LocalIdentity()),
		slog.String("err", err.Error()),
	)
	if l.hooks.OnHalted != nil {
		l.hooks.OnHalted(err)
	}
}

// Retry re-arms a halted loop and checks immediately.
func (l *Loop) Retry(ctx context.Context) error {
	if l.state != StateHalted {
		return ErrNotHalted
	}
	l.state = StateIdle
	l.lastErr = nil
	l.Check(ctx)
	return nil
}

func (l *Loop) poll(ctx context.Context) {
	if l.hooks.OnPoll != nil {
		l.hooks.OnPoll(ctx)
		return
	}
	l.Check(ctx)
}

// Run posts a poll on every interval until ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	if l.interval <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := l.clock.Ticker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if !l.post(func() { l.poll(ctx) }) {
				return nil
			}
		}
	}
}
