package miccontrol

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/romashorodok/conferencing-platform/internal/admission"
	"github.com/romashorodok/conferencing-platform/internal/gateway"
	"github.com/romashorodok/conferencing-platform/internal/media"
	"github.com/romashorodok/conferencing-platform/internal/micstate"
	"github.com/romashorodok/conferencing-platform/internal/reconcile"
	"github.com/romashorodok/conferencing-platform/internal/transport"
	"github.com/romashorodok/conferencing-platform/pkg/executils"
	"github.com/romashorodok/conferencing-platform/pkg/protocol"
	"golang.org/x/sync/errgroup"
)

// Gateway is the administrative backend as used by the engine.
type Gateway interface {
	reconcile.Repairer
	admission.RoomInfoFetcher
	KickFromMic(ctx context.Context, roomID, target, operator string) error
	MuteMic(ctx context.Context, roomID, target, operator string) error
	UnmuteMic(ctx context.Context, roomID, target, operator string) error
	SetMicDisabled(ctx context.Context, roomID, target, operator string, disabled bool) error
	UpdateMaxMicSlots(ctx context.Context, roomID, operator string, slots int) error
}

var _ Gateway = (*gateway.Client)(nil)

// WriteRejections is implemented by rooms that learn about refused attribute
// writes after SetAttributes has returned.
type WriteRejections interface {
	OnWriteRejected(fn func(message string)) func()
}

var _ WriteRejections = (*transport.Replica)(nil)

const (
	DefaultPollInterval     = 5 * time.Second
	DefaultSettleDelay      = 1500 * time.Millisecond
	DefaultRoomInfoInterval = 10 * time.Second
	DefaultRequestTimeout   = 5 * time.Second

	mailboxSize = 64
	noticesSize = 32
)

// Engine drives the mic state of the local participant. Notifications, poll
// ticks, repair continuations and user commands are all handled on the single
// mailbox goroutine, and every handler re-reads the room before deciding.
// Admin actions only read the room, so they run on the caller's goroutine.
type Engine struct {
	room      protocol.Room
	gateway   Gateway
	publisher media.Publisher
	tracker   *admission.Tracker
	loop      *reconcile.Loop
	mailbox   *executils.Mailbox
	clock     clock.Clock
	logger    *slog.Logger
	notices   chan Notice

	requestTimeout time.Duration

	// Mailbox goroutine only.
	pendingUntil time.Time
	lastStatus   micstate.Status
	observed     bool
}

type NewEngineParams struct {
	Room      protocol.Room
	Gateway   Gateway
	Publisher media.Publisher
	Clock     clock.Clock
	Logger    *slog.Logger

	PollInterval       time.Duration
	SettleDelay        time.Duration
	RoomInfoInterval   time.Duration
	RepairTimeout      time.Duration
	RequestTimeout     time.Duration
	DefaultMaxMicSlots int
}

func NewEngine(params NewEngineParams) *Engine {
	c := params.Clock
	if c == nil {
		c = clock.New()
	}
	logger := params.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(
		slog.String("room", params.Room.Name()),
		slog.String("identity", params.Room.LocalIdentity()),
	)
	publisher := params.Publisher
	if publisher == nil {
		publisher = &media.NopPublisher{}
	}
	requestTimeout := params.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = DefaultRequestTimeout
	}

	engine := &Engine{
		room:           params.Room,
		gateway:        params.Gateway,
		publisher:      publisher,
		mailbox:        executils.NewMailbox(mailboxSize),
		clock:          c,
		logger:         logger,
		notices:        make(chan Notice, noticesSize),
		requestTimeout: requestTimeout,
	}

	engine.tracker = admission.NewTracker(admission.NewTrackerParams{
		Room:     params.Room,
		Fetcher:  params.Gateway,
		Clock:    c,
		Interval: params.RoomInfoInterval,
		Fallback: params.DefaultMaxMicSlots,
		Logger:   logger,
	})

	engine.loop = reconcile.NewLoop(reconcile.NewLoopParams{
		Room:     params.Room,
		Repairer: params.Gateway,
		Post:     engine.mailbox.Post,
		Clock:    c,
		Settle:   params.SettleDelay,
		Interval: params.PollInterval,
		Timeout:  params.RepairTimeout,
		Logger:   logger,
		Hooks: reconcile.Hooks{
			OnFault: func(micstate.Snapshot) {
				engine.info(CodeRepairing, "麦克风权限异常，正在自动修复")
			},
			OnRepaired: func() {
				engine.info(CodeRepaired, "麦克风权限已恢复")
				engine.syncPublisher()
			},
			OnHalted: func(err error) {
				engine.fail(CodeRepairFailed, fmt.Sprintf("麦克风权限修复失败，请手动重试: %s", errorMessage(err)))
			},
			OnPoll: engine.localChanged,
		},
	})
	return engine
}

// Run serves the engine until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	local := e.room.LocalIdentity()

	onChange := func() {
		e.mailbox.TryPost(func() { e.localChanged(ctx) })
	}
	unsubscribeAttributes := e.room.OnAttributesChanged(local, func(protocol.Identity, map[string]string) {
		onChange()
	})
	defer unsubscribeAttributes()
	unsubscribePermissions := e.room.OnPermissionsChanged(local, func(protocol.Identity, protocol.Permissions) {
		onChange()
	})
	defer unsubscribePermissions()
	if rejections, ok := e.room.(WriteRejections); ok {
		unsubscribeRejections := rejections.OnWriteRejected(func(message string) {
			e.mailbox.TryPost(func() { e.writeRejected(message) })
		})
		defer unsubscribeRejections()
	}

	wg, ctx := errgroup.WithContext(ctx)
	// Queued first so it runs before any command.
	e.mailbox.Post(func() { e.localChanged(ctx) })
	wg.Go(func() error {
		return e.mailbox.Run(ctx)
	})
	wg.Go(func() error {
		return e.loop.Run(ctx)
	})
	wg.Go(func() error {
		return e.tracker.Run(ctx)
	})

	err := wg.Wait()
	if closeErr := e.publisher.Close(); closeErr != nil {
		err = errors.Join(err, closeErr)
	}
	return err
}

// Notices delivers user-facing notices. Unread notices are dropped.
func (e *Engine) Notices() <-chan Notice {
	return e.notices
}

func (e *Engine) Policy() admission.Policy {
	return e.tracker.Policy()
}

// RepairState reports the reconciliation state and its last error.
func (e *Engine) RepairState(ctx context.Context) (reconcile.State, error) {
	var (
		state   reconcile.State
		lastErr error
	)
	err := e.mailbox.Call(ctx, func() error {
		state, lastErr = e.loop.State(), e.loop.LastError()
		return nil
	})
	if err != nil {
		return state, err
	}
	return state, lastErr
}

func (e *Engine) self() (micstate.Snapshot, protocol.Permissions, error) {
	identity := e.room.LocalIdentity()
	attributes, ok := e.room.GetAttributes(identity)
	if !ok {
		return micstate.Snapshot{}, protocol.Permissions{}, ErrNotJoined
	}
	permissions, _ := e.room.GetPermissions(identity)
	return micstate.FromAttributes(identity, attributes), permissions, nil
}

func (e *Engine) roster() admission.Roster {
	identities := e.room.Identities()
	roster := make(admission.Roster, 0, len(identities))
	for _, identity := range identities {
		attributes, ok := e.room.GetAttributes(identity)
		if !ok {
			continue
		}
		roster = append(roster, micstate.FromAttributes(identity, attributes))
	}
	return roster
}

// Roster lists the participants shown on the mic panel: on the mic first, then
// muted, then the request queue in request order.
func (e *Engine) Roster() []micstate.Snapshot {
	var visible []micstate.Snapshot
	for _, p := range e.roster() {
		if p.Status != micstate.OffMic {
			visible = append(visible, p)
		}
	}

	rank := map[micstate.Status]int{micstate.OnMic: 0, micstate.Muted: 1, micstate.Requesting: 2}
	sort.SliceStable(visible, func(i, j int) bool {
		if rank[visible[i].Status] != rank[visible[j].Status] {
			return rank[visible[i].Status] < rank[visible[j].Status]
		}
		return visible[i].RequestTime.Before(visible[j].RequestTime)
	})
	return visible
}

// RequestMic asks for a mic slot. A repeated request while one is outstanding is
// a no-op, and a rejected one never reaches the room.
func (e *Engine) RequestMic(ctx context.Context) error {
	return e.mailbox.Call(ctx, func() error {
		return e.requestMic(ctx)
	})
}

func (e *Engine) requestMic(ctx context.Context) error {
	self, _, err := e.self()
	if err != nil {
		return err
	}

	if err := micstate.Authorize(micstate.ActionRequest, self.Role, true); err != nil {
		e.logger.Info("mic request rejected", slog.String("role", self.Role.String()))
		e.info(CodeForbidden, "当前身份无法申请上麦")
		return err
	}

	if self.Status != micstate.OffMic || e.clock.Now().Before(e.pendingUntil) {
		e.info(string(admission.ReasonDuplicate), admission.Decision{Reason: admission.ReasonDuplicate}.Message())
		return nil
	}

	decision := admission.CanAdmit(self, e.tracker.Policy(), e.roster())
	if !decision.Allow {
		e.logger.Info("mic request rejected",
			slog.String("reason", string(decision.Reason)),
			slog.Int("occupancy", decision.Occupancy),
			slog.Int("max_mic_slots", decision.MaxMicSlots),
		)
		e.info(string(decision.Reason), decision.Message())
		return decision.Err()
	}

	now := e.clock.Now()
	delta, err := micstate.Delta(micstate.ActionRequest, "", now)
	if err != nil {
		return err
	}
	if err := e.room.SetAttributes(ctx, delta); err != nil {
		e.logger.Warn("mic request write failed", slog.String("err", err.Error()))
		e.fail(CodeWriteFailed, fmt.Sprintf("申请上麦失败: %s", err))
		return err
	}

	e.pendingUntil = now.Add(e.requestTimeout)
	e.info(CodeRequested, "已申请上麦，等待主持人同意")
	return nil
}

// LeaveMic gives the slot back. Local publishing stops right away.
func (e *Engine) LeaveMic(ctx context.Context) error {
	return e.mailbox.Call(ctx, func() error {
		return e.leaveMic(ctx)
	})
}

func (e *Engine) leaveMic(ctx context.Context) error {
	self, _, err := e.self()
	if err != nil {
		return err
	}
	if err := micstate.Authorize(micstate.ActionLeave, self.Role, true); err != nil {
		return err
	}
	if _, err := micstate.Transition(self.Status, micstate.ActionLeave); err != nil {
		return err
	}

	delta, err := micstate.Delta(micstate.ActionLeave, "", e.clock.Now())
	if err != nil {
		return err
	}
	if err := e.room.SetAttributes(ctx, delta); err != nil {
		e.logger.Warn("mic leave write failed", slog.String("err", err.Error()))
		e.fail(CodeWriteFailed, fmt.Sprintf("下麦失败: %s", err))
		return err
	}

	if !self.Role.Privileged() {
		e.setPublishing(false)
	}
	e.info(CodeLeft, "已下麦")
	return nil
}

// Approve puts target on the mic. Approving somebody already on the mic is
// accepted and sent again.
func (e *Engine) Approve(ctx context.Context, target string) error {
	return e.admin(ctx, micstate.ActionApprove, target)
}

func (e *Engine) Kick(ctx context.Context, target string) error {
	return e.admin(ctx, micstate.ActionKick, target)
}

func (e *Engine) Mute(ctx context.Context, target string) error {
	return e.admin(ctx, micstate.ActionMute, target)
}

func (e *Engine) Unmute(ctx context.Context, target string) error {
	return e.admin(ctx, micstate.ActionUnmute, target)
}

// admin checks the action against the local view and sends it to the backend.
// It never writes the room; the outcome arrives through replication.
func (e *Engine) admin(ctx context.Context, action micstate.Action, target string) error {
	self, _, err := e.self()
	if err != nil {
		return err
	}
	if err := micstate.Authorize(action, self.Role, target == self.Identity); err != nil {
		e.logger.Info("admin action rejected",
			slog.String("action", action.String()),
			slog.String("target", target),
			slog.String("err", err.Error()),
		)
		e.info(CodeForbidden, "只有主持人可以管理麦位")
		return err
	}

	roster := e.roster()
	if action == micstate.ActionApprove {
		decision := admission.CanApprove(target, e.tracker.Policy(), roster)
		if !decision.Allow {
			e.info(string(decision.Reason), decision.Message())
			return decision.Err()
		}
	} else {
		participant, found := roster.Find(target)
		if !found {
			decision := admission.Decision{Reason: admission.ReasonNotPresent}
			e.info(string(decision.Reason), decision.Message())
			return decision.Err()
		}
		if _, err := micstate.Transition(participant.Status, action); err != nil {
			return err
		}
	}

	call := map[micstate.Action]func(context.Context, string, string, string) error{
		micstate.ActionApprove: e.gateway.ApproveMic,
		micstate.ActionKick:    e.gateway.KickFromMic,
		micstate.ActionMute:    e.gateway.MuteMic,
		micstate.ActionUnmute:  e.gateway.UnmuteMic,
	}[action]

	if err := call(ctx, e.room.Name(), target, self.Identity); err != nil {
		e.logger.Warn("admin action failed",
			slog.String("action", action.String()),
			slog.String("target", target),
			slog.String("err", err.Error()),
		)
		e.fail(CodeAdminFailed, fmt.Sprintf("操作失败: %s", errorMessage(err)))
		return err
	}

	e.logger.Info("admin action applied", slog.String("action", action.String()), slog.String("target", target))
	e.info(CodeAdminDone, fmt.Sprintf("已对 %s 执行 %s", target, action))
	return nil
}

// SetMicDisabled blocks target from requesting the mic, taking it off the mic
// first, or lifts the block.
func (e *Engine) SetMicDisabled(ctx context.Context, target string, disabled bool) error {
	self, _, err := e.self()
	if err != nil {
		return err
	}
	if err := micstate.Authorize(micstate.ActionKick, self.Role, target == self.Identity); err != nil {
		e.info(CodeForbidden, "只有主持人可以管理麦位")
		return err
	}
	if _, found := e.roster().Find(target); !found {
		decision := admission.Decision{Reason: admission.ReasonNotPresent}
		e.info(string(decision.Reason), decision.Message())
		return decision.Err()
	}

	if err := e.gateway.SetMicDisabled(ctx, e.room.Name(), target, self.Identity, disabled); err != nil {
		e.fail(CodeAdminFailed, fmt.Sprintf("操作失败: %s", errorMessage(err)))
		return err
	}
	e.logger.Info("mic disabled changed", slog.String("target", target), slog.Bool("disabled", disabled))
	return nil
}

// UpdateMaxMicSlots changes the slot count of the room. Hosts and admins only.
func (e *Engine) UpdateMaxMicSlots(ctx context.Context, slots int) error {
	self, _, err := e.self()
	if err != nil {
		return err
	}
	if !self.Role.Privileged() {
		e.info(CodeForbidden, "只有主持人可以修改麦位数量")
		return fmt.Errorf("%w: %s cannot change mic slots", micstate.ErrRoleForbidden, self.Role)
	}
	if slots <= 0 {
		return ErrInvalidMicSlots
	}

	if err := e.gateway.UpdateMaxMicSlots(ctx, e.room.Name(), self.Identity, slots); err != nil {
		e.fail(CodeSettingsFailed, fmt.Sprintf("修改麦位数量失败: %s", errorMessage(err)))
		return err
	}
	return nil
}

// RetryRepair re-arms a halted reconciliation.
func (e *Engine) RetryRepair(ctx context.Context) error {
	return e.mailbox.Call(ctx, func() error {
		if err := e.loop.Retry(ctx); err != nil {
			if errors.Is(err, reconcile.ErrNotHalted) {
				return errors.Join(ErrRepairNotAvailable, err)
			}
			return err
		}
		return nil
	})
}

func (e *Engine) localChanged(ctx context.Context) {
	self, _, err := e.self()
	if err != nil {
		return
	}

	if self.Status != micstate.OffMic {
		e.pendingUntil = time.Time{}
	}
	if e.observed && self.Status != e.lastStatus {
		e.announce(self)
	}
	e.lastStatus, e.observed = self.Status, true

	e.loop.Check(ctx)
	e.syncPublisher()
}

// writeRejected handles a self write the server refused after accepting it for
// delivery. The pending request window no longer applies.
func (e *Engine) writeRejected(message string) {
	e.pendingUntil = time.Time{}
	e.logger.Warn("attribute write rejected", slog.String("message", message))
	e.fail(CodeWriteFailed, fmt.Sprintf("操作被拒绝: %s", message))
}

func (e *Engine) announce(self micstate.Snapshot) {
	switch {
	case self.Status == micstate.OnMic && e.lastStatus == micstate.Muted:
		e.info(CodeUnmuted, "主持人已解除您的静音")
	case self.Status == micstate.OnMic:
		e.info(CodeApproved, "主持人已同意您上麦")
	case self.Status == micstate.Muted:
		e.info(CodeMuted, "您已被主持人静音")
	case self.Status == micstate.OffMic && self.LastAction == micstate.ActionKick.LastAction():
		e.info(CodeKicked, "您已被主持人请下麦")
	}
}

// syncPublisher publishes iff the grant is held and the participant is on the
// mic. Hosts and admins publish whenever granted.
func (e *Engine) syncPublisher() {
	self, permissions, err := e.self()
	if err != nil {
		e.setPublishing(false)
		return
	}
	enabled := permissions.CanPublish && (self.Status.GrantsPublish() || self.Role.Privileged())
	e.setPublishing(enabled)
}

func (e *Engine) setPublishing(enabled bool) {
	if e.publisher.Enabled() == enabled {
		return
	}
	if err := e.publisher.SetEnabled(enabled); err != nil {
		e.logger.Warn("local publish toggle failed", slog.Bool("enabled", enabled), slog.String("err", err.Error()))
	}
}

func errorMessage(err error) string {
	var callErr *gateway.AdminCallError
	if errors.As(err, &callErr) {
		return callErr.Message()
	}
	return err.Error()
}
