package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/romashorodok/conferencing-platform/internal/micstate"
	"github.com/romashorodok/conferencing-platform/pkg/protocol"
	"github.com/romashorodok/conferencing-platform/pkg/wsutils"
	"go.uber.org/atomic"
)

type attributesListener struct {
	identity protocol.Identity
	fn       protocol.AttributesChangedFunc
}

type permissionsListener struct {
	identity protocol.Identity
	fn       protocol.PermissionsChangedFunc
}

// Replica is the local copy of a joined room, fed by the replication websocket.
// Writes go to the server and come back as events, so local state only ever
// changes when the server says so.
type Replica struct {
	room     protocol.RoomID
	identity protocol.Identity
	w        *wsutils.ThreadSafeWriter
	logger   *slog.Logger

	connected *atomic.Bool

	mu           sync.RWMutex
	metadata     string
	participants map[protocol.Identity]protocol.ParticipantState
	order        []protocol.Identity

	listenersMu          sync.Mutex
	attributesListeners  map[string]attributesListener
	permissionsListeners map[string]permissionsListener
	metadataListeners    map[string]func(string)
	rejectedListeners    map[string]func(string)
}

var _ protocol.Room = (*Replica)(nil)

type DialParams struct {
	// BaseURL is the http(s) or ws(s) address of the room backend.
	BaseURL  string
	Room     protocol.RoomID
	Identity protocol.Identity
	Name     string
	Role     micstate.Role
	Header   http.Header
	Dialer   *websocket.Dialer
	Logger   *slog.Logger
}

func joinURL(params DialParams) (string, error) {
	base, err := url.Parse(strings.TrimSuffix(params.BaseURL, "/"))
	if err != nil {
		return "", err
	}
	switch base.Scheme {
	case "http":
		base.Scheme = "ws"
	case "https":
		base.Scheme = "wss"
	}

	endpoint := base.JoinPath(strings.Replace(protocol.RoomJoinPath, ":room", url.PathEscape(params.Room), 1))
	endpoint.RawQuery = url.Values{
		"identity": []string{params.Identity},
		"name":     []string{params.Name},
		"role":     []string{params.Role.Attribute()},
	}.Encode()
	return endpoint.String(), nil
}

// Dial joins the room and waits for the initial snapshot.
func Dial(ctx context.Context, params DialParams) (*Replica, error) {
	if params.Identity == "" {
		params.Identity = uuid.NewString()
	}
	endpoint, err := joinURL(params)
	if err != nil {
		return nil, err
	}
	dialer := params.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	logger := params.Logger
	if logger == nil {
		logger = slog.Default()
	}

	conn, _, err := dialer.DialContext(ctx, endpoint, params.Header)
	if err != nil {
		return nil, err
	}
	w := wsutils.NewThreadSafeWriter(conn)

	message, err := w.ReadEvent()
	if err != nil {
		_ = w.Close()
		return nil, err
	}
	if message.Event != protocol.EventSnapshot {
		_ = w.Close()
		if message.Event == protocol.EventError {
			return nil, fmt.Errorf("%w: %s", ErrNoSnapshot, message.Data)
		}
		return nil, ErrNoSnapshot
	}

	var snapshot protocol.RoomSnapshot
	if err := json.Unmarshal(message.Data, &snapshot); err != nil {
		_ = w.Close()
		return nil, err
	}

	replica := &Replica{
		room:                 params.Room,
		identity:             snapshot.Identity,
		w:                    w,
		logger:               logger,
		connected:            atomic.NewBool(true),
		metadata:             snapshot.Metadata,
		participants:         make(map[protocol.Identity]protocol.ParticipantState),
		attributesListeners:  make(map[string]attributesListener),
		permissionsListeners: make(map[string]permissionsListener),
		metadataListeners:    make(map[string]func(string)),
		rejectedListeners:    make(map[string]func(string)),
	}
	for _, participant := range snapshot.Participants {
		replica.participants[participant.Identity] = participant
		replica.order = append(replica.order, participant.Identity)
	}

	logger.Info("room replica connected",
		slog.String("room", params.Room),
		slog.String("identity", replica.identity),
		slog.Int("participants", len(snapshot.Participants)),
	)
	return replica, nil
}

func (r *Replica) Name() protocol.RoomID {
	return r.room
}

func (r *Replica) LocalIdentity() protocol.Identity {
	return r.identity
}

func (r *Replica) Connected() bool {
	return r.connected.Load()
}

func (r *Replica) Identities() []protocol.Identity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.order)
}

func (r *Replica) GetAttributes(identity protocol.Identity) (map[string]string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	participant, exist := r.participants[identity]
	if !exist {
		return nil, false
	}
	return maps.Clone(participant.Attributes), true
}

func (r *Replica) GetPermissions(identity protocol.Identity) (protocol.Permissions, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	participant, exist := r.participants[identity]
	if !exist {
		return protocol.Permissions{}, false
	}
	return participant.Permissions, true
}

func (r *Replica) Metadata() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.metadata
}

// SetAttributes sends the delta to the server. It returns once the message is
// written; the result shows up as an attributes event.
func (r *Replica) SetAttributes(_ context.Context, delta map[string]string) error {
	if !r.connected.Load() {
		return ErrNotConnected
	}
	return r.w.WriteEvent(protocol.EventSetAttributes, &protocol.SetAttributesMessage{Attributes: delta})
}

func (r *Replica) OnAttributesChanged(identity protocol.Identity, fn protocol.AttributesChangedFunc) func() {
	r.listenersMu.Lock()
	defer r.listenersMu.Unlock()

	id := uuid.NewString()
	r.attributesListeners[id] = attributesListener{identity: identity, fn: fn}
	return func() {
		r.listenersMu.Lock()
		defer r.listenersMu.Unlock()
		delete(r.attributesListeners, id)
	}
}

func (r *Replica) OnPermissionsChanged(identity protocol.Identity, fn protocol.PermissionsChangedFunc) func() {
	r.listenersMu.Lock()
	defer r.listenersMu.Unlock()

	id := uuid.NewString()
	r.permissionsListeners[id] = permissionsListener{identity: identity, fn: fn}
	return func() {
		r.listenersMu.Lock()
		defer r.listenersMu.Unlock()
		delete(r.permissionsListeners, id)
	}
}

func (r *Replica) OnMetadataChanged(fn func(metadata string)) func() {
	r.listenersMu.Lock()
	defer r.listenersMu.Unlock()

	id := uuid.NewString()
	r.metadataListeners[id] = fn
	return func() {
		r.listenersMu.Lock()
		defer r.listenersMu.Unlock()
		delete(r.metadataListeners, id)
	}
}

// OnWriteRejected registers fn for attribute writes the server refused.
func (r *Replica) OnWriteRejected(fn func(message string)) func() {
	r.listenersMu.Lock()
	defer r.listenersMu.Unlock()

	id := uuid.NewString()
	r.rejectedListeners[id] = fn
	return func() {
		r.listenersMu.Lock()
		defer r.listenersMu.Unlock()
		delete(r.rejectedListeners, id)
	}
}

func (r *Replica) notifyAttributes(identity protocol.Identity, attributes map[string]string) {
	r.listenersMu.Lock()
	listeners := slices.Collect(maps.Values(r.attributesListeners))
	r.listenersMu.Unlock()

	for _, listener := range listeners {
		if listener.identity == "" || listener.identity == identity {
			listener.fn(identity, maps.Clone(attributes))
		}
	}
}

func (r *Replica) notifyPermissions(identity protocol.Identity, permissions protocol.Permissions) {
	r.listenersMu.Lock()
	listeners := slices.Collect(maps.Values(r.permissionsListeners))
	r.listenersMu.Unlock()

	for _, listener := range listeners {
		if listener.identity == "" || listener.identity == identity {
			listener.fn(identity, permissions)
		}
	}
}

func (r *Replica) notifyMetadata(metadata string) {
	r.listenersMu.Lock()
	listeners := slices.Collect(maps.Values(r.metadataListeners))
	r.listenersMu.Unlock()

	for _, fn := range listeners {
		fn(metadata)
	}
}

func (r *Replica) notifyRejected(message string) {
	r.listenersMu.Lock()
	listeners := slices.Collect(maps.Values(r.rejectedListeners))
	r.listenersMu.Unlock()

	for _, fn := range listeners {
		fn(message)
	}
}

// upsert stores state and reports what changed.
func (r *Replica) upsert(state protocol.ParticipantState) (attributesChanged, permissionsChanged bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, exist := r.participants[state.Identity]
	if !exist {
		r.order = append(r.order, state.Identity)
		r.participants[state.Identity] = state
		return true, true
	}

	r.participants[state.Identity] = state
	return !maps.Equal(current.Attributes, state.Attributes), current.Permissions != state.Permissions
}

func (r *Replica) remove(identity protocol.Identity) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exist := r.participants[identity]; !exist {
		return false
	}
	delete(r.participants, identity)
	r.order = slices.DeleteFunc(r.order, func(id protocol.Identity) bool { return id == identity })
	return true
}

func (r *Replica) apply(message *protocol.WebsocketMessage) error {
	switch message.Event {
	case protocol.EventParticipantJoined, protocol.EventAttributes, protocol.EventPermissions:
		var state protocol.ParticipantState
		if err := json.Unmarshal(message.Data, &state); err != nil {
			return err
		}
		attributesChanged, permissionsChanged := r.upsert(state)
		if attributesChanged {
			r.notifyAttributes(state.Identity, state.Attributes)
		}
		if permissionsChanged {
			r.notifyPermissions(state.Identity, state.Permissions)
		}

	case protocol.EventParticipantLeft:
		var state protocol.ParticipantState
		if err := json.Unmarshal(message.Data, &state); err != nil {
			return err
		}
		if r.remove(state.Identity) {
			r.notifyAttributes(state.Identity, nil)
		}

	case protocol.EventMetadata:
		var payload protocol.RoomMetadataMessage
		if err := json.Unmarshal(message.Data, &payload); err != nil {
			return err
		}
		r.mu.Lock()
		changed := r.metadata != payload.Metadata
		r.metadata = payload.Metadata
		r.mu.Unlock()
		if changed {
			r.notifyMetadata(payload.Metadata)
		}

	case protocol.EventSetAttributesError, protocol.EventError:
		var payload protocol.ErrorMessage
		if err := json.Unmarshal(message.Data, &payload); err != nil {
			return err
		}
		r.logger.Warn("server rejected message",
			slog.String("event", message.Event),
			slog.String("message", payload.Message),
		)
		if message.Event == protocol.EventSetAttributesError {
			r.notifyRejected(payload.Message)
		}

	default:
		return fmt.Errorf("%w: %s", ErrUnexpectedSchema, message.Event)
	}
	return nil
}

// Run applies replication events until the connection drops or ctx is done.
func (r *Replica) Run(ctx context.Context) error {
	defer r.connected.Store(false)

	stop := context.AfterFunc(ctx, func() {
		_ = r.w.Close()
	})
	defer stop()

	for {
		message, err := r.w.ReadEvent()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		if err := r.apply(message); err != nil {
			r.logger.Error("replication message dropped", slog.String("event", message.Event), slog.String("err", err.Error()))
		}
	}
}

func (r *Replica) Close() error {
	r.connected.Store(false)
	return r.w.Close()
}
