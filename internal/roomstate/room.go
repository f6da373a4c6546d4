package roomstate

import (
	"encoding/json"
	"log/slog"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/romashorodok/conferencing-platform/internal/micstate"
	"github.com/romashorodok/conferencing-platform/pkg/executils"
	"github.com/romashorodok/conferencing-platform/pkg/protocol"
)

type EventKind int

const (
	EventJoined EventKind = iota
	EventLeft
	EventAttributes
	EventPermissions
	EventMetadata
)

// Event is emitted after a mutation has been applied. Participant carries a
// copy of the participant state after the mutation.
type Event struct {
	Kind        EventKind
	Participant protocol.ParticipantState
	Metadata    string
}

type Listener func(Event)

type participant struct {
	identity    string
	name        string
	attributes  map[string]string
	permissions protocol.Permissions
	joinedAt    time.Time
}

func (p *participant) state() protocol.ParticipantState {
	return protocol.ParticipantState{
		Identity:    p.identity,
		Name:        p.name,
		Attributes:  maps.Clone(p.attributes),
		Permissions: p.permissions,
	}
}

// Room is the authoritative state of one room: participant attributes, the
// permission ledger and the room metadata. Listeners are called after each
// mutation, one event at a time, and must not mutate the room synchronously.
type Room struct {
	name   string
	logger *slog.Logger

	// emitMu orders mutations together with their events.
	emitMu sync.Mutex

	mu           sync.RWMutex
	metadata     string
	participants map[string]*participant

	listenersMu sync.Mutex
	listeners   map[string]Listener
}

// Listeners above this count are notified from a worker per CPU.
const listenerParallelThreshold = 64

type NewRoomParams struct {
	Name        string
	MaxMicSlots int
	Logger      *slog.Logger
}

func NewRoom(params NewRoomParams) *Room {
	logger := params.Logger
	if logger == nil {
		logger = slog.Default()
	}

	room := &Room{
		name:         params.Name,
		logger:       logger,
		participants: make(map[string]*participant),
		listeners:    make(map[string]Listener),
	}
	if params.MaxMicSlots > 0 {
		room.metadata = encodeMetadata(params.MaxMicSlots)
	}
	return room
}

func encodeMetadata(slots int) string {
	raw, _ := json.Marshal(&protocol.RoomMetadata{MaxMicSlots: slots})
	return string(raw)
}

func (r *Room) Name() string {
	return r.name
}

func (r *Room) Subscribe(fn Listener) (unsubscribe func()) {
	r.listenersMu.Lock()
	defer r.listenersMu.Unlock()

	id := uuid.NewString()
	r.listeners[id] = fn
	return func() {
		r.listenersMu.Lock()
		defer r.listenersMu.Unlock()
		delete(r.listeners, id)
	}
}

func (r *Room) getListeners() []Listener {
	r.listenersMu.Lock()
	defer r.listenersMu.Unlock()

	result := make([]Listener, 0, len(r.listeners))
	for _, listener := range r.listeners {
		result = append(result, listener)
	}
	return result
}

// emit must be called with emitMu held and mu released.
func (r *Room) emit(events ...Event) {
	listeners := r.getListeners()
	for _, event := range events {
		executils.ParallelExec(listeners, listenerParallelThreshold, 4, func(fn Listener) {
			fn(event)
		})
	}
}

// Join adds a participant with the initial off-mic attributes. Hosts and admins
// are granted publish at join, everybody else has to be approved.
func (r *Room) Join(identity, name string, role micstate.Role) (protocol.ParticipantState, error) {
	if identity == "" {
		return protocol.ParticipantState{}, ErrEmptyIdentity
	}
	if name == "" {
		name = identity
	}

	r.emitMu.Lock()
	defer r.emitMu.Unlock()

	r.mu.Lock()
	if _, exist := r.participants[identity]; exist {
		r.mu.Unlock()
		return protocol.ParticipantState{}, ErrParticipantExists
	}

	permissions := protocol.DefaultPermissions()
	permissions.CanPublish = role.Privileged()

	p := &participant{
		identity:    identity,
		name:        name,
		attributes:  micstate.InitialAttributes(name, role),
		permissions: permissions,
		joinedAt:    time.Now(),
	}
	r.participants[identity] = p
	state := p.state()
	r.mu.Unlock()

	r.logger.Info("participant joined",
		slog.String("room", r.name),
		slog.String("identity", identity),
		slog.String("role", role.String()),
	)
	r.emit(Event{Kind: EventJoined, Participant: state})
	return state, nil
}

func (r *Room) Leave(identity string) error {
	r.emitMu.Lock()
	defer r.emitMu.Unlock()

	r.mu.Lock()
	p, exist := r.participants[identity]
	if !exist {
		r.mu.Unlock()
		return ErrParticipantNotFound
	}
	delete(r.participants, identity)
	state := p.state()
	r.mu.Unlock()

	r.logger.Info("participant left", slog.String("room", r.name), slog.String("identity", identity))
	r.emit(Event{Kind: EventLeft, Participant: state})
	return nil
}

func (r *Room) Participant(identity string) (protocol.ParticipantState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, exist := r.participants[identity]
	if !exist {
		return protocol.ParticipantState{}, false
	}
	return p.state(), true
}

// Participants returns every participant ordered by join time.
func (r *Room) Participants() []protocol.ParticipantState {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ordered := make([]*participant, 0, len(r.participants))
	for _, p := range r.participants {
		ordered = append(ordered, p)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].joinedAt.Equal(ordered[j].joinedAt) {
			return ordered[i].identity < ordered[j].identity
		}
		return ordered[i].joinedAt.Before(ordered[j].joinedAt)
	})

	result := make([]protocol.ParticipantState, 0, len(ordered))
	for _, p := range ordered {
		result = append(result, p.state())
	}
	return result
}

func (r *Room) Metadata() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.metadata
}

func (r *Room) SetMetadata(metadata string) {
	r.emitMu.Lock()
	defer r.emitMu.Unlock()

	r.mu.Lock()
	r.metadata = metadata
	r.mu.Unlock()

	r.emit(Event{Kind: EventMetadata, Metadata: metadata})
}

// SetMaxMicSlots rewrites the slot count inside the room metadata, keeping any
// other metadata fields.
func (r *Room) SetMaxMicSlots(slots int) error {
	if slots <= 0 {
		return ErrInvalidMicSlotsCount
	}

	doc := map[string]any{}
	if current := r.Metadata(); current != "" {
		if err := json.Unmarshal([]byte(current), &doc); err != nil {
			r.logger.Warn("room metadata is not a json object, replacing it",
				slog.String("room", r.name),
				slog.String("metadata", current),
				slog.String("err", err.Error()),
			)
			doc = map[string]any{}
		}
	}
	doc["maxMicSlots"] = slots

	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	r.SetMetadata(string(raw))
	return nil
}

// Apply atomically merges an attribute delta and updates the permission grant of
// identity. Either argument may be nil. This is the administrative write path.
func (r *Room) Apply(identity string, delta map[string]string, grant func(*protocol.Permissions)) (protocol.ParticipantState, error) {
	r.emitMu.Lock()
	defer r.emitMu.Unlock()

	r.mu.Lock()
	p, exist := r.participants[identity]
	if !exist {
		r.mu.Unlock()
		return protocol.ParticipantState{}, ErrParticipantNotFound
	}

	attributesChanged := mergeAttributes(p.attributes, delta)

	permissionsChanged := false
	if grant != nil {
		before := p.permissions
		grant(&p.permissions)
		permissionsChanged = before != p.permissions
	}
	state := p.state()
	r.mu.Unlock()

	var events []Event
	if attributesChanged {
		events = append(events, Event{Kind: EventAttributes, Participant: state})
	}
	if permissionsChanged {
		events = append(events, Event{Kind: EventPermissions, Participant: state})
	}
	r.emit(events...)
	return state, nil
}

func mergeAttributes(attributes, delta map[string]string) bool {
	changed := false
	for key, value := range delta {
		if current, ok := attributes[key]; ok && current == value {
			continue
		}
		attributes[key] = value
		changed = true
	}
	return changed
}

var selfWritable = map[string]bool{
	protocol.AttrMicStatus:     true,
	protocol.AttrDisplayStatus: true,
	protocol.AttrRequestTime:   true,
	protocol.AttrLastAction:    true,
	protocol.AttrUserName:      true,
}

// SelfUpdate is the write path of a participant on its own attributes. Members
// may request the mic, anyone may leave it, nothing else. Leaving revokes the
// publish grant of members.
func (r *Room) SelfUpdate(identity string, delta map[string]string) (protocol.ParticipantState, error) {
	for key := range delta {
		if !selfWritable[key] {
			return protocol.ParticipantState{}, ErrForbiddenAttribute
		}
	}

	current, exist := r.Participant(identity)
	if !exist {
		return protocol.ParticipantState{}, ErrParticipantNotFound
	}
	role := micstate.ParseRole(current.Attributes[protocol.AttrRole])

	var grant func(*protocol.Permissions)
	if value, ok := delta[protocol.AttrMicStatus]; ok {
		switch micstate.ParseStatus(value) {
		case micstate.Requesting:
			if value != micstate.Requesting.String() {
				return protocol.ParticipantState{}, ErrForbiddenSelfStatus
			}
			if role != micstate.Member {
				return protocol.ParticipantState{}, ErrRoleCannotRequest
			}
		case micstate.OffMic:
			if value != micstate.OffMic.String() {
				return protocol.ParticipantState{}, ErrForbiddenSelfStatus
			}
			if !role.Privileged() {
				grant = func(p *protocol.Permissions) { p.CanPublish = false }
			}
		default:
			return protocol.ParticipantState{}, ErrForbiddenSelfStatus
		}
	}
	return r.Apply(identity, delta, grant)
}

// Snapshot is the full room state as replicated to identity on join.
func (r *Room) Snapshot(identity string) protocol.RoomSnapshot {
	return protocol.RoomSnapshot{
		Room:         r.name,
		Identity:     identity,
		Metadata:     r.Metadata(),
		Participants: r.Participants(),
	}
}
