package room

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/romashorodok/conferencing-platform/internal/admission"
	"github.com/romashorodok/conferencing-platform/internal/micstate"
	"github.com/romashorodok/conferencing-platform/internal/roomstate"
	"github.com/romashorodok/conferencing-platform/pkg/protocol"
	"github.com/romashorodok/conferencing-platform/pkg/variables"
	"go.uber.org/fx"
)

type RoomCreateOption struct {
	RoomID      *string
	MaxMicSlots int
}

func NullableRoomID(roomID *string) string {
	if roomID != nil && *roomID != "" {
		return *roomID
	}
	return uuid.NewString()
}

// RoomService owns every live room and applies the administrative actions.
// Capacity is not enforced here; admission is decided by the clients.
type RoomService struct {
	sync.Mutex

	logger             *slog.Logger
	defaultMaxMicSlots int
	rooms              map[protocol.RoomID]*roomstate.Room
	now                func() time.Time
}

func (s *RoomService) GetRoom(roomID string) *roomstate.Room {
	s.Lock()
	defer s.Unlock()

	room, exist := s.rooms[roomID]
	if !exist {
		return nil
	}
	return room
}

func (s *RoomService) ListRoom() []protocol.RoomInfo {
	s.Lock()
	rooms := make([]*roomstate.Room, 0, len(s.rooms))
	for _, room := range s.rooms {
		rooms = append(rooms, room)
	}
	s.Unlock()

	result := make([]protocol.RoomInfo, 0, len(rooms))
	for _, room := range rooms {
		result = append(result, s.info(room))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].RoomName < result[j].RoomName })
	return result
}

func (s *RoomService) CreateRoom(option *RoomCreateOption) (*roomstate.Room, error) {
	s.Lock()
	defer s.Unlock()

	roomID := NullableRoomID(option.RoomID)
	if _, exist := s.rooms[roomID]; exist {
		return nil, ErrRoomAlreadyExists
	}

	slots := option.MaxMicSlots
	if slots <= 0 {
		slots = s.defaultMaxMicSlots
	}

	room := roomstate.NewRoom(roomstate.NewRoomParams{
		Name:        roomID,
		MaxMicSlots: slots,
		Logger:      s.logger,
	})
	s.rooms[roomID] = room

	s.logger.Info("room created", slog.String("room", roomID), slog.Int("max_mic_slots", slots))
	return room, nil
}

func (s *RoomService) info(room *roomstate.Room) protocol.RoomInfo {
	info := protocol.RoomInfo{
		RoomName:    room.Name(),
		MaxMicSlots: s.defaultMaxMicSlots,
		RoomState:   "empty",
	}
	if slots, err := admission.ParseMetadata(room.Metadata()); err == nil {
		info.MaxMicSlots = slots
	}
	if len(room.Participants()) > 0 {
		info.RoomState = "active"
	}
	return info
}

func (s *RoomService) Info(roomID string) (protocol.RoomInfo, error) {
	room := s.GetRoom(roomID)
	if room == nil {
		return protocol.RoomInfo{}, ErrRoomNotExist
	}
	return s.info(room), nil
}

// Control applies one admin action. Operators must be hosts or admins, with one
// exception: a participant already on the mic may re-approve itself, which
// restores a publish grant that went missing.
func (s *RoomService) Control(req protocol.AdminControlRequest) error {
	if req.RoomName == "" || req.TargetIdentity == "" || req.OperatorIdentity == "" {
		return ErrEmptyField
	}
	if !req.Action.Valid() {
		return fmt.Errorf("%w: %s", ErrUnknownAction, req.Action)
	}

	room := s.GetRoom(req.RoomName)
	if room == nil {
		return ErrRoomNotExist
	}

	operatorState, exist := room.Participant(req.OperatorIdentity)
	if !exist {
		return ErrOperatorNotFound
	}
	targetState, exist := room.Participant(req.TargetIdentity)
	if !exist {
		return roomstate.ErrParticipantNotFound
	}

	operator := micstate.FromAttributes(operatorState.Identity, operatorState.Attributes)
	target := micstate.FromAttributes(targetState.Identity, targetState.Attributes)

	selfRepair := req.Action == protocol.AdminActionApproveMic &&
		operator.Identity == target.Identity &&
		target.Status == micstate.OnMic
	if !operator.Role.Privileged() && !selfRepair {
		return fmt.Errorf("%w: %s", ErrOperatorForbidden, operator.Role)
	}

	delta, grant, err := s.plan(req.Action, operator.Identity, target)
	if err != nil {
		return err
	}
	if _, err := room.Apply(target.Identity, delta, grant); err != nil {
		return err
	}

	s.logger.Info("admin action applied",
		slog.String("room", req.RoomName),
		slog.String("action", string(req.Action)),
		slog.String("target", req.TargetIdentity),
		slog.String("operator", req.OperatorIdentity),
	)
	return nil
}

var adminActions = map[protocol.AdminAction]micstate.Action{
	protocol.AdminActionApproveMic:  micstate.ActionApprove,
	protocol.AdminActionKickFromMic: micstate.ActionKick,
	protocol.AdminActionMuteMic:     micstate.ActionMute,
	protocol.AdminActionUnmuteMic:   micstate.ActionUnmute,
	protocol.AdminActionDisableMic:  micstate.ActionKick,
}

// plan builds the attribute delta and the grant change of one action. Only
// members are put on the mic. Hosts and admins publish by role: they keep their
// grant through every action, kick and disable included.
func (s *RoomService) plan(action protocol.AdminAction, operator string, target micstate.Snapshot) (map[string]string, func(*protocol.Permissions), error) {
	if action == protocol.AdminActionEnableMic {
		return map[string]string{
			protocol.AttrMicDisabled: strconv.FormatBool(false),
			protocol.AttrOperatorID:  operator,
		}, nil, nil
	}

	transition := adminActions[action]
	if transition == micstate.ActionApprove && target.Disabled {
		return nil, nil, ErrTargetDisabled
	}
	if transition == micstate.ActionApprove && target.Role != micstate.Member {
		return nil, nil, fmt.Errorf("%w: %s", ErrTargetRole, target.Role)
	}
	if transition == micstate.ActionApprove && operator == target.Identity {
		transition = micstate.ActionRepair
	}

	to, err := micstate.Transition(target.Status, transition)
	if err != nil {
		return nil, nil, err
	}
	delta, err := micstate.Delta(transition, operator, s.now())
	if err != nil {
		return nil, nil, err
	}
	if action == protocol.AdminActionDisableMic {
		delta[protocol.AttrMicDisabled] = strconv.FormatBool(true)
	}

	var grant func(*protocol.Permissions)
	if !target.Role.Privileged() {
		canPublish := to.GrantsPublish()
		grant = func(p *protocol.Permissions) { p.CanPublish = canPublish }
	}
	return delta, grant, nil
}

// UpdateSettings rewrites the mic slot count of a room. Hosts and admins only.
func (s *RoomService) UpdateSettings(req protocol.AdminSettingsRequest) error {
	if req.RoomName == "" || req.OperatorIdentity == "" {
		return ErrEmptyField
	}
	room := s.GetRoom(req.RoomName)
	if room == nil {
		return ErrRoomNotExist
	}

	operatorState, exist := room.Participant(req.OperatorIdentity)
	if !exist {
		return ErrOperatorNotFound
	}
	role := micstate.ParseRole(operatorState.Attributes[protocol.AttrRole])
	if !role.Privileged() {
		return fmt.Errorf("%w: %s", ErrOperatorForbidden, role)
	}

	if err := room.SetMaxMicSlots(req.MaxMicSlots); err != nil {
		return err
	}
	s.logger.Info("room mic slots updated",
		slog.String("room", req.RoomName),
		slog.Int("max_mic_slots", req.MaxMicSlots),
		slog.String("operator", req.OperatorIdentity),
	)
	return nil
}

// clientError reports whether err is caused by the request rather than the server.
func clientError(err error) bool {
	for _, target := range []error{
		ErrEmptyField,
		ErrUnknownAction,
		roomstate.ErrInvalidMicSlotsCount,
		micstate.ErrIllegalTransition,
		micstate.ErrDuplicateRequest,
		ErrTargetDisabled,
		ErrTargetRole,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

type NewRoomServiceParams struct {
	fx.In

	Logger *slog.Logger
}

func NewRoomService(params NewRoomServiceParams) (*RoomService, error) {
	slots, err := variables.ParseInt(variables.Env(variables.DEFAULT_MAX_MIC_SLOTS_NAME, variables.DEFAULT_MAX_MIC_SLOTS_DEFAULT))
	if err != nil {
		return nil, err
	}
	if slots <= 0 {
		return nil, roomstate.ErrInvalidMicSlotsCount
	}

	return &RoomService{
		logger:             params.Logger,
		defaultMaxMicSlots: slots,
		rooms:              make(map[protocol.RoomID]*roomstate.Room),
		now:                time.Now,
	}, nil
}
