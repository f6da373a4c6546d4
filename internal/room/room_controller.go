package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	echo "github.com/labstack/echo/v4"
	"github.com/romashorodok/conferencing-platform/internal/micstate"
	"github.com/romashorodok/conferencing-platform/internal/roomstate"
	"github.com/romashorodok/conferencing-platform/pkg/protocol"
	"github.com/romashorodok/conferencing-platform/pkg/variables"
	"github.com/romashorodok/conferencing-platform/pkg/wsutils"
	"go.uber.org/fx"
)

// Events queued per connection before it is treated as too slow and dropped.
const connectionEventBuffer = 256

var ErrSlowConsumer = errors.New("websocket consumer is too slow")

type roomController struct {
	roomService *RoomService
	upgrader    websocket.Upgrader
	adminToken  string
	logger      *slog.Logger
}

func (ctrl *roomController) wsError(w *wsutils.ThreadSafeWriter, err error) error {
	ctrl.logger.Error(fmt.Sprintf("%s | Err: %s", w.Conn.RemoteAddr(), err))
	_ = w.WriteEvent(protocol.EventError, &protocol.ErrorMessage{Message: err.Error()})
	return err
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, ErrRoomNotExist), errors.Is(err, roomstate.ErrParticipantNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrOperatorNotFound), errors.Is(err, ErrOperatorForbidden):
		return http.StatusForbidden
	case errors.Is(err, micstate.ErrIllegalTransition), errors.Is(err, ErrTargetDisabled),
		errors.Is(err, ErrTargetRole):
		return http.StatusConflict
	case clientError(err):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (ctrl *roomController) adminError(ctx echo.Context, err error) error {
	ctrl.logger.Warn("admin call rejected",
		slog.String("path", ctx.Request().URL.Path),
		slog.String("err", err.Error()),
	)
	return ctx.JSON(statusOf(err), &protocol.AdminResponse{Error: err.Error()})
}

func (ctrl *roomController) AdminControlParticipants(ctx echo.Context) error {
	var request protocol.AdminControlRequest
	if err := json.NewDecoder(ctx.Request().Body).Decode(&request); err != nil {
		return ctx.JSON(http.StatusBadRequest, &protocol.AdminResponse{Error: err.Error()})
	}

	if err := ctrl.roomService.Control(request); err != nil {
		return ctrl.adminError(ctx, err)
	}
	return ctx.JSON(http.StatusOK, &protocol.AdminResponse{Success: true})
}

func (ctrl *roomController) AdminRoomSettings(ctx echo.Context) error {
	var request protocol.AdminSettingsRequest
	if err := json.NewDecoder(ctx.Request().Body).Decode(&request); err != nil {
		return ctx.JSON(http.StatusBadRequest, &protocol.AdminResponse{Error: err.Error()})
	}

	if err := ctrl.roomService.UpdateSettings(request); err != nil {
		return ctrl.adminError(ctx, err)
	}
	return ctx.JSON(http.StatusOK, &protocol.AdminResponse{Success: true})
}

func (ctrl *roomController) RoomInfo(ctx echo.Context) error {
	roomID := ctx.QueryParam("room_id")
	if roomID == "" {
		return ctx.JSON(http.StatusBadRequest, &protocol.RoomInfoResponse{Error: ErrRoomIDIsEmpty.Error()})
	}

	info, err := ctrl.roomService.Info(roomID)
	if err != nil {
		return ctx.JSON(statusOf(err), &protocol.RoomInfoResponse{Error: err.Error()})
	}
	return ctx.JSON(http.StatusOK, &protocol.RoomInfoResponse{Success: true, Data: &info})
}

func (ctrl *roomController) RoomList(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, ctrl.roomService.ListRoom())
}

func eventMessage(event roomstate.Event) (string, any) {
	switch event.Kind {
	case roomstate.EventJoined:
		return protocol.EventParticipantJoined, event.Participant
	case roomstate.EventLeft:
		return protocol.EventParticipantLeft, event.Participant
	case roomstate.EventAttributes:
		return protocol.EventAttributes, event.Participant
	case roomstate.EventPermissions:
		return protocol.EventPermissions, event.Participant
	case roomstate.EventMetadata:
		return protocol.EventMetadata, &protocol.RoomMetadataMessage{Metadata: event.Metadata}
	}
	return "", nil
}

// RoomJoin replicates the room to one participant. The connection receives the
// full snapshot first and then every change; each event carries the complete
// state of its participant, so replaying one is harmless.
func (ctrl *roomController) RoomJoin(ctx echo.Context) error {
	roomID := ctx.Param("room")
	roomCtx := ctrl.roomService.GetRoom(roomID)
	if roomCtx == nil {
		return echo.NewHTTPError(http.StatusNotFound, ErrRoomNotExist.Error())
	}

	identity := ctx.QueryParam("identity")
	if identity == "" {
		identity = uuid.NewString()
	}
	role := micstate.ParseRole(ctx.QueryParam("role"))

	conn, err := ctrl.upgrader.Upgrade(ctx.Response().Writer, ctx.Request(), nil)
	if err != nil {
		ctrl.logger.Error(fmt.Sprintf("Unable upgrade request %+v", ctx.Request()))
		return err
	}

	w := wsutils.NewThreadSafeWriter(conn)
	defer w.Close()

	connCtx, cancel := context.WithCancelCause(ctx.Request().Context())
	defer cancel(ErrRoomCancelByUser)

	events := make(chan roomstate.Event, connectionEventBuffer)
	unsubscribe := roomCtx.Subscribe(func(event roomstate.Event) {
		select {
		case events <- event:
		default:
			cancel(ErrSlowConsumer)
		}
	})
	defer unsubscribe()

	if _, err := roomCtx.Join(identity, ctx.QueryParam("name"), role); err != nil {
		return ctrl.wsError(w, err)
	}
	defer func() {
		if err := roomCtx.Leave(identity); err != nil {
			ctrl.logger.Warn("participant leave failed", slog.String("identity", identity), slog.String("err", err.Error()))
		}
	}()

	snapshot := roomCtx.Snapshot(identity)
	if err := w.WriteEvent(protocol.EventSnapshot, &snapshot); err != nil {
		return err
	}

	go func() {
		for {
			select {
			case <-connCtx.Done():
				// Unblocks the reader below.
				_ = w.Conn.Close()
				return
			case event := <-events:
				name, payload := eventMessage(event)
				if name == "" {
					continue
				}
				if err := w.WriteEvent(name, payload); err != nil {
					cancel(err)
					return
				}
			}
		}
	}()

	for {
		message, err := w.ReadEvent()
		if err != nil {
			if cause := context.Cause(connCtx); cause != nil && !errors.Is(cause, ErrRoomCancelByUser) {
				return cause
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}

		switch message.Event {
		case protocol.EventSetAttributes:
			var request protocol.SetAttributesMessage
			if err := json.Unmarshal(message.Data, &request); err != nil {
				return ctrl.wsError(w, err)
			}
			if _, err := roomCtx.SelfUpdate(identity, request.Attributes); err != nil {
				ctrl.logger.Warn("self attribute write rejected", slog.String("identity", identity), slog.String("err", err.Error()))
				if err := w.WriteEvent(protocol.EventSetAttributesError, &protocol.ErrorMessage{Message: err.Error()}); err != nil {
					return err
				}
			}

		default:
			return ctrl.wsError(w, errors.New("wrong message event"))
		}
	}
}

func (ctrl *roomController) Resolve(c *echo.Echo) error {
	admin := AdminWallMiddleware(ctrl.adminToken)

	c.POST(protocol.AdminControlPath, ctrl.AdminControlParticipants, admin)
	c.POST(protocol.AdminSettingsPath, ctrl.AdminRoomSettings, admin)
	c.GET(protocol.RoomInfoPath, ctrl.RoomInfo)
	c.GET(protocol.RoomListPath, ctrl.RoomList)
	c.GET(protocol.RoomJoinPath, ctrl.RoomJoin)
	return nil
}

var _ protocol.HttpResolvable = (*roomController)(nil)

type NewRoomController_Params struct {
	fx.In

	RoomService *RoomService
	Logger      *slog.Logger
}

func NewRoomController(params NewRoomController_Params) *roomController {
	return &roomController{
		roomService: params.RoomService,
		adminToken:  variables.Env(variables.ADMIN_TOKEN_NAME, variables.ADMIN_TOKEN_DEFAULT),
		logger:      params.Logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}
