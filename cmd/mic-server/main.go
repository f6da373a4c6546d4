package main

import (
	"log/slog"
	"strings"

	"github.com/romashorodok/conferencing-platform/internal/room"
	"github.com/romashorodok/conferencing-platform/pkg/protocol"
	"github.com/romashorodok/conferencing-platform/pkg/service"
	"github.com/romashorodok/conferencing-platform/pkg/variables"
	"go.uber.org/fx"
)

type CreateRooms_Params struct {
	fx.In

	*room.RoomService
	Logger *slog.Logger
}

// CreateRooms opens the rooms listed in ROOMS. Rooms live until the process exits.
func CreateRooms(params CreateRooms_Params) error {
	for _, roomID := range strings.Split(variables.Env(variables.ROOMS_NAME, variables.ROOMS_DEFAULT), ",") {
		roomID = strings.TrimSpace(roomID)
		if roomID == "" {
			continue
		}

		if _, err := params.RoomService.CreateRoom(&room.RoomCreateOption{RoomID: &roomID}); err != nil {
			return err
		}
	}
	params.Logger.Info("rooms ready", slog.Int("count", len(params.RoomService.ListRoom())))
	return nil
}

func main() {
	fx.New(
		fx.Provide(
			room.NewRoomService,

			protocol.AsHttpController(room.NewRoomController),
			protocol.AsHttpMiddleware(service.NewAccessLogMiddleware),
		),

		fx.Module("rooms",
			fx.Invoke(CreateRooms),
		),

		service.LoggerModule,
		service.HttpModule,
	).Run()
}
