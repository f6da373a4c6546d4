package transport

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/romashorodok/conferencing-platform/internal/micstate"
	"github.com/romashorodok/conferencing-platform/internal/room"
	"github.com/romashorodok/conferencing-platform/pkg/protocol"
	"github.com/romashorodok/conferencing-platform/pkg/service"
	"github.com/romashorodok/conferencing-platform/pkg/variables"
	"github.com/stretchr/testify/require"
)

func newTestBackend(t *testing.T) (*room.RoomService, *httptest.Server) {
	t.Helper()
	t.Setenv(variables.DEFAULT_MAX_MIC_SLOTS_NAME, "2")
	t.Setenv(variables.ADMIN_TOKEN_NAME, "")

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rooms, err := room.NewRoomService(room.NewRoomServiceParams{Logger: logger})
	require.NoError(t, err)

	roomID := "room-1"
	_, err = rooms.CreateRoom(&room.RoomCreateOption{RoomID: &roomID})
	require.NoError(t, err)

	router, err := service.NewRouter(logger, nil, []protocol.HttpResolvable{
		room.NewRoomController(room.NewRoomController_Params{RoomService: rooms, Logger: logger}),
	})
	require.NoError(t, err)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return rooms, server
}

func dialReplica(t *testing.T, server *httptest.Server, identity string, role micstate.Role) *Replica {
	t.Helper()
	replica, err := Dial(context.Background(), DialParams{
		BaseURL:  server.URL,
		Room:     "room-1",
		Identity: identity,
		Name:     identity,
		Role:     role,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = replica.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return replica
}

type attributeLog struct {
	mu      sync.Mutex
	changes []map[string]string
}

func (l *attributeLog) add(_ protocol.Identity, attributes map[string]string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.changes = append(l.changes, attributes)
}

func (l *attributeLog) last() map[string]string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.changes) == 0 {
		return nil
	}
	return l.changes[len(l.changes)-1]
}

func TestReplicaFollowsTheRoom(t *testing.T) {
	rooms, server := newTestBackend(t)
	host := dialReplica(t, server, "host-1", micstate.Host)
	member := dialReplica(t, server, "member-1", micstate.Member)

	require.Equal(t, "member-1", member.LocalIdentity())
	require.True(t, member.Connected())
	require.Equal(t, `{"maxMicSlots":2}`, member.Metadata())

	require.Eventually(t, func() bool {
		_, ok := host.GetAttributes("member-1")
		return ok
	}, time.Second, 10*time.Millisecond)

	seen := &attributeLog{}
	unsubscribe := host.OnAttributesChanged("member-1", seen.add)
	defer unsubscribe()

	delta, err := micstate.Delta(micstate.ActionRequest, "", time.Now())
	require.NoError(t, err)
	require.NoError(t, member.SetAttributes(context.Background(), delta))

	require.Eventually(t, func() bool {
		return seen.last()[protocol.AttrMicStatus] == "requesting"
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, rooms.Control(protocol.AdminControlRequest{
		RoomName:         "room-1",
		TargetIdentity:   "member-1",
		OperatorIdentity: "host-1",
		Action:           protocol.AdminActionApproveMic,
	}))

	require.Eventually(t, func() bool {
		permissions, ok := member.GetPermissions("member-1")
		return ok && permissions.CanPublish
	}, time.Second, 10*time.Millisecond)

	attributes, ok := member.GetAttributes("member-1")
	require.True(t, ok)
	require.Equal(t, "on_mic", attributes[protocol.AttrMicStatus])
	require.Equal(t, []protocol.Identity{"host-1", "member-1"}, host.Identities())
}

func TestReplicaReportsRejectedWrites(t *testing.T) {
	_, server := newTestBackend(t)

	rejected := make(chan string, 1)
	replica, err := Dial(context.Background(), DialParams{
		BaseURL:  server.URL,
		Room:     "room-1",
		Identity: "member-1",
		Role:     micstate.Member,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	unsubscribe := replica.OnWriteRejected(func(message string) { rejected <- message })
	defer unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go replica.Run(ctx)

	require.NoError(t, replica.SetAttributes(ctx, map[string]string{protocol.AttrMicStatus: "on_mic"}))
	select {
	case message := <-rejected:
		require.NotEmpty(t, message)
	case <-time.After(time.Second):
		t.Fatal("rejection was not reported")
	}

	require.NoError(t, replica.Close())
	require.ErrorIs(t, replica.SetAttributes(ctx, map[string]string{}), ErrNotConnected)
}

func TestReplicaSeesLeave(t *testing.T) {
	_, server := newTestBackend(t)
	host := dialReplica(t, server, "host-1", micstate.Host)

	left := make(chan map[string]string, 4)
	host.OnAttributesChanged("member-1", func(_ protocol.Identity, attributes map[string]string) {
		left <- attributes
	})

	member, err := Dial(context.Background(), DialParams{
		BaseURL:  server.URL,
		Room:     "room-1",
		Identity: "member-1",
		Role:     micstate.Member,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)

	require.NotNil(t, <-left)
	require.NoError(t, member.Close())

	select {
	case attributes := <-left:
		require.Nil(t, attributes)
	case <-time.After(time.Second):
		t.Fatal("leave was not replicated")
	}
	_, ok := host.GetAttributes("member-1")
	require.False(t, ok)
}

func TestDialUnknownRoom(t *testing.T) {
	_, server := newTestBackend(t)
	_, err := Dial(context.Background(), DialParams{
		BaseURL:  server.URL,
		Room:     "missing",
		Identity: "member-1",
		Role:     micstate.Member,
	})
	require.Error(t, err)
}
