package wsutils

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/romashorodok/conferencing-platform/pkg/protocol"
)

// ThreadSafeWriter serializes writes on a websocket connection. Reads are
// expected from a single goroutine.
type ThreadSafeWriter struct {
	*websocket.Conn
	sync.Mutex
}

func (t *ThreadSafeWriter) WriteJSON(val any) error {
	t.Lock()
	defer t.Unlock()

	return t.Conn.WriteJSON(val)
}

// WriteEvent wraps payload into a protocol.WebsocketMessage.
func (t *ThreadSafeWriter) WriteEvent(event string, payload any) error {
	var data json.RawMessage
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		data = raw
	}

	return t.WriteJSON(&protocol.WebsocketMessage{
		Event: event,
		Data:  data,
	})
}

func (t *ThreadSafeWriter) ReadEvent() (*protocol.WebsocketMessage, error) {
	message := &protocol.WebsocketMessage{}
	if err := t.Conn.ReadJSON(message); err != nil {
		return nil, err
	}
	return message, nil
}

func (t *ThreadSafeWriter) Close() error {
	t.Lock()
	defer t.Unlock()

	_ = t.Conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		deadlineNow(),
	)
	return t.Conn.Close()
}

func NewThreadSafeWriter(conn *websocket.Conn) *ThreadSafeWriter {
	return &ThreadSafeWriter{
		Conn: conn,
	}
}
