package netclient

import (
	"context"
	"fmt"

	"github.com/gorilla/websocket"
)

// Transport is the persistent bidirectional message channel the client
// runs on. Implementations must allow one concurrent reader and one
// concurrent writer.
type Transport interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// DialFunc establishes a transport to the relay endpoint. Connect
// resolves once the returned transport is open, or fails with the
// dial error.
type DialFunc func(ctx context.Context, url string) (Transport, error)

// DialWebSocket is the default DialFunc, a gorilla WebSocket dial.
func DialWebSocket(ctx context.Context, url string) (Transport, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", url, err)
	}
	return &wsTransport{conn: conn}, nil
}

type wsTransport struct {
	conn *websocket.Conn
}

func (t *wsTransport) ReadMessage() ([]byte, error) {
	_, data, err := t.conn.ReadMessage()
	return data, err
}

func (t *wsTransport) WriteMessage(data []byte) error {
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *wsTransport) Close() error {
	return t.conn.Close()
}
