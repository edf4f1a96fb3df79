package transport

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// wsUpgrader mirrors the permissive-origin, generous-buffer upgrader
// grounded on jinterlante1206-AleutianLocal's orchestrator websocket
// handler; lspwired is a developer-facing local tool, not a public
// service, so the same permissive CheckOrigin applies.
var wsUpgrader = websocket.Upgrader{
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  1 << 20,
	WriteBufferSize: 1 << 20,
}

// WebSocket adapts a *websocket.Conn to the byte-stream rpcconn.Transport
// interface. Each Transport.Write call is sent as exactly one binary
// websocket message, since rpcconn.Connection.writeLoop always writes
// one fully-encoded frame per call; Read reassembles in the other
// direction, buffering the remainder of a message across calls when
// the caller's buffer is smaller than the received message.
type WebSocket struct {
	conn *websocket.Conn

	leftover []byte
}

// UpgradeWebSocket upgrades an HTTP request to a websocket connection
// and returns it as a Transport.
func UpgradeWebSocket(w http.ResponseWriter, r *http.Request) (*WebSocket, error) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return &WebSocket{conn: conn}, nil
}

// DialWebSocket connects to a lspwired server exposing a websocket
// transport at url.
func DialWebSocket(url string) (*WebSocket, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, err
	}
	return &WebSocket{conn: conn}, nil
}

func (w *WebSocket) Read(p []byte) (int, error) {
	for len(w.leftover) == 0 {
		_, data, err := w.conn.ReadMessage()
		if err != nil {
			return 0, err
		}
		w.leftover = data
	}
	n := copy(p, w.leftover)
	w.leftover = w.leftover[n:]
	return n, nil
}

func (w *WebSocket) Write(p []byte) (int, error) {
	if err := w.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *WebSocket) Close() error {
	_ = w.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return w.conn.Close()
}
