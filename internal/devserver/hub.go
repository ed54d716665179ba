package devserver

import (
	"context"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
)

// hub tracks live local WebSocket connections and implements the outbound
// send capability for the WebSocket pipeline.
type hub struct {
	mu    sync.Mutex
	conns map[string]*websocket.Conn
}

func newHub() *hub {
	return &hub{conns: make(map[string]*websocket.Conn)}
}

func (h *hub) add(connID string, ws *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[connID] = ws
}

func (h *hub) remove(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, connID)
}

// Send implements wsdispatch.Sender. Writes are serialized under the hub
// lock; gorilla connections allow only one concurrent writer.
func (h *hub) Send(_ context.Context, connID string, data []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	ws, ok := h.conns[connID]
	if !ok {
		return fmt.Errorf("connection %s is not open locally", connID)
	}
	return ws.WriteMessage(websocket.TextMessage, data)
}
