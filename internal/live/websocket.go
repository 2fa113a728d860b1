package live

import (
	"net/http"
	"time"

	"github.com/TashaKaslana/Zenflow-sub001/pkg/models"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// ServeWS upgrades the request and streams entries of runID as JSON text
// messages. The entries returned by backlog are sent first; live entries
// already present in the backlog are skipped. Live entries are sent only if
// match accepts them; a nil match accepts all. The call returns when the
// client goes away or the hub closes.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, runID string, backlog func() []*models.LogEntry, match func(*models.LogEntry) bool) {
	// The backlog is read only once subscribed, so an entry notified before
	// it was buffered still arrives live.
	sub := h.Subscribe(runID)
	defer sub.Close()
	var caughtUp []*models.LogEntry
	if backlog != nil {
		caughtUp = backlog()
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	seen := make(map[string]struct{}, len(caughtUp))
	for _, e := range caughtUp {
		seen[e.ID] = struct{}{}
		if err := writeEntry(conn, e); err != nil {
			return
		}
	}

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case e, ok := <-sub.C():
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
					time.Now().Add(writeWait))
				return
			}
			if _, dup := seen[e.ID]; dup {
				delete(seen, e.ID)
				continue
			}
			if match != nil && !match(e) {
				continue
			}
			if err := writeEntry(conn, e); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-gone:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func writeEntry(conn *websocket.Conn, e *models.LogEntry) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(e)
}
