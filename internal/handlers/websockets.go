package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// The panel is only observed through periodic scans, so the stream is
// change-driven: a frame goes out when the scan generation moves, never on a
// client-chosen interval. Clients cannot ask for data fresher than the
// watchdog produces.
const (
	// wsGenPoll is how often a connection checks the monitor for a new
	// generation. Well under the minimum refresh_interval (0.2 s), so a
	// scan's result is never held back noticeably.
	wsGenPoll = 100 * time.Millisecond

	// wsWriteGrace bounds a single frame write.
	wsWriteGrace = 10 * time.Second

	// wsIdlePing keeps the connection alive through quiet panels: if no
	// scan produced news for this long, send a ping and expect a pong
	// within wsPongGrace.
	wsIdlePing  = 30 * time.Second
	wsPongGrace = 60 * time.Second

	// Clients only ever send control frames; anything bigger is noise.
	wsReadLimit = 512
)

// wsStateFrame is one pushed snapshot, stamped with the generation that
// produced it.
type wsStateFrame struct {
	Type       string `json:"type"`
	Generation uint64 `json:"generation"`
	Panel      any    `json:"panel"`
	Controller any    `json:"controller,omitempty"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsConnect upgrades the connection and streams panel snapshots: one frame
// immediately, then one per completed scan that changed the generation.
func (h *Handler) wsConnect(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Errorw("ws upgrade failed", "err", err)
		return
	}
	defer func() { _ = conn.Close() }()

	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongGrace))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongGrace))
	})

	// Drain the read side: control frames are handled there, and a read
	// error is how we learn the client went away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	sent, err := h.pushFrame(conn)
	if err != nil {
		h.log.Infow("ws initial frame failed", "err", err)
		return
	}
	lastSent := time.Now()

	poll := time.NewTicker(wsGenPoll)
	defer poll.Stop()

	for {
		select {
		case <-gone:
			return
		case <-c.Request.Context().Done():
			return
		case <-poll.C:
			if h.services.Generation() == sent {
				if time.Since(lastSent) >= wsIdlePing {
					_ = conn.SetWriteDeadline(time.Now().Add(wsWriteGrace))
					if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
						h.log.Infow("ws ping failed", "err", err)
						return
					}
					lastSent = time.Now()
				}
				continue
			}
			if sent, err = h.pushFrame(conn); err != nil {
				h.log.Infow("ws write failed", "err", err)
				return
			}
			lastSent = time.Now()
		}
	}
}

// pushFrame writes the current snapshot and returns the generation it
// carried. The generation is read before the state so a scan landing
// mid-push is re-sent on the next poll rather than lost.
func (h *Handler) pushFrame(conn *websocket.Conn) (uint64, error) {
	gen := h.services.Generation()
	frame := wsStateFrame{
		Type:       "state",
		Generation: gen,
		Panel:      h.services.PanelState(),
		Controller: h.services.ControllerState(),
	}
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteGrace))
	return gen, conn.WriteJSON(frame)
}
