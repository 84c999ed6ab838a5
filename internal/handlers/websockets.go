package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// Send/receive timing configuration and message size limits.
const (
	writeWait       = 10 * time.Second
	pongWait        = 60 * time.Second
	pingPeriod      = (pongWait * 9) / 10
	maxMsgSize      = 1 << 12 // 4 KB
	defaultWSPeriod = 5 * time.Second
	maxWSPeriod     = 30 * time.Second
)

// wsEnvelope frames WebSocket messages.
type wsEnvelope struct {
	Type  string      `json:"type"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

// snapshotsPayload is the streaming feed body: latest snapshot per UPS
// plus the config version so clients can detect device CRUD.
type snapshotsPayload struct {
	Snapshots  interface{} `json:"snapshots"`
	CfgVersion uint64      `json:"cfg_version"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true }, // TODO: restrict origins for production
}

// wsStream pushes the latest snapshot of every UPS on a fixed cadence.
// Delivery is best-effort: a slow consumer simply misses ticks, the
// next push carries the current state (latest wins).
func (h *Handler) wsStream(c *gin.Context) {
	period := h.parsePeriod(c)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		if h.log != nil {
			h.log.Errorw("ws_upgrade_failed", "err", err)
		}
		return
	}
	defer func() { _ = conn.Close() }()

	conn.SetReadLimit(maxMsgSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	// Reader goroutine handles control frames and detects disconnects.
	done := make(chan struct{})
	go h.startReader(conn, done)

	ticker := time.NewTicker(period)
	ping := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ping.Stop()
	}()

	// Initial push so clients render without waiting a full period.
	if err := h.sendSnapshots(c.Request.Context(), conn); err != nil {
		if h.log != nil {
			h.log.Infow("ws_write_failed_initial", "err", err)
		}
		return
	}

	for {
		select {
		case <-done:
			return
		case <-c.Request.Context().Done():
			return
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				if h.log != nil {
					h.log.Infow("ws_ping_failed", "err", err)
				}
				return
			}
		case <-ticker.C:
			if err := h.sendSnapshots(c.Request.Context(), conn); err != nil {
				if h.log != nil {
					h.log.Infow("ws_write_failed", "err", err)
				}
				return
			}
		}
	}
}

// parsePeriod reads ?period=2s or ?period_ms=2000 with bounds.
func (h *Handler) parsePeriod(c *gin.Context) time.Duration {
	if s := c.Query("period"); s != "" {
		if d, err := time.ParseDuration(s); err == nil && d > 0 && d <= maxWSPeriod {
			return d
		}
	}
	if ms := c.Query("period_ms"); ms != "" {
		if v, err := strconv.Atoi(ms); err == nil && v > 0 && time.Duration(v)*time.Millisecond <= maxWSPeriod {
			return time.Duration(v) * time.Millisecond
		}
	}
	return defaultWSPeriod
}

// startReader drains incoming messages to handle control frames and
// detect closure.
func (h *Handler) startReader(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if h.log != nil {
				h.log.Infow("ws_read_closed", "err", err)
			}
			return
		}
	}
}

// sendSnapshots writes one feed frame with a write deadline.
func (h *Handler) sendSnapshots(ctx context.Context, conn *websocket.Conn) error {
	snaps, err := h.services.Store.LatestAll(ctx)
	if err != nil {
		if h.log != nil {
			h.log.Errorw("ws_latest_all_failed", "err", err)
		}
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(wsEnvelope{
		Type: "snapshots",
		Data: snapshotsPayload{
			Snapshots:  snaps,
			CfgVersion: h.services.ConfigManager.Version(),
		},
	})
}
