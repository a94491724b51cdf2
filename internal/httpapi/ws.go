package httpapi

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"warden/internal/console"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
	// wsSendBuffer bounds the per-client backlog of live lines. A client
	// that falls this far behind is disconnected rather than allowed to
	// stall the console fan-out.
	wsSendBuffer = 256
)

// The API binds to loopback; cross-origin browser clients are expected for
// local dashboards.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type streamClient struct {
	conn *websocket.Conn
	send chan console.Line
	done chan struct{}
	once sync.Once
}

func (c *streamClient) drop() {
	c.once.Do(func() { close(c.done) })
}

// handleConsoleStream upgrades the request and tails the console over the
// socket: first the retained history (bounded by ?limit=N), then live lines
// as the game emits them. Each message is one JSON-encoded line.
func (s *Server) handleConsoleStream(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r)
	if err != nil {
		writeError(w, err)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("console stream upgrade failed")
		return
	}

	c := &streamClient{
		conn: conn,
		send: make(chan console.Line, wsSendBuffer),
		done: make(chan struct{}),
	}

	// Registering and snapshotting in one step means the backlog plus the
	// channel carry every line exactly once.
	id, backlog := s.console.SubscribeWithHistory(limit, func(l console.Line) {
		select {
		case c.send <- l:
		default:
			c.drop()
		}
	})
	defer s.console.Unsubscribe(id)

	go c.readPump()
	go c.writePump(backlog)

	<-c.done
	_ = conn.Close()
	log.Debug().Str("remote", r.RemoteAddr).Msg("console stream closed")
}

// readPump consumes client frames until the peer goes away. Inbound payloads
// are ignored; commands go through POST /v1/console/command.
func (c *streamClient) readPump() {
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			c.drop()
			return
		}
	}
}

func (c *streamClient) writePump(backlog []console.Line) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for _, l := range backlog {
		if !c.writeLine(l) {
			return
		}
	}
	for {
		select {
		case l := <-c.send:
			if !c.writeLine(l) {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.drop()
				return
			}
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "stream closed"))
			return
		}
	}
}

func (c *streamClient) writeLine(l console.Line) bool {
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := c.conn.WriteJSON(l); err != nil {
		c.drop()
		return false
	}
	return true
}
