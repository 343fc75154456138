package statusapi

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/kingrea/stepflow/internal/workflow/engine"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	wsBufferSize   = 1024
)

// Stream message types.
const (
	MessageSnapshot = "snapshot"
	MessageEvent    = "event"
)

// StreamMessage is one frame of GET /workflow/events. The first frame is a
// snapshot; every following frame carries one transition.
type StreamMessage struct {
	Type  string        `json:"type"`
	State *engine.State `json:"state,omitempty"`
	Event *engine.Event `json:"event,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  wsBufferSize,
	WriteBufferSize: wsBufferSize,
	CheckOrigin: func(*http.Request) bool {
		return true
	},
}

type client struct {
	conn      *websocket.Conn
	sub       Subscription
	closeOnce sync.Once
}

// handleWebSocket upgrades the request and streams transitions. Repeat the
// step query parameter to filter by step id.
func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	cl := &client{conn: conn}
	state := s.engine.Snapshot()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(StreamMessage{Type: MessageSnapshot, State: &state}); err != nil {
		s.logger.Warn("websocket write failed", "context", "snapshot", "error", err)
		_ = conn.Close()
		return
	}
	cl.sub = s.hub.Subscribe(c.QueryArray("step")...)
	s.registerSocket(cl)
	go func() {
		defer s.unregisterSocket(cl)
		cl.run(s)
	}()
}

func (c *client) run(s *Server) {
	defer c.close()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	done := make(chan struct{})
	go c.readMessages(done)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case evt, ok := <-c.sub.Events:
			if !ok {
				_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(StreamMessage{Type: MessageEvent, Event: &evt}); err != nil {
				s.logger.Warn("websocket write failed", "context", "event", "error", err)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readMessages drains client frames so pongs and close frames are processed.
func (c *client) readMessages(done chan<- struct{}) {
	defer close(done)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		c.sub.Close()
		_ = c.conn.Close()
	})
}
