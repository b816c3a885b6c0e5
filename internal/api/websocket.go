package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/srg/brushlink/internal/groutine"
	"github.com/srg/brushlink/internal/integration"
	"github.com/srg/brushlink/internal/ringchan"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	eventBuffer    = 64
)

var upgrader = websocket.Upgrader{
	CheckOrigin:     func(*http.Request) bool { return true },
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Message types sent to websocket clients.
const (
	MessageEntries = "entries"
	MessageEvent   = "event"
)

// Message is one websocket frame.
type Message struct {
	Type    string                    `json:"type"`
	Entries []integration.EntryStatus `json:"entries,omitempty"`
	Event   *integration.Event        `json:"event,omitempty"`
}

type wsHandler struct {
	backend Backend
	logger  *logrus.Logger

	mu    sync.Mutex
	conns map[string]*wsConn
}

type wsConn struct {
	id     string
	conn   *websocket.Conn
	events *ringchan.RingChannel[integration.Event]
	log    *logrus.Entry

	ctx         context.Context
	cancel      context.CancelFunc
	unsubscribe func()
	closeOnce   sync.Once
	onClose     func()
}

func newWSHandler(backend Backend, logger *logrus.Logger) *wsHandler {
	return &wsHandler{
		backend: backend,
		logger:  logger,
		conns:   make(map[string]*wsConn),
	}
}

func (h *wsHandler) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("Failed to upgrade websocket connection")
		return
	}

	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	c := &wsConn{
		id:     id,
		conn:   conn,
		log:    h.logger.WithField("connection", id),
		ctx:    ctx,
		cancel: cancel,
	}
	c.events, c.unsubscribe = h.backend.Subscribe(eventBuffer)
	c.onClose = func() {
		h.mu.Lock()
		delete(h.conns, id)
		h.mu.Unlock()
	}

	h.mu.Lock()
	h.conns[id] = c
	h.mu.Unlock()

	c.log.Info("Websocket client connected")

	entries := h.backend.Entries()
	if entries == nil {
		entries = []integration.EntryStatus{}
	}
	if err := c.write(Message{Type: MessageEntries, Entries: entries}); err != nil {
		c.log.WithError(err).Warn("Failed to send entries snapshot")
		c.close()
		return
	}

	groutine.Go(ctx, "ws-write-"+id, c.writePump)
	groutine.Go(ctx, "ws-read-"+id, c.readPump)
}

func (h *wsHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

func (h *wsHandler) shutdown() {
	h.mu.Lock()
	conns := make([]*wsConn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		c.close()
	}
}

// readPump only services control frames; client messages are discarded.
func (c *wsConn) readPump(context.Context) {
	defer c.close()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.WithError(err).Debug("Websocket read error")
			}
			return
		}
	}
}

func (c *wsConn) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-c.events.C():
			if !ok {
				_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
				return
			}
			if err := c.write(Message{Type: MessageEvent, Event: &ev}); err != nil {
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

func (c *wsConn) write(msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) close() {
	c.closeOnce.Do(func() {
		c.unsubscribe()
		c.cancel()
		_ = c.conn.Close()
		m := c.events.GetMetrics()
		c.log.WithFields(logrus.Fields{
			"events_sent":    m.Written,
			"events_dropped": m.Overwritten,
			"events_pending": c.events.Len(),
		}).Info("Websocket client disconnected")
		c.onClose()
	})
}
