package quizhub

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// sendQueueSize bounds the per-connection outbound queue. A client that
// cannot drain this many frames is dropped rather than allowed to stall the
// Hub's critical section.
const sendQueueSize = 64

// Frame is the JSON envelope exchanged over the WebSocket: a named event
// plus its payload.
type Frame struct {
	Data  json.RawMessage `json:"data,omitempty"`
	Event EventName       `json:"event"`
}

// outFrame is the outbound counterpart with an undecoded payload.
type outFrame struct {
	Data  any       `json:"data,omitempty"`
	Event EventName `json:"event"`
}

// submitAnswerData is the body of an inbound submit-answer frame.
type submitAnswerData struct {
	Answer any `json:"answer"`
}

// WebSocketAdapter implements the Transport contract over gorilla/websocket.
// Each accepted connection gets a fresh uuid ConnID, a buffered send queue,
// and a writer goroutine that drains it, so SendTo and Broadcast enqueue and
// return without waiting on the network. Frames queued for one connection are
// written in enqueue order, preserving the Hub's event ordering.
//
// Inbound frames are dispatched to the Hub on the connection's reader
// goroutine: submit-answer and request-question are recognized, anything
// else is logged and ignored.
type WebSocketAdapter struct {
	hub      *Hub
	logger   *zap.Logger
	conns    map[ConnID]*wsConn
	origins  map[string]bool
	upgrader websocket.Upgrader
	mu       sync.RWMutex
}

// wsConn is one live connection and its outbound queue. The closed flag and
// the queue are guarded together by mu: once closed is set, no goroutine may
// send on the queue, so closing the channel is safe even while a broadcast
// holds a stale reference to this connection.
type wsConn struct {
	sock   *websocket.Conn
	send   chan outFrame
	id     ConnID
	mu     sync.Mutex
	closed bool
}

// NewWebSocketAdapter creates an unbound adapter. Construct the Hub on top
// of it, bind with SetHub, then mount the adapter on an HTTP mux:
//
//	adapter := quizhub.NewWebSocketAdapter().
//	    WithAllowedOrigins("https://quiz.example.com")
//	hub := quizhub.NewHub(adapter)
//	adapter.SetHub(hub)
//	http.Handle("/ws", adapter)
func NewWebSocketAdapter() *WebSocketAdapter {
	a := &WebSocketAdapter{
		logger:  zap.NewNop(),
		conns:   make(map[ConnID]*wsConn),
		origins: make(map[string]bool),
	}
	a.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     a.checkOrigin,
	}
	return a
}

// SetHub binds the adapter to a hub. Needed when the adapter is constructed
// before the hub it transports for.
func (a *WebSocketAdapter) SetHub(hub *Hub) *WebSocketAdapter {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.hub = hub
	return a
}

// WithLogger sets the adapter logger. Each connection captures the logger at
// accept time; connections already being served keep the logger they started
// with.
func (a *WebSocketAdapter) WithLogger(logger *zap.Logger) *WebSocketAdapter {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logger = logger
	return a
}

// WithAllowedOrigins replaces the origin allow-list. An empty list accepts
// every origin.
func (a *WebSocketAdapter) WithAllowedOrigins(origins ...string) *WebSocketAdapter {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.origins = make(map[string]bool, len(origins))
	for _, o := range origins {
		a.origins[o] = true
	}
	return a
}

// checkOrigin enforces the configured allow-list.
func (a *WebSocketAdapter) checkOrigin(r *http.Request) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if len(a.origins) == 0 {
		return true
	}
	return a.origins[r.Header.Get("Origin")]
}

// ConnCount returns the number of live adapter connections.
func (a *WebSocketAdapter) ConnCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.conns)
}

// SendTo implements Transport. Delivery is best-effort: unknown connections
// are ignored and a full queue drops the frame with a warning.
func (a *WebSocketAdapter) SendTo(connID ConnID, event EventName, payload any) error {
	a.mu.RLock()
	c := a.conns[connID]
	logger := a.logger
	a.mu.RUnlock()
	if c == nil {
		return nil
	}
	a.enqueue(c, event, payload, logger)
	return nil
}

// Broadcast implements Transport.
func (a *WebSocketAdapter) Broadcast(event EventName, payload any) error {
	a.mu.RLock()
	conns := make([]*wsConn, 0, len(a.conns))
	for _, c := range a.conns {
		conns = append(conns, c)
	}
	logger := a.logger
	a.mu.RUnlock()

	for _, c := range conns {
		a.enqueue(c, event, payload, logger)
	}
	return nil
}

// enqueue adds a frame to one connection's queue without blocking. A closed
// connection drops the frame silently; a slow client loses the frame, not
// the Hub.
func (a *WebSocketAdapter) enqueue(c *wsConn, event EventName, payload any, logger *zap.Logger) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- outFrame{Event: event, Data: payload}:
	default:
		logger.Warn("send queue full, dropping frame",
			zap.String("conn_id", string(c.id)),
			zap.String("event", string(event)),
		)
	}
}

// ServeHTTP upgrades the request and runs the connection's read loop until
// the client goes away.
func (a *WebSocketAdapter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.mu.RLock()
	hub := a.hub
	logger := a.logger
	a.mu.RUnlock()
	if hub == nil {
		http.Error(w, "hub not attached", http.StatusServiceUnavailable)
		return
	}

	sock, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &wsConn{
		id:   ConnID(uuid.NewString()),
		sock: sock,
		send: make(chan outFrame, sendQueueSize),
	}

	a.mu.Lock()
	a.conns[c.id] = c
	a.mu.Unlock()

	go a.writeLoop(logger, c)

	hub.Connect(c.id)
	a.readLoop(hub, logger, c)

	hub.Disconnect(c.id)
	a.mu.Lock()
	delete(a.conns, c.id)
	a.mu.Unlock()
	c.close()
}

// readLoop decodes inbound frames and dispatches them to the Hub. Returns
// when the connection errors or closes.
func (a *WebSocketAdapter) readLoop(hub *Hub, logger *zap.Logger, c *wsConn) {
	for {
		var frame Frame
		if err := c.sock.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("websocket read failed",
					zap.String("conn_id", string(c.id)),
					zap.Error(err),
				)
			}
			return
		}

		switch frame.Event {
		case EventSubmitAnswer:
			var data submitAnswerData
			if len(frame.Data) > 0 {
				if err := json.Unmarshal(frame.Data, &data); err != nil {
					logger.Warn("malformed submit-answer frame",
						zap.String("conn_id", string(c.id)),
						zap.Error(err),
					)
					continue
				}
			}
			hub.SubmitAnswer(c.id, data.Answer)
		case EventRequestQuestion:
			hub.RequestQuestion(c.id)
		default:
			logger.Warn("unrecognized inbound event",
				zap.String("conn_id", string(c.id)),
				zap.String("event", string(frame.Event)),
			)
		}
	}
}

// writeLoop drains the send queue onto the socket in order. Returns when the
// queue closes or a write fails.
func (a *WebSocketAdapter) writeLoop(logger *zap.Logger, c *wsConn) {
	for frame := range c.send {
		if err := c.sock.WriteJSON(frame); err != nil {
			logger.Warn("websocket write failed",
				zap.String("conn_id", string(c.id)),
				zap.Error(err),
			)
			_ = c.sock.Close() //nolint:errcheck
			return
		}
	}
	_ = c.sock.Close() //nolint:errcheck
}

// close marks the connection closed and shuts its queue. Safe to call more
// than once. Marking before closing the channel keeps a concurrent enqueue
// from sending on the closed queue.
func (c *wsConn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// ListenAndServe mounts the adapter at path and serves on addr. It blocks
// until the server fails.
func (a *WebSocketAdapter) ListenAndServe(addr, path string) error {
	mux := http.NewServeMux()
	mux.Handle(path, a)
	server := &http.Server{Addr: addr, Handler: mux}
	return server.ListenAndServe()
}
