// this file manages live websocket connections and event fan-out
package main

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	sendBufferSize = 32
	defaultSession = "main-session"
	tvDisplayName  = "TV Display"
	tvClientQuery  = "tv"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Clients are phones and TVs on the local network; the join handshake
	// carries no credentials to protect.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsConn is one live client connection. The read loop is the only reader of
// the socket; the write pump is the only writer. Everything the server
// wants to say goes through the buffered send channel.
type wsConn struct {
	id        string
	sessionID string
	ws        *websocket.Conn
	send      chan []byte
	closed    bool // guarded by Hub.mu

	// set when a broadcast had to be dropped; cleared when the client is
	// rehydrated on its next heartbeat
	needsResync atomic.Bool
}

// Hub tracks which connections belong to which session and fans session
// events out to them. A slow client never stalls the session worker: its
// send buffer fills up, the message is dropped, and the client is resynced
// with a full snapshot on its next heartbeat.
type Hub struct {
	reg *SessionRegistry
	cfg *Config

	mu       sync.RWMutex
	conns    map[string]*wsConn
	sessions map[string]map[string]*wsConn
}

func NewHub(reg *SessionRegistry, cfg *Config) *Hub {
	h := &Hub{
		reg:      reg,
		cfg:      cfg,
		conns:    make(map[string]*wsConn),
		sessions: make(map[string]map[string]*wsConn),
	}
	reg.SetHub(h)
	return h
}

// HandleConn upgrades the request and serves the connection until the
// client goes away. Blocks for the lifetime of the connection.
func (h *Hub) HandleConn(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println("failed to upgrade ws:", err)
		return
	}

	c := &wsConn{
		id:   uuid.NewString(),
		ws:   ws,
		send: make(chan []byte, sendBufferSize),
	}

	h.mu.Lock()
	h.conns[c.id] = c
	h.mu.Unlock()
	log.Println("client connected:", c.id)

	go h.writePump(c)

	// A TV display joins its session straight from the query string, the
	// way the passive screen expects: no command required.
	if r.URL.Query().Get("client") == tvClientQuery {
		sessionID := r.URL.Query().Get("session")
		if sessionID == "" {
			sessionID = defaultSession
		}
		payload, _ := json.Marshal(JoinSessionPayload{
			SessionID: sessionID,
			UserName:  tvDisplayName,
			Role:      RoleViewer,
		})
		h.bindSession(c, sessionID)
		h.reg.Dispatch(sessionID, c.id, ClientMessage{Type: CmdJoinSession, Payload: payload})
	}

	h.readLoop(c)
}

// readLoop only reads from the network and forwards parsed commands to the
// session worker. It never mutates session state itself.
func (h *Hub) readLoop(c *wsConn) {
	defer func() {
		sessionID := h.detach(c)
		if sessionID != "" {
			h.reg.Disconnect(sessionID, c.id)
		}
		log.Println("client disconnected:", c.id)
	}()

	for {
		var msg ClientMessage
		if err := c.ws.ReadJSON(&msg); err != nil {
			return
		}

		if msg.Type == CmdJoinSession {
			var join struct {
				SessionID string `json:"sessionId"`
			}
			_ = json.Unmarshal(msg.Payload, &join)
			if join.SessionID == "" {
				h.SendTo(c.id, errorMessage("INVALID_REQUEST", "sessionId is required", msg.Type))
				continue
			}
			h.bindSession(c, join.SessionID)
			h.reg.Dispatch(join.SessionID, c.id, msg)
			continue
		}

		h.mu.RLock()
		sessionID := c.sessionID
		h.mu.RUnlock()
		if sessionID == "" {
			h.SendTo(c.id, errorMessage("NOT_IN_SESSION", ErrNotJoined.Error(), msg.Type))
			continue
		}
		h.reg.Dispatch(sessionID, c.id, msg)
	}
}

func (h *Hub) writePump(c *wsConn) {
	defer c.ws.Close()
	for data := range c.send {
		c.ws.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	c.ws.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// bindSession places the connection in a session's fan-out set. Rebinding
// to another session first leaves the old one.
func (h *Hub) bindSession(c *wsConn, sessionID string) {
	h.mu.Lock()
	old := c.sessionID
	if old == sessionID {
		h.mu.Unlock()
		return
	}
	if old != "" {
		delete(h.sessions[old], c.id)
	}
	c.sessionID = sessionID
	if h.sessions[sessionID] == nil {
		h.sessions[sessionID] = make(map[string]*wsConn)
	}
	h.sessions[sessionID][c.id] = c
	h.mu.Unlock()

	if old != "" {
		h.reg.Disconnect(old, c.id)
	}
}

// detach removes the connection from the hub's books and closes its send
// channel. Idempotent; returns the session it was in, if any.
func (h *Hub) detach(c *wsConn) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c.closed {
		return ""
	}
	c.closed = true
	delete(h.conns, c.id)
	if c.sessionID != "" {
		delete(h.sessions[c.sessionID], c.id)
	}
	close(c.send)
	return c.sessionID
}

// ============================================================================
// broadcaster implementation (called from session workers)
// ============================================================================

func (h *Hub) Broadcast(sessionID string, msg ServerMessage) {
	h.BroadcastExcept(sessionID, "", msg)
}

func (h *Hub) BroadcastExcept(sessionID, exceptConnID string, msg ServerMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Println("failed to marshal event:", err)
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, c := range h.sessions[sessionID] {
		if id != exceptConnID {
			h.trySend(c, data)
		}
	}
}

func (h *Hub) SendTo(connectionID string, msg ServerMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Println("failed to marshal event:", err)
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if c, ok := h.conns[connectionID]; ok {
		h.trySend(c, data)
	}
}

// CloseConn force-closes a connection (eviction, heartbeat timeout). The
// read loop notices and runs the normal disconnect path.
func (h *Hub) CloseConn(connectionID string) {
	h.mu.RLock()
	c, ok := h.conns[connectionID]
	h.mu.RUnlock()
	if ok {
		c.ws.Close()
	}
}

// TakeResync reports and clears the dropped-broadcast flag.
func (h *Hub) TakeResync(connectionID string) bool {
	h.mu.RLock()
	c, ok := h.conns[connectionID]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	return c.needsResync.Swap(false)
}

// trySend enqueues without ever blocking the caller. Callers hold h.mu (at
// least read), which excludes detach closing the channel underneath us.
func (h *Hub) trySend(c *wsConn, data []byte) {
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
		// Backpressured client: drop now, resync on its next heartbeat.
		c.needsResync.Store(true)
	}
}

func errorMessage(code, message, command string) ServerMessage {
	return ServerMessage{Type: EvtError, Payload: ErrorPayload{
		Code:    code,
		Message: message,
		Command: command,
	}}
}
