// this file owns the per-session workers that serialize all mutations
package main

import (
	"context"
	"log"
	"sync"
	"time"
)

// broadcaster is what a worker needs from the hub to deliver events.
type broadcaster interface {
	Broadcast(sessionID string, msg ServerMessage)
	BroadcastExcept(sessionID, exceptConnID string, msg ServerMessage)
	SendTo(connectionID string, msg ServerMessage)
	CloseConn(connectionID string)
	TakeResync(connectionID string) bool
}

type itemKind int

const (
	itemCommand itemKind = iota
	itemDisconnect
	itemSnapshot
)

type snapshotReply struct {
	Snap  SessionSnapshot
	Stats SessionStats
}

type workItem struct {
	kind   itemKind
	connID string
	msg    ClientMessage
	reply  chan snapshotReply
}

// SessionRegistry holds every live session, each behind a worker goroutine
// that drains commands one at a time. Sessions are independent units of
// concurrency; there is no cross-session locking.
type SessionRegistry struct {
	mu      sync.Mutex
	workers map[string]*sessionWorker

	proc *CommandProcessor
	repo SessionRepository
	cfg  *Config
	hub  broadcaster
}

func NewSessionRegistry(proc *CommandProcessor, repo SessionRepository, cfg *Config) *SessionRegistry {
	return &SessionRegistry{
		workers: make(map[string]*sessionWorker),
		proc:    proc,
		repo:    repo,
		cfg:     cfg,
	}
}

// SetHub wires the broadcaster after construction; hub and registry
// reference each other.
func (r *SessionRegistry) SetHub(h broadcaster) { r.hub = h }

// Dispatch queues one client command for its session's worker, creating the
// session on first contact.
func (r *SessionRegistry) Dispatch(sessionID, connID string, msg ClientMessage) {
	r.getOrCreate(sessionID).inbox <- workItem{kind: itemCommand, connID: connID, msg: msg}
}

// Disconnect tells the session's worker that a connection is gone. No-op
// for unknown sessions.
func (r *SessionRegistry) Disconnect(sessionID, connID string) {
	r.mu.Lock()
	w := r.workers[sessionID]
	r.mu.Unlock()
	if w != nil {
		w.inbox <- workItem{kind: itemDisconnect, connID: connID}
	}
}

// Snapshot reads a session's state through its worker, so the polling HTTP
// surface sees exactly what the live connections see.
func (r *SessionRegistry) Snapshot(sessionID string) (SessionSnapshot, SessionStats, bool) {
	r.mu.Lock()
	w := r.workers[sessionID]
	r.mu.Unlock()
	if w == nil {
		return SessionSnapshot{}, SessionStats{}, false
	}
	reply := make(chan snapshotReply, 1)
	w.inbox <- workItem{kind: itemSnapshot, reply: reply}
	res := <-reply
	return res.Snap, res.Stats, true
}

func (r *SessionRegistry) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, w := range r.workers {
		close(w.quit)
	}
}

func (r *SessionRegistry) getOrCreate(sessionID string) *sessionWorker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if w, ok := r.workers[sessionID]; ok {
		return w
	}

	session := r.restoreOrCreate(sessionID)
	w := &sessionWorker{
		session: session,
		inbox:   make(chan workItem, 64),
		quit:    make(chan struct{}),
		reg:     r,
	}
	r.workers[sessionID] = w
	go w.run()
	log.Println("session created:", sessionID)
	return w
}

func (r *SessionRegistry) restoreOrCreate(sessionID string) *Session {
	snap, err := r.repo.LoadSnapshot(sessionID)
	if err != nil {
		log.Println("failed to load persisted session", sessionID, "err:", err)
	}
	if snap != nil {
		log.Println("restored session", sessionID, "with", len(snap.Queue), "queue entries")
		return NewSessionFromSnapshot(snap, r.cfg)
	}
	return NewSession(sessionID, r.cfg)
}

// sessionWorker applies every mutation for one session, strictly in the
// order received. It is the serialization point that makes command
// application race-free without locks on the session itself.
type sessionWorker struct {
	session *Session
	inbox   chan workItem
	quit    chan struct{}
	reg     *SessionRegistry
}

func (w *sessionWorker) run() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case item := <-w.inbox:
			switch item.kind {
			case itemCommand:
				w.handleCommand(item)
			case itemDisconnect:
				w.handleDisconnect(item.connID)
			case itemSnapshot:
				item.reply <- snapshotReply{Snap: w.session.Snapshot(), Stats: w.session.Stats()}
			}
		case <-ticker.C:
			w.sweep()
		case <-w.quit:
			return
		}
	}
}

func (w *sessionWorker) handleCommand(item workItem) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	events, err := w.reg.proc.Apply(ctx, w.session, item.connID, item.msg)
	cancel()

	if err != nil {
		// Rejections are local to the issuing connection, never broadcast.
		w.reg.hub.SendTo(item.connID, ServerMessage{Type: EvtError, Payload: ErrorPayload{
			Code:    errorCode(err),
			Message: err.Error(),
			Command: item.msg.Type,
		}})
		return
	}

	w.session.Touch(item.connID)
	w.deliver(item.connID, events)

	if len(events) > 0 {
		w.save()
	}

	// A client that had broadcasts dropped under backpressure is brought
	// back in sync on its next heartbeat.
	if item.msg.Type == CmdUserHeartbeat && w.reg.hub.TakeResync(item.connID) {
		w.reg.hub.SendTo(item.connID, ServerMessage{Type: EvtSessionUpdated, Payload: hydrationPayload(w.session)})
	}
}

func (w *sessionWorker) handleDisconnect(connID string) {
	user, ok := w.session.Leave(connID)
	if !ok {
		return
	}
	log.Println("user left session", w.session.ID, "user:", user.DisplayName)
	w.reg.hub.Broadcast(w.session.ID, ServerMessage{Type: EvtUserLeft, Payload: UserLeftPayload{UserID: user.ID}})
}

func (w *sessionWorker) deliver(senderConn string, events []Event) {
	for _, ev := range events {
		switch ev.Scope {
		case scopeBroadcast:
			w.reg.hub.Broadcast(w.session.ID, ev.Msg)
		case scopeSender:
			w.reg.hub.SendTo(senderConn, ev.Msg)
		case scopeOthers:
			w.reg.hub.BroadcastExcept(w.session.ID, senderConn, ev.Msg)
		case scopeEvict:
			w.reg.hub.CloseConn(ev.ConnID)
		}
	}
}

// sweep runs the periodic per-session chores: heartbeat-timeout disconnects
// and releasing coalesced clock updates. It goes through the same
// serialized paths commands use.
func (w *sessionWorker) sweep() {
	for _, connID := range w.session.StaleConnections(w.reg.cfg.HeartbeatTimeout) {
		log.Println("heartbeat timeout for connection", connID, "in session", w.session.ID)
		w.handleDisconnect(connID)
		w.reg.hub.CloseConn(connID)
	}

	if w.session.FlushClock() {
		w.reg.hub.Broadcast(w.session.ID, playbackChangedEvent(w.session, "time-update").Msg)
		w.save()
	}
}

func (w *sessionWorker) save() {
	if err := w.reg.repo.SaveSnapshot(w.session.Snapshot()); err != nil {
		log.Println("failed to persist session", w.session.ID, "err:", err)
	}
}
