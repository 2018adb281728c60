// this file holds the authoritative state of one karaoke session
package main

import (
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Session is the aggregate for one session id: the queue, the shared
// playback state, the connected-user registry and the clock reconciler.
// It is not safe for concurrent use; all access goes through the session
// worker, which serializes commands.
type Session struct {
	ID        string
	CreatedAt time.Time

	queue    *Queue
	playback PlaybackState
	users    map[string]*ConnectedUser // user id -> user
	byConn   map[string]string         // connection id -> user id
	clock    *ClockReconciler

	now func() time.Time
}

func NewSession(id string, cfg *Config) *Session {
	return &Session{
		ID:        id,
		CreatedAt: time.Now(),
		queue:     NewQueue(),
		playback: PlaybackState{
			Volume:       cfg.DefaultVolume,
			PlaybackRate: 1.0,
		},
		users:  make(map[string]*ConnectedUser),
		byConn: make(map[string]string),
		clock:  NewClockReconciler(cfg.TimeUpdateInterval),
		now:    time.Now,
	}
}

// NewSessionFromSnapshot rebuilds a persisted session. Connections do not
// survive a restart, so the user registry starts empty and playback resumes
// paused.
func NewSessionFromSnapshot(snap *SessionSnapshot, cfg *Config) *Session {
	s := NewSession(snap.ID, cfg)
	s.CreatedAt = snap.CreatedAt
	s.playback = snap.Playback
	s.playback.IsPlaying = false
	for i := range snap.Queue {
		entry := snap.Queue[i]
		s.queue.entries = append(s.queue.entries, &entry)
	}
	return s
}

// ============================================================================
// USERS
// ============================================================================

// Join registers a user for the given connection. A join with a display
// name already present is treated as a reconnect: the stale connection is
// evicted and its id is returned so the hub can close it.
func (s *Session) Join(connectionID, displayName string, role Role) (user *ConnectedUser, evictedConn string) {
	if role == "" {
		role = RoleController
	}

	// A connection joining again is a refresh, or an identity change if the
	// name or role differs. Either way the old binding goes first, so the
	// one-user-per-connection invariant holds.
	if prevID, ok := s.byConn[connectionID]; ok {
		prev := s.users[prevID]
		if prev.DisplayName == displayName && prev.Role == role {
			prev.LastSeen = s.now()
			return prev, ""
		}
		delete(s.users, prevID)
		delete(s.byConn, connectionID)
	}

	for _, u := range s.users {
		if u.DisplayName == displayName && u.Role == role {
			evictedConn = u.ConnectionID
			delete(s.byConn, u.ConnectionID)
			s.clock.ClearSource(u.ConnectionID)
			u.ConnectionID = connectionID
			u.LastSeen = s.now()
			s.byConn[connectionID] = u.ID
			s.designateTimeSource(connectionID, role)
			return u, evictedConn
		}
	}

	user = &ConnectedUser{
		ID:           uuid.NewString(),
		DisplayName:  displayName,
		ConnectionID: connectionID,
		JoinedAt:     s.now(),
		LastSeen:     s.now(),
		Role:         role,
	}
	s.users[user.ID] = user
	s.byConn[connectionID] = user.ID
	s.designateTimeSource(connectionID, role)
	return user, ""
}

// Leave removes the user behind the connection. Queue and playback are left
// untouched.
func (s *Session) Leave(connectionID string) (*ConnectedUser, bool) {
	userID, ok := s.byConn[connectionID]
	if !ok {
		return nil, false
	}
	user := s.users[userID]
	delete(s.users, userID)
	delete(s.byConn, connectionID)

	s.clock.ClearSource(connectionID)
	if s.clock.SourceID() == "" {
		s.redesignateTimeSource()
	}
	return user, true
}

func (s *Session) Heartbeat(connectionID string) error {
	user := s.UserByConn(connectionID)
	if user == nil {
		return ErrNotJoined
	}
	user.LastSeen = s.now()
	return nil
}

// Touch refreshes lastSeen for any inbound traffic, so an active client is
// never timed out between heartbeats.
func (s *Session) Touch(connectionID string) {
	if user := s.UserByConn(connectionID); user != nil {
		user.LastSeen = s.now()
	}
}

func (s *Session) UserByConn(connectionID string) *ConnectedUser {
	userID, ok := s.byConn[connectionID]
	if !ok {
		return nil
	}
	return s.users[userID]
}

// StaleConnections lists connections whose users have not been seen within
// the timeout. The sweeper turns these into disconnects.
func (s *Session) StaleConnections(timeout time.Duration) []string {
	cutoff := s.now().Add(-timeout)
	var stale []string
	for _, u := range s.users {
		if u.LastSeen.Before(cutoff) {
			stale = append(stale, u.ConnectionID)
		}
	}
	return stale
}

func (s *Session) UserCount() int { return len(s.users) }

// The device that renders audio (a viewer, the TV display) owns the shared
// clock. Any viewer joining takes over; otherwise the first connection in
// an unclaimed session does.
func (s *Session) designateTimeSource(connectionID string, role Role) {
	if role == RoleViewer || s.clock.SourceID() == "" {
		s.clock.SetSource(connectionID)
	}
}

func (s *Session) redesignateTimeSource() {
	var fallback *ConnectedUser
	for _, u := range s.users {
		if u.Role == RoleViewer {
			s.clock.SetSource(u.ConnectionID)
			return
		}
		if fallback == nil || u.JoinedAt.Before(fallback.JoinedAt) {
			fallback = u
		}
	}
	if fallback != nil {
		s.clock.SetSource(fallback.ConnectionID)
	}
}

// ============================================================================
// QUEUE & PLAYBACK
// ============================================================================

func (s *Session) Queue() *Queue { return s.queue }

func (s *Session) CurrentEntry() *QueueEntry { return s.queue.Current() }

// StartNext retires the current entry with the given terminal status and
// promotes the next pending one. The clock restarts at zero for a new song
// and stops when the queue runs dry.
func (s *Session) StartNext(terminal QueueEntryStatus) *QueueEntry {
	next := s.queue.Advance(terminal)
	if next != nil {
		s.playback.IsPlaying = true
		s.playback.CurrentTime = 0
	} else {
		s.playback.IsPlaying = false
		s.playback.CurrentTime = 0
	}
	return next
}

func (s *Session) Resume() { s.playback.IsPlaying = true }
func (s *Session) Pause()  { s.playback.IsPlaying = false }
func (s *Session) Seek(seconds float64) {
	s.playback.CurrentTime = math.Max(0, seconds)
}

func (s *Session) SetVolume(v float64) {
	s.playback.Volume = int(math.Min(100, math.Max(0, v)))
}

// SetMuted toggles when no value is supplied, otherwise sets.
func (s *Session) SetMuted(value *float64) {
	if value == nil {
		s.playback.IsMuted = !s.playback.IsMuted
		return
	}
	s.playback.IsMuted = *value != 0
}

func (s *Session) SetRate(rate float64) {
	if rate > 0 {
		s.playback.PlaybackRate = rate
	}
}

// ObserveTime runs a time-update report through the reconciler.
func (s *Session) ObserveTime(report TimeReport) bool {
	value, applied := s.clock.Observe(report, s.playback.CurrentTime, s.playback.IsPlaying)
	if applied {
		s.playback.CurrentTime = value
	}
	return applied
}

// FlushClock applies any coalesced time report held back by rate limiting.
func (s *Session) FlushClock() bool {
	value, applied := s.clock.Flush(s.playback.CurrentTime, s.playback.IsPlaying)
	if applied {
		s.playback.CurrentTime = value
	}
	return applied
}

func (s *Session) Playback() PlaybackState { return s.playback }

// ============================================================================
// SNAPSHOT
// ============================================================================

// Snapshot copies the aggregate for broadcast or serialization. Nothing in
// the returned value aliases session-owned containers.
func (s *Session) Snapshot() SessionSnapshot {
	snap := SessionSnapshot{
		ID:        s.ID,
		Queue:     s.queue.Snapshot(),
		Playback:  s.playback,
		Users:     make([]ConnectedUser, 0, len(s.users)),
		CreatedAt: s.CreatedAt,
	}
	if cur := s.queue.Current(); cur != nil {
		c := *cur
		snap.CurrentSong = &c
	}
	for _, u := range s.users {
		snap.Users = append(snap.Users, *u)
	}
	sort.Slice(snap.Users, func(i, j int) bool {
		return snap.Users[i].JoinedAt.Before(snap.Users[j].JoinedAt)
	})
	return snap
}

func (s *Session) Stats() SessionStats {
	stats := SessionStats{
		SessionID:      s.ID,
		ConnectedUsers: len(s.users),
		TotalSongs:     s.queue.Len(),
		IsPlaying:      s.playback.IsPlaying,
	}
	for _, e := range s.queue.entries {
		switch e.Status {
		case StatusPending:
			stats.PendingSongs++
		case StatusCompleted:
			stats.CompletedSongs++
		}
	}
	return stats
}
