// this file defines the data structures used throughout
package main

import "time"

// MediaItem describes one playable track as known to the external media
// catalog. It is never mutated once created.
type MediaItem struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Artist    string `json:"artist"`
	Album     string `json:"album,omitempty"`
	Duration  int64  `json:"duration"` // seconds
	CatalogID string `json:"catalogId"`
	StreamURL string `json:"streamUrl"`
}

type QueueEntryStatus string

const (
	StatusPending   QueueEntryStatus = "pending"
	StatusPlaying   QueueEntryStatus = "playing"
	StatusCompleted QueueEntryStatus = "completed"
	StatusSkipped   QueueEntryStatus = "skipped"
)

// QueueEntry is one song placed into a session's queue. Position is a dense
// zero-based rank among pending entries and is recomputed on every queue
// mutation; the value is frozen when an entry leaves the pending state.
type QueueEntry struct {
	ID        string           `json:"id"`
	MediaItem MediaItem        `json:"mediaItem"`
	AddedBy   string           `json:"addedBy"`
	AddedAt   time.Time        `json:"addedAt"`
	Position  int              `json:"position"`
	Status    QueueEntryStatus `json:"status"`
}

type Role string

const (
	RoleViewer     Role = "viewer"
	RoleController Role = "controller"
	RoleAdmin      Role = "admin"
)

func validRole(r Role) bool {
	switch r {
	case RoleViewer, RoleController, RoleAdmin:
		return true
	}
	return false
}

type ConnectedUser struct {
	ID           string    `json:"id"`
	DisplayName  string    `json:"displayName"`
	ConnectionID string    `json:"connectionId"`
	JoinedAt     time.Time `json:"joinedAt"`
	LastSeen     time.Time `json:"lastSeen"`
	Role         Role      `json:"role"`
}

// PlaybackState is the shared estimate of the playback clock. The true
// render clock lives on the device producing audio; everyone else follows.
type PlaybackState struct {
	IsPlaying    bool    `json:"isPlaying"`
	CurrentTime  float64 `json:"currentTime"` // seconds
	Volume       int     `json:"volume"`      // 0-100
	IsMuted      bool    `json:"isMuted"`
	PlaybackRate float64 `json:"playbackRate"`
}

// SessionSnapshot is a self-contained copy of one session's state, used to
// hydrate joining clients and to serve the polling HTTP surface. It shares
// no containers with the live session.
type SessionSnapshot struct {
	ID          string          `json:"id"`
	Queue       []QueueEntry    `json:"queue"`
	CurrentSong *QueueEntry     `json:"currentSong"`
	Playback    PlaybackState   `json:"playbackState"`
	Users       []ConnectedUser `json:"connectedUsers"`
	CreatedAt   time.Time       `json:"createdAt"`
}

type SessionStats struct {
	SessionID      string `json:"sessionId"`
	ConnectedUsers int    `json:"connectedUsers"`
	TotalSongs     int    `json:"totalSongs"`
	PendingSongs   int    `json:"pendingSongs"`
	CompletedSongs int    `json:"completedSongs"`
	IsPlaying      bool   `json:"isPlaying"`
}
