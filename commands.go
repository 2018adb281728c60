// this file validates client commands and applies them to session state
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Inbound message types (client -> server).
const (
	CmdJoinSession     = "join-session"
	CmdAddSong         = "add-song"
	CmdRemoveSong      = "remove-song"
	CmdReorderQueue    = "reorder-queue"
	CmdPlaybackControl = "playback-control"
	CmdSkipSong        = "skip-song"
	CmdSongEnded       = "song-ended"
	CmdUserHeartbeat   = "user-heartbeat"
)

// Outbound event types (server -> client).
const (
	EvtSessionUpdated  = "session-updated"
	EvtQueueUpdated    = "queue-updated"
	EvtSongStarted     = "song-started"
	EvtSongEnded       = "song-ended"
	EvtUserJoined      = "user-joined"
	EvtUserLeft        = "user-left"
	EvtPlaybackChanged = "playback-state-changed"
	EvtError           = "error"
)

type ClientMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type ServerMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

type JoinSessionPayload struct {
	SessionID string `json:"sessionId"`
	UserName  string `json:"userName"`
	Role      Role   `json:"role,omitempty"`
}

type AddSongPayload struct {
	MediaItem *MediaItem `json:"mediaItem,omitempty"`
	CatalogID string     `json:"catalogId,omitempty"`
}

type RemoveSongPayload struct {
	EntryID string `json:"entryId"`
}

type ReorderQueuePayload struct {
	EntryID     string `json:"entryId"`
	NewPosition int    `json:"newPosition"`
}

type PlaybackCommand struct {
	Action    string   `json:"action"`
	Value     *float64 `json:"value,omitempty"`
	UserID    string   `json:"userId,omitempty"`
	Timestamp int64    `json:"timestamp,omitempty"`
}

type SessionUpdatedPayload struct {
	Session     SessionSnapshot `json:"session"`
	Queue       []QueueEntry    `json:"queue"`
	CurrentSong *QueueEntry     `json:"currentSong"`
	Playback    PlaybackState   `json:"playbackState"`
}

type PlaybackChangedPayload struct {
	State  PlaybackState `json:"state"`
	Action string        `json:"action"`
}

type UserLeftPayload struct {
	UserID string `json:"userId"`
}

// Event is one outbound message with its delivery scope. Per-command errors
// never become events; they are returned to the worker, which notifies the
// sender only.
type eventScope int

const (
	scopeBroadcast eventScope = iota // everyone in the session
	scopeSender                      // the issuing connection only
	scopeOthers                      // everyone except the issuing connection
	scopeEvict                       // close the named connection, no message
)

type Event struct {
	Scope  eventScope
	Msg    ServerMessage
	ConnID string // set for scopeEvict
}

// MediaCatalog is the external catalog consumed by add-song resolution and
// the search proxy.
type MediaCatalog interface {
	Search(ctx context.Context, query string, limit, offset int) ([]MediaItem, error)
	GetByID(ctx context.Context, id string) (*MediaItem, error)
	StreamLocator(ctx context.Context, id string) (string, error)
}

// CommandProcessor is the only writer of session state. Commands for one
// session reach Apply strictly one at a time (the worker serializes them),
// so no locking happens here. Every command is validated completely before
// the first mutation; a returned error means the session is untouched.
type CommandProcessor struct {
	cfg     *Config
	catalog MediaCatalog
}

func NewCommandProcessor(cfg *Config, catalog MediaCatalog) *CommandProcessor {
	return &CommandProcessor{cfg: cfg, catalog: catalog}
}

// Apply runs one command against the session and returns the events to
// deliver, in mutation order.
func (p *CommandProcessor) Apply(ctx context.Context, s *Session, connectionID string, msg ClientMessage) ([]Event, error) {
	switch msg.Type {
	case CmdJoinSession:
		return p.applyJoin(s, connectionID, msg.Payload)
	case CmdAddSong:
		return p.applyAddSong(ctx, s, connectionID, msg.Payload)
	case CmdRemoveSong:
		return p.applyRemoveSong(s, connectionID, msg.Payload)
	case CmdReorderQueue:
		return p.applyReorder(s, connectionID, msg.Payload)
	case CmdPlaybackControl:
		return p.applyPlaybackControl(s, connectionID, msg.Payload)
	case CmdSkipSong:
		return p.applyAdvance(s, connectionID, StatusSkipped)
	case CmdSongEnded:
		return p.applyAdvance(s, connectionID, StatusCompleted)
	case CmdUserHeartbeat:
		return nil, s.Heartbeat(connectionID)
	default:
		return nil, newValidationError(fmt.Sprintf("unknown command %q", msg.Type))
	}
}

func (p *CommandProcessor) applyJoin(s *Session, connectionID string, raw json.RawMessage) ([]Event, error) {
	var payload JoinSessionPayload
	if err := unmarshalPayload(raw, &payload); err != nil {
		return nil, err
	}
	if payload.UserName == "" {
		return nil, newValidationError("userName is required")
	}
	if payload.Role != "" && !validRole(payload.Role) {
		return nil, newValidationError(fmt.Sprintf("unknown role %q", payload.Role))
	}

	user, evicted := s.Join(connectionID, payload.UserName, payload.Role)

	events := make([]Event, 0, 3)
	if evicted != "" {
		// A reconnect before the old connection timed out: drop the stale one.
		events = append(events, Event{Scope: scopeEvict, ConnID: evicted})
	}
	return append(events,
		Event{Scope: scopeSender, Msg: ServerMessage{Type: EvtSessionUpdated, Payload: hydrationPayload(s)}},
		Event{Scope: scopeOthers, Msg: ServerMessage{Type: EvtUserJoined, Payload: *user}},
	), nil
}

func (p *CommandProcessor) applyAddSong(ctx context.Context, s *Session, connectionID string, raw json.RawMessage) ([]Event, error) {
	user := s.UserByConn(connectionID)
	if user == nil {
		return nil, ErrNotJoined
	}

	var payload AddSongPayload
	if err := unmarshalPayload(raw, &payload); err != nil {
		return nil, err
	}

	item, err := p.resolveMediaItem(ctx, payload)
	if err != nil {
		return nil, err
	}
	if s.Queue().PendingBy(user.ID) >= p.cfg.MaxSongsPerUser {
		return nil, ErrQueueFull
	}

	// Idle means nothing playing and nothing waiting: the added song starts
	// right away. A paused session with queued songs stays paused.
	wasIdle := s.CurrentEntry() == nil && len(s.Queue().Pending()) == 0

	entry := &QueueEntry{
		ID:        "queue_" + uuid.NewString(),
		MediaItem: *item,
		AddedBy:   user.ID,
		AddedAt:   time.Now(),
	}
	if err := s.Queue().Add(entry); err != nil {
		return nil, err
	}

	events := make([]Event, 0, 3)
	if wasIdle {
		started := s.StartNext(StatusCompleted)
		events = append(events, queueUpdatedEvent(s))
		if started != nil {
			events = append(events,
				Event{Msg: ServerMessage{Type: EvtSongStarted, Payload: *started}},
				playbackChangedEvent(s, "play"),
			)
		}
		return events, nil
	}
	return append(events, queueUpdatedEvent(s)), nil
}

func (p *CommandProcessor) applyRemoveSong(s *Session, connectionID string, raw json.RawMessage) ([]Event, error) {
	if s.UserByConn(connectionID) == nil {
		return nil, ErrNotJoined
	}
	var payload RemoveSongPayload
	if err := unmarshalPayload(raw, &payload); err != nil {
		return nil, err
	}
	if payload.EntryID == "" {
		return nil, newValidationError("entryId is required")
	}

	wasPlaying, err := s.Queue().Remove(payload.EntryID)
	if err != nil {
		return nil, err
	}

	events := []Event{queueUpdatedEvent(s)}
	if wasPlaying {
		if next := s.StartNext(StatusCompleted); next != nil {
			events = append(events,
				Event{Msg: ServerMessage{Type: EvtSongStarted, Payload: *next}},
				playbackChangedEvent(s, "play"),
			)
		} else {
			events = append(events, playbackChangedEvent(s, "pause"))
		}
	}
	return events, nil
}

func (p *CommandProcessor) applyReorder(s *Session, connectionID string, raw json.RawMessage) ([]Event, error) {
	if s.UserByConn(connectionID) == nil {
		return nil, ErrNotJoined
	}
	var payload ReorderQueuePayload
	if err := unmarshalPayload(raw, &payload); err != nil {
		return nil, err
	}
	if payload.EntryID == "" {
		return nil, newValidationError("entryId is required")
	}

	if err := s.Queue().Reorder(payload.EntryID, payload.NewPosition); err != nil {
		return nil, err
	}
	return []Event{queueUpdatedEvent(s)}, nil
}

// applyAdvance handles skip-song and the song-ended report; they differ
// only in the terminal status left on the retired entry.
func (p *CommandProcessor) applyAdvance(s *Session, connectionID string, terminal QueueEntryStatus) ([]Event, error) {
	if s.UserByConn(connectionID) == nil {
		return nil, ErrNotJoined
	}
	current := s.CurrentEntry()
	if current == nil {
		return nil, ErrNoCurrentSong
	}

	next := s.StartNext(terminal)
	retired := *current // status already flipped to terminal

	events := []Event{
		{Msg: ServerMessage{Type: EvtSongEnded, Payload: retired}},
	}
	if next != nil {
		events = append(events, Event{Msg: ServerMessage{Type: EvtSongStarted, Payload: *next}})
	}
	events = append(events, queueUpdatedEvent(s))
	if next != nil {
		events = append(events, playbackChangedEvent(s, "play"))
	} else {
		events = append(events, playbackChangedEvent(s, "pause"))
	}
	return events, nil
}

func (p *CommandProcessor) applyPlaybackControl(s *Session, connectionID string, raw json.RawMessage) ([]Event, error) {
	if s.UserByConn(connectionID) == nil {
		return nil, ErrNotJoined
	}
	var cmd PlaybackCommand
	if err := unmarshalPayload(raw, &cmd); err != nil {
		return nil, err
	}

	switch cmd.Action {
	case "play":
		if s.CurrentEntry() == nil {
			next := s.StartNext(StatusCompleted)
			if next == nil {
				return nil, ErrNoCurrentSong
			}
			return []Event{
				{Msg: ServerMessage{Type: EvtSongStarted, Payload: *next}},
				queueUpdatedEvent(s),
				playbackChangedEvent(s, "play"),
			}, nil
		}
		s.Resume()
		return []Event{playbackChangedEvent(s, "play")}, nil

	case "pause":
		s.Pause()
		return []Event{playbackChangedEvent(s, "pause")}, nil

	case "seek":
		if cmd.Value == nil {
			return nil, newValidationError("seek requires a value")
		}
		s.Seek(*cmd.Value)
		return []Event{playbackChangedEvent(s, "seek")}, nil

	case "volume":
		if cmd.Value == nil {
			return nil, newValidationError("volume requires a value")
		}
		s.SetVolume(*cmd.Value)
		return []Event{playbackChangedEvent(s, "volume")}, nil

	case "mute":
		s.SetMuted(cmd.Value)
		return []Event{playbackChangedEvent(s, "mute")}, nil

	case "rate":
		if cmd.Value == nil || *cmd.Value <= 0 {
			return nil, newValidationError("rate requires a positive value")
		}
		s.SetRate(*cmd.Value)
		return []Event{playbackChangedEvent(s, "rate")}, nil

	case "time-update":
		if cmd.Value == nil {
			return nil, newValidationError("time-update requires a value")
		}
		applied := s.ObserveTime(TimeReport{
			Value:      *cmd.Value,
			ReporterID: connectionID,
			At:         time.Now(),
		})
		if !applied {
			return nil, nil
		}
		return []Event{playbackChangedEvent(s, "time-update")}, nil

	default:
		return nil, ErrInvalidAction
	}
}

// resolveMediaItem turns an add-song payload into a complete MediaItem,
// consulting the external catalog when the client only sent a reference.
func (p *CommandProcessor) resolveMediaItem(ctx context.Context, payload AddSongPayload) (*MediaItem, error) {
	if payload.MediaItem != nil {
		item := *payload.MediaItem
		if item.Title == "" || item.Artist == "" {
			return nil, newValidationError("mediaItem requires title and artist")
		}
		if item.Duration <= 0 {
			return nil, newValidationError("mediaItem requires a positive duration")
		}
		if item.ID == "" {
			item.ID = "media_" + uuid.NewString()
		}
		if item.StreamURL == "" && item.CatalogID != "" && p.catalog != nil {
			url, err := p.catalog.StreamLocator(ctx, item.CatalogID)
			if err != nil {
				return nil, err
			}
			item.StreamURL = url
		}
		if item.StreamURL == "" {
			return nil, newValidationError("mediaItem requires a stream locator")
		}
		return &item, nil
	}

	if payload.CatalogID == "" {
		return nil, newValidationError("add-song requires mediaItem or catalogId")
	}
	if p.catalog == nil {
		return nil, ErrCatalogUnavailable
	}
	item, err := p.catalog.GetByID(ctx, payload.CatalogID)
	if err != nil {
		return nil, err
	}
	if item.StreamURL == "" {
		url, err := p.catalog.StreamLocator(ctx, payload.CatalogID)
		if err != nil {
			return nil, err
		}
		item.StreamURL = url
	}
	return item, nil
}

func hydrationPayload(s *Session) SessionUpdatedPayload {
	snap := s.Snapshot()
	return SessionUpdatedPayload{
		Session:     snap,
		Queue:       snap.Queue,
		CurrentSong: snap.CurrentSong,
		Playback:    snap.Playback,
	}
}

func queueUpdatedEvent(s *Session) Event {
	return Event{Msg: ServerMessage{Type: EvtQueueUpdated, Payload: s.Queue().Snapshot()}}
}

func playbackChangedEvent(s *Session, action string) Event {
	return Event{Msg: ServerMessage{Type: EvtPlaybackChanged, Payload: PlaybackChangedPayload{
		State:  s.Playback(),
		Action: action,
	}}}
}

func unmarshalPayload(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return newValidationError("missing payload")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return newValidationError("malformed payload: " + err.Error())
	}
	return nil
}
