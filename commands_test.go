package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
)

// fakeCatalog serves a fixed library without the network.
type fakeCatalog struct {
	items map[string]MediaItem
	err   error
}

func (f *fakeCatalog) Search(_ context.Context, query string, _, _ int) ([]MediaItem, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []MediaItem
	for _, it := range f.items {
		out = append(out, it)
	}
	return out, nil
}

func (f *fakeCatalog) GetByID(_ context.Context, id string) (*MediaItem, error) {
	if f.err != nil {
		return nil, f.err
	}
	it, ok := f.items[id]
	if !ok {
		return nil, fmt.Errorf("%w: item %s not in catalog", ErrNotFound, id)
	}
	return &it, nil
}

func (f *fakeCatalog) StreamLocator(_ context.Context, id string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "http://catalog/stream/" + id, nil
}

func newTestProcessor(cfg *Config) (*CommandProcessor, *Session) {
	catalog := &fakeCatalog{items: map[string]MediaItem{
		"cat1": {ID: "media_cat1", Title: "Dancing Queen", Artist: "ABBA", Duration: 232, CatalogID: "cat1"},
	}}
	return NewCommandProcessor(cfg, catalog), NewSession("party", cfg)
}

func mustMarshal(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func mustApply(t *testing.T, p *CommandProcessor, s *Session, connID, msgType string, payload any) []Event {
	t.Helper()
	msg := ClientMessage{Type: msgType}
	if payload != nil {
		msg.Payload = mustMarshal(t, payload)
	}
	events, err := p.Apply(context.Background(), s, connID, msg)
	if err != nil {
		t.Fatalf("%s: %v", msgType, err)
	}
	return events
}

func joinUser(t *testing.T, p *CommandProcessor, s *Session, connID, name string, role Role) {
	t.Helper()
	mustApply(t, p, s, connID, CmdJoinSession, JoinSessionPayload{SessionID: s.ID, UserName: name, Role: role})
}

func addInlineSong(t *testing.T, p *CommandProcessor, s *Session, connID, title string) []Event {
	t.Helper()
	return mustApply(t, p, s, connID, CmdAddSong, AddSongPayload{MediaItem: &MediaItem{
		Title:     title,
		Artist:    "artist",
		Duration:  200,
		StreamURL: "http://x/" + title,
	}})
}

func eventTypes(events []Event) []string {
	var types []string
	for _, ev := range events {
		if ev.Scope == scopeEvict {
			types = append(types, "<evict>")
			continue
		}
		types = append(types, ev.Msg.Type)
	}
	return types
}

func assertEventTypes(t *testing.T, events []Event, want ...string) {
	t.Helper()
	got := eventTypes(events)
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events = %v, want %v", got, want)
		}
	}
}

func TestJoinEmitsHydrationAndAnnouncement(t *testing.T) {
	cfg := testConfig()
	p, s := newTestProcessor(cfg)

	events := mustApply(t, p, s, "conn1", CmdJoinSession,
		JoinSessionPayload{SessionID: "party", UserName: "alice"})
	assertEventTypes(t, events, EvtSessionUpdated, EvtUserJoined)

	if events[0].Scope != scopeSender {
		t.Error("hydration was not scoped to the sender")
	}
	if events[1].Scope != scopeOthers {
		t.Error("user-joined was not scoped to the others")
	}

	hydration, ok := events[0].Msg.Payload.(SessionUpdatedPayload)
	if !ok {
		t.Fatalf("hydration payload is %T", events[0].Msg.Payload)
	}
	if hydration.Session.ID != "party" {
		t.Errorf("session id = %s", hydration.Session.ID)
	}
}

func TestJoinRejectsBadPayloads(t *testing.T) {
	cfg := testConfig()
	p, s := newTestProcessor(cfg)

	cases := []struct {
		name    string
		payload any
	}{
		{"missing name", JoinSessionPayload{SessionID: "party"}},
		{"bad role", JoinSessionPayload{SessionID: "party", UserName: "alice", Role: "dj"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := p.Apply(context.Background(), s, "conn1",
				ClientMessage{Type: CmdJoinSession, Payload: mustMarshal(t, tc.payload)})
			if err == nil {
				t.Fatal("join accepted")
			}
			if errorCode(err) != "INVALID_REQUEST" {
				t.Errorf("code = %s, want INVALID_REQUEST", errorCode(err))
			}
		})
	}
}

func TestRejoinEvictsBeforeHydration(t *testing.T) {
	cfg := testConfig()
	p, s := newTestProcessor(cfg)
	joinUser(t, p, s, "conn1", "alice", RoleController)

	events := mustApply(t, p, s, "conn2", CmdJoinSession,
		JoinSessionPayload{SessionID: "party", UserName: "alice", Role: RoleController})
	assertEventTypes(t, events, "<evict>", EvtSessionUpdated, EvtUserJoined)
	if events[0].ConnID != "conn1" {
		t.Errorf("evicted conn = %s, want conn1", events[0].ConnID)
	}
}

func TestAddSongToIdleSessionStartsPlayback(t *testing.T) {
	cfg := testConfig()
	p, s := newTestProcessor(cfg)
	joinUser(t, p, s, "conn1", "alice", RoleController)

	events := addInlineSong(t, p, s, "conn1", "song-x")
	assertEventTypes(t, events, EvtQueueUpdated, EvtSongStarted, EvtPlaybackChanged)

	if cur := s.CurrentEntry(); cur == nil || cur.MediaItem.Title != "song-x" {
		t.Fatalf("current = %v, want song-x", cur)
	}
	if !s.Playback().IsPlaying {
		t.Error("idle session did not start playing")
	}

	pc := events[2].Msg.Payload.(PlaybackChangedPayload)
	if pc.Action != "play" {
		t.Errorf("action = %s, want play", pc.Action)
	}
}

func TestAddSongToBusySessionJustQueues(t *testing.T) {
	cfg := testConfig()
	p, s := newTestProcessor(cfg)
	joinUser(t, p, s, "conn1", "alice", RoleController)
	addInlineSong(t, p, s, "conn1", "song-x")

	events := addInlineSong(t, p, s, "conn1", "song-y")
	assertEventTypes(t, events, EvtQueueUpdated)

	pending := s.Queue().Pending()
	if len(pending) != 1 || pending[0].MediaItem.Title != "song-y" || pending[0].Position != 0 {
		t.Fatalf("pending = %v", pending)
	}
	if s.CurrentEntry().MediaItem.Title != "song-x" {
		t.Error("current song changed")
	}
}

func TestAddSongToPausedSessionStaysPaused(t *testing.T) {
	cfg := testConfig()
	p, s := newTestProcessor(cfg)
	joinUser(t, p, s, "conn1", "alice", RoleController)
	addInlineSong(t, p, s, "conn1", "song-x")
	mustApply(t, p, s, "conn1", CmdPlaybackControl, PlaybackCommand{Action: "pause"})

	events := addInlineSong(t, p, s, "conn1", "song-y")
	assertEventTypes(t, events, EvtQueueUpdated)
	if s.Playback().IsPlaying {
		t.Error("adding a song resumed a paused session")
	}
}

func TestAddSongRequiresJoin(t *testing.T) {
	cfg := testConfig()
	p, s := newTestProcessor(cfg)

	_, err := p.Apply(context.Background(), s, "ghost",
		ClientMessage{Type: CmdAddSong, Payload: mustMarshal(t, AddSongPayload{CatalogID: "cat1"})})
	if !errors.Is(err, ErrNotJoined) {
		t.Errorf("err = %v, want ErrNotJoined", err)
	}
}

func TestAddSongEnforcesPerUserLimit(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSongsPerUser = 1
	p, s := newTestProcessor(cfg)
	joinUser(t, p, s, "conn1", "alice", RoleController)

	addInlineSong(t, p, s, "conn1", "song-x") // starts playing, not pending
	addInlineSong(t, p, s, "conn1", "song-y") // pending #1

	_, err := p.Apply(context.Background(), s, "conn1",
		ClientMessage{Type: CmdAddSong, Payload: mustMarshal(t, AddSongPayload{MediaItem: &MediaItem{
			Title: "song-z", Artist: "artist", Duration: 100, StreamURL: "http://x/z",
		}})})
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("err = %v, want ErrQueueFull", err)
	}
	if s.Queue().Len() != 2 {
		t.Error("rejected add still touched the queue")
	}

	// Another singer is not throttled by alice's backlog.
	joinUser(t, p, s, "conn2", "bob", RoleController)
	addInlineSong(t, p, s, "conn2", "song-b")
}

func TestAddSongByCatalogReference(t *testing.T) {
	cfg := testConfig()
	p, s := newTestProcessor(cfg)
	joinUser(t, p, s, "conn1", "alice", RoleController)

	mustApply(t, p, s, "conn1", CmdAddSong, AddSongPayload{CatalogID: "cat1"})

	cur := s.CurrentEntry()
	if cur == nil || cur.MediaItem.Title != "Dancing Queen" {
		t.Fatalf("current = %v, want the catalog item", cur)
	}
	if cur.MediaItem.StreamURL == "" {
		t.Error("stream locator was not resolved")
	}
}

func TestAddSongUnknownCatalogID(t *testing.T) {
	cfg := testConfig()
	p, s := newTestProcessor(cfg)
	joinUser(t, p, s, "conn1", "alice", RoleController)

	_, err := p.Apply(context.Background(), s, "conn1",
		ClientMessage{Type: CmdAddSong, Payload: mustMarshal(t, AddSongPayload{CatalogID: "nope"})})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestAddSongCatalogDown(t *testing.T) {
	cfg := testConfig()
	p := NewCommandProcessor(cfg, &fakeCatalog{err: ErrCatalogUnavailable})
	s := NewSession("party", cfg)
	joinUser(t, p, s, "conn1", "alice", RoleController)

	_, err := p.Apply(context.Background(), s, "conn1",
		ClientMessage{Type: CmdAddSong, Payload: mustMarshal(t, AddSongPayload{CatalogID: "cat1"})})
	if !errors.Is(err, ErrCatalogUnavailable) {
		t.Errorf("err = %v, want ErrCatalogUnavailable", err)
	}
	if s.Queue().Len() != 0 {
		t.Error("queue touched while the catalog was down")
	}
}

func TestRemovePlayingSongAdvances(t *testing.T) {
	cfg := testConfig()
	p, s := newTestProcessor(cfg)
	joinUser(t, p, s, "conn1", "alice", RoleController)
	addInlineSong(t, p, s, "conn1", "song-x")
	addInlineSong(t, p, s, "conn1", "song-y")

	playingID := s.CurrentEntry().ID
	events := mustApply(t, p, s, "conn1", CmdRemoveSong, RemoveSongPayload{EntryID: playingID})
	assertEventTypes(t, events, EvtQueueUpdated, EvtSongStarted, EvtPlaybackChanged)

	if cur := s.CurrentEntry(); cur == nil || cur.MediaItem.Title != "song-y" {
		t.Fatalf("current = %v, want song-y", cur)
	}
	if s.Queue().Len() != 1 {
		t.Errorf("len = %d, want 1 (removed entry leaves no history)", s.Queue().Len())
	}
}

func TestRemoveLastPlayingSongStopsPlayback(t *testing.T) {
	cfg := testConfig()
	p, s := newTestProcessor(cfg)
	joinUser(t, p, s, "conn1", "alice", RoleController)
	addInlineSong(t, p, s, "conn1", "song-x")

	playingID := s.CurrentEntry().ID
	events := mustApply(t, p, s, "conn1", CmdRemoveSong, RemoveSongPayload{EntryID: playingID})
	assertEventTypes(t, events, EvtQueueUpdated, EvtPlaybackChanged)

	if s.Playback().IsPlaying {
		t.Error("still playing after removing the only song")
	}
}

func TestSkipSong(t *testing.T) {
	cfg := testConfig()
	p, s := newTestProcessor(cfg)
	joinUser(t, p, s, "conn1", "alice", RoleController)
	addInlineSong(t, p, s, "conn1", "song-x")
	addInlineSong(t, p, s, "conn1", "song-y")

	events := mustApply(t, p, s, "conn1", CmdSkipSong, nil)
	assertEventTypes(t, events, EvtSongEnded, EvtSongStarted, EvtQueueUpdated, EvtPlaybackChanged)

	retired := events[0].Msg.Payload.(QueueEntry)
	if retired.MediaItem.Title != "song-x" || retired.Status != StatusSkipped {
		t.Errorf("retired = %+v, want song-x skipped", retired)
	}
	started := events[1].Msg.Payload.(QueueEntry)
	if started.MediaItem.Title != "song-y" || started.Status != StatusPlaying {
		t.Errorf("started = %+v, want song-y playing", started)
	}
}

func TestSongEndedMarksCompleted(t *testing.T) {
	cfg := testConfig()
	p, s := newTestProcessor(cfg)
	joinUser(t, p, s, "conn1", "alice", RoleController)
	addInlineSong(t, p, s, "conn1", "song-x")

	events := mustApply(t, p, s, "conn1", CmdSongEnded, nil)
	assertEventTypes(t, events, EvtSongEnded, EvtQueueUpdated, EvtPlaybackChanged)

	retired := events[0].Msg.Payload.(QueueEntry)
	if retired.Status != StatusCompleted {
		t.Errorf("status = %s, want completed", retired.Status)
	}
	pc := events[2].Msg.Payload.(PlaybackChangedPayload)
	if pc.Action != "pause" || pc.State.IsPlaying {
		t.Errorf("playback = %+v, want paused", pc)
	}
}

func TestSkipWithNothingPlaying(t *testing.T) {
	cfg := testConfig()
	p, s := newTestProcessor(cfg)
	joinUser(t, p, s, "conn1", "alice", RoleController)

	_, err := p.Apply(context.Background(), s, "conn1", ClientMessage{Type: CmdSkipSong})
	if !errors.Is(err, ErrNoCurrentSong) {
		t.Errorf("err = %v, want ErrNoCurrentSong", err)
	}
}

func TestReorderCommand(t *testing.T) {
	cfg := testConfig()
	p, s := newTestProcessor(cfg)
	joinUser(t, p, s, "conn1", "alice", RoleController)
	addInlineSong(t, p, s, "conn1", "song-x") // playing
	addInlineSong(t, p, s, "conn1", "song-y")
	addInlineSong(t, p, s, "conn1", "song-z")

	target := s.Queue().Pending()[1] // song-z
	events := mustApply(t, p, s, "conn1", CmdReorderQueue,
		ReorderQueuePayload{EntryID: target.ID, NewPosition: 0})
	assertEventTypes(t, events, EvtQueueUpdated)

	if got := s.Queue().Pending()[0].MediaItem.Title; got != "song-z" {
		t.Errorf("head = %s, want song-z", got)
	}
}

func TestPlaybackControlActions(t *testing.T) {
	cfg := testConfig()
	p, s := newTestProcessor(cfg)
	joinUser(t, p, s, "conn1", "alice", RoleController)
	addInlineSong(t, p, s, "conn1", "song-x")

	seekTo := 33.5
	mustApply(t, p, s, "conn1", CmdPlaybackControl, PlaybackCommand{Action: "seek", Value: &seekTo})
	if got := s.Playback().CurrentTime; got != 33.5 {
		t.Errorf("currentTime = %v, want 33.5", got)
	}

	vol := 55.0
	mustApply(t, p, s, "conn1", CmdPlaybackControl, PlaybackCommand{Action: "volume", Value: &vol})
	if got := s.Playback().Volume; got != 55 {
		t.Errorf("volume = %d, want 55", got)
	}

	mustApply(t, p, s, "conn1", CmdPlaybackControl, PlaybackCommand{Action: "mute"})
	if !s.Playback().IsMuted {
		t.Error("mute toggle ignored")
	}

	mustApply(t, p, s, "conn1", CmdPlaybackControl, PlaybackCommand{Action: "pause"})
	events := mustApply(t, p, s, "conn1", CmdPlaybackControl, PlaybackCommand{Action: "play"})
	assertEventTypes(t, events, EvtPlaybackChanged)
	if !s.Playback().IsPlaying {
		t.Error("play did not resume")
	}

	_, err := p.Apply(context.Background(), s, "conn1",
		ClientMessage{Type: CmdPlaybackControl, Payload: mustMarshal(t, PlaybackCommand{Action: "warp"})})
	if !errors.Is(err, ErrInvalidAction) {
		t.Errorf("err = %v, want ErrInvalidAction", err)
	}
}

func TestPlayOnEmptySession(t *testing.T) {
	cfg := testConfig()
	p, s := newTestProcessor(cfg)
	joinUser(t, p, s, "conn1", "alice", RoleController)

	_, err := p.Apply(context.Background(), s, "conn1",
		ClientMessage{Type: CmdPlaybackControl, Payload: mustMarshal(t, PlaybackCommand{Action: "play"})})
	if !errors.Is(err, ErrNoCurrentSong) {
		t.Errorf("err = %v, want ErrNoCurrentSong", err)
	}
}

func TestPlayPromotesPendingSong(t *testing.T) {
	cfg := testConfig()
	p, _ := newTestProcessor(cfg)

	// A restored session can hold pending songs with nothing playing; an
	// explicit play promotes the head instead of failing.
	s := NewSession("party", cfg)
	s.Queue().Add(pendingEntry("z", "u1"))
	joinUser(t, p, s, "conn1", "alice", RoleController)

	events := mustApply(t, p, s, "conn1", CmdPlaybackControl, PlaybackCommand{Action: "play"})
	assertEventTypes(t, events, EvtSongStarted, EvtQueueUpdated, EvtPlaybackChanged)
	if cur := s.CurrentEntry(); cur == nil || cur.ID != "z" {
		t.Fatalf("current = %v, want z", cur)
	}
	if !s.Playback().IsPlaying {
		t.Error("play did not start playback")
	}
}

func TestTimeUpdateFromSource(t *testing.T) {
	cfg := testConfig()
	p, s := newTestProcessor(cfg)
	joinUser(t, p, s, "tv-conn", "TV Display", RoleViewer)
	joinUser(t, p, s, "phone", "alice", RoleController)
	addInlineSong(t, p, s, "phone", "song-x")

	v := 12.0
	events := mustApply(t, p, s, "tv-conn", CmdPlaybackControl, PlaybackCommand{Action: "time-update", Value: &v})
	assertEventTypes(t, events, EvtPlaybackChanged)
	if got := s.Playback().CurrentTime; got != 12 {
		t.Errorf("currentTime = %v, want 12", got)
	}

	// A non-source report is swallowed silently, no events, no error.
	w := 99.0
	events = mustApply(t, p, s, "phone", CmdPlaybackControl, PlaybackCommand{Action: "time-update", Value: &w})
	if len(events) != 0 {
		t.Errorf("events = %v, want none", eventTypes(events))
	}
	if got := s.Playback().CurrentTime; got != 12 {
		t.Errorf("currentTime = %v, want untouched 12", got)
	}
}

func TestHeartbeatCommand(t *testing.T) {
	cfg := testConfig()
	p, s := newTestProcessor(cfg)
	joinUser(t, p, s, "conn1", "alice", RoleController)

	events := mustApply(t, p, s, "conn1", CmdUserHeartbeat, nil)
	if len(events) != 0 {
		t.Errorf("heartbeat produced events: %v", eventTypes(events))
	}

	_, err := p.Apply(context.Background(), s, "ghost", ClientMessage{Type: CmdUserHeartbeat})
	if !errors.Is(err, ErrNotJoined) {
		t.Errorf("err = %v, want ErrNotJoined", err)
	}
}

func TestUnknownCommand(t *testing.T) {
	cfg := testConfig()
	p, s := newTestProcessor(cfg)

	_, err := p.Apply(context.Background(), s, "conn1", ClientMessage{Type: "self-destruct"})
	if err == nil {
		t.Fatal("unknown command accepted")
	}
	if errorCode(err) != "INVALID_REQUEST" {
		t.Errorf("code = %s, want INVALID_REQUEST", errorCode(err))
	}
}
