package main

// SessionRepository persists session snapshots so a session survives a
// process restart. Connections do not survive; only the queue and playback
// state are worth keeping.
type SessionRepository interface {
	SaveSnapshot(snap SessionSnapshot) error
	LoadSnapshot(sessionID string) (*SessionSnapshot, error) // nil, nil when absent
	DeleteSession(sessionID string) error
	close()
}

// NoopRepository keeps sessions in memory only. Selected when DB_URL is
// unset.
type NoopRepository struct{}

func (NoopRepository) SaveSnapshot(SessionSnapshot) error { return nil }

func (NoopRepository) LoadSnapshot(string) (*SessionSnapshot, error) { return nil, nil }

func (NoopRepository) DeleteSession(string) error { return nil }

func (NoopRepository) close() {}
