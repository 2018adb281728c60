package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteRepository is the development backend. It stores whole snapshots as
// JSON blobs; there is no need for queryable columns on a single-box setup.
type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(filePath string) (*SQLiteRepository, error) {
	if filePath == "" {
		filePath = "sessions.sqlite3"
	}
	db, err := sql.Open("sqlite3", filePath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	schema := `
	  create table if not exists sessions (
		session_id text primary key,
		snapshot   text not null
	  );`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) SaveSnapshot(snap SessionSnapshot) error {
	// Strip the user registry: connections never survive a restart.
	snap.Users = nil
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(`
	  insert into sessions (session_id, snapshot) values (?, ?)
	  on conflict(session_id) do update set snapshot = excluded.snapshot;`,
		snap.ID, string(data))
	return err
}

func (r *SQLiteRepository) LoadSnapshot(sessionID string) (*SessionSnapshot, error) {
	var data string
	err := r.db.QueryRow(`select snapshot from sessions where session_id=?;`, sessionID).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	snap := &SessionSnapshot{}
	if err := json.Unmarshal([]byte(data), snap); err != nil {
		return nil, err
	}
	return snap, nil
}

func (r *SQLiteRepository) DeleteSession(sessionID string) error {
	_, err := r.db.Exec(`delete from sessions where session_id=?;`, sessionID)
	return err
}

func (r *SQLiteRepository) close() {
	if err := r.db.Close(); err != nil {
		log.Println("failed to close sqlite:", err)
	}
}
