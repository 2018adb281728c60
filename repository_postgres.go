package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

type PostgresRepository struct {
	db *sqlx.DB
}

func NewPostgresRepository(dbURL string) (*PostgresRepository, error) {
	db, err := sqlx.Connect("postgres", dbURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	schema := `
	  create table if not exists sessions (
		session_id text primary key,
		playback   jsonb not null,
		created_at timestamptz not null
	  );
	  create table if not exists queue_entries (
		entry_id   text primary key,
		session_id text not null references sessions(session_id) on delete cascade,
		media      jsonb not null,
		added_by   text not null,
		added_at   timestamptz not null,
		position   int not null,
		status     text not null,
		play_order int not null
	  );`

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &PostgresRepository{db: db}, nil
}

func (r *PostgresRepository) SaveSnapshot(snap SessionSnapshot) error {
	playback, err := json.Marshal(snap.Playback)
	if err != nil {
		return err
	}

	tx, err := r.db.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
	  insert into sessions (session_id, playback, created_at)
	  values ($1, $2, $3)
	  on conflict(session_id) do update
	     set playback = excluded.playback;`,
		snap.ID, playback, snap.CreatedAt)
	if err != nil {
		return err
	}

	if _, err := tx.Exec(`delete from queue_entries where session_id=$1;`, snap.ID); err != nil {
		return err
	}

	for i, entry := range snap.Queue {
		media, err := json.Marshal(entry.MediaItem)
		if err != nil {
			return err
		}
		_, err = tx.Exec(`
		  insert into queue_entries
			(entry_id, session_id, media, added_by, added_at, position, status, play_order)
		  values ($1, $2, $3, $4, $5, $6, $7, $8);`,
			entry.ID, snap.ID, media, entry.AddedBy, entry.AddedAt,
			entry.Position, string(entry.Status), i)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (r *PostgresRepository) LoadSnapshot(sessionID string) (*SessionSnapshot, error) {
	snap := &SessionSnapshot{ID: sessionID}

	var playback []byte
	err := r.db.QueryRow(`
	  select playback, created_at from sessions where session_id=$1;`,
		sessionID).Scan(&playback, &snap.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(playback, &snap.Playback); err != nil {
		return nil, err
	}

	rows, err := r.db.Query(`
	  select entry_id, media, added_by, added_at, position, status
	  from queue_entries
	  where session_id=$1
	  order by play_order;`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var entry QueueEntry
		var media []byte
		var status string
		if err := rows.Scan(&entry.ID, &media, &entry.AddedBy, &entry.AddedAt,
			&entry.Position, &status); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(media, &entry.MediaItem); err != nil {
			return nil, err
		}
		entry.Status = QueueEntryStatus(status)
		snap.Queue = append(snap.Queue, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return snap, nil
}

func (r *PostgresRepository) DeleteSession(sessionID string) error {
	_, err := r.db.Exec(`delete from sessions where session_id=$1;`, sessionID)
	return err
}

func (r *PostgresRepository) close() {
	if err := r.db.Close(); err != nil {
		log.Println("failed to close postgres:", err)
	}
}
