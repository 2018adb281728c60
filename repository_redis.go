package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

const sessionKeyPrefix = "karaoke:session:"

// RedisRepository keeps session snapshots in redis, one JSON value per
// session. Snapshots expire after a day of inactivity so abandoned sessions
// clean themselves up.
type RedisRepository struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisRepository(dbURL string) (*RedisRepository, error) {
	opts, err := redis.ParseURL(dbURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &RedisRepository{rdb: rdb, ttl: 24 * time.Hour}, nil
}

func (r *RedisRepository) SaveSnapshot(snap SessionSnapshot) error {
	snap.Users = nil
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return r.rdb.Set(ctx, sessionKeyPrefix+snap.ID, data, r.ttl).Err()
}

func (r *RedisRepository) LoadSnapshot(sessionID string) (*SessionSnapshot, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	data, err := r.rdb.Get(ctx, sessionKeyPrefix+sessionID).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	snap := &SessionSnapshot{}
	if err := json.Unmarshal(data, snap); err != nil {
		return nil, err
	}
	return snap, nil
}

func (r *RedisRepository) DeleteSession(sessionID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return r.rdb.Del(ctx, sessionKeyPrefix+sessionID).Err()
}

func (r *RedisRepository) close() {
	if err := r.rdb.Close(); err != nil {
		log.Println("failed to close redis:", err)
	}
}
