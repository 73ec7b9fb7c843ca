package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"palchat/internal/redis"
)

const (
	redisStaleChannel = "history:stale"
	redisSnapshotTTL  = 30 * time.Minute
)

type staleMessage struct {
	ThreadID string `json:"thread_id"`
	Origin   string `json:"origin"`
}

// RedisCache shares snapshots between processes. Invalidation deletes the key
// and broadcasts the thread id so siblings can drop their local copies.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	origin string
}

// NewRedisCache tags its broadcasts with origin so a process can ignore its own.
func NewRedisCache(client *redis.Client, origin string) *RedisCache {
	return &RedisCache{client: client, ttl: redisSnapshotTTL, origin: origin}
}

func snapshotKey(threadID string) string {
	return fmt.Sprintf("history:snapshot:%s", threadID)
}

func (r *RedisCache) Get(ctx context.Context, threadID string) (Snapshot, bool) {
	if r == nil || r.client == nil || threadID == "" {
		return Snapshot{}, false
	}
	var snap Snapshot
	if err := r.client.GetJSON(ctx, snapshotKey(threadID), &snap); err != nil {
		if !errors.Is(err, redis.ErrCacheMiss) {
			log.WithError(err).WithField("thread_id", threadID).Warn("history rdb load failed")
		}
		return Snapshot{}, false
	}
	return snap, true
}

func (r *RedisCache) Put(ctx context.Context, snap Snapshot) {
	if r == nil || r.client == nil || snap.ThreadID == "" {
		return
	}
	if err := r.client.SetJSON(ctx, snapshotKey(snap.ThreadID), snap, r.ttl); err != nil {
		log.WithError(err).WithField("thread_id", snap.ThreadID).Warn("history rdb store failed")
	}
}

func (r *RedisCache) Invalidate(ctx context.Context, threadID string) {
	if r == nil || r.client == nil || threadID == "" {
		return
	}
	if err := r.client.Del(ctx, snapshotKey(threadID)); err != nil && !errors.Is(err, redis.ErrCacheMiss) {
		log.WithError(err).WithField("thread_id", threadID).Warn("history rdb invalidate failed")
	}
	payload, err := json.Marshal(staleMessage{ThreadID: threadID, Origin: r.origin})
	if err != nil {
		return
	}
	if err := r.client.Publish(ctx, redisStaleChannel, payload); err != nil {
		log.WithError(err).Warn("history publish stale failed")
	}
}

// Listen calls onStale for every thread another process marks stale.
func (r *RedisCache) Listen(ctx context.Context, onStale func(threadID string)) error {
	if r == nil || r.client == nil || onStale == nil {
		return nil
	}
	return r.client.Subscribe(ctx, redisStaleChannel, func(payload string) {
		var msg staleMessage
		if err := json.Unmarshal([]byte(payload), &msg); err != nil {
			log.WithError(err).Warn("history stale decode failed")
			return
		}
		if msg.Origin == r.origin {
			return
		}
		onStale(msg.ThreadID)
	})
}
