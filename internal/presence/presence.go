// Package presence mirrors connection state into Redis for dashboards and
// sibling services. The mirror is write-only: routing decisions always come
// from the in-process registry.
package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Store struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
	log    *zap.SugaredLogger
}

func NewStore(addr, password string, db int, prefix string, ttl time.Duration, log *zap.SugaredLogger) *Store {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Warnw("redis unreachable, presence mirror degraded", "addr", addr, "error", err)
	}
	return &Store{rdb: rdb, prefix: prefix, ttl: ttl, log: log}
}

func (s *Store) key(userID string) string {
	return fmt.Sprintf("%s:presence:%s", s.prefix, userID)
}

// SetOnline marks the user online with a TTL; called on register and
// refreshed on every inbound frame so idle-but-connected users stay online.
func (s *Store) SetOnline(ctx context.Context, userID string) {
	if s == nil {
		return
	}
	if err := s.rdb.Set(ctx, s.key(userID), "online", s.ttl).Err(); err != nil {
		s.log.Debugw("presence set failed", "user_id", userID, "error", err)
	}
}

// SetOffline drops the key once the user's last connection is gone.
func (s *Store) SetOffline(ctx context.Context, userID string) {
	if s == nil {
		return
	}
	if err := s.rdb.Del(ctx, s.key(userID)).Err(); err != nil {
		s.log.Debugw("presence del failed", "user_id", userID, "error", err)
	}
}

func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	return s.rdb.Close()
}
