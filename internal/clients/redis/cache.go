package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/openlearnhq/engagement-backend/internal/logger"
	"github.com/openlearnhq/engagement-backend/internal/utils"
)

// ScoreCache drops the read-through cache entry frontends keep for a
// (user, course) engagement score. The cache itself belongs to the caller
// side; this service only knows how to invalidate it.
type ScoreCache struct {
	log       *logger.Logger
	rdb       *goredis.Client
	keyPrefix string
}

func NewScoreCache(log *logger.Logger) (*ScoreCache, error) {
	addr := strings.TrimSpace(utils.GetEnv("REDIS_ADDR", "", log))
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &ScoreCache{
		log:       log.With("client", "RedisScoreCache"),
		rdb:       rdb,
		keyPrefix: utils.GetEnv("REDIS_SCORE_KEY_PREFIX", "engagement:score", log),
	}, nil
}

func (c *ScoreCache) InvalidateScore(ctx context.Context, courseID string, userID uuid.UUID) {
	if c == nil || c.rdb == nil {
		return
	}
	key := fmt.Sprintf("%s:%s:%s", c.keyPrefix, courseID, userID)
	if err := c.rdb.Del(ctx, key).Err(); err != nil {
		c.log.Warn("Score cache invalidation failed", "key", key, "error", err)
	}
}

func (c *ScoreCache) Close() error {
	if c == nil || c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}
