package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/openlearnhq/engagement-backend/internal/logger"
	"github.com/openlearnhq/engagement-backend/internal/utils"
)

// RankChangeMessage is published when a user newly enters the top of a
// course leaderboard. Downstream notification services subscribe to it.
type RankChangeMessage struct {
	SchemaVersion   string    `json:"_schema_version"`
	CourseID        string    `json:"course_id"`
	UserID          uuid.UUID `json:"user_id"`
	Rank            int       `json:"rank"`
	LeaderboardName string    `json:"leaderboard_name"`
}

// RankNotifier publishes rank-change messages on a redis channel.
type RankNotifier struct {
	log     *logger.Logger
	rdb     *goredis.Client
	channel string
}

func NewRankNotifier(log *logger.Logger) (*RankNotifier, error) {
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
	return &RankNotifier{
		log:     log.With("client", "RedisRankNotifier"),
		rdb:     rdb,
		channel: utils.GetEnv("REDIS_RANK_CHANNEL", "engagement.rank-changed", log),
	}, nil
}

func (n *RankNotifier) PublishRankChange(ctx context.Context, courseID string, userID uuid.UUID, rank int) error {
	if n == nil || n.rdb == nil {
		return fmt.Errorf("rank notifier not initialized")
	}
	msg := RankChangeMessage{
		SchemaVersion:   "1",
		CourseID:        courseID,
		UserID:          userID,
		Rank:            rank,
		LeaderboardName: "Engagement",
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return n.rdb.Publish(ctx, n.channel, raw).Err()
}

func (n *RankNotifier) Close() error {
	if n == nil || n.rdb == nil {
		return nil
	}
	return n.rdb.Close()
}
