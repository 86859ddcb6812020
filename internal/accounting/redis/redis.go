package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/studytick/studytick/internal/accounting"
	"github.com/studytick/studytick/internal/config"
)

// Client implements accounting.Client against Redis.
//
// Keys:
//
//	studytick:user:{userID}            hash: total_seconds, points, updated_at
//	studytick:lb:{groupID}:{date}      sorted set: member userID, score seconds
//	studytick:flush:{groupID}:{userID}:{flushID}  dedup marker
type Client struct {
	client *redis.Client
}

// Open creates a Redis-backed accounting client and verifies the
// connection.
func Open(cfg config.RedisConfig) (*Client, error) {
	dialTimeout, err := time.ParseDuration(cfg.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid dial_timeout: %w", err)
	}
	readTimeout, err := time.ParseDuration(cfg.ReadTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid read_timeout: %w", err)
	}
	writeTimeout, err := time.ParseDuration(cfg.WriteTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid write_timeout: %w", err)
	}

	addr := cfg.Host
	if cfg.Port > 0 {
		addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  dialTimeout,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Client{client: client}, nil
}

// NewWithClient wraps an existing Redis client. Used by tests.
func NewWithClient(client *redis.Client) *Client {
	return &Client{client: client}
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.client.Close()
}

// Redis exposes the underlying connection for collaborators sharing the
// same store (group memberships).
func (c *Client) Redis() *redis.Client {
	return c.client
}

func userKey(userID string) string {
	return "studytick:user:" + userID
}

func leaderboardKey(groupID, date string) string {
	return fmt.Sprintf("studytick:lb:%s:%s", groupID, date)
}

func flushKey(groupID, userID, flushID string) string {
	return fmt.Sprintf("studytick:flush:%s:%s:%s", groupID, userID, flushID)
}

// SetTotalTime overwrites the user's lifetime total.
func (c *Client) SetTotalTime(ctx context.Context, userID string, seconds int64) error {
	return c.client.HSet(ctx, userKey(userID),
		"user_id", userID,
		"total_seconds", seconds,
		"updated_at", time.Now().UTC().Format(time.RFC3339Nano),
	).Err()
}

// AddPoints adds a point delta to the user's balance.
func (c *Client) AddPoints(ctx context.Context, userID string, delta int64) error {
	pipe := c.client.Pipeline()
	pipe.HSetNX(ctx, userKey(userID), "user_id", userID)
	pipe.HIncrBy(ctx, userKey(userID), "points", delta)
	pipe.HSet(ctx, userKey(userID), "updated_at", time.Now().UTC().Format(time.RFC3339Nano))
	_, err := pipe.Exec(ctx)
	return err
}

// AddGroupDailyTime atomically adds a contribution delta, deduplicated by
// flush ID so a re-sent flush never double-counts.
func (c *Client) AddGroupDailyTime(ctx context.Context, userID, groupID, date string, deltaSeconds int64, flushID string) error {
	script := redis.NewScript(addGroupDailyTimeScript)

	keys := []string{
		leaderboardKey(groupID, date),
		flushKey(groupID, userID, flushID),
	}
	args := []interface{}{userID, deltaSeconds}

	return script.Run(ctx, c.client, keys, args...).Err()
}

// UserTotals reads back the user's stored totals.
func (c *Client) UserTotals(ctx context.Context, userID string) (*accounting.UserTotals, error) {
	data, err := c.client.HGetAll(ctx, userKey(userID)).Result()
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, accounting.ErrNotFound
	}
	return parseUserTotals(userID, data)
}

// GroupDailyLeaderboard returns a group's contributions for a date,
// ordered by seconds descending.
func (c *Client) GroupDailyLeaderboard(ctx context.Context, groupID, date string) ([]accounting.LeaderboardEntry, error) {
	members, err := c.client.ZRevRangeWithScores(ctx, leaderboardKey(groupID, date), 0, -1).Result()
	if err != nil {
		return nil, err
	}

	entries := make([]accounting.LeaderboardEntry, 0, len(members))
	for i, m := range members {
		userID, _ := m.Member.(string)
		entries = append(entries, accounting.LeaderboardEntry{
			UserID:  userID,
			Seconds: int64(m.Score),
			Rank:    i + 1,
		})
	}
	return entries, nil
}

func parseUserTotals(userID string, data map[string]string) (*accounting.UserTotals, error) {
	totals := &accounting.UserTotals{UserID: userID}

	if v, ok := data["total_seconds"]; ok {
		seconds, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse total_seconds: %w", err)
		}
		totals.TotalSeconds = seconds
	}
	if v, ok := data["points"]; ok {
		points, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse points: %w", err)
		}
		totals.Points = points
	}
	if v, ok := data["updated_at"]; ok {
		if ts, err := time.Parse(time.RFC3339Nano, v); err == nil {
			totals.UpdatedAt = ts
		}
	}

	return totals, nil
}
