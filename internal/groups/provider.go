// Package groups resolves which study groups a user belongs to. The
// engine refreshes memberships on demand (group join/leave, navigation),
// never continuously, so lookups sit behind a short-TTL cache.
package groups

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Provider resolves a user's current group memberships.
type Provider interface {
	// Memberships returns the IDs of the groups the user belongs to.
	// Missing users get an empty slice, not an error.
	Memberships(ctx context.Context, userID string) ([]string, error)

	// Invalidate drops any cached memberships for the user. Called after
	// a join or leave so the next refresh sees the change.
	Invalidate(userID string)
}

const membershipCacheSize = 1024

// RedisProvider reads memberships from the set studytick:groups:{userID},
// fronted by an expirable LRU so navigation-triggered refreshes do not
// hammer the store.
type RedisProvider struct {
	client *redis.Client
	cache  *expirable.LRU[string, []string]
	logger zerolog.Logger
}

// NewRedisProvider creates a membership provider with the given cache TTL.
func NewRedisProvider(client *redis.Client, ttl time.Duration, logger zerolog.Logger) *RedisProvider {
	return &RedisProvider{
		client: client,
		cache:  expirable.NewLRU[string, []string](membershipCacheSize, nil, ttl),
		logger: logger.With().Str("component", "groups").Logger(),
	}
}

func membershipKey(userID string) string {
	return "studytick:groups:" + userID
}

// Memberships returns the user's group IDs, from cache when fresh.
func (p *RedisProvider) Memberships(ctx context.Context, userID string) ([]string, error) {
	if cached, ok := p.cache.Get(userID); ok {
		return cached, nil
	}

	members, err := p.client.SMembers(ctx, membershipKey(userID)).Result()
	if err != nil {
		return nil, err
	}

	p.cache.Add(userID, members)

	p.logger.Debug().
		Str("user_id", userID).
		Int("groups", len(members)).
		Msg("Resolved group memberships")

	return members, nil
}

// Invalidate drops the cached memberships for a user.
func (p *RedisProvider) Invalidate(userID string) {
	p.cache.Remove(userID)
}

// Join adds the user to a group and invalidates the cache entry.
func (p *RedisProvider) Join(ctx context.Context, userID, groupID string) error {
	if err := p.client.SAdd(ctx, membershipKey(userID), groupID).Err(); err != nil {
		return err
	}
	p.cache.Remove(userID)
	return nil
}

// Leave removes the user from a group and invalidates the cache entry.
func (p *RedisProvider) Leave(ctx context.Context, userID, groupID string) error {
	if err := p.client.SRem(ctx, membershipKey(userID), groupID).Err(); err != nil {
		return err
	}
	p.cache.Remove(userID)
	return nil
}
