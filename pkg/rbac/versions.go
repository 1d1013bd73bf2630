package rbac

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// VersionCounter tracks one permission version per organization. Every
// instance reads the same counter, so a bump made by one instance is seen by
// every other instance on its next cache check.
type VersionCounter interface {
	CurrentVersion(ctx context.Context, orgID int64) (int64, error)
	IncrementVersion(ctx context.Context, orgID int64) (int64, error)
}

var _ VersionCounter = (*Store)(nil)
var _ VersionCounter = (*RedisVersionCounter)(nil)

// RedisVersionCounter keeps permission versions in Redis with INCR
type RedisVersionCounter struct {
	client *redis.Client
	prefix string
}

// NewRedisVersionCounterFromClient keeps versions on an existing client. The
// caller owns the client and closes it.
func NewRedisVersionCounterFromClient(client *redis.Client, prefix string) *RedisVersionCounter {
	if prefix == "" {
		prefix = "crewform:permission_version"
	}
	return &RedisVersionCounter{client: client, prefix: prefix}
}

func (c *RedisVersionCounter) key(orgID int64) string {
	return fmt.Sprintf("%s:%d", c.prefix, orgID)
}

// CurrentVersion returns the organization's version; a missing counter is version 0
func (c *RedisVersionCounter) CurrentVersion(ctx context.Context, orgID int64) (int64, error) {
	version, err := c.client.Get(ctx, c.key(orgID)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get failed: %w", err)
	}
	return version, nil
}

// IncrementVersion atomically bumps the organization's version
func (c *RedisVersionCounter) IncrementVersion(ctx context.Context, orgID int64) (int64, error) {
	version, err := c.client.Incr(ctx, c.key(orgID)).Result()
	if err != nil {
		return 0, fmt.Errorf("redis incr failed: %w", err)
	}
	return version, nil
}
