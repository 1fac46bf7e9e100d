// Package health provides health check implementations for external dependencies.
package health

import (
"context"

"github.com/redis/go-redis/v9"
)

// RedisChecker reports whether Redis, which backs rate limiting and
// abuse tracking, is reachable.
type RedisChecker struct {
client *redis.Client
}

// NewRedisChecker creates a Redis health checker for the /ready probe.
// Deployments without Redis simply omit the checker.
func NewRedisChecker(client *redis.Client) *RedisChecker {
return &RedisChecker{
client: client,
}
}

// HealthCheck sends a PING.
func (r *RedisChecker) HealthCheck(ctx context.Context) error {
return r.client.Ping(ctx).Err()
}
