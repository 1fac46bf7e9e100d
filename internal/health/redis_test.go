package health

import (
"context"
"testing"

"github.com/redis/go-redis/v9"
)

func TestNewRedisChecker(t *testing.T) {
client := redis.NewClient(&redis.Options{
Addr: "localhost:6379",
})

checker := NewRedisChecker(client)
if checker == nil {
t.Fatal("expected checker to be non-nil")
}

if checker.client != client {
t.Error("expected checker to hold the provided client")
}
}

// TestRedisCheckerCancelledContext verifies the ping respects context
// cancellation so a stalled Redis cannot wedge the readiness probe.
func TestRedisCheckerCancelledContext(t *testing.T) {
client := redis.NewClient(&redis.Options{
Addr: "localhost:6379",
})

checker := NewRedisChecker(client)

ctx, cancel := context.WithCancel(context.Background())
cancel()

if err := checker.HealthCheck(ctx); err == nil {
t.Error("expected an error from a cancelled context")
}
}
