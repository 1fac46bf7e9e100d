package abuse

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// historyTTL bounds how long override history stays in Redis. Far longer
// than any sensible detection window.
const historyTTL = 24 * time.Hour

// RedisTracker is a Tracker backed by Redis sorted sets, shared across
// replicas. Overrides live in a per-user set scored by timestamp; the
// alert cooldown is a plain key.
type RedisTracker struct {
	client *redis.Client
}

// NewRedisTracker returns a tracker using client.
func NewRedisTracker(client *redis.Client) *RedisTracker {
	return &RedisTracker{client: client}
}

func historyKey(userID string) string {
	return "abuse:overrides:" + userID
}

func alertKey(userID string) string {
	return "abuse:last_alert:" + userID
}

// Record stores one override.
func (t *RedisTracker) Record(ctx context.Context, o Override) error {
	member, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("failed to marshal override: %w", err)
	}

	key := historyKey(o.UserID)
	pipe := t.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(o.At.UnixNano()),
		Member: string(member),
	})
	pipe.Expire(ctx, key, historyTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record override: %w", err)
	}
	return nil
}

// RecentSince returns the user's overrides at or after cutoff and prunes
// older entries.
func (t *RedisTracker) RecentSince(ctx context.Context, userID string, cutoff time.Time) ([]Override, error) {
	key := historyKey(userID)
	min := strconv.FormatInt(cutoff.UnixNano(), 10)

	pipe := t.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", "("+min)
	rangeCmd := pipe.ZRangeByScore(ctx, key, &redis.ZRangeBy{Min: min, Max: "+inf"})
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to read override history: %w", err)
	}

	members, err := rangeCmd.Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read override history: %w", err)
	}

	out := make([]Override, 0, len(members))
	for _, m := range members {
		var o Override
		if err := json.Unmarshal([]byte(m), &o); err != nil {
			return nil, fmt.Errorf("failed to unmarshal override: %w", err)
		}
		out = append(out, o)
	}
	return out, nil
}

// LastAlert returns the user's last alert time, zero if none.
func (t *RedisTracker) LastAlert(ctx context.Context, userID string) (time.Time, error) {
	val, err := t.client.Get(ctx, alertKey(userID)).Result()
	if err == redis.Nil {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read last alert: %w", err)
	}
	nanos, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse last alert: %w", err)
	}
	return time.Unix(0, nanos).UTC(), nil
}

// MarkAlert records an alert time for the user.
func (t *RedisTracker) MarkAlert(ctx context.Context, userID string, at time.Time) error {
	val := strconv.FormatInt(at.UnixNano(), 10)
	if err := t.client.Set(ctx, alertKey(userID), val, historyTTL).Err(); err != nil {
		return fmt.Errorf("failed to mark alert: %w", err)
	}
	return nil
}

// Clear drops the user's history and alert state.
func (t *RedisTracker) Clear(ctx context.Context, userID string) error {
	if err := t.client.Del(ctx, historyKey(userID), alertKey(userID)).Err(); err != nil {
		return fmt.Errorf("failed to clear abuse history: %w", err)
	}
	return nil
}
