package coordinator

import (
	"context"
	"time"

	pkgredis "github.com/lucasmendez/gamekit-backend/pkg/redis"
)

const idempotencyTTL = 24 * time.Hour

// RedisGuard marks processed event ids in Redis with a TTL, so replays
// across restarts are skipped. SetNX makes the check-and-mark atomic.
type RedisGuard struct {
	client *pkgredis.Client
}

func NewRedisGuard(client *pkgredis.Client) *RedisGuard {
	return &RedisGuard{client: client}
}

func (g *RedisGuard) CheckAndMark(ctx context.Context, scope, eventID string) (bool, error) {
	key := g.client.IdempotencyKey(scope, eventID)
	created, err := g.client.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), idempotencyTTL)
	if err != nil {
		return false, err
	}
	return !created, nil
}
