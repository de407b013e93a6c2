package lock

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/smallbiznis/luc/internal/config"
)

const lockReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

// NewClient returns nil when no redis address is configured.
func NewClient(cfg config.Config) *redis.Client {
	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(cfg.RedisPassword),
		DB:       cfg.RedisDB,
	})
}

// Redis is a Locker shared across processes. A local Keyed lock is taken
// first so goroutines in one process queue without polling redis.
type Redis struct {
	client *redis.Client
	script *redis.Script
	ttl    time.Duration
	retry  time.Duration
	local  *Keyed
	log    *zap.Logger
}

func NewRedis(client *redis.Client, ttl time.Duration, log *zap.Logger) *Redis {
	if client == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Redis{
		client: client,
		script: redis.NewScript(lockReleaseScript),
		ttl:    ttl,
		retry:  25 * time.Millisecond,
		local:  NewKeyed(),
		log:    log,
	}
}

func (l *Redis) TryLock(ctx context.Context, key string) (string, bool, error) {
	if l == nil || l.client == nil {
		return "", false, errors.New("lock client not configured")
	}
	if key == "" {
		return "", false, errors.New("lock key is empty")
	}

	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

func (l *Redis) Release(ctx context.Context, key, token string) error {
	if l == nil || l.client == nil {
		return nil
	}
	if key == "" || token == "" {
		return nil
	}
	return l.script.Run(ctx, l.client, []string{key}, token).Err()
}

// Lock polls until the key is acquired or ctx ends.
func (l *Redis) Lock(ctx context.Context, key string) (Unlock, error) {
	unlockLocal, err := l.local.Lock(ctx, key)
	if err != nil {
		return nil, err
	}

	ticker := time.NewTicker(l.retry)
	defer ticker.Stop()
	for {
		token, ok, err := l.TryLock(ctx, key)
		if err != nil {
			unlockLocal()
			return nil, err
		}
		if ok {
			return func() {
				// The request context may already be done.
				releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				if err := l.Release(releaseCtx, key, token); err != nil {
					l.log.Warn("release lock failed", zap.String("key", key), zap.Error(err))
				}
				unlockLocal()
			}, nil
		}
		select {
		case <-ctx.Done():
			unlockLocal()
			return nil, ErrLockTimeout
		case <-ticker.C:
		}
	}
}
