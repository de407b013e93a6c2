package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func exerciseLocker(t *testing.T, l Locker) {
	t.Helper()
	var (
		wg      sync.WaitGroup
		active  int32
		maxSeen int32
		total   int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(context.Background(), AccountKey("user-1"))
			if err != nil {
				t.Errorf("lock: %v", err)
				return
			}
			n := atomic.AddInt32(&active, 1)
			for {
				m := atomic.LoadInt32(&maxSeen)
				if n <= m || atomic.CompareAndSwapInt32(&maxSeen, m, n) {
					break
				}
			}
			total++
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&active, -1)
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxSeen)
	assert.Equal(t, 20, total)
}

func TestKeyedSerializesSameKey(t *testing.T) {
	k := NewKeyed()
	exerciseLocker(t, k)
	assert.Zero(t, k.size())
}

func TestKeyedIndependentKeys(t *testing.T) {
	k := NewKeyed()
	unlockA, err := k.Lock(context.Background(), "a")
	require.NoError(t, err)
	defer unlockA()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	unlockB, err := k.Lock(ctx, "b")
	require.NoError(t, err)
	unlockB()
}

func TestKeyedHonoursContext(t *testing.T) {
	k := NewKeyed()
	unlock, err := k.Lock(context.Background(), "a")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = k.Lock(ctx, "a")
	assert.ErrorIs(t, err, ErrLockTimeout)

	unlock()
	unlock()
	assert.Zero(t, k.size())
}

func newRedisLocker(t *testing.T, ttl time.Duration) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedis(client, ttl, zap.NewNop()), mr
}

func TestRedisLockSerializes(t *testing.T) {
	l, mr := newRedisLocker(t, time.Second)
	exerciseLocker(t, l)
	assert.False(t, mr.Exists(AccountKey("user-1")))
}

func TestRedisTryLockAndRelease(t *testing.T) {
	l, mr := newRedisLocker(t, time.Second)
	ctx := context.Background()

	token, ok, err := l.TryLock(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = l.TryLock(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	// A stale token does not release someone else's lock.
	require.NoError(t, l.Release(ctx, "k", "not-the-token"))
	assert.True(t, mr.Exists("k"))

	require.NoError(t, l.Release(ctx, "k", token))
	assert.False(t, mr.Exists("k"))
}

func TestRedisLockExpires(t *testing.T) {
	l, mr := newRedisLocker(t, 5*time.Second)
	ctx := context.Background()

	_, ok, err := l.TryLock(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(6 * time.Second)
	_, ok, err = l.TryLock(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLockTimesOut(t *testing.T) {
	l, _ := newRedisLocker(t, time.Minute)
	_, ok, err := l.TryLock(context.Background(), AccountKey("user-1"))
	require.NoError(t, err)
	require.True(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, AccountKey("user-1"))
	assert.ErrorIs(t, err, ErrLockTimeout)
}
