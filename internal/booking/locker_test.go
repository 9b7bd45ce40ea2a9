package booking

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSortedUnique(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, sortedUnique([]string{"c", "a", "b", "a", "c"}))
	assert.Empty(t, sortedUnique(nil))
}

func TestLocalLockerExclusive(t *testing.T) {
	l := NewLocalLocker()
	ctx := context.Background()

	unlock, err := l.Lock(ctx, "date:2026-03-03")
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = l.Lock(waitCtx, "date:2026-03-03")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// Other dates are independent.
	other, err := l.Lock(ctx, "date:2026-03-04")
	require.NoError(t, err)
	other()

	unlock()
	unlock()

	again, err := l.Lock(ctx, "date:2026-03-03")
	require.NoError(t, err)
	again()
	assert.Empty(t, l.locks, "released keys are forgotten")
}

func TestLocalLockerNoDeadlockAcrossDays(t *testing.T) {
	l := NewLocalLocker()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		keys := []string{"date:2026-03-03", "date:2026-03-04"}
		if i%2 == 1 {
			keys[0], keys[1] = keys[1], keys[0]
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(ctx, keys...)
			if !assert.NoError(t, err) {
				return
			}
			unlock()
		}()
	}
	wg.Wait()
}

func TestLocalLockerSerialises(t *testing.T) {
	l := NewLocalLocker()
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(context.Background(), "date:2026-03-03")
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			inside--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxSeen)
}

func newRedisLocker(t *testing.T, opts RedisLockerOptions) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	logger := zerolog.Nop()
	return NewRedisLocker(client, opts, &logger), mr
}

func TestRedisLocker(t *testing.T) {
	l, mr := newRedisLocker(t, RedisLockerOptions{Wait: 100 * time.Millisecond})
	ctx := context.Background()

	unlock, err := l.Lock(ctx, "date:2026-03-04", "date:2026-03-03")
	require.NoError(t, err)
	assert.True(t, mr.Exists("eyeclinic:lock:date:2026-03-03"))
	assert.True(t, mr.Exists("eyeclinic:lock:date:2026-03-04"))
	assert.Equal(t, 10*time.Second, mr.TTL("eyeclinic:lock:date:2026-03-03"))

	_, err = l.Lock(ctx, "date:2026-03-04")
	assert.ErrorIs(t, err, ErrLockTimeout)

	unlock()
	assert.False(t, mr.Exists("eyeclinic:lock:date:2026-03-03"))
	assert.False(t, mr.Exists("eyeclinic:lock:date:2026-03-04"))

	again, err := l.Lock(ctx, "date:2026-03-04")
	require.NoError(t, err)
	again()
}

func TestRedisLockerLeavesForeignLock(t *testing.T) {
	l, mr := newRedisLocker(t, RedisLockerOptions{Wait: 50 * time.Millisecond})
	ctx := context.Background()

	require.NoError(t, mr.Set("eyeclinic:lock:date:2026-03-04", "someone-else"))

	// The first key is taken, the second is not; the partial hold is released.
	_, err := l.Lock(ctx, "date:2026-03-03", "date:2026-03-04")
	assert.ErrorIs(t, err, ErrLockTimeout)
	assert.False(t, mr.Exists("eyeclinic:lock:date:2026-03-03"))

	got, err := mr.Get("eyeclinic:lock:date:2026-03-04")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got)
}

func TestRedisLockerExpiry(t *testing.T) {
	l, mr := newRedisLocker(t, RedisLockerOptions{TTL: time.Second, Wait: 50 * time.Millisecond})
	ctx := context.Background()

	_, err := l.Lock(ctx, "date:2026-03-03")
	require.NoError(t, err)

	// A crashed holder never unlocks; the TTL frees the date.
	mr.FastForward(2 * time.Second)

	unlock, err := l.Lock(ctx, "date:2026-03-03")
	require.NoError(t, err)
	unlock()
}

func TestGatewayWithRedisLocker(t *testing.T) {
	f := newFixture(t)
	l, _ := newRedisLocker(t, RedisLockerOptions{})
	f.svc.UseLocker(l)

	a := f.book(t, tuesday, "10:00", "private")
	moved, err := f.svc.Move(context.Background(), a.ID, wednesday, clock("11:00"))
	require.NoError(t, err)
	assert.Equal(t, wednesday, moved.Date)
}
