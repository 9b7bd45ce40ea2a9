package booking

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ErrLockTimeout is returned when a date lock cannot be acquired in time.
var ErrLockTimeout = errors.New("lock timeout")

// Locker serialises the read-check-write sequence of writes touching the same
// keys. Keys are acquired in sorted order so multi-day moves cannot deadlock.
type Locker interface {
	Lock(ctx context.Context, keys ...string) (unlock func(), err error)
}

func sortedUnique(keys []string) []string {
	out := append([]string(nil), keys...)
	sort.Strings(out)
	j := 0
	for i, k := range out {
		if i > 0 && k == out[j-1] {
			continue
		}
		out[j] = k
		j++
	}
	return out[:j]
}

// LocalLocker is an in-process keyed mutex.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*keyLock)}
}

func (l *LocalLocker) Lock(ctx context.Context, keys ...string) (func(), error) {
	keys = sortedUnique(keys)
	held := make([]string, 0, len(keys))
	for _, k := range keys {
		if err := l.lockOne(ctx, k); err != nil {
			l.release(held)
			return nil, err
		}
		held = append(held, k)
	}
	var once sync.Once
	return func() { once.Do(func() { l.release(held) }) }, nil
}

func (l *LocalLocker) lockOne(ctx context.Context, key string) error {
	l.mu.Lock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{ch: make(chan struct{}, 1)}
		l.locks[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	select {
	case kl.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		l.mu.Lock()
		kl.refs--
		if kl.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
		return ctx.Err()
	}
}

func (l *LocalLocker) release(keys []string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(keys) - 1; i >= 0; i-- {
		kl := l.locks[keys[i]]
		if kl == nil {
			continue
		}
		<-kl.ch
		kl.refs--
		if kl.refs == 0 {
			delete(l.locks, keys[i])
		}
	}
}

// unlockScript deletes the key only if it still holds our token.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker holds date locks in redis so several API replicas sharing one
// database serialise on the same days.
type RedisLocker struct {
	client  redis.UniversalClient
	prefix  string
	ttl     time.Duration
	wait    time.Duration
	backoff time.Duration
	logger  zerolog.Logger
}

// RedisLockerOptions tunes lock expiry and acquisition.
type RedisLockerOptions struct {
	Prefix string
	// TTL bounds how long a crashed holder can block a date.
	TTL time.Duration
	// Wait bounds how long Lock retries before giving up.
	Wait time.Duration
}

func NewRedisLocker(client redis.UniversalClient, opts RedisLockerOptions, logger *zerolog.Logger) *RedisLocker {
	if opts.Prefix == "" {
		opts.Prefix = "eyeclinic:lock:"
	}
	if opts.TTL <= 0 {
		opts.TTL = 10 * time.Second
	}
	if opts.Wait <= 0 {
		opts.Wait = 5 * time.Second
	}
	return &RedisLocker{
		client:  client,
		prefix:  opts.Prefix,
		ttl:     opts.TTL,
		wait:    opts.Wait,
		backoff: 20 * time.Millisecond,
		logger:  logger.With().Str("component", "redis_locker").Logger(),
	}
}

func (l *RedisLocker) Lock(ctx context.Context, keys ...string) (func(), error) {
	keys = sortedUnique(keys)
	token := uuid.NewString()
	held := make([]string, 0, len(keys))

	release := func() {
		ctxRelease, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		for _, k := range held {
			if err := unlockScript.Run(ctxRelease, l.client, []string{l.prefix + k}, token).Err(); err != nil {
				l.logger.Warn().Err(err).Str("key", k).Msg("failed to release lock")
			}
		}
	}

	deadline := time.Now().Add(l.wait)
	for _, k := range keys {
		for {
			ok, err := l.client.SetNX(ctx, l.prefix+k, token, l.ttl).Result()
			if err != nil {
				release()
				return nil, fmt.Errorf("acquire lock %s: %w", k, err)
			}
			if ok {
				held = append(held, k)
				break
			}
			if time.Now().After(deadline) {
				release()
				return nil, fmt.Errorf("%w: %s", ErrLockTimeout, k)
			}
			select {
			case <-time.After(l.backoff):
			case <-ctx.Done():
				release()
				return nil, ctx.Err()
			}
		}
	}

	var once sync.Once
	return func() { once.Do(release) }, nil
}
