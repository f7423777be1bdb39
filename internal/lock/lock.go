// Package lock serializes stage-then-merge sequences against the shared staging table.
package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotHeld is returned by a release whose lease already expired or was taken over.
var ErrNotHeld = errors.New("lock not held")

// Locker guards a critical section. Acquire blocks until the lock is held or
// ctx is done; the returned func releases it.
type Locker interface {
	Acquire(ctx context.Context) (release func() error, err error)
}

// Local is a process-wide lock. A buffered channel instead of sync.Mutex so
// waiting honors ctx.
type Local struct {
	ch chan struct{}
}

func NewLocal() *Local {
	return &Local{ch: make(chan struct{}, 1)}
}

func (l *Local) Acquire(ctx context.Context) (func() error, error) {
	select {
	case l.ch <- struct{}{}:
		return func() error {
			<-l.ch
			return nil
		}, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("acquire local lock: %w", ctx.Err())
	}
}

// releaseScript deletes the key only if it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// renewScript extends the lease only while it still carries our token.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

// Redis is a lease shared by every process using the same key. The TTL bounds
// how long a crashed holder blocks others; a live holder renews it every
// third of the TTL until release.
type Redis struct {
	client redis.UniversalClient
	key    string
	ttl    time.Duration
	retry  time.Duration
}

func NewRedis(client redis.UniversalClient, key string, ttl time.Duration) *Redis {
	return &Redis{client: client, key: key, ttl: ttl, retry: 200 * time.Millisecond}
}

func (r *Redis) Acquire(ctx context.Context) (func() error, error) {
	token, err := newToken()
	if err != nil {
		return nil, err
	}

	for {
		ok, err := r.client.SetNX(ctx, r.key, token, r.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire redis lock %s: %w", r.key, err)
		}
		if ok {
			stop := keepAlive(r.ttl/3, func(ctx context.Context) (bool, error) {
				n, err := renewScript.Run(ctx, r.client, []string{r.key}, token, r.ttl.Milliseconds()).Int64()
				return n == 1, err
			})
			var once sync.Once
			var releaseErr error
			return func() error {
				once.Do(func() {
					stop()
					releaseErr = r.release(token)
				})
				return releaseErr
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("acquire redis lock %s: %w", r.key, ctx.Err())
		case <-time.After(r.retry):
		}
	}
}

func (r *Redis) release(token string) error {
	// the caller's ctx may already be cancelled; release must still go out
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	n, err := releaseScript.Run(ctx, r.client, []string{r.key}, token).Int64()
	if err != nil {
		return fmt.Errorf("release redis lock %s: %w", r.key, err)
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}

// keepAlive calls renew every interval until the returned stop func is called
// or renew reports the lease gone. Errors are retried on the next tick since
// the lease may still be alive. stop blocks until the loop has exited.
func keepAlive(interval time.Duration, renew func(context.Context) (bool, error)) (stop func()) {
	if interval <= 0 {
		return func() {}
	}
	quit := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-quit:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), interval)
				held, err := renew(ctx)
				cancel()
				if err == nil && !held {
					return
				}
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() { close(quit) })
		<-done
	}
}

func newToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("lock token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
