package cache

import (
	"context"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"labelpanel/logger"
)

const (
	commitLockPrefix = "lock:commit:"
	commitLockTTL    = 2 * time.Minute
)

var releaseLockScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

var extendLockScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`)

// CommitLock serializes commits of the same staging session across processes.
// A held lock is extended in the background until it is released, so a batch
// may run longer than the TTL; the TTL only bounds how long a crashed holder
// blocks the session.
type CommitLock struct {
	client  *redis.Client
	ttl     time.Duration
	refresh time.Duration
}

func NewCommitLock(client *redis.Client) *CommitLock {
	return &CommitLock{client: client, ttl: commitLockTTL, refresh: commitLockTTL / 3}
}

// Lock takes lock:commit:<session>. ok is false when another commit holds it.
func (l *CommitLock) Lock(ctx context.Context, sessionID string) (func(), bool, error) {
	key := commitLockPrefix + sessionID
	token := uuid.NewString()

	acquired, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, false, Error.Wrap(err)
	}
	if !acquired {
		return nil, false, nil
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		l.keepAlive(key, token, sessionID, stop)
	}()

	var once sync.Once
	unlock := func() {
		once.Do(func() {
			close(stop)
			<-done

			// the request context may already be cancelled
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := releaseLockScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil {
				logger.Warn("failed to release commit lock", logger.String("sessionId", sessionID), logger.ErrorField(err))
			}
		})
	}
	return unlock, true, nil
}

// keepAlive pushes the expiry of key forward every refresh interval while
// token still owns it.
func (l *CommitLock) keepAlive(key, token, sessionID string, stop <-chan struct{}) {
	ticker := time.NewTicker(l.refresh)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			n, err := extendLockScript.Run(ctx, l.client, []string{key}, token, l.ttl.Milliseconds()).Int()
			cancel()
			if err != nil {
				logger.Warn("failed to extend commit lock", logger.String("sessionId", sessionID), logger.ErrorField(err))
				continue
			}
			if n == 0 {
				logger.Warn("commit lock lost", logger.String("sessionId", sessionID))
				return
			}
		}
	}
}
