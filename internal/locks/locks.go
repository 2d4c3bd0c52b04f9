// Package locks serializes writes to the same record across units of work.
package locks

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"techentry-bot/pkg/utils"
)

var (
	ErrLocked = errors.New("locks: held by another worker")
	ErrLost   = errors.New("locks: lock expired while held")
)

// Locker grants exclusive, expiring locks by key.
type Locker interface {
	// Lock waits until key is free or ctx is done.
	Lock(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
	// TryLock returns ok=false immediately when key is held.
	TryLock(ctx context.Context, key string, ttl time.Duration) (unlock func(), ok bool, err error)
	// Acquire is TryLock returning a lease that can be extended.
	Acquire(ctx context.Context, key string, ttl time.Duration) (lease *Lease, ok bool, err error)
}

// Lease is one held lock.
type Lease struct {
	release func()
	extend  func(ctx context.Context, ttl time.Duration) (bool, error)
}

// Release gives the lock up. A lock that changed hands is left alone.
func (l *Lease) Release() { l.release() }

// Extend resets the lock's TTL. It returns false once the lock is lost.
func (l *Lease) Extend(ctx context.Context, ttl time.Duration) (bool, error) {
	return l.extend(ctx, ttl)
}

// Hold takes key without waiting and extends it every ttl/3 until release is
// called. The returned context is cancelled when an extension fails, so work
// done under it stops once another worker may own the key.
func Hold(ctx context.Context, l Locker, key string, ttl time.Duration) (context.Context, func(), bool, error) {
	if ttl <= 0 {
		return nil, nil, false, errors.New("locks: ttl must be > 0")
	}
	lease, ok, err := l.Acquire(ctx, key, ttl)
	if err != nil || !ok {
		return nil, nil, ok, err
	}
	held, cancel := context.WithCancelCause(ctx)
	done := make(chan struct{})
	stopped := make(chan struct{})

	go func() {
		defer close(stopped)
		t := time.NewTicker(ttl / 3)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-held.Done():
				return
			case <-t.C:
				ok, err := lease.Extend(held, ttl)
				if err == nil && !ok {
					err = ErrLost
				}
				if err != nil {
					cancel(errors.Join(ErrLost, err))
					return
				}
			}
		}
	}()

	return held, func() {
		close(done)
		<-stopped
		cancel(nil)
		lease.Release()
	}, true, nil
}

const retryInterval = 50 * time.Millisecond

// EventKey is the lock key of one event record.
func EventKey(eventKey string) string { return "techbot:lock:event:" + eventKey }

// MessageKey is the lock key of one inbound vendor message id.
func MessageKey(sid string) string { return "techbot:lock:msg:" + sid }

// SweepKey guards against overlapping sweeps.
const SweepKey = "techbot:lock:sweep"

// RedisLocker uses SET NX PX with an owner token and a compare-and-delete release.
type RedisLocker struct {
	rdb *redis.Client
}

func NewRedisLocker(rdb *redis.Client) *RedisLocker {
	return &RedisLocker{rdb: rdb}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lease, bool, error) {
	owner := uuid.NewString()
	ok, err := utils.AcquireLock(ctx, l.rdb, key, owner, ttl)
	if err != nil || !ok {
		return nil, false, err
	}
	return &Lease{
		release: func() {
			// Release must outlive a cancelled request context.
			rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
			defer cancel()
			_ = utils.ReleaseLock(rctx, l.rdb, key, owner)
		},
		extend: func(ctx context.Context, ttl time.Duration) (bool, error) {
			return utils.ExtendLock(ctx, l.rdb, key, owner, ttl)
		},
	}, true, nil
}

func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	return tryLock(ctx, l, key, ttl)
}

func (l *RedisLocker) Lock(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	return poll(ctx, func() (func(), bool, error) { return l.TryLock(ctx, key, ttl) })
}

// LocalLocker is an in-process Locker for single-instance deployments and tests.
type LocalLocker struct {
	mu    sync.Mutex
	held  map[string]localLock
	next  uint64
	clock func() time.Time
}

type localLock struct {
	token   uint64
	expires time.Time
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: map[string]localLock{}, clock: time.Now}
}

func (l *LocalLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lease, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock()
	if cur, ok := l.held[key]; ok && now.Before(cur.expires) {
		return nil, false, nil
	}

	l.next++
	token := l.next

	l.held[key] = localLock{token: token, expires: now.Add(ttl)}
	return &Lease{
		release: func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			if cur, ok := l.held[key]; ok && cur.token == token {
				delete(l.held, key)
			}
		},
		extend: func(_ context.Context, ttl time.Duration) (bool, error) {
			l.mu.Lock()
			defer l.mu.Unlock()
			now := l.clock()
			cur, ok := l.held[key]
			if !ok || cur.token != token || !now.Before(cur.expires) {
				return false, nil
			}
			l.held[key] = localLock{token: token, expires: now.Add(ttl)}
			return true, nil
		},
	}, true, nil
}

func (l *LocalLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	return tryLock(ctx, l, key, ttl)
}

func (l *LocalLocker) Lock(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	return poll(ctx, func() (func(), bool, error) { return l.TryLock(ctx, key, ttl) })
}

func tryLock(ctx context.Context, l Locker, key string, ttl time.Duration) (func(), bool, error) {
	lease, ok, err := l.Acquire(ctx, key, ttl)
	if err != nil || !ok {
		return nil, false, err
	}
	return lease.Release, true, nil
}

func poll(ctx context.Context, try func() (func(), bool, error)) (func(), error) {
	t := time.NewTicker(retryInterval)
	defer t.Stop()
	for {
		unlock, ok, err := try()
		if err != nil {
			return nil, err
		}
		if ok {
			return unlock, nil
		}
		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrLocked, ctx.Err())
		case <-t.C:
		}
	}
}
