package utils

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bsm/redislock"
)

// ErrLockHeld is returned when another run already holds the lock.
var ErrLockHeld = errors.New("operation already in progress")

// ErrLockLost is returned by Refresh once the lock expired and may belong to someone else.
var ErrLockLost = errors.New("lock lost")

// Lease is a held lock. Release is safe to call more than once.
type Lease interface {
	Refresh(ctx context.Context, ttl time.Duration) error
	Release()
}

// Locker guards a named critical section across processes.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

// RedisLocker is a Locker on top of redislock.
type RedisLocker struct {
	Client *redislock.Client
}

func NewRedisLocker(client *redislock.Client) *RedisLocker {
	return &RedisLocker{Client: client}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error) {
	if l == nil || l.Client == nil {
		return nil, errors.New("service not ready (redis lock not initialized)")
	}
	lock, err := l.Client.Obtain(ctx, key, ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ErrLockHeld
	}
	if err != nil {
		return nil, err
	}
	return &redisLease{lock: lock}, nil
}

type redisLease struct {
	lock *redislock.Lock
	once sync.Once
}

func (r *redisLease) Refresh(ctx context.Context, ttl time.Duration) error {
	err := r.lock.Refresh(ctx, ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return ErrLockLost
	}
	return err
}

func (r *redisLease) Release() {
	r.once.Do(func() {
		// ctx may already be cancelled by the time the run ends
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = r.lock.Release(releaseCtx)
	})
}

// LocalLocker is an in-process Locker for single-instance deployments and tests.
type LocalLocker struct {
	mu    sync.Mutex
	held  map[string]localHold
	token uint64
	now   func() time.Time
}

type localHold struct {
	token   uint64
	expires time.Time
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: map[string]localHold{}, now: time.Now}
}

func (l *LocalLocker) Acquire(_ context.Context, key string, ttl time.Duration) (Lease, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if h, ok := l.held[key]; ok && now.Before(h.expires) {
		return nil, ErrLockHeld
	}
	l.token++
	l.held[key] = localHold{token: l.token, expires: now.Add(ttl)}
	return &localLease{locker: l, key: key, token: l.token}, nil
}

type localLease struct {
	locker *LocalLocker
	key    string
	token  uint64
}

// Refresh extends the lease while it still owns the key. An expired lease that
// nobody re-acquired is revived.
func (e *localLease) Refresh(_ context.Context, ttl time.Duration) error {
	l := e.locker
	l.mu.Lock()
	defer l.mu.Unlock()
	h, ok := l.held[e.key]
	if !ok || h.token != e.token {
		return ErrLockLost
	}
	l.held[e.key] = localHold{token: e.token, expires: l.now().Add(ttl)}
	return nil
}

// Release drops the key only if this lease still owns it.
func (e *localLease) Release() {
	l := e.locker
	l.mu.Lock()
	defer l.mu.Unlock()
	if h, ok := l.held[e.key]; ok && h.token == e.token {
		delete(l.held, e.key)
	}
}
