// Package distlock provides Redis-backed distributed locks. The dispatcher
// uses a per-campaign lock so two server instances never drain the same
// campaign concurrently.
package distlock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Lock is a single-use distributed lock. Safe for use from one goroutine;
// concurrent holders need separate instances.
type Lock struct {
	client *redis.Client
	key    string
	value  string
	ttl    time.Duration
}

// New creates a lock on the given key. The TTL bounds how long a crashed
// holder can block others.
func New(client *redis.Client, key string, ttl time.Duration) *Lock {
	// Random ownership value so Release never deletes someone else's lock.
	b := make([]byte, 16)
	rand.Read(b)
	return &Lock{
		client: client,
		key:    fmt.Sprintf("lock:%s", key),
		value:  hex.EncodeToString(b),
		ttl:    ttl,
	}
}

// Acquire tries to take the lock. Returns true on success, false if another
// holder owns it. Non-blocking.
func (l *Lock) Acquire(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.value, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock %s: %w", l.key, err)
	}
	return ok, nil
}

var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// Release frees the lock if we still own it.
func (l *Lock) Release(ctx context.Context) error {
	_, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.value).Result()
	return err
}

var extendScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("pexpire", KEYS[1], ARGV[2])
	else
		return 0
	end
`)

// Extend pushes the TTL out for long-running holders.
func (l *Lock) Extend(ctx context.Context, ttl time.Duration) error {
	_, err := extendScript.Run(ctx, l.client, []string{l.key}, l.value, ttl.Milliseconds()).Result()
	return err
}
