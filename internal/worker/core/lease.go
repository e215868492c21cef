package core

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/rueidis"
)

var releaseScript = rueidis.NewLuaScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

var extendScript = rueidis.NewLuaScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// Lease is a named Redis lock held by one worker at a time.
type Lease struct {
	client rueidis.Client
	key    string
	owner  string
	ttl    time.Duration
}

// NewLease creates a lease for owner. The lock expires after ttl if never released.
func NewLease(client rueidis.Client, name, owner string, ttl time.Duration) *Lease {
	return &Lease{
		client: client,
		key:    "lease:" + name,
		owner:  owner,
		ttl:    ttl,
	}
}

// Acquire takes the lease. It returns false when another owner holds it.
func (l *Lease) Acquire(ctx context.Context) (bool, error) {
	err := l.client.Do(ctx, l.client.B().Set().Key(l.key).Value(l.owner).Nx().Px(l.ttl).Build()).Error()
	if rueidis.IsRedisNil(err) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("failed to acquire lease %s: %w", l.key, err)
	}

	return true, nil
}

// Release gives the lease up if this owner still holds it.
func (l *Lease) Release(ctx context.Context) error {
	err := releaseScript.Exec(ctx, l.client, []string{l.key}, []string{l.owner}).Error()
	if err != nil {
		return fmt.Errorf("failed to release lease %s: %w", l.key, err)
	}

	return nil
}

// Extend resets the lease TTL. It returns false when this owner no longer holds it.
func (l *Lease) Extend(ctx context.Context) (bool, error) {
	ttl := strconv.FormatInt(l.ttl.Milliseconds(), 10)

	n, err := extendScript.Exec(ctx, l.client, []string{l.key}, []string{l.owner, ttl}).AsInt64()
	if err != nil {
		return false, fmt.Errorf("failed to extend lease %s: %w", l.key, err)
	}

	return n == 1, nil
}
