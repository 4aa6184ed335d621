// Package lock provides Redis leases that keep two processes from working on
// the same key at once.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrHeld is returned when another holder owns the lease.
var ErrHeld = errors.New("lease held by another holder")

// Locker hands out leases stored as Redis keys with a TTL.
type Locker struct {
	client *redis.Client
	prefix string
}

// NewLocker returns a Locker whose keys are namespaced under prefix.
func NewLocker(client *redis.Client, prefix string) *Locker {
	return &Locker{client: client, prefix: prefix}
}

// Lease is an acquired lock. The token guards against releasing a lease that
// expired and was taken by someone else.
type Lease struct {
	locker *Locker
	key    string
	token  string
}

// PairKey names the lease for one (job, organization) pair.
func PairKey(jobID, orgID string) string {
	return jobID + ":" + orgID
}

// Acquire takes key for ttl or returns ErrHeld.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lease, error) {
	full := l.prefix + key
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, full, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lease %s: %w", full, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrHeld, full)
	}
	return &Lease{locker: l, key: full, token: token}, nil
}

// Release deletes the lease if it is still ours.
func (le *Lease) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, le.locker.client, []string{le.key}, le.token).Err(); err != nil {
		return fmt.Errorf("release lease %s: %w", le.key, err)
	}
	return nil
}

// Key returns the full Redis key of the lease.
func (le *Lease) Key() string { return le.key }

var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)
