package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rmax-ai/rolematch/pkg/store"
)

// Take the lease if free, or extend it if we already hold it.
var acquireScript = redis.NewScript(`
	local cur = redis.call("GET", KEYS[1])
	if not cur then
		redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
		return 1
	end
	if cur == ARGV[1] then
		redis.call("PEXPIRE", KEYS[1], ARGV[2])
		return 1
	end
	return 0
`)

var renewScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("PEXPIRE", KEYS[1], ARGV[2])
	end
	return 0
`)

var releaseScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	end
	return 0
`)

// LeaseStore implements store.LeaseStore on Redis so coordinators in
// different processes can share role claims.
type LeaseStore struct {
	client *redis.Client
}

func NewLeaseStore(client *redis.Client) *LeaseStore {
	return &LeaseStore{client: client}
}

func (s *LeaseStore) makeKey(name string) string {
	return fmt.Sprintf("rolematch:lease:%s", name)
}

func (s *LeaseStore) Acquire(ctx context.Context, name, holderID string, ttl time.Duration) (bool, error) {
	n, err := acquireScript.Run(ctx, s.client, []string{s.makeKey(name)}, holderID, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lease %s: %w", name, err)
	}
	return n == 1, nil
}

func (s *LeaseStore) Renew(ctx context.Context, name, holderID string, ttl time.Duration) error {
	n, err := renewScript.Run(ctx, s.client, []string{s.makeKey(name)}, holderID, ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("failed to renew lease %s: %w", name, err)
	}
	if n != 1 {
		return store.ErrLeaseLost
	}
	return nil
}

// Release deletes the lease if holderID holds it. Not holding it is not an error.
func (s *LeaseStore) Release(ctx context.Context, name, holderID string) error {
	if err := releaseScript.Run(ctx, s.client, []string{s.makeKey(name)}, holderID).Err(); err != nil {
		return fmt.Errorf("failed to release lease %s: %w", name, err)
	}
	return nil
}

func (s *LeaseStore) Get(ctx context.Context, name string) (*store.Lease, error) {
	key := s.makeKey(name)

	val, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get lease %s: %w", name, err)
	}

	ttl, err := s.client.PTTL(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get lease ttl: %w", err)
	}

	return &store.Lease{
		Name:      name,
		HolderID:  val,
		ExpiresAt: time.Now().Add(ttl),
	}, nil
}
