package assign

import (
	"context"
	"time"

	"github.com/rmax-ai/rolematch/pkg/store"
)

// DefaultLeaseTTL bounds how long a crashed coordinator can block a role.
const DefaultLeaseTTL = 10 * time.Minute

// LeaseGuard adapts a store.LeaseStore (SQLite or Redis) to Guard.
type LeaseGuard struct {
	leases store.LeaseStore
	ttl    time.Duration
}

// NewLeaseGuard creates a Guard whose claims expire after ttl.
func NewLeaseGuard(leases store.LeaseStore, ttl time.Duration) *LeaseGuard {
	if ttl <= 0 {
		ttl = DefaultLeaseTTL
	}
	return &LeaseGuard{leases: leases, ttl: ttl}
}

// LeaseName is the lease key for a role.
func LeaseName(roleID string) string {
	return "role:" + roleID
}

func (g *LeaseGuard) Acquire(ctx context.Context, roleID, holder string) (bool, error) {
	return g.leases.Acquire(ctx, LeaseName(roleID), holder, g.ttl)
}

func (g *LeaseGuard) Release(ctx context.Context, roleID, holder string) error {
	return g.leases.Release(ctx, LeaseName(roleID), holder)
}
