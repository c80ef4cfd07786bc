package engine

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rmax-ai/rolematch/pkg/store"
)

// MaintenanceLease is the lease daemons compete for before running
// journal retention and graph snapshots.
const MaintenanceLease = "rolematch:maintenance"

// ElectionManager holds a named lease on behalf of one daemon so that only
// one daemon sharing a journal runs maintenance workers. The lease is
// retried or renewed every ttl/2.
type ElectionManager struct {
	leases store.LeaseStore
	holder string
	name   string
	ttl    time.Duration
	logger *zap.Logger

	onPromote, onDemote func()

	mu      sync.Mutex
	leader  bool
	stopped bool
	done    chan struct{}
	once    sync.Once
}

func NewElectionManager(
	leases store.LeaseStore,
	holderID string,
	leaseName string,
	ttl time.Duration,
	onPromote func(),
	onDemote func(),
	logger *zap.Logger,
) *ElectionManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ElectionManager{
		leases:    leases,
		holder:    holderID,
		name:      leaseName,
		ttl:       ttl,
		logger:    logger.With(zap.String("holder_id", holderID), zap.String("lease", leaseName)),
		onPromote: onPromote,
		onDemote:  onDemote,
		done:      make(chan struct{}),
	}
}

// Start runs the first election round immediately, then keeps the lease in
// the background until Stop or ctx ends.
func (em *ElectionManager) Start(ctx context.Context) {
	em.logger.Info("election_started")
	go func() {
		tick := time.NewTicker(em.ttl / 2)
		defer tick.Stop()
		for {
			em.round(ctx)
			select {
			case <-tick.C:
			case <-em.done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop ends the loop and gives the lease up if held. Later rounds never
// regain leadership. Safe to call more than once.
func (em *ElectionManager) Stop(ctx context.Context) {
	em.once.Do(func() { close(em.done) })

	em.mu.Lock()
	held := em.leader
	em.leader, em.stopped = false, true
	em.mu.Unlock()

	if held {
		if err := em.leases.Release(ctx, em.name, em.holder); err != nil {
			em.logger.Error("lease_release_failed", zap.Error(err))
		} else {
			em.logger.Info("lease_released")
		}
	}
	em.logger.Info("election_stopped")
}

func (em *ElectionManager) IsLeader() bool {
	em.mu.Lock()
	defer em.mu.Unlock()
	return em.leader
}

// hold renews the lease when we already lead, otherwise tries to take it.
func (em *ElectionManager) hold(ctx context.Context, leading bool) bool {
	if leading {
		err := em.leases.Renew(ctx, em.name, em.holder, em.ttl)
		if err != nil {
			em.logger.Warn("lease_renew_failed", zap.Error(err))
		}
		return err == nil
	}
	ok, err := em.leases.Acquire(ctx, em.name, em.holder, em.ttl)
	if err != nil {
		em.logger.Warn("lease_acquire_failed", zap.Error(err))
		return false
	}
	return ok
}

func (em *ElectionManager) round(ctx context.Context) {
	before := em.IsLeader()
	after := em.hold(ctx, before)

	em.mu.Lock()
	if em.stopped {
		em.mu.Unlock()
		return
	}
	em.leader = after
	em.mu.Unlock()

	switch {
	case after && !before:
		if em.onPromote != nil {
			em.onPromote()
		}
		em.logger.Info("promoted_to_leader")
	case before && !after:
		if em.onDemote != nil {
			em.onDemote()
		}
		em.logger.Info("demoted_from_leader")
	}
}
