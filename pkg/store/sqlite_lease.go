package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrLeaseLost is returned by Renew when the caller no longer holds the lease.
var ErrLeaseLost = errors.New("lease lost or stolen")

const (
	acquireLeaseSQL = `
INSERT INTO leases (name, holder_id, expires_at, version) VALUES (?, ?, ?, 1)
ON CONFLICT(name) DO UPDATE SET
	holder_id = excluded.holder_id,
	expires_at = excluded.expires_at,
	version = leases.version + 1
WHERE leases.holder_id = excluded.holder_id OR leases.expires_at < ?`

	renewLeaseSQL   = `UPDATE leases SET expires_at = ?, version = version + 1 WHERE name = ? AND holder_id = ?`
	releaseLeaseSQL = `DELETE FROM leases WHERE name = ? AND holder_id = ?`
	getLeaseSQL     = `SELECT name, holder_id, expires_at, version FROM leases WHERE name = ?`
)

func (s *Store) affected(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Acquire takes the lease for holderID when it is free, expired or already
// held by holderID. It reports whether holderID now holds it.
func (s *Store) Acquire(ctx context.Context, name, holderID string, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	n, err := s.affected(ctx, acquireLeaseSQL, name, holderID, now.Add(ttl), now)
	if err != nil {
		return false, fmt.Errorf("acquire lease %s: %w", name, err)
	}
	return n > 0, nil
}

func (s *Store) Renew(ctx context.Context, name, holderID string, ttl time.Duration) error {
	n, err := s.affected(ctx, renewLeaseSQL, time.Now().UTC().Add(ttl), name, holderID)
	if err != nil {
		return fmt.Errorf("renew lease %s: %w", name, err)
	}
	if n == 0 {
		return ErrLeaseLost
	}
	return nil
}

// Release is a no-op unless holderID holds the lease.
func (s *Store) Release(ctx context.Context, name, holderID string) error {
	if _, err := s.affected(ctx, releaseLeaseSQL, name, holderID); err != nil {
		return fmt.Errorf("release lease %s: %w", name, err)
	}
	return nil
}

// Get returns nil, nil for an unknown lease.
func (s *Store) Get(ctx context.Context, name string) (*Lease, error) {
	var l Lease
	err := s.db.QueryRowContext(ctx, getLeaseSQL, name).Scan(&l.Name, &l.HolderID, &l.ExpiresAt, &l.Version)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("get lease %s: %w", name, err)
	}
	return &l, nil
}
