package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/rmax-ai/rolematch/pkg/blob"
)

// SnapshotPrefix is the blob prefix graph snapshots are written under.
const SnapshotPrefix = "snapshots"

// Snapshotter is a graph that can serialize and restore itself.
// graph.Memory implements it.
type Snapshotter interface {
	Snapshot(w io.Writer) error
	Restore(r io.Reader) error
}

// SnapshotWorker periodically persists the in-memory graph to a blob store
// and keeps the newest Keep snapshots.
type SnapshotWorker struct {
	graph    Snapshotter
	blobs    blob.BlobStore
	interval time.Duration
	keep     int
	gate     func() bool
	logger   *zap.Logger
	now      func() time.Time
}

// NewSnapshotWorker creates a worker. keep <= 0 keeps every snapshot.
func NewSnapshotWorker(g Snapshotter, blobs blob.BlobStore, interval time.Duration, keep int, gate func() bool, logger *zap.Logger) *SnapshotWorker {
	if interval == 0 {
		interval = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SnapshotWorker{
		graph:    g,
		blobs:    blobs,
		interval: interval,
		keep:     keep,
		gate:     gate,
		logger:   logger,
		now:      time.Now,
	}
}

// Run starts the snapshot loop. A final snapshot is taken on shutdown.
func (w *SnapshotWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("snapshot_worker_started", zap.Duration("interval", w.interval))

	for {
		select {
		case <-ctx.Done():
			if _, err := w.TakeSnapshot(context.WithoutCancel(ctx)); err != nil {
				w.logger.Error("final_snapshot_failed", zap.Error(err))
			}
			w.logger.Info("snapshot_worker_stopped")
			return
		case <-ticker.C:
			if key, err := w.TakeSnapshot(ctx); err != nil {
				w.logger.Error("snapshot_failed", zap.Error(err))
			} else if key != "" {
				w.logger.Info("snapshot_created", zap.String("key", key))
			}
		}
	}
}

// SnapshotKey names a snapshot so lexical order is chronological.
func SnapshotKey(t time.Time) string {
	return fmt.Sprintf("%s/graph-%020d.json", SnapshotPrefix, t.UTC().UnixNano())
}

// TakeSnapshot writes one snapshot and prunes old ones. It returns the key
// written, or "" when the gate skipped the pass.
func (w *SnapshotWorker) TakeSnapshot(ctx context.Context) (string, error) {
	if w.gate != nil && !w.gate() {
		return "", nil
	}

	var buf bytes.Buffer
	if err := w.graph.Snapshot(&buf); err != nil {
		return "", fmt.Errorf("failed to serialize graph: %w", err)
	}

	key := SnapshotKey(w.now())
	if err := w.blobs.Put(ctx, key, &buf); err != nil {
		return "", fmt.Errorf("blob put failed: %w", err)
	}

	if w.keep > 0 {
		if err := w.prune(ctx); err != nil {
			w.logger.Warn("snapshot_prune_failed", zap.Error(err))
		}
	}
	return key, nil
}

func (w *SnapshotWorker) prune(ctx context.Context) error {
	keys, err := w.blobs.List(ctx, SnapshotPrefix)
	if err != nil {
		return err
	}
	if len(keys) <= w.keep {
		return nil
	}
	var errs []error
	for _, k := range keys[:len(keys)-w.keep] {
		if err := w.blobs.Delete(ctx, k); err != nil && !errors.Is(err, blob.ErrNotFound) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LoadLatestSnapshot restores g from the newest snapshot in blobs and
// returns its key. It returns "" and no error when there is none.
func LoadLatestSnapshot(ctx context.Context, blobs blob.BlobStore, g Snapshotter) (string, error) {
	keys, err := blobs.List(ctx, SnapshotPrefix)
	if err != nil {
		return "", fmt.Errorf("failed to list snapshots: %w", err)
	}
	if len(keys) == 0 {
		return "", nil
	}

	latest := keys[len(keys)-1]
	r, err := blobs.Get(ctx, latest)
	if err != nil {
		return "", fmt.Errorf("failed to open snapshot %s: %w", latest, err)
	}
	defer r.Close()

	if err := g.Restore(r); err != nil {
		return "", fmt.Errorf("failed to restore snapshot %s: %w", latest, err)
	}
	return latest, nil
}
