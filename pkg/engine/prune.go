package engine

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RetentionConfig controls how long assignment journal records are kept.
type RetentionConfig struct {
	Enabled       bool          `json:"enabled"`
	TTL           time.Duration `json:"ttl"`
	CheckInterval time.Duration `json:"check_interval"`
}

// Pruner deletes journal records older than a cutoff.
type Pruner interface {
	PruneAssignments(ctx context.Context, cutoff time.Time) (int64, error)
}

type PruneWorker struct {
	store  Pruner
	config *RetentionConfig
	gate   func() bool
	logger *zap.Logger
}

// NewPruneWorker creates a worker. gate, when set, must return true for a
// pass to run; daemons pass ElectionManager.IsLeader.
func NewPruneWorker(st Pruner, cfg *RetentionConfig, gate func() bool, logger *zap.Logger) *PruneWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PruneWorker{
		store:  st,
		config: cfg,
		gate:   gate,
		logger: logger,
	}
}

func (w *PruneWorker) Run(ctx context.Context) {
	disabled := w.config == nil || !w.config.Enabled
	interval := time.Hour
	if !disabled && w.config.CheckInterval > 0 {
		interval = w.config.CheckInterval
	}

	if disabled {
		w.logger.Info("prune_disabled")
		return
	}

	w.logger.Info("prune_worker_started", zap.Duration("interval", interval))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	w.Prune(ctx)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("prune_worker_stopped")
			return
		case <-ticker.C:
			w.Prune(ctx)
		}
	}
}

// Prune runs one retention pass and returns the number of records removed.
func (w *PruneWorker) Prune(ctx context.Context) int64 {
	cfg := w.config

	if cfg == nil || !cfg.Enabled || cfg.TTL <= 0 {
		return 0
	}
	if w.gate != nil && !w.gate() {
		return 0
	}

	cutoff := time.Now().Add(-cfg.TTL)
	deleted, err := w.store.PruneAssignments(ctx, cutoff)
	if err != nil {
		w.logger.Error("prune_failed", zap.Error(err))
		return 0
	}
	if deleted > 0 {
		PrunedTotal.Add(float64(deleted))
		w.logger.Info("journal_pruned", zap.Int64("deleted", deleted), zap.Duration("ttl", cfg.TTL))
	}
	return deleted
}
