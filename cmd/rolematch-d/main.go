package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rmax-ai/rolematch/pkg/api"
	"github.com/rmax-ai/rolematch/pkg/assign"
	"github.com/rmax-ai/rolematch/pkg/blob"
	"github.com/rmax-ai/rolematch/pkg/engine"
	"github.com/rmax-ai/rolematch/pkg/graph"
	"github.com/rmax-ai/rolematch/pkg/graph/bolt"
	"github.com/rmax-ai/rolematch/pkg/graph/kgrest"
	"github.com/rmax-ai/rolematch/pkg/logging"
	"github.com/rmax-ai/rolematch/pkg/store"
	rmredis "github.com/rmax-ai/rolematch/pkg/store/redis"
)

func main() {
	cfg, err := LoadConfig(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "rolematch-d: %v\n", err)
		os.Exit(2)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, "rolematch-d")
	if err != nil {
		fmt.Fprintf(os.Stderr, "rolematch-d: %v\n", err)
		os.Exit(2)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Error("daemon_failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("system_started", zap.String("backend", cfg.Backend), zap.String("addr", cfg.Addr))

	hostname, _ := os.Hostname()
	holderID := fmt.Sprintf("%s-%s", hostname, uuid.NewString()[:8])

	st, err := store.NewStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to init store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error("failed_to_close_store", zap.Error(err))
		} else {
			logger.Info("store_closed")
		}
	}()
	logger.Info("store_initialized", zap.String("path", cfg.DBPath))

	// Role and maintenance leases live in Redis when daemons share one,
	// otherwise in the journal database.
	var leases store.LeaseStore = st
	if cfg.RedisAddr != "" {
		rdb := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to reach redis at %s: %w", cfg.RedisAddr, err)
		}
		leases = rmredis.NewLeaseStore(rdb)
		logger.Info("redis_leases_enabled", zap.String("addr", cfg.RedisAddr))
	}

	client, mem, closeBackend, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeBackend()

	svc := engine.NewService(client,
		engine.WithLogger(logger),
		engine.WithLimit(cfg.CandidateLimit),
		engine.WithInactiveStatus(cfg.InactiveStatus),
		engine.WithRankByDistance(cfg.RankByDistance),
		engine.WithGuard(assign.NewLeaseGuard(leases, 0)),
		engine.WithJournal(st),
		engine.WithHolderID(holderID),
	)
	cancelSub := svc.Subscribe(func(ev assign.Committed) {
		logger.Info("assignment_committed",
			zap.String("facility_id", ev.FacilityID),
			zap.String("role_id", ev.RoleID),
			zap.String("person_id", ev.PersonID),
			zap.String("relationship_id", ev.RelationshipID),
		)
	})
	defer cancelSub()

	election := engine.NewElectionManager(leases, holderID, engine.MaintenanceLease, cfg.LeaseTTL, nil, nil, logger)
	election.Start(ctx)

	var workers sync.WaitGroup
	pruner := engine.NewPruneWorker(st, &engine.RetentionConfig{
		Enabled:       cfg.RetentionTTL > 0,
		TTL:           cfg.RetentionTTL,
		CheckInterval: time.Hour,
	}, election.IsLeader, logger.Named("prune"))
	workers.Add(1)
	go func() {
		defer workers.Done()
		pruner.Run(ctx)
	}()

	if mem != nil && cfg.SnapshotDir != "" {
		snapper := engine.NewSnapshotWorker(mem, blob.NewLocalBlobStore(cfg.SnapshotDir), cfg.SnapshotInterval, cfg.SnapshotKeep, election.IsLeader, logger.Named("snapshot"))
		workers.Add(1)
		go func() {
			defer workers.Done()
			snapper.Run(ctx)
		}()
	}

	srv := api.NewServer(svc, cfg.Addr, logger.Named("api"))
	srv.SetJournal(st)
	if mem != nil {
		srv.SetGraph(mem)
	}
	srv.SetAdminToken(cfg.AdminToken)
	srv.SetTLS(cfg.TLSCertFile, cfg.TLSKeyFile)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case <-ctx.Done():
		logger.Info("shutdown_initiated")
	case err := <-errCh:
		if err != nil {
			stop()
			workers.Wait()
			election.Stop(context.Background())
			return fmt.Errorf("server failed: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Error("server_shutdown_failed", zap.Error(err))
	}
	// Workers take their final snapshot while still holding leadership.
	workers.Wait()
	election.Stop(shutdownCtx)

	logger.Info("shutdown_complete")
	return nil
}

// openBackend returns the graph client and, for the memory backend, the
// graph itself so it can be snapshotted and served on /v1/graph.
func openBackend(ctx context.Context, cfg Config, logger *zap.Logger) (graph.Client, *graph.Memory, func(), error) {
	switch cfg.Backend {
	case "neo4j":
		c, err := bolt.NewClient(ctx, bolt.Config{
			URI:      cfg.Neo4jURI,
			Username: cfg.Neo4jUser,
			Password: cfg.Neo4jPassword,
			Database: cfg.Neo4jDatabase,
		}, logger.Named("bolt"))
		if err != nil {
			return nil, nil, nil, err
		}
		logger.Info("backend_connected", zap.String("uri", cfg.Neo4jURI))
		return c, nil, func() { c.Close(context.Background()) }, nil

	case "kgrest":
		c := kgrest.NewClient(cfg.KGRestURL, cfg.KGRestToken, cfg.KGRestTimeout, logger.Named("kgrest"))
		logger.Info("backend_configured", zap.String("url", cfg.KGRestURL))
		return c, nil, func() {}, nil
	}

	mem := graph.NewMemory()
	if cfg.FixturePath != "" {
		var err error
		mem, err = graph.LoadFixture(cfg.FixturePath)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to load fixture: %w", err)
		}
		logger.Info("fixture_loaded", zap.String("path", cfg.FixturePath))
	}
	if cfg.SnapshotDir != "" {
		key, err := engine.LoadLatestSnapshot(ctx, blob.NewLocalBlobStore(cfg.SnapshotDir), mem)
		if err != nil {
			return nil, nil, nil, err
		}
		if key != "" {
			logger.Info("snapshot_restored", zap.String("key", key))
		}
	}
	return mem, mem, func() {}, nil
}
