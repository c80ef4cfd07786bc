package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	defaultAddr             = "127.0.0.1:8090"
	defaultBackend          = "memory"
	defaultInactiveStatus   = "CLOSED"
	defaultCandidateLimit   = 5
	defaultSnapshotInterval = 5 * time.Minute
	defaultSnapshotKeep     = 10
	defaultLeaseTTL         = 30 * time.Second
	defaultCacheTTL         = 10 * time.Minute
	defaultLogLevel         = "info"
	defaultLogFormat        = "json"
)

type Config struct {
	Addr    string
	Backend string

	FixturePath string

	Neo4jURI      string
	Neo4jUser     string
	Neo4jPassword string
	Neo4jDatabase string

	KGRestURL     string
	KGRestToken   string
	KGRestTimeout time.Duration

	RedisAddr string
	CacheTTL  time.Duration
	LeaseTTL  time.Duration

	DBPath           string
	SnapshotDir      string
	SnapshotInterval time.Duration
	SnapshotKeep     int
	RetentionTTL     time.Duration

	CandidateLimit int
	InactiveStatus string
	RankByDistance bool

	AdminToken  string
	TLSCertFile string
	TLSKeyFile  string

	LogLevel  string
	LogFormat string
}

func LoadConfig(args []string) (Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return Config{}, fmt.Errorf("failed to get cwd: %w", err)
	}

	env := envReader{}
	snapshotInterval := env.duration("ROLEMATCH_SNAPSHOT_INTERVAL", defaultSnapshotInterval)
	retentionTTL := env.duration("ROLEMATCH_RETENTION_TTL", 0)
	leaseTTL := env.duration("ROLEMATCH_LEASE_TTL", defaultLeaseTTL)
	cacheTTL := env.duration("ROLEMATCH_CACHE_TTL", defaultCacheTTL)
	kgTimeout := env.duration("ROLEMATCH_KGREST_TIMEOUT", 10*time.Second)
	limit := env.int("ROLEMATCH_CANDIDATE_LIMIT", defaultCandidateLimit)
	keep := env.int("ROLEMATCH_SNAPSHOT_KEEP", defaultSnapshotKeep)
	rankByDistance := env.bool("ROLEMATCH_RANK_BY_DISTANCE", false)
	if env.err != nil {
		return Config{}, env.err
	}

	flagSet := flag.NewFlagSet("rolematch-d", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)
	flagAddr := flagSet.String("addr", addrFromEnv(defaultAddr), "HTTP listen address")
	flagBackend := flagSet.String("backend", envOrDefault("ROLEMATCH_BACKEND", defaultBackend), "graph backend: memory|neo4j|kgrest")
	flagFixture := flagSet.String("fixture", os.Getenv("ROLEMATCH_FIXTURE"), "JSON fixture seeding the memory backend")
	flagNeoURI := flagSet.String("neo4j-uri", envOrDefault("ROLEMATCH_NEO4J_URI", "neo4j://localhost:7687"), "neo4j bolt URI")
	flagNeoUser := flagSet.String("neo4j-user", envOrDefault("ROLEMATCH_NEO4J_USER", "neo4j"), "neo4j user")
	flagNeoPassword := flagSet.String("neo4j-password", os.Getenv("ROLEMATCH_NEO4J_PASSWORD"), "neo4j password")
	flagNeoDatabase := flagSet.String("neo4j-database", os.Getenv("ROLEMATCH_NEO4J_DATABASE"), "neo4j database (default: server default)")
	flagKGURL := flagSet.String("kgrest-url", os.Getenv("ROLEMATCH_KGREST_URL"), "knowledge graph REST service URL")
	flagKGToken := flagSet.String("kgrest-token", os.Getenv("ROLEMATCH_KGREST_TOKEN"), "knowledge graph REST token")
	flagKGTimeout := flagSet.Duration("kgrest-timeout", kgTimeout, "knowledge graph REST request timeout")
	flagRedis := flagSet.String("redis-addr", os.Getenv("ROLEMATCH_REDIS_ADDR"), "Redis address for shared role leases (optional)")
	flagCacheTTL := flagSet.Duration("cache-ttl", cacheTTL, "facility cache TTL")
	flagLeaseTTL := flagSet.Duration("lease-ttl", leaseTTL, "maintenance leadership lease TTL")
	flagDB := flagSet.String("db", envOrDefault("ROLEMATCH_DB_PATH", filepath.Join(cwd, "rolematch.db")), "path to SQLite journal")
	flagSnapDir := flagSet.String("snapshot-dir", os.Getenv("ROLEMATCH_SNAPSHOT_DIR"), "directory for memory graph snapshots (optional)")
	flagSnapInterval := flagSet.Duration("snapshot-interval", snapshotInterval, "snapshot interval")
	flagSnapKeep := flagSet.Int("snapshot-keep", keep, "snapshots to keep (0 keeps all)")
	flagRetention := flagSet.Duration("retention", retentionTTL, "journal retention (0 disables pruning)")
	flagLimit := flagSet.Int("limit", limit, "default candidate limit")
	flagInactive := flagSet.String("inactive-status", envOrDefault("ROLEMATCH_INACTIVE_STATUS", defaultInactiveStatus), "facility status that releases its staff")
	flagRank := flagSet.Bool("rank-by-distance", rankByDistance, "order candidates by distance to the facility")
	flagAdmin := flagSet.String("admin-token", os.Getenv("ROLEMATCH_ADMIN_TOKEN"), "bearer token for admin routes (empty disables them)")
	flagCert := flagSet.String("tls-cert", os.Getenv("ROLEMATCH_TLS_CERT"), "TLS certificate file")
	flagKey := flagSet.String("tls-key", os.Getenv("ROLEMATCH_TLS_KEY"), "TLS key file")
	flagLogLevel := flagSet.String("log-level", envOrDefault("ROLEMATCH_LOG_LEVEL", defaultLogLevel), "log level")
	flagLogFormat := flagSet.String("log-format", envOrDefault("ROLEMATCH_LOG_FORMAT", defaultLogFormat), "log format: json|console")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			flagSet.SetOutput(os.Stdout)
			flagSet.PrintDefaults()
			return Config{}, err
		}
		return Config{}, err
	}

	config := Config{
		Addr:             strings.TrimSpace(*flagAddr),
		Backend:          strings.ToLower(strings.TrimSpace(*flagBackend)),
		FixturePath:      resolvePath(*flagFixture, cwd),
		Neo4jURI:         strings.TrimSpace(*flagNeoURI),
		Neo4jUser:        *flagNeoUser,
		Neo4jPassword:    *flagNeoPassword,
		Neo4jDatabase:    *flagNeoDatabase,
		KGRestURL:        strings.TrimRight(strings.TrimSpace(*flagKGURL), "/"),
		KGRestToken:      *flagKGToken,
		KGRestTimeout:    *flagKGTimeout,
		RedisAddr:        strings.TrimSpace(*flagRedis),
		CacheTTL:         *flagCacheTTL,
		LeaseTTL:         *flagLeaseTTL,
		DBPath:           resolvePath(*flagDB, cwd),
		SnapshotDir:      resolvePath(*flagSnapDir, cwd),
		SnapshotInterval: *flagSnapInterval,
		SnapshotKeep:     *flagSnapKeep,
		RetentionTTL:     *flagRetention,
		CandidateLimit:   *flagLimit,
		InactiveStatus:   strings.TrimSpace(*flagInactive),
		RankByDistance:   *flagRank,
		AdminToken:       *flagAdmin,
		TLSCertFile:      resolvePath(*flagCert, cwd),
		TLSKeyFile:       resolvePath(*flagKey, cwd),
		LogLevel:         *flagLogLevel,
		LogFormat:        strings.ToLower(strings.TrimSpace(*flagLogFormat)),
	}

	if err := config.validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}

func (c Config) validate() error {
	if c.Addr == "" {
		return errors.New("addr cannot be empty")
	}
	switch c.Backend {
	case "memory":
	case "neo4j":
		if c.Neo4jURI == "" {
			return errors.New("backend=neo4j requires neo4j-uri")
		}
	case "kgrest":
		if c.KGRestURL == "" {
			return errors.New("backend=kgrest requires kgrest-url")
		}
	default:
		return fmt.Errorf("unsupported backend: %s", c.Backend)
	}
	if c.SnapshotDir != "" && c.Backend != "memory" {
		return errors.New("snapshot-dir requires backend=memory")
	}
	if c.CandidateLimit <= 0 {
		return errors.New("limit must be positive")
	}
	if c.InactiveStatus == "" {
		return errors.New("inactive-status cannot be empty")
	}
	if c.SnapshotInterval <= 0 {
		return errors.New("snapshot interval must be positive")
	}
	if c.SnapshotKeep < 0 {
		return errors.New("snapshot-keep cannot be negative")
	}
	if c.RetentionTTL < 0 {
		return errors.New("retention cannot be negative")
	}
	if c.LeaseTTL <= 0 {
		return errors.New("lease ttl must be positive")
	}
	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		return errors.New("tls-cert and tls-key must be set together")
	}
	if c.LogFormat != "json" && c.LogFormat != "console" {
		return fmt.Errorf("unsupported log format: %s", c.LogFormat)
	}
	return nil
}

// envReader parses typed env vars and keeps the first error.
type envReader struct {
	err error
}

func (e *envReader) duration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" || e.err != nil {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		e.err = fmt.Errorf("invalid %s: %w", key, err)
		return fallback
	}
	return d
}

func (e *envReader) int(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" || e.err != nil {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		e.err = fmt.Errorf("invalid %s: %w", key, err)
		return fallback
	}
	return n
}

func (e *envReader) bool(key string, fallback bool) bool {
	raw := os.Getenv(key)
	if raw == "" || e.err != nil {
		return fallback
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		e.err = fmt.Errorf("invalid %s: %w", key, err)
		return fallback
	}
	return b
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func addrFromEnv(fallback string) string {
	if value := os.Getenv("ROLEMATCH_ADDR"); value != "" {
		return value
	}
	if port := os.Getenv("ROLEMATCH_PORT"); port != "" {
		return fmt.Sprintf("127.0.0.1:%s", port)
	}
	return fallback
}

func resolvePath(path string, cwd string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return trimmed
	}
	if filepath.IsAbs(trimmed) {
		return trimmed
	}
	return filepath.Join(cwd, trimmed)
}
