package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rmax-ai/rolematch/pkg/assign"
	"github.com/rmax-ai/rolematch/pkg/graph"
	"github.com/rmax-ai/rolematch/pkg/matcher"
	"github.com/rmax-ai/rolematch/pkg/store"
)

// ErrNoJournal is returned by History when no journal is configured.
var ErrNoJournal = errors.New("assignment journal not configured")

// Journal records assignments and lists them back.
type Journal interface {
	assign.Journal
	ListAssignments(ctx context.Context, filter store.AssignmentFilter) ([]store.AssignmentRecord, error)
}

type config struct {
	logger  *zap.Logger
	matcher matcher.Options
	guard   assign.Guard
	journal Journal
	holder  string
}

// Option configures a Service.
type Option func(*config)

func WithLogger(l *zap.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithLimit sets the default candidate limit.
func WithLimit(n int) Option {
	return func(c *config) { c.matcher.Limit = n }
}

// WithInactiveStatus sets the facility status that marks displaced personnel.
func WithInactiveStatus(status string) Option {
	return func(c *config) { c.matcher.InactiveStatus = status }
}

// WithRankByDistance orders candidates by distance to the facility first.
func WithRankByDistance(on bool) Option {
	return func(c *config) { c.matcher.RankByDistance = on }
}

// WithGuard adds a cross-process role lease.
func WithGuard(g assign.Guard) Option {
	return func(c *config) { c.guard = g }
}

// WithJournal records committed and released assignments.
func WithJournal(j Journal) Option {
	return func(c *config) { c.journal = j }
}

// WithHolderID names this process in role leases.
func WithHolderID(id string) Option {
	return func(c *config) { c.holder = id }
}

// Service wires the Matcher and Coordinator over one graph client and
// records metrics for every call.
type Service struct {
	matcher *matcher.Matcher
	coord   *assign.Coordinator
	journal Journal
	logger  *zap.Logger
}

// NewService builds a Service over client.
func NewService(client graph.Client, opts ...Option) *Service {
	cfg := config{}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = zap.NewNop()
	}
	cfg.matcher.Logger = cfg.logger.Named("matcher")

	coordOpts := assign.Options{
		Guard:    cfg.guard,
		HolderID: cfg.holder,
		Logger:   cfg.logger.Named("assign"),
	}
	if cfg.journal != nil {
		coordOpts.Journal = cfg.journal
	}

	return &Service{
		matcher: matcher.New(client, cfg.matcher),
		coord:   assign.NewCoordinator(client, coordOpts),
		journal: cfg.journal,
		logger:  cfg.logger,
	}
}

// Matcher exposes the underlying matcher.
func (s *Service) Matcher() *matcher.Matcher { return s.matcher }

// Coordinator exposes the underlying coordinator.
func (s *Service) Coordinator() *assign.Coordinator { return s.coord }

func observe(statement string, start time.Time, n int, err error) {
	QueryDuration.WithLabelValues(statement).Observe(time.Since(start).Seconds())
	outcome := OutcomeOK
	switch {
	case err != nil:
		outcome = OutcomeError
	case n == 0:
		outcome = OutcomeEmpty
	}
	QueryTotal.WithLabelValues(statement, outcome).Inc()
}

func (s *Service) UnfilledRoleRequirements(ctx context.Context, facilityID string) ([]matcher.RoleRequirement, error) {
	start := time.Now()
	reqs, err := s.matcher.UnfilledRoleRequirements(ctx, facilityID)
	observe(graph.StmtUnfilledRequirements, start, len(reqs), err)
	return reqs, err
}

func (s *Service) RankedCandidates(ctx context.Context, facilityID string, limit int) ([]matcher.Candidate, error) {
	start := time.Now()
	cands, err := s.matcher.RankedCandidates(ctx, facilityID, limit)
	observe(graph.StmtRankedCandidates, start, len(cands), err)
	return cands, err
}

func (s *Service) Facility(ctx context.Context, facilityID string) (matcher.FacilityInfo, bool, error) {
	start := time.Now()
	info, ok, err := s.matcher.Facility(ctx, facilityID)
	n := 0
	if ok {
		n = 1
	}
	observe(graph.StmtFacility, start, n, err)
	return info, ok, err
}

// Assign commits req through the Coordinator.
func (s *Service) Assign(ctx context.Context, req assign.Request) (assign.Result, error) {
	PendingRoles.Inc()
	res, err := s.coord.Assign(ctx, req)
	PendingRoles.Dec()

	outcome := OutcomeOK
	switch {
	case errors.Is(err, assign.ErrConflict):
		outcome = OutcomeConflict
	case errors.Is(err, assign.ErrInvalidRequest):
		outcome = OutcomeInvalid
	case err != nil:
		outcome = OutcomeError
	}
	AssignTotal.WithLabelValues(outcome).Inc()
	return res, err
}

// Cleanup removes every assignment of personID to roleID.
func (s *Service) Cleanup(ctx context.Context, personID, roleID string) ([]string, error) {
	return s.coord.Cleanup(ctx, personID, roleID)
}

// Subscribe registers fn for committed assignments.
func (s *Service) Subscribe(fn func(assign.Committed)) (cancel func()) {
	return s.coord.Subscribe(fn)
}

// History lists journaled assignments.
func (s *Service) History(ctx context.Context, filter store.AssignmentFilter) ([]store.AssignmentRecord, error) {
	if s.journal == nil {
		return nil, ErrNoJournal
	}
	recs, err := s.journal.ListAssignments(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	return recs, nil
}
