// Package selection tracks the facility being inspected and keeps the
// rendered requirements and candidates in step with it.
package selection

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/rmax-ai/rolematch/pkg/assign"
	"github.com/rmax-ai/rolematch/pkg/matcher"
)

// Matcher is the read side State drives.
type Matcher interface {
	UnfilledRoleRequirements(ctx context.Context, facilityID string) ([]matcher.RoleRequirement, error)
	RankedCandidates(ctx context.Context, facilityID string, limit int) ([]matcher.Candidate, error)
	Facility(ctx context.Context, facilityID string) (matcher.FacilityInfo, bool, error)
}

// Renderer displays results. Calls are serialized with selection changes, so
// a Renderer never sees a result for a facility that is no longer selected.
// Implementations must not call back into State.
type Renderer interface {
	Clear()
	RenderFacility(info matcher.FacilityInfo)
	RenderRequirements(facilityID string, reqs []matcher.RoleRequirement)
	RenderCandidates(facilityID string, cands []matcher.Candidate)
	RenderError(facilityID string, err error)
}

// Cache holds facility lookups by feature id. Implementations swallow their
// own failures and report them as misses.
type Cache interface {
	Get(ctx context.Context, featureID string) (matcher.FacilityInfo, bool)
	Set(ctx context.Context, featureID string, info matcher.FacilityInfo)
}

// DefaultLookupTimeout bounds a shared facility lookup.
const DefaultLookupTimeout = 30 * time.Second

// Invalidator is implemented by caches that can drop a single entry.
type Invalidator interface {
	Invalidate(ctx context.Context, featureID string)
}

// Options configures a State.
type Options struct {
	Cache         Cache // nil disables caching
	Limit         int   // candidate limit, 0 uses the matcher default
	LookupTimeout time.Duration
	Logger        *zap.Logger
}

// State is the current selection plus a generation counter. Every completion
// carries the generation it was started under and is dropped if a newer
// selection has happened since.
type State struct {
	matcher  Matcher
	renderer Renderer
	cache    Cache
	limit    int
	timeout  time.Duration
	logger   *zap.Logger
	lookups  singleflight.Group

	mu         sync.Mutex
	selected   *string
	generation uint64
	baseCtx    context.Context
	cancel     context.CancelFunc
	inflight   sync.WaitGroup
}

// New creates a State with nothing selected.
func New(m Matcher, r Renderer, opts Options) *State {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := opts.LookupTimeout
	if timeout <= 0 {
		timeout = DefaultLookupTimeout
	}
	return &State{
		matcher:  m,
		renderer: r,
		cache:    opts.Cache,
		limit:    opts.Limit,
		timeout:  timeout,
		logger:   logger,
		baseCtx:  context.Background(),
	}
}

// Selected returns the current facility id.
func (s *State) Selected() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selected == nil {
		return "", false
	}
	return *s.selected, true
}

// Generation returns the current generation.
func (s *State) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// Select changes the selection. It clears rendered state immediately; a nil
// facilityID leaves it cleared, otherwise the facility lookup and both
// matching queries start concurrently and render independently as they
// complete.
func (s *State) Select(ctx context.Context, facilityID *string) {
	s.mu.Lock()
	s.generation++
	gen := s.generation
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.renderer.Clear()

	if facilityID == nil {
		s.selected = nil
		s.mu.Unlock()
		return
	}

	id := *facilityID
	s.selected = &id
	s.baseCtx = context.WithoutCancel(ctx)
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.inflight.Add(3)
	s.mu.Unlock()

	go s.run(gen, func() func() {
		info, ok, err := s.Facility(runCtx, id)
		switch {
		case err != nil:
			return func() { s.renderer.RenderError(id, err) }
		case !ok:
			return nil
		}
		return func() { s.renderer.RenderFacility(info) }
	})
	go s.run(gen, func() func() {
		reqs, err := s.matcher.UnfilledRoleRequirements(runCtx, id)
		if err != nil {
			return func() { s.renderer.RenderError(id, err) }
		}
		return func() { s.renderer.RenderRequirements(id, reqs) }
	})
	go s.run(gen, func() func() {
		cands, err := s.matcher.RankedCandidates(runCtx, id, s.limit)
		if err != nil {
			return func() { s.renderer.RenderError(id, err) }
		}
		return func() { s.renderer.RenderCandidates(id, cands) }
	})
}

// run executes work and applies its render step only if gen is still current.
func (s *State) run(gen uint64, work func() func()) {
	defer s.inflight.Done()
	render := work()
	if render == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		s.logger.Debug("dropping stale result", zap.Uint64("generation", gen), zap.Uint64("current", s.generation))
		return
	}
	render()
}

// Refresh re-runs matching for the current selection, if any.
func (s *State) Refresh() {
	s.mu.Lock()
	sel, ctx := s.selected, s.baseCtx
	s.mu.Unlock()
	if sel == nil {
		return
	}
	id := *sel
	s.Select(ctx, &id)
}

// Reload drops the selected facility from the cache, when the cache supports
// it, and refreshes so the attributes are read from the graph again.
func (s *State) Reload() {
	s.mu.Lock()
	sel, ctx := s.selected, s.baseCtx
	s.mu.Unlock()
	if sel == nil {
		return
	}
	if inv, ok := s.cache.(Invalidator); ok {
		inv.Invalidate(ctx, *sel)
	}
	s.Refresh()
}

// OnCommitted refreshes the view when an assignment lands at the selected
// facility. Subscribe it to an assign.Coordinator.
func (s *State) OnCommitted(ev assign.Committed) {
	if id, ok := s.Selected(); ok && id == ev.FacilityID {
		s.Refresh()
	}
}

// Wait blocks until every started lookup and query has finished.
func (s *State) Wait() {
	s.inflight.Wait()
}

// Facility returns facility attributes, consulting the cache first.
// Concurrent misses for the same id share one lookup. The shared lookup is
// detached from any single caller, so a caller whose ctx ends (a superseded
// selection) returns ctx.Err() without failing later joiners.
func (s *State) Facility(ctx context.Context, facilityID string) (matcher.FacilityInfo, bool, error) {
	if s.cache != nil {
		if info, ok := s.cache.Get(ctx, facilityID); ok {
			return info, true, nil
		}
	}

	type lookup struct {
		info matcher.FacilityInfo
		ok   bool
	}
	detached := context.WithoutCancel(ctx)
	ch := s.lookups.DoChan(facilityID, func() (any, error) {
		lookupCtx, cancel := context.WithTimeout(detached, s.timeout)
		defer cancel()
		info, ok, err := s.matcher.Facility(lookupCtx, facilityID)
		if err != nil {
			return nil, err
		}
		if ok && s.cache != nil {
			s.cache.Set(lookupCtx, facilityID, info)
		}
		return lookup{info: info, ok: ok}, nil
	})

	select {
	case <-ctx.Done():
		return matcher.FacilityInfo{}, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return matcher.FacilityInfo{}, false, res.Err
		}
		l := res.Val.(lookup)
		return l.info, l.ok, nil
	}
}
