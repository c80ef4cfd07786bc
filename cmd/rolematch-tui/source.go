package main

import (
	"context"
	"errors"
	"sync"

	"github.com/rmax-ai/rolematch/pkg/client"
	"github.com/rmax-ai/rolematch/pkg/matcher"
)

// sdkMatcher serves selection.State from a remote daemon.
type sdkMatcher struct {
	c *client.Client
}

func (m sdkMatcher) UnfilledRoleRequirements(ctx context.Context, facilityID string) ([]matcher.RoleRequirement, error) {
	return m.c.Requirements(ctx, facilityID)
}

func (m sdkMatcher) RankedCandidates(ctx context.Context, facilityID string, limit int) ([]matcher.Candidate, error) {
	return m.c.Candidates(ctx, facilityID, limit)
}

func (m sdkMatcher) Facility(ctx context.Context, facilityID string) (matcher.FacilityInfo, bool, error) {
	info, err := m.c.Facility(ctx, facilityID)
	if errors.Is(err, client.ErrNotFound) {
		return matcher.FacilityInfo{}, false, nil
	}
	if err != nil {
		return matcher.FacilityInfo{}, false, err
	}
	return info, true, nil
}

// view is what the screen shows for the current selection.
type view struct {
	facilityID string
	facility   *matcher.FacilityInfo
	reqs       []matcher.RoleRequirement
	reqsDone   bool
	cands      []matcher.Candidate
	candsDone  bool
	err        error
}

// viewRenderer implements selection.Renderer. It is called under the
// selection lock, so it only records the latest view and signals changed
// without blocking; the UI loop picks the view up with snapshot.
type viewRenderer struct {
	mu      sync.Mutex
	current view
	changed chan struct{}
}

func newViewRenderer() *viewRenderer {
	return &viewRenderer{changed: make(chan struct{}, 1)}
}

func (r *viewRenderer) update(fn func(v *view)) {
	r.mu.Lock()
	fn(&r.current)
	r.mu.Unlock()
	select {
	case r.changed <- struct{}{}:
	default:
	}
}

func (r *viewRenderer) snapshot() view {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

func (r *viewRenderer) Clear() {
	r.update(func(v *view) { *v = view{} })
}

func (r *viewRenderer) RenderFacility(info matcher.FacilityInfo) {
	r.update(func(v *view) {
		v.facilityID = info.FacilityID
		v.facility = &info
	})
}

func (r *viewRenderer) RenderRequirements(facilityID string, reqs []matcher.RoleRequirement) {
	r.update(func(v *view) {
		v.facilityID = facilityID
		v.reqs = reqs
		v.reqsDone = true
	})
}

func (r *viewRenderer) RenderCandidates(facilityID string, cands []matcher.Candidate) {
	r.update(func(v *view) {
		v.facilityID = facilityID
		v.cands = cands
		v.candsDone = true
	})
}

func (r *viewRenderer) RenderError(facilityID string, err error) {
	r.update(func(v *view) {
		v.facilityID = facilityID
		v.err = err
	})
}
