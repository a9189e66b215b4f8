package matcher

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/procurations/matching-engine/pkg/core/lifecycle"
	"github.com/procurations/matching-engine/pkg/core/model"
)

// Assigner persists a proxy/request-group assignment.
// It must return ErrConflict (possibly wrapped) when storage refuses the assignment because
// one of the requests or the proxy's date is already taken. Any other error aborts the run.
type Assigner interface {
	Assign(ctx context.Context, proxy *model.VotingProxy, requests []*model.VotingProxyRequest) error
}

// AssignerFunc adapts a function to the Assigner interface
type AssignerFunc func(ctx context.Context, proxy *model.VotingProxy, requests []*model.VotingProxyRequest) error

func (f AssignerFunc) Assign(ctx context.Context, proxy *model.VotingProxy, requests []*model.VotingProxyRequest) error {
	return f(ctx, proxy, requests)
}

// NoopAssigner accepts every assignment without persisting anything (dry runs)
var NoopAssigner = AssignerFunc(func(context.Context, *model.VotingProxy, []*model.VotingProxyRequest) error {
	return nil
})

// Config contains the configuration for creating a new Matcher
type Config struct {
	// Rules are the hard eligibility constraints between a proxy and a request
	Rules []Rule

	// Strategies is the location strategy chain, in precedence order
	Strategies []LocationStrategy

	Mode Mode

	// Now stamps the assignments (LastMatchedAt). Defaults to time.Now.
	Now func() time.Time
}

// Matcher pairs available proxies with pending request groups
type Matcher struct {
	rules      []Rule
	strategies []LocationStrategy
	mode       Mode
	now        func() time.Time
	assigner   Assigner
}

// New creates a matcher. A nil assigner behaves like NoopAssigner.
func New(cfg Config, assigner Assigner) (*Matcher, error) {
	if len(cfg.Strategies) == 0 {
		return nil, fmt.Errorf("at least one location strategy is required")
	}

	mode := cfg.Mode
	if mode == "" {
		mode = ModeProxyPriority
	}
	if mode != ModeProxyPriority && mode != ModeOneRound {
		return nil, fmt.Errorf("unknown matching mode %q", mode)
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	if assigner == nil {
		assigner = NoopAssigner
	}

	return &Matcher{
		rules:      cfg.Rules,
		strategies: cfg.Strategies,
		mode:       mode,
		now:        now,
		assigner:   assigner,
	}, nil
}

// BestGroup returns the highest ranked request group the proxy can serve from the pool,
// or nil when there is none
func (m *Matcher) BestGroup(proxy *model.VotingProxy, pool *Pool) (*RequestGroup, string) {
	groups, strategy := m.RankedGroups(proxy, pool)
	if len(groups) == 0 {
		return nil, ""
	}
	return groups[0], strategy
}

// RankedGroups returns every request group the proxy can serve from the pool, best first
func (m *Matcher) RankedGroups(proxy *model.VotingProxy, pool *Pool) ([]*RequestGroup, string) {
	if !proxy.Location.Valid() {
		return nil, ""
	}

	eligible := FilterEligible(proxy, pool.Requests(), m.rules, nil)
	candidates, strategy := MatchLocation(m.strategies, proxy, eligible)
	if len(candidates) == 0 {
		return nil, ""
	}

	return GroupCandidates(candidates), strategy
}

// Run matches the proxies against the pool. The pool shrinks as groups are assigned or refused
// by storage; the proxies' in-memory state is updated after every successful assignment.
func (m *Matcher) Run(ctx context.Context, proxies []*model.VotingProxy, pool *Pool) (*Outcome, error) {
	outcome := &Outcome{
		Assignments: []Assignment{},
		Conflicts:   []Conflict{},
		Duplicates:  []string{},
	}

	var err error
	switch m.mode {
	case ModeOneRound:
		err = m.runOneRound(ctx, SortProxies(proxies), pool, outcome)
	default:
		err = m.runProxyPriority(ctx, SortProxies(proxies), pool, outcome)
	}
	if err != nil {
		return nil, err
	}

	used := make(map[string]bool)
	for _, a := range outcome.Assignments {
		used[a.Proxy.ID] = true
	}
	outcome.ProxiesUsed = len(used)
	outcome.Remaining = pool.Requests()

	return outcome, nil
}

// runProxyPriority visits proxies in priority order and keeps offering groups to the current
// proxy until it has no compatible group left
func (m *Matcher) runProxyPriority(ctx context.Context, proxies []*model.VotingProxy, pool *Pool, outcome *Outcome) error {
	for _, proxy := range proxies {
		if pool.Len() == 0 {
			break
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		for {
			group, strategy := m.BestGroup(proxy, pool)
			if group == nil {
				break
			}

			if _, err := m.assign(ctx, proxy, group, strategy, pool, outcome); err != nil {
				return err
			}
		}
	}
	return nil
}

// pairing is a proxy's current best group in one-round mode
type pairing struct {
	proxy    *model.VotingProxy
	rank     int
	group    *RequestGroup
	strategy string
}

// runOneRound gives each proxy at most one group, processing the closest pairs first.
// A pair whose group was consumed in the meantime is re-evaluated and reinserted.
func (m *Matcher) runOneRound(ctx context.Context, proxies []*model.VotingProxy, pool *Pool, outcome *Outcome) error {
	queue := make([]*pairing, 0, len(proxies))
	for rank, proxy := range proxies {
		group, strategy := m.BestGroup(proxy, pool)
		if group == nil {
			continue
		}
		queue = append(queue, &pairing{proxy: proxy, rank: rank, group: group, strategy: strategy})
	}
	slices.SortStableFunc(queue, comparePairings)

	for len(queue) > 0 && pool.Len() > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}

		// Pop best pair
		current := queue[0]
		queue = queue[1:]

		if !pool.ContainsAll(current.group.RequestIDs()) {
			group, strategy := m.BestGroup(current.proxy, pool)
			if group == nil {
				continue
			}
			current.group, current.strategy = group, strategy
			queue = reinsertPairing(queue, current)
			continue
		}

		assigned, err := m.assign(ctx, current.proxy, current.group, current.strategy, pool, outcome)
		if err != nil {
			return err
		}
		if assigned {
			continue
		}

		// Storage refused the group, give the proxy another chance with what is left
		group, strategy := m.BestGroup(current.proxy, pool)
		if group == nil {
			continue
		}
		current.group, current.strategy = group, strategy
		queue = reinsertPairing(queue, current)
	}

	return nil
}

func reinsertPairing(queue []*pairing, p *pairing) []*pairing {
	insertIdx := len(queue)
	for i, other := range queue {
		if comparePairings(p, other) < 0 {
			insertIdx = i
			break
		}
	}
	return slices.Insert(queue, insertIdx, p)
}

func comparePairings(a, b *pairing) int {
	switch {
	case a.group.DistanceKm != b.group.DistanceKm:
		if a.group.DistanceKm < b.group.DistanceKm {
			return -1
		}
		return 1
	case a.group.PollingStationMatch != b.group.PollingStationMatch:
		return b.group.PollingStationMatch - a.group.PollingStationMatch
	case a.group.MatchingDateCount != b.group.MatchingDateCount:
		return b.group.MatchingDateCount - a.group.MatchingDateCount
	}
	return a.rank - b.rank
}

// assign persists the group for the proxy and updates the pool and in-memory state.
// It returns false when the assignment was refused, in which case the group's requests are
// dropped from the pool for the rest of the run.
func (m *Matcher) assign(
	ctx context.Context,
	proxy *model.VotingProxy,
	group *RequestGroup,
	strategy string,
	pool *Pool,
	outcome *Outcome,
) (bool, error) {
	requests := group.Requests()
	ids := group.RequestIDs()

	if err := lifecycle.CheckAssignable(proxy, requests); err != nil {
		return false, fmt.Errorf("matcher produced an invalid assignment for proxy %s: %w", proxy.ID, err)
	}

	err := m.assigner.Assign(ctx, proxy, requests)

	// Assigned or refused, these requests are not offered again in this run
	pool.Remove(ids...)

	if err != nil {
		if errors.Is(err, ErrConflict) {
			outcome.Conflicts = append(outcome.Conflicts, Conflict{
				ProxyID:    proxy.ID,
				RequestIDs: ids,
				Err:        err,
			})
			return false, nil
		}
		return false, fmt.Errorf("failed to assign requests %v to proxy %s: %w", ids, proxy.ID, err)
	}

	// The requester now has a proxy on these dates
	outcome.Duplicates = append(outcome.Duplicates, pool.RemoveRequesterDates(group.Email, group.Dates())...)

	at := m.now()
	if err := lifecycle.ApplyAssignment(proxy, requests, at); err != nil {
		return false, fmt.Errorf("failed to apply assignment to proxy %s: %w", proxy.ID, err)
	}

	outcome.Assignments = append(outcome.Assignments, Assignment{
		Proxy:    proxy,
		Group:    group,
		Strategy: strategy,
		At:       at,
	})
	return true, nil
}
