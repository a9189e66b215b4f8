package recruitment

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/procurations/matching-engine/pkg/core/model"
)

// DefaultCandidateLimit bounds invitations per requester group when none is configured
const DefaultCandidateLimit = 10

// RequesterGroup is the set of a requester's requests left pending after matching
type RequesterGroup struct {
	Email    string
	Location model.Location
	Requests []*model.VotingProxyRequest
}

// RequestIDs returns the group's request identifiers
func (g *RequesterGroup) RequestIDs() []string {
	ids := make([]string, len(g.Requests))
	for i, req := range g.Requests {
		ids[i] = req.ID
	}
	return ids
}

// Recruitment is the result of a search for one requester group
type Recruitment struct {
	Group      *RequesterGroup
	Candidates []*model.ProxyCandidate

	// Strategy is the name of the search strategy that produced the candidates
	Strategy string
}

// Config contains the configuration for creating a new Recruiter
type Config struct {
	// CandidateLimit is the maximum number of candidates invited per requester group
	CandidateLimit int

	Strategies []SearchStrategy

	// AlreadyInvited are candidate ids that must not be invited again (e.g. within a cool-down)
	AlreadyInvited []string
}

// Recruiter searches potential proxies for unmatched requester groups.
// A candidate is invited at most once per run.
type Recruiter struct {
	source     CandidateSource
	strategies []SearchStrategy
	limit      int
	invited    map[string]bool
	logger     *zap.Logger
}

func NewRecruiter(source CandidateSource, cfg Config, logger *zap.Logger) *Recruiter {
	limit := cfg.CandidateLimit
	if limit <= 0 {
		limit = DefaultCandidateLimit
	}

	invited := make(map[string]bool, len(cfg.AlreadyInvited))
	for _, id := range cfg.AlreadyInvited {
		invited[id] = true
	}

	return &Recruiter{
		source:     source,
		strategies: cfg.Strategies,
		limit:      limit,
		invited:    invited,
		logger:     logger,
	}
}

// Recruit searches candidates for the group. The first strategy yielding at least one
// candidate not invited yet wins. An empty result is not an error.
func (r *Recruiter) Recruit(ctx context.Context, group *RequesterGroup) (*Recruitment, error) {
	result := &Recruitment{Group: group, Candidates: []*model.ProxyCandidate{}}

	for _, strategy := range r.strategies {
		if !strategy.Applies(group.Location) {
			continue
		}

		query := Query{
			ExcludeIDs:   r.Invited(),
			ExcludeEmail: model.NormalizeEmail(group.Email),
			Limit:        r.limit,
		}
		found, err := strategy.Search(ctx, r.source, group.Location, query)
		if err != nil {
			return nil, fmt.Errorf("failed to search candidates with %s for %s: %w", strategy.Name(), group.Email, err)
		}

		candidates := r.selectCandidates(group, found)
		if len(candidates) == 0 {
			r.logger.Debug("No candidate found",
				zap.String("strategy", strategy.Name()),
				zap.String("requester", group.Email))
			continue
		}

		for _, c := range candidates {
			r.invited[c.ID] = true
		}
		result.Candidates = candidates
		result.Strategy = strategy.Name()
		return result, nil
	}

	return result, nil
}

// Invited returns the ids of every candidate invited so far, sorted
func (r *Recruiter) Invited() []string {
	return slices.Sorted(maps.Keys(r.invited))
}

// selectCandidates drops excluded candidates, ranks the rest and applies the limit
func (r *Recruiter) selectCandidates(group *RequesterGroup, found []*model.ProxyCandidate) []*model.ProxyCandidate {
	requester := model.NormalizeEmail(group.Email)
	seen := make(map[string]bool)

	candidates := make([]*model.ProxyCandidate, 0, len(found))
	for _, c := range found {
		if r.invited[c.ID] || seen[c.ID] {
			continue
		}
		if c.Email == "" || model.NormalizeEmail(c.Email) == requester {
			continue
		}
		seen[c.ID] = true
		candidates = append(candidates, c)
	}

	RankCandidates(candidates)

	if len(candidates) > r.limit {
		candidates = candidates[:r.limit]
	}
	return candidates
}

// RankCandidates orders candidates by recent activity, then proximity, then id
func RankCandidates(candidates []*model.ProxyCandidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.RecentEventCount != b.RecentEventCount {
			return a.RecentEventCount > b.RecentEventCount
		}
		if a.DistanceKm != b.DistanceKm {
			return a.DistanceKm < b.DistanceKm
		}
		return a.ID < b.ID
	})
}

// GroupRequests groups leftover requests by requester email. Requests with a malformed
// location are skipped. Groups are ordered by their oldest request, then email.
func GroupRequests(requests []*model.VotingProxyRequest) []*RequesterGroup {
	byEmail := make(map[string]*RequesterGroup)
	groups := make([]*RequesterGroup, 0)

	for _, req := range requests {
		if !req.Location.Valid() {
			continue
		}
		email := model.NormalizeEmail(req.Email)
		group, ok := byEmail[email]
		if !ok {
			group = &RequesterGroup{Email: email, Location: req.Location}
			byEmail[email] = group
			groups = append(groups, group)
		}
		group.Requests = append(group.Requests, req)
	}

	for _, group := range groups {
		sort.SliceStable(group.Requests, func(i, j int) bool {
			return group.Requests[i].VotingDate < group.Requests[j].VotingDate
		})
	}

	sort.SliceStable(groups, func(i, j int) bool {
		a, b := oldest(groups[i]), oldest(groups[j])
		if !a.Equal(b) {
			return a.Before(b)
		}
		return groups[i].Email < groups[j].Email
	})

	return groups
}

func oldest(group *RequesterGroup) (t time.Time) {
	for i, req := range group.Requests {
		if i == 0 || req.CreatedAt.Before(t) {
			t = req.CreatedAt
		}
	}
	return t
}
