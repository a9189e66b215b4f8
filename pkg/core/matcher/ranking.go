package matcher

import (
	"slices"
	"sort"

	"github.com/procurations/matching-engine/pkg/core/model"
)

// GroupCandidates aggregates a proxy's candidate set by requester email and ranks the groups.
//
// Each group keeps at most one request per voting date (oldest first, then lowest id) so a
// proxy never receives two procurations for the same date. Groups are sorted by:
//   - ascending distance
//   - descending polling station match
//   - descending matching date count
//   - oldest request first, then email, for determinism
func GroupCandidates(candidates []Candidate) []*RequestGroup {
	groupsByEmail := make(map[string]*RequestGroup)
	emails := make([]string, 0)

	for _, candidate := range candidates {
		email := model.NormalizeEmail(candidate.Request.Email)
		group, exists := groupsByEmail[email]
		if !exists {
			group = &RequestGroup{Email: email}
			groupsByEmail[email] = group
			emails = append(emails, email)
		}

		idx := slices.IndexFunc(group.Candidates, func(c Candidate) bool {
			return c.Request.VotingDate == candidate.Request.VotingDate
		})
		if idx < 0 {
			group.Candidates = append(group.Candidates, candidate)
			continue
		}
		if isOlderRequest(candidate.Request, group.Candidates[idx].Request) {
			group.Candidates[idx] = candidate
		}
	}

	groups := make([]*RequestGroup, 0, len(emails))
	for _, email := range emails {
		group := groupsByEmail[email]
		annotateGroup(group)
		groups = append(groups, group)
	}

	sort.SliceStable(groups, func(i, j int) bool {
		return groupLess(groups[i], groups[j])
	})

	return groups
}

func annotateGroup(group *RequestGroup) {
	sort.SliceStable(group.Candidates, func(i, j int) bool {
		return group.Candidates[i].Request.VotingDate < group.Candidates[j].Request.VotingDate
	})

	group.MatchingDateCount = len(group.Candidates)
	for i, candidate := range group.Candidates {
		if i == 0 || candidate.DistanceKm < group.DistanceKm {
			group.DistanceKm = candidate.DistanceKm
		}
		if candidate.PollingStationMatch > group.PollingStationMatch {
			group.PollingStationMatch = candidate.PollingStationMatch
		}
		if i == 0 || candidate.Request.CreatedAt.Before(group.EarliestCreatedAt) {
			group.EarliestCreatedAt = candidate.Request.CreatedAt
		}
	}
}

func groupLess(a, b *RequestGroup) bool {
	if a.DistanceKm != b.DistanceKm {
		return a.DistanceKm < b.DistanceKm
	}
	if a.PollingStationMatch != b.PollingStationMatch {
		return a.PollingStationMatch > b.PollingStationMatch
	}
	if a.MatchingDateCount != b.MatchingDateCount {
		return a.MatchingDateCount > b.MatchingDateCount
	}
	if !a.EarliestCreatedAt.Equal(b.EarliestCreatedAt) {
		return a.EarliestCreatedAt.Before(b.EarliestCreatedAt)
	}
	return a.Email < b.Email
}

func isOlderRequest(a, b *model.VotingProxyRequest) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// SortProxies returns the proxies in visiting order: most open dates first, then those
// offered a match least recently (never matched first), then by id
func SortProxies(proxies []*model.VotingProxy) []*model.VotingProxy {
	sorted := slices.Clone(proxies)
	openCounts := make(map[*model.VotingProxy]int, len(sorted))
	for _, proxy := range sorted {
		openCounts[proxy] = len(proxy.OpenDates())
	}

	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if openCounts[a] != openCounts[b] {
			return openCounts[a] > openCounts[b]
		}
		switch {
		case a.LastMatchedAt == nil && b.LastMatchedAt != nil:
			return true
		case a.LastMatchedAt != nil && b.LastMatchedAt == nil:
			return false
		case a.LastMatchedAt != nil && !a.LastMatchedAt.Equal(*b.LastMatchedAt):
			return a.LastMatchedAt.Before(*b.LastMatchedAt)
		}
		return a.ID < b.ID
	})

	return sorted
}
