package services

import (
	"context"
	"slices"
	"time"

	"github.com/procurations/matching-engine/pkg/core/model"
	"github.com/procurations/matching-engine/pkg/core/recruitment"
	"github.com/procurations/matching-engine/pkg/db"
)

// Notifier defines the notifications emitted by the engine.
// Offers and acceptances are only rendered: they are committed with the assignment they announce.
// The other notifications are enqueued directly and must be idempotent.
type Notifier interface {
	ProxyMatchNotification(proxy *model.VotingProxy, requests []*model.VotingProxyRequest, matchedAt time.Time) (db.Notification, error)
	RequesterAcceptanceNotification(proxy *model.VotingProxy, requests []*model.VotingProxyRequest, acceptedAt time.Time) (db.Notification, error)
	NotifyRequesterOnDecline(ctx context.Context, proxy *model.VotingProxy, requests []*model.VotingProxyRequest) error
	NotifyCandidates(ctx context.Context, candidates []*model.ProxyCandidate, group *recruitment.RequesterGroup, invitedAt time.Time) error
	NotifyProxyOfCancellation(ctx context.Context, proxy *model.VotingProxy, requests []*model.VotingProxyRequest) error
}

// getRequestIDs extracts request IDs (useful for logging)
func getRequestIDs(requests []*model.VotingProxyRequest) []string {
	ids := make([]string, len(requests))
	for i, req := range requests {
		ids[i] = req.ID
	}
	return ids
}

// getProxyIDs extracts proxy IDs (useful for logging)
func getProxyIDs(proxies []*model.VotingProxy) []string {
	ids := make([]string, len(proxies))
	for i, proxy := range proxies {
		ids[i] = proxy.ID
	}
	return ids
}

// splitByLocation separates requests with a well-formed location from the others
func splitByLocation(requests []*model.VotingProxyRequest) (valid, invalid []*model.VotingProxyRequest) {
	valid = make([]*model.VotingProxyRequest, 0, len(requests))
	invalid = make([]*model.VotingProxyRequest, 0)
	for _, req := range requests {
		if req.Location.Valid() {
			valid = append(valid, req)
		} else {
			invalid = append(invalid, req)
		}
	}
	return valid, invalid
}

// splitProxiesByLocation separates proxies with a well-formed location from the others
func splitProxiesByLocation(proxies []*model.VotingProxy) (valid, invalid []*model.VotingProxy) {
	valid = make([]*model.VotingProxy, 0, len(proxies))
	invalid = make([]*model.VotingProxy, 0)
	for _, proxy := range proxies {
		if proxy.Location.Valid() {
			valid = append(valid, proxy)
		} else {
			invalid = append(invalid, proxy)
		}
	}
	return valid, invalid
}

// splitByHeldDate separates requests whose requester already has a proxy on that date
func splitByHeldDate(requests []*model.VotingProxyRequest, held []db.RequesterDate) (open, duplicates []*model.VotingProxyRequest) {
	covered := make(map[db.RequesterDate]bool, len(held))
	for _, h := range held {
		covered[db.RequesterDate{Email: model.NormalizeEmail(h.Email), VotingDate: h.VotingDate}] = true
	}

	open = make([]*model.VotingProxyRequest, 0, len(requests))
	duplicates = make([]*model.VotingProxyRequest, 0)
	for _, req := range requests {
		if covered[db.RequesterDate{Email: model.NormalizeEmail(req.Email), VotingDate: req.VotingDate}] {
			duplicates = append(duplicates, req)
		} else {
			open = append(open, req)
		}
	}
	return open, duplicates
}

// declinedByProxy indexes declined request ids by proxy id
func declinedByProxy(offers []db.DeclinedOffer) map[string][]string {
	declined := make(map[string][]string)
	for _, o := range offers {
		declined[o.ProxyID] = append(declined[o.ProxyID], o.RequestID)
	}
	return declined
}

// uniqueIDs drops repeated ids, keeping the first occurrence
func uniqueIDs(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	unique := make([]string, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			unique = append(unique, id)
		}
	}
	return unique
}

// missingIDs returns the requested ids absent from the loaded requests, sorted
func missingIDs(requested []string, loaded []*model.VotingProxyRequest) []string {
	found := make(map[string]bool, len(loaded))
	for _, req := range loaded {
		found[req.ID] = true
	}

	missing := make([]string, 0)
	for _, id := range requested {
		if !found[id] && !slices.Contains(missing, id) {
			missing = append(missing, id)
		}
	}
	slices.Sort(missing)
	return missing
}
