package matcher

import (
	"time"

	"github.com/procurations/matching-engine/pkg/core/model"
)

// Rule is a hard constraint between a proxy and a request.
// If ANY rule returns false the request cannot be offered to the proxy.
type Rule interface {
	Name() string
	IsEligible(proxy *model.VotingProxy, req *model.VotingProxyRequest) bool
}

// PendingRule keeps requests still waiting for a proxy
type PendingRule struct{}

func (PendingRule) Name() string { return "Pending" }

func (PendingRule) IsEligible(_ *model.VotingProxy, req *model.VotingProxyRequest) bool {
	return req.Status == model.RequestStatusCreated && req.ProxyID == ""
}

// LeadTimeRule keeps requests whose voting date is strictly after Cutoff (YYYY-MM-DD)
type LeadTimeRule struct {
	Cutoff string
}

// NewLeadTimeRule builds the rule for requests more than leadTimeDays in the future
func NewLeadTimeRule(now time.Time, leadTimeDays int) LeadTimeRule {
	return LeadTimeRule{Cutoff: now.AddDate(0, 0, leadTimeDays).Format(model.DateLayout)}
}

func (LeadTimeRule) Name() string { return "LeadTime" }

func (r LeadTimeRule) IsEligible(_ *model.VotingProxy, req *model.VotingProxyRequest) bool {
	// ISO dates compare lexically
	return req.VotingDate > r.Cutoff
}

// OpenDateRule keeps requests on a date the proxy offers and does not hold yet
type OpenDateRule struct{}

func (OpenDateRule) Name() string { return "OpenDate" }

func (OpenDateRule) IsEligible(proxy *model.VotingProxy, req *model.VotingProxyRequest) bool {
	return proxy.IsOpenOn(req.VotingDate)
}

// NotSelfRule forbids a proxy from serving their own request
type NotSelfRule struct{}

func (NotSelfRule) Name() string { return "NotSelf" }

func (NotSelfRule) IsEligible(proxy *model.VotingProxy, req *model.VotingProxyRequest) bool {
	return model.NormalizeEmail(req.Email) != model.NormalizeEmail(proxy.Email)
}

// LocationRule excludes requests with a malformed location (both or neither of commune and consulate)
type LocationRule struct{}

func (LocationRule) Name() string { return "Location" }

func (LocationRule) IsEligible(_ *model.VotingProxy, req *model.VotingProxyRequest) bool {
	return req.Location.Valid()
}

// NotDeclinedRule forbids offering a request again to a proxy that declined it
type NotDeclinedRule struct {
	declined map[string]bool
}

// NewNotDeclinedRule builds the rule from the request ids each proxy declined, keyed by proxy id
func NewNotDeclinedRule(declined map[string][]string) NotDeclinedRule {
	rule := NotDeclinedRule{declined: make(map[string]bool)}
	for proxyID, requestIDs := range declined {
		for _, requestID := range requestIDs {
			rule.declined[proxyID+"/"+requestID] = true
		}
	}
	return rule
}

func (NotDeclinedRule) Name() string { return "NotDeclined" }

func (r NotDeclinedRule) IsEligible(proxy *model.VotingProxy, req *model.VotingProxyRequest) bool {
	return !r.declined[proxy.ID+"/"+req.ID]
}

// DefaultRules returns the eligibility rules of a matching run
func DefaultRules(now time.Time, leadTimeDays int) []Rule {
	return []Rule{
		PendingRule{},
		LocationRule{},
		NewLeadTimeRule(now, leadTimeDays),
		OpenDateRule{},
		NotSelfRule{},
	}
}

// FilterEligible returns the requests the proxy could legally serve.
// When restrictTo is non-nil only requests whose id it contains are considered.
func FilterEligible(
	proxy *model.VotingProxy,
	requests []*model.VotingProxyRequest,
	rules []Rule,
	restrictTo map[string]bool,
) []*model.VotingProxyRequest {
	eligible := make([]*model.VotingProxyRequest, 0)

	for _, req := range requests {
		if restrictTo != nil && !restrictTo[req.ID] {
			continue
		}
		if isEligible(proxy, req, rules) {
			eligible = append(eligible, req)
		}
	}

	return eligible
}

func isEligible(proxy *model.VotingProxy, req *model.VotingProxyRequest, rules []Rule) bool {
	for _, rule := range rules {
		if !rule.IsEligible(proxy, req) {
			return false
		}
	}
	return true
}
