package matcher

import (
	"errors"
	"time"

	"github.com/procurations/matching-engine/pkg/core/model"
)

// ErrConflict is returned by an Assigner when the requests are no longer available
// (e.g. another run attached them first). The matcher drops them for the rest of the run.
var ErrConflict = errors.New("requests no longer available")

// Mode selects how proxies and request groups are paired
type Mode string

const (
	// ModeProxyPriority visits proxies by priority and gives each one batches of groups
	// until it has no open date left
	ModeProxyPriority Mode = "proxy-priority"

	// ModeOneRound gives each proxy at most one group, closest pairs first
	ModeOneRound Mode = "one-round"
)

// Candidate is a request compatible with a proxy, annotated for ranking
type Candidate struct {
	Request *model.VotingProxyRequest

	// DistanceKm between the proxy's and the request's reference points (0 when unknown)
	DistanceKm float64

	// PollingStationMatch is 1 when proxy and requester share commune and polling station
	PollingStationMatch int
}

// RequestGroup is the set of a single requester's requests a proxy can serve together
type RequestGroup struct {
	// Email is the normalized requester email
	Email string

	// Candidates holds at most one request per voting date, sorted by date
	Candidates []Candidate

	DistanceKm          float64
	PollingStationMatch int
	MatchingDateCount   int

	// EarliestCreatedAt is the creation time of the group's oldest request
	EarliestCreatedAt time.Time
}

// Requests returns the group's requests in date order
func (g *RequestGroup) Requests() []*model.VotingProxyRequest {
	requests := make([]*model.VotingProxyRequest, len(g.Candidates))
	for i, c := range g.Candidates {
		requests[i] = c.Request
	}
	return requests
}

// RequestIDs returns the group's request identifiers in date order
func (g *RequestGroup) RequestIDs() []string {
	ids := make([]string, len(g.Candidates))
	for i, c := range g.Candidates {
		ids[i] = c.Request.ID
	}
	return ids
}

// Dates returns the voting dates covered by the group
func (g *RequestGroup) Dates() []string {
	dates := make([]string, len(g.Candidates))
	for i, c := range g.Candidates {
		dates[i] = c.Request.VotingDate
	}
	return dates
}

// Assignment is one step of a run: a proxy offered a whole request group
type Assignment struct {
	Proxy *model.VotingProxy
	Group *RequestGroup

	// Strategy is the name of the location strategy that produced the group
	Strategy string

	At time.Time
}

// Conflict records an assignment the storage layer refused
type Conflict struct {
	ProxyID    string
	RequestIDs []string
	Err        error
}

// Outcome is the result of a matching run
type Outcome struct {
	Assignments []Assignment
	Conflicts   []Conflict

	// Duplicates are pending requests dropped because their requester got a proxy
	// for the same date during the run
	Duplicates []string

	// ProxiesUsed is the number of distinct proxies that received at least one group
	ProxiesUsed int

	// Remaining are the requests still pending at the end of the run
	Remaining []*model.VotingProxyRequest
}
