package matcher

import (
	"math"
	"strings"

	"github.com/procurations/matching-engine/pkg/core/model"
)

const earthRadiusKm = 6371.0088

// LocationStrategy finds the requests geographically compatible with a proxy.
// Strategies are tried in order and the first applicable one returning a non-empty
// set wins.
type LocationStrategy interface {
	Name() string

	// Applies reports whether the strategy can be used for this proxy at all
	Applies(proxy *model.VotingProxy) bool

	// Match returns the compatible requests annotated with distance and polling station match
	Match(proxy *model.VotingProxy, requests []*model.VotingProxyRequest) []Candidate
}

// ConsulateStrategy matches consulate proxies with requests of the same consulate only
type ConsulateStrategy struct{}

func (ConsulateStrategy) Name() string { return "Consulate" }

func (ConsulateStrategy) Applies(proxy *model.VotingProxy) bool {
	return proxy.Location.IsConsulate()
}

func (ConsulateStrategy) Match(proxy *model.VotingProxy, requests []*model.VotingProxyRequest) []Candidate {
	candidates := make([]Candidate, 0)
	for _, req := range requests {
		if req.Location.IsConsulate() && req.Location.ConsulateID == proxy.Location.ConsulateID {
			candidates = append(candidates, Candidate{Request: req})
		}
	}
	return candidates
}

// RadiusStrategy matches commune proxies with requests whose commune reference point lies
// within MaxDistanceKm, or within the requester's own action radius when smaller
type RadiusStrategy struct {
	MaxDistanceKm float64
}

func (RadiusStrategy) Name() string { return "Radius" }

func (s RadiusStrategy) Applies(proxy *model.VotingProxy) bool {
	return isCommuneProxy(proxy) && proxy.Location.Point != nil && s.MaxDistanceKm > 0
}

func (s RadiusStrategy) Match(proxy *model.VotingProxy, requests []*model.VotingProxyRequest) []Candidate {
	candidates := make([]Candidate, 0)
	for _, req := range requests {
		if req.Location.IsConsulate() || req.Location.Point == nil {
			continue
		}

		limit := s.MaxDistanceKm
		if req.ActionRadiusKm > 0 && req.ActionRadiusKm < limit {
			limit = req.ActionRadiusKm
		}

		distance := HaversineKm(*proxy.Location.Point, *req.Location.Point)
		if distance > limit {
			continue
		}

		candidates = append(candidates, Candidate{
			Request:             req,
			DistanceKm:          distance,
			PollingStationMatch: pollingStationMatch(proxy, req),
		})
	}
	return candidates
}

// CommuneCodeStrategy matches commune proxies with requests of the exact same commune
type CommuneCodeStrategy struct{}

func (CommuneCodeStrategy) Name() string { return "CommuneCode" }

func (CommuneCodeStrategy) Applies(proxy *model.VotingProxy) bool {
	return isCommuneProxy(proxy)
}

func (CommuneCodeStrategy) Match(proxy *model.VotingProxy, requests []*model.VotingProxyRequest) []Candidate {
	candidates := make([]Candidate, 0)
	for _, req := range requests {
		if req.Location.IsConsulate() || req.Location.CommuneCode != proxy.Location.CommuneCode {
			continue
		}

		distance := 0.0
		if proxy.Location.Point != nil && req.Location.Point != nil {
			distance = HaversineKm(*proxy.Location.Point, *req.Location.Point)
		}

		candidates = append(candidates, Candidate{
			Request:             req,
			DistanceKm:          distance,
			PollingStationMatch: pollingStationMatch(proxy, req),
		})
	}
	return candidates
}

// DefaultStrategies returns the location strategies in precedence order
func DefaultStrategies(maxDistanceKm float64) []LocationStrategy {
	return []LocationStrategy{
		ConsulateStrategy{},
		RadiusStrategy{MaxDistanceKm: maxDistanceKm},
		CommuneCodeStrategy{},
	}
}

// MatchLocation runs the strategy chain and returns the first non-empty candidate set
// along with the name of the strategy that produced it
func MatchLocation(
	strategies []LocationStrategy,
	proxy *model.VotingProxy,
	requests []*model.VotingProxyRequest,
) ([]Candidate, string) {
	if len(requests) == 0 {
		return nil, ""
	}

	for _, strategy := range strategies {
		if !strategy.Applies(proxy) {
			continue
		}
		if candidates := strategy.Match(proxy, requests); len(candidates) > 0 {
			return candidates, strategy.Name()
		}
	}

	return nil, ""
}

// HaversineKm returns the great-circle distance between two points in kilometres
func HaversineKm(a, b model.GeoPoint) float64 {
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := lat2 - lat1
	dLon := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)

	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

func isCommuneProxy(proxy *model.VotingProxy) bool {
	return proxy.Location.CommuneCode != "" && proxy.Location.ConsulateID == ""
}

// pollingStationMatch is 1 when both sides share commune and polling station (case-insensitive)
func pollingStationMatch(proxy *model.VotingProxy, req *model.VotingProxyRequest) int {
	if proxy.Location.CommuneCode == "" || req.Location.CommuneCode != proxy.Location.CommuneCode {
		return 0
	}

	proxyStation := strings.TrimSpace(proxy.PollingStationNumber)
	requestStation := strings.TrimSpace(req.PollingStation)
	if proxyStation == "" || !strings.EqualFold(proxyStation, requestStation) {
		return 0
	}

	return 1
}
