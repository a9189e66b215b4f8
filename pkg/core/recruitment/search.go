package recruitment

import (
	"context"

	"github.com/procurations/matching-engine/pkg/core/model"
)

// Query narrows a candidate search
type Query struct {
	// ExcludeIDs are candidates already invited (this run or within the cool-down)
	ExcludeIDs []string

	// ExcludeEmail is the requester's own normalized email
	ExcludeEmail string

	Limit int
}

// CandidateSource searches the pool of potential proxies: people who are not proxies yet,
// have a reachable email, support the cause and hold an active newsletter subscription.
// Results are ranked by recent event attendance.
type CandidateSource interface {
	CandidatesInCountries(ctx context.Context, countries []string, q Query) ([]*model.ProxyCandidate, error)
	CandidatesNear(ctx context.Context, point model.GeoPoint, radiusKm float64, q Query) ([]*model.ProxyCandidate, error)
	CandidatesInCity(ctx context.Context, cityCode string, q Query) ([]*model.ProxyCandidate, error)
	CandidatesWithZipCodes(ctx context.Context, zipCodes []string, q Query) ([]*model.ProxyCandidate, error)
}

// SearchStrategy is one step of the candidate search chain
type SearchStrategy interface {
	Name() string
	Applies(location model.Location) bool
	Search(ctx context.Context, source CandidateSource, location model.Location, q Query) ([]*model.ProxyCandidate, error)
}

// CountryStrategy looks for candidates living in a country covered by the requester's consulate
type CountryStrategy struct{}

func (CountryStrategy) Name() string { return "ConsulateCountry" }

func (CountryStrategy) Applies(location model.Location) bool {
	return location.IsConsulate() && len(location.Countries) > 0
}

func (CountryStrategy) Search(ctx context.Context, source CandidateSource, location model.Location, q Query) ([]*model.ProxyCandidate, error) {
	return source.CandidatesInCountries(ctx, location.Countries, q)
}

// RadiusStrategy looks for candidates around the requester's commune reference point
type RadiusStrategy struct {
	RadiusKm float64
}

func (RadiusStrategy) Name() string { return "Radius" }

func (s RadiusStrategy) Applies(location model.Location) bool {
	return !location.IsConsulate() && location.Point != nil && s.RadiusKm > 0
}

func (s RadiusStrategy) Search(ctx context.Context, source CandidateSource, location model.Location, q Query) ([]*model.ProxyCandidate, error) {
	return source.CandidatesNear(ctx, *location.Point, s.RadiusKm, q)
}

// CityStrategy looks for candidates registered in the requester's commune
type CityStrategy struct{}

func (CityStrategy) Name() string { return "CityCode" }

func (CityStrategy) Applies(location model.Location) bool {
	return !location.IsConsulate() && location.CommuneCode != ""
}

func (CityStrategy) Search(ctx context.Context, source CandidateSource, location model.Location, q Query) ([]*model.ProxyCandidate, error) {
	return source.CandidatesInCity(ctx, location.CommuneCode, q)
}

// ZipCodeStrategy looks for candidates sharing one of the commune's postal codes
type ZipCodeStrategy struct{}

func (ZipCodeStrategy) Name() string { return "ZipCode" }

func (ZipCodeStrategy) Applies(location model.Location) bool {
	return !location.IsConsulate() && len(location.ZipCodes) > 0
}

func (ZipCodeStrategy) Search(ctx context.Context, source CandidateSource, location model.Location, q Query) ([]*model.ProxyCandidate, error) {
	return source.CandidatesWithZipCodes(ctx, location.ZipCodes, q)
}

// DefaultStrategies returns the search chain in precedence order
func DefaultStrategies(radiusKm float64) []SearchStrategy {
	return []SearchStrategy{
		CountryStrategy{},
		RadiusStrategy{RadiusKm: radiusKm},
		CityStrategy{},
		ZipCodeStrategy{},
	}
}
