package recruitment

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/procurations/matching-engine/pkg/core/model"
)

// mockSource returns canned candidates per search kind and records the queries it receives
type mockSource struct {
	countries []*model.ProxyCandidate
	near      []*model.ProxyCandidate
	city      []*model.ProxyCandidate
	zip       []*model.ProxyCandidate
	err       error

	calls   []string
	queries []Query
}

func (m *mockSource) record(kind string, q Query, result []*model.ProxyCandidate) ([]*model.ProxyCandidate, error) {
	m.calls = append(m.calls, kind)
	m.queries = append(m.queries, q)
	if m.err != nil {
		return nil, m.err
	}
	return slices.Clone(result), nil
}

func (m *mockSource) CandidatesInCountries(_ context.Context, _ []string, q Query) ([]*model.ProxyCandidate, error) {
	return m.record("countries", q, m.countries)
}

func (m *mockSource) CandidatesNear(_ context.Context, _ model.GeoPoint, _ float64, q Query) ([]*model.ProxyCandidate, error) {
	return m.record("near", q, m.near)
}

func (m *mockSource) CandidatesInCity(_ context.Context, _ string, q Query) ([]*model.ProxyCandidate, error) {
	return m.record("city", q, m.city)
}

func (m *mockSource) CandidatesWithZipCodes(_ context.Context, _ []string, q Query) ([]*model.ProxyCandidate, error) {
	return m.record("zip", q, m.zip)
}

func candidate(id string, events int, distance float64) *model.ProxyCandidate {
	return &model.ProxyCandidate{
		ID:               id,
		Email:            id + "@example.com",
		RecentEventCount: events,
		DistanceKm:       distance,
	}
}

func communeGroup(email string) *RequesterGroup {
	return &RequesterGroup{
		Email: email,
		Location: model.Location{
			CommuneCode: "75056",
			Point:       &model.GeoPoint{Latitude: 48.8566, Longitude: 2.3522},
			ZipCodes:    []string{"75001"},
		},
	}
}

func newTestRecruiter(source CandidateSource, limit int, alreadyInvited ...string) *Recruiter {
	return NewRecruiter(source, Config{
		CandidateLimit: limit,
		Strategies:     DefaultStrategies(20),
		AlreadyInvited: alreadyInvited,
	}, zap.NewNop())
}

func TestRecruit_RespectsCandidateLimit(t *testing.T) {
	near := make([]*model.ProxyCandidate, 0)
	for i := 0; i < 25; i++ {
		near = append(near, candidate(fmt.Sprintf("c%02d", i), i%3, float64(i)))
	}
	source := &mockSource{near: near}
	recruiter := newTestRecruiter(source, 10)

	result, err := recruiter.Recruit(context.Background(), communeGroup("voter@example.com"))
	require.NoError(t, err)

	assert.Len(t, result.Candidates, 10)
	assert.Equal(t, "Radius", result.Strategy)
	assert.Equal(t, 10, source.queries[0].Limit)
}

func TestRecruit_FirstNonEmptyStrategyWins(t *testing.T) {
	source := &mockSource{
		city: []*model.ProxyCandidate{candidate("from-city", 0, 0)},
		zip:  []*model.ProxyCandidate{candidate("from-zip", 5, 0)},
	}
	recruiter := newTestRecruiter(source, 10)

	result, err := recruiter.Recruit(context.Background(), communeGroup("voter@example.com"))
	require.NoError(t, err)

	assert.Equal(t, []string{"near", "city"}, source.calls)
	assert.Equal(t, "CityCode", result.Strategy)
	require.Len(t, result.Candidates, 1)
	assert.Equal(t, "from-city", result.Candidates[0].ID)
}

func TestRecruit_ConsulateSearchesCountriesOnly(t *testing.T) {
	source := &mockSource{
		countries: []*model.ProxyCandidate{candidate("abroad", 0, 0)},
		city:      []*model.ProxyCandidate{candidate("home", 0, 0)},
	}
	recruiter := newTestRecruiter(source, 10)
	group := &RequesterGroup{
		Email:    "expat@example.com",
		Location: model.Location{ConsulateID: "london", Countries: []string{"GB", "IE"}},
	}

	result, err := recruiter.Recruit(context.Background(), group)
	require.NoError(t, err)

	assert.Equal(t, []string{"countries"}, source.calls)
	assert.Equal(t, "ConsulateCountry", result.Strategy)
}

func TestRecruit_NeverInvitesTwiceInARun(t *testing.T) {
	shared := []*model.ProxyCandidate{candidate("a", 3, 1), candidate("b", 1, 1)}
	source := &mockSource{near: shared}
	recruiter := newTestRecruiter(source, 10)

	first, err := recruiter.Recruit(context.Background(), communeGroup("one@example.com"))
	require.NoError(t, err)
	assert.Len(t, first.Candidates, 2)

	second, err := recruiter.Recruit(context.Background(), communeGroup("two@example.com"))
	require.NoError(t, err)
	assert.Empty(t, second.Candidates)
	assert.Empty(t, second.Strategy)

	assert.Equal(t, []string{"a", "b"}, source.queries[1].ExcludeIDs)
	assert.Equal(t, []string{"a", "b"}, recruiter.Invited())
}

func TestRecruit_SkipsAlreadyInvitedAndRequesterThemself(t *testing.T) {
	source := &mockSource{near: []*model.ProxyCandidate{
		candidate("cooling-down", 9, 0),
		{ID: "self", Email: "Voter@Example.com", RecentEventCount: 9},
		{ID: "no-email"},
		candidate("fresh", 0, 3),
	}}
	recruiter := newTestRecruiter(source, 10, "cooling-down")

	result, err := recruiter.Recruit(context.Background(), communeGroup("voter@example.com"))
	require.NoError(t, err)

	require.Len(t, result.Candidates, 1)
	assert.Equal(t, "fresh", result.Candidates[0].ID)
	assert.Equal(t, "voter@example.com", source.queries[0].ExcludeEmail)
}

func TestRecruit_SourceErrorIsReturned(t *testing.T) {
	boom := errors.New("database unavailable")
	recruiter := newTestRecruiter(&mockSource{err: boom}, 10)

	_, err := recruiter.Recruit(context.Background(), communeGroup("voter@example.com"))
	assert.ErrorIs(t, err, boom)
}

func TestRankCandidates(t *testing.T) {
	candidates := []*model.ProxyCandidate{
		candidate("far-active", 2, 15),
		candidate("b-near", 0, 1),
		candidate("a-near", 0, 1),
		candidate("close-active", 2, 4),
	}

	RankCandidates(candidates)

	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.ID
	}
	assert.Equal(t, []string{"close-active", "far-active", "a-near", "b-near"}, ids)
}

func TestGroupRequests(t *testing.T) {
	now := time.Date(2027, 3, 1, 0, 0, 0, 0, time.UTC)
	loc := model.Location{CommuneCode: "75056"}
	requests := []*model.VotingProxyRequest{
		{ID: "r1", Email: "late@example.com", Location: loc, VotingDate: "2027-04-10", CreatedAt: now},
		{ID: "r2", Email: "early@example.com", Location: loc, VotingDate: "2027-04-24", CreatedAt: now.Add(-time.Hour)},
		{ID: "r3", Email: "EARLY@example.com", Location: loc, VotingDate: "2027-04-10", CreatedAt: now},
		{ID: "r4", Email: "broken@example.com", Location: model.Location{}, VotingDate: "2027-04-10", CreatedAt: now},
	}

	groups := GroupRequests(requests)

	require.Len(t, groups, 2)
	assert.Equal(t, "early@example.com", groups[0].Email)
	assert.Equal(t, []string{"r3", "r2"}, groups[0].RequestIDs())
	assert.Equal(t, "late@example.com", groups[1].Email)
}
