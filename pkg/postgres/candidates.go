package postgres

import (
	"context"
	"fmt"

	"github.com/procurations/matching-engine/pkg/core/model"
	"github.com/procurations/matching-engine/pkg/core/recruitment"
)

// haversineKm is the great-circle distance between a person and the point ($4, $5)
const haversineKm = `(2 * 6371.0088 * asin(least(1, sqrt(
	power(sin(radians(pe.latitude - $4) / 2), 2) +
	cos(radians($4)) * cos(radians(pe.latitude)) * power(sin(radians(pe.longitude - $5) / 2), 2)
))))`

// candidateQuery selects potential proxies: supporters with a reachable email and an active
// newsletter subscription who are not proxies yet. $1 excluded ids, $2 requester email, $3 limit.
const candidateQuery = `
	SELECT pe.id, pe.email, pe.first_name, pe.latitude, pe.longitude,
		COALESCE(pe.city_code, ''), COALESCE(pe.zip_code, ''), COALESCE(pe.country, ''),
		(
			SELECT count(*) FROM event_attendance ea
			WHERE ea.person_id = pe.id AND ea.attended_at > NOW() - INTERVAL '6 months'
		) AS recent_events,
		%s AS distance_km
	FROM person pe
	WHERE pe.email IS NOT NULL AND pe.email <> ''
		AND pe.is_supporter
		AND cardinality(pe.newsletters) > 0
		AND NOT EXISTS (
			SELECT 1 FROM voting_proxy vp
			WHERE vp.person_id = pe.id OR lower(vp.email) = lower(pe.email)
		)
		AND NOT (pe.id = ANY($1))
		AND lower(pe.email) <> $2
		AND %s
	ORDER BY recent_events DESC, distance_km ASC, pe.id
	LIMIT $3
`

func (d *DB) searchCandidates(
	ctx context.Context,
	distance string,
	condition string,
	q recruitment.Query,
	args ...any,
) ([]*model.ProxyCandidate, error) {
	exclude := q.ExcludeIDs
	if exclude == nil {
		exclude = []string{}
	}

	query := fmt.Sprintf(candidateQuery, distance, condition)
	params := append([]any{exclude, q.ExcludeEmail, q.Limit}, args...)

	rows, err := d.pool.Query(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("failed to query candidates: %w", err)
	}
	defer rows.Close()

	candidates := make([]*model.ProxyCandidate, 0)
	for rows.Next() {
		var c model.ProxyCandidate
		var latitude, longitude *float64
		if err := rows.Scan(
			&c.ID, &c.Email, &c.FirstName, &latitude, &longitude,
			&c.CityCode, &c.ZipCode, &c.Country, &c.RecentEventCount, &c.DistanceKm,
		); err != nil {
			return nil, fmt.Errorf("failed to scan candidate: %w", err)
		}
		if latitude != nil && longitude != nil {
			c.Point = &model.GeoPoint{Latitude: *latitude, Longitude: *longitude}
		}
		candidates = append(candidates, &c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating candidates: %w", err)
	}

	return candidates, nil
}

// CandidatesInCountries finds candidates living in one of the countries
func (d *DB) CandidatesInCountries(ctx context.Context, countries []string, q recruitment.Query) ([]*model.ProxyCandidate, error) {
	return d.searchCandidates(ctx, "0::float8", "pe.country = ANY($4)", q, countries)
}

// CandidatesNear finds geolocated candidates within radiusKm of the point
func (d *DB) CandidatesNear(ctx context.Context, point model.GeoPoint, radiusKm float64, q recruitment.Query) ([]*model.ProxyCandidate, error) {
	condition := "pe.latitude IS NOT NULL AND pe.longitude IS NOT NULL AND " + haversineKm + " <= $6"
	return d.searchCandidates(ctx, haversineKm, condition, q, point.Latitude, point.Longitude, radiusKm)
}

// CandidatesInCity finds candidates registered in the commune
func (d *DB) CandidatesInCity(ctx context.Context, cityCode string, q recruitment.Query) ([]*model.ProxyCandidate, error) {
	return d.searchCandidates(ctx, "0::float8", "pe.city_code = $4", q, cityCode)
}

// CandidatesWithZipCodes finds candidates sharing one of the postal codes
func (d *DB) CandidatesWithZipCodes(ctx context.Context, zipCodes []string, q recruitment.Query) ([]*model.ProxyCandidate, error) {
	return d.searchCandidates(ctx, "0::float8", "pe.zip_code = ANY($4)", q, zipCodes)
}
