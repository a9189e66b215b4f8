package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/procurations/matching-engine/pkg/core/model"
	"github.com/procurations/matching-engine/pkg/db"
)

const selectRequests = `
	SELECT r.id, r.email, r.first_name, r.phone,
		r.commune_code, r.consulate_id, c.latitude, c.longitude,
		COALESCE(c.zip_codes, '{}'), COALESCE(cs.countries, '{}'),
		r.polling_station, to_char(r.voting_date, 'YYYY-MM-DD'), r.action_radius_km,
		r.status, r.proxy_id, r.created_at
	FROM voting_proxy_request r
	LEFT JOIN commune c ON c.code = r.commune_code
	LEFT JOIN consulate cs ON cs.id = r.consulate_id
`

const selectProxies = `
	SELECT p.id, p.email, p.first_name, p.phone,
		p.commune_code, p.consulate_id, c.latitude, c.longitude,
		COALESCE(c.zip_codes, '{}'), COALESCE(cs.countries, '{}'),
		p.polling_station_number,
		ARRAY(SELECT to_char(d, 'YYYY-MM-DD') FROM unnest(p.voting_dates) AS d ORDER BY d),
		ARRAY(
			SELECT to_char(r.voting_date, 'YYYY-MM-DD')
			FROM voting_proxy_request r
			WHERE r.proxy_id = p.id AND r.status IN ('accepted', 'confirmed')
			ORDER BY r.voting_date
		),
		p.status, p.last_matched_at, p.person_id
	FROM voting_proxy p
	LEFT JOIN commune c ON c.code = p.commune_code
	LEFT JOIN consulate cs ON cs.id = p.consulate_id
`

type rowScanner interface {
	Scan(dest ...any) error
}

// locationColumns holds the commune/consulate columns of a row
type locationColumns struct {
	communeCode, consulateID *string
	latitude, longitude      *float64
	zipCodes, countries      []string
}

func (l *locationColumns) dest() []any {
	return []any{&l.communeCode, &l.consulateID, &l.latitude, &l.longitude, &l.zipCodes, &l.countries}
}

func (l *locationColumns) location() model.Location {
	loc := model.Location{
		CommuneCode: derefString(l.communeCode),
		ConsulateID: derefString(l.consulateID),
		ZipCodes:    l.zipCodes,
		Countries:   l.countries,
	}
	if l.latitude != nil && l.longitude != nil {
		loc.Point = &model.GeoPoint{Latitude: *l.latitude, Longitude: *l.longitude}
	}
	return loc
}

func scanRequest(row rowScanner) (*model.VotingProxyRequest, error) {
	var r model.VotingProxyRequest
	var loc locationColumns
	var status string
	var proxyID *string

	dest := []any{&r.ID, &r.Email, &r.FirstName, &r.Phone}
	dest = append(dest, loc.dest()...)
	dest = append(dest, &r.PollingStation, &r.VotingDate, &r.ActionRadiusKm, &status, &proxyID, &r.CreatedAt)

	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	r.Location = loc.location()
	r.Status = model.RequestStatus(status)
	r.ProxyID = derefString(proxyID)
	return &r, nil
}

func scanProxy(row rowScanner) (*model.VotingProxy, error) {
	var p model.VotingProxy
	var loc locationColumns
	var status string
	var personID *string

	dest := []any{&p.ID, &p.Email, &p.FirstName, &p.Phone}
	dest = append(dest, loc.dest()...)
	dest = append(dest, &p.PollingStationNumber, &p.VotingDates, &p.FulfilledDates, &status, &p.LastMatchedAt, &personID)

	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	p.Location = loc.location()
	p.Status = model.ProxyStatus(status)
	p.PersonID = derefString(personID)
	return &p, nil
}

func (d *DB) queryRequests(ctx context.Context, query string, args ...any) ([]*model.VotingProxyRequest, error) {
	rows, err := d.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query requests: %w", err)
	}
	defer rows.Close()

	requests := make([]*model.VotingProxyRequest, 0)
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan request: %w", err)
		}
		requests = append(requests, req)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating requests: %w", err)
	}

	return requests, nil
}

// ListPendingRequests retrieves requests waiting for a proxy, oldest first
func (d *DB) ListPendingRequests(ctx context.Context) ([]*model.VotingProxyRequest, error) {
	return d.queryRequests(ctx, selectRequests+`
		WHERE r.status = 'created' AND r.proxy_id IS NULL
		ORDER BY r.created_at, r.id
	`)
}

// GetRequests retrieves the given requests. Unknown ids are ignored.
func (d *DB) GetRequests(ctx context.Context, ids []string) ([]*model.VotingProxyRequest, error) {
	if len(ids) == 0 {
		return []*model.VotingProxyRequest{}, nil
	}
	return d.queryRequests(ctx, selectRequests+`
		WHERE r.id = ANY($1)
		ORDER BY r.voting_date, r.id
	`, ids)
}

// ListAvailableProxies retrieves proxies that can still be offered a match
func (d *DB) ListAvailableProxies(ctx context.Context) ([]*model.VotingProxy, error) {
	rows, err := d.pool.Query(ctx, selectProxies+`
		WHERE p.status IN ('created', 'invited', 'available')
		ORDER BY p.id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query proxies: %w", err)
	}
	defer rows.Close()

	proxies := make([]*model.VotingProxy, 0)
	for rows.Next() {
		proxy, err := scanProxy(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan proxy: %w", err)
		}
		proxies = append(proxies, proxy)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating proxies: %w", err)
	}

	return proxies, nil
}

// GetProxy retrieves a single proxy whatever its status
func (d *DB) GetProxy(ctx context.Context, id string) (*model.VotingProxy, error) {
	row := d.pool.QueryRow(ctx, selectProxies+` WHERE p.id = $1`, id)
	proxy, err := scanProxy(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("proxy %s: %w", id, db.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get proxy %s: %w", id, err)
	}
	return proxy, nil
}

// AssignRequests commits an assignment in one transaction. The request update only touches rows
// still pending; if fewer rows than requested were updated, or the proxy already holds one of the
// dates, the transaction is rolled back with db.ErrConflict and nothing is enqueued.
func (d *DB) AssignRequests(ctx context.Context, assignment db.Assignment) error {
	if len(assignment.RequestIDs) == 0 {
		return nil
	}

	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE voting_proxy_request
		SET status = 'accepted', proxy_id = $1
		WHERE id = ANY($2) AND status = 'created' AND proxy_id IS NULL
	`, assignment.ProxyID, assignment.RequestIDs)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("proxy %s already holds one of the dates: %w", assignment.ProxyID, db.ErrConflict)
		}
		return fmt.Errorf("failed to assign requests: %w", err)
	}

	if tag.RowsAffected() != int64(len(assignment.RequestIDs)) {
		return fmt.Errorf("only %d of %d requests still pending: %w",
			tag.RowsAffected(), len(assignment.RequestIDs), db.ErrConflict)
	}

	if err := updateProxyState(ctx, tx, assignment.ProxyID, assignment.ProxyStatus, &assignment.MatchedAt); err != nil {
		return err
	}

	if _, err := insertNotifications(ctx, tx, assignment.Notifications); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("proxy %s already holds one of the dates: %w", assignment.ProxyID, db.ErrConflict)
		}
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// PersistProxyState writes the proxy status and last matched timestamp
func (d *DB) PersistProxyState(ctx context.Context, proxyID string, status model.ProxyStatus, lastMatchedAt *time.Time) error {
	return updateProxyState(ctx, d.pool, proxyID, status, lastMatchedAt)
}

func updateProxyState(ctx context.Context, q execer, proxyID string, status model.ProxyStatus, lastMatchedAt *time.Time) error {
	tag, err := q.Exec(ctx, `
		UPDATE voting_proxy SET status = $2, last_matched_at = $3 WHERE id = $1
	`, proxyID, string(status), lastMatchedAt)
	if err != nil {
		return fmt.Errorf("failed to persist proxy state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("proxy %s: %w", proxyID, db.ErrNotFound)
	}
	return nil
}

// UpdateRequests applies status/proxy updates atomically, each guarded by its expected status
func (d *DB) UpdateRequests(ctx context.Context, updates []db.RequestUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, u := range updates {
		tag, err := tx.Exec(ctx, `
			UPDATE voting_proxy_request SET status = $2, proxy_id = $3
			WHERE id = $1 AND status = $4
		`, u.ID, string(u.Status), nullableString(u.ProxyID), string(u.ExpectedStatus))
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("request %s: %w", u.ID, db.ErrConflict)
			}
			return fmt.Errorf("failed to update request %s: %w", u.ID, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("request %s is no longer %s: %w", u.ID, u.ExpectedStatus, db.ErrConflict)
		}

		if u.DeclinedBy != "" {
			if _, err := tx.Exec(ctx, `
				INSERT INTO declined_offer (proxy_id, request_id) VALUES ($1, $2)
				ON CONFLICT (proxy_id, request_id) DO UPDATE SET declined_at = NOW()
			`, u.DeclinedBy, u.ID); err != nil {
				return fmt.Errorf("failed to record declined request %s: %w", u.ID, err)
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// ListDeclinedOffers retrieves the refusals on requests still pending
func (d *DB) ListDeclinedOffers(ctx context.Context) ([]db.DeclinedOffer, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT o.proxy_id, o.request_id, o.declined_at
		FROM declined_offer o
		JOIN voting_proxy_request r ON r.id = o.request_id
		WHERE r.status = 'created' AND r.proxy_id IS NULL
		ORDER BY o.proxy_id, o.request_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query declined offers: %w", err)
	}

	offers, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (db.DeclinedOffer, error) {
		var o db.DeclinedOffer
		err := row.Scan(&o.ProxyID, &o.RequestID, &o.DeclinedAt)
		return o, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan declined offers: %w", err)
	}
	return offers, nil
}

// ListHeldRequesterDates retrieves the upcoming dates on which a requester already has a proxy
func (d *DB) ListHeldRequesterDates(ctx context.Context) ([]db.RequesterDate, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT DISTINCT lower(trim(email)), to_char(voting_date, 'YYYY-MM-DD')
		FROM voting_proxy_request
		WHERE status IN ('accepted', 'confirmed') AND voting_date >= CURRENT_DATE
		ORDER BY 1, 2
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query held requester dates: %w", err)
	}

	held, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (db.RequesterDate, error) {
		var rd db.RequesterDate
		err := row.Scan(&rd.Email, &rd.VotingDate)
		return rd, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan held requester dates: %w", err)
	}
	return held, nil
}
