package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/procurations/matching-engine/pkg/core/model"
	"github.com/procurations/matching-engine/pkg/db"
)

// testDatabaseURLEnv names the database the integration tests may wipe
const testDatabaseURLEnv = "PROCURATIONS_TEST_DATABASE_URL"

// setupTestDB connects to a scratch database, resets its schema and applies the migrations.
// The test is skipped when no database is configured.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	url := os.Getenv(testDatabaseURLEnv)
	if url == "" {
		t.Skipf("%s not set", testDatabaseURLEnv)
	}

	ctx := context.Background()
	store, err := NewDB(ctx, url)
	require.NoError(t, err)
	t.Cleanup(store.Close)

	_, err = store.pool.Exec(ctx, `DROP SCHEMA public CASCADE; CREATE SCHEMA public`)
	require.NoError(t, err)
	require.NoError(t, store.RunMigrations(ctx))

	seedRegistry(t, store)
	return store
}

// seedRegistry inserts one commune, two proxies and three requests on the same upcoming date.
// r1 and r3 share a requester.
func seedRegistry(t *testing.T, store *DB) {
	t.Helper()
	ctx := context.Background()
	date := votingDate()

	statements := []struct {
		sql  string
		args []any
	}{
		{`INSERT INTO commune (code, name, latitude, longitude, zip_codes) VALUES ('75056', 'Paris', 48.8566, 2.3522, '{75001}')`, nil},
		{`INSERT INTO voting_proxy (id, email, commune_code, voting_dates) VALUES ('p1', 'p1@example.com', '75056', ARRAY[$1::date])`, []any{date}},
		{`INSERT INTO voting_proxy (id, email, commune_code, voting_dates) VALUES ('p2', 'p2@example.com', '75056', ARRAY[$1::date])`, []any{date}},
		{`INSERT INTO voting_proxy_request (id, email, commune_code, voting_date, created_at) VALUES ('r1', 'one@example.com', '75056', $1::date, NOW() - interval '2 days')`, []any{date}},
		{`INSERT INTO voting_proxy_request (id, email, commune_code, voting_date, created_at) VALUES ('r2', 'two@example.com', '75056', $1::date, NOW() - interval '1 day')`, []any{date}},
		{`INSERT INTO voting_proxy_request (id, email, commune_code, voting_date, created_at) VALUES ('r3', 'ONE@example.com', '75056', $1::date, NOW())`, []any{date}},
	}
	for _, s := range statements {
		_, err := store.pool.Exec(ctx, s.sql, s.args...)
		require.NoError(t, err)
	}
}

func votingDate() string {
	return time.Now().AddDate(1, 0, 0).Format(model.DateLayout)
}

func offer(key, proxyID string, requestIDs ...string) db.Notification {
	return db.Notification{
		ID:             "n-" + key,
		IdempotencyKey: key,
		Kind:           db.NotificationProxyMatched,
		Recipient:      proxyID + "@example.com",
		Subject:        "New procuration requests for you",
		Body:           "Hello\n",
		ProxyID:        proxyID,
		RequestIDs:     requestIDs,
	}
}

func TestAssignRequests_CommitsAssignmentProxyStateAndOffer(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	matchedAt := time.Now().UTC().Truncate(time.Microsecond)

	err := store.AssignRequests(ctx, db.Assignment{
		ProxyID:       "p1",
		RequestIDs:    []string{"r1"},
		ProxyStatus:   model.ProxyStatusAvailable,
		MatchedAt:     matchedAt,
		Notifications: []db.Notification{offer("k1", "p1", "r1")},
	})
	require.NoError(t, err)

	requests, err := store.GetRequests(ctx, []string{"r1"})
	require.NoError(t, err)
	require.Len(t, requests, 1)
	assert.Equal(t, model.RequestStatusAccepted, requests[0].Status)
	assert.Equal(t, "p1", requests[0].ProxyID)

	proxy, err := store.GetProxy(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, model.ProxyStatusAvailable, proxy.Status)
	require.NotNil(t, proxy.LastMatchedAt)
	assert.True(t, matchedAt.Equal(*proxy.LastMatchedAt))
	assert.Equal(t, []string{votingDate()}, proxy.FulfilledDates)

	pending, err := store.ListPendingNotifications(ctx, 10, 5)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "k1", pending[0].IdempotencyKey)
	assert.Equal(t, []string{"r1"}, pending[0].RequestIDs)
}

func TestAssignRequests_RequestNoLongerPending(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, store.AssignRequests(ctx, db.Assignment{
		ProxyID: "p1", RequestIDs: []string{"r1"}, ProxyStatus: model.ProxyStatusAvailable, MatchedAt: time.Now(),
		Notifications: []db.Notification{offer("k1", "p1", "r1")},
	}))

	err := store.AssignRequests(ctx, db.Assignment{
		ProxyID: "p2", RequestIDs: []string{"r1"}, ProxyStatus: model.ProxyStatusAvailable, MatchedAt: time.Now(),
		Notifications: []db.Notification{offer("k2", "p2", "r1")},
	})
	assert.ErrorIs(t, err, db.ErrConflict)

	// The refused assignment left no trace
	proxy, err := store.GetProxy(ctx, "p2")
	require.NoError(t, err)
	assert.Equal(t, model.ProxyStatusCreated, proxy.Status)
	assert.Nil(t, proxy.LastMatchedAt)

	pending, err := store.ListPendingNotifications(ctx, 10, 5)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "p1", pending[0].ProxyID)
}

func TestAssignRequests_ProxyDateUniqueness(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, store.AssignRequests(ctx, db.Assignment{
		ProxyID: "p1", RequestIDs: []string{"r1"}, ProxyStatus: model.ProxyStatusAvailable, MatchedAt: time.Now(),
	}))

	// r2 is still pending but p1 already holds its date
	err := store.AssignRequests(ctx, db.Assignment{
		ProxyID: "p1", RequestIDs: []string{"r2"}, ProxyStatus: model.ProxyStatusAvailable, MatchedAt: time.Now(),
		Notifications: []db.Notification{offer("k2", "p1", "r2")},
	})
	assert.ErrorIs(t, err, db.ErrConflict)

	pending, err := store.ListPendingRequests(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"r2", "r3"}, requestIDs(pending))

	notifications, err := store.ListPendingNotifications(ctx, 10, 5)
	require.NoError(t, err)
	assert.Empty(t, notifications)
}

func TestAssignRequests_RepeatedIDIsRefused(t *testing.T) {
	store := setupTestDB(t)

	err := store.AssignRequests(context.Background(), db.Assignment{
		ProxyID: "p1", RequestIDs: []string{"r1", "r1"}, ProxyStatus: model.ProxyStatusAvailable, MatchedAt: time.Now(),
	})

	assert.ErrorIs(t, err, db.ErrConflict)
}

func TestAssignRequests_ReplayedOfferKeyIsSkipped(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	n, err := store.EnqueueNotifications(ctx, []db.Notification{offer("k1", "p1", "r1")})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// The assignment still commits when its offer was already queued
	require.NoError(t, store.AssignRequests(ctx, db.Assignment{
		ProxyID: "p1", RequestIDs: []string{"r1"}, ProxyStatus: model.ProxyStatusAvailable, MatchedAt: time.Now(),
		Notifications: []db.Notification{offer("k1", "p1", "r1")},
	}))

	notifications, err := store.ListPendingNotifications(ctx, 10, 5)
	require.NoError(t, err)
	assert.Len(t, notifications, 1)
}

func TestDeclinedOffersAndHeldRequesterDates(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, store.AssignRequests(ctx, db.Assignment{
		ProxyID: "p1", RequestIDs: []string{"r1"}, ProxyStatus: model.ProxyStatusAvailable, MatchedAt: time.Now(),
	}))
	require.NoError(t, store.AssignRequests(ctx, db.Assignment{
		ProxyID: "p2", RequestIDs: []string{"r2"}, ProxyStatus: model.ProxyStatusAvailable, MatchedAt: time.Now(),
	}))

	held, err := store.ListHeldRequesterDates(ctx)
	require.NoError(t, err)
	assert.Equal(t, []db.RequesterDate{
		{Email: "one@example.com", VotingDate: votingDate()},
		{Email: "two@example.com", VotingDate: votingDate()},
	}, held)

	// p2 declines r2
	require.NoError(t, store.UpdateRequests(ctx, []db.RequestUpdate{{
		ID:             "r2",
		Status:         model.RequestStatusCreated,
		ExpectedStatus: model.RequestStatusAccepted,
		DeclinedBy:     "p2",
	}}))

	offers, err := store.ListDeclinedOffers(ctx)
	require.NoError(t, err)
	require.Len(t, offers, 1)
	assert.Equal(t, "p2", offers[0].ProxyID)
	assert.Equal(t, "r2", offers[0].RequestID)

	held, err = store.ListHeldRequesterDates(ctx)
	require.NoError(t, err)
	assert.Equal(t, []db.RequesterDate{{Email: "one@example.com", VotingDate: votingDate()}}, held)

	// Once r2 is taken again the refusal no longer matters to a run
	require.NoError(t, store.AssignRequests(ctx, db.Assignment{
		ProxyID: "p2", RequestIDs: []string{"r2"}, ProxyStatus: model.ProxyStatusAvailable, MatchedAt: time.Now(),
	}))
	offers, err = store.ListDeclinedOffers(ctx)
	require.NoError(t, err)
	assert.Empty(t, offers)
}

func requestIDs(requests []*model.VotingProxyRequest) []string {
	ids := make([]string, len(requests))
	for i, req := range requests {
		ids[i] = req.ID
	}
	return ids
}
