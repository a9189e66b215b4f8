package db

import (
	"context"
	"time"

	"github.com/procurations/matching-engine/pkg/core/model"
	"github.com/procurations/matching-engine/pkg/core/recruitment"
)

// RegistryStore defines the database operations on requests and proxies
type RegistryStore interface {
	// ListPendingRequests returns requests in status created without a proxy
	ListPendingRequests(ctx context.Context) ([]*model.VotingProxyRequest, error)

	// ListAvailableProxies returns proxies that can receive a match (created, invited or available),
	// with their fulfilled dates
	ListAvailableProxies(ctx context.Context) ([]*model.VotingProxy, error)

	// ListDeclinedOffers returns the proxy/request pairs declined on pending requests
	ListDeclinedOffers(ctx context.Context) ([]DeclinedOffer, error)

	// ListHeldRequesterDates returns the requester/date pairs already covered by an accepted
	// or confirmed request, from today on
	ListHeldRequesterDates(ctx context.Context) ([]RequesterDate, error)

	// AssignRequests commits the assignment in a single transaction: the requests are attached
	// to the proxy and accepted, the proxy state is written and the notifications are enqueued.
	// Returns ErrConflict if any request is no longer pending or the proxy already holds one of the dates.
	AssignRequests(ctx context.Context, assignment Assignment) error

	PersistProxyState(ctx context.Context, proxyID string, status model.ProxyStatus, lastMatchedAt *time.Time) error

	GetRequests(ctx context.Context, ids []string) ([]*model.VotingProxyRequest, error)
	GetProxy(ctx context.Context, id string) (*model.VotingProxy, error)

	// UpdateRequests applies the updates atomically, recording declined offers.
	// Returns ErrConflict if a row no longer has its expected status.
	UpdateRequests(ctx context.Context, updates []RequestUpdate) error
}

// NotificationStore defines the outbox operations
type NotificationStore interface {
	// EnqueueNotifications inserts the notifications, skipping known idempotency keys.
	// Returns the number of rows actually inserted.
	EnqueueNotifications(ctx context.Context, notifications []Notification) (int, error)

	// ListPendingNotifications returns up to limit pending rows with fewer than maxAttempts attempts, oldest first
	ListPendingNotifications(ctx context.Context, limit int, maxAttempts int) ([]Notification, error)

	MarkNotificationSent(ctx context.Context, id string, sentAt time.Time) error

	// MarkNotificationFailed records a failed attempt. The row becomes failed once attempts reach maxAttempts.
	MarkNotificationFailed(ctx context.Context, id string, reason string, maxAttempts int) error
}

// InvitationStore defines the candidate invitation operations
type InvitationStore interface {
	ListInvitedCandidateIDs(ctx context.Context, since time.Time) ([]string, error)
	RecordCandidateInvitations(ctx context.Context, invitations []CandidateInvitation) error
}

// RunLocker serializes matching runs across processes
type RunLocker interface {
	// AcquireRunLock returns ErrLocked when another run holds the lock
	AcquireRunLock(ctx context.Context) (RunLock, error)
}

// Database defines the interface for all database operations.
// postgres.DB implements this interface.
type Database interface {
	RegistryStore
	NotificationStore
	InvitationStore
	RunLocker
	recruitment.CandidateSource

	RunMigrations(ctx context.Context) error
	Close()
}
