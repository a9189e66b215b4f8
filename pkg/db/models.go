package db

import (
	"context"
	"errors"
	"time"

	"github.com/procurations/matching-engine/pkg/core/model"
)

var (
	// ErrConflict is returned when a write would break a uniqueness invariant
	// (request already attached, proxy already holding the date)
	ErrConflict = errors.New("conflicting write")

	// ErrNotFound is returned when a record does not exist
	ErrNotFound = errors.New("record not found")

	// ErrLocked is returned when another matching run holds the run lock
	ErrLocked = errors.New("run lock held by another process")
)

// NotificationKind identifies the template and audience of a notification
type NotificationKind string

const (
	NotificationProxyMatched      NotificationKind = "proxy_matched"
	NotificationRequesterDeclined NotificationKind = "requester_declined"
	NotificationCandidateInvited  NotificationKind = "candidate_invited"
	NotificationProxyCancelled    NotificationKind = "proxy_cancelled"
	NotificationRequesterAccepted NotificationKind = "requester_accepted"
)

type NotificationStatus string

const (
	NotificationPending NotificationStatus = "pending"
	NotificationSent    NotificationStatus = "sent"
	NotificationFailed  NotificationStatus = "failed"
)

// Notification represents an outbox record
type Notification struct {
	ID string

	// IdempotencyKey is unique: enqueuing the same key twice is a no-op
	IdempotencyKey string

	Kind       NotificationKind
	Recipient  string
	Subject    string
	Body       string
	ProxyID    string
	RequestIDs []string
	Status     NotificationStatus
	Attempts   int
	LastError  string
	CreatedAt  time.Time
	SentAt     *time.Time
}

// CandidateInvitation records a potential proxy invited for a requester group
type CandidateInvitation struct {
	ID             string
	CandidateID    string
	RequesterEmail string
	RequestIDs     []string
	Strategy       string
	InvitedAt      time.Time
}

// RequestUpdate is the mutable part of a request record
type RequestUpdate struct {
	ID      string
	Status  model.RequestStatus
	ProxyID string // Empty clears the link

	// ExpectedStatus guards the update: the row is only written if it still has this status
	ExpectedStatus model.RequestStatus

	// DeclinedBy records that this proxy declined the request. It is never offered to them again.
	DeclinedBy string
}

// Assignment is a group of requests accepted by a proxy, with the resulting proxy state and
// the notifications announcing it
type Assignment struct {
	ProxyID       string
	RequestIDs    []string
	ProxyStatus   model.ProxyStatus
	MatchedAt     time.Time
	Notifications []Notification
}

// DeclinedOffer is a request a proxy refused
type DeclinedOffer struct {
	ProxyID    string
	RequestID  string
	DeclinedAt time.Time
}

// RequesterDate is a voting date for which a requester already has a proxy
type RequesterDate struct {
	Email      string // Normalized
	VotingDate string // YYYY-MM-DD
}

// RunLock is a held matching run lock
type RunLock interface {
	Release(ctx context.Context) error
}
