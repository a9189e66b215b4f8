package notifications

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
	"strings"
	"text/template"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/procurations/matching-engine/pkg/core/model"
	"github.com/procurations/matching-engine/pkg/core/recruitment"
	"github.com/procurations/matching-engine/pkg/db"
)

// Store defines the database operations needed to enqueue notifications
type Store interface {
	EnqueueNotifications(ctx context.Context, notifications []db.Notification) (int, error)
}

// Outbox renders notifications and stores them for asynchronous delivery.
// Every notification carries a deterministic idempotency key so that a retried run
// never enqueues the same message twice.
type Outbox struct {
	store     Store
	templates *template.Template
	newID     func() string
	logger    *zap.Logger
}

func NewOutbox(store Store, logger *zap.Logger) (*Outbox, error) {
	templates, err := parseTemplates()
	if err != nil {
		return nil, fmt.Errorf("failed to parse message templates: %w", err)
	}

	return &Outbox{
		store:     store,
		templates: templates,
		newID:     func() string { return uuid.New().String() },
		logger:    logger,
	}, nil
}

type messageData struct {
	Proxy      *model.VotingProxy
	Requester  *model.VotingProxyRequest
	Candidate  *model.ProxyCandidate
	Requests   []*model.VotingProxyRequest
	RequestIDs []string
	Dates      []string
}

func newMessageData(proxy *model.VotingProxy, requests []*model.VotingProxyRequest) messageData {
	data := messageData{
		Proxy:    proxy,
		Requests: requests,
	}
	if proxy == nil {
		data.Proxy = &model.VotingProxy{}
	}
	if len(requests) > 0 {
		data.Requester = requests[0]
	} else {
		data.Requester = &model.VotingProxyRequest{}
	}
	for _, req := range requests {
		data.RequestIDs = append(data.RequestIDs, req.ID)
		data.Dates = append(data.Dates, req.VotingDate)
	}
	return data
}

// ProxyMatchNotification renders the offer of the requests to the proxy. It is not enqueued:
// the row is committed together with the assignment. Each offer gets its own key, so a request
// offered again after a decline is announced again.
func (o *Outbox) ProxyMatchNotification(
	proxy *model.VotingProxy,
	requests []*model.VotingProxyRequest,
	matchedAt time.Time,
) (db.Notification, error) {
	data := newMessageData(proxy, requests)
	return o.render(db.NotificationProxyMatched, proxy.Email, proxy.ID, offerStamp(&matchedAt), data)
}

// RequesterAcceptanceNotification renders the proxy's contact details for a single requester's
// requests. Like the offer, it is committed with the assignment.
func (o *Outbox) RequesterAcceptanceNotification(
	proxy *model.VotingProxy,
	requests []*model.VotingProxyRequest,
	acceptedAt time.Time,
) (db.Notification, error) {
	if len(requests) == 0 {
		return db.Notification{}, fmt.Errorf("no requests to announce")
	}
	data := newMessageData(proxy, requests)
	return o.render(db.NotificationRequesterAccepted, requests[0].Email, proxy.ID, offerStamp(&acceptedAt), data)
}

// NotifyRequesterOnDecline tells the requester their proxy declined. The key follows the
// proxy's last offer so a second refusal after a new offer is also delivered.
func (o *Outbox) NotifyRequesterOnDecline(ctx context.Context, proxy *model.VotingProxy, requests []*model.VotingProxyRequest) error {
	if len(requests) == 0 {
		return nil
	}
	data := newMessageData(nil, requests)
	n, err := o.render(db.NotificationRequesterDeclined, requests[0].Email, proxy.ID, offerStamp(proxy.LastMatchedAt), data)
	if err != nil {
		return err
	}
	return o.enqueue(ctx, n)
}

// NotifyCandidates invites potential proxies for a requester group.
// Invitations are keyed by day: a retried run does not invite twice, a later one can.
func (o *Outbox) NotifyCandidates(
	ctx context.Context,
	candidates []*model.ProxyCandidate,
	group *recruitment.RequesterGroup,
	invitedAt time.Time,
) error {
	notifications := make([]db.Notification, 0, len(candidates))
	for _, candidate := range candidates {
		data := newMessageData(nil, group.Requests)
		data.Candidate = candidate

		n, err := o.render(db.NotificationCandidateInvited, candidate.Email, "", invitedAt.UTC().Format(model.DateLayout), data)
		if err != nil {
			return err
		}
		notifications = append(notifications, n)
	}
	return o.enqueue(ctx, notifications...)
}

// NotifyProxyOfCancellation tells the proxy a request it held was cancelled
func (o *Outbox) NotifyProxyOfCancellation(ctx context.Context, proxy *model.VotingProxy, requests []*model.VotingProxyRequest) error {
	data := newMessageData(proxy, requests)
	n, err := o.render(db.NotificationProxyCancelled, proxy.Email, proxy.ID, "", data)
	if err != nil {
		return err
	}
	return o.enqueue(ctx, n)
}

// offerStamp identifies an offer by its timestamp. Empty when the proxy was never matched.
func offerStamp(at *time.Time) string {
	if at == nil {
		return ""
	}
	return at.UTC().Format(time.RFC3339Nano)
}

func (o *Outbox) render(kind db.NotificationKind, recipient, proxyID, occurrence string, data messageData) (db.Notification, error) {
	subject, err := o.execute(string(kind)+".subject", data)
	if err != nil {
		return db.Notification{}, err
	}
	body, err := o.execute(string(kind)+".body", data)
	if err != nil {
		return db.Notification{}, err
	}

	return db.Notification{
		ID:             o.newID(),
		IdempotencyKey: IdempotencyKey(kind, recipient, proxyID, data.RequestIDs, occurrence),
		Kind:           kind,
		Recipient:      recipient,
		Subject:        strings.TrimSpace(subject),
		Body:           strings.TrimSpace(body) + "\n",
		ProxyID:        proxyID,
		RequestIDs:     data.RequestIDs,
		Status:         db.NotificationPending,
	}, nil
}

func (o *Outbox) execute(name string, data messageData) (string, error) {
	var buf bytes.Buffer
	if err := o.templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("failed to render %s: %w", name, err)
	}
	return buf.String(), nil
}

func (o *Outbox) enqueue(ctx context.Context, notifications ...db.Notification) error {
	if len(notifications) == 0 {
		return nil
	}

	inserted, err := o.store.EnqueueNotifications(ctx, notifications)
	if err != nil {
		return fmt.Errorf("failed to enqueue notifications: %w", err)
	}

	if skipped := len(notifications) - inserted; skipped > 0 {
		o.logger.Debug("Skipped already enqueued notifications",
			zap.String("kind", string(notifications[0].Kind)),
			zap.Int("skipped", skipped))
	}
	return nil
}

// IdempotencyKey identifies a notification by kind, recipient, proxy, requests and occurrence.
// The occurrence tells apart two events on the same requests, such as two offers.
// Request order does not matter.
func IdempotencyKey(kind db.NotificationKind, recipient, proxyID string, requestIDs []string, occurrence string) string {
	ids := slices.Clone(requestIDs)
	slices.Sort(ids)

	h := sha256.New()
	for _, part := range []string{string(kind), model.NormalizeEmail(recipient), proxyID, strings.Join(ids, ","), occurrence} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
