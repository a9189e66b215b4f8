package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/procurations/matching-engine/internal/config"
	"github.com/procurations/matching-engine/pkg/core/lifecycle"
	"github.com/procurations/matching-engine/pkg/core/matcher"
	"github.com/procurations/matching-engine/pkg/core/model"
	"github.com/procurations/matching-engine/pkg/db"
)

// ErrNotEligible is returned when a proxy replies for requests it cannot serve
var ErrNotEligible = errors.New("requests not eligible for this proxy")

// RepliesStore defines the database operations needed to apply explicit replies
type RepliesStore interface {
	GetRequests(ctx context.Context, ids []string) ([]*model.VotingProxyRequest, error)
	GetProxy(ctx context.Context, id string) (*model.VotingProxy, error)
	AssignRequests(ctx context.Context, assignment db.Assignment) error
	UpdateRequests(ctx context.Context, updates []db.RequestUpdate) error
	PersistProxyState(ctx context.Context, proxyID string, status model.ProxyStatus, lastMatchedAt *time.Time) error
}

// ReplyResult lists the requests a reply was applied to
type ReplyResult struct {
	ProxyID    string
	RequestIDs []string
	ProxyState model.ProxyStatus
}

// AcceptRequests applies a proxy's explicit acceptance of pending requests.
// The requests must be eligible for the proxy exactly as in a matching run.
func AcceptRequests(
	ctx context.Context,
	store RepliesStore,
	notifier Notifier,
	cfg *config.Config,
	logger *zap.Logger,
	proxyID string,
	requestIDs []string,
	now time.Time,
) (*ReplyResult, error) {
	logger.Debug("Starting acceptRequests",
		zap.String("proxy_id", proxyID),
		zap.Strings("request_ids", requestIDs))

	proxy, requests, err := loadReply(ctx, store, proxyID, requestIDs)
	if err != nil {
		return nil, err
	}

	// Same eligibility as a run, restricted to the replied ids
	restrictTo := make(map[string]bool, len(requests))
	for _, req := range requests {
		restrictTo[req.ID] = true
	}
	rules := matcher.DefaultRules(now, *cfg.Matching.LeadTimeDays)
	eligible := matcher.FilterEligible(proxy, requests, rules, restrictTo)
	candidates, _ := matcher.MatchLocation(matcher.DefaultStrategies(cfg.Matching.MaxDistanceKm), proxy, eligible)
	if len(candidates) != len(requests) {
		return nil, fmt.Errorf("%w: proxy %s, requests %v", ErrNotEligible, proxyID, requestIDs)
	}

	if err := lifecycle.CheckAssignable(proxy, requests); err != nil {
		return nil, err
	}

	if err := lifecycle.ApplyAssignment(proxy, requests, now); err != nil {
		return nil, err
	}

	assignment := db.Assignment{
		ProxyID:     proxy.ID,
		RequestIDs:  getRequestIDs(requests),
		ProxyStatus: proxy.Status,
		MatchedAt:   now,
	}
	for _, group := range groupByRequester(requests) {
		n, err := notifier.RequesterAcceptanceNotification(proxy, group, now)
		if err != nil {
			return nil, fmt.Errorf("failed to render acceptance for %s: %w", group[0].Email, err)
		}
		assignment.Notifications = append(assignment.Notifications, n)
	}

	if err := store.AssignRequests(ctx, assignment); err != nil {
		return nil, fmt.Errorf("failed to assign requests: %w", err)
	}

	logger.Debug("Accepted requests", zap.String("proxy_id", proxy.ID), zap.Int("count", len(requests)))
	return &ReplyResult{ProxyID: proxy.ID, RequestIDs: getRequestIDs(requests), ProxyState: proxy.Status}, nil
}

// DeclineRequests applies a proxy's refusal of accepted requests. The requests return to the
// pending pool, are never offered to this proxy again and their requesters are told.
// markUnavailable also takes the proxy out of matching.
func DeclineRequests(
	ctx context.Context,
	store RepliesStore,
	notifier Notifier,
	logger *zap.Logger,
	proxyID string,
	requestIDs []string,
	markUnavailable bool,
) (*ReplyResult, error) {
	logger.Debug("Starting declineRequests",
		zap.String("proxy_id", proxyID),
		zap.Strings("request_ids", requestIDs),
		zap.Bool("mark_unavailable", markUnavailable))

	proxy, requests, err := loadReply(ctx, store, proxyID, requestIDs)
	if err != nil {
		return nil, err
	}

	updates := make([]db.RequestUpdate, 0, len(requests))
	for _, req := range requests {
		if err := lifecycle.Decline(req, proxy.ID); err != nil {
			return nil, err
		}
		updates = append(updates, db.RequestUpdate{
			ID:             req.ID,
			Status:         req.Status,
			ExpectedStatus: model.RequestStatusAccepted,
			DeclinedBy:     proxy.ID,
		})
		lifecycle.ReleaseDate(proxy, req.VotingDate)
	}
	if markUnavailable {
		if err := lifecycle.SetAvailability(proxy, false); err != nil {
			return nil, err
		}
	}

	if err := store.UpdateRequests(ctx, updates); err != nil {
		return nil, fmt.Errorf("failed to update requests: %w", err)
	}
	if err := store.PersistProxyState(ctx, proxy.ID, proxy.Status, proxy.LastMatchedAt); err != nil {
		return nil, fmt.Errorf("failed to persist proxy %s: %w", proxy.ID, err)
	}

	for _, group := range groupByRequester(requests) {
		if err := notifier.NotifyRequesterOnDecline(ctx, proxy, group); err != nil {
			return nil, fmt.Errorf("failed to notify requester: %w", err)
		}
	}

	logger.Debug("Declined requests", zap.String("proxy_id", proxy.ID), zap.Int("count", len(requests)))
	return &ReplyResult{ProxyID: proxy.ID, RequestIDs: getRequestIDs(requests), ProxyState: proxy.Status}, nil
}

// ConfirmRequests records the requesters' confirmation of accepted requests
func ConfirmRequests(ctx context.Context, store RepliesStore, logger *zap.Logger, requestIDs []string) (*ReplyResult, error) {
	logger.Debug("Starting confirmRequests", zap.Strings("request_ids", requestIDs))

	requests, err := loadRequests(ctx, store, requestIDs)
	if err != nil {
		return nil, err
	}

	updates := make([]db.RequestUpdate, 0, len(requests))
	for _, req := range requests {
		if err := lifecycle.Confirm(req); err != nil {
			return nil, err
		}
		updates = append(updates, db.RequestUpdate{
			ID:             req.ID,
			Status:         req.Status,
			ProxyID:        req.ProxyID,
			ExpectedStatus: model.RequestStatusAccepted,
		})
	}

	if err := store.UpdateRequests(ctx, updates); err != nil {
		return nil, fmt.Errorf("failed to update requests: %w", err)
	}

	return &ReplyResult{RequestIDs: getRequestIDs(requests)}, nil
}

// CancelRequests cancels requests on their requester's demand. Proxies that held one of them
// get their date back and are notified.
func CancelRequests(
	ctx context.Context,
	store RepliesStore,
	notifier Notifier,
	logger *zap.Logger,
	requestIDs []string,
) (*ReplyResult, error) {
	logger.Debug("Starting cancelRequests", zap.Strings("request_ids", requestIDs))

	requests, err := loadRequests(ctx, store, requestIDs)
	if err != nil {
		return nil, err
	}

	updates := make([]db.RequestUpdate, 0, len(requests))
	detached := make(map[string][]*model.VotingProxyRequest)
	for _, req := range requests {
		previous := req.Status
		proxyID, err := lifecycle.Cancel(req)
		if err != nil {
			return nil, err
		}
		updates = append(updates, db.RequestUpdate{
			ID:             req.ID,
			Status:         req.Status,
			ExpectedStatus: previous,
		})
		if proxyID != "" {
			detached[proxyID] = append(detached[proxyID], req)
		}
	}

	if err := store.UpdateRequests(ctx, updates); err != nil {
		return nil, fmt.Errorf("failed to update requests: %w", err)
	}

	proxyIDs := make([]string, 0, len(detached))
	for id := range detached {
		proxyIDs = append(proxyIDs, id)
	}
	slices.Sort(proxyIDs)

	for _, proxyID := range proxyIDs {
		proxy, err := store.GetProxy(ctx, proxyID)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch proxy %s: %w", proxyID, err)
		}
		for _, req := range detached[proxyID] {
			lifecycle.ReleaseDate(proxy, req.VotingDate)
		}
		if err := store.PersistProxyState(ctx, proxy.ID, proxy.Status, proxy.LastMatchedAt); err != nil {
			return nil, fmt.Errorf("failed to persist proxy %s: %w", proxy.ID, err)
		}
		if err := notifier.NotifyProxyOfCancellation(ctx, proxy, detached[proxyID]); err != nil {
			return nil, fmt.Errorf("failed to notify proxy %s: %w", proxy.ID, err)
		}
		logger.Debug("Informed proxy of cancellation",
			zap.String("proxy_id", proxy.ID),
			zap.Int("count", len(detached[proxyID])))
	}

	return &ReplyResult{RequestIDs: getRequestIDs(requests)}, nil
}

// SetProxyAvailability toggles a proxy between available and unavailable
func SetProxyAvailability(
	ctx context.Context,
	store RepliesStore,
	logger *zap.Logger,
	proxyID string,
	available bool,
) (*ReplyResult, error) {
	proxy, err := store.GetProxy(ctx, proxyID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch proxy %s: %w", proxyID, err)
	}

	if err := lifecycle.SetAvailability(proxy, available); err != nil {
		return nil, err
	}
	if err := store.PersistProxyState(ctx, proxy.ID, proxy.Status, proxy.LastMatchedAt); err != nil {
		return nil, fmt.Errorf("failed to persist proxy %s: %w", proxy.ID, err)
	}

	logger.Debug("Updated proxy availability",
		zap.String("proxy_id", proxy.ID),
		zap.String("status", string(proxy.Status)))
	return &ReplyResult{ProxyID: proxy.ID, ProxyState: proxy.Status}, nil
}

func loadReply(
	ctx context.Context,
	store RepliesStore,
	proxyID string,
	requestIDs []string,
) (*model.VotingProxy, []*model.VotingProxyRequest, error) {
	proxy, err := store.GetProxy(ctx, proxyID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to fetch proxy %s: %w", proxyID, err)
	}

	requests, err := loadRequests(ctx, store, requestIDs)
	if err != nil {
		return nil, nil, err
	}
	return proxy, requests, nil
}

// loadRequests fetches the requests once each and fails if any of them does not exist
func loadRequests(ctx context.Context, store RepliesStore, requestIDs []string) ([]*model.VotingProxyRequest, error) {
	if len(requestIDs) == 0 {
		return nil, fmt.Errorf("no request ids given")
	}
	requestIDs = uniqueIDs(requestIDs)

	requests, err := store.GetRequests(ctx, requestIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch requests: %w", err)
	}
	if missing := missingIDs(requestIDs, requests); len(missing) > 0 {
		return nil, fmt.Errorf("requests %s: %w", strings.Join(missing, ", "), db.ErrNotFound)
	}
	return requests, nil
}

// groupByRequester splits requests per normalized requester email, in first-seen order
func groupByRequester(requests []*model.VotingProxyRequest) [][]*model.VotingProxyRequest {
	order := make([]string, 0)
	byEmail := make(map[string][]*model.VotingProxyRequest)
	for _, req := range requests {
		email := model.NormalizeEmail(req.Email)
		if _, ok := byEmail[email]; !ok {
			order = append(order, email)
		}
		byEmail[email] = append(byEmail[email], req)
	}

	groups := make([][]*model.VotingProxyRequest, len(order))
	for i, email := range order {
		groups[i] = byEmail[email]
	}
	return groups
}
