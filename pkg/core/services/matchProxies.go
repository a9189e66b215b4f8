package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/procurations/matching-engine/internal/config"
	"github.com/procurations/matching-engine/pkg/core/lifecycle"
	"github.com/procurations/matching-engine/pkg/core/matcher"
	"github.com/procurations/matching-engine/pkg/core/model"
	"github.com/procurations/matching-engine/pkg/core/recruitment"
	"github.com/procurations/matching-engine/pkg/db"
)

// ErrRunInProgress is returned when another matching run holds the run lock
var ErrRunInProgress = errors.New("another matching run is in progress")

// RequestOutcome is what happened to a pending request during a run
type RequestOutcome string

const (
	OutcomeMatched    RequestOutcome = "matched"
	OutcomeConflict   RequestOutcome = "conflict"
	OutcomeRecruiting RequestOutcome = "recruiting"
	OutcomeUnmatched  RequestOutcome = "unmatched"
	OutcomeInvalid    RequestOutcome = "invalid"

	// OutcomeDuplicate marks a request whose requester already has a proxy on that date
	OutcomeDuplicate RequestOutcome = "duplicate"
)

// RequestReport is the audit line of a single request
type RequestReport struct {
	RequestID  string
	Email      string
	VotingDate string
	Outcome    RequestOutcome
	ProxyID    string

	// Strategy is the location or search strategy behind a matched or recruiting outcome
	Strategy string

	// CandidatesInvited is set for recruiting outcomes
	CandidatesInvited int
}

// MatchReport is the structured summary of a matching run.
// It holds no timestamp or generated id so that two dry runs over the same pool compare equal.
type MatchReport struct {
	DryRun bool
	Mode   matcher.Mode

	RequestsConsidered int
	ProxiesConsidered  int
	RequestsMatched    int
	ProxiesUsed        int
	Conflicts          int
	CandidatesInvited  int
	InvalidRecords     int
	Duplicates         int

	// InvalidProxyIDs are proxies excluded for a malformed location, sorted
	InvalidProxyIDs []string

	// Requests holds one line per loaded request, sorted by request id
	Requests []RequestReport
}

// MatchProxiesStore defines the database operations needed for a matching run
type MatchProxiesStore interface {
	recruitment.CandidateSource

	ListPendingRequests(ctx context.Context) ([]*model.VotingProxyRequest, error)
	ListAvailableProxies(ctx context.Context) ([]*model.VotingProxy, error)
	ListDeclinedOffers(ctx context.Context) ([]db.DeclinedOffer, error)
	ListHeldRequesterDates(ctx context.Context) ([]db.RequesterDate, error)
	AssignRequests(ctx context.Context, assignment db.Assignment) error
	ListInvitedCandidateIDs(ctx context.Context, since time.Time) ([]string, error)
	RecordCandidateInvitations(ctx context.Context, invitations []db.CandidateInvitation) error
	AcquireRunLock(ctx context.Context) (db.RunLock, error)
}

// MatchOptions controls a matching run
type MatchOptions struct {
	// DryRun computes the report without any registry write or notification
	DryRun bool

	// OneRound gives each proxy at most one group, closest pairs first
	OneRound bool

	// Now defaults to time.Now
	Now func() time.Time
}

// MatchProxies runs the matching engine over the current pending requests and available proxies,
// then searches potential proxies for the requests left pending
func MatchProxies(
	ctx context.Context,
	store MatchProxiesStore,
	notifier Notifier,
	cfg *config.Config,
	logger *zap.Logger,
	opts MatchOptions,
) (*MatchReport, error) {
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	mode := matcher.ModeProxyPriority
	if opts.OneRound {
		mode = matcher.ModeOneRound
	}

	logger.Debug("Starting matchProxies",
		zap.Bool("dry_run", opts.DryRun),
		zap.String("mode", string(mode)))

	// Step 1: Take the run lock
	if !opts.DryRun {
		lock, err := store.AcquireRunLock(ctx)
		if err != nil {
			if errors.Is(err, db.ErrLocked) {
				return nil, ErrRunInProgress
			}
			return nil, fmt.Errorf("failed to acquire run lock: %w", err)
		}
		defer func() {
			if releaseErr := lock.Release(context.WithoutCancel(ctx)); releaseErr != nil {
				logger.Warn("Failed to release run lock", zap.Error(releaseErr))
			}
		}()
		logger.Debug("Acquired run lock")
	}

	// Step 2: DB queries - Load the snapshot
	logger.Debug("Loading pending requests and available proxies")
	var (
		requests []*model.VotingProxyRequest
		proxies  []*model.VotingProxy
		declined []db.DeclinedOffer
		held     []db.RequesterDate
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		requests, err = store.ListPendingRequests(gctx)
		if err != nil {
			return fmt.Errorf("failed to fetch pending requests: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		proxies, err = store.ListAvailableProxies(gctx)
		if err != nil {
			return fmt.Errorf("failed to fetch available proxies: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		declined, err = store.ListDeclinedOffers(gctx)
		if err != nil {
			return fmt.Errorf("failed to fetch declined offers: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		held, err = store.ListHeldRequesterDates(gctx)
		if err != nil {
			return fmt.Errorf("failed to fetch held requester dates: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	logger.Debug("Loaded snapshot",
		zap.Int("requests", len(requests)),
		zap.Int("proxies", len(proxies)),
		zap.Int("declined_offers", len(declined)))

	// Step 3: Exclude malformed records
	validRequests, invalidRequests := splitByLocation(requests)
	validProxies, invalidProxies := splitProxiesByLocation(proxies)
	if len(invalidRequests) > 0 || len(invalidProxies) > 0 {
		logger.Warn("Excluding records with a malformed location",
			zap.Strings("request_ids", getRequestIDs(invalidRequests)),
			zap.Strings("proxy_ids", getProxyIDs(invalidProxies)))
	}

	report := &MatchReport{
		DryRun:             opts.DryRun,
		Mode:               mode,
		RequestsConsidered: len(requests),
		ProxiesConsidered:  len(proxies),
		InvalidRecords:     len(invalidRequests) + len(invalidProxies),
		InvalidProxyIDs:    getProxyIDs(invalidProxies),
	}
	slices.Sort(report.InvalidProxyIDs)
	lines := make(map[string]*RequestReport, len(requests))
	for _, req := range requests {
		lines[req.ID] = &RequestReport{
			RequestID:  req.ID,
			Email:      model.NormalizeEmail(req.Email),
			VotingDate: req.VotingDate,
			Outcome:    OutcomeUnmatched,
		}
	}
	for _, req := range invalidRequests {
		lines[req.ID].Outcome = OutcomeInvalid
	}

	// A requester who already has a proxy on a date must not get a second one
	openRequests, duplicates := splitByHeldDate(validRequests, held)
	if len(duplicates) > 0 {
		logger.Warn("Excluding requests on a date their requester already has a proxy for",
			zap.Strings("request_ids", getRequestIDs(duplicates)))
	}
	for _, req := range duplicates {
		lines[req.ID].Outcome = OutcomeDuplicate
	}
	report.Duplicates = len(duplicates)

	// Step 4: Run the matcher
	leadTimeDays := *cfg.Matching.LeadTimeDays
	runNow := now()
	m, err := matcher.New(matcher.Config{
		Rules:      append(matcher.DefaultRules(runNow, leadTimeDays), matcher.NewNotDeclinedRule(declinedByProxy(declined))),
		Strategies: matcher.DefaultStrategies(cfg.Matching.MaxDistanceKm),
		Mode:       mode,
		Now:        now,
	}, newAssigner(store, notifier, logger, opts.DryRun, now))
	if err != nil {
		return nil, fmt.Errorf("failed to create matcher: %w", err)
	}

	pool := matcher.NewPool(openRequests)
	outcome, err := m.Run(ctx, validProxies, pool)
	if err != nil {
		return nil, fmt.Errorf("matching run failed: %w", err)
	}

	for _, a := range outcome.Assignments {
		for _, id := range a.Group.RequestIDs() {
			lines[id].Outcome = OutcomeMatched
			lines[id].ProxyID = a.Proxy.ID
			lines[id].Strategy = a.Strategy
		}
		report.RequestsMatched += len(a.Group.Candidates)
	}
	for _, c := range outcome.Conflicts {
		for _, id := range c.RequestIDs {
			lines[id].Outcome = OutcomeConflict
			lines[id].ProxyID = c.ProxyID
		}
		report.Conflicts++
	}
	for _, id := range outcome.Duplicates {
		lines[id].Outcome = OutcomeDuplicate
	}
	report.Duplicates += len(outcome.Duplicates)
	report.ProxiesUsed = outcome.ProxiesUsed

	logger.Debug("Matching done",
		zap.Int("assignments", len(outcome.Assignments)),
		zap.Int("conflicts", len(outcome.Conflicts)),
		zap.Int("remaining", len(outcome.Remaining)))

	// Step 5: Recruit potential proxies for what is left
	if *cfg.Matching.RecruitmentEnabled {
		leadTime := matcher.NewLeadTimeRule(runNow, leadTimeDays)
		leftover := make([]*model.VotingProxyRequest, 0, len(outcome.Remaining))
		for _, req := range outcome.Remaining {
			if leadTime.IsEligible(nil, req) {
				leftover = append(leftover, req)
			}
		}

		recruitments, err := recruit(ctx, store, notifier, cfg, logger, opts.DryRun, runNow, leftover)
		if err != nil {
			return nil, err
		}
		for _, r := range recruitments {
			for _, id := range r.Group.RequestIDs() {
				lines[id].Outcome = OutcomeRecruiting
				lines[id].Strategy = r.Strategy
				lines[id].CandidatesInvited = len(r.Candidates)
			}
			report.CandidatesInvited += len(r.Candidates)
		}
	}

	// Step 6: Build the per-request audit
	report.Requests = make([]RequestReport, 0, len(lines))
	for _, line := range lines {
		report.Requests = append(report.Requests, *line)
	}
	slices.SortFunc(report.Requests, func(a, b RequestReport) int {
		return strings.Compare(a.RequestID, b.RequestID)
	})

	logger.Debug("Finished matchProxies",
		zap.Int("matched", report.RequestsMatched),
		zap.Int("proxies_used", report.ProxiesUsed),
		zap.Int("candidates_invited", report.CandidatesInvited))

	return report, nil
}

// newAssigner commits an assignment together with the proxy's offer, so a request is never
// accepted without its notification. Dry runs get a no-op assigner.
func newAssigner(
	store MatchProxiesStore,
	notifier Notifier,
	logger *zap.Logger,
	dryRun bool,
	now func() time.Time,
) matcher.Assigner {
	if dryRun {
		return matcher.NoopAssigner
	}

	return matcher.AssignerFunc(func(ctx context.Context, proxy *model.VotingProxy, requests []*model.VotingProxyRequest) error {
		ids := getRequestIDs(requests)
		matchedAt := now()

		offer, err := notifier.ProxyMatchNotification(proxy, requests, matchedAt)
		if err != nil {
			return fmt.Errorf("failed to render offer for proxy %s: %w", proxy.ID, err)
		}

		err = store.AssignRequests(ctx, db.Assignment{
			ProxyID:       proxy.ID,
			RequestIDs:    ids,
			ProxyStatus:   lifecycle.ProxyStatusAfterAssignment(proxy.Status),
			MatchedAt:     matchedAt,
			Notifications: []db.Notification{offer},
		})
		if err != nil {
			if errors.Is(err, db.ErrConflict) {
				logger.Info("Assignment refused by storage",
					zap.String("proxy_id", proxy.ID),
					zap.Strings("request_ids", ids))
				return fmt.Errorf("%w: %w", matcher.ErrConflict, err)
			}
			return fmt.Errorf("failed to assign requests: %w", err)
		}

		logger.Debug("Assigned requests",
			zap.String("proxy_id", proxy.ID),
			zap.Strings("request_ids", ids))
		return nil
	})
}

// recruit searches potential proxies for each requester group left pending.
// Groups without any candidate are not returned.
func recruit(
	ctx context.Context,
	store MatchProxiesStore,
	notifier Notifier,
	cfg *config.Config,
	logger *zap.Logger,
	dryRun bool,
	now time.Time,
	requests []*model.VotingProxyRequest,
) ([]*recruitment.Recruitment, error) {
	groups := recruitment.GroupRequests(requests)
	if len(groups) == 0 {
		return nil, nil
	}

	since := now.AddDate(0, 0, -*cfg.Matching.CandidateCooldownDays)
	alreadyInvited, err := store.ListInvitedCandidateIDs(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch invited candidates: %w", err)
	}
	logger.Debug("Recruiting for leftover groups",
		zap.Int("groups", len(groups)),
		zap.Int("cooling_down", len(alreadyInvited)))

	recruiter := recruitment.NewRecruiter(store, recruitment.Config{
		CandidateLimit: cfg.Matching.CandidateLimit,
		Strategies:     recruitment.DefaultStrategies(cfg.Matching.CandidateRadiusKm),
		AlreadyInvited: alreadyInvited,
	}, logger)

	results := make([]*recruitment.Recruitment, 0)
	for _, group := range groups {
		result, err := recruiter.Recruit(ctx, group)
		if err != nil {
			return nil, err
		}
		if len(result.Candidates) == 0 {
			continue
		}
		results = append(results, result)

		if dryRun {
			continue
		}

		if err := notifier.NotifyCandidates(ctx, result.Candidates, group, now); err != nil {
			return nil, fmt.Errorf("failed to notify candidates for %s: %w", group.Email, err)
		}

		invitations := make([]db.CandidateInvitation, len(result.Candidates))
		for i, candidate := range result.Candidates {
			invitations[i] = db.CandidateInvitation{
				ID:             uuid.New().String(),
				CandidateID:    candidate.ID,
				RequesterEmail: group.Email,
				RequestIDs:     group.RequestIDs(),
				Strategy:       result.Strategy,
				InvitedAt:      now,
			}
		}
		if err := store.RecordCandidateInvitations(ctx, invitations); err != nil {
			return nil, fmt.Errorf("failed to record invitations for %s: %w", group.Email, err)
		}
	}

	return results, nil
}
