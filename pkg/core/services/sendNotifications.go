package services

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/procurations/matching-engine/internal/config"
	"github.com/procurations/matching-engine/pkg/db"
)

// Mailer defines the operations needed to deliver an email
type Mailer interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// SendNotificationsStore defines the database operations needed to drain the outbox
type SendNotificationsStore interface {
	ListPendingNotifications(ctx context.Context, limit int, maxAttempts int) ([]db.Notification, error)
	MarkNotificationSent(ctx context.Context, id string, sentAt time.Time) error
	MarkNotificationFailed(ctx context.Context, id string, reason string, maxAttempts int) error
}

// FailedEmail represents a notification whose delivery failed
type FailedEmail struct {
	NotificationID string
	Recipient      string
	Error          string
}

// SendNotificationsResult contains the delivery results
type SendNotificationsResult struct {
	Sent   []string
	Failed []FailedEmail
}

// SendNotificationsOptions controls a delivery pass
type SendNotificationsOptions struct {
	// Limit overrides the configured batch size when positive
	Limit int

	// Now defaults to time.Now
	Now func() time.Time
}

// SendNotifications delivers pending outbox rows with bounded concurrency.
// A failed delivery is recorded on the row and retried by a later pass until MaxAttempts is reached.
func SendNotifications(
	ctx context.Context,
	store SendNotificationsStore,
	mailer Mailer,
	cfg *config.Config,
	logger *zap.Logger,
	opts SendNotificationsOptions,
) (*SendNotificationsResult, error) {
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	limit := cfg.Notifications.BatchSize
	if opts.Limit > 0 {
		limit = opts.Limit
	}
	maxAttempts := cfg.Notifications.MaxAttempts
	concurrency := max(cfg.Notifications.Concurrency, 1)

	logger.Debug("Starting sendNotifications",
		zap.Int("limit", limit),
		zap.Int("concurrency", concurrency))

	// Step 1: DB query - Fetch pending notifications
	pending, err := store.ListPendingNotifications(ctx, limit, maxAttempts)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch pending notifications: %w", err)
	}
	logger.Debug("Found pending notifications", zap.Int("count", len(pending)))

	result := &SendNotificationsResult{Sent: []string{}, Failed: []FailedEmail{}}
	if len(pending) == 0 {
		return result, nil
	}

	// Step 2: Deliver
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for _, n := range pending {
		g.Go(func() error {
			sendErr := mailer.SendEmail(gctx, n.Recipient, n.Subject, n.Body)
			if sendErr != nil {
				logger.Warn("Failed to send notification",
					zap.String("id", n.ID),
					zap.String("kind", string(n.Kind)),
					zap.String("recipient", n.Recipient),
					zap.Int("attempt", n.Attempts+1),
					zap.Error(sendErr))

				if err := store.MarkNotificationFailed(gctx, n.ID, sendErr.Error(), maxAttempts); err != nil {
					return fmt.Errorf("failed to record failure of notification %s: %w", n.ID, err)
				}

				mu.Lock()
				result.Failed = append(result.Failed, FailedEmail{
					NotificationID: n.ID,
					Recipient:      n.Recipient,
					Error:          sendErr.Error(),
				})
				mu.Unlock()
				return nil
			}

			if err := store.MarkNotificationSent(gctx, n.ID, now()); err != nil {
				return fmt.Errorf("failed to mark notification %s as sent: %w", n.ID, err)
			}

			mu.Lock()
			result.Sent = append(result.Sent, n.ID)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	slices.Sort(result.Sent)
	slices.SortFunc(result.Failed, func(a, b FailedEmail) int {
		return strings.Compare(a.NotificationID, b.NotificationID)
	})

	logger.Debug("Finished sendNotifications",
		zap.Int("sent", len(result.Sent)),
		zap.Int("failed", len(result.Failed)))

	return result, nil
}
