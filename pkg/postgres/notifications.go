package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/procurations/matching-engine/pkg/db"
)

// EnqueueNotifications inserts outbox rows in one transaction.
// Rows whose idempotency key already exists are skipped.
func (d *DB) EnqueueNotifications(ctx context.Context, notifications []db.Notification) (int, error) {
	if len(notifications) == 0 {
		return 0, nil
	}

	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	inserted, err := insertNotifications(ctx, tx, notifications)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return inserted, nil
}

// insertNotifications writes outbox rows within the caller's transaction and returns how many were new
func insertNotifications(ctx context.Context, q execer, notifications []db.Notification) (int, error) {
	inserted := 0
	for _, n := range notifications {
		requestIDs := n.RequestIDs
		if requestIDs == nil {
			requestIDs = []string{}
		}

		tag, err := q.Exec(ctx, `
			INSERT INTO notification (id, idempotency_key, kind, recipient, subject, body, proxy_id, request_ids, status)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'pending')
			ON CONFLICT (idempotency_key) DO NOTHING
		`, n.ID, n.IdempotencyKey, string(n.Kind), n.Recipient, n.Subject, n.Body, nullableString(n.ProxyID), requestIDs)
		if err != nil {
			return 0, fmt.Errorf("failed to insert notification %s: %w", n.IdempotencyKey, err)
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}

// ListPendingNotifications retrieves pending outbox rows, oldest first
func (d *DB) ListPendingNotifications(ctx context.Context, limit int, maxAttempts int) ([]db.Notification, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT id, idempotency_key, kind, recipient, subject, body, proxy_id, request_ids,
			status, attempts, last_error, created_at, sent_at
		FROM notification
		WHERE status = 'pending' AND attempts < $2
		ORDER BY created_at, id
		LIMIT $1
	`, limit, maxAttempts)
	if err != nil {
		return nil, fmt.Errorf("failed to query notifications: %w", err)
	}
	defer rows.Close()

	var notifications []db.Notification
	for rows.Next() {
		var n db.Notification
		var kind, status string
		var proxyID *string
		if err := rows.Scan(
			&n.ID, &n.IdempotencyKey, &kind, &n.Recipient, &n.Subject, &n.Body, &proxyID, &n.RequestIDs,
			&status, &n.Attempts, &n.LastError, &n.CreatedAt, &n.SentAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		n.Kind = db.NotificationKind(kind)
		n.Status = db.NotificationStatus(status)
		n.ProxyID = derefString(proxyID)
		notifications = append(notifications, n)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating notifications: %w", err)
	}

	return notifications, nil
}

// MarkNotificationSent records a successful delivery
func (d *DB) MarkNotificationSent(ctx context.Context, id string, sentAt time.Time) error {
	_, err := d.pool.Exec(ctx, `
		UPDATE notification
		SET status = 'sent', sent_at = $2, attempts = attempts + 1, last_error = ''
		WHERE id = $1
	`, id, sentAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to mark notification %s sent: %w", id, err)
	}
	return nil
}

// MarkNotificationFailed records a failed delivery attempt and gives up after maxAttempts
func (d *DB) MarkNotificationFailed(ctx context.Context, id string, reason string, maxAttempts int) error {
	_, err := d.pool.Exec(ctx, `
		UPDATE notification
		SET attempts = attempts + 1,
			last_error = $2,
			status = CASE WHEN attempts + 1 >= $3 THEN 'failed' ELSE 'pending' END
		WHERE id = $1
	`, id, reason, maxAttempts)
	if err != nil {
		return fmt.Errorf("failed to mark notification %s failed: %w", id, err)
	}
	return nil
}

// ListInvitedCandidateIDs returns candidates invited since the given time
func (d *DB) ListInvitedCandidateIDs(ctx context.Context, since time.Time) ([]string, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT DISTINCT candidate_id FROM candidate_invitation WHERE invited_at >= $1 ORDER BY candidate_id
	`, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query candidate invitations: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan candidate id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating candidate invitations: %w", err)
	}

	return ids, nil
}

// RecordCandidateInvitations inserts invitation records in a batch
func (d *DB) RecordCandidateInvitations(ctx context.Context, invitations []db.CandidateInvitation) error {
	if len(invitations) == 0 {
		return nil
	}

	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, inv := range invitations {
		_, err := tx.Exec(ctx, `
			INSERT INTO candidate_invitation (id, candidate_id, requester_email, request_ids, strategy, invited_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, inv.ID, inv.CandidateID, inv.RequesterEmail, inv.RequestIDs, inv.Strategy, inv.InvitedAt.UTC())
		if err != nil {
			return fmt.Errorf("failed to insert candidate invitation: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}
