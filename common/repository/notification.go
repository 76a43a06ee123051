package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/secstack/secbot/common/db"
)

// SendFunc performs the actual delivery of a rendered payload.
type SendFunc func(ctx context.Context, payload []byte) error

// NotificationRepository handles exactly-once notification delivery
type NotificationRepository struct {
	db *db.DB
}

// NewNotificationRepository creates a new notification repository
func NewNotificationRepository(database *db.DB) *NotificationRepository {
	return &NotificationRepository{db: database}
}

// Deliver sends one notification to one channel at most once. The
// (scan, channel) row is locked while the delivery runs: a redelivered task
// either finds is_sent already true and returns, or retries with the payload
// stored on the first attempt so the recipient never sees two variants of
// the same message.
func (r *NotificationRepository) Deliver(ctx context.Context, scanID int64, channel string, payload []byte, send SendFunc) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin deliver: %w", err)
	}
	defer tx.Rollback(ctx)

	var id int64
	var isSent bool
	var stored []byte
	err = tx.QueryRow(ctx, `
		SELECT id, is_sent, payload FROM security_notification
		WHERE scan_id = $1 AND channel = $2
		FOR UPDATE
	`, scanID, channel).Scan(&id, &isSent, &stored)

	switch {
	case errors.Is(err, pgx.ErrNoRows):
		err = tx.QueryRow(ctx, `
			INSERT INTO security_notification (scan_id, channel, payload)
			VALUES ($1, $2, $3)
			RETURNING id
		`, scanID, channel, payload).Scan(&id)
		if err != nil {
			return fmt.Errorf("insert notification: %w", err)
		}
		stored = payload
	case err != nil:
		return fmt.Errorf("lock notification: %w", err)
	case isSent:
		return nil
	}

	if err := send(ctx, stored); err != nil {
		return fmt.Errorf("send to %s: %w", channel, err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE security_notification
		SET is_sent = true, updated_at = now()
		WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("mark notification sent: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit deliver: %w", err)
	}
	return nil
}
