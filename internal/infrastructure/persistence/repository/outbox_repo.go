package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/wfm-approvals/internal/application/port"
	"github.com/garyjia/wfm-approvals/internal/domain/entity"
	"github.com/garyjia/wfm-approvals/internal/infrastructure/persistence/sqlite"
)

const outboxColumns = `
	id, delivery_id, instance_id, kind, template, target, recipients, payload,
	status, attempts, last_error, next_attempt_at, delivered_at, created_at, updated_at`

// OutboxRepository implements port.OutboxRepository
type OutboxRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
}

// NewOutboxRepository creates a new outbox repository
func NewOutboxRepository(db *sqlite.DB, logger *zap.Logger) port.OutboxRepository {
	return &OutboxRepository{
		db:     db,
		logger: logger,
	}
}

// Enqueue records an action and sets its ID
func (r *OutboxRepository) Enqueue(ctx context.Context, a *entity.OutboxAction) error {
	recipients, err := encodeJSON(nonNil(a.Recipients))
	if err != nil {
		return err
	}
	payload, err := encodeJSON(a.Payload)
	if err != nil {
		return err
	}

	result, err := r.db.Executor(ctx).ExecContext(ctx, `
		INSERT INTO outbox_actions (
			delivery_id, instance_id, kind, template, target, recipients, payload,
			status, attempts, last_error, next_attempt_at, delivered_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.DeliveryID, a.InstanceID, a.Kind, a.Template, a.Target, recipients, payload,
		a.Status, a.Attempts, a.LastError, utc(a.NextAttemptAt), nullableTime(a.DeliveredAt),
		utc(a.CreatedAt), utc(a.UpdatedAt),
	)
	if err != nil {
		r.logger.Error("Failed to enqueue action",
			zap.Int64("instance_id", a.InstanceID),
			zap.String("delivery_id", a.DeliveryID),
			zap.Error(err))
		return fmt.Errorf("failed to enqueue action: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	a.ID = id
	return nil
}

// ListDue returns pending actions whose next attempt is at or before now
func (r *OutboxRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]*entity.OutboxAction, error) {
	if limit <= 0 {
		limit = 50
	}
	return r.query(ctx, `
		SELECT `+outboxColumns+` FROM outbox_actions
		WHERE status = ? AND next_attempt_at <= ?
		ORDER BY next_attempt_at, id
		LIMIT ?`,
		entity.OutboxStatusPending, utc(now), limit)
}

// MarkDelivered records a successful delivery
func (r *OutboxRepository) MarkDelivered(ctx context.Context, id int64, at time.Time) error {
	_, err := r.db.Executor(ctx).ExecContext(ctx, `
		UPDATE outbox_actions
		SET status = ?, attempts = attempts + 1, last_error = '', delivered_at = ?, updated_at = ?
		WHERE id = ?`,
		entity.OutboxStatusDelivered, utc(at), utc(at), id)
	if err != nil {
		r.logger.Error("Failed to mark action delivered", zap.Int64("id", id), zap.Error(err))
		return fmt.Errorf("failed to mark action delivered: %w", err)
	}
	return nil
}

// RecordFailure counts a failed attempt and schedules the next one
func (r *OutboxRepository) RecordFailure(ctx context.Context, id int64, errMsg string, nextAttempt time.Time, giveUp bool) error {
	status := entity.OutboxStatusPending
	if giveUp {
		status = entity.OutboxStatusFailed
	}

	_, err := r.db.Executor(ctx).ExecContext(ctx, `
		UPDATE outbox_actions
		SET status = ?, attempts = attempts + 1, last_error = ?, next_attempt_at = ?, updated_at = ?
		WHERE id = ?`,
		status, errMsg, utc(nextAttempt), time.Now().UTC(), id)
	if err != nil {
		r.logger.Error("Failed to record delivery failure", zap.Int64("id", id), zap.Error(err))
		return fmt.Errorf("failed to record delivery failure: %w", err)
	}
	return nil
}

// GetByInstanceID returns the actions requested for an instance
func (r *OutboxRepository) GetByInstanceID(ctx context.Context, instanceID int64) ([]*entity.OutboxAction, error) {
	return r.query(ctx, `SELECT `+outboxColumns+` FROM outbox_actions WHERE instance_id = ? ORDER BY id`, instanceID)
}

func (r *OutboxRepository) query(ctx context.Context, query string, args ...interface{}) ([]*entity.OutboxAction, error) {
	rows, err := r.db.Executor(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to query outbox", zap.Error(err))
		return nil, fmt.Errorf("failed to query outbox: %w", err)
	}
	defer rows.Close()

	var out []*entity.OutboxAction
	for rows.Next() {
		var (
			a                   entity.OutboxAction
			recipients, payload string
			deliveredAt         sql.NullTime
		)
		if err := rows.Scan(&a.ID, &a.DeliveryID, &a.InstanceID, &a.Kind, &a.Template, &a.Target,
			&recipients, &payload, &a.Status, &a.Attempts, &a.LastError, &a.NextAttemptAt,
			&deliveredAt, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan outbox action: %w", err)
		}
		if err := decodeJSON(recipients, &a.Recipients); err != nil {
			return nil, err
		}
		if err := decodeJSON(payload, &a.Payload); err != nil {
			return nil, err
		}
		a.NextAttemptAt = a.NextAttemptAt.UTC()
		a.DeliveredAt = timePtr(deliveredAt)
		a.CreatedAt = a.CreatedAt.UTC()
		a.UpdatedAt = a.UpdatedAt.UTC()
		out = append(out, &a)
	}
	return out, rows.Err()
}

var _ port.OutboxRepository = (*OutboxRepository)(nil)
