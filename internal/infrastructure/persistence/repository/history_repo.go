package repository

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/garyjia/wfm-approvals/internal/application/port"
	"github.com/garyjia/wfm-approvals/internal/domain/entity"
	"github.com/garyjia/wfm-approvals/internal/infrastructure/persistence/sqlite"
)

// HistoryRepository implements port.HistoryRepository. The table rejects
// updates and deletes.
type HistoryRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
}

// NewHistoryRepository creates a new history repository
func NewHistoryRepository(db *sqlite.DB, logger *zap.Logger) port.HistoryRepository {
	return &HistoryRepository{
		db:     db,
		logger: logger,
	}
}

// Append records an entry and sets its ID
func (r *HistoryRepository) Append(ctx context.Context, h *entity.HistoryEntry) error {
	details, err := encodeJSON(h.Details)
	if err != nil {
		return err
	}

	result, err := r.db.Executor(ctx).ExecContext(ctx, `
		INSERT INTO workflow_history (
			instance_id, kind, from_state, to_state, transition, actor, reason, details, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		h.InstanceID, h.Kind, h.FromState, h.ToState, h.Transition, h.Actor, h.Reason, details, utc(h.Timestamp),
	)
	if err != nil {
		r.logger.Error("Failed to append history", zap.Int64("instance_id", h.InstanceID), zap.Error(err))
		return fmt.Errorf("failed to append history: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	h.ID = id
	return nil
}

// GetByInstanceID returns the entries of one instance in append order
func (r *HistoryRepository) GetByInstanceID(ctx context.Context, instanceID int64) ([]*entity.HistoryEntry, error) {
	return r.List(ctx, port.HistoryFilter{InstanceID: instanceID})
}

// List returns entries matching filter in append order
func (r *HistoryRepository) List(ctx context.Context, filter port.HistoryFilter) ([]*entity.HistoryEntry, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.InstanceID != 0 {
		where = append(where, "h.instance_id = ?")
		args = append(args, filter.InstanceID)
	}
	if filter.Workflow != "" {
		where = append(where, "i.workflow = ?")
		args = append(args, filter.Workflow)
	}
	if !filter.Since.IsZero() {
		where = append(where, "h.created_at >= ?")
		args = append(args, utc(filter.Since))
	}
	if !filter.Until.IsZero() {
		where = append(where, "h.created_at < ?")
		args = append(args, utc(filter.Until))
	}

	query := `
		SELECT h.id, h.instance_id, h.kind, h.from_state, h.to_state, h.transition,
			h.actor, h.reason, h.details, h.created_at
		FROM workflow_history h
		JOIN workflow_instances i ON i.id = h.instance_id`
	if len(where) > 0 {
		query += "\n\t\tWHERE " + strings.Join(where, " AND ")
	}
	query += "\n\t\tORDER BY h.id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := r.db.Executor(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list history", zap.Error(err))
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	defer rows.Close()

	var entries []*entity.HistoryEntry
	for rows.Next() {
		var (
			h       entity.HistoryEntry
			details string
		)
		if err := rows.Scan(&h.ID, &h.InstanceID, &h.Kind, &h.FromState, &h.ToState, &h.Transition,
			&h.Actor, &h.Reason, &details, &h.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan history: %w", err)
		}
		if err := decodeJSON(details, &h.Details); err != nil {
			return nil, err
		}
		h.Timestamp = h.Timestamp.UTC()
		entries = append(entries, &h)
	}
	return entries, rows.Err()
}

var _ port.HistoryRepository = (*HistoryRepository)(nil)
