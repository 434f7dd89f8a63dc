package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/wfm-approvals/internal/application/port"
	"github.com/garyjia/wfm-approvals/internal/domain/entity"
	"github.com/garyjia/wfm-approvals/internal/domain/workflow"
	"github.com/garyjia/wfm-approvals/internal/infrastructure/persistence/sqlite"
)

const instanceColumns = `
	id, workflow, workflow_version, current_state, version, requester,
	data, entity_link, rule_id, chain, step_index, status, on_hold, outcome,
	state_entered_at, created_at, updated_at, completed_at`

// InstanceRepository implements port.InstanceRepository
type InstanceRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
}

// NewInstanceRepository creates a new instance repository
func NewInstanceRepository(db *sqlite.DB, logger *zap.Logger) port.InstanceRepository {
	return &InstanceRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a workflow instance and sets its ID
func (r *InstanceRepository) Create(ctx context.Context, inst *entity.Instance) error {
	data, err := encodeJSON(inst.Data)
	if err != nil {
		return err
	}
	chain, err := encodeJSON(inst.Chain)
	if err != nil {
		return err
	}

	result, err := r.db.Executor(ctx).ExecContext(ctx, `
		INSERT INTO workflow_instances (
			workflow, workflow_version, current_state, version, requester,
			data, entity_link, rule_id, chain, step_index, status, on_hold, outcome,
			state_entered_at, created_at, updated_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inst.Workflow, inst.WorkflowVersion, inst.CurrentState, inst.Version, inst.Requester,
		data, inst.EntityLink, inst.RuleID, chain, inst.StepIndex, inst.Status, inst.OnHold, inst.Outcome,
		utc(inst.StateEnteredAt), utc(inst.CreatedAt), utc(inst.UpdatedAt), nullableTime(inst.CompletedAt),
	)
	if err != nil {
		r.logger.Error("Failed to create instance", zap.String("workflow", inst.Workflow), zap.Error(err))
		return fmt.Errorf("failed to create instance: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	inst.ID = id
	return nil
}

// GetByID retrieves an instance, or nil when it does not exist
func (r *InstanceRepository) GetByID(ctx context.Context, id int64) (*entity.Instance, error) {
	row := r.db.Executor(ctx).QueryRowContext(ctx,
		`SELECT `+instanceColumns+` FROM workflow_instances WHERE id = ?`, id)

	inst, err := scanInstance(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get instance by ID", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get instance: %w", err)
	}
	return inst, nil
}

// UpdateIfVersion writes every mutable column when the stored version
// still equals expected
func (r *InstanceRepository) UpdateIfVersion(ctx context.Context, inst *entity.Instance, expected int64) error {
	data, err := encodeJSON(inst.Data)
	if err != nil {
		return err
	}

	result, err := r.db.Executor(ctx).ExecContext(ctx, `
		UPDATE workflow_instances
		SET current_state = ?, version = ?, data = ?, step_index = ?, status = ?,
			on_hold = ?, outcome = ?, state_entered_at = ?, updated_at = ?, completed_at = ?
		WHERE id = ? AND version = ?`,
		inst.CurrentState, inst.Version, data, inst.StepIndex, inst.Status,
		inst.OnHold, inst.Outcome, utc(inst.StateEnteredAt), utc(inst.UpdatedAt), nullableTime(inst.CompletedAt),
		inst.ID, expected,
	)
	if err != nil {
		r.logger.Error("Failed to update instance", zap.Int64("id", inst.ID), zap.Error(err))
		return fmt.Errorf("failed to update instance: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: instance %d is no longer at version %d",
			workflow.ErrConcurrentModification, inst.ID, expected)
	}
	return nil
}

// ListActiveInState returns one page of active, not on-hold instances
// waiting in a state, keyed on (state_entered_at, id)
func (r *InstanceRepository) ListActiveInState(ctx context.Context, q port.StateQuery) ([]*entity.Instance, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT ` + instanceColumns + `
		FROM workflow_instances
		WHERE workflow = ? AND workflow_version = ? AND current_state = ?
			AND status = ? AND on_hold = 0 AND state_entered_at < ?`
	args := []interface{}{q.Workflow, q.Version, q.State, entity.InstanceStatusActive, utc(q.EnteredBefore)}
	if q.AfterID > 0 {
		query += `
			AND (state_entered_at > ? OR (state_entered_at = ? AND id > ?))`
		args = append(args, utc(q.AfterEnteredAt), utc(q.AfterEnteredAt), q.AfterID)
	}
	query += `
		ORDER BY state_entered_at, id
		LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.Executor(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list instances", zap.String("workflow", q.Workflow), zap.Error(err))
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}
	defer rows.Close()

	var instances []*entity.Instance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan instance: %w", err)
		}
		instances = append(instances, inst)
	}
	return instances, rows.Err()
}

func scanInstance(row rowScanner) (*entity.Instance, error) {
	var (
		inst        entity.Instance
		data, chain string
		completedAt sql.NullTime
	)

	err := row.Scan(
		&inst.ID, &inst.Workflow, &inst.WorkflowVersion, &inst.CurrentState, &inst.Version, &inst.Requester,
		&data, &inst.EntityLink, &inst.RuleID, &chain, &inst.StepIndex, &inst.Status, &inst.OnHold, &inst.Outcome,
		&inst.StateEnteredAt, &inst.CreatedAt, &inst.UpdatedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := decodeJSON(data, &inst.Data); err != nil {
		return nil, err
	}
	if err := decodeJSON(chain, &inst.Chain); err != nil {
		return nil, err
	}
	inst.StateEnteredAt = inst.StateEnteredAt.UTC()
	inst.CreatedAt = inst.CreatedAt.UTC()
	inst.UpdatedAt = inst.UpdatedAt.UTC()
	inst.CompletedAt = timePtr(completedAt)
	return &inst, nil
}

var _ port.InstanceRepository = (*InstanceRepository)(nil)
