package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/wfm-approvals/internal/application/port"
	"github.com/garyjia/wfm-approvals/internal/domain/entity"
	"github.com/garyjia/wfm-approvals/internal/domain/workflow"
	"github.com/garyjia/wfm-approvals/internal/infrastructure/persistence/sqlite"
)

const assignmentColumns = `
	id, instance_id, step_index, step_name, assignee_role, candidates, due_at,
	status, escalation_level, decision, acted_by, created_at, updated_at`

// AssignmentRepository implements port.AssignmentRepository
type AssignmentRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
}

// NewAssignmentRepository creates a new assignment repository
func NewAssignmentRepository(db *sqlite.DB, logger *zap.Logger) port.AssignmentRepository {
	return &AssignmentRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts an assignment and sets its ID
func (r *AssignmentRepository) Create(ctx context.Context, a *entity.Assignment) error {
	candidates, err := encodeJSON(nonNil(a.Candidates))
	if err != nil {
		return err
	}

	result, err := r.db.Executor(ctx).ExecContext(ctx, `
		INSERT INTO assignments (
			instance_id, step_index, step_name, assignee_role, candidates, due_at,
			status, escalation_level, decision, acted_by, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.InstanceID, a.StepIndex, a.StepName, a.AssigneeRole, candidates, nullableTime(a.DueAt),
		a.Status, a.EscalationLevel, a.Decision, a.ActedBy, utc(a.CreatedAt), utc(a.UpdatedAt),
	)
	if err != nil {
		r.logger.Error("Failed to create assignment", zap.Int64("instance_id", a.InstanceID), zap.Error(err))
		return fmt.Errorf("failed to create assignment: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	a.ID = id
	return nil
}

// GetByID retrieves an assignment, or nil when it does not exist
func (r *AssignmentRepository) GetByID(ctx context.Context, id int64) (*entity.Assignment, error) {
	row := r.db.Executor(ctx).QueryRowContext(ctx,
		`SELECT `+assignmentColumns+` FROM assignments WHERE id = ?`, id)

	a, err := scanAssignment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get assignment", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get assignment: %w", err)
	}
	return a, nil
}

// GetByInstanceID returns every assignment of an instance in creation order
func (r *AssignmentRepository) GetByInstanceID(ctx context.Context, instanceID int64) ([]*entity.Assignment, error) {
	return r.query(ctx, `SELECT `+assignmentColumns+` FROM assignments WHERE instance_id = ? ORDER BY id`, instanceID)
}

// GetOpenByInstanceID returns pending and escalating assignments
func (r *AssignmentRepository) GetOpenByInstanceID(ctx context.Context, instanceID int64) ([]*entity.Assignment, error) {
	return r.query(ctx, `
		SELECT `+assignmentColumns+` FROM assignments
		WHERE instance_id = ? AND status IN (?, ?)
		ORDER BY id`,
		instanceID, entity.AssignmentStatusPending, entity.AssignmentStatusEscalating)
}

// ListOverdue returns pending assignments due at or before now
func (r *AssignmentRepository) ListOverdue(ctx context.Context, now time.Time, limit int) ([]*entity.Assignment, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.query(ctx, `
		SELECT `+assignmentColumns+` FROM assignments
		WHERE status = ? AND due_at IS NOT NULL AND due_at <= ?
		ORDER BY due_at, id
		LIMIT ?`,
		entity.AssignmentStatusPending, utc(now), limit)
}

// ListPendingInstanceIDs matches the actor against resolved candidates, or
// against the role of assignments that resolved to nobody
func (r *AssignmentRepository) ListPendingInstanceIDs(ctx context.Context, actor workflow.Actor) ([]int64, error) {
	query := `
		SELECT DISTINCT a.instance_id FROM assignments a
		WHERE a.status IN (?, ?) AND (
			EXISTS (SELECT 1 FROM json_each(a.candidates) c WHERE c.value = ?)`
	args := []interface{}{entity.AssignmentStatusPending, entity.AssignmentStatusEscalating, actor.ID}

	if len(actor.Roles) > 0 {
		query += `
			OR (json_array_length(a.candidates) = 0 AND a.assignee_role IN (` + placeholders(len(actor.Roles)) + `))`
		for _, role := range actor.Roles {
			args = append(args, role)
		}
	}
	query += `
		)
		ORDER BY a.instance_id`

	rows, err := r.db.Executor(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list pending instances", zap.String("actor", actor.ID), zap.Error(err))
		return nil, fmt.Errorf("failed to list pending instances: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan instance id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Claim moves the assignment from one status to another in a single statement
func (r *AssignmentRepository) Claim(ctx context.Context, id int64, from, to string) (bool, error) {
	result, err := r.db.Executor(ctx).ExecContext(ctx,
		`UPDATE assignments SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		to, time.Now().UTC(), id, from)
	if err != nil {
		r.logger.Error("Failed to claim assignment", zap.Int64("id", id), zap.Error(err))
		return false, fmt.Errorf("failed to claim assignment: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n == 1, nil
}

// Update writes the mutable columns of an assignment
func (r *AssignmentRepository) Update(ctx context.Context, a *entity.Assignment) error {
	candidates, err := encodeJSON(nonNil(a.Candidates))
	if err != nil {
		return err
	}

	_, err = r.db.Executor(ctx).ExecContext(ctx, `
		UPDATE assignments
		SET assignee_role = ?, candidates = ?, due_at = ?, status = ?, escalation_level = ?,
			decision = ?, acted_by = ?, updated_at = ?
		WHERE id = ?`,
		a.AssigneeRole, candidates, nullableTime(a.DueAt), a.Status, a.EscalationLevel,
		a.Decision, a.ActedBy, utc(a.UpdatedAt),
		a.ID,
	)
	if err != nil {
		r.logger.Error("Failed to update assignment", zap.Int64("id", a.ID), zap.Error(err))
		return fmt.Errorf("failed to update assignment: %w", err)
	}
	return nil
}

func (r *AssignmentRepository) query(ctx context.Context, query string, args ...interface{}) ([]*entity.Assignment, error) {
	rows, err := r.db.Executor(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to query assignments", zap.Error(err))
		return nil, fmt.Errorf("failed to query assignments: %w", err)
	}
	defer rows.Close()

	var out []*entity.Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan assignment: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanAssignment(row rowScanner) (*entity.Assignment, error) {
	var (
		a          entity.Assignment
		candidates string
		dueAt      sql.NullTime
	)

	err := row.Scan(
		&a.ID, &a.InstanceID, &a.StepIndex, &a.StepName, &a.AssigneeRole, &candidates, &dueAt,
		&a.Status, &a.EscalationLevel, &a.Decision, &a.ActedBy, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := decodeJSON(candidates, &a.Candidates); err != nil {
		return nil, err
	}
	a.DueAt = timePtr(dueAt)
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	return &a, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

var _ port.AssignmentRepository = (*AssignmentRepository)(nil)
