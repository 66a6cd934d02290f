package repository

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/expenseflow/approval-engine/internal/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// WorkflowRepository handles workflow template database operations
type WorkflowRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewWorkflowRepository creates a new workflow repository
func NewWorkflowRepository(db *sql.DB, logger *zap.Logger) *WorkflowRepository {
	return &WorkflowRepository{
		db:     db,
		logger: logger,
	}
}

// Create persists a workflow template and its steps
func (r *WorkflowRepository) Create(tx *sql.Tx, wf *models.Workflow) error {
	query := `
		INSERT INTO approval_workflows (company_id, name, description, is_default, is_active)
		VALUES (?, ?, ?, ?, ?)
	`

	result, err := conn(r.db, tx).Exec(query, wf.CompanyID, wf.Name, wf.Description, wf.IsDefault, wf.IsActive)
	if err != nil {
		r.logger.Error("Failed to create workflow", zap.Error(err))
		return fmt.Errorf("failed to create workflow: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	wf.ID = id

	for _, step := range wf.Steps {
		step.WorkflowID = id
		if err := r.createStep(tx, step); err != nil {
			return err
		}
	}
	return nil
}

func (r *WorkflowRepository) createStep(tx *sql.Tx, s *models.WorkflowStep) error {
	var categoryIDs any
	if len(s.CategoryIDs) > 0 {
		raw, err := json.Marshal(s.CategoryIDs)
		if err != nil {
			return fmt.Errorf("failed to marshal category ids: %w", err)
		}
		categoryIDs = string(raw)
	}

	var maxAmount, autoApprove any
	if s.MaxAmount != nil {
		maxAmount = s.MaxAmount.String()
	}
	if s.AutoApproveThreshold != nil {
		autoApprove = s.AutoApproveThreshold.String()
	}

	query := `
		INSERT INTO approval_workflow_steps (
			workflow_id, step_number, name, approver_type, approver_id, approver_role,
			min_amount, max_amount, category_ids, auto_approve_threshold, threshold_percentage
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := conn(r.db, tx).Exec(query,
		s.WorkflowID, s.StepNumber, s.Name, s.ApproverType, s.ApproverID, s.ApproverRole,
		s.MinAmount, maxAmount, categoryIDs, autoApprove, s.ThresholdPercentage,
	)
	if err != nil {
		r.logger.Error("Failed to create workflow step", zap.Error(err))
		return fmt.Errorf("failed to create workflow step: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	s.ID = id
	return nil
}

// ActiveByCompany returns active workflows for a company, default first,
// newest first, with steps loaded in step order.
func (r *WorkflowRepository) ActiveByCompany(companyID int64) ([]*models.Workflow, error) {
	query := `
		SELECT id, company_id, name, description, is_default, is_active, created_at
		FROM approval_workflows
		WHERE company_id = ? AND is_active = 1
		ORDER BY is_default DESC, created_at DESC, id DESC
	`

	rows, err := r.db.Query(query, companyID)
	if err != nil {
		r.logger.Error("Failed to list workflows", zap.Int64("company_id", companyID), zap.Error(err))
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}
	defer rows.Close()

	var workflows []*models.Workflow
	for rows.Next() {
		var wf models.Workflow
		if err := rows.Scan(&wf.ID, &wf.CompanyID, &wf.Name, &wf.Description, &wf.IsDefault, &wf.IsActive, &wf.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}
		workflows = append(workflows, &wf)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, wf := range workflows {
		steps, err := r.StepsByWorkflow(wf.ID)
		if err != nil {
			return nil, err
		}
		wf.Steps = steps
	}

	return workflows, nil
}

// GetByID retrieves a workflow with its steps. Returns nil when not found.
func (r *WorkflowRepository) GetByID(id int64) (*models.Workflow, error) {
	query := `
		SELECT id, company_id, name, description, is_default, is_active, created_at
		FROM approval_workflows
		WHERE id = ?
	`

	var wf models.Workflow
	err := r.db.QueryRow(query, id).Scan(&wf.ID, &wf.CompanyID, &wf.Name, &wf.Description, &wf.IsDefault, &wf.IsActive, &wf.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get workflow", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get workflow: %w", err)
	}

	steps, err := r.StepsByWorkflow(id)
	if err != nil {
		return nil, err
	}
	wf.Steps = steps

	return &wf, nil
}

// StepsByWorkflow returns the template steps ordered by step number
func (r *WorkflowRepository) StepsByWorkflow(workflowID int64) ([]*models.WorkflowStep, error) {
	query := `
		SELECT id, workflow_id, step_number, name, approver_type, approver_id, approver_role,
			min_amount, max_amount, category_ids, auto_approve_threshold, threshold_percentage, created_at
		FROM approval_workflow_steps
		WHERE workflow_id = ?
		ORDER BY step_number ASC, id ASC
	`

	rows, err := r.db.Query(query, workflowID)
	if err != nil {
		r.logger.Error("Failed to list workflow steps", zap.Int64("workflow_id", workflowID), zap.Error(err))
		return nil, fmt.Errorf("failed to list workflow steps: %w", err)
	}
	defer rows.Close()

	var steps []*models.WorkflowStep
	for rows.Next() {
		var s models.WorkflowStep
		var approverID sql.NullInt64
		var maxAmount, autoApprove, categoryIDs sql.NullString

		err := rows.Scan(
			&s.ID, &s.WorkflowID, &s.StepNumber, &s.Name, &s.ApproverType,
			&approverID, &s.ApproverRole, &s.MinAmount, &maxAmount,
			&categoryIDs, &autoApprove, &s.ThresholdPercentage, &s.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow step: %w", err)
		}

		if approverID.Valid {
			s.ApproverID = &approverID.Int64
		}
		if maxAmount.Valid {
			d, err := decimal.NewFromString(maxAmount.String)
			if err != nil {
				return nil, fmt.Errorf("invalid max_amount for step %d: %w", s.ID, err)
			}
			s.MaxAmount = &d
		}
		if autoApprove.Valid {
			d, err := decimal.NewFromString(autoApprove.String)
			if err != nil {
				return nil, fmt.Errorf("invalid auto_approve_threshold for step %d: %w", s.ID, err)
			}
			s.AutoApproveThreshold = &d
		}
		if categoryIDs.Valid && categoryIDs.String != "" {
			if err := json.Unmarshal([]byte(categoryIDs.String), &s.CategoryIDs); err != nil {
				return nil, fmt.Errorf("invalid category_ids for step %d: %w", s.ID, err)
			}
		}

		steps = append(steps, &s)
	}

	return steps, rows.Err()
}
