package engine

import (
	"fmt"

	"github.com/expenseflow/approval-engine/internal/models"
	"go.uber.org/zap"
)

// selectWorkflow picks the single applicable workflow template for an
// expense: active workflows of the company, default first then newest
// first, returning the first whose steps admit the expense or which is the
// company default. No qualifying workflow is fatal to submission.
func (e *Engine) selectWorkflow(exp *models.Expense) (*models.Workflow, error) {
	workflows, err := e.cache.get(exp.CompanyID, func() ([]*models.Workflow, error) {
		return e.workflows.ActiveByCompany(exp.CompanyID)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load workflows for company %d: %w", exp.CompanyID, err)
	}

	var fallback *models.Workflow
	for _, wf := range workflows {
		if wf.IsDefault && fallback == nil {
			fallback = wf
		}
		for _, step := range wf.Steps {
			if step.AppliesTo(exp) {
				return wf, nil
			}
		}
	}
	if fallback != nil {
		return fallback, nil
	}

	e.logger.Warn("No workflow qualifies for expense",
		zap.Int64("expense_id", exp.ID),
		zap.Int64("company_id", exp.CompanyID))

	return nil, fmt.Errorf("company %d, expense %d: %w", exp.CompanyID, exp.ID, ErrWorkflowNotFound)
}

// InvalidateTemplates drops a company's cached workflow templates, forcing
// the next submission to reload them. Admin surfaces call this after
// editing templates.
func (e *Engine) InvalidateTemplates(companyID int64) {
	e.cache.invalidate(companyID)
}
