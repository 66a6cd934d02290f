package engine

import (
	"fmt"

	"github.com/expenseflow/approval-engine/internal/models"
)

// resolveApprovers expands a template step's approver spec into concrete
// users. An empty result is not an error: the materializer records the skip
// and the chain continues. Directory failures (as opposed to empty lookups)
// propagate.
func (e *Engine) resolveApprovers(step *models.WorkflowStep, exp *models.Expense, submitter *models.User) ([]*models.User, error) {
	switch step.ApproverType {
	case models.ApproverSpecificUser:
		if step.ApproverID == nil {
			return nil, nil
		}
		user, err := e.directory.GetUser(*step.ApproverID)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve approver %d: %w", *step.ApproverID, err)
		}
		if user == nil || !user.IsActive {
			return nil, nil
		}
		return []*models.User{user}, nil

	case models.ApproverManager:
		manager, err := e.directory.GetManager(exp.UserID)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve manager of user %d: %w", exp.UserID, err)
		}
		if manager == nil {
			return nil, nil
		}
		return []*models.User{manager}, nil

	case models.ApproverRole:
		users, err := e.directory.GetUsersByRole(exp.CompanyID, step.ApproverRole)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve role %q: %w", step.ApproverRole, err)
		}
		return users, nil

	case models.ApproverFinance, models.ApproverCfo:
		users, err := e.directory.GetUsersByRole(exp.CompanyID, step.ApproverType)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve role %q: %w", step.ApproverType, err)
		}
		return users, nil

	case models.ApproverDepartmentHead:
		if submitter == nil {
			return nil, nil
		}
		head, err := e.directory.GetDepartmentHead(exp.CompanyID, submitter.Department)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve department head: %w", err)
		}
		if head == nil {
			return nil, nil
		}
		return []*models.User{head}, nil

	default:
		// Unknown approver types resolve to nobody rather than failing the
		// submission.
		e.logger.Warn("Unknown approver type in workflow step")
		return nil, nil
	}
}
