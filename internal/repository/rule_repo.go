package repository

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/expenseflow/approval-engine/internal/models"
	"go.uber.org/zap"
)

// RuleRepository handles approval rule database operations
type RuleRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewRuleRepository creates a new rule repository
func NewRuleRepository(db *sql.DB, logger *zap.Logger) *RuleRepository {
	return &RuleRepository{
		db:     db,
		logger: logger,
	}
}

// Create persists an approval rule
func (r *RuleRepository) Create(tx *sql.Tx, rule *models.Rule) error {
	var params any
	if len(rule.ActionParams) > 0 {
		params = string(rule.ActionParams)
	}

	query := `
		INSERT INTO approval_rules (
			company_id, workflow_id, name, condition_field, condition_operator,
			condition_value, action_type, action_params, priority, is_active
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := conn(r.db, tx).Exec(query,
		rule.CompanyID, rule.WorkflowID, rule.Name,
		rule.ConditionField, rule.ConditionOperator, string(rule.ConditionValue),
		rule.ActionType, params, rule.Priority, rule.IsActive,
	)
	if err != nil {
		r.logger.Error("Failed to create rule", zap.Error(err))
		return fmt.Errorf("failed to create rule: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	rule.ID = id
	return nil
}

// ActiveForWorkflow returns active rules scoped to the company and either
// bound to the given workflow or global (NULL workflow), highest priority
// first.
func (r *RuleRepository) ActiveForWorkflow(companyID, workflowID int64) ([]*models.Rule, error) {
	query := `
		SELECT id, company_id, workflow_id, name, condition_field, condition_operator,
			condition_value, action_type, action_params, priority, is_active, created_at
		FROM approval_rules
		WHERE company_id = ? AND is_active = 1
			AND (workflow_id = ? OR workflow_id IS NULL)
		ORDER BY priority DESC, id ASC
	`

	rows, err := r.db.Query(query, companyID, workflowID)
	if err != nil {
		r.logger.Error("Failed to list rules",
			zap.Int64("company_id", companyID),
			zap.Int64("workflow_id", workflowID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	var rules []*models.Rule
	for rows.Next() {
		var rule models.Rule
		var wfID sql.NullInt64
		var conditionValue string
		var actionParams sql.NullString

		err := rows.Scan(
			&rule.ID, &rule.CompanyID, &wfID, &rule.Name,
			&rule.ConditionField, &rule.ConditionOperator, &conditionValue,
			&rule.ActionType, &actionParams, &rule.Priority, &rule.IsActive, &rule.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}

		if wfID.Valid {
			rule.WorkflowID = &wfID.Int64
		}
		rule.ConditionValue = json.RawMessage(conditionValue)
		if actionParams.Valid {
			rule.ActionParams = json.RawMessage(actionParams.String)
		}

		rules = append(rules, &rule)
	}

	return rules, rows.Err()
}
