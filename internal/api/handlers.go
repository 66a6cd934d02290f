package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/expenseflow/approval-engine/internal/engine"
	"github.com/expenseflow/approval-engine/internal/models"
	"github.com/expenseflow/approval-engine/internal/report"
	"github.com/expenseflow/approval-engine/internal/repository"
)

// Handlers contains all HTTP request handlers.
type Handlers struct {
	engine   *engine.Engine
	expenses *repository.ExpenseRepository
	tasks    *repository.TaskRepository
	exporter *report.Exporter
	logger   *zap.Logger
}

// NewHandlers creates a Handlers instance.
func NewHandlers(eng *engine.Engine, expenses *repository.ExpenseRepository, tasks *repository.TaskRepository, exporter *report.Exporter, logger *zap.Logger) *Handlers {
	return &Handlers{
		engine:   eng,
		expenses: expenses,
		tasks:    tasks,
		exporter: exporter,
		logger:   logger,
	}
}

// Response is the standard JSON envelope.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// CreateExpenseRequest is the payload for POST /api/v1/expenses.
type CreateExpenseRequest struct {
	UserID      int64  `json:"user_id" binding:"required"`
	CompanyID   int64  `json:"company_id" binding:"required"`
	Amount      string `json:"amount" binding:"required"`
	Currency    string `json:"currency" binding:"required"`
	CategoryID  int64  `json:"category_id"`
	Description string `json:"description"`
}

// SubmitRequest is the payload for POST /api/v1/expenses/:id/submit.
type SubmitRequest struct {
	ActorID int64 `json:"actor_id" binding:"required"`
}

// DecisionRequest is the payload for POST /api/v1/tasks/:id/decision.
type DecisionRequest struct {
	ActorID        int64   `json:"actor_id" binding:"required"`
	Decision       string  `json:"decision" binding:"required"`
	Comments       string  `json:"comments"`
	ApprovedAmount *string `json:"approved_amount,omitempty"`
}

// HealthCheck handles GET /health.
func (h *Handlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, Response{
		Success: true,
		Data: gin.H{
			"status":    "healthy",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		},
	})
}

// CreateExpense handles POST /api/v1/expenses. The expense is created as a
// draft; submission is a separate call.
func (h *Handlers) CreateExpense(c *gin.Context) {
	var req CreateExpenseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid request body")
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || amount.IsNegative() || amount.IsZero() {
		h.badRequest(c, "amount must be a positive decimal")
		return
	}

	exp := &models.Expense{
		RequestNumber: newRequestNumber(),
		UserID:        req.UserID,
		CompanyID:     req.CompanyID,
		Amount:        amount,
		Currency:      strings.ToUpper(req.Currency),
		CategoryID:    req.CategoryID,
		Description:   req.Description,
		Status:        models.StatusDraft,
		CreatedAt:     time.Now(),
	}

	if err := h.expenses.Create(nil, exp); err != nil {
		h.logger.Error("Failed to create expense", zap.Error(err))
		c.JSON(http.StatusInternalServerError, Response{Success: false, Error: "failed to create expense"})
		return
	}

	c.JSON(http.StatusCreated, Response{Success: true, Data: exp})
}

// GetExpense handles GET /api/v1/expenses/:id.
func (h *Handlers) GetExpense(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}

	exp, err := h.expenses.GetByID(nil, id)
	if err != nil {
		h.logger.Error("Failed to load expense", zap.Int64("id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, Response{Success: false, Error: "failed to load expense"})
		return
	}
	if exp == nil {
		c.JSON(http.StatusNotFound, Response{Success: false, Error: "expense not found"})
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: exp})
}

// SubmitExpense handles POST /api/v1/expenses/:id/submit.
func (h *Handlers) SubmitExpense(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid request body")
		return
	}

	exp, err := h.engine.Submit(c.Request.Context(), id, req.ActorID)
	if err != nil {
		h.engineError(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: exp})
}

// DecideTask handles POST /api/v1/tasks/:id/decision.
func (h *Handlers) DecideTask(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	var req DecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid request body")
		return
	}

	var approvedAmount *decimal.Decimal
	if req.ApprovedAmount != nil {
		amount, err := decimal.NewFromString(*req.ApprovedAmount)
		if err != nil {
			h.badRequest(c, "approved_amount must be a decimal")
			return
		}
		approvedAmount = &amount
	}

	exp, err := h.engine.ProcessApproval(c.Request.Context(), id, req.ActorID, req.Decision, req.Comments, approvedAmount)
	if err != nil {
		h.engineError(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: exp})
}

// PendingApprovals handles GET /api/v1/approvers/:id/pending.
func (h *Handlers) PendingApprovals(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	tasks, err := h.engine.PendingApprovals(c.Request.Context(), id, limit, offset)
	if err != nil {
		h.logger.Error("Failed to list pending approvals", zap.Int64("approver_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, Response{Success: false, Error: "failed to list pending approvals"})
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: tasks})
}

// ApproverStats handles GET /api/v1/approvers/:id/stats, returning decision
// counts and average turnaround per status.
func (h *Handlers) ApproverStats(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}

	days, _ := strconv.Atoi(c.DefaultQuery("days", "30"))
	if days <= 0 {
		days = 30
	}
	since := time.Now().AddDate(0, 0, -days)

	stats, err := h.tasks.StatsForApprover(id, since)
	if err != nil {
		h.logger.Error("Failed to load approver stats", zap.Int64("approver_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, Response{Success: false, Error: "failed to load approver stats"})
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: stats})
}

// Timeline handles GET /api/v1/expenses/:id/timeline.
func (h *Handlers) Timeline(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}

	entries, err := h.engine.Timeline(c.Request.Context(), id)
	if err != nil {
		h.engineError(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: entries})
}

// RunEscalationSweep handles POST /api/v1/sweeps/escalation.
func (h *Handlers) RunEscalationSweep(c *gin.Context) {
	count, err := h.engine.RunEscalationSweep(c.Request.Context())
	if err != nil {
		h.logger.Error("Escalation sweep failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, Response{Success: false, Error: "escalation sweep failed"})
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: gin.H{"escalated": count}})
}

// RunReminderSweep handles POST /api/v1/sweeps/reminder.
func (h *Handlers) RunReminderSweep(c *gin.Context) {
	count, err := h.engine.RunReminderSweep(c.Request.Context())
	if err != nil {
		h.logger.Error("Reminder sweep failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, Response{Success: false, Error: "reminder sweep failed"})
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: gin.H{"reminded": count}})
}

// AnalyticsReport handles GET /api/v1/companies/:id/report, streaming an
// xlsx workbook of approval activity.
func (h *Handlers) AnalyticsReport(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}

	days, _ := strconv.Atoi(c.DefaultQuery("days", "30"))
	if days <= 0 {
		days = 30
	}
	since := time.Now().AddDate(0, 0, -days)

	filename := fmt.Sprintf("approval-report-%d-%s.xlsx", id, time.Now().Format("20060102"))
	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))

	if err := h.exporter.WriteAnalytics(c.Writer, id, since); err != nil {
		h.logger.Error("Failed to write analytics report", zap.Int64("company_id", id), zap.Error(err))
		c.Status(http.StatusInternalServerError)
	}
}

func (h *Handlers) pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		h.badRequest(c, "invalid id")
		return 0, false
	}
	return id, true
}

func (h *Handlers) badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, Response{Success: false, Error: msg})
}

// engineError maps engine sentinel errors onto HTTP status codes.
func (h *Handlers) engineError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, engine.ErrExpenseNotFound), errors.Is(err, engine.ErrTaskNotFound):
		status = http.StatusNotFound
	case errors.Is(err, engine.ErrWorkflowNotFound):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, engine.ErrNotAuthorized):
		status = http.StatusForbidden
	case errors.Is(err, engine.ErrInvalidState), errors.Is(err, engine.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, engine.ErrValidation):
		status = http.StatusBadRequest
	}

	if status == http.StatusInternalServerError {
		h.logger.Error("Engine operation failed", zap.Error(err))
		c.JSON(status, Response{Success: false, Error: "internal error"})
		return
	}
	c.JSON(status, Response{Success: false, Error: err.Error()})
}

// newRequestNumber produces an EXP-prefixed identifier unique per expense.
func newRequestNumber() string {
	id := uuid.New().String()
	return "EXP-" + strings.ToUpper(id[:8])
}
