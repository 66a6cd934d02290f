package engine

import "errors"

// Sentinel errors returned by engine operations. Callers match them with
// errors.Is to map onto user-facing failures.
var (
	// ErrExpenseNotFound means no expense matches the given id.
	ErrExpenseNotFound = errors.New("expense not found")

	// ErrTaskNotFound means no approval task matches the given id.
	ErrTaskNotFound = errors.New("approval task not found")

	// ErrWorkflowNotFound means no workflow template qualifies for the
	// expense. Submission fails and the expense stays in draft.
	ErrWorkflowNotFound = errors.New("no suitable workflow found")

	// ErrInvalidState means the action was attempted against an expense or
	// task not in an eligible state.
	ErrInvalidState = errors.New("invalid state for this action")

	// ErrNotAuthorized means the actor is not the task's approver.
	ErrNotAuthorized = errors.New("user not authorized to process this approval")

	// ErrValidation means the request itself was malformed, e.g. a
	// rejection without comments.
	ErrValidation = errors.New("validation failed")

	// ErrConflict means a concurrent writer resolved the same task or
	// expense first. The caller may retry with the same inputs; the
	// conditional-update guards make retries safe.
	ErrConflict = errors.New("concurrent update conflict")
)
