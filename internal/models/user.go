package models

import "time"

// User role constants
const (
	RoleEmployee = "employee"
	RoleManager  = "manager"
	RoleFinance  = "finance"
	RoleCfo      = "cfo"
	RoleAdmin    = "admin"
)

// User is the directory snapshot the engine consumes. The engine reads users
// to resolve approvers and escalation targets; it never mutates them.
type User struct {
	ID         int64     `json:"id"`
	CompanyID  int64     `json:"company_id"`
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	Role       string    `json:"role"`
	Department string    `json:"department,omitempty"`
	ManagerID  *int64    `json:"manager_id,omitempty"`
	IsActive   bool      `json:"is_active"`
	LarkOpenID string    `json:"lark_open_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
