package repository

import (
	"database/sql"
	"fmt"

	"github.com/expenseflow/approval-engine/internal/models"
	"go.uber.org/zap"
)

// UserRepository reads the user directory. The engine resolves approvers and
// escalation targets through it but never writes users.
type UserRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *sql.DB, logger *zap.Logger) *UserRepository {
	return &UserRepository{
		db:     db,
		logger: logger,
	}
}

const userColumns = `
	id, company_id, name, email, role, department, manager_id, is_active, lark_open_id, created_at
`

// Create persists a user. Exists for seeding and tests; directory
// administration itself lives outside the engine.
func (r *UserRepository) Create(tx *sql.Tx, u *models.User) error {
	query := `
		INSERT INTO users (company_id, name, email, role, department, manager_id, is_active, lark_open_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := conn(r.db, tx).Exec(query,
		u.CompanyID, u.Name, u.Email, u.Role, u.Department, u.ManagerID, u.IsActive, u.LarkOpenID,
	)
	if err != nil {
		r.logger.Error("Failed to create user", zap.Error(err))
		return fmt.Errorf("failed to create user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	u.ID = id
	return nil
}

func scanUser(row interface{ Scan(...any) error }) (*models.User, error) {
	var u models.User
	var managerID sql.NullInt64

	err := row.Scan(
		&u.ID, &u.CompanyID, &u.Name, &u.Email, &u.Role,
		&u.Department, &managerID, &u.IsActive, &u.LarkOpenID, &u.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if managerID.Valid {
		u.ManagerID = &managerID.Int64
	}
	return &u, nil
}

// GetByID retrieves a user by ID. Returns nil when no row matches.
func (r *UserRepository) GetByID(id int64) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = ?`

	u, err := scanUser(r.db.QueryRow(query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get user", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

// ManagerOf returns the active direct manager of a user, or nil
func (r *UserRepository) ManagerOf(userID int64) (*models.User, error) {
	query := `
		SELECT ` + userColumns + ` FROM users
		WHERE id = (SELECT manager_id FROM users WHERE id = ?) AND is_active = 1
	`

	u, err := scanUser(r.db.QueryRow(query, userID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get manager", zap.Int64("user_id", userID), zap.Error(err))
		return nil, fmt.Errorf("failed to get manager: %w", err)
	}
	return u, nil
}

// ActiveByRole returns all active users of a company holding the role
func (r *UserRepository) ActiveByRole(companyID int64, role string) ([]*models.User, error) {
	query := `
		SELECT ` + userColumns + ` FROM users
		WHERE company_id = ? AND role = ? AND is_active = 1
		ORDER BY id ASC
	`

	rows, err := r.db.Query(query, companyID, role)
	if err != nil {
		r.logger.Error("Failed to list users by role",
			zap.Int64("company_id", companyID),
			zap.String("role", role),
			zap.Error(err))
		return nil, fmt.Errorf("failed to list users by role: %w", err)
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// DepartmentHead returns the active manager-role user of a department, or nil
func (r *UserRepository) DepartmentHead(companyID int64, department string) (*models.User, error) {
	query := `
		SELECT ` + userColumns + ` FROM users
		WHERE company_id = ? AND department = ? AND role = ? AND is_active = 1
		ORDER BY id ASC
		LIMIT 1
	`

	u, err := scanUser(r.db.QueryRow(query, companyID, department, models.RoleManager))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get department head",
			zap.Int64("company_id", companyID),
			zap.String("department", department),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get department head: %w", err)
	}
	return u, nil
}

// FirstActiveAdmin returns any active admin of a company, or nil
func (r *UserRepository) FirstActiveAdmin(companyID int64) (*models.User, error) {
	query := `
		SELECT ` + userColumns + ` FROM users
		WHERE company_id = ? AND role = ? AND is_active = 1
		ORDER BY id ASC
		LIMIT 1
	`

	u, err := scanUser(r.db.QueryRow(query, companyID, models.RoleAdmin))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get company admin", zap.Int64("company_id", companyID), zap.Error(err))
		return nil, fmt.Errorf("failed to get company admin: %w", err)
	}
	return u, nil
}

// CompanyByID retrieves a company. Returns nil when no row matches.
func (r *UserRepository) CompanyByID(id int64) (*models.Company, error) {
	query := `SELECT id, name, currency, created_at FROM companies WHERE id = ?`

	var c models.Company
	err := r.db.QueryRow(query, id).Scan(&c.ID, &c.Name, &c.Currency, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get company", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get company: %w", err)
	}
	return &c, nil
}
