package directory

import (
	"github.com/expenseflow/approval-engine/internal/models"
	"github.com/expenseflow/approval-engine/internal/repository"
	"go.uber.org/zap"
)

// Service is the user directory the engine consumes. Every lookup may
// legitimately return nil: a submitter without a manager, a company without
// a finance role, a department without a head. The engine must treat nil as
// a benign empty resolution, never as corruption.
type Service interface {
	GetUser(userID int64) (*models.User, error)
	GetManager(userID int64) (*models.User, error)
	GetUsersByRole(companyID int64, role string) ([]*models.User, error)
	GetDepartmentHead(companyID int64, department string) (*models.User, error)
	GetActiveAdmin(companyID int64) (*models.User, error)
	GetCompany(companyID int64) (*models.Company, error)
}

// repoService implements Service over the user repository
type repoService struct {
	users  *repository.UserRepository
	logger *zap.Logger
}

// NewService creates a directory service backed by the local user tables
func NewService(users *repository.UserRepository, logger *zap.Logger) Service {
	return &repoService{
		users:  users,
		logger: logger,
	}
}

func (s *repoService) GetUser(userID int64) (*models.User, error) {
	return s.users.GetByID(userID)
}

func (s *repoService) GetManager(userID int64) (*models.User, error) {
	return s.users.ManagerOf(userID)
}

func (s *repoService) GetUsersByRole(companyID int64, role string) ([]*models.User, error) {
	return s.users.ActiveByRole(companyID, role)
}

func (s *repoService) GetDepartmentHead(companyID int64, department string) (*models.User, error) {
	return s.users.DepartmentHead(companyID, department)
}

func (s *repoService) GetActiveAdmin(companyID int64) (*models.User, error) {
	return s.users.FirstActiveAdmin(companyID)
}

func (s *repoService) GetCompany(companyID int64) (*models.Company, error) {
	return s.users.CompanyByID(companyID)
}
