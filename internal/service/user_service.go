package service

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/vaidashi/order-settlement-api/internal/models"
	"github.com/vaidashi/order-settlement-api/internal/repository"
	apperrors "github.com/vaidashi/order-settlement-api/pkg/errors"
	"github.com/vaidashi/order-settlement-api/pkg/logger"
)

// UserService is the directory of order owners
type UserService struct {
	users  *repository.UserRepository
	logger logger.Logger
}

// NewUserService creates a new UserService
func NewUserService(users *repository.UserRepository, logger logger.Logger) *UserService {
	return &UserService{users: users, logger: logger}
}

// CreateUser registers a user. A nil credit limit means unlimited.
func (s *UserService) CreateUser(ctx context.Context, name, email, phone string, creditLimit *decimal.Decimal) (*models.User, error) {
	name, email = strings.TrimSpace(name), strings.ToLower(strings.TrimSpace(email))
	if name == "" {
		return nil, apperrors.NewValidationError("user name is required")
	}
	if !strings.Contains(email, "@") {
		return nil, apperrors.NewValidationError("user email %q is invalid", email)
	}
	if phone != "" && !models.IsValidPhone(phone) {
		return nil, apperrors.NewValidationError("phone %q must have exactly 8 digits", phone)
	}

	u := models.NewUser(name, email)
	u.Phone = phone
	if creditLimit != nil {
		if creditLimit.IsNegative() {
			return nil, apperrors.NewValidationError("credit limit cannot be negative")
		}
		u.CreditLimit = decimal.NewNullDecimal(*creditLimit)
	}

	if err := s.users.Create(ctx, u); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, apperrors.NewConflictError("a user with email " + email + " already exists")
		}
		return nil, err
	}

	s.logger.Info("User created", "userID", u.ID)
	return u, nil
}

// GetUser retrieves a user by ID
func (s *UserService) GetUser(ctx context.Context, id string) (*models.User, error) {
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, notFound(err, "user", id)
	}
	return u, nil
}
