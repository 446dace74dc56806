package service

import (
	"context"
	"errors"
	"strings"

	"github.com/vaidashi/order-settlement-api/internal/models"
	"github.com/vaidashi/order-settlement-api/internal/repository"
	apperrors "github.com/vaidashi/order-settlement-api/pkg/errors"
	"github.com/vaidashi/order-settlement-api/pkg/logger"
)

// CourierService manages couriers (livreurs)
type CourierService struct {
	repos  *Repositories
	logger logger.Logger
}

// NewCourierService creates a new CourierService
func NewCourierService(repos *Repositories, logger logger.Logger) *CourierService {
	return &CourierService{repos: repos, logger: logger}
}

// CourierInput carries courier profile fields
type CourierInput struct {
	Name   string `json:"name"`
	Email  string `json:"email"`
	Phone  string `json:"phone"`
	UserID string `json:"user_id,omitempty"`
	Photo  string `json:"photo,omitempty"`
}

func (in CourierInput) validate() error {
	switch {
	case strings.TrimSpace(in.Name) == "":
		return apperrors.NewValidationError("courier name is required")
	case strings.TrimSpace(in.Phone) == "":
		return apperrors.NewValidationError("courier phone is required")
	case !strings.Contains(in.Email, "@"):
		return apperrors.NewValidationError("courier email %q is invalid", in.Email)
	}
	return nil
}

// CreateCourier registers a courier. Emails are unique.
func (s *CourierService) CreateCourier(ctx context.Context, in CourierInput) (*models.Courier, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	c := models.NewCourier(in.Name, in.Email, in.Phone)
	c.UserID = models.StringPtr(strings.TrimSpace(in.UserID))
	c.Photo = models.StringPtr(strings.TrimSpace(in.Photo))

	if err := s.repos.Couriers.Create(ctx, c); err != nil {
		return nil, duplicateEmail(err, c.Email)
	}

	s.logger.Info("Courier created", "courierID", c.ID)
	return c, nil
}

// GetCourier retrieves a courier by ID
func (s *CourierService) GetCourier(ctx context.Context, id string) (*models.Courier, error) {
	c, err := s.repos.Couriers.GetByID(ctx, id)
	if err != nil {
		return nil, notFound(err, "courier", id)
	}
	return c, nil
}

// FindByUserID retrieves the courier linked to a user account
func (s *CourierService) FindByUserID(ctx context.Context, userID string) (*models.Courier, error) {
	c, err := s.repos.Couriers.FindByUserID(ctx, userID)
	if err != nil {
		return nil, notFound(err, "courier for user", userID)
	}
	return c, nil
}

// ListCouriers returns a page of couriers
func (s *CourierService) ListCouriers(ctx context.Context, page repository.Page) ([]*models.Courier, error) {
	return s.repos.Couriers.List(ctx, page)
}

// UpdateCourier replaces the courier's profile
func (s *CourierService) UpdateCourier(ctx context.Context, id string, in CourierInput) (*models.Courier, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	c, err := s.GetCourier(ctx, id)
	if err != nil {
		return nil, err
	}

	updated := models.NewCourier(in.Name, in.Email, in.Phone)
	c.Name, c.Email, c.Phone = updated.Name, updated.Email, updated.Phone
	c.UserID = models.StringPtr(strings.TrimSpace(in.UserID))
	c.Photo = models.StringPtr(strings.TrimSpace(in.Photo))

	if err := s.repos.Couriers.Update(ctx, c); err != nil {
		return nil, duplicateEmail(notFound(err, "courier", id), c.Email)
	}

	s.logger.Info("Courier updated", "courierID", c.ID)
	return c, nil
}

// DeleteCourier removes a courier without deliveries
func (s *CourierService) DeleteCourier(ctx context.Context, id string) error {
	deliveries, err := s.repos.Deliveries.ListByCourier(ctx, id)
	if err != nil {
		return err
	}
	if len(deliveries) > 0 {
		return apperrors.NewIllegalArgumentError("courier %s still has %d deliveries", id, len(deliveries))
	}

	if err := s.repos.Couriers.Delete(ctx, id); err != nil {
		return notFound(err, "courier", id)
	}

	s.logger.Info("Courier deleted", "courierID", id)
	return nil
}

func duplicateEmail(err error, email string) error {
	if errors.Is(err, repository.ErrDuplicate) {
		return apperrors.NewConflictError("a courier with email " + email + " already exists")
	}
	return err
}
