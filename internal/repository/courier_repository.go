package repository

import (
	"context"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/vaidashi/order-settlement-api/internal/database"
	"github.com/vaidashi/order-settlement-api/internal/models"
	"github.com/vaidashi/order-settlement-api/pkg/logger"
)

const courierColumns = `id, name, email, phone, user_id, photo, created_at, updated_at`

// CourierRepository handles database operations for couriers
type CourierRepository struct {
	db     database.Executor
	logger logger.Logger
}

// NewCourierRepository creates a new CourierRepository
func NewCourierRepository(db *database.Database, logger logger.Logger) *CourierRepository {
	return &CourierRepository{db: db.DB, logger: logger}
}

// WithTx returns a copy of the repository bound to tx
func (r *CourierRepository) WithTx(tx *sqlx.Tx) *CourierRepository {
	return &CourierRepository{db: tx, logger: r.logger}
}

// Create inserts a courier. A reused email yields ErrDuplicate.
func (r *CourierRepository) Create(ctx context.Context, c *models.Courier) error {
	err := exec(ctx, r.db, false,
		`INSERT INTO couriers (`+courierColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, c.Email, c.Phone, c.UserID, c.Photo, c.CreatedAt, c.UpdatedAt)
	if err != nil && !errors.Is(err, ErrDuplicate) {
		r.logger.Error("Failed to create courier", "error", err, "courierID", c.ID)
	}
	return err
}

// GetByID retrieves a courier by ID
func (r *CourierRepository) GetByID(ctx context.Context, id string) (*models.Courier, error) {
	var c models.Courier
	if err := get(ctx, r.db, &c, `SELECT `+courierColumns+` FROM couriers WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return &c, nil
}

// FindByUserID retrieves the courier linked to a user account
func (r *CourierRepository) FindByUserID(ctx context.Context, userID string) (*models.Courier, error) {
	var c models.Courier
	if err := get(ctx, r.db, &c, `SELECT `+courierColumns+` FROM couriers WHERE user_id = ?`, userID); err != nil {
		return nil, err
	}
	return &c, nil
}

// List returns couriers ordered by name
func (r *CourierRepository) List(ctx context.Context, page Page) ([]*models.Courier, error) {
	page = page.Normalize()
	var couriers []*models.Courier
	if err := selectAll(ctx, r.db, &couriers, `SELECT `+courierColumns+` FROM couriers ORDER BY name, id LIMIT ? OFFSET ?`, page.Limit, page.Offset); err != nil {
		r.logger.Error("Failed to list couriers", "error", err)
		return nil, err
	}
	return couriers, nil
}

// Update writes the courier's profile fields
func (r *CourierRepository) Update(ctx context.Context, c *models.Courier) error {
	c.UpdatedAt = models.GetCurrentTime()
	return exec(ctx, r.db, true,
		`UPDATE couriers SET name = ?, email = ?, phone = ?, user_id = ?, photo = ?, updated_at = ? WHERE id = ?`,
		c.Name, c.Email, c.Phone, c.UserID, c.Photo, c.UpdatedAt, c.ID)
}

// Delete removes a courier
func (r *CourierRepository) Delete(ctx context.Context, id string) error {
	return exec(ctx, r.db, true, `DELETE FROM couriers WHERE id = ?`, id)
}
