package repository

import (
	"context"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/vaidashi/order-settlement-api/internal/database"
	"github.com/vaidashi/order-settlement-api/internal/models"
	"github.com/vaidashi/order-settlement-api/pkg/logger"
)

const deliveryColumns = `id, order_id, courier_id, status, delivery_type, address, current_lat, current_lng,
	dest_lat, dest_lng, distance_km, distance_source, carbon_footprint, created_at, updated_at`

// DeliveryRepository handles database operations for deliveries
type DeliveryRepository struct {
	db     database.Executor
	logger logger.Logger
}

// NewDeliveryRepository creates a new DeliveryRepository
func NewDeliveryRepository(db *database.Database, logger logger.Logger) *DeliveryRepository {
	return &DeliveryRepository{db: db.DB, logger: logger}
}

// WithTx returns a copy of the repository bound to tx
func (r *DeliveryRepository) WithTx(tx *sqlx.Tx) *DeliveryRepository {
	return &DeliveryRepository{db: tx, logger: r.logger}
}

// Create inserts a new delivery
func (r *DeliveryRepository) Create(ctx context.Context, d *models.Delivery) error {
	err := exec(ctx, r.db, false,
		`INSERT INTO deliveries (`+deliveryColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.OrderID, d.CourierID, d.Status, d.Type, d.Address, d.CurrentLat, d.CurrentLng,
		d.DestLat, d.DestLng, d.DistanceKm, d.DistanceSource, d.CarbonFootprint, d.CreatedAt, d.UpdatedAt)
	if err != nil {
		r.logger.Error("Failed to create delivery", "error", err, "deliveryID", d.ID)
	}
	return err
}

// GetByID retrieves a delivery by ID
func (r *DeliveryRepository) GetByID(ctx context.Context, id string) (*models.Delivery, error) {
	var d models.Delivery
	if err := get(ctx, r.db, &d, `SELECT `+deliveryColumns+` FROM deliveries WHERE id = ?`, id); err != nil {
		if !errors.Is(err, ErrNotFound) {
			r.logger.Error("Failed to get delivery", "error", err, "deliveryID", id)
		}
		return nil, err
	}
	return &d, nil
}

// List returns deliveries, newest first
func (r *DeliveryRepository) List(ctx context.Context, page Page) ([]*models.Delivery, error) {
	page = page.Normalize()
	var deliveries []*models.Delivery
	err := selectAll(ctx, r.db, &deliveries,
		`SELECT `+deliveryColumns+` FROM deliveries ORDER BY created_at DESC, id LIMIT ? OFFSET ?`, page.Limit, page.Offset)
	if err != nil {
		r.logger.Error("Failed to list deliveries", "error", err)
		return nil, err
	}
	return deliveries, nil
}

// ListByCourier returns the deliveries assigned to a courier
func (r *DeliveryRepository) ListByCourier(ctx context.Context, courierID string) ([]*models.Delivery, error) {
	var deliveries []*models.Delivery
	err := selectAll(ctx, r.db, &deliveries,
		`SELECT `+deliveryColumns+` FROM deliveries WHERE courier_id = ? ORDER BY created_at DESC, id`, courierID)
	if err != nil {
		r.logger.Error("Failed to list courier deliveries", "error", err, "courierID", courierID)
		return nil, err
	}
	return deliveries, nil
}

// Update writes every mutable field except status
func (r *DeliveryRepository) Update(ctx context.Context, d *models.Delivery) error {
	d.UpdatedAt = models.GetCurrentTime()
	return exec(ctx, r.db, true, `
		UPDATE deliveries SET courier_id = ?, delivery_type = ?, address = ?, current_lat = ?, current_lng = ?,
			dest_lat = ?, dest_lng = ?, distance_km = ?, distance_source = ?, carbon_footprint = ?, updated_at = ?
		WHERE id = ?`,
		d.CourierID, d.Type, d.Address, d.CurrentLat, d.CurrentLng,
		d.DestLat, d.DestLng, d.DistanceKm, d.DistanceSource, d.CarbonFootprint, d.UpdatedAt, d.ID)
}

// UpdateStatus changes the status only if it is still from. It returns ErrStale otherwise.
func (r *DeliveryRepository) UpdateStatus(ctx context.Context, id string, from, to models.DeliveryStatus) error {
	err := exec(ctx, r.db, true, `UPDATE deliveries SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		to, models.GetCurrentTime(), id, from)
	if errors.Is(err, ErrNotFound) {
		return ErrStale
	}
	return err
}

// Delete removes a delivery
func (r *DeliveryRepository) Delete(ctx context.Context, id string) error {
	return exec(ctx, r.db, true, `DELETE FROM deliveries WHERE id = ?`, id)
}
