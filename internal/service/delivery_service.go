package service

import (
	"context"
	"errors"
	"strings"

	"github.com/vaidashi/order-settlement-api/internal/carbon"
	"github.com/vaidashi/order-settlement-api/internal/database"
	"github.com/vaidashi/order-settlement-api/internal/models"
	"github.com/vaidashi/order-settlement-api/internal/repository"
	apperrors "github.com/vaidashi/order-settlement-api/pkg/errors"
	"github.com/vaidashi/order-settlement-api/pkg/logger"
)

// DeliveryService assigns couriers to orders and tracks deliveries (livraisons)
type DeliveryService struct {
	uow       unitOfWork
	repos     *Repositories
	estimator *carbon.Estimator
	notifier  *Notifier
	logger    logger.Logger
}

// NewDeliveryService creates a new DeliveryService
func NewDeliveryService(db *database.Database, repos *Repositories, estimator *carbon.Estimator, notifier *Notifier, logger logger.Logger) *DeliveryService {
	return &DeliveryService{
		uow:       unitOfWork{db: db, repos: repos},
		repos:     repos,
		estimator: estimator,
		notifier:  notifier,
		logger:    logger,
	}
}

// GPSInput carries an optional coordinate pair
type GPSInput struct {
	CurrentLat *float64 `json:"current_lat,omitempty"`
	CurrentLng *float64 `json:"current_lng,omitempty"`
	DestLat    *float64 `json:"dest_lat,omitempty"`
	DestLng    *float64 `json:"dest_lng,omitempty"`
}

// CreateDeliveryInput carries a new delivery assignment
type CreateDeliveryInput struct {
	OrderID   string `json:"order_id"`
	CourierID string `json:"courier_id"`
	Type      string `json:"delivery_type"`
	Status    string `json:"status,omitempty"`
	GPSInput
}

// UpdateDeliveryInput changes a delivery. Nil fields are left untouched.
type UpdateDeliveryInput struct {
	CourierID *string `json:"courier_id,omitempty"`
	Type      *string `json:"delivery_type,omitempty"`
	Status    *string `json:"status,omitempty"`
	GPSInput
}

// CreateDelivery validates the assignment, snapshots the order address and estimates the footprint
func (s *DeliveryService) CreateDelivery(ctx context.Context, in CreateDeliveryInput) (*models.Delivery, error) {
	switch {
	case strings.TrimSpace(in.CourierID) == "":
		return nil, apperrors.NewValidationError("courier_id is required")
	case strings.TrimSpace(in.OrderID) == "":
		return nil, apperrors.NewValidationError("order_id is required")
	case strings.TrimSpace(in.Type) == "":
		return nil, apperrors.NewValidationError("delivery_type is required")
	}

	deliveryType, err := models.ParseDeliveryType(in.Type)
	if err != nil {
		return nil, err
	}

	status := models.DeliveryStatusTakeIt
	if in.Status != "" {
		if status, err = models.ParseDeliveryStatus(in.Status); err != nil {
			return nil, err
		}
	}

	courier, err := s.repos.Couriers.GetByID(ctx, in.CourierID)
	if err != nil {
		return nil, notFound(err, "courier", in.CourierID)
	}
	if strings.TrimSpace(courier.Email) == "" {
		return nil, apperrors.NewValidationError("courier %s has no email", courier.ID)
	}

	order, err := s.repos.Orders.GetByID(ctx, in.OrderID)
	if err != nil {
		return nil, notFound(err, "order", in.OrderID)
	}

	d := models.NewDelivery(order.ID, courier.ID, deliveryType)
	d.Status = status
	d.Address = order.Address
	applyGPS(d, in.GPSInput)
	s.estimate(ctx, d)

	err = s.uow.run(ctx, func(r *Repositories) error {
		if err := r.Deliveries.Create(ctx, d); err != nil {
			return err
		}
		if d.Status == models.DeliveryStatusEnCours {
			if err := r.Orders.SetCourier(ctx, d.OrderID, &d.CourierID); err != nil {
				return notFound(err, "order", d.OrderID)
			}
		}

		msg, err := models.NewDeliveryCreatedEvent(d)
		return emit(ctx, r.Outbox, msg, err)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Delivery created",
		"deliveryID", d.ID,
		"orderID", d.OrderID,
		"courierID", d.CourierID,
		"carbonKg", d.CarbonFootprint,
		"distanceSource", d.DistanceSource)
	return d, nil
}

// UpdateDelivery changes courier, type, coordinates and status; the footprint is recomputed
func (s *DeliveryService) UpdateDelivery(ctx context.Context, id string, in UpdateDeliveryInput) (*models.Delivery, error) {
	var target *models.DeliveryStatus
	if in.Status != nil {
		st, err := models.ParseDeliveryStatus(*in.Status)
		if err != nil {
			return nil, err
		}
		target = &st
	}

	d, err := s.repos.Deliveries.GetByID(ctx, id)
	if err != nil {
		return nil, notFound(err, "delivery", id)
	}
	if target != nil {
		if err := models.ValidateDeliveryTransition(d.Status, *target); err != nil {
			return nil, err
		}
	}

	if in.CourierID != nil && *in.CourierID != d.CourierID {
		courier, err := s.repos.Couriers.GetByID(ctx, *in.CourierID)
		if err != nil {
			return nil, notFound(err, "courier", *in.CourierID)
		}
		if strings.TrimSpace(courier.Email) == "" {
			return nil, apperrors.NewValidationError("courier %s has no email", courier.ID)
		}
		d.CourierID = courier.ID
	}
	if in.Type != nil {
		t, err := models.ParseDeliveryType(*in.Type)
		if err != nil {
			return nil, err
		}
		d.Type = t
	}
	applyGPS(d, in.GPSInput)

	// Routing may take seconds; estimate before holding a transaction
	s.estimate(ctx, d)

	err = s.uow.run(ctx, func(r *Repositories) error {
		current, err := r.Deliveries.GetByID(ctx, id)
		if err != nil {
			return notFound(err, "delivery", id)
		}
		if current.Status != d.Status {
			return apperrors.NewIllegalStateError("delivery %s changed status to %s during the update", id, current.Status)
		}

		if err := r.Deliveries.Update(ctx, d); err != nil {
			return notFound(err, "delivery", id)
		}
		if target == nil || *target == d.Status {
			return nil
		}
		return s.changeStatus(ctx, r, d, *target)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Delivery updated", "deliveryID", d.ID, "status", d.Status, "carbonKg", d.CarbonFootprint)
	return d, nil
}

// UpdateDeliveryStatus moves a delivery to a new status. Terminal statuses reject every change.
func (s *DeliveryService) UpdateDeliveryStatus(ctx context.Context, id, status string) (*models.Delivery, error) {
	to, err := models.ParseDeliveryStatus(status)
	if err != nil {
		return nil, err
	}

	var d *models.Delivery
	err = s.uow.run(ctx, func(r *Repositories) error {
		var err error
		d, err = r.Deliveries.GetByID(ctx, id)
		if err != nil {
			return notFound(err, "delivery", id)
		}
		if err := models.ValidateDeliveryTransition(d.Status, to); err != nil {
			return err
		}
		if d.Status == to {
			return nil
		}
		return s.changeStatus(ctx, r, d, to)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Delivery status updated", "deliveryID", d.ID, "status", d.Status)
	return d, nil
}

func (s *DeliveryService) changeStatus(ctx context.Context, r *Repositories, d *models.Delivery, to models.DeliveryStatus) error {
	from := d.Status
	if err := r.Deliveries.UpdateStatus(ctx, d.ID, from, to); err != nil {
		return stale(err, "delivery %s is no longer %s", d.ID, from)
	}
	d.Status = to
	d.UpdatedAt = models.GetCurrentTime()

	if to == models.DeliveryStatusEnCours {
		if err := r.Orders.SetCourier(ctx, d.OrderID, &d.CourierID); err != nil && !errors.Is(err, repository.ErrNotFound) {
			return err
		}
	}

	msg, err := models.NewDeliveryStatusChangedEvent(d, from)
	if err := emit(ctx, r.Outbox, msg, err); err != nil {
		return err
	}

	order, err := r.Orders.GetByID(ctx, d.OrderID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return err
	}
	return s.notifier.Notify(ctx, r.Outbox, models.Notification{
		RecipientID: order.UserID,
		Message:     "Delivery of order " + order.ID + " is now " + string(to),
		Type:        NotificationDeliveryState,
	})
}

// DeleteDelivery removes a delivery and returns its order to PENDING without a courier
func (s *DeliveryService) DeleteDelivery(ctx context.Context, id string) error {
	err := s.uow.run(ctx, func(r *Repositories) error {
		d, err := r.Deliveries.GetByID(ctx, id)
		if err != nil {
			return notFound(err, "delivery", id)
		}
		if err := r.Deliveries.Delete(ctx, id); err != nil {
			return notFound(err, "delivery", id)
		}

		order, err := r.Orders.GetByID(ctx, d.OrderID)
		switch {
		case errors.Is(err, repository.ErrNotFound):
			s.logger.Warn("Deleted delivery references a missing order", "deliveryID", id, "orderID", d.OrderID)
		case err != nil:
			return err
		default:
			if err := r.Orders.SetCourier(ctx, order.ID, nil); err != nil {
				return err
			}
			if order.Status != models.OrderStatusPending {
				// Reassignment resets the order outside the regular transition table
				from := order.Status
				if err := r.Orders.UpdateStatus(ctx, order.ID, from, models.OrderStatusPending); err != nil {
					return stale(err, "order %s is no longer %s", order.ID, from)
				}
				order.Status = models.OrderStatusPending
				msg, err := models.NewOrderStatusChangedEvent(order, from)
				if err := emit(ctx, r.Outbox, msg, err); err != nil {
					return err
				}
			}
		}

		msg, err := models.NewDeliveryDeletedEvent(d)
		return emit(ctx, r.Outbox, msg, err)
	})
	if err != nil {
		return err
	}

	s.logger.Info("Delivery deleted", "deliveryID", id)
	return nil
}

// GetDelivery retrieves a delivery by ID
func (s *DeliveryService) GetDelivery(ctx context.Context, id string) (*models.Delivery, error) {
	d, err := s.repos.Deliveries.GetByID(ctx, id)
	if err != nil {
		return nil, notFound(err, "delivery", id)
	}
	return d, nil
}

// ListDeliveries returns a page of deliveries
func (s *DeliveryService) ListDeliveries(ctx context.Context, page repository.Page) ([]*models.Delivery, error) {
	return s.repos.Deliveries.List(ctx, page)
}

// ListByCourier returns the deliveries of a courier
func (s *DeliveryService) ListByCourier(ctx context.Context, courierID string) ([]*models.Delivery, error) {
	if _, err := s.repos.Couriers.GetByID(ctx, courierID); err != nil {
		return nil, notFound(err, "courier", courierID)
	}
	return s.repos.Deliveries.ListByCourier(ctx, courierID)
}

func (s *DeliveryService) estimate(ctx context.Context, d *models.Delivery) {
	var from, to *carbon.Point
	if d.HasGPS() {
		from = &carbon.Point{Lat: *d.CurrentLat, Lng: *d.CurrentLng}
		to = &carbon.Point{Lat: *d.DestLat, Lng: *d.DestLng}
	}

	est := s.estimator.Estimate(ctx, from, to, d.Address)
	d.DistanceKm = est.DistanceKm
	d.DistanceSource = est.Source
	d.CarbonFootprint = est.EmissionKg
}

func applyGPS(d *models.Delivery, in GPSInput) {
	if in.CurrentLat != nil {
		d.CurrentLat = in.CurrentLat
	}
	if in.CurrentLng != nil {
		d.CurrentLng = in.CurrentLng
	}
	if in.DestLat != nil {
		d.DestLat = in.DestLat
	}
	if in.DestLng != nil {
		d.DestLng = in.DestLng
	}
}
