package models

import (
	"strings"
	"time"

	apperrors "github.com/vaidashi/order-settlement-api/pkg/errors"
)

// DeliveryStatus is the status of a delivery assignment (livraison)
type DeliveryStatus string

const (
	DeliveryStatusTakeIt   DeliveryStatus = "TAKE_IT"
	DeliveryStatusEnCours  DeliveryStatus = "EN_COURS"
	DeliveryStatusLivre    DeliveryStatus = "LIVRE"
	DeliveryStatusNonLivre DeliveryStatus = "NON_LIVRE"
)

// ParseDeliveryStatus validates a delivery status, ignoring case
func ParseDeliveryStatus(s string) (DeliveryStatus, error) {
	status := DeliveryStatus(strings.ToUpper(strings.TrimSpace(s)))
	switch status {
	case DeliveryStatusTakeIt, DeliveryStatusEnCours, DeliveryStatusLivre, DeliveryStatusNonLivre:
		return status, nil
	}
	return "", apperrors.NewValidationError("unknown delivery status %q", s)
}

// Terminal reports whether the status is sticky
func (s DeliveryStatus) Terminal() bool {
	return s == DeliveryStatusLivre || s == DeliveryStatusNonLivre
}

// ValidateDeliveryTransition rejects every change once a terminal status is reached
func ValidateDeliveryTransition(from, to DeliveryStatus) error {
	if from.Terminal() {
		return apperrors.NewTerminalStateViolationError("delivery", string(from), string(to))
	}
	return nil
}

// DeliveryType is the delivery mode or vehicle
type DeliveryType string

const (
	DeliveryTypePointRelais DeliveryType = "POINT_RELAIS"
	DeliveryTypeADomicile   DeliveryType = "A_DOMICILE"
	DeliveryTypeVelo        DeliveryType = "VELO"
	DeliveryTypeMoto        DeliveryType = "MOTO"
	DeliveryTypeVoiture     DeliveryType = "VOITURE"
	DeliveryTypeCamion      DeliveryType = "CAMION"
)

// ParseDeliveryType validates a delivery type, ignoring case
func ParseDeliveryType(s string) (DeliveryType, error) {
	t := DeliveryType(strings.ToUpper(strings.TrimSpace(s)))
	switch t {
	case DeliveryTypePointRelais, DeliveryTypeADomicile, DeliveryTypeVelo,
		DeliveryTypeMoto, DeliveryTypeVoiture, DeliveryTypeCamion:
		return t, nil
	}
	return "", apperrors.NewValidationError("unknown delivery type %q", s)
}

// Delivery assigns a courier to an order. The order is referenced by id only.
type Delivery struct {
	ID              string         `db:"id" json:"id"`
	OrderID         string         `db:"order_id" json:"order_id"`
	CourierID       string         `db:"courier_id" json:"courier_id"`
	Status          DeliveryStatus `db:"status" json:"status"`
	Type            DeliveryType   `db:"delivery_type" json:"delivery_type"`
	Address         string         `db:"address" json:"address"`
	CurrentLat      *float64       `db:"current_lat" json:"current_lat,omitempty"`
	CurrentLng      *float64       `db:"current_lng" json:"current_lng,omitempty"`
	DestLat         *float64       `db:"dest_lat" json:"dest_lat,omitempty"`
	DestLng         *float64       `db:"dest_lng" json:"dest_lng,omitempty"`
	DistanceKm      float64        `db:"distance_km" json:"distance_km"`
	DistanceSource  string         `db:"distance_source" json:"distance_source"`
	CarbonFootprint float64        `db:"carbon_footprint" json:"carbon_footprint"`
	CreatedAt       time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at" json:"updated_at"`
}

// NewDelivery creates a delivery in the TAKE_IT status
func NewDelivery(orderID, courierID string, t DeliveryType) *Delivery {
	now := GetCurrentTime()
	return &Delivery{
		ID:        GenerateID("dlv"),
		OrderID:   orderID,
		CourierID: courierID,
		Status:    DeliveryStatusTakeIt,
		Type:      t,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// HasGPS reports whether both coordinate pairs are known
func (d *Delivery) HasGPS() bool {
	return d.CurrentLat != nil && d.CurrentLng != nil && d.DestLat != nil && d.DestLng != nil
}

// Courier (livreur) delivers orders
type Courier struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Email     string    `db:"email" json:"email"`
	Phone     string    `db:"phone" json:"phone"`
	UserID    *string   `db:"user_id" json:"user_id,omitempty"`
	Photo     *string   `db:"photo" json:"photo,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// NewCourier creates a courier
func NewCourier(name, email, phone string) *Courier {
	now := GetCurrentTime()
	return &Courier{
		ID:        GenerateID("cur"),
		Name:      strings.TrimSpace(name),
		Email:     strings.ToLower(strings.TrimSpace(email)),
		Phone:     strings.TrimSpace(phone),
		CreatedAt: now,
		UpdatedAt: now,
	}
}
