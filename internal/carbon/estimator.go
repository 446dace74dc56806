// Package carbon estimates delivery distance and CO2 emissions.
package carbon

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/vaidashi/order-settlement-api/pkg/logger"
)

const (
	// EmissionFactorKgPerKm applies to every vehicle type
	EmissionFactorKgPerKm = 0.2
	// FallbackEmissionKg is reported when no positive estimate can be computed
	FallbackEmissionKg = 2.0
	// BaselineDistanceKm is used when the address matches no known area
	BaselineDistanceKm = 16.5
	// DefaultRoutingTimeout bounds a single routing query
	DefaultRoutingTimeout = 10 * time.Second
)

// Distance sources
const (
	SourceRouting   = "routing"
	SourceHaversine = "haversine"
	SourceAddress   = "address"
	SourceFallback  = "fallback"
)

// Point is a WGS84 coordinate
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// DistanceProvider returns a road distance between two points
type DistanceProvider interface {
	DrivingDistanceKm(ctx context.Context, from, to Point) (float64, error)
}

// Estimate is the result of a footprint computation
type Estimate struct {
	DistanceKm float64 `json:"distance_km"`
	Source     string  `json:"source"`
	EmissionKg float64 `json:"emission_kg"`
}

// Estimator turns GPS pairs or addresses into an emission estimate.
// It never fails; every error degrades to a deterministic fallback.
type Estimator struct {
	router  DistanceProvider
	timeout time.Duration
	logger  logger.Logger
}

// NewEstimator creates an estimator. router may be nil.
func NewEstimator(router DistanceProvider, timeout time.Duration, logger logger.Logger) *Estimator {
	if timeout <= 0 {
		timeout = DefaultRoutingTimeout
	}
	return &Estimator{router: router, timeout: timeout, logger: logger}
}

// Estimate computes the footprint for a trip. When from or to is nil the address heuristic is used.
func (e *Estimator) Estimate(ctx context.Context, from, to *Point, address string) Estimate {
	var est Estimate
	if from != nil && to != nil {
		est.DistanceKm, est.Source = e.gpsDistance(ctx, *from, *to)
	} else {
		est.DistanceKm, est.Source = AddressDistanceKm(address), SourceAddress
	}

	est.EmissionKg = round2(est.DistanceKm * EmissionFactorKgPerKm)
	if !(est.EmissionKg > 0) {
		e.logger.Warn("Non-positive carbon estimate, using fallback",
			"distanceKm", est.DistanceKm,
			"source", est.Source)
		est.EmissionKg = FallbackEmissionKg
		est.Source = SourceFallback
	}
	est.DistanceKm = round2(est.DistanceKm)
	return est
}

func (e *Estimator) gpsDistance(ctx context.Context, from, to Point) (float64, string) {
	if e.router != nil {
		rctx, cancel := context.WithTimeout(ctx, e.timeout)
		defer cancel()

		km, err := e.router.DrivingDistanceKm(rctx, from, to)
		if err == nil && km > 0 && !math.IsNaN(km) && !math.IsInf(km, 0) {
			return km, SourceRouting
		}

		e.logger.Warn("Routing unavailable, falling back to great-circle distance", "error", err)
	}
	return HaversineKm(from, to), SourceHaversine
}

type areaRule struct {
	keywords []string
	km       float64
}

// Checked in order; the first match wins.
var areaRules = []areaRule{
	{[]string{"centre ville", "centre-ville", "downtown", "center", "central"}, 5},
	{[]string{"rural", "campagne", "farm", "ferme"}, 20},
	{[]string{"industrial", "industriel", "zone", "parc"}, 15},
	{[]string{"suburb", "banlieue"}, 8},
}

// AddressDistanceKm estimates a trip length from keywords in the address
func AddressDistanceKm(address string) float64 {
	a := strings.ToLower(address)
	for _, rule := range areaRules {
		for _, kw := range rule.keywords {
			if strings.Contains(a, kw) {
				return rule.km
			}
		}
	}
	return BaselineDistanceKm
}

const earthRadiusKm = 6371.0

// HaversineKm returns the great-circle distance between two points
func HaversineKm(from, to Point) float64 {
	lat1, lat2 := toRad(from.Lat), toRad(to.Lat)
	dLat := toRad(to.Lat - from.Lat)
	dLng := toRad(to.Lng - from.Lng)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return earthRadiusKm * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
