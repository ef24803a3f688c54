// Package geo computes great-circle distances and resolves addresses.
package geo

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"

	"medquote/internal/apperr"
)

// Mean earth radius, IUGG.
const earthRadiusKm = 6371.0088

type Point struct {
	Lat float64 `json:"latitude"`
	Lon float64 `json:"longitude"`
}

// DistanceKm returns the haversine distance between a and b.
func DistanceKm(a, b Point) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

// Within reports whether b lies at most km from a.
func Within(a, b Point, km float64) bool {
	return DistanceKm(a, b) <= km
}

type Geocoder interface {
	Geocode(ctx context.Context, address string) (Point, error)
}

// StaticGeocoder resolves addresses from a fixed table. Lookups ignore case
// and surrounding whitespace.
type StaticGeocoder struct {
	mu        sync.RWMutex
	addresses map[string]Point
}

func NewStaticGeocoder(addresses map[string]Point) *StaticGeocoder {
	g := &StaticGeocoder{addresses: make(map[string]Point, len(addresses))}
	for a, p := range addresses {
		g.addresses[normalize(a)] = p
	}
	return g
}

func (g *StaticGeocoder) Add(address string, p Point) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.addresses[normalize(address)] = p
}

func (g *StaticGeocoder) Geocode(ctx context.Context, address string) (Point, error) {
	if err := ctx.Err(); err != nil {
		return Point{}, err
	}
	g.mu.RLock()
	p, ok := g.addresses[normalize(address)]
	g.mu.RUnlock()
	if !ok {
		return Point{}, fmt.Errorf("%q: %w", address, apperr.ErrAddressUnresolvable)
	}
	return p, nil
}

func normalize(address string) string {
	return strings.ToLower(strings.Join(strings.Fields(address), " "))
}
