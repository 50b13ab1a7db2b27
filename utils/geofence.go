package utils

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// Coordinate is a geographic point with latitude and longitude.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Geofence is the polygonal boundary a pump is expected to operate in.
type Geofence struct {
	Coordinates []Coordinate `json:"coordinates"`
	Name        string       `json:"name,omitempty"`
}

// ParseGeofence decodes and validates a geofence JSON document.
func ParseGeofence(geofenceJSON string) (*Geofence, error) {
	var geofence Geofence
	if err := json.Unmarshal([]byte(geofenceJSON), &geofence); err != nil {
		return nil, fmt.Errorf("invalid geofence JSON format: %w", err)
	}

	if len(geofence.Coordinates) < 3 {
		return nil, errors.New("geofence must have at least 3 coordinates to form a polygon")
	}

	for i, coord := range geofence.Coordinates {
		if coord.Lat < -90 || coord.Lat > 90 {
			return nil, fmt.Errorf("coordinate %d: latitude %.6f is out of valid range [-90, 90]", i, coord.Lat)
		}
		if coord.Lng < -180 || coord.Lng > 180 {
			return nil, fmt.Errorf("coordinate %d: longitude %.6f is out of valid range [-180, 180]", i, coord.Lng)
		}
	}

	return &geofence, nil
}

// ValidateGeofence checks geofence JSON. An empty string is valid; the
// geofence is optional on pumps.
func ValidateGeofence(geofenceJSON string) error {
	if geofenceJSON == "" {
		return nil
	}
	_, err := ParseGeofence(geofenceJSON)
	return err
}

// ring converts the coordinate list to a closed orb ring.
func (g *Geofence) ring() orb.Ring {
	ring := make(orb.Ring, 0, len(g.Coordinates)+1)
	for _, c := range g.Coordinates {
		ring = append(ring, orb.Point{c.Lng, c.Lat})
	}
	if ring[0] != ring[len(ring)-1] {
		ring = append(ring, ring[0])
	}
	return ring
}

// Contains reports whether the point lies inside the geofence polygon.
func (g *Geofence) Contains(point Coordinate) bool {
	if len(g.Coordinates) < 3 {
		return false
	}
	return planar.PolygonContains(orb.Polygon{g.ring()}, orb.Point{point.Lng, point.Lat})
}
