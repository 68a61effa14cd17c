package geojson

import (
	"encoding/json"
	"math"
	"strconv"
	"time"
)

const (
	TypePoint             = "Point"
	TypeFeature           = "Feature"
	TypeFeatureCollection = "FeatureCollection"
)

// Geometry keeps coordinates as raw json so geometries observed upstream
// are written back out unchanged.
type Geometry struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
}

func NewPoint(lon, lat float64) *Geometry {
	coords := "[" + strconv.FormatFloat(lon, 'f', -1, 64) + "," + strconv.FormatFloat(lat, 'f', -1, 64) + "]"
	return &Geometry{Type: TypePoint, Coordinates: json.RawMessage(coords)}
}

// Point returns the longitude and latitude of a point geometry, ok is
// false for nil geometries, other geometry types and coordinates that are
// not two finite numbers within range.
func (g *Geometry) Point() (lon, lat float64, ok bool) {
	if g == nil || g.Type != TypePoint || len(g.Coordinates) == 0 {
		return 0, 0, false
	}
	var coords []float64
	err := json.Unmarshal(g.Coordinates, &coords)
	if err != nil || len(coords) < 2 {
		return 0, 0, false
	}
	lon, lat = coords[0], coords[1]
	if math.IsNaN(lon) || math.IsNaN(lat) || math.IsInf(lon, 0) || math.IsInf(lat, 0) {
		return 0, 0, false
	}
	if lon < -180 || lon > 180 || lat < -90 || lat > 90 {
		return 0, 0, false
	}
	return lon, lat, true
}

func (g *Geometry) Valid() bool {
	_, _, ok := g.Point()
	return ok
}

type Properties struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Address string `json:"address"`
	Brand   string `json:"brand"`
	Icon    string `json:"icon"`
}

type Feature struct {
	Type       string     `json:"type"`
	Geometry   *Geometry  `json:"geometry"`
	Properties Properties `json:"properties"`
}

func NewFeature(geometry *Geometry, properties Properties) Feature {
	return Feature{
		Type:       TypeFeature,
		Geometry:   geometry,
		Properties: properties,
	}
}

type Metadata struct {
	Source      string    `json:"source,omitempty"`
	IDs         int       `json:"ids"`
	Accepted    int       `json:"accepted"`
	GeneratedAt time.Time `json:"generated_at"`
}

type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
	Metadata *Metadata `json:"metadata,omitempty"`
}

func NewFeatureCollection(features []Feature, metadata *Metadata) FeatureCollection {
	if features == nil {
		features = []Feature{}
	}
	return FeatureCollection{
		Type:     TypeFeatureCollection,
		Features: features,
		Metadata: metadata,
	}
}
