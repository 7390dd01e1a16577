package models

// Bounds is a geographic bounding box in decimal degrees. Coordinates are
// kept as floats internally and scaled to integer microdegrees only at the
// transport boundary.
type Bounds struct {
	MinLat float64 `json:"min_lat" yaml:"min_lat"`
	MinLng float64 `json:"min_lng" yaml:"min_lng"`
	MaxLat float64 `json:"max_lat" yaml:"max_lat"`
	MaxLng float64 `json:"max_lng" yaml:"max_lng"`
}

// WorldBounds covers the whole map; used when the consumer has not reported
// a viewport yet.
var WorldBounds = Bounds{MinLat: -90, MinLng: -180, MaxLat: 90, MaxLng: 180}

// Pad returns the bounds expanded by frac of their span in every direction.
func (b Bounds) Pad(frac float64) Bounds {
	dLat := (b.MaxLat - b.MinLat) * frac
	dLng := (b.MaxLng - b.MinLng) * frac
	return Bounds{
		MinLat: b.MinLat - dLat,
		MinLng: b.MinLng - dLng,
		MaxLat: b.MaxLat + dLat,
		MaxLng: b.MaxLng + dLng,
	}
}

// Contains reports whether other lies fully inside b.
func (b Bounds) Contains(other Bounds) bool {
	return other.MinLat >= b.MinLat && other.MinLng >= b.MinLng &&
		other.MaxLat <= b.MaxLat && other.MaxLng <= b.MaxLng
}

// Center returns the box midpoint.
func (b Bounds) Center() (lat, lng float64) {
	return (b.MinLat + b.MaxLat) / 2, (b.MinLng + b.MaxLng) / 2
}

// E6 converts a coordinate in decimal degrees to fixed-point microdegrees.
func E6(deg float64) int64 {
	if deg < 0 {
		return int64(deg*1e6 - 0.5)
	}
	return int64(deg*1e6 + 0.5)
}
