package geometry

import (
	"math"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
)

// BBox represents a geographic bounding box in lng/lat degrees.
type BBox struct {
	MinLng float64 `json:"min_lng" yaml:"min_lng" mapstructure:"min_lng"`
	MinLat float64 `json:"min_lat" yaml:"min_lat" mapstructure:"min_lat"`
	MaxLng float64 `json:"max_lng" yaml:"max_lng" mapstructure:"max_lng"`
	MaxLat float64 `json:"max_lat" yaml:"max_lat" mapstructure:"max_lat"`
}

// Intersects reports whether two bounding boxes overlap, boundaries included.
func (b BBox) Intersects(o BBox) bool {
	return b.MinLng <= o.MaxLng && o.MinLng <= b.MaxLng &&
		b.MinLat <= o.MaxLat && o.MinLat <= b.MaxLat
}

// Contains reports whether the box contains the given lng/lat point.
func (b BBox) Contains(lng, lat float64) bool {
	return lng >= b.MinLng && lng <= b.MaxLng && lat >= b.MinLat && lat <= b.MaxLat
}

// Expand grows the box by the given margin in meters on all sides. The
// longitude margin is scaled by the box's mean latitude.
func (b BBox) Expand(meters float64) BBox {
	if meters <= 0 {
		return b
	}
	dLat := meters / metersPerDegreeLat
	cosLat := math.Cos((b.MinLat + b.MaxLat) / 2 * math.Pi / 180)
	if math.Abs(cosLat) < 0.01 {
		cosLat = 0.01
	}
	dLng := meters / (metersPerDegreeLat * cosLat)
	return BBox{
		MinLng: b.MinLng - dLng,
		MinLat: b.MinLat - dLat,
		MaxLng: b.MaxLng + dLng,
		MaxLat: b.MaxLat + dLat,
	}
}

// Normalized is a geometry that has passed validation: coordinates are
// finite, consecutive duplicates are removed, and polygons are closed.
// Warnings carry advisory findings that do not block submission.
type Normalized struct {
	Geom     geom.T   `json:"-"`
	Warnings []string `json:"warnings,omitempty"`
}

// BBox returns the bounding box of the normalized geometry.
func (n *Normalized) BBox() BBox {
	coords := n.coords()
	box := BBox{
		MinLng: math.Inf(1), MinLat: math.Inf(1),
		MaxLng: math.Inf(-1), MaxLat: math.Inf(-1),
	}
	for _, c := range coords {
		box.MinLng = math.Min(box.MinLng, c[0])
		box.MinLat = math.Min(box.MinLat, c[1])
		box.MaxLng = math.Max(box.MaxLng, c[0])
		box.MaxLat = math.Max(box.MaxLat, c[1])
	}
	return box
}

// coords returns the geometry's coordinates as lng/lat pairs. For polygons
// this is the closed outer ring.
func (n *Normalized) coords() [][2]float64 {
	return flatToPairs(n.Geom)
}

// isRing reports whether the geometry is a polygon whose coordinate list
// forms a closed ring.
func (n *Normalized) isRing() bool {
	_, ok := n.Geom.(*geom.Polygon)
	return ok
}

// flatToPairs extracts lng/lat pairs from a Point, LineString, or the outer
// ring of a Polygon. Other types yield nil.
func flatToPairs(g geom.T) [][2]float64 {
	switch t := g.(type) {
	case *geom.Point:
		fc := t.FlatCoords()
		if len(fc) < 2 {
			return nil
		}
		return [][2]float64{{fc[0], fc[1]}}
	case *geom.LineString:
		return strideToPairs(t.FlatCoords(), t.Stride())
	case *geom.Polygon:
		if t.NumLinearRings() == 0 {
			return nil
		}
		return strideToPairs(t.LinearRing(0).FlatCoords(), t.Stride())
	default:
		return nil
	}
}

// strideToPairs splits flat coordinates into lng/lat pairs, honoring the
// layout stride so XYZ/XYM geometries keep their first two ordinates.
func strideToPairs(fc []float64, stride int) [][2]float64 {
	if stride < 2 {
		return nil
	}
	pairs := make([][2]float64, 0, len(fc)/stride)
	for i := 0; i+1 < len(fc); i += stride {
		pairs = append(pairs, [2]float64{fc[i], fc[i+1]})
	}
	return pairs
}

// ParseGeoJSON decodes a GeoJSON geometry object into a go-geom geometry.
func ParseGeoJSON(data []byte) (geom.T, error) {
	var g geom.T
	if err := geojson.Unmarshal(data, &g); err != nil {
		return nil, eris.Wrap(err, "geometry: parse geojson")
	}
	return g, nil
}

// MarshalGeoJSON encodes a go-geom geometry as a GeoJSON geometry object.
func MarshalGeoJSON(g geom.T) ([]byte, error) {
	data, err := geojson.Marshal(g)
	if err != nil {
		return nil, eris.Wrap(err, "geometry: marshal geojson")
	}
	return data, nil
}
