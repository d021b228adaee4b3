package geometry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
)

func mustNormalize(t *testing.T, g geom.T) *Normalized {
	t.Helper()
	n, err := newValidator().Validate(g)
	require.NoError(t, err)
	return n
}

func TestMinDistancePointPoint(t *testing.T) {
	a := mustNormalize(t, geom.NewPointFlat(geom.XY, []float64{14.4378, 50.0755}))
	b := mustNormalize(t, geom.NewPointFlat(geom.XY, []float64{14.4380, 50.0757}))

	d := MinDistanceMeters(a, b)
	assert.InDelta(t, 26.5, d, 2)
	assert.Equal(t, d, MinDistanceMeters(b, a))
}

func TestMinDistanceIdenticalLineStrings(t *testing.T) {
	coords := []float64{14.4378, 50.0755, 14.4380, 50.0757}
	a := mustNormalize(t, line(coords...))
	b := mustNormalize(t, line(coords...))

	assert.Zero(t, MinDistanceMeters(a, b))
	assert.True(t, Intersects(a, b))
	assert.True(t, IsProximal(a, b, 0))
}

func TestMinDistanceCrossingLines(t *testing.T) {
	a := mustNormalize(t, line(14.4370, 50.0755, 14.4390, 50.0755))
	b := mustNormalize(t, line(14.4380, 50.0745, 14.4380, 50.0765))

	assert.Zero(t, MinDistanceMeters(a, b))
	assert.True(t, Intersects(a, b))
}

func TestMinDistanceParallelLines(t *testing.T) {
	// Two east-west lines 0.0002 deg of latitude apart, about 22 meters.
	a := mustNormalize(t, line(14.4370, 50.0755, 14.4390, 50.0755))
	b := mustNormalize(t, line(14.4370, 50.0757, 14.4390, 50.0757))

	d := MinDistanceMeters(a, b)
	assert.InDelta(t, 22.2, d, 1)
	assert.True(t, IsProximal(a, b, 25))
	assert.False(t, IsProximal(a, b, 20))
	assert.False(t, Intersects(a, b))
}

func TestMinDistanceSegmentInteriors(t *testing.T) {
	// Closest approach is between segment interiors, not vertices: a short
	// vertical line pointing at the middle of a long horizontal one.
	a := mustNormalize(t, line(14.4350, 50.0755, 14.4410, 50.0755))
	b := mustNormalize(t, line(14.4380, 50.0757, 14.4380, 50.0760))

	d := MinDistanceMeters(a, b)
	assert.InDelta(t, 22.2, d, 1)
}

func TestMinDistancePointInPolygon(t *testing.T) {
	poly := mustNormalize(t, polygon(
		14.4200, 50.0700,
		14.4300, 50.0700,
		14.4300, 50.0800,
		14.4200, 50.0800,
		14.4200, 50.0700,
	))
	inside := mustNormalize(t, geom.NewPointFlat(geom.XY, []float64{14.4250, 50.0750}))
	outside := mustNormalize(t, geom.NewPointFlat(geom.XY, []float64{14.4400, 50.0750}))

	assert.Zero(t, MinDistanceMeters(poly, inside))
	assert.True(t, Intersects(poly, inside))

	d := MinDistanceMeters(poly, outside)
	assert.Greater(t, d, 500.0)
	assert.False(t, Intersects(poly, outside))
}

func TestMinDistanceLineInsidePolygon(t *testing.T) {
	poly := mustNormalize(t, polygon(
		14.4200, 50.0700,
		14.4300, 50.0700,
		14.4300, 50.0800,
		14.4200, 50.0800,
		14.4200, 50.0700,
	))
	within := mustNormalize(t, line(14.4240, 50.0740, 14.4260, 50.0760))

	assert.Zero(t, MinDistanceMeters(poly, within))
	assert.Zero(t, MinDistanceMeters(within, poly))
}

func TestBBoxExpand(t *testing.T) {
	box := BBox{MinLng: 14.42, MinLat: 50.07, MaxLng: 14.43, MaxLat: 50.08}
	grown := box.Expand(100)

	assert.Less(t, grown.MinLng, box.MinLng)
	assert.Less(t, grown.MinLat, box.MinLat)
	assert.Greater(t, grown.MaxLng, box.MaxLng)
	assert.Greater(t, grown.MaxLat, box.MaxLat)

	// 100m is roughly 0.0009 degrees of latitude.
	assert.InDelta(t, 0.0009, box.MinLat-grown.MinLat, 0.0002)

	assert.Equal(t, box, box.Expand(0))
}

func TestBBoxIntersects(t *testing.T) {
	a := BBox{MinLng: 0, MinLat: 0, MaxLng: 10, MaxLat: 10}

	tests := []struct {
		name     string
		b        BBox
		expected bool
	}{
		{name: "overlapping", b: BBox{MinLng: 5, MinLat: 5, MaxLng: 15, MaxLat: 15}, expected: true},
		{name: "touching edge", b: BBox{MinLng: 10, MinLat: 0, MaxLng: 20, MaxLat: 10}, expected: true},
		{name: "disjoint", b: BBox{MinLng: 11, MinLat: 11, MaxLng: 20, MaxLat: 20}, expected: false},
		{name: "contained", b: BBox{MinLng: 2, MinLat: 2, MaxLng: 8, MaxLat: 8}, expected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, a.Intersects(tt.b))
			assert.Equal(t, tt.expected, tt.b.Intersects(a))
		})
	}
}
