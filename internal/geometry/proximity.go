package geometry

import (
	"math"

	"github.com/twpayne/go-geom"
)

// IsProximal reports whether the minimum distance between two normalized
// geometries is within thresholdMeters, or the geometries intersect.
func IsProximal(a, b *Normalized, thresholdMeters float64) bool {
	return MinDistanceMeters(a, b) <= thresholdMeters
}

// Intersects reports whether two normalized geometries share any point.
// This is the test used for moratorium violations: nearness is not enough.
func Intersects(a, b *Normalized) bool {
	return MinDistanceMeters(a, b) == 0
}

// MinDistanceMeters returns the true minimum distance between two normalized
// geometries, considering every vertex, segment interior, and polygon ring
// containment. Intersecting or containing geometries yield 0.
//
// Point/Point pairs use haversine; all other combinations are computed on a
// local equirectangular plane centered at the mean latitude of the two
// geometries, which is accurate for the short distances conflict checks
// operate over.
func MinDistanceMeters(a, b *Normalized) float64 {
	pa, aIsPoint := a.Geom.(*geom.Point)
	pb, bIsPoint := b.Geom.(*geom.Point)
	if aIsPoint && bIsPoint {
		ca, cb := pa.FlatCoords(), pb.FlatCoords()
		return Haversine(ca[0], ca[1], cb[0], cb[1])
	}

	coordsA := a.coords()
	coordsB := b.coords()
	if len(coordsA) == 0 || len(coordsB) == 0 {
		return math.Inf(1)
	}

	cosMeanLat := math.Cos(meanLat(coordsA, coordsB) * math.Pi / 180)
	projA := projectPairs(coordsA, cosMeanLat)
	projB := projectPairs(coordsB, cosMeanLat)

	// Containment: one geometry entirely inside the other's ring.
	if a.isRing() && pointInRing(projB[0][0], projB[0][1], projA) {
		return 0
	}
	if b.isRing() && pointInRing(projA[0][0], projA[0][1], projB) {
		return 0
	}

	segsA := segments(projA)
	segsB := segments(projB)

	min := math.Inf(1)
	switch {
	case len(segsA) > 0 && len(segsB) > 0:
		for _, sa := range segsA {
			for _, sb := range segsB {
				d := segmentSegmentDistance(
					sa[0], sa[1], sa[2], sa[3],
					sb[0], sb[1], sb[2], sb[3],
				)
				if d == 0 {
					return 0
				}
				min = math.Min(min, d)
			}
		}
	case len(segsA) > 0:
		// B is a single point.
		for _, sa := range segsA {
			min = math.Min(min, pointSegmentDistance(projB[0][0], projB[0][1], sa[0], sa[1], sa[2], sa[3]))
		}
	case len(segsB) > 0:
		// A is a single point.
		for _, sb := range segsB {
			min = math.Min(min, pointSegmentDistance(projA[0][0], projA[0][1], sb[0], sb[1], sb[2], sb[3]))
		}
	default:
		min = math.Hypot(projA[0][0]-projB[0][0], projA[0][1]-projB[0][1])
	}
	return min
}

func meanLat(a, b [][2]float64) float64 {
	var sum float64
	for _, c := range a {
		sum += c[1]
	}
	for _, c := range b {
		sum += c[1]
	}
	return sum / float64(len(a)+len(b))
}

func projectPairs(pairs [][2]float64, cosMeanLat float64) [][2]float64 {
	out := make([][2]float64, len(pairs))
	for i, c := range pairs {
		x, y := projectEquirect(c[0], c[1], cosMeanLat)
		out[i] = [2]float64{x, y}
	}
	return out
}

// segments returns consecutive coordinate pairs as [ax, ay, bx, by] tuples.
// A single point yields none; a closed ring yields its boundary segments.
func segments(pairs [][2]float64) [][4]float64 {
	if len(pairs) < 2 {
		return nil
	}
	segs := make([][4]float64, 0, len(pairs)-1)
	for i := 0; i+1 < len(pairs); i++ {
		segs = append(segs, [4]float64{pairs[i][0], pairs[i][1], pairs[i+1][0], pairs[i+1][1]})
	}
	return segs
}
