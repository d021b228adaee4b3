// Package geometry provides validation, normalization, and planar proximity
// math for WGS84 longitude/latitude geometries used in conflict detection.
package geometry

import "math"

const (
	// earthRadiusMeters is the mean Earth radius used for haversine distances.
	earthRadiusMeters = 6371000.0

	// metersPerDegreeLat is the approximate length of one degree of latitude.
	metersPerDegreeLat = 111320.0
)

// Haversine returns the great-circle distance in meters between two
// longitude/latitude points.
func Haversine(lng1, lat1, lng2, lat2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lng2 - lng1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusMeters * c
}

// projectEquirect maps a lng/lat coordinate to planar meters using an
// equirectangular projection centered at cosMeanLat. Accurate enough for the
// sub-kilometer scales conflict detection operates at.
func projectEquirect(lng, lat, cosMeanLat float64) (x, y float64) {
	x = lng * math.Pi / 180 * earthRadiusMeters * cosMeanLat
	y = lat * math.Pi / 180 * earthRadiusMeters
	return x, y
}

// pointSegmentDistance returns the distance from point p to segment ab in
// planar coordinates.
func pointSegmentDistance(px, py, ax, ay, bx, by float64) float64 {
	dx := bx - ax
	dy := by - ay
	lenSq := dx*dx + dy*dy
	if lenSq == 0 {
		return math.Hypot(px-ax, py-ay)
	}
	t := ((px-ax)*dx + (py-ay)*dy) / lenSq
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}
	return math.Hypot(px-(ax+t*dx), py-(ay+t*dy))
}

// orientation returns >0 if pqr turn counterclockwise, <0 if clockwise,
// 0 if collinear.
func orientation(px, py, qx, qy, rx, ry float64) float64 {
	return (qx-px)*(ry-py) - (qy-py)*(rx-px)
}

// onSegment reports whether point q lies on segment pr, assuming the three
// points are collinear.
func onSegment(px, py, qx, qy, rx, ry float64) bool {
	return math.Min(px, rx) <= qx && qx <= math.Max(px, rx) &&
		math.Min(py, ry) <= qy && qy <= math.Max(py, ry)
}

// segmentsIntersect reports whether segments ab and cd share any point,
// including touching endpoints and collinear overlap.
func segmentsIntersect(ax, ay, bx, by, cx, cy, dx, dy float64) bool {
	o1 := orientation(ax, ay, bx, by, cx, cy)
	o2 := orientation(ax, ay, bx, by, dx, dy)
	o3 := orientation(cx, cy, dx, dy, ax, ay)
	o4 := orientation(cx, cy, dx, dy, bx, by)

	if ((o1 > 0 && o2 < 0) || (o1 < 0 && o2 > 0)) &&
		((o3 > 0 && o4 < 0) || (o3 < 0 && o4 > 0)) {
		return true
	}

	if o1 == 0 && onSegment(ax, ay, cx, cy, bx, by) {
		return true
	}
	if o2 == 0 && onSegment(ax, ay, dx, dy, bx, by) {
		return true
	}
	if o3 == 0 && onSegment(cx, cy, ax, ay, dx, dy) {
		return true
	}
	if o4 == 0 && onSegment(cx, cy, bx, by, dx, dy) {
		return true
	}
	return false
}

// segmentSegmentDistance returns the minimum distance between segments ab
// and cd, or 0 if they intersect.
func segmentSegmentDistance(ax, ay, bx, by, cx, cy, dx, dy float64) float64 {
	if segmentsIntersect(ax, ay, bx, by, cx, cy, dx, dy) {
		return 0
	}
	d := pointSegmentDistance(ax, ay, cx, cy, dx, dy)
	d = math.Min(d, pointSegmentDistance(bx, by, cx, cy, dx, dy))
	d = math.Min(d, pointSegmentDistance(cx, cy, ax, ay, bx, by))
	d = math.Min(d, pointSegmentDistance(dx, dy, ax, ay, bx, by))
	return d
}

// pointInRing reports whether point p lies inside the closed ring using the
// ray casting rule. Points exactly on the boundary are handled by the
// segment checks in the callers, not here.
func pointInRing(px, py float64, ring [][2]float64) bool {
	inside := false
	n := len(ring)
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		xi, yi := ring[i][0], ring[i][1]
		xj, yj := ring[j][0], ring[j][1]
		if (yi > py) != (yj > py) &&
			px < (xj-xi)*(py-yi)/(yj-yi)+xi {
			inside = !inside
		}
	}
	return inside
}

// shoelaceArea returns the absolute enclosed area of a closed ring in the
// units of its coordinates squared.
func shoelaceArea(ring [][2]float64) float64 {
	var sum float64
	n := len(ring)
	for i := 0; i < n-1; i++ {
		sum += ring[i][0]*ring[i+1][1] - ring[i+1][0]*ring[i][1]
	}
	return math.Abs(sum) / 2
}

// ringAreaSqMeters converts a lng/lat ring to planar meters via a local
// equirectangular approximation and returns its enclosed area in m².
func ringAreaSqMeters(ring [][2]float64) float64 {
	if len(ring) < 4 {
		return 0
	}
	var latSum float64
	for _, c := range ring {
		latSum += c[1]
	}
	cosMeanLat := math.Cos(latSum / float64(len(ring)) * math.Pi / 180)

	projected := make([][2]float64, len(ring))
	for i, c := range ring {
		x, y := projectEquirect(c[0], c[1], cosMeanLat)
		projected[i] = [2]float64{x, y}
	}
	return shoelaceArea(projected)
}

// pathLengthMeters returns the haversine-summed length of a coordinate path.
func pathLengthMeters(coords [][2]float64) float64 {
	var total float64
	for i := 0; i+1 < len(coords); i++ {
		total += Haversine(coords[i][0], coords[i][1], coords[i+1][0], coords[i+1][1])
	}
	return total
}
