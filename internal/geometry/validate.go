package geometry

import (
	"fmt"
	"math"
	"strings"

	"github.com/twpayne/go-geom"
)

// ValidatorConfig holds the advisory thresholds used during validation.
type ValidatorConfig struct {
	// MinLineLengthMeters triggers a warning for shorter linestrings.
	MinLineLengthMeters float64

	// MinPolygonAreaSqM triggers a warning for smaller polygons.
	MinPolygonAreaSqM float64

	// OperatingBBox, when set, triggers a warning for geometries whose
	// coordinates fall outside the configured municipal operating area.
	OperatingBBox *BBox
}

// DefaultValidatorConfig returns the standard thresholds.
func DefaultValidatorConfig() ValidatorConfig {
	return ValidatorConfig{
		MinLineLengthMeters: 10,
		MinPolygonAreaSqM:   100,
	}
}

// ValidationError carries the user-displayable messages for a geometry that
// failed structural validation.
type ValidationError struct {
	Messages []string
}

func (e *ValidationError) Error() string {
	return "geometry validation failed: " + strings.Join(e.Messages, "; ")
}

func newValidationError(msgs ...string) *ValidationError {
	return &ValidationError{Messages: msgs}
}

// Validator checks raw geometries and produces normalized ones. It is the
// only consumer of raw user input in the engine.
type Validator struct {
	cfg ValidatorConfig
}

// NewValidator creates a Validator with the given thresholds.
func NewValidator(cfg ValidatorConfig) *Validator {
	if cfg.MinLineLengthMeters <= 0 {
		cfg.MinLineLengthMeters = 10
	}
	if cfg.MinPolygonAreaSqM <= 0 {
		cfg.MinPolygonAreaSqM = 100
	}
	return &Validator{cfg: cfg}
}

// Validate normalizes a raw Point, LineString, or Polygon. Structural
// failures (wrong arity, non-finite values, unclosed rings) short-circuit
// and return a *ValidationError; advisory findings accumulate as warnings on
// the returned geometry.
func (v *Validator) Validate(g geom.T) (*Normalized, error) {
	if g == nil {
		return nil, newValidationError("geometry is required")
	}

	switch t := g.(type) {
	case *geom.Point:
		return v.validatePoint(t)
	case *geom.LineString:
		return v.validateLineString(t)
	case *geom.Polygon:
		return v.validatePolygon(t)
	default:
		return nil, newValidationError("unsupported geometry type: only Point, LineString, and Polygon are accepted")
	}
}

func (v *Validator) validatePoint(p *geom.Point) (*Normalized, error) {
	fc := p.FlatCoords()
	if len(fc) < 2 {
		return nil, newValidationError("point must have exactly one coordinate pair")
	}
	lng, lat := fc[0], fc[1]
	if !finite(lng) || !finite(lat) {
		return nil, newValidationError("point coordinates must be finite numbers")
	}

	n := &Normalized{Geom: geom.NewPointFlat(geom.XY, []float64{lng, lat})}
	v.warnOutsideBounds(n, [][2]float64{{lng, lat}})
	return n, nil
}

func (v *Validator) validateLineString(ls *geom.LineString) (*Normalized, error) {
	pairs := strideToPairs(ls.FlatCoords(), ls.Stride())
	if len(pairs) < 2 {
		return nil, newValidationError("line must have at least 2 coordinates")
	}
	if err := checkFinite(pairs); err != nil {
		return nil, err
	}

	n := &Normalized{}
	deduped, removed := dedupeConsecutive(pairs)
	if removed > 0 {
		n.Warnings = append(n.Warnings, fmt.Sprintf("removed %d duplicate consecutive coordinate(s)", removed))
	}
	if len(deduped) < 2 {
		return nil, newValidationError("line must have at least 2 distinct coordinates")
	}

	n.Geom = geom.NewLineStringFlat(geom.XY, pairsToFlat(deduped))

	if length := pathLengthMeters(deduped); length < v.cfg.MinLineLengthMeters {
		n.Warnings = append(n.Warnings, fmt.Sprintf("line is very short (%.1f m)", length))
	}
	v.warnOutsideBounds(n, deduped)
	return n, nil
}

func (v *Validator) validatePolygon(p *geom.Polygon) (*Normalized, error) {
	if p.NumLinearRings() == 0 {
		return nil, newValidationError("polygon must have an outer ring")
	}

	ring := strideToPairs(p.LinearRing(0).FlatCoords(), p.Stride())
	if len(ring) < 4 {
		return nil, newValidationError("polygon must have at least 4 coordinates")
	}
	if err := checkFinite(ring); err != nil {
		return nil, err
	}
	if ring[0] != ring[len(ring)-1] {
		return nil, newValidationError("polygon must be closed (first and last coordinate must match)")
	}

	n := &Normalized{}
	if p.NumLinearRings() > 1 {
		n.Warnings = append(n.Warnings, "polygon holes are not supported; only the outer ring is considered")
	}

	// De-duplicate the open ring, then re-close it.
	open := ring[:len(ring)-1]
	deduped, removed := dedupeConsecutive(open)
	if removed > 0 {
		n.Warnings = append(n.Warnings, fmt.Sprintf("removed %d duplicate consecutive coordinate(s)", removed))
	}
	if len(deduped) < 3 {
		return nil, newValidationError("polygon must have at least 3 distinct vertices")
	}
	closed := append(append([][2]float64{}, deduped...), deduped[0])

	n.Geom = geom.NewPolygonFlat(geom.XY, pairsToFlat(closed), []int{len(closed) * 2})

	if area := ringAreaSqMeters(closed); area < v.cfg.MinPolygonAreaSqM {
		n.Warnings = append(n.Warnings, fmt.Sprintf("polygon area is very small (%.1f m²)", area))
	}
	if hasCollinearTriplet(closed) {
		// Heuristic only: collinear consecutive vertices often indicate a
		// degenerate or self-touching outline. Never blocks submission.
		n.Warnings = append(n.Warnings, "polygon may be self-intersecting or degenerate")
	}
	v.warnOutsideBounds(n, closed)
	return n, nil
}

func (v *Validator) warnOutsideBounds(n *Normalized, coords [][2]float64) {
	if v.cfg.OperatingBBox == nil {
		return
	}
	for _, c := range coords {
		if !v.cfg.OperatingBBox.Contains(c[0], c[1]) {
			n.Warnings = append(n.Warnings, "geometry lies outside the configured operating area")
			return
		}
	}
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func checkFinite(pairs [][2]float64) error {
	for _, c := range pairs {
		if !finite(c[0]) || !finite(c[1]) {
			return newValidationError("coordinates must be finite numbers")
		}
	}
	return nil
}

// dedupeConsecutive removes coordinates identical to their predecessor and
// returns the number removed.
func dedupeConsecutive(pairs [][2]float64) ([][2]float64, int) {
	if len(pairs) == 0 {
		return nil, 0
	}
	out := make([][2]float64, 0, len(pairs))
	out = append(out, pairs[0])
	removed := 0
	for _, c := range pairs[1:] {
		if c == out[len(out)-1] {
			removed++
			continue
		}
		out = append(out, c)
	}
	return out, removed
}

// hasCollinearTriplet reports whether any three consecutive ring vertices are
// collinear.
func hasCollinearTriplet(ring [][2]float64) bool {
	for i := 0; i+2 < len(ring); i++ {
		a, b, c := ring[i], ring[i+1], ring[i+2]
		if orientation(a[0], a[1], b[0], b[1], c[0], c[1]) == 0 {
			return true
		}
	}
	return false
}

func pairsToFlat(pairs [][2]float64) []float64 {
	flat := make([]float64, 0, len(pairs)*2)
	for _, c := range pairs {
		flat = append(flat, c[0], c[1])
	}
	return flat
}
