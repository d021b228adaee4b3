// Package importer loads moratorium zones from municipal shapefiles into a
// store, validating and normalizing each polygon on the way in.
package importer

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/terracoord/digcheck/internal/geometry"
	"github.com/terracoord/digcheck/internal/model"
	"github.com/terracoord/digcheck/internal/resilience"
	"github.com/terracoord/digcheck/internal/store"
)

// Result summarizes one shapefile import.
type Result struct {
	Imported int
	Skipped  int
}

// attribute names looked up case-insensitively in the DBF.
const (
	fieldName      = "NAME"
	fieldValidFrom = "VALID_FROM"
	fieldValidTo   = "VALID_TO"
	fieldReason    = "REASON"
	fieldDetail    = "DETAIL"
)

// LoadMoratoriums reads moratorium polygons from a shapefile and upserts
// them into the store. Records with unsupported shapes, invalid geometry,
// or unparseable validity dates are skipped with a logged warning.
func LoadMoratoriums(ctx context.Context, path string, v *geometry.Validator, st store.Store) (Result, error) {
	r, err := shp.Open(path)
	if err != nil {
		return Result{}, eris.Wrapf(err, "importer: open shapefile %s", path)
	}
	defer r.Close()

	fields := fieldIndex(r.Fields())
	var res Result

	for r.Next() {
		if err := ctx.Err(); err != nil {
			return res, eris.Wrap(err, "importer: cancelled")
		}
		row, shape := r.Shape()

		poly, ok := shape.(*shp.Polygon)
		if !ok {
			zap.L().Warn("importer: skipping non-polygon shape", zap.Int("row", row))
			res.Skipped++
			continue
		}

		g := outerRingPolygon(poly)
		if g == nil {
			zap.L().Warn("importer: skipping empty polygon", zap.Int("row", row))
			res.Skipped++
			continue
		}

		normalized, err := v.Validate(g)
		if err != nil {
			zap.L().Warn("importer: skipping invalid polygon", zap.Int("row", row), zap.Error(err))
			res.Skipped++
			continue
		}
		for _, w := range normalized.Warnings {
			zap.L().Debug("importer: geometry warning", zap.Int("row", row), zap.String("warning", w))
		}

		window, err := model.ParseWindow(
			attr(r, row, fields, fieldValidFrom),
			attr(r, row, fields, fieldValidTo),
		)
		if err != nil {
			zap.L().Warn("importer: skipping row with invalid validity window", zap.Int("row", row), zap.Error(err))
			res.Skipped++
			continue
		}

		now := time.Now().UTC()
		m := &model.Moratorium{
			ID:           uuid.New().String(),
			Name:         attr(r, row, fields, fieldName),
			Geometry:     normalized,
			Window:       window,
			Reason:       attr(r, row, fields, fieldReason),
			ReasonDetail: attr(r, row, fields, fieldDetail),
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if m.Name == "" {
			m.Name = "imported moratorium"
		}

		err = resilience.Do(ctx, resilience.DefaultRetryConfig(), func(ctx context.Context) error {
			return st.UpsertMoratorium(ctx, m)
		})
		if err != nil {
			return res, eris.Wrapf(err, "importer: upsert moratorium row %d", row)
		}
		res.Imported++
	}

	zap.L().Info("importer: shapefile load complete",
		zap.String("path", path),
		zap.Int("imported", res.Imported),
		zap.Int("skipped", res.Skipped),
	)
	return res, nil
}

// outerRingPolygon converts the first part of a shapefile polygon to a
// closed go-geom polygon. Inner rings (holes) are dropped.
func outerRingPolygon(p *shp.Polygon) geom.T {
	if p == nil || p.NumParts == 0 || len(p.Points) == 0 {
		return nil
	}

	end := int32(len(p.Points))
	if p.NumParts > 1 {
		end = p.Parts[1]
	}

	flat := make([]float64, 0, end*2)
	for i := p.Parts[0]; i < end; i++ {
		flat = append(flat, p.Points[i].X, p.Points[i].Y)
	}
	if len(flat) < 8 {
		return nil
	}

	// Shapefile rings are closed by convention; close explicitly if not.
	if flat[0] != flat[len(flat)-2] || flat[1] != flat[len(flat)-1] {
		flat = append(flat, flat[0], flat[1])
	}
	return geom.NewPolygonFlat(geom.XY, flat, []int{len(flat)})
}

func fieldIndex(fields []shp.Field) map[string]int {
	idx := make(map[string]int, len(fields))
	for i, f := range fields {
		idx[strings.ToUpper(strings.TrimRight(f.String(), "\x00"))] = i
	}
	return idx
}

func attr(r *shp.Reader, row int, fields map[string]int, name string) string {
	i, ok := fields[name]
	if !ok {
		return ""
	}
	return strings.TrimSpace(r.ReadAttribute(row, i))
}
