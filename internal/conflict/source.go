package conflict

import (
	"context"
	"sort"

	"github.com/terracoord/digcheck/internal/geometry"
	"github.com/terracoord/digcheck/internal/model"
)

// SpatialStore is the read-only slice of a store the engine needs: coarse
// bounding-box queries plus exception lookup. The exact geometry and date
// math stays in this package.
type SpatialStore interface {
	ProjectsInBBox(ctx context.Context, box geometry.BBox) ([]model.Project, error)
	MoratoriumsInBBox(ctx context.Context, box geometry.BBox) ([]model.Moratorium, error)
	Exception(ctx context.Context, moratoriumID, projectID string) (*model.MoratoriumException, error)
}

// StoreSource adapts a SpatialStore into the ProjectSource and
// MoratoriumRegistry interfaces consumed by the Detector.
type StoreSource struct {
	store SpatialStore
}

// NewStoreSource wraps a store as a detection data source.
func NewStoreSource(s SpatialStore) *StoreSource {
	return &StoreSource{store: s}
}

// FindCandidatesNear returns projects whose bounding box falls within
// marginMeters of the geometry's bounding box and whose lifecycle state
// occupies ground. The precise proximity test belongs to the Detector.
func (s *StoreSource) FindCandidatesNear(ctx context.Context, g *geometry.Normalized, marginMeters float64) ([]model.Project, error) {
	box := g.BBox().Expand(marginMeters)
	projects, err := s.store.ProjectsInBBox(ctx, box)
	if err != nil {
		return nil, err
	}

	var out []model.Project
	for _, p := range projects {
		if p.State.CountsAsCandidate() {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// FindActiveInArea returns moratoriums whose validity window overlaps w and
// whose geometry truly intersects g.
func (s *StoreSource) FindActiveInArea(ctx context.Context, g *geometry.Normalized, w model.Window) ([]model.Moratorium, error) {
	moratoriums, err := s.store.MoratoriumsInBBox(ctx, g.BBox())
	if err != nil {
		return nil, err
	}

	var out []model.Moratorium
	for _, m := range moratoriums {
		if m.Geometry == nil {
			continue
		}
		if m.Window.Overlaps(w) && geometry.Intersects(g, m.Geometry) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// FindException looks up a recorded exception for the given pair.
func (s *StoreSource) FindException(ctx context.Context, moratoriumID, projectID string) (*model.MoratoriumException, error) {
	return s.store.Exception(ctx, moratoriumID, projectID)
}
