// Package store persists projects, moratoriums, and exception records, and
// answers the coarse bounding-box queries the conflict engine prefilters
// with. Three backends: in-memory (grid index), SQLite, and Postgres.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/terracoord/digcheck/internal/geometry"
	"github.com/terracoord/digcheck/internal/model"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = eris.New("store: not found")

// ProjectFilter specifies criteria for listing projects.
type ProjectFilter struct {
	State  model.ProjectState `json:"state,omitempty"`
	Limit  int                `json:"limit,omitempty"`
	Offset int                `json:"offset,omitempty"`
}

// Store defines the persistence interface for the coordination backend.
// Bounding-box queries return coarse candidates ordered by ID; the exact
// geometry tests belong to the conflict engine.
type Store interface {
	// Projects
	UpsertProject(ctx context.Context, p *model.Project) error
	GetProject(ctx context.Context, id string) (*model.Project, error)
	ListProjects(ctx context.Context, filter ProjectFilter) ([]model.Project, error)
	DeleteProject(ctx context.Context, id string) error
	ProjectsInBBox(ctx context.Context, box geometry.BBox) ([]model.Project, error)

	// Moratoriums
	UpsertMoratorium(ctx context.Context, m *model.Moratorium) error
	GetMoratorium(ctx context.Context, id string) (*model.Moratorium, error)
	ListMoratoriums(ctx context.Context, limit, offset int) ([]model.Moratorium, error)
	MoratoriumsInBBox(ctx context.Context, box geometry.BBox) ([]model.Moratorium, error)

	// Exceptions. Exception returns (nil, nil) when no record exists.
	RecordException(ctx context.Context, e *model.MoratoriumException) error
	RevokeException(ctx context.Context, id string) error
	Exception(ctx context.Context, moratoriumID, projectID string) (*model.MoratoriumException, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// encodeGeometry serializes a normalized geometry as GeoJSON for storage.
func encodeGeometry(n *geometry.Normalized) ([]byte, error) {
	if n == nil || n.Geom == nil {
		return nil, eris.New("store: entity geometry is required")
	}
	return geometry.MarshalGeoJSON(n.Geom)
}

// decodeGeometry restores a stored GeoJSON geometry. Stored geometries were
// normalized before persistence, so no re-validation happens here.
func decodeGeometry(data []byte) (*geometry.Normalized, error) {
	g, err := geometry.ParseGeoJSON(data)
	if err != nil {
		return nil, err
	}
	return &geometry.Normalized{Geom: g}, nil
}
