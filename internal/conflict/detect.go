package conflict

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/terracoord/digcheck/internal/geometry"
	"github.com/terracoord/digcheck/internal/model"
)

// ProjectSource supplies candidate projects whose bounding boxes lie near a
// geometry. Implementations must return a consistent read-only snapshot.
type ProjectSource interface {
	FindCandidatesNear(ctx context.Context, g *geometry.Normalized, marginMeters float64) ([]model.Project, error)
}

// MoratoriumRegistry supplies active moratoriums and their recorded
// exceptions. FindActiveInArea returns moratoriums whose validity window
// overlaps the given window AND whose geometry truly intersects the given
// geometry; nearness alone is not a violation.
type MoratoriumRegistry interface {
	FindActiveInArea(ctx context.Context, g *geometry.Normalized, w model.Window) ([]model.Moratorium, error)
	FindException(ctx context.Context, moratoriumID, projectID string) (*model.MoratoriumException, error)
}

// Request describes one conflict detection evaluation.
type Request struct {
	Geometry *geometry.Normalized

	Window model.Window

	// ExcludeProjectID identifies the requesting project on update, so it
	// is not reported as conflicting with itself. It is also the project
	// moratorium exceptions are matched against.
	ExcludeProjectID string
}

// Config holds the detection parameters.
type Config struct {
	// ProximityThresholdMeters is the distance within which two project
	// geometries count as a spatial conflict.
	ProximityThresholdMeters float64

	// Timeout bounds the whole evaluation, including data-source fetches.
	// Zero means the caller's context deadline applies alone.
	Timeout time.Duration
}

// DefaultConfig returns the standard detection parameters.
func DefaultConfig() Config {
	return Config{
		ProximityThresholdMeters: 25,
		Timeout:                  5 * time.Second,
	}
}

// Detector runs conflict detection over caller-supplied snapshots. It holds
// no mutable state and is safe for concurrent use.
type Detector struct {
	projects    ProjectSource
	moratoriums MoratoriumRegistry
	cfg         Config
}

// NewDetector creates a Detector backed by the given data sources.
func NewDetector(projects ProjectSource, moratoriums MoratoriumRegistry, cfg Config) *Detector {
	if cfg.ProximityThresholdMeters < 0 {
		cfg.ProximityThresholdMeters = 0
	}
	return &Detector{projects: projects, moratoriums: moratoriums, cfg: cfg}
}

// Detect evaluates a request against the current snapshot of projects and
// moratoriums. The same inputs and snapshot always yield the same result.
//
// Fetch failures and timeouts fail closed: Detect returns an
// *EvaluationError and no result, never a silent "no conflicts".
func (d *Detector) Detect(ctx context.Context, req Request) (*Result, error) {
	if req.Geometry == nil {
		return nil, eris.New("conflict: request geometry is required")
	}

	if d.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.Timeout)
		defer cancel()
	}

	var (
		candidates []model.Project
		active     []model.Moratorium
	)
	grp, fetchCtx := errgroup.WithContext(ctx)
	grp.Go(func() error {
		var err error
		candidates, err = d.projects.FindCandidatesNear(fetchCtx, req.Geometry, d.cfg.ProximityThresholdMeters)
		return err
	})
	grp.Go(func() error {
		var err error
		active, err = d.moratoriums.FindActiveInArea(fetchCtx, req.Geometry, req.Window)
		return err
	})
	if err := grp.Wait(); err != nil {
		return nil, &EvaluationError{Cause: err}
	}

	spatial := d.spatialConflicts(req, candidates)
	temporal := temporalConflicts(req.Window, spatial)
	violations, err := d.filterExempted(ctx, req.ExcludeProjectID, active)
	if err != nil {
		return nil, err
	}

	return buildResult(spatial, temporal, violations), nil
}

// spatialConflicts returns the candidates within the proximity threshold of
// the request geometry, self-excluded and ordered by ID.
func (d *Detector) spatialConflicts(req Request, candidates []model.Project) []model.Project {
	var out []model.Project
	for _, p := range candidates {
		if p.ID == req.ExcludeProjectID || p.Geometry == nil {
			continue
		}
		if geometry.IsProximal(req.Geometry, p.Geometry, d.cfg.ProximityThresholdMeters) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// temporalConflicts returns the subset of spatial conflicts whose window
// also overlaps the request window. Order is preserved.
func temporalConflicts(w model.Window, spatial []model.Project) []model.Project {
	var out []model.Project
	for _, p := range spatial {
		if w.Overlaps(p.Window) {
			out = append(out, p)
		}
	}
	return out
}

// filterExempted drops moratoriums covered by an active exception for the
// requesting project. A failed exception lookup is treated as "no exception
// found" so the violation is still reported.
func (d *Detector) filterExempted(ctx context.Context, projectID string, active []model.Moratorium) ([]model.Moratorium, error) {
	out := make([]model.Moratorium, 0, len(active))
	for _, m := range active {
		if projectID != "" {
			exc, err := d.moratoriums.FindException(ctx, m.ID, projectID)
			if err != nil {
				if ctx.Err() != nil {
					// The whole evaluation timed out; fail closed.
					return nil, &EvaluationError{Cause: err}
				}
				zap.L().Warn("conflict: exception lookup failed, reporting violation",
					zap.String("moratorium_id", m.ID),
					zap.String("project_id", projectID),
					zap.Error(err),
				)
			} else if exc.Active() {
				continue
			}
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
