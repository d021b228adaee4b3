package conflict

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/terracoord/digcheck/internal/geometry"
	"github.com/terracoord/digcheck/internal/model"
	"github.com/terracoord/digcheck/internal/store"
)

func normalize(t *testing.T, g geom.T) *geometry.Normalized {
	t.Helper()
	n, err := geometry.NewValidator(geometry.DefaultValidatorConfig()).Validate(g)
	require.NoError(t, err)
	return n
}

func trenchLine(t *testing.T) *geometry.Normalized {
	return normalize(t, geom.NewLineStringFlat(geom.XY, []float64{
		14.4378, 50.0755,
		14.4380, 50.0757,
	}))
}

func seedProject(t *testing.T, st store.Store, id string, state model.ProjectState, g *geometry.Normalized, start, end string) {
	t.Helper()
	err := st.UpsertProject(context.Background(), &model.Project{
		ID:       id,
		Name:     "Project " + id,
		State:    state,
		Geometry: g,
		Window:   model.MustParseWindow(start, end),
	})
	require.NoError(t, err)
}

func seedMoratorium(t *testing.T, st store.Store, id string, g *geometry.Normalized, start, end, reason string) {
	t.Helper()
	err := st.UpsertMoratorium(context.Background(), &model.Moratorium{
		ID:       id,
		Name:     "Moratorium " + id,
		Geometry: g,
		Window:   model.MustParseWindow(start, end),
		Reason:   reason,
	})
	require.NoError(t, err)
}

func newTestDetector(st store.Store) *Detector {
	src := NewStoreSource(st)
	return NewDetector(src, src, DefaultConfig())
}

// coveringZone is a polygon that fully contains the trench line geometry.
func coveringZone(t *testing.T) *geometry.Normalized {
	return normalize(t, geom.NewPolygonFlat(geom.XY, []float64{
		14.4370, 50.0750,
		14.4390, 50.0750,
		14.4390, 50.0760,
		14.4370, 50.0760,
		14.4370, 50.0750,
	}, []int{10}))
}

func TestDetectSpatialAndTemporalConflict(t *testing.T) {
	st := store.NewMemory()
	seedProject(t, st, "p-existing", model.StateApproved, trenchLine(t), "2024-03-15", "2024-03-25")

	result, err := newTestDetector(st).Detect(context.Background(), Request{
		Geometry: trenchLine(t),
		Window:   model.MustParseWindow("2024-03-20", "2024-04-05"),
	})
	require.NoError(t, err)

	assert.True(t, result.HasConflict)
	require.Len(t, result.SpatialConflicts, 1)
	require.Len(t, result.TemporalConflicts, 1)
	assert.Equal(t, "p-existing", result.SpatialConflicts[0].ID)
	assert.Equal(t, "2024-03-15", result.SpatialConflicts[0].StartDate)
	assert.Empty(t, result.MoratoriumViolations)

	assert.Equal(t, 1, result.Summary.TotalConflicts)
	assert.Equal(t, 1, result.Summary.CriticalConflicts)
	assert.Zero(t, result.Summary.Warnings)
}

func TestDetectSpatialOnlyIsWarning(t *testing.T) {
	st := store.NewMemory()
	seedProject(t, st, "p-existing", model.StateApproved, trenchLine(t), "2024-03-15", "2024-03-25")

	result, err := newTestDetector(st).Detect(context.Background(), Request{
		Geometry: trenchLine(t),
		Window:   model.MustParseWindow("2024-04-10", "2024-04-20"),
	})
	require.NoError(t, err)

	assert.True(t, result.HasConflict)
	assert.Len(t, result.SpatialConflicts, 1)
	assert.Empty(t, result.TemporalConflicts)

	assert.Equal(t, 1, result.Summary.TotalConflicts)
	assert.Zero(t, result.Summary.CriticalConflicts)
	assert.Equal(t, 1, result.Summary.Warnings)
}

func TestDetectMoratoriumViolation(t *testing.T) {
	st := store.NewMemory()
	seedMoratorium(t, st, "m-pavement", coveringZone(t), "2024-01-01", "2024-12-31", model.ReasonFreshPavement)

	result, err := newTestDetector(st).Detect(context.Background(), Request{
		Geometry:         trenchLine(t),
		Window:           model.MustParseWindow("2024-03-20", "2024-04-05"),
		ExcludeProjectID: "p-new",
	})
	require.NoError(t, err)

	assert.True(t, result.HasConflict)
	require.Len(t, result.MoratoriumViolations, 1)
	assert.Equal(t, "m-pavement", result.MoratoriumViolations[0].ID)
	assert.Equal(t, "2024-12-31", result.MoratoriumViolations[0].ValidTo)
	assert.Equal(t, model.ReasonFreshPavement, result.MoratoriumViolations[0].Reason)

	assert.Equal(t, 1, result.Summary.TotalConflicts)
	assert.Equal(t, 1, result.Summary.CriticalConflicts)
	assert.Zero(t, result.Summary.Warnings)
}

func TestDetectExceptionSuppressesViolation(t *testing.T) {
	st := store.NewMemory()
	seedMoratorium(t, st, "m-pavement", coveringZone(t), "2024-01-01", "2024-12-31", model.ReasonFreshPavement)
	require.NoError(t, st.RecordException(context.Background(), &model.MoratoriumException{
		ID:           "e1",
		MoratoriumID: "m-pavement",
		ProjectID:    "p-new",
		ApproverID:   "coordinator-7",
	}))

	result, err := newTestDetector(st).Detect(context.Background(), Request{
		Geometry:         trenchLine(t),
		Window:           model.MustParseWindow("2024-03-20", "2024-04-05"),
		ExcludeProjectID: "p-new",
	})
	require.NoError(t, err)

	assert.False(t, result.HasConflict)
	assert.Empty(t, result.MoratoriumViolations)
	assert.Zero(t, result.Summary.TotalConflicts)
}

func TestDetectRevokedExceptionStillViolates(t *testing.T) {
	st := store.NewMemory()
	seedMoratorium(t, st, "m-pavement", coveringZone(t), "2024-01-01", "2024-12-31", model.ReasonFreshPavement)
	require.NoError(t, st.RecordException(context.Background(), &model.MoratoriumException{
		ID:           "e1",
		MoratoriumID: "m-pavement",
		ProjectID:    "p-new",
		Revoked:      true,
	}))

	result, err := newTestDetector(st).Detect(context.Background(), Request{
		Geometry:         trenchLine(t),
		Window:           model.MustParseWindow("2024-03-20", "2024-04-05"),
		ExcludeProjectID: "p-new",
	})
	require.NoError(t, err)
	assert.Len(t, result.MoratoriumViolations, 1)
}

func TestDetectMoratoriumNearnessIsNotViolation(t *testing.T) {
	st := store.NewMemory()
	// Zone ends about 20m west of the trench: proximal but not intersecting.
	zone := normalize(t, geom.NewPolygonFlat(geom.XY, []float64{
		14.4350, 50.0750,
		14.4375, 50.0750,
		14.4375, 50.0760,
		14.4350, 50.0760,
		14.4350, 50.0750,
	}, []int{10}))
	seedMoratorium(t, st, "m-near", zone, "2024-01-01", "2024-12-31", model.ReasonEventZone)

	result, err := newTestDetector(st).Detect(context.Background(), Request{
		Geometry: trenchLine(t),
		Window:   model.MustParseWindow("2024-03-20", "2024-04-05"),
	})
	require.NoError(t, err)
	assert.Empty(t, result.MoratoriumViolations)
	assert.False(t, result.HasConflict)
}

func TestDetectExpiredMoratoriumIgnored(t *testing.T) {
	st := store.NewMemory()
	seedMoratorium(t, st, "m-old", coveringZone(t), "2023-01-01", "2023-12-31", model.ReasonWinterService)

	result, err := newTestDetector(st).Detect(context.Background(), Request{
		Geometry: trenchLine(t),
		Window:   model.MustParseWindow("2024-03-20", "2024-04-05"),
	})
	require.NoError(t, err)
	assert.Empty(t, result.MoratoriumViolations)
}

func TestDetectExcludesSelf(t *testing.T) {
	st := store.NewMemory()
	seedProject(t, st, "p-self", model.StateApproved, trenchLine(t), "2024-03-15", "2024-03-25")

	result, err := newTestDetector(st).Detect(context.Background(), Request{
		Geometry:         trenchLine(t),
		Window:           model.MustParseWindow("2024-03-15", "2024-03-25"),
		ExcludeProjectID: "p-self",
	})
	require.NoError(t, err)
	assert.False(t, result.HasConflict)
	assert.Empty(t, result.SpatialConflicts)
}

func TestDetectIgnoresNonCandidateStates(t *testing.T) {
	st := store.NewMemory()
	seedProject(t, st, "p-draft", model.StateDraft, trenchLine(t), "2024-03-15", "2024-03-25")
	seedProject(t, st, "p-done", model.StateCompleted, trenchLine(t), "2024-03-15", "2024-03-25")
	seedProject(t, st, "p-cancelled", model.StateCancelled, trenchLine(t), "2024-03-15", "2024-03-25")

	result, err := newTestDetector(st).Detect(context.Background(), Request{
		Geometry: trenchLine(t),
		Window:   model.MustParseWindow("2024-03-20", "2024-04-05"),
	})
	require.NoError(t, err)
	assert.False(t, result.HasConflict)
}

func TestDetectBeyondThresholdNoConflict(t *testing.T) {
	st := store.NewMemory()
	// Roughly 70m north of the trench line, past the 25m threshold.
	far := normalize(t, geom.NewLineStringFlat(geom.XY, []float64{
		14.4378, 50.0762,
		14.4380, 50.0764,
	}))
	seedProject(t, st, "p-far", model.StateApproved, far, "2024-03-15", "2024-03-25")

	result, err := newTestDetector(st).Detect(context.Background(), Request{
		Geometry: trenchLine(t),
		Window:   model.MustParseWindow("2024-03-20", "2024-04-05"),
	})
	require.NoError(t, err)
	assert.False(t, result.HasConflict)
}

func TestDetectEmptyResultShape(t *testing.T) {
	result, err := newTestDetector(store.NewMemory()).Detect(context.Background(), Request{
		Geometry: trenchLine(t),
		Window:   model.MustParseWindow("2024-03-20", "2024-04-05"),
	})
	require.NoError(t, err)

	assert.False(t, result.HasConflict)
	assert.NotNil(t, result.SpatialConflicts)
	assert.NotNil(t, result.TemporalConflicts)
	assert.NotNil(t, result.MoratoriumViolations)
	assert.Empty(t, result.SpatialConflicts)
}

func TestDetectDeterministic(t *testing.T) {
	st := store.NewMemory()
	seedProject(t, st, "p-b", model.StateApproved, trenchLine(t), "2024-03-15", "2024-03-25")
	seedProject(t, st, "p-a", model.StateInProgress, trenchLine(t), "2024-03-01", "2024-03-21")
	seedMoratorium(t, st, "m-z", coveringZone(t), "2024-01-01", "2024-12-31", model.ReasonHeritageSite)
	seedMoratorium(t, st, "m-a", coveringZone(t), "2024-03-01", "2024-06-30", model.ReasonEventZone)

	d := newTestDetector(st)
	req := Request{
		Geometry: trenchLine(t),
		Window:   model.MustParseWindow("2024-03-20", "2024-04-05"),
	}

	first, err := d.Detect(context.Background(), req)
	require.NoError(t, err)
	second, err := d.Detect(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first, second)

	// Ordered by ID regardless of insertion order.
	assert.Equal(t, "p-a", first.SpatialConflicts[0].ID)
	assert.Equal(t, "p-b", first.SpatialConflicts[1].ID)
	assert.Equal(t, "m-a", first.MoratoriumViolations[0].ID)
	assert.Equal(t, "m-z", first.MoratoriumViolations[1].ID)
}

func TestDetectRequiresGeometry(t *testing.T) {
	_, err := newTestDetector(store.NewMemory()).Detect(context.Background(), Request{
		Window: model.MustParseWindow("2024-03-20", "2024-04-05"),
	})
	assert.Error(t, err)
}

type failingSource struct {
	projErr error
	morErr  error
	excErr  error
	inner   *StoreSource
}

func (f *failingSource) FindCandidatesNear(ctx context.Context, g *geometry.Normalized, margin float64) ([]model.Project, error) {
	if f.projErr != nil {
		return nil, f.projErr
	}
	return f.inner.FindCandidatesNear(ctx, g, margin)
}

func (f *failingSource) FindActiveInArea(ctx context.Context, g *geometry.Normalized, w model.Window) ([]model.Moratorium, error) {
	if f.morErr != nil {
		return nil, f.morErr
	}
	return f.inner.FindActiveInArea(ctx, g, w)
}

func (f *failingSource) FindException(ctx context.Context, moratoriumID, projectID string) (*model.MoratoriumException, error) {
	if f.excErr != nil {
		return nil, f.excErr
	}
	return f.inner.FindException(ctx, moratoriumID, projectID)
}

func TestDetectFailsClosedOnFetchError(t *testing.T) {
	st := store.NewMemory()
	src := &failingSource{
		projErr: eris.New("registry unavailable"),
		inner:   NewStoreSource(st),
	}
	d := NewDetector(src, src, DefaultConfig())

	result, err := d.Detect(context.Background(), Request{
		Geometry: trenchLine(t),
		Window:   model.MustParseWindow("2024-03-20", "2024-04-05"),
	})

	assert.Nil(t, result)
	var evalErr *EvaluationError
	require.ErrorAs(t, err, &evalErr)
	assert.Contains(t, evalErr.Error(), "conflict check incomplete")
}

func TestDetectFailsClosedOnMoratoriumFetchError(t *testing.T) {
	src := &failingSource{
		morErr: eris.New("zone registry down"),
		inner:  NewStoreSource(store.NewMemory()),
	}
	d := NewDetector(src, src, DefaultConfig())

	result, err := d.Detect(context.Background(), Request{
		Geometry: trenchLine(t),
		Window:   model.MustParseWindow("2024-03-20", "2024-04-05"),
	})

	assert.Nil(t, result)
	var evalErr *EvaluationError
	assert.ErrorAs(t, err, &evalErr)
}

func TestDetectExceptionLookupFailureReportsViolation(t *testing.T) {
	st := store.NewMemory()
	seedMoratorium(t, st, "m-pavement", coveringZone(t), "2024-01-01", "2024-12-31", model.ReasonFreshPavement)

	src := &failingSource{
		excErr: eris.New("exception table unavailable"),
		inner:  NewStoreSource(st),
	}
	d := NewDetector(src, src, DefaultConfig())

	result, err := d.Detect(context.Background(), Request{
		Geometry:         trenchLine(t),
		Window:           model.MustParseWindow("2024-03-20", "2024-04-05"),
		ExcludeProjectID: "p-new",
	})
	require.NoError(t, err)

	// Unable to confirm an exception, so the violation stands.
	assert.Len(t, result.MoratoriumViolations, 1)
}

type slowSource struct{}

func (slowSource) FindCandidatesNear(ctx context.Context, _ *geometry.Normalized, _ float64) ([]model.Project, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (slowSource) FindActiveInArea(ctx context.Context, _ *geometry.Normalized, _ model.Window) ([]model.Moratorium, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (slowSource) FindException(ctx context.Context, _, _ string) (*model.MoratoriumException, error) {
	return nil, ctx.Err()
}

func TestDetectFailsClosedOnTimeout(t *testing.T) {
	d := NewDetector(slowSource{}, slowSource{}, Config{
		ProximityThresholdMeters: 25,
		Timeout:                  10 * time.Millisecond,
	})

	start := time.Now()
	result, err := d.Detect(context.Background(), Request{
		Geometry: trenchLine(t),
		Window:   model.MustParseWindow("2024-03-20", "2024-04-05"),
	})

	assert.Nil(t, result)
	var evalErr *EvaluationError
	require.ErrorAs(t, err, &evalErr)
	assert.Less(t, time.Since(start), 5*time.Second)
}
