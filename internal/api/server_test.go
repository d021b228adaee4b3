package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terracoord/digcheck/internal/conflict"
	"github.com/terracoord/digcheck/internal/geometry"
	"github.com/terracoord/digcheck/internal/model"
	"github.com/terracoord/digcheck/internal/store"
)

const trenchGeoJSON = `{"type":"LineString","coordinates":[[14.4378,50.0755],[14.438,50.0757]]}`

const zoneGeoJSON = `{"type":"Polygon","coordinates":[[[14.437,50.075],[14.439,50.075],[14.439,50.076],[14.437,50.076],[14.437,50.075]]]}`

func newTestServer(t *testing.T, st store.Store) http.Handler {
	t.Helper()
	v := geometry.NewValidator(geometry.DefaultValidatorConfig())
	src := conflict.NewStoreSource(st)
	d := conflict.NewDetector(src, src, conflict.DefaultConfig())
	return New(st, v, d, 1000, 1000).Router()
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func seedTrenchProject(t *testing.T, st store.Store, id string, state model.ProjectState) {
	t.Helper()
	v := geometry.NewValidator(geometry.DefaultValidatorConfig())
	g, err := geometry.ParseGeoJSON([]byte(trenchGeoJSON))
	require.NoError(t, err)
	n, err := v.Validate(g)
	require.NoError(t, err)
	require.NoError(t, st.UpsertProject(context.Background(), &model.Project{
		ID:       id,
		Name:     "Project " + id,
		State:    state,
		Geometry: n,
		Window:   model.MustParseWindow("2024-03-15", "2024-03-25"),
	}))
}

func TestHealthEndpoint(t *testing.T) {
	h := newTestServer(t, store.NewMemory())

	rec := doJSON(t, h, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestCheckEndpoint(t *testing.T) {
	st := store.NewMemory()
	seedTrenchProject(t, st, "p-existing", model.StateApproved)
	h := newTestServer(t, st)

	rec := doJSON(t, h, http.MethodPost, "/v1/conflicts/check", map[string]any{
		"geometry":   json.RawMessage(trenchGeoJSON),
		"start_date": "2024-03-20",
		"end_date":   "2024-04-05",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		HasConflict      bool `json:"hasConflict"`
		SpatialConflicts []struct {
			ID string `json:"id"`
		} `json:"spatialConflicts"`
		Summary struct {
			TotalConflicts    int `json:"totalConflicts"`
			CriticalConflicts int `json:"criticalConflicts"`
		} `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.HasConflict)
	require.Len(t, resp.SpatialConflicts, 1)
	assert.Equal(t, "p-existing", resp.SpatialConflicts[0].ID)
	assert.Equal(t, 1, resp.Summary.CriticalConflicts)
}

func TestCheckEndpointValidationFailure(t *testing.T) {
	h := newTestServer(t, store.NewMemory())

	rec := doJSON(t, h, http.MethodPost, "/v1/conflicts/check", map[string]any{
		"geometry":   json.RawMessage(`{"type":"Polygon","coordinates":[[[14.42,50.07],[14.43,50.07],[14.43,50.08],[14.42,50.08]]]}`),
		"start_date": "2024-03-20",
		"end_date":   "2024-04-05",
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "geometry validation failed", resp.Error)
	require.NotEmpty(t, resp.Messages)
	assert.Contains(t, resp.Messages[0], "must be closed")
}

func TestCheckEndpointBadDates(t *testing.T) {
	h := newTestServer(t, store.NewMemory())

	rec := doJSON(t, h, http.MethodPost, "/v1/conflicts/check", map[string]any{
		"geometry":   json.RawMessage(trenchGeoJSON),
		"start_date": "2024-04-05",
		"end_date":   "2024-03-20",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

type failingStore struct {
	store.Store
}

func (failingStore) ProjectsInBBox(context.Context, geometry.BBox) ([]model.Project, error) {
	return nil, eris.New("registry unavailable")
}

func TestCheckEndpointFailsClosed(t *testing.T) {
	h := newTestServer(t, failingStore{store.NewMemory()})

	rec := doJSON(t, h, http.MethodPost, "/v1/conflicts/check", map[string]any{
		"geometry":   json.RawMessage(trenchGeoJSON),
		"start_date": "2024-03-20",
		"end_date":   "2024-04-05",
	})
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp.Error, "conflict check incomplete")
}

func TestCreateProjectRunsCheck(t *testing.T) {
	st := store.NewMemory()
	seedTrenchProject(t, st, "p-existing", model.StateApproved)
	h := newTestServer(t, st)

	rec := doJSON(t, h, http.MethodPost, "/v1/projects/", map[string]any{
		"name":       "New trench",
		"state":      "pending_approval",
		"geometry":   json.RawMessage(trenchGeoJSON),
		"start_date": "2024-03-20",
		"end_date":   "2024-04-05",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp struct {
		Project struct {
			ID    string `json:"id"`
			State string `json:"state"`
		} `json:"project"`
		Conflicts *conflict.Result `json:"conflicts"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Project.ID)
	require.NotNil(t, resp.Conflicts)
	assert.True(t, resp.Conflicts.HasConflict)
	assert.Len(t, resp.Conflicts.SpatialConflicts, 1)

	// The project was stored despite the conflict.
	stored, err := st.GetProject(context.Background(), resp.Project.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatePendingApproval, stored.State)
}

func TestCreateProjectReportsIncompleteCheck(t *testing.T) {
	st := store.NewMemory()
	h := newTestServer(t, failingStore{st})

	rec := doJSON(t, h, http.MethodPost, "/v1/projects/", map[string]any{
		"name":       "New trench",
		"state":      "pending_approval",
		"geometry":   json.RawMessage(trenchGeoJSON),
		"start_date": "2024-03-20",
		"end_date":   "2024-04-05",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp struct {
		Project struct {
			ID string `json:"id"`
		} `json:"project"`
		Conflicts     *conflict.Result `json:"conflicts"`
		ConflictCheck string           `json:"conflict_check"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Project.ID)
	assert.Nil(t, resp.Conflicts)
	assert.Equal(t, "incomplete", resp.ConflictCheck)

	// The write succeeded and must not be retried blindly.
	stored, err := st.GetProject(context.Background(), resp.Project.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatePendingApproval, stored.State)
}

func TestCreateProjectApprovedStateSkipsCheck(t *testing.T) {
	st := store.NewMemory()
	seedTrenchProject(t, st, "p-existing", model.StateApproved)
	h := newTestServer(t, st)

	rec := doJSON(t, h, http.MethodPost, "/v1/projects/", map[string]any{
		"name":       "Approved already",
		"state":      "approved",
		"geometry":   json.RawMessage(trenchGeoJSON),
		"start_date": "2024-03-20",
		"end_date":   "2024-04-05",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp struct {
		Conflicts *conflict.Result `json:"conflicts"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Nil(t, resp.Conflicts)
}

func TestGetProjectNotFound(t *testing.T) {
	h := newTestServer(t, store.NewMemory())

	rec := doJSON(t, h, http.MethodGet, "/v1/projects/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateMoratoriumRequiresPolygon(t *testing.T) {
	h := newTestServer(t, store.NewMemory())

	rec := doJSON(t, h, http.MethodPost, "/v1/moratoriums/", map[string]any{
		"name":       "Bad zone",
		"geometry":   json.RawMessage(trenchGeoJSON),
		"valid_from": "2024-01-01",
		"valid_to":   "2024-12-31",
		"reason":     model.ReasonFreshPavement,
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestMoratoriumExceptionFlow(t *testing.T) {
	st := store.NewMemory()
	h := newTestServer(t, st)

	rec := doJSON(t, h, http.MethodPost, "/v1/moratoriums/", map[string]any{
		"name":       "Pavement zone",
		"geometry":   json.RawMessage(zoneGeoJSON),
		"valid_from": "2024-01-01",
		"valid_to":   "2024-12-31",
		"reason":     model.ReasonFreshPavement,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var created moratoriumResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = doJSON(t, h, http.MethodPost, "/v1/moratoriums/"+created.ID+"/exceptions", map[string]any{
		"project_id":    "p-new",
		"approver_id":   "coordinator-7",
		"justification": "emergency gas repair",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var exc model.MoratoriumException
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &exc))
	assert.True(t, exc.Active())

	// With the exception on file, the check reports no violation.
	rec = doJSON(t, h, http.MethodPost, "/v1/conflicts/check", map[string]any{
		"geometry":           json.RawMessage(trenchGeoJSON),
		"start_date":         "2024-03-20",
		"end_date":           "2024-04-05",
		"exclude_project_id": "p-new",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var check conflict.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &check))
	assert.False(t, check.HasConflict)

	// Revoking it brings the violation back.
	rec = doJSON(t, h, http.MethodDelete, "/v1/exceptions/"+exc.ID, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/v1/conflicts/check", map[string]any{
		"geometry":           json.RawMessage(trenchGeoJSON),
		"start_date":         "2024-03-20",
		"end_date":           "2024-04-05",
		"exclude_project_id": "p-new",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &check))
	assert.True(t, check.HasConflict)
	assert.Len(t, check.MoratoriumViolations, 1)
}

func TestRecordExceptionUnknownMoratorium(t *testing.T) {
	h := newTestServer(t, store.NewMemory())

	rec := doJSON(t, h, http.MethodPost, "/v1/moratoriums/missing/exceptions", map[string]any{
		"project_id":  "p1",
		"approver_id": "coordinator-7",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCheckEndpointRateLimited(t *testing.T) {
	st := store.NewMemory()
	v := geometry.NewValidator(geometry.DefaultValidatorConfig())
	src := conflict.NewStoreSource(st)
	d := conflict.NewDetector(src, src, conflict.DefaultConfig())
	h := New(st, v, d, 1, 2).Router()

	statuses := make([]int, 0, 4)
	for i := 0; i < 4; i++ {
		rec := doJSON(t, h, http.MethodPost, "/v1/conflicts/check", map[string]any{
			"geometry":   json.RawMessage(trenchGeoJSON),
			"start_date": "2024-03-20",
			"end_date":   "2024-04-05",
		})
		statuses = append(statuses, rec.Code)
	}

	assert.Equal(t, http.StatusOK, statuses[0])
	assert.Equal(t, http.StatusOK, statuses[1])
	assert.Contains(t, statuses, http.StatusTooManyRequests)

	// Other routes are not limited.
	rec := doJSON(t, h, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestProjectListPagination(t *testing.T) {
	st := store.NewMemory()
	for i := 0; i < 3; i++ {
		seedTrenchProject(t, st, fmt.Sprintf("p%d", i), model.StateApproved)
	}
	h := newTestServer(t, st)

	rec := doJSON(t, h, http.MethodGet, "/v1/projects/?limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Projects []projectResponse `json:"projects"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Projects, 2)
}
