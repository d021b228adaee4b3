package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/terracoord/digcheck/internal/conflict"
	"github.com/terracoord/digcheck/internal/geometry"
	"github.com/terracoord/digcheck/internal/model"
	"github.com/terracoord/digcheck/internal/store"
)

type errorResponse struct {
	Error    string   `json:"error"`
	Messages []string `json:"messages,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Error("api: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// parseGeometry decodes and validates a raw GeoJSON geometry. A
// *geometry.ValidationError is reported as 422 with its messages; other
// failures as 400.
func (s *Server) parseGeometry(w http.ResponseWriter, raw json.RawMessage) (*geometry.Normalized, bool) {
	if len(raw) == 0 {
		writeError(w, http.StatusBadRequest, "geometry is required")
		return nil, false
	}
	g, err := geometry.ParseGeoJSON(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid geojson geometry")
		return nil, false
	}
	normalized, err := s.validator.Validate(g)
	if err != nil {
		var verr *geometry.ValidationError
		if errors.As(err, &verr) {
			writeJSON(w, http.StatusUnprocessableEntity, errorResponse{
				Error:    "geometry validation failed",
				Messages: verr.Messages,
			})
			return nil, false
		}
		writeError(w, http.StatusBadRequest, "invalid geometry")
		return nil, false
	}
	return normalized, true
}

type checkRequest struct {
	Geometry         json.RawMessage `json:"geometry"`
	StartDate        string          `json:"start_date"`
	EndDate          string          `json:"end_date"`
	ExcludeProjectID string          `json:"exclude_project_id,omitempty"`
}

type checkResponse struct {
	*conflict.Result
	GeometryWarnings []string `json:"geometry_warnings,omitempty"`
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	normalized, ok := s.parseGeometry(w, req.Geometry)
	if !ok {
		return
	}
	window, err := model.ParseWindow(req.StartDate, req.EndDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid date window: expected YYYY-MM-DD with start <= end")
		return
	}

	result, err := s.detector.Detect(r.Context(), conflict.Request{
		Geometry:         normalized,
		Window:           window,
		ExcludeProjectID: req.ExcludeProjectID,
	})
	if err != nil {
		var evalErr *conflict.EvaluationError
		if errors.As(err, &evalErr) {
			writeError(w, http.StatusServiceUnavailable, evalErr.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "conflict check failed")
		return
	}

	writeJSON(w, http.StatusOK, checkResponse{
		Result:           result,
		GeometryWarnings: normalized.Warnings,
	})
}

type projectRequest struct {
	ID           string          `json:"id,omitempty"`
	Name         string          `json:"name"`
	WorkCategory string          `json:"work_category"`
	State        string          `json:"state"`
	Geometry     json.RawMessage `json:"geometry"`
	StartDate    string          `json:"start_date"`
	EndDate      string          `json:"end_date"`
}

type projectResponse struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	WorkCategory string          `json:"work_category"`
	State        string          `json:"state"`
	Geometry     json.RawMessage `json:"geometry"`
	StartDate    string          `json:"start_date"`
	EndDate      string          `json:"end_date"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

type createProjectResponse struct {
	Project          projectResponse  `json:"project"`
	Conflicts        *conflict.Result `json:"conflicts,omitempty"`
	ConflictCheck    string           `json:"conflict_check,omitempty"`
	GeometryWarnings []string         `json:"geometry_warnings,omitempty"`
}

// conflictCheckIncomplete marks a stored project whose conflict check could
// not be completed; clients must re-run the check before approval.
const conflictCheckIncomplete = "incomplete"

func projectToResponse(p *model.Project) projectResponse {
	resp := projectResponse{
		ID:           p.ID,
		Name:         p.Name,
		WorkCategory: p.WorkCategory,
		State:        string(p.State),
		StartDate:    p.Window.Start.Format("2006-01-02"),
		EndDate:      p.Window.End.Format("2006-01-02"),
		CreatedAt:    p.CreatedAt,
		UpdatedAt:    p.UpdatedAt,
	}
	if p.Geometry != nil && p.Geometry.Geom != nil {
		if data, err := geometry.MarshalGeoJSON(p.Geometry.Geom); err == nil {
			resp.Geometry = data
		}
	}
	return resp
}

// handleCreateProject registers or updates a project. Submissions in a state
// that requires a conflict check get one in the same call; its outcome is
// returned alongside the stored project but never blocks the write.
func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req projectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	state := model.ProjectState(req.State)
	if state == "" {
		state = model.StateDraft
	}

	normalized, ok := s.parseGeometry(w, req.Geometry)
	if !ok {
		return
	}
	window, err := model.ParseWindow(req.StartDate, req.EndDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid date window: expected YYYY-MM-DD with start <= end")
		return
	}

	now := time.Now().UTC()
	p := &model.Project{
		ID:           req.ID,
		Name:         req.Name,
		WorkCategory: req.WorkCategory,
		State:        state,
		Geometry:     normalized,
		Window:       window,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if p.ID == "" {
		p.ID = uuid.New().String()
	} else if existing, err := s.store.GetProject(r.Context(), p.ID); err == nil {
		p.CreatedAt = existing.CreatedAt
	}

	if err := s.store.UpsertProject(r.Context(), p); err != nil {
		zap.L().Error("api: upsert project", zap.String("id", p.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to store project")
		return
	}

	resp := createProjectResponse{
		Project:          projectToResponse(p),
		GeometryWarnings: normalized.Warnings,
	}
	if state.TriggersCheck() {
		result, err := s.detector.Detect(r.Context(), conflict.Request{
			Geometry:         normalized,
			Window:           window,
			ExcludeProjectID: p.ID,
		})
		if err != nil {
			// The project is already stored; report the degraded check
			// explicitly instead of masking the successful write with an
			// error status.
			zap.L().Warn("api: conflict check incomplete for stored project",
				zap.String("id", p.ID), zap.Error(err))
			resp.ConflictCheck = conflictCheckIncomplete
		} else {
			resp.Conflicts = result
		}
	}

	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	p, err := s.store.GetProject(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "project not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load project")
		return
	}
	writeJSON(w, http.StatusOK, projectToResponse(p))
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	filter := store.ProjectFilter{
		State:  model.ProjectState(r.URL.Query().Get("state")),
		Limit:  queryInt(r, "limit", 100),
		Offset: queryInt(r, "offset", 0),
	}
	projects, err := s.store.ListProjects(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list projects")
		return
	}
	out := make([]projectResponse, 0, len(projects))
	for i := range projects {
		out = append(out, projectToResponse(&projects[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"projects": out})
}

func (s *Server) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	err := s.store.DeleteProject(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "project not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to delete project")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type moratoriumRequest struct {
	ID           string          `json:"id,omitempty"`
	Name         string          `json:"name"`
	Geometry     json.RawMessage `json:"geometry"`
	ValidFrom    string          `json:"valid_from"`
	ValidTo      string          `json:"valid_to"`
	Reason       string          `json:"reason"`
	ReasonDetail string          `json:"reason_detail,omitempty"`
}

type moratoriumResponse struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Geometry     json.RawMessage `json:"geometry"`
	ValidFrom    string          `json:"valid_from"`
	ValidTo      string          `json:"valid_to"`
	Reason       string          `json:"reason"`
	ReasonDetail string          `json:"reason_detail,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

func moratoriumToResponse(m *model.Moratorium) moratoriumResponse {
	resp := moratoriumResponse{
		ID:           m.ID,
		Name:         m.Name,
		ValidFrom:    m.Window.Start.Format("2006-01-02"),
		ValidTo:      m.Window.End.Format("2006-01-02"),
		Reason:       m.Reason,
		ReasonDetail: m.ReasonDetail,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
	if m.Geometry != nil && m.Geometry.Geom != nil {
		if data, err := geometry.MarshalGeoJSON(m.Geometry.Geom); err == nil {
			resp.Geometry = data
		}
	}
	return resp
}

func (s *Server) handleCreateMoratorium(w http.ResponseWriter, r *http.Request) {
	var req moratoriumRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	normalized, ok := s.parseGeometry(w, req.Geometry)
	if !ok {
		return
	}
	if _, isPolygon := normalized.Geom.(*geom.Polygon); !isPolygon {
		writeError(w, http.StatusUnprocessableEntity, "moratorium geometry must be a polygon")
		return
	}
	window, err := model.ParseWindow(req.ValidFrom, req.ValidTo)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid validity window: expected YYYY-MM-DD with valid_from <= valid_to")
		return
	}

	now := time.Now().UTC()
	m := &model.Moratorium{
		ID:           req.ID,
		Name:         req.Name,
		Geometry:     normalized,
		Window:       window,
		Reason:       req.Reason,
		ReasonDetail: req.ReasonDetail,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if m.ID == "" {
		m.ID = uuid.New().String()
	}

	if err := s.store.UpsertMoratorium(r.Context(), m); err != nil {
		zap.L().Error("api: upsert moratorium", zap.String("id", m.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to store moratorium")
		return
	}
	writeJSON(w, http.StatusCreated, moratoriumToResponse(m))
}

func (s *Server) handleListMoratoriums(w http.ResponseWriter, r *http.Request) {
	moratoriums, err := s.store.ListMoratoriums(r.Context(), queryInt(r, "limit", 100), queryInt(r, "offset", 0))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list moratoriums")
		return
	}
	out := make([]moratoriumResponse, 0, len(moratoriums))
	for i := range moratoriums {
		out = append(out, moratoriumToResponse(&moratoriums[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"moratoriums": out})
}

type exceptionRequest struct {
	ProjectID     string `json:"project_id"`
	ApproverID    string `json:"approver_id"`
	Justification string `json:"justification"`
}

func (s *Server) handleRecordException(w http.ResponseWriter, r *http.Request) {
	moratoriumID := chi.URLParam(r, "id")

	var req exceptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ProjectID == "" || req.ApproverID == "" {
		writeError(w, http.StatusBadRequest, "project_id and approver_id are required")
		return
	}

	if _, err := s.store.GetMoratorium(r.Context(), moratoriumID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "moratorium not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load moratorium")
		return
	}

	e := &model.MoratoriumException{
		ID:            uuid.New().String(),
		MoratoriumID:  moratoriumID,
		ProjectID:     req.ProjectID,
		ApproverID:    req.ApproverID,
		Justification: req.Justification,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.store.RecordException(r.Context(), e); err != nil {
		zap.L().Error("api: record exception", zap.String("moratorium_id", moratoriumID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to record exception")
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

func (s *Server) handleRevokeException(w http.ResponseWriter, r *http.Request) {
	err := s.store.RevokeException(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "exception not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to revoke exception")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}
