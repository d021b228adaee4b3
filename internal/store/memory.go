package store

import (
	"context"
	"sort"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/terracoord/digcheck/internal/geometry"
	"github.com/terracoord/digcheck/internal/model"
)

// MemoryStore is an in-memory Store backed by grid spatial indexes. Used in
// tests and the single-process dev setup. Stored entities are treated as
// immutable: callers must not mutate a project or moratorium after handing
// it to the store.
type MemoryStore struct {
	mu sync.RWMutex

	projects    map[string]model.Project
	moratoriums map[string]model.Moratorium
	exceptions  map[exceptionKey]model.MoratoriumException

	projectIndex    *geometry.GridIndex
	moratoriumIndex *geometry.GridIndex
}

// exceptionKey enforces one exception record per (moratorium, project) pair,
// matching the unique constraint the SQL stores carry.
type exceptionKey struct {
	moratoriumID string
	projectID    string
}

// NewMemory creates an empty in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		projects:        make(map[string]model.Project),
		moratoriums:     make(map[string]model.Moratorium),
		exceptions:      make(map[exceptionKey]model.MoratoriumException),
		projectIndex:    geometry.NewGridIndex(0.01),
		moratoriumIndex: geometry.NewGridIndex(0.01),
	}
}

func (s *MemoryStore) UpsertProject(_ context.Context, p *model.Project) error {
	if p == nil || p.ID == "" {
		return eris.New("memory: project id is required")
	}
	if p.Geometry == nil || p.Geometry.Geom == nil {
		return eris.New("memory: project geometry is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projects[p.ID] = *p
	s.projectIndex.Insert(p.ID, p.Geometry.BBox())
	return nil
}

func (s *MemoryStore) GetProject(_ context.Context, id string) (*model.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[id]
	if !ok {
		return nil, eris.Wrapf(ErrNotFound, "memory: project %s", id)
	}
	return &p, nil
}

func (s *MemoryStore) ListProjects(_ context.Context, filter ProjectFilter) ([]model.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Project
	for _, p := range s.projects {
		if filter.State != "" && p.State != filter.State {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return paginate(out, filter.Limit, filter.Offset), nil
}

func (s *MemoryStore) DeleteProject(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[id]; !ok {
		return eris.Wrapf(ErrNotFound, "memory: project %s", id)
	}
	delete(s.projects, id)
	s.projectIndex.Remove(id)
	return nil
}

func (s *MemoryStore) ProjectsInBBox(_ context.Context, box geometry.BBox) ([]model.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.projectIndex.Query(box)
	out := make([]model.Project, 0, len(ids))
	for _, id := range ids {
		if p, ok := s.projects[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *MemoryStore) UpsertMoratorium(_ context.Context, m *model.Moratorium) error {
	if m == nil || m.ID == "" {
		return eris.New("memory: moratorium id is required")
	}
	if m.Geometry == nil || m.Geometry.Geom == nil {
		return eris.New("memory: moratorium geometry is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.moratoriums[m.ID] = *m
	s.moratoriumIndex.Insert(m.ID, m.Geometry.BBox())
	return nil
}

func (s *MemoryStore) GetMoratorium(_ context.Context, id string) (*model.Moratorium, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.moratoriums[id]
	if !ok {
		return nil, eris.Wrapf(ErrNotFound, "memory: moratorium %s", id)
	}
	return &m, nil
}

func (s *MemoryStore) ListMoratoriums(_ context.Context, limit, offset int) ([]model.Moratorium, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Moratorium, 0, len(s.moratoriums))
	for _, m := range s.moratoriums {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return paginate(out, limit, offset), nil
}

func (s *MemoryStore) MoratoriumsInBBox(_ context.Context, box geometry.BBox) ([]model.Moratorium, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.moratoriumIndex.Query(box)
	out := make([]model.Moratorium, 0, len(ids))
	for _, id := range ids {
		if m, ok := s.moratoriums[id]; ok {
			out = append(out, m)
		}
	}
	return out, nil
}

// RecordException upserts by (moratorium, project): regranting an exception
// replaces any earlier record for the pair, revoked or not.
func (s *MemoryStore) RecordException(_ context.Context, e *model.MoratoriumException) error {
	if e == nil || e.ID == "" {
		return eris.New("memory: exception id is required")
	}
	if e.MoratoriumID == "" || e.ProjectID == "" {
		return eris.New("memory: exception moratorium id and project id are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exceptions[exceptionKey{e.MoratoriumID, e.ProjectID}] = *e
	return nil
}

func (s *MemoryStore) RevokeException(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, e := range s.exceptions {
		if e.ID == id {
			e.Revoked = true
			s.exceptions[key] = e
			return nil
		}
	}
	return eris.Wrapf(ErrNotFound, "memory: exception %s", id)
}

func (s *MemoryStore) Exception(_ context.Context, moratoriumID, projectID string) (*model.MoratoriumException, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.exceptions[exceptionKey{moratoriumID, projectID}]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (s *MemoryStore) Migrate(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

func paginate[T any](items []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
