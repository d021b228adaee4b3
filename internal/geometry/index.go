package geometry

import (
	"math"
	"sort"
	"sync"
)

// GridIndex is a uniform-grid spatial index over entity bounding boxes. It
// answers bounding-box queries with candidate IDs, keeping conflict checks
// from scanning every stored entity. Safe for concurrent use.
type GridIndex struct {
	cellSizeDeg float64

	mu     sync.RWMutex
	cells  map[cellKey][]string
	bboxes map[string]BBox
}

type cellKey struct {
	col, row int
}

// NewGridIndex creates a grid index with the given cell size in degrees.
// A cell size around 0.01° (~1 km) suits municipal-scale data.
func NewGridIndex(cellSizeDeg float64) *GridIndex {
	if cellSizeDeg <= 0 {
		cellSizeDeg = 0.01
	}
	return &GridIndex{
		cellSizeDeg: cellSizeDeg,
		cells:       make(map[cellKey][]string),
		bboxes:      make(map[string]BBox),
	}
}

// Insert registers an entity's bounding box, replacing any previous entry
// for the same ID.
func (g *GridIndex) Insert(id string, box BBox) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.removeLocked(id)
	g.bboxes[id] = box
	for _, key := range g.cellRange(box) {
		g.cells[key] = append(g.cells[key], id)
	}
}

// Remove deletes an entity from the index. Removing an unknown ID is a no-op.
func (g *GridIndex) Remove(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.removeLocked(id)
}

func (g *GridIndex) removeLocked(id string) {
	box, ok := g.bboxes[id]
	if !ok {
		return
	}
	for _, key := range g.cellRange(box) {
		ids := g.cells[key]
		for i, candidate := range ids {
			if candidate == id {
				g.cells[key] = append(ids[:i], ids[i+1:]...)
				break
			}
		}
		if len(g.cells[key]) == 0 {
			delete(g.cells, key)
		}
	}
	delete(g.bboxes, id)
}

// Query returns the IDs of all entities whose bounding box overlaps the
// given box, sorted and de-duplicated.
func (g *GridIndex) Query(box BBox) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	seen := make(map[string]struct{})
	var out []string
	for _, key := range g.cellRange(box) {
		for _, id := range g.cells[key] {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			if g.bboxes[id].Intersects(box) {
				out = append(out, id)
			}
		}
	}
	sort.Strings(out)
	return out
}

// Len returns the number of indexed entities.
func (g *GridIndex) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.bboxes)
}

func (g *GridIndex) cellRange(box BBox) []cellKey {
	minCol := int(math.Floor(box.MinLng / g.cellSizeDeg))
	maxCol := int(math.Floor(box.MaxLng / g.cellSizeDeg))
	minRow := int(math.Floor(box.MinLat / g.cellSizeDeg))
	maxRow := int(math.Floor(box.MaxLat / g.cellSizeDeg))

	keys := make([]cellKey, 0, (maxCol-minCol+1)*(maxRow-minRow+1))
	for col := minCol; col <= maxCol; col++ {
		for row := minRow; row <= maxRow; row++ {
			keys = append(keys, cellKey{col, row})
		}
	}
	return keys
}
