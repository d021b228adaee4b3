// Package conflict implements the deterministic conflict detection engine:
// spatial proximity against candidate projects, temporal overlap filtering,
// and moratorium violation checks, combined into a single classified result.
package conflict

import (
	"github.com/terracoord/digcheck/internal/model"
)

const dateLayout = "2006-01-02"

// ProjectRef is the caller-facing shape of a conflicting project.
type ProjectRef struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	StartDate    string `json:"start_date"`
	EndDate      string `json:"end_date"`
	WorkCategory string `json:"work_category"`
}

// MoratoriumRef is the caller-facing shape of a violated moratorium.
type MoratoriumRef struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	ValidTo      string `json:"validTo"`
	Reason       string `json:"reason"`
	ReasonDetail string `json:"reasonDetail,omitempty"`
	Exceptions   string `json:"exceptions,omitempty"`
}

// Summary holds the derived conflict counts. Never mutated independently of
// the slices it summarizes.
type Summary struct {
	TotalConflicts    int `json:"totalConflicts"`
	CriticalConflicts int `json:"criticalConflicts"`
	Warnings          int `json:"warnings"`
}

// Result is the outcome of one conflict detection request. It is created
// fresh per request and never persisted or mutated after return.
type Result struct {
	HasConflict          bool            `json:"hasConflict"`
	SpatialConflicts     []ProjectRef    `json:"spatialConflicts"`
	TemporalConflicts    []ProjectRef    `json:"temporalConflicts"`
	MoratoriumViolations []MoratoriumRef `json:"moratoriumViolations"`
	Summary              Summary         `json:"summary"`
}

func projectRef(p model.Project) ProjectRef {
	return ProjectRef{
		ID:           p.ID,
		Name:         p.Name,
		StartDate:    p.Window.Start.Format(dateLayout),
		EndDate:      p.Window.End.Format(dateLayout),
		WorkCategory: p.WorkCategory,
	}
}

func moratoriumRef(m model.Moratorium) MoratoriumRef {
	return MoratoriumRef{
		ID:           m.ID,
		Name:         m.Name,
		ValidTo:      m.Window.End.Format(dateLayout),
		Reason:       m.Reason,
		ReasonDetail: m.ReasonDetail,
		Exceptions:   m.Exceptions,
	}
}

// buildResult derives a Result from the classified conflict sets. Temporal
// conflicts are a subset of spatial conflicts and are not double-counted;
// moratorium violations come from a separate entity set and count
// independently.
func buildResult(spatial, temporal []model.Project, violations []model.Moratorium) *Result {
	r := &Result{
		SpatialConflicts:     make([]ProjectRef, 0, len(spatial)),
		TemporalConflicts:    make([]ProjectRef, 0, len(temporal)),
		MoratoriumViolations: make([]MoratoriumRef, 0, len(violations)),
	}
	for _, p := range spatial {
		r.SpatialConflicts = append(r.SpatialConflicts, projectRef(p))
	}
	for _, p := range temporal {
		r.TemporalConflicts = append(r.TemporalConflicts, projectRef(p))
	}
	for _, m := range violations {
		r.MoratoriumViolations = append(r.MoratoriumViolations, moratoriumRef(m))
	}

	r.Summary = Summary{
		TotalConflicts:    len(spatial) + len(violations),
		CriticalConflicts: len(temporal) + len(violations),
		Warnings:          len(spatial) - len(temporal),
	}
	r.HasConflict = r.Summary.TotalConflicts > 0
	return r
}
