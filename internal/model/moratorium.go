package model

import (
	"time"

	"github.com/terracoord/digcheck/internal/geometry"
)

// Moratorium is a geographically and temporally bounded no-dig zone.
type Moratorium struct {
	ID           string               `json:"id"`
	Name         string               `json:"name"`
	Geometry     *geometry.Normalized `json:"-"`
	Window       Window               `json:"window"`
	Reason       string               `json:"reason"`
	ReasonDetail string               `json:"reason_detail,omitempty"`
	Exceptions   string               `json:"exceptions,omitempty"`
	CreatedAt    time.Time            `json:"created_at"`
	UpdatedAt    time.Time            `json:"updated_at"`
}

// Moratorium reason codes.
const (
	ReasonFreshPavement  = "fresh_pavement"
	ReasonEventZone      = "event_zone"
	ReasonWinterService  = "winter_service"
	ReasonHeritageSite   = "heritage_site"
	ReasonUtilityEmbargo = "utility_embargo"
)

// MoratoriumException is a recorded coordinator override permitting one
// project to proceed despite an otherwise-blocking moratorium violation.
type MoratoriumException struct {
	ID            string    `json:"id"`
	MoratoriumID  string    `json:"moratorium_id"`
	ProjectID     string    `json:"project_id"`
	ApproverID    string    `json:"approver_id"`
	Justification string    `json:"justification"`
	Revoked       bool      `json:"revoked"`
	CreatedAt     time.Time `json:"created_at"`
}

// Active reports whether the exception still suppresses a violation.
func (e *MoratoriumException) Active() bool {
	return e != nil && !e.Revoked
}
