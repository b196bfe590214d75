package session

import (
	"errors"
	"time"

	"geoattend/internal/geo"
)

// DefaultRadiusM is the acceptance radius applied when a lecturer does not
// choose one.
const DefaultRadiusM = 50.0

var (
	ErrNotFound  = errors.New("session not found")
	ErrNotOwner  = errors.New("session belongs to another lecturer")
	ErrNotActive = errors.New("session is not active")
	ErrBadRadius = errors.New("radius must be a positive number of meters")
)

// Session is one lecture attendance window, anchored to the coordinate
// captured when the lecturer started it.
type Session struct {
	ID           string         `json:"id"`
	CourseID     string         `json:"course_id"`
	LecturerID   string         `json:"lecturer_id"`
	StartedAt    time.Time      `json:"started_at"`
	IsActive     bool           `json:"is_active"`
	Anchor       geo.Coordinate `json:"anchor"`
	RadiusM      float64        `json:"radius_m"`
	CurrentToken string         `json:"current_token,omitempty"`
}
