package models

import "time"

// Profile is a participant's progress record as stored remotely.
// CurrentLevel is only ever advanced server-side by the verification procedure.
type Profile struct {
	ID           string     `json:"id"`
	DisplayName  *string    `json:"display_name"`
	CurrentLevel int        `json:"current_level"`
	UpdatedAt    *time.Time `json:"updated_at"`
}

// Name returns the display name or "anon" when none is set
func (p *Profile) Name() string {
	if p == nil || p.DisplayName == nil || *p.DisplayName == "" {
		return "anon"
	}
	return *p.DisplayName
}

// Level returns a pointer to the current level, nil for a nil profile
func (p *Profile) Level() *int {
	if p == nil {
		return nil
	}
	n := p.CurrentLevel
	return &n
}

// ProfileColumns are the attributes selected for a profile row
var ProfileColumns = []string{"id", "display_name", "current_level", "updated_at"}
