package models

import "time"

// LeaderboardEntry is a read-only ranking row
type LeaderboardEntry struct {
	ID           string     `json:"id"`
	DisplayName  *string    `json:"display_name"`
	CurrentLevel int        `json:"current_level"`
	UpdatedAt    *time.Time `json:"updated_at"`
}

// Name returns the display name or "anon" when none is set
func (e LeaderboardEntry) Name() string {
	if e.DisplayName == nil || *e.DisplayName == "" {
		return "anon"
	}
	return *e.DisplayName
}

// LeaderboardSnapshot is the state of a leaderboard loader at one point in time
type LeaderboardSnapshot struct {
	Entries []LeaderboardEntry `json:"entries"`
	Loading bool               `json:"loading"`
	Error   string             `json:"error,omitempty"`
}

// Empty reports a settled, successful load with no rows
func (s LeaderboardSnapshot) Empty() bool {
	return !s.Loading && s.Error == "" && len(s.Entries) == 0
}
