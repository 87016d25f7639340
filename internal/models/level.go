package models

import (
	"fmt"
	"time"
)

// Level is one puzzle, addressed by LevelNumber
type Level struct {
	ID               int64      `json:"id"`
	LevelNumber      int        `json:"level_number"`
	Title            *string    `json:"title"`
	QuestionText     *string    `json:"question_text"`
	QuestionImageURL *string    `json:"question_image_url"`
	UpdatedAt        *time.Time `json:"updated_at"`
}

// DisplayTitle falls back to "level N" when the level has no title
func (l *Level) DisplayTitle() string {
	if l.Title != nil && *l.Title != "" {
		return *l.Title
	}
	return fmt.Sprintf("level %d", l.LevelNumber)
}

// LevelColumns are the attributes selected for a level row
var LevelColumns = []string{"id", "level_number", "title", "question_text", "question_image_url", "updated_at"}

// VerificationResult is one element of the verification procedure's result set
type VerificationResult struct {
	IsCorrect bool `json:"is_correct"`
	NextLevel *int `json:"next_level"`
}
