package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gdg-hunt/cryptic-hunt/internal/models"
)

// Table and procedure names in the remote store
const (
	profilesTable = "profiles"
	levelsTable   = "levels"
	verifyAnswer  = "verify_answer"
	ensureProfile = "ensure_profile"
)

// Repository is the typed view of the remote store used by the hunt
type Repository struct {
	backend Backend
}

// NewRepository wraps a backend
func NewRepository(backend Backend) *Repository {
	return &Repository{backend: backend}
}

// GetProfile returns the profile with the given id, or nil when none exists
func (r *Repository) GetProfile(ctx context.Context, id string) (*models.Profile, error) {
	q := From(profilesTable, models.ProfileColumns...).Eq("id", id)
	profile, err := MaybeSingle[models.Profile](ctx, r.backend, q)
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return profile, nil
}

// GetLevel returns the level with the given number, or nil when none exists
func (r *Repository) GetLevel(ctx context.Context, levelNumber int) (*models.Level, error) {
	q := From(levelsTable, models.LevelColumns...).Eq("level_number", levelNumber)
	level, err := MaybeSingle[models.Level](ctx, r.backend, q)
	if err != nil {
		return nil, fmt.Errorf("failed to get level: %w", err)
	}
	return level, nil
}

// Leaderboard returns the top entries, highest level first, earlier solver first on ties
func (r *Repository) Leaderboard(ctx context.Context, limit int) ([]models.LeaderboardEntry, error) {
	q := From(profilesTable, models.ProfileColumns...).
		OrderBy("current_level", true).
		OrderBy("updated_at", false).
		WithLimit(limit)

	entries, err := SelectInto[models.LeaderboardEntry](ctx, r.backend, q)
	if err != nil {
		return nil, fmt.Errorf("failed to load leaderboard: %w", err)
	}
	return entries, nil
}

// EnsureProfile creates the participant's profile at the starting level if it
// does not exist yet. An existing profile is left untouched.
func (r *Repository) EnsureProfile(ctx context.Context, id, displayName string) error {
	_, err := r.backend.Call(ctx, ensureProfile, map[string]any{
		"p_id":           id,
		"p_display_name": displayName,
	})
	if err != nil {
		return fmt.Errorf("failed to ensure profile: %w", err)
	}
	return nil
}

// VerifyAnswer asks the remote procedure to judge an attempt. The attempt must
// already be normalized. The caller in ctx, if any, is the participant whose
// level advances on a correct answer.
func (r *Repository) VerifyAnswer(ctx context.Context, levelNumber int, attempt string) ([]models.VerificationResult, error) {
	args := map[string]any{
		"p_level_number": levelNumber,
		"p_attempt":      attempt,
	}
	if caller, ok := CallerFromContext(ctx); ok {
		args["p_user_id"] = caller.UserID
	}

	raw, err := r.backend.Call(ctx, verifyAnswer, args)
	if err != nil {
		return nil, fmt.Errorf("failed to verify answer: %w", err)
	}

	var results []models.VerificationResult
	if err := json.Unmarshal(raw, &results); err != nil {
		return nil, fmt.Errorf("failed to decode verification result: %w", err)
	}
	return results, nil
}

// Ping checks backend connectivity
func (r *Repository) Ping(ctx context.Context) error {
	return r.backend.Ping(ctx)
}

// Close releases the backend
func (r *Repository) Close() error {
	return r.backend.Close()
}
