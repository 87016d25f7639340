package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildSelectSQL(t *testing.T) {
	q := From("profiles", "id", "current_level").
		OrderBy("current_level", true).
		OrderBy("updated_at", false).
		WithLimit(100)

	sql, args := buildSelectSQL(q)
	assert.Equal(t, `SELECT "id", "current_level" FROM "profiles" ORDER BY "current_level" DESC, "updated_at" ASC LIMIT $1`, sql)
	assert.Equal(t, []any{100}, args)
}

func TestBuildSelectSQLWithFilter(t *testing.T) {
	q := From("levels", "id", "level_number").Eq("level_number", 3).WithLimit(2)

	sql, args := buildSelectSQL(q)
	assert.Equal(t, `SELECT "id", "level_number" FROM "levels" WHERE "level_number" = $1 LIMIT $2`, sql)
	assert.Equal(t, []any{3, 2}, args)
}

func TestBuildCallSQL(t *testing.T) {
	sql, values, err := buildCallSQL("verify_answer", map[string]any{
		"p_level_number": 4,
		"p_attempt":      "foobar",
	})
	require.NoError(t, err)
	assert.Equal(t, `SELECT * FROM "verify_answer"("p_attempt" => $1, "p_level_number" => $2)`, sql)
	assert.Equal(t, []any{"foobar", 4}, values)

	_, _, err = buildCallSQL("verify_answer", map[string]any{"bad name": 1})
	assert.ErrorIs(t, err, ErrInvalidQuery)
}
