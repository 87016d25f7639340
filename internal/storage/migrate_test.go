package storage

import (
	"os"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPendingMigrations(t *testing.T) {
	fsys := fstest.MapFS{
		"002_b.sql": {Data: []byte("select 2")},
		"001_a.sql": {Data: []byte("select 1")},
		"003_c.sql": {Data: []byte("select 3")},
		"README.md": {Data: []byte("notes")},
		"sub/x.sql": {Data: []byte("select 4")},
	}

	pending, err := pendingMigrations(fsys, map[string]bool{"002_b.sql": true})
	require.NoError(t, err)
	assert.Equal(t, []string{"001_a.sql", "003_c.sql"}, pending)
}

func TestRepositoryMigrationsParse(t *testing.T) {
	pending, err := pendingMigrations(os.DirFS("../../migrations"), nil)
	require.NoError(t, err)
	assert.Contains(t, pending, "001_hunt.sql")
}
