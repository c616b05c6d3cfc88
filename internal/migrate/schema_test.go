package migrate

import (
	"path/filepath"
	"testing"

	"overture-lists/internal/logger"
	"overture-lists/internal/utils"

	"github.com/stretchr/testify/require"
)

func TestEnsureSchemaIsIdempotent(t *testing.T) {
	logger.Set(logger.Discard())
	db, err := utils.OpenSQLite(filepath.Join(t.TempDir(), "app.db"))
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, EnsureSchema(db))
	require.NoError(t, EnsureSchema(db))

	for _, table := range []string{"divisions", "lists", "list_divisions", "list_clients", "crm_mappings", "relationships"} {
		var n int
		err := db.QueryRow("SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&n)
		require.NoError(t, err)
		require.Equal(t, 1, n, table)
	}
}

func TestDropSchema(t *testing.T) {
	logger.Set(logger.Discard())
	db, err := utils.OpenSQLite(filepath.Join(t.TempDir(), "app.db"))
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, EnsureSchema(db))
	require.NoError(t, DropSchema(db))

	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='lists'").Scan(&n))
	require.Zero(t, n)
}
