package utils

import (
	"crypto/tls"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildSQLiteDSN(t *testing.T) {
	assert.Equal(t, "file:data/app.db?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_txlock=immediate", BuildSQLiteDSN("data/app.db"))
	assert.Contains(t, BuildSQLiteDSN(":memory:"), "file::memory:?")
}

func TestOpenSQLiteEnablesForeignKeys(t *testing.T) {
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "nested", "app.db"))
	require.NoError(t, err)
	defer db.Close()
	var on int
	require.NoError(t, db.QueryRow("PRAGMA foreign_keys").Scan(&on))
	assert.Equal(t, 1, on)
	assert.Equal(t, 1, db.Stats().MaxOpenConnections)
}

func TestOpenRedis(t *testing.T) {
	assert.Nil(t, OpenRedis("", "", 0))
	rc := OpenRedis("127.0.0.1:6379", "", 2)
	require.NotNil(t, rc)
	assert.Equal(t, 2, rc.Options().DB)
	_ = rc.Close()
}

func TestOpenRedisFromEnv(t *testing.T) {
	t.Setenv("REDIS_HOST", "10.0.0.5")
	t.Setenv("REDIS_PORT", "6380")
	t.Setenv("REDIS_DB", "3")
	rc := OpenRedisFromEnv()
	require.NotNil(t, rc)
	assert.Equal(t, "10.0.0.5:6380", rc.Options().Addr)
	assert.Equal(t, 3, rc.Options().DB)
	_ = rc.Close()

	t.Setenv("REDIS_DB", "bad")
	rc = OpenRedisFromEnv()
	assert.Equal(t, 0, rc.Options().DB)
	_ = rc.Close()
}

func TestEnsureSelfSignedCert(t *testing.T) {
	dir := t.TempDir()
	cert, key := filepath.Join(dir, "certs", "server.crt"), filepath.Join(dir, "certs", "server.key")

	require.NoError(t, EnsureSelfSignedCert(cert, key, "overture-lists.local"))
	_, err := tls.LoadX509KeyPair(cert, key)
	require.NoError(t, err)

	before, err := os.ReadFile(cert)
	require.NoError(t, err)
	require.NoError(t, EnsureSelfSignedCert(cert, key, "other"))
	after, err := os.ReadFile(cert)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}
