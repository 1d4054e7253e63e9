package trust

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func realDir(t *testing.T) string {
	t.Helper()

	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	return dir
}

func TestTrustPersistsSortedDirectories(t *testing.T) {
	stateDir := realDir(t)
	base := realDir(t)
	store := NewStore(stateDir, "", nil)

	zeta := filepath.Join(base, "zeta")
	alpha := filepath.Join(base, "alpha")

	got, err := store.Trust(zeta)
	require.NoError(t, err)
	assert.Equal(t, zeta, got)
	_, err = store.Trust(alpha)
	require.NoError(t, err)

	assert.Equal(t, []string{alpha, zeta}, store.TrustedDirectories())

	content, err := os.ReadFile(filepath.Join(stateDir, fileName))
	require.NoError(t, err)
	var data fileFormat
	require.NoError(t, json.Unmarshal(content, &data))
	assert.Equal(t, []string{alpha, zeta}, data.Directories)

	reloaded := NewStore(stateDir, "", nil)
	assert.Equal(t, []string{alpha, zeta}, reloaded.TrustedDirectories())
}

func TestRevokeIsIdempotent(t *testing.T) {
	store := NewStore(realDir(t), "", nil)
	dir := filepath.Join(realDir(t), "project")

	_, err := store.Trust(dir)
	require.NoError(t, err)

	removed, err := store.Revoke(dir)
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = store.Revoke(dir)
	require.NoError(t, err)
	assert.False(t, removed)
	assert.Empty(t, store.TrustedDirectories())
}

func TestIsTrustedCoversWorkspaceAndSubdirectories(t *testing.T) {
	ws := realDir(t)
	other := realDir(t)
	store := NewStore(realDir(t), ws, nil)

	assert.True(t, store.IsTrusted(filepath.Join(ws, "notes.md")))
	assert.False(t, store.IsTrusted(filepath.Join(other, "src", "main.go")))

	_, err := store.Trust(other)
	require.NoError(t, err)
	assert.True(t, store.IsTrusted(filepath.Join(other, "src", "main.go")))
}

func TestCorruptFileYieldsEmptyStore(t *testing.T) {
	stateDir := realDir(t)
	require.NoError(t, os.WriteFile(filepath.Join(stateDir, fileName), []byte("{not json"), 0o600))

	store := NewStore(stateDir, "", nil)
	assert.Empty(t, store.TrustedDirectories())
}

func TestTrustTargetUnderHome(t *testing.T) {
	home := realDir(t)
	t.Setenv("HOME", home)

	target, err := TrustTarget(filepath.Join(home, "Downloads", "project", "file.txt"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "Downloads"), target)
}
