package project

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDBDir(base string) func(ProjectIdentity) string {
	return func(id ProjectIdentity) string {
		return filepath.Join(base, id.ID)
	}
}

func TestResolve_FallsBackToCwdWithoutVCSMarker(t *testing.T) {
	// Given: a plain directory with no .git/.hg/.svn
	dir := t.TempDir()
	r := NewRegistry(nil, testDBDir(t.TempDir()))

	// When: resolving it
	identity, handle, err := r.Resolve(context.Background(), dir)

	// Then: it resolves to the directory itself
	require.NoError(t, err)
	assert.NotEmpty(t, identity.ID)
	require.NotNil(t, handle)
}

func TestResolve_IsCachedAcrossCalls(t *testing.T) {
	dir := t.TempDir()
	r := NewRegistry(nil, testDBDir(t.TempDir()))

	id1, h1, err := r.Resolve(context.Background(), dir)
	require.NoError(t, err)
	id2, h2, err := r.Resolve(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, id1.ID, id2.ID)
	assert.Same(t, h1, h2)
}

func TestResolve_FindsMercurialMarkerUpward(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, ".hg"), 0o755))
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	r := NewRegistry(nil, testDBDir(t.TempDir()))
	identity, _, err := r.Resolve(context.Background(), nested)
	require.NoError(t, err)

	rootResolved, _ := filepath.EvalSymlinks(root)
	identityResolved, _ := filepath.EvalSymlinks(identity.Path)
	assert.Equal(t, rootResolved, identityResolved)
}

func TestHandle_WatcherStartStopIsIdempotent(t *testing.T) {
	h := &Handle{}

	assert.True(t, h.StartWatcher())
	assert.False(t, h.StartWatcher()) // already running
	assert.True(t, h.StopWatcher())
	assert.False(t, h.StopWatcher()) // already stopped
}

func TestHandle_BindSession(t *testing.T) {
	h := &Handle{}
	assert.False(t, h.HasSession("sess-1"))
	h.BindSession("sess-1")
	assert.True(t, h.HasSession("sess-1"))
}
