package workspace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrepareStageCleanup(t *testing.T) {
	root := filepath.Join(t.TempDir(), "temp-sourcemaps")
	m, err := New(root)
	require.NoError(t, err)

	dir, err := m.Prepare("run-1")
	require.NoError(t, err)

	src := filepath.Join(t.TempDir(), "app.js.map")
	require.NoError(t, os.WriteFile(src, []byte(`{"version":3}`), 0o644))

	staged, err := m.Stage(dir, src, "assets/app.js.map")
	require.NoError(t, err)
	data, err := os.ReadFile(staged)
	require.NoError(t, err)
	assert.Equal(t, `{"version":3}`, string(data))

	require.NoError(t, m.Cleanup(dir))
	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, m.Close())
	_, err = os.Stat(root)
	assert.True(t, os.IsNotExist(err), "root created by Prepare should be removed")
}

func TestNewDoesNotCreateRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "lazy")
	m, err := New(root)
	require.NoError(t, err)
	_, err = os.Stat(root)
	assert.True(t, os.IsNotExist(err))
	require.NoError(t, m.Close())
}

func TestNewRejectsFileRoot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(path, nil, 0o644))
	_, err := New(path)
	assert.Error(t, err)
}

func TestCloseKeepsPreexistingRoot(t *testing.T) {
	root := t.TempDir()
	m, err := New(root)
	require.NoError(t, err)
	require.NoError(t, m.Close())
	_, err = os.Stat(root)
	assert.NoError(t, err)
}

func TestCleanupRefusesOutsideRoot(t *testing.T) {
	m, err := New(t.TempDir())
	require.NoError(t, err)
	assert.Error(t, m.Cleanup(t.TempDir()))
	assert.Error(t, m.Cleanup(m.Root()))
}

func TestStageRejectsEscapingPath(t *testing.T) {
	m, err := New(t.TempDir())
	require.NoError(t, err)
	dir, err := m.Prepare("run")
	require.NoError(t, err)
	_, err = m.Stage(dir, "unused", "../../escape.map")
	assert.Error(t, err)
}

func TestNewRequiresRoot(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)
}
