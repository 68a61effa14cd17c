package osutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "out.json")

	exists, err := Exists(path)
	require.NoError(t, err)
	require.False(t, exists)

	require.NoError(t, WriteFileAtomic(path, []byte("first"), 0644))
	require.NoError(t, WriteFileAtomic(path, []byte("second"), 0644))

	contents, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "second", string(contents))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1)

	exists, err = Exists(path)
	require.NoError(t, err)
	require.True(t, exists)
}
