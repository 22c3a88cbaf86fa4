package commands

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunGC_NothingToPruneUnderRetention(t *testing.T) {
	t.Setenv("IGNORE_DIRTY", "1")

	base := t.TempDir()

	err := runGC("", base)
	require.NoError(t, err)
}

func TestRunGC_PrunesExcessVersionedDirs(t *testing.T) {
	t.Setenv("IGNORE_DIRTY", "1")

	base := t.TempDir()

	for i := 0; i < 5; i++ {
		require.NoError(t, os.MkdirAll(filepath.Join(base, "old"+string(rune('a'+i))), 0o755))
	}

	err := runGC("", base)
	require.NoError(t, err)

	entries, err := os.ReadDir(base)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(entries), 2)
}
