package errorlog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xorwow/serial-pdf/internal/config"
)

func newTestStore(t *testing.T, maxFiles, pruneExtra int) (*Store, string) {
	t.Helper()
	root := t.TempDir()
	store, err := NewStore(root, config.ErrorLogConfig{MaxFiles: maxFiles, PruneExtra: pruneExtra}, nil)
	require.NoError(t, err)
	return store, root
}

// seedLogs creates n log files with strictly increasing modification times,
// oldest first.
func seedLogs(t *testing.T, root string, n int) []string {
	t.Helper()
	base := time.Now().Add(-time.Duration(n) * time.Minute)
	names := make([]string, 0, n)
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("JOB%08d.log", i)
		path := filepath.Join(root, name)
		require.NoError(t, os.WriteFile(path, []byte("log"), 0o644))
		stamp := base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, os.Chtimes(path, stamp, stamp))
		names = append(names, name)
	}
	return names
}

func countLogs(t *testing.T, root string) int {
	t.Helper()
	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	count := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			count++
		}
	}
	return count
}

func TestWriteReturnsRelativeName(t *testing.T) {
	store, root := newTestStore(t, 50, 5)

	name, err := store.Write(context.Background(), "AB12CD34EF56", "! Some error.\n")
	require.NoError(t, err)

	assert.Equal(t, "AB12CD34EF56.log", name)
	assert.Equal(t, filepath.Join(root, name), store.Path(name))

	content, err := os.ReadFile(store.Path(name))
	require.NoError(t, err)
	assert.Equal(t, "! Some error.\n", string(content))
}

func TestPruneBelowThresholdKeepsEverything(t *testing.T) {
	store, root := newTestStore(t, 3, 2)
	seedLogs(t, root, 5)

	removed, err := store.Prune(context.Background())
	require.NoError(t, err)

	assert.Zero(t, removed)
	assert.Equal(t, 5, countLogs(t, root))
}

func TestPruneRemovesOldestDownToMax(t *testing.T) {
	store, root := newTestStore(t, 3, 2)
	names := seedLogs(t, root, 6)

	removed, err := store.Prune(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, removed)
	assert.Equal(t, 3, countLogs(t, root))
	for _, gone := range names[:3] {
		assert.NoFileExists(t, filepath.Join(root, gone))
	}
	for _, kept := range names[3:] {
		assert.FileExists(t, filepath.Join(root, kept))
	}
}

func TestPruneIgnoresDirectories(t *testing.T) {
	store, root := newTestStore(t, 1, 0)
	require.NoError(t, os.Mkdir(filepath.Join(root, "nested"), 0o755))
	seedLogs(t, root, 2)

	removed, err := store.Prune(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, removed)
	assert.DirExists(t, filepath.Join(root, "nested"))
}

func TestWriteTriggersPrune(t *testing.T) {
	store, root := newTestStore(t, 2, 1)
	seedLogs(t, root, 3)

	_, err := store.Write(context.Background(), "NEWESTJOB123", "boom")
	require.NoError(t, err)

	assert.Equal(t, 2, countLogs(t, root))
	assert.FileExists(t, filepath.Join(root, "NEWESTJOB123.log"))
}
