package watcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testBackends 在各平台的 _test 文件里补充平台专属实现
var testBackends = map[string]Backend{
	"fsnotify": FsnotifyBackend{},
	"notify":   NotifyBackend{},
}

func waitEvent(t *testing.T, h Handle) {
	t.Helper()
	select {
	case <-h.Events():
	case err := <-h.Errors():
		t.Fatalf("backend error: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for backend event")
	}
}

func TestBackendsReportChanges(t *testing.T) {
	for name, backend := range testBackends {
		t.Run(name, func(t *testing.T) {
			testDir := t.TempDir()
			h, err := backend.Open(testDir, Modified)
			require.NoError(t, err)

			filePath := filepath.Join(testDir, "test.txt")
			require.NoError(t, os.WriteFile(filePath, []byte("hello"), 0o644))
			waitEvent(t, h)

			require.NoError(t, h.Close())
			require.NoError(t, h.Close(), "closing twice is harmless")
		})
	}
}

func TestBackendsReportRemoval(t *testing.T) {
	for name, backend := range testBackends {
		t.Run(name, func(t *testing.T) {
			testDir := t.TempDir()
			filePath := filepath.Join(testDir, "old.txt")
			require.NoError(t, os.WriteFile(filePath, []byte("bye"), 0o644))

			h, err := backend.Open(testDir, Remove)
			require.NoError(t, err)
			defer h.Close()

			require.NoError(t, os.Remove(filePath))
			waitEvent(t, h)
		})
	}
}

func TestBackendsRejectMissingPath(t *testing.T) {
	for name, backend := range testBackends {
		t.Run(name, func(t *testing.T) {
			_, err := backend.Open(filepath.Join(t.TempDir(), "missing"), Modified)
			assert.Error(t, err)
		})
	}
}

func TestFsnotifyBackendFiltersOps(t *testing.T) {
	testDir := t.TempDir()
	filePath := filepath.Join(testDir, "test.txt")
	require.NoError(t, os.WriteFile(filePath, []byte("hello"), 0o644))

	h, err := FsnotifyBackend{}.Open(testDir, Remove)
	require.NoError(t, err)
	defer h.Close()

	require.NoError(t, os.WriteFile(filePath, []byte("changed"), 0o644))
	select {
	case <-h.Events():
		t.Fatal("write must not be reported when only Remove is tracked")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestNotifyBackendRejectsChmodOnly(t *testing.T) {
	_, err := NotifyBackend{}.Open(t.TempDir(), Chmod)
	assert.Error(t, err)
}

func TestOpString(t *testing.T) {
	assert.Equal(t, "NONE", Op(0).String())
	assert.Equal(t, "WRITE", Write.String())
	assert.Equal(t, "CREATE|WRITE|REMOVE|RENAME", Modified.String())
	assert.Equal(t, "CREATE|WRITE|REMOVE|RENAME|CHMOD", All.String())
}

func TestFromFsnotify(t *testing.T) {
	assert.Equal(t, Create|Write, fromFsnotify(fsnotify.Create|fsnotify.Write))
	assert.Equal(t, Chmod, fromFsnotify(fsnotify.Chmod))
	assert.True(t, Modified.Has(fromFsnotify(fsnotify.Rename)))
	assert.False(t, Modified.Has(fromFsnotify(fsnotify.Chmod)))
}
