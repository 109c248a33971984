package storage

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLocal(t *testing.T, objects map[string]string) *LocalStorage {
	t.Helper()
	dir := t.TempDir()
	for key, content := range objects {
		path := filepath.Join(dir, filepath.FromSlash(key))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}

	store, err := NewLocalStorage(dir, setupTestLogger())
	require.NoError(t, err)
	return store
}

func TestLocalDownload(t *testing.T) {
	store := newTestLocal(t, map[string]string{"reports/daily/2024-03-05.pdf": "%PDF local"})
	ctx := context.Background()

	var buf bytes.Buffer
	n, err := store.Download(ctx, "reports/daily/2024-03-05.pdf", &buf)
	require.NoError(t, err)
	assert.Equal(t, int64(10), n)
	assert.Equal(t, "%PDF local", buf.String())

	_, err = store.Download(ctx, "reports/daily/2024-03-06.pdf", &buf)
	assert.ErrorIs(t, err, ErrObjectNotFound)
}

func TestLocalExistsAndURL(t *testing.T) {
	store := newTestLocal(t, map[string]string{"reports/weekly/2024-W10.pdf": "x"})
	ctx := context.Background()

	ok, err := store.Exists(ctx, "reports/weekly/2024-W10.pdf")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Exists(ctx, "reports/weekly")
	require.NoError(t, err)
	assert.False(t, ok)

	u, err := store.GetPresignedURL(ctx, "reports/weekly/2024-W10.pdf", time.Minute)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(u, "file://"))
	assert.True(t, strings.HasSuffix(u, "reports/weekly/2024-W10.pdf"))

	_, err = store.GetPresignedURL(ctx, "reports/weekly/2024-W11.pdf", time.Minute)
	assert.ErrorIs(t, err, ErrObjectNotFound)
}

func TestLocalList(t *testing.T) {
	store := newTestLocal(t, map[string]string{
		"reports/daily/2024-03-05.pdf": "a",
		"reports/daily/2024-03-06.pdf": "bb",
		"reports/weekly/2024-W10.pdf":  "c",
	})

	files, err := store.List(context.Background(), "reports/daily/")
	require.NoError(t, err)
	require.Len(t, files, 2)

	keys := []string{files[0].Key, files[1].Key}
	assert.ElementsMatch(t, []string{"reports/daily/2024-03-05.pdf", "reports/daily/2024-03-06.pdf"}, keys)
}
