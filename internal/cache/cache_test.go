package cache

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"attendance_srv/internal/storage"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRemote serves objects from memory and counts transfers.
type fakeRemote struct {
	mu        sync.Mutex
	objects   map[string][]byte
	downloads int32
	// gate, when set, blocks Download until closed
	gate chan struct{}
	// failAfter writes that many bytes and then fails
	failAfter int
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{objects: map[string][]byte{}}
}

func (r *fakeRemote) put(key string, data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.objects[key] = data
}

func (r *fakeRemote) Download(ctx context.Context, key string, w io.Writer) (int64, error) {
	atomic.AddInt32(&r.downloads, 1)
	if r.gate != nil {
		select {
		case <-r.gate:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}

	r.mu.Lock()
	data, ok := r.objects[key]
	r.mu.Unlock()
	if !ok {
		return 0, storage.ErrObjectNotFound
	}

	if r.failAfter > 0 {
		n, _ := w.Write(data[:r.failAfter])
		return int64(n), errors.New("connection reset")
	}
	n, err := w.Write(data)
	return int64(n), err
}

func (r *fakeRemote) GetPresignedURL(ctx context.Context, key string, expiration time.Duration) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.objects[key]; !ok {
		return "", storage.ErrObjectNotFound
	}
	return "https://example.test/" + key + "?expires=" + expiration.String(), nil
}

func setupFetcher(t *testing.T, remote Remote, maxAge time.Duration) *Fetcher {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)
	logger.SetOutput(io.Discard)

	f, err := New(remote, Options{Dir: t.TempDir(), MaxAge: maxAge, Logger: logger})
	require.NoError(t, err)
	return f
}

func tempFiles(t *testing.T, dir string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, "*"+tempSuffix))
	require.NoError(t, err)
	return matches
}

const dailyKey = "reports/daily/2026-02-21.pdf"

func TestFetchMissThenHit(t *testing.T) {
	remote := newFakeRemote()
	remote.put(dailyKey, []byte("%PDF-1.4 daily"))
	f := setupFetcher(t, remote, 0)

	first, err := f.Get(context.Background(), dailyKey)
	require.NoError(t, err)
	assert.False(t, first.Hit)
	assert.Equal(t, filepath.Join(f.Dir(), "reports_daily_2026-02-21.pdf"), first.Path)

	data, err := os.ReadFile(first.Path)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4 daily", string(data))

	second, err := f.Fetch(context.Background(), dailyKey)
	require.NoError(t, err)
	assert.Equal(t, first.Path, second)
	assert.Equal(t, int32(1), atomic.LoadInt32(&remote.downloads))
	assert.Empty(t, tempFiles(t, f.Dir()))
}

func TestFetchMissingObject(t *testing.T) {
	remote := newFakeRemote()
	f := setupFetcher(t, remote, 0)

	_, err := f.Fetch(context.Background(), dailyKey)
	require.Error(t, err)

	var retrievalErr *RetrievalError
	require.ErrorAs(t, err, &retrievalErr)
	assert.Equal(t, dailyKey, retrievalErr.Key)
	assert.ErrorIs(t, err, storage.ErrObjectNotFound)

	assert.NoFileExists(t, f.Path(dailyKey))
	assert.Empty(t, tempFiles(t, f.Dir()))
}

func TestFetchInterruptedTransfer(t *testing.T) {
	remote := newFakeRemote()
	remote.put(dailyKey, []byte("%PDF-1.4 truncated body"))
	remote.failAfter = 5
	f := setupFetcher(t, remote, 0)

	_, err := f.Fetch(context.Background(), dailyKey)
	var retrievalErr *RetrievalError
	require.ErrorAs(t, err, &retrievalErr)

	assert.NoFileExists(t, f.Path(dailyKey))
	assert.Empty(t, tempFiles(t, f.Dir()))
}

func TestFetchEmptyObject(t *testing.T) {
	remote := newFakeRemote()
	remote.put(dailyKey, []byte{})
	f := setupFetcher(t, remote, 0)

	_, err := f.Fetch(context.Background(), dailyKey)
	assert.ErrorIs(t, err, ErrEmptyObject)
	assert.NoFileExists(t, f.Path(dailyKey))
}

func TestZeroLengthEntryIsMiss(t *testing.T) {
	remote := newFakeRemote()
	remote.put(dailyKey, []byte("%PDF-1.4 fresh"))
	f := setupFetcher(t, remote, 0)

	require.NoError(t, os.WriteFile(f.Path(dailyKey), nil, 0o644))

	entry, err := f.Get(context.Background(), dailyKey)
	require.NoError(t, err)
	assert.False(t, entry.Hit)
	assert.Equal(t, int64(len("%PDF-1.4 fresh")), entry.Size)
	assert.Equal(t, int32(1), atomic.LoadInt32(&remote.downloads))
}

func TestFailedMissRemovesZeroLengthEntry(t *testing.T) {
	f := setupFetcher(t, newFakeRemote(), 0)
	require.NoError(t, os.WriteFile(f.Path(dailyKey), nil, 0o644))

	_, err := f.Fetch(context.Background(), dailyKey)
	require.Error(t, err)
	assert.NoFileExists(t, f.Path(dailyKey))
}

func TestConcurrentFetchSharesTransfer(t *testing.T) {
	remote := newFakeRemote()
	remote.put(dailyKey, []byte("%PDF-1.4 shared"))
	remote.gate = make(chan struct{})
	f := setupFetcher(t, remote, 0)

	const callers = 8
	var wg sync.WaitGroup
	paths := make([]string, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			paths[i], errs[i] = f.Fetch(context.Background(), dailyKey)
		}(i)
	}

	// Let the goroutines reach the in-flight call before releasing it.
	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&remote.downloads) == 1
	}, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(remote.gate)
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, f.Path(dailyKey), paths[i])
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&remote.downloads))
}

func TestCancelledCallerDoesNotFailSharedTransfer(t *testing.T) {
	remote := newFakeRemote()
	remote.put(dailyKey, []byte("%PDF-1.4 shared"))
	remote.gate = make(chan struct{})
	f := setupFetcher(t, remote, 0)

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := f.Fetch(ctxA, dailyKey)
		errA <- err
	}()
	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&remote.downloads) == 1
	}, time.Second, 5*time.Millisecond)

	type result struct {
		path string
		err  error
	}
	resB := make(chan result, 1)
	go func() {
		path, err := f.Fetch(context.Background(), dailyKey)
		resB <- result{path, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelA()
	err := <-errA
	var retrievalErr *RetrievalError
	require.ErrorAs(t, err, &retrievalErr)
	assert.ErrorIs(t, err, context.Canceled)

	close(remote.gate)
	b := <-resB
	require.NoError(t, b.err)
	assert.Equal(t, f.Path(dailyKey), b.path)
	assert.FileExists(t, b.path)
	assert.Equal(t, int32(1), atomic.LoadInt32(&remote.downloads))
}

func TestDownloadTimeoutBoundsSharedTransfer(t *testing.T) {
	remote := newFakeRemote()
	remote.put(dailyKey, []byte("%PDF-1.4 slow"))
	remote.gate = make(chan struct{})
	defer close(remote.gate)

	f, err := New(remote, Options{Dir: t.TempDir(), DownloadTimeout: 20 * time.Millisecond})
	require.NoError(t, err)

	_, err = f.Fetch(context.Background(), dailyKey)
	var retrievalErr *RetrievalError
	require.ErrorAs(t, err, &retrievalErr)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NoFileExists(t, f.Path(dailyKey))
	assert.Empty(t, tempFiles(t, f.Dir()))
}

func TestMaxAgeExpiresEntries(t *testing.T) {
	remote := newFakeRemote()
	remote.put(dailyKey, []byte("%PDF-1.4 v1"))
	f := setupFetcher(t, remote, time.Hour)

	_, err := f.Fetch(context.Background(), dailyKey)
	require.NoError(t, err)

	entry, err := f.Get(context.Background(), dailyKey)
	require.NoError(t, err)
	assert.True(t, entry.Hit)

	remote.put(dailyKey, []byte("%PDF-1.4 v2"))
	f.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	entry, err = f.Get(context.Background(), dailyKey)
	require.NoError(t, err)
	assert.False(t, entry.Hit)

	data, err := os.ReadFile(entry.Path)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4 v2", string(data))
	assert.Equal(t, int32(2), atomic.LoadInt32(&remote.downloads))
}

func TestInvalidate(t *testing.T) {
	remote := newFakeRemote()
	remote.put(dailyKey, []byte("%PDF-1.4"))
	f := setupFetcher(t, remote, 0)

	_, err := f.Fetch(context.Background(), dailyKey)
	require.NoError(t, err)

	existed, err := f.Invalidate(dailyKey)
	require.NoError(t, err)
	assert.True(t, existed)
	assert.NoFileExists(t, f.Path(dailyKey))

	existed, err = f.Invalidate(dailyKey)
	require.NoError(t, err)
	assert.False(t, existed)

	_, err = f.Fetch(context.Background(), dailyKey)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&remote.downloads))
}

func TestSweepTemp(t *testing.T) {
	f := setupFetcher(t, newFakeRemote(), 0)
	orphan := f.Path(dailyKey) + ".abc" + tempSuffix
	require.NoError(t, os.WriteFile(orphan, []byte("partial"), 0o644))
	require.NoError(t, os.WriteFile(f.Path("reports/daily/2026-02-20.pdf"), []byte("%PDF"), 0o644))

	removed, err := f.SweepTemp()
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.NoFileExists(t, orphan)
	assert.FileExists(t, f.Path("reports/daily/2026-02-20.pdf"))
}

func TestRemoteURL(t *testing.T) {
	remote := newFakeRemote()
	remote.put(dailyKey, []byte("%PDF"))
	f := setupFetcher(t, remote, 0)

	u, err := f.RemoteURL(context.Background(), dailyKey)
	require.NoError(t, err)
	assert.Contains(t, u, dailyKey)

	_, err = f.RemoteURL(context.Background(), "reports/daily/1999-01-01.pdf")
	var retrievalErr *RetrievalError
	require.ErrorAs(t, err, &retrievalErr)
	assert.ErrorIs(t, err, storage.ErrObjectNotFound)
	assert.Equal(t, int32(0), atomic.LoadInt32(&remote.downloads))
}

func TestFetchWithLocalStorage(t *testing.T) {
	bucket := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(bucket, "reports", "weekly"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(bucket, "reports", "weekly", "2025-W01.pdf"), []byte("%PDF weekly"), 0o644))

	store, err := storage.NewLocalStorage(bucket, nil)
	require.NoError(t, err)
	f := setupFetcher(t, store, 0)

	path, err := f.Fetch(context.Background(), "reports/weekly/2025-W01.pdf")
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "%PDF weekly", string(data))
}
